// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://aws.amazon.com/apache2.0/
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package blocklayer

import "github.com/firecracker-microvm/stripevol/raid0"

// Split cuts the sector range [sector, sector+length) at chunk boundaries, so every returned
// request can be handed to the mapper as is.
func Split(sector, length, chunk uint64) []raid0.Request {
	if length == 0 || chunk == 0 {
		return nil
	}

	var (
		end  = sector + length
		reqs = make([]raid0.Request, 0, length/chunk+2)
	)

	for sector < end {
		next := (sector/chunk + 1) * chunk
		if next > end {
			next = end
		}

		reqs = append(reqs, raid0.Request{Sector: sector, Length: next - sector})
		sector = next
	}

	return reqs
}
