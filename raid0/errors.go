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

package raid0

import "github.com/pkg/errors"

var (
	// ErrInvalidGeometry is returned when the member set or chunk size can't form an array.
	ErrInvalidGeometry = errors.New("invalid array geometry")

	// ErrCorruptGeometry is returned when the zone or bucket tables violate their invariants.
	ErrCorruptGeometry = errors.New("corrupt array geometry")

	// ErrNoMemory is returned when the bucket table would exceed the configured limit.
	ErrNoMemory = errors.New("can't allocate zone tables")

	// ErrInvalidRequest is returned for requests the block layer should have split or rejected.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMappingCorrupt is returned when a request can't be resolved to a zone.
	ErrMappingCorrupt = errors.New("request mapping inconsistency")

	// ErrStopped is returned by Map once the array has been torn down.
	ErrStopped = errors.New("array is stopped")
)
