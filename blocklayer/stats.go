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

import "sync/atomic"

// Stats counts requests passing through a volume.
type Stats struct {
	requests    atomic.Uint64
	pieces      atomic.Uint64
	mapFailures atomic.Uint64
	ioFailures  atomic.Uint64
}

// StatsSnapshot is a point in time copy of Stats.
type StatsSnapshot struct {
	Requests    uint64 `json:"requests"`
	Pieces      uint64 `json:"pieces"`
	MapFailures uint64 `json:"map_failures"`
	IOFailures  uint64 `json:"io_failures"`
}

// Snapshot returns current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requests:    s.requests.Load(),
		Pieces:      s.pieces.Load(),
		MapFailures: s.mapFailures.Load(),
		IOFailures:  s.ioFailures.Load(),
	}
}
