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

// Snapshot pins one assembled geometry of an array. Requests mapped through the same
// snapshot agree on chunk size, zones and slots even if the array is reconfigured or
// stopped meanwhile.
type Snapshot struct {
	conf *Conf
	geo  *geometry
}

// Snapshot returns the current geometry, or ErrStopped.
func (c *Conf) Snapshot() (*Snapshot, error) {
	geo := c.geo.Load()
	if geo == nil {
		return nil, ErrStopped
	}

	return &Snapshot{conf: c, geo: geo}, nil
}

// Map resolves the request against the pinned geometry, see Conf.Map.
func (s *Snapshot) Map(req *Request) error {
	return s.conf.mapRequest(s.geo, req)
}

// Disks returns member disks ordered by slot.
func (s *Snapshot) Disks() []Disk {
	return append([]Disk(nil), s.geo.disks...)
}

// ChunkSectors returns the interleave unit in sectors.
func (s *Snapshot) ChunkSectors() uint64 {
	return s.geo.chunk
}

// Size returns the logical volume size in sectors.
func (s *Snapshot) Size() uint64 {
	return s.geo.size
}
