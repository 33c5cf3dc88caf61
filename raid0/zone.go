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

import (
	"github.com/pkg/errors"
)

// Disk describes a member of the striped array.
// Capacity is counted in sectors, Index is the configured slot of the disk (0..n-1).
type Disk struct {
	ID       string
	Capacity uint64
	Index    int
}

// Zone is a contiguous range of the logical volume striped across a fixed subset of disks.
type Zone struct {
	// Offset is the first logical sector of the zone (zone_offset)
	Offset uint64
	// Size is the zone length in sectors, summed over all contributing disks
	Size uint64
	// DevOffset is the sector on every contributing disk where the zone starts
	DevOffset uint64
	// Devices holds slot indexes of contributing disks in configured order
	Devices []int
}

// NbDev returns the number of disks striped in the zone.
func (z *Zone) NbDev() int {
	return len(z.Devices)
}

// End returns the first logical sector past the zone.
func (z *Zone) End() uint64 {
	return z.Offset + z.Size
}

// PerDevice returns how many sectors each contributing disk holds for this zone.
func (z *Zone) PerDevice() uint64 {
	return z.Size / uint64(len(z.Devices))
}

// Contains reports whether a logical sector belongs to the zone.
func (z *Zone) Contains(sector uint64) bool {
	return sector >= z.Offset && sector < z.End()
}

// countZones returns the number of distinct capacities in the member set.
// A zone ends exactly where the capacity of one or more disks is exhausted.
func countZones(disks []Disk) int {
	count := 0
	for i := range disks {
		seen := false
		for j := 0; j < i; j++ {
			if disks[j].Capacity == disks[i].Capacity {
				seen = true
				break
			}
		}

		if !seen {
			count++
		}
	}

	return count
}

// CreateStripZones partitions the disks (indexed by slot) into zones of uniform per-disk
// contribution. It returns the zone table ordered by logical offset and the index of the
// first zone with minimal size.
func CreateStripZones(disks []Disk) ([]Zone, int, error) {
	if len(disks) == 0 {
		return nil, 0, errors.Wrap(ErrInvalidGeometry, "no member disks")
	}

	for i, disk := range disks {
		if disk.Capacity == 0 {
			return nil, 0, errors.Wrapf(ErrInvalidGeometry, "disk %q in slot %d has no capacity", disk.ID, i)
		}
	}

	zones := make([]Zone, countZones(disks))
	smallest := -1

	var currentOffset, curZoneOffset uint64

	for i := range zones {
		zone := &zones[i]
		zone.DevOffset = currentOffset
		zone.Devices = make([]int, 0, len(disks))

		var smallestDisk *Disk
		for j := range disks {
			disk := &disks[j]
			if disk.Capacity <= currentOffset {
				continue
			}

			zone.Devices = append(zone.Devices, j)
			if smallestDisk == nil || disk.Capacity < smallestDisk.Capacity {
				smallestDisk = disk
			}
		}

		if smallestDisk == nil {
			return nil, 0, errors.Wrapf(ErrCorruptGeometry, "zone %d has no member disks", i)
		}

		zone.Size = (smallestDisk.Capacity - currentOffset) * uint64(len(zone.Devices))
		zone.Offset = curZoneOffset

		if smallest < 0 || zone.Size < zones[smallest].Size {
			smallest = i
		}

		curZoneOffset += zone.Size
		currentOffset = smallestDisk.Capacity
	}

	return zones, smallest, nil
}
