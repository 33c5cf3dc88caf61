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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDisks(capacities ...uint64) []Disk {
	disks := make([]Disk, len(capacities))
	for i, capacity := range capacities {
		disks[i] = Disk{
			ID:       fmt.Sprintf("disk%d", i),
			Capacity: capacity,
			Index:    i,
		}
	}

	return disks
}

func TestCreateStripZonesTwoDisks(t *testing.T) {
	zones, smallest, err := CreateStripZones(makeDisks(100, 60))
	require.NoError(t, err)
	require.Len(t, zones, 2)

	assert.Equal(t, Zone{Offset: 0, Size: 120, DevOffset: 0, Devices: []int{0, 1}}, zones[0])
	assert.Equal(t, Zone{Offset: 120, Size: 40, DevOffset: 60, Devices: []int{0}}, zones[1])
	assert.Equal(t, 1, smallest)
}

func TestCreateStripZonesEqualDisks(t *testing.T) {
	zones, smallest, err := CreateStripZones(makeDisks(50, 50, 50))
	require.NoError(t, err)
	require.Len(t, zones, 1)

	assert.Equal(t, 3, zones[0].NbDev())
	assert.EqualValues(t, 150, zones[0].Size)
	assert.Equal(t, 0, smallest)
}

func TestCreateStripZonesSingleDisk(t *testing.T) {
	zones, smallest, err := CreateStripZones(makeDisks(42))
	require.NoError(t, err)
	require.Len(t, zones, 1)

	assert.Equal(t, Zone{Offset: 0, Size: 42, DevOffset: 0, Devices: []int{0}}, zones[0])
	assert.Equal(t, 0, smallest)
}

func TestCreateStripZonesKeepsSlotOrder(t *testing.T) {
	zones, _, err := CreateStripZones(makeDisks(10, 30, 20, 30))
	require.NoError(t, err)
	require.Len(t, zones, 3)

	assert.Equal(t, []int{0, 1, 2, 3}, zones[0].Devices)
	assert.Equal(t, []int{1, 2, 3}, zones[1].Devices)
	assert.Equal(t, []int{1, 3}, zones[2].Devices)

	assert.EqualValues(t, 40, zones[0].Size)
	assert.EqualValues(t, 30, zones[1].Size)
	assert.EqualValues(t, 20, zones[2].Size)
	assert.EqualValues(t, 20, zones[2].DevOffset)
}

func TestCreateStripZonesCoverage(t *testing.T) {
	cases := [][]uint64{
		{100, 60},
		{50, 50, 50},
		{10, 20, 30, 40},
		{40, 30, 20, 10},
		{70, 10, 70, 10, 500},
		{8, 16, 16, 1024, 8},
		{1},
	}

	for _, capacities := range cases {
		capacities := capacities
		t.Run(fmt.Sprint(capacities), func(t *testing.T) {
			zones, smallest, err := CreateStripZones(makeDisks(capacities...))
			require.NoError(t, err)
			require.Len(t, zones, countZones(makeDisks(capacities...)))

			var total, next uint64
			for _, capacity := range capacities {
				total += capacity
			}

			for i, zone := range zones {
				assert.Equalf(t, next, zone.Offset, "zone %d must start where zone %d ends", i, i-1)
				assert.GreaterOrEqual(t, zone.NbDev(), 1)
				assert.LessOrEqual(t, zones[smallest].Size, zone.Size)
				assert.Zero(t, zone.Size%uint64(zone.NbDev()))
				next = zone.End()
			}

			assert.Equal(t, total, next, "zones must cover every sector of every disk")
		})
	}
}

func TestCreateStripZonesInvalid(t *testing.T) {
	_, _, err := CreateStripZones(nil)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, _, err = CreateStripZones(makeDisks(10, 0))
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestCountZones(t *testing.T) {
	assert.Equal(t, 1, countZones(makeDisks(5, 5, 5)))
	assert.Equal(t, 3, countZones(makeDisks(5, 6, 5, 7, 6)))
	assert.Equal(t, 0, countZones(nil))
}
