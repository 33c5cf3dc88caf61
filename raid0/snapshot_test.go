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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotPinsGeometry(t *testing.T) {
	conf := newTestConf(t, 10, 100, 60)

	snap, err := conf.Snapshot()
	require.NoError(t, err)

	// swap the slots and change the chunk size underneath the snapshot
	swapped := []Disk{
		{ID: "disk0", Capacity: 100, Index: 1},
		{ID: "disk1", Capacity: 60, Index: 0},
	}
	err = conf.Reconfigure(context.Background(), swapped, 20)
	require.NoError(t, err)

	req := Request{Sector: 130, Length: 1}
	require.NoError(t, snap.Map(&req))
	assert.Equal(t, "disk0", req.DiskID)
	assert.EqualValues(t, 70, req.Target)

	assert.EqualValues(t, 10, snap.ChunkSectors())
	assert.EqualValues(t, 160, snap.Size())
	assert.Equal(t, "disk1", snap.Disks()[1].ID)

	// the array itself maps against the new geometry
	req = Request{Sector: 0, Length: 1}
	require.NoError(t, conf.Map(&req))
	assert.Equal(t, "disk1", req.DiskID)
	assert.EqualValues(t, 20, conf.ChunkSectors())

	conf.Stop()

	req = Request{Sector: 0, Length: 1}
	require.NoError(t, snap.Map(&req), "a snapshot outlives Stop")
	assert.Equal(t, "disk0", req.DiskID)

	_, err = conf.Snapshot()
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSnapshotDisksReturnsCopy(t *testing.T) {
	conf := newTestConf(t, 8, 64, 64)

	snap, err := conf.Snapshot()
	require.NoError(t, err)

	disks := snap.Disks()
	disks[0].ID = "changed"

	assert.Equal(t, "disk0", snap.Disks()[0].ID)
}
