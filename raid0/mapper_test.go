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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConf(t *testing.T, chunk uint64, capacities ...uint64) *Conf {
	t.Helper()

	conf, err := New(context.Background(), makeDisks(capacities...), chunk, WithName(t.Name()))
	require.NoError(t, err)

	return conf
}

func TestMapTwoDisks(t *testing.T) {
	conf := newTestConf(t, 10, 100, 60)

	zones := conf.Zones()
	require.Len(t, zones, 2)
	assert.Equal(t, Zone{Offset: 0, Size: 120, DevOffset: 0, Devices: []int{0, 1}}, zones[0])
	assert.Equal(t, Zone{Offset: 120, Size: 40, DevOffset: 60, Devices: []int{0}}, zones[1])

	req := &Request{Sector: 130, Length: 1}
	require.NoError(t, conf.Map(req))

	assert.Equal(t, 0, req.Disk)
	assert.Equal(t, "disk0", req.DiskID)
	assert.EqualValues(t, 70, req.Target)
	assert.EqualValues(t, 130, req.Sector, "logical sector must not be rewritten")
	assert.EqualValues(t, 1, req.Length)
}

func TestMapEqualDisks(t *testing.T) {
	conf := newTestConf(t, 5, 50, 50, 50)
	require.Len(t, conf.Zones(), 1)

	req := &Request{Sector: 12, Length: 1}
	require.NoError(t, conf.Map(req))

	assert.Equal(t, 2, req.Disk)
	assert.EqualValues(t, 2, req.Target)
}

func TestMapZoneBoundary(t *testing.T) {
	// zone0 = [0,140) on both disks, zone1 = [140,170) on disk0, bucket 4 straddles
	conf := newTestConf(t, 10, 100, 70)

	buckets := conf.Buckets()
	require.True(t, buckets[4].Straddles())

	last := &Request{Sector: 139, Length: 1}
	require.NoError(t, conf.Map(last))
	assert.Equal(t, 1, last.Disk)
	assert.EqualValues(t, 69, last.Target)

	first := &Request{Sector: 140, Length: 1}
	require.NoError(t, conf.Map(first))
	assert.Equal(t, 0, first.Disk)
	assert.EqualValues(t, 70, first.Target)
}

func TestMapRoundTrip(t *testing.T) {
	cases := []struct {
		chunk      uint64
		capacities []uint64
	}{
		{chunk: 10, capacities: []uint64{100, 60}},
		{chunk: 10, capacities: []uint64{100, 70}},
		{chunk: 5, capacities: []uint64{50, 50, 50}},
		{chunk: 10, capacities: []uint64{30, 20, 10}},
		{chunk: 4, capacities: []uint64{36, 8, 20, 20, 64}},
		{chunk: 8, capacities: []uint64{1000, 1008, 1024}},
		{chunk: 3, capacities: []uint64{7}},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%v", tc.chunk, tc.capacities), func(t *testing.T) {
			conf := newTestConf(t, tc.chunk, tc.capacities...)

			seen := make(map[[2]uint64]uint64)
			for sector := uint64(0); sector < conf.Size(); sector++ {
				req := &Request{Sector: sector, Length: 1}
				require.NoError(t, conf.Map(req))

				again := &Request{Sector: sector, Length: 1}
				require.NoError(t, conf.Map(again))
				assert.Equal(t, req, again, "mapping must be idempotent")

				key := [2]uint64{uint64(req.Disk), req.Target}
				if prev, ok := seen[key]; ok {
					t.Fatalf("sectors %d and %d both map to disk %d sector %d", prev, sector, req.Disk, req.Target)
				}
				seen[key] = sector

				assert.Less(t, req.Target, conf.Disks()[req.Disk].Capacity)

				logical, err := conf.Unmap(req.Disk, req.Target)
				require.NoError(t, err)
				assert.Equal(t, sector, logical)
			}
		})
	}
}

func TestMapWholeChunk(t *testing.T) {
	conf := newTestConf(t, 8, 64, 64)

	req := &Request{Sector: 16, Length: 8}
	require.NoError(t, conf.Map(req))
	assert.Equal(t, 0, req.Disk)
	assert.EqualValues(t, 8, req.Target)
}

func TestMapInvalidRequest(t *testing.T) {
	conf := newTestConf(t, 10, 100, 60)

	cases := []struct {
		Name string
		Req  Request
	}{
		{Name: "empty", Req: Request{Sector: 5, Length: 0}},
		{Name: "beyond end", Req: Request{Sector: 160, Length: 1}},
		{Name: "tail beyond end", Req: Request{Sector: 159, Length: 2}},
		{Name: "crosses chunk", Req: Request{Sector: 8, Length: 4}},
		{Name: "bigger than chunk", Req: Request{Sector: 0, Length: 11}},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			req := tc.Req
			err := conf.Map(&req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, tc.Req, req, "rejected request must be left untouched")
		})
	}
}

func TestMapCorruptBucket(t *testing.T) {
	conf := newTestConf(t, 10, 100, 70)

	geo := *conf.geo.Load()
	geo.buckets = append([]Bucket(nil), geo.buckets...)
	geo.buckets[4] = singleBucket(0)
	conf.geo.Store(&geo)

	err := conf.Map(&Request{Sector: 145, Length: 1})
	assert.ErrorIs(t, err, ErrMappingCorrupt)

	// sectors still inside zone0 resolve fine
	assert.NoError(t, conf.Map(&Request{Sector: 125, Length: 1}))

	geo.buckets = geo.buckets[:3]
	err = conf.Map(&Request{Sector: 100, Length: 1})
	assert.ErrorIs(t, err, ErrMappingCorrupt)
}

func TestMapCorruptBucketStrict(t *testing.T) {
	conf, err := New(context.Background(), makeDisks(100, 70), 10, WithStrictChecks())
	require.NoError(t, err)

	geo := *conf.geo.Load()
	geo.buckets = append([]Bucket(nil), geo.buckets...)
	geo.buckets[4] = singleBucket(0)
	conf.geo.Store(&geo)

	assert.Panics(t, func() {
		_ = conf.Map(&Request{Sector: 145, Length: 1})
	})
}

func TestUnmapInvalid(t *testing.T) {
	conf := newTestConf(t, 10, 100, 60)

	// disk1 doesn't contribute to zone1
	_, err := conf.Unmap(1, 70)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = conf.Unmap(0, 100)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = conf.Unmap(5, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
