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
	"sync"
	"sync/atomic"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultMaxBuckets = 1 << 24

// geometry is the immutable result of an assembly. Requests map against a snapshot of it
// without taking any lock.
type geometry struct {
	disks    []Disk
	zones    []Zone
	buckets  []Bucket
	smallest int
	unit     uint64
	chunk    uint64
	size     uint64
}

// Conf is an assembled striped array. It owns the zone and bucket tables; member disks are
// referenced by slot and owned by the caller.
type Conf struct {
	name       string
	strict     bool
	maxBuckets uint64
	logger     *logrus.Entry

	// mu serialises reconfiguration, geo is read lock-free by Map
	mu  sync.Mutex
	geo atomic.Pointer[geometry]
}

// Opt configures optional array parameters.
type Opt func(c *Conf)

// WithName sets the array name used in log entries.
func WithName(name string) Opt {
	return func(c *Conf) {
		c.name = name
	}
}

// WithStrictChecks makes mapping inconsistencies panic instead of failing the request.
// Meant for tests and debug builds.
func WithStrictChecks() Opt {
	return func(c *Conf) {
		c.strict = true
	}
}

// WithMaxBuckets limits the size of the bucket table. Assembly fails with ErrNoMemory if the
// geometry needs more buckets.
func WithMaxBuckets(n uint64) Opt {
	return func(c *Conf) {
		c.maxBuckets = n
	}
}

// New assembles an array from the given member disks and chunk size (both in sectors).
// Disk capacities are rounded down to a whole number of chunks.
func New(ctx context.Context, disks []Disk, chunkSectors uint64, opts ...Opt) (*Conf, error) {
	c := &Conf{
		name:       "raid0",
		maxBuckets: defaultMaxBuckets,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = log.G(ctx).WithField("array", c.name)

	if err := c.Reconfigure(ctx, disks, chunkSectors); err != nil {
		return nil, err
	}

	return c, nil
}

// Reconfigure rebuilds zone and bucket tables for a new member set. Requests mapped
// concurrently see either the old or the new geometry, never a mix.
func (c *Conf) Reconfigure(ctx context.Context, disks []Disk, chunkSectors uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	geo, err := c.assemble(ctx, disks, chunkSectors)
	if err != nil {
		return errors.Wrapf(err, "failed to assemble array %q", c.name)
	}

	c.geo.Store(geo)
	return nil
}

// Stop tears the array down. Subsequent requests fail with ErrStopped.
func (c *Conf) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.geo.Store(nil)
	c.logger.Info("array stopped")
}

func (c *Conf) assemble(ctx context.Context, disks []Disk, chunk uint64) (*geometry, error) {
	logger := log.G(ctx).WithField("array", c.name)

	if chunk == 0 {
		return nil, errors.Wrap(ErrInvalidGeometry, "chunk size must be non zero")
	}

	slots, err := slotDisks(disks)
	if err != nil {
		return nil, err
	}

	for i := range slots {
		rounded := slots[i].Capacity - slots[i].Capacity%chunk
		if rounded == 0 {
			return nil, errors.Wrapf(ErrInvalidGeometry,
				"disk %q (%d sectors) is smaller than one chunk (%d sectors)", slots[i].ID, slots[i].Capacity, chunk)
		}

		if rounded != slots[i].Capacity {
			logger.Debugf("disk %q rounded down from %d to %d sectors", slots[i].ID, slots[i].Capacity, rounded)
			slots[i].Capacity = rounded
		}
	}

	zones, smallest, err := CreateStripZones(slots)
	if err != nil {
		return nil, err
	}

	for i, zone := range zones {
		logger.WithFields(logrus.Fields{
			"zone":        i,
			"nb_dev":      zone.NbDev(),
			"zone_offset": zone.Offset,
			"dev_offset":  zone.DevOffset,
			"size":        zone.Size,
		}).Debug("zone created")
	}

	var (
		size = zones[len(zones)-1].End()
		unit = zones[smallest].Size
	)

	if n := bucketCount(size, unit); n > c.maxBuckets {
		return nil, errors.Wrapf(ErrNoMemory, "%d buckets needed for unit of %d sectors, limit is %d", n, unit, c.maxBuckets)
	}

	buckets, err := BuildHashIndex(zones, smallest)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"size":     size,
		"zones":    len(zones),
		"unit":     unit,
		"buckets":  len(buckets),
		"chunk":    chunk,
		"smallest": smallest,
	}).Info("array assembled")

	return &geometry{
		disks:    slots,
		zones:    zones,
		buckets:  buckets,
		smallest: smallest,
		unit:     unit,
		chunk:    chunk,
		size:     size,
	}, nil
}

// slotDisks orders disks by their configured slot, checking that slots are dense and unique.
func slotDisks(disks []Disk) ([]Disk, error) {
	if len(disks) == 0 {
		return nil, errors.Wrap(ErrInvalidGeometry, "no member disks")
	}

	var (
		slots = make([]Disk, len(disks))
		used  = make([]bool, len(disks))
	)

	for _, disk := range disks {
		if disk.Index < 0 || disk.Index >= len(disks) {
			return nil, errors.Wrapf(ErrInvalidGeometry, "bad disk number %d for %q", disk.Index, disk.ID)
		}

		if used[disk.Index] {
			return nil, errors.Wrapf(ErrInvalidGeometry, "multiple devices for slot %d", disk.Index)
		}

		used[disk.Index] = true
		slots[disk.Index] = disk
	}

	return slots, nil
}

// Name returns the array name.
func (c *Conf) Name() string {
	return c.name
}

// Running reports whether the array has a geometry to map requests against.
func (c *Conf) Running() bool {
	return c.geo.Load() != nil
}

// Disks returns member disks ordered by slot, with capacities rounded to whole chunks.
func (c *Conf) Disks() []Disk {
	geo := c.geo.Load()
	if geo == nil {
		return nil
	}

	return append([]Disk(nil), geo.disks...)
}

// Zones returns a copy of the zone table.
func (c *Conf) Zones() []Zone {
	geo := c.geo.Load()
	if geo == nil {
		return nil
	}

	zones := make([]Zone, len(geo.zones))
	for i, zone := range geo.zones {
		zone.Devices = append([]int(nil), zone.Devices...)
		zones[i] = zone
	}

	return zones
}

// Buckets returns a copy of the bucket table.
func (c *Conf) Buckets() []Bucket {
	geo := c.geo.Load()
	if geo == nil {
		return nil
	}

	return append([]Bucket(nil), geo.buckets...)
}

// Smallest returns the index of the smallest zone.
func (c *Conf) Smallest() int {
	geo := c.geo.Load()
	if geo == nil {
		return -1
	}

	return geo.smallest
}

// Size returns the logical volume size in sectors.
func (c *Conf) Size() uint64 {
	geo := c.geo.Load()
	if geo == nil {
		return 0
	}

	return geo.size
}

// UnitSize returns the number of sectors covered by one bucket.
func (c *Conf) UnitSize() uint64 {
	geo := c.geo.Load()
	if geo == nil {
		return 0
	}

	return geo.unit
}

// ChunkSectors returns the interleave unit in sectors.
func (c *Conf) ChunkSectors() uint64 {
	geo := c.geo.Load()
	if geo == nil {
		return 0
	}

	return geo.chunk
}
