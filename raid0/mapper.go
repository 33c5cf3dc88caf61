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
	"github.com/sirupsen/logrus"
)

// Request is a block request addressed to the logical volume.
// Map rewrites Disk, DiskID and Target; Sector and Length are left untouched.
type Request struct {
	// Sector is the first logical sector
	Sector uint64
	// Length is the request size in sectors
	Length uint64

	// Disk is the slot of the member disk that serves the request
	Disk int
	// DiskID is the identity of that disk
	DiskID string
	// Target is the first sector on the member disk
	Target uint64
}

// Map resolves the request to a member disk and a sector on it.
// The request must fit in one chunk; splitting is the block layer's job.
func (c *Conf) Map(req *Request) error {
	geo := c.geo.Load()
	if geo == nil {
		return ErrStopped
	}

	return c.mapRequest(geo, req)
}

func (c *Conf) mapRequest(geo *geometry, req *Request) error {
	if err := checkRequest(geo, req); err != nil {
		return err
	}

	zi, err := lookupZone(geo, req.Sector)
	if err != nil {
		return c.mappingFailed(req, err)
	}

	var (
		zone        = &geo.zones[zi]
		nbDev       = uint64(zone.NbDev())
		sectInChunk = req.Sector % geo.chunk
		chunk       = (req.Sector - zone.Offset) / (nbDev * geo.chunk)
		slot        = zone.Devices[(req.Sector/geo.chunk)%nbDev]
	)

	req.Disk = slot
	req.DiskID = geo.disks[slot].ID
	req.Target = chunk*geo.chunk + zone.DevOffset + sectInChunk

	return nil
}

func checkRequest(geo *geometry, req *Request) error {
	if req.Length == 0 {
		return errors.Wrapf(ErrInvalidRequest, "empty request at sector %d", req.Sector)
	}

	if req.Sector >= geo.size || req.Length > geo.size-req.Sector {
		return errors.Wrapf(ErrInvalidRequest,
			"request %d+%d beyond end of volume (%d sectors)", req.Sector, req.Length, geo.size)
	}

	if geo.chunk < req.Sector%geo.chunk+req.Length {
		return errors.Wrapf(ErrInvalidRequest,
			"can't convert request %d+%d across chunks or bigger than %d sectors", req.Sector, req.Length, geo.chunk)
	}

	return nil
}

// lookupZone finds the zone serving a sector through the bucket table.
func lookupZone(geo *geometry, sector uint64) (int, error) {
	idx := sector / geo.unit
	if idx >= uint64(len(geo.buckets)) {
		return 0, errors.Wrapf(ErrMappingCorrupt, "no bucket %d for sector %d", idx, sector)
	}

	bucket := geo.buckets[idx]
	zone0 := &geo.zones[bucket.Zone0]

	if sector < zone0.Offset {
		return 0, errors.Wrapf(ErrMappingCorrupt, "sector %d precedes zone0 (%d) of bucket %d", sector, bucket.Zone0, idx)
	}

	if sector < zone0.End() {
		return bucket.Zone0, nil
	}

	if !bucket.Straddles() {
		return 0, errors.Wrapf(ErrMappingCorrupt, "bucket %d has no zone1 for sector %d", idx, sector)
	}

	if !geo.zones[bucket.Zone1].Contains(sector) {
		return 0, errors.Wrapf(ErrMappingCorrupt, "sector %d is outside zone1 (%d) of bucket %d", sector, bucket.Zone1, idx)
	}

	return bucket.Zone1, nil
}

func (c *Conf) mappingFailed(req *Request, err error) error {
	c.logger.WithError(err).WithFields(logrus.Fields{
		"sector": req.Sector,
		"length": req.Length,
	}).Error("raid0 mapping bug")

	if c.strict {
		panic(err)
	}

	return err
}

// Unmap converts a sector on a member disk back to the logical sector it serves.
func (c *Conf) Unmap(disk int, sector uint64) (uint64, error) {
	geo := c.geo.Load()
	if geo == nil {
		return 0, ErrStopped
	}

	for i := range geo.zones {
		zone := &geo.zones[i]
		if sector < zone.DevOffset || sector >= zone.DevOffset+zone.PerDevice() {
			continue
		}

		pos := -1
		for p, slot := range zone.Devices {
			if slot == disk {
				pos = p
				break
			}
		}

		if pos < 0 {
			break
		}

		var (
			nbDev  = uint64(zone.NbDev())
			rel    = sector - zone.DevOffset
			chunk  = rel / geo.chunk
			rotate = (zone.Offset / geo.chunk) % nbDev
			stripe = (uint64(pos) + nbDev - rotate) % nbDev
		)

		return zone.Offset + (chunk*nbDev+stripe)*geo.chunk + rel%geo.chunk, nil
	}

	return 0, errors.Wrapf(ErrInvalidRequest, "sector %d of disk %d is not mapped", sector, disk)
}
