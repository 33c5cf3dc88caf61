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

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/firecracker-microvm/stripevol/raid0"
)

// SectorSize is the addressing unit of volumes and member devices.
const SectorSize = 512

var (
	// ErrIO is returned when a request could not be completed.
	ErrIO = errors.New("i/o error")

	// ErrUnaligned is returned for byte ranges that don't start or end on a sector boundary.
	ErrUnaligned = errors.New("request is not sector aligned")
)

// Direction of a block request.
type Direction int

const (
	// Read from member devices into the buffer
	Read Direction = iota
	// Write the buffer to member devices
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}

	return "read"
}

// Device is a member block device.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// ID returns the device identity, matched against raid0.Disk.ID
	ID() string
	// Sectors returns the device capacity
	Sectors() uint64
}

// Mapper hands out geometry snapshots of the array. Each request is split and mapped
// against a single snapshot.
type Mapper interface {
	Snapshot() (*raid0.Snapshot, error)
}

// Volume is the striped volume seen by its users. It splits byte ranges at chunk
// boundaries, maps each piece and forwards it to the owning member device.
//
// Devices are looked up by disk ID, so the mapper may be reconfigured while the volume
// is in use, as long as every member of the new geometry was handed to NewVolume.
type Volume struct {
	mapper      Mapper
	devices     map[string]Device
	maxInflight int
	logger      *logrus.Entry
	stats       Stats
}

// VolumeOpt configures a Volume.
type VolumeOpt func(v *Volume)

// WithMaxInflight limits the number of pieces forwarded concurrently for one request.
func WithMaxInflight(n int) VolumeOpt {
	return func(v *Volume) {
		v.maxInflight = n
	}
}

// NewVolume binds mapper to member devices. Every disk of the current geometry needs a
// device with the same ID that is at least as large as the disk. Extra devices are kept
// for later geometries.
func NewVolume(ctx context.Context, mapper Mapper, devices []Device, opts ...VolumeOpt) (*Volume, error) {
	snap, err := mapper.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "can't create volume")
	}

	v := &Volume{
		mapper:      mapper,
		devices:     make(map[string]Device, len(devices)),
		maxInflight: len(devices),
		logger:      log.G(ctx),
	}

	for _, opt := range opts {
		opt(v)
	}

	for _, dev := range devices {
		if _, ok := v.devices[dev.ID()]; ok {
			return nil, errors.Errorf("duplicate device %q", dev.ID())
		}

		v.devices[dev.ID()] = dev
	}

	for i, disk := range snap.Disks() {
		dev, ok := v.devices[disk.ID]
		if !ok {
			return nil, errors.Errorf("no device for disk %q (slot %d)", disk.ID, i)
		}

		if dev.Sectors() < disk.Capacity {
			return nil, errors.Errorf("device %q has %d sectors, slot %d needs %d", disk.ID, dev.Sectors(), i, disk.Capacity)
		}
	}

	return v, nil
}

// Size returns the volume size in bytes, zero once the array is stopped.
func (v *Volume) Size() int64 {
	snap, err := v.mapper.Snapshot()
	if err != nil {
		return 0
	}

	return int64(snap.Size()) * SectorSize
}

// Stats returns request counters.
func (v *Volume) Stats() StatsSnapshot {
	return v.stats.Snapshot()
}

// ReadAt implements io.ReaderAt.
func (v *Volume) ReadAt(p []byte, off int64) (int, error) {
	return v.rw(context.Background(), Read, p, off)
}

// WriteAt implements io.WriterAt.
func (v *Volume) WriteAt(p []byte, off int64) (int, error) {
	return v.rw(context.Background(), Write, p, off)
}

func (v *Volume) rw(ctx context.Context, dir Direction, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}

	snap, err := v.mapper.Snapshot()
	if err != nil {
		return 0, ioError(err, "%s at %d", dir, off)
	}

	size := int64(snap.Size()) * SectorSize
	if off >= size {
		if dir == Read {
			return 0, io.EOF
		}
		return 0, errors.Wrapf(ErrIO, "write at %d beyond end of volume", off)
	}

	var eof error
	if int64(len(p)) > size-off {
		if dir == Write {
			return 0, errors.Wrapf(ErrIO, "write of %d bytes at %d beyond end of volume", len(p), off)
		}

		p = p[:size-off]
		eof = io.EOF
	}

	if off%SectorSize != 0 || len(p)%SectorSize != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "%d bytes at %d", len(p), off)
	}

	if err := v.submit(ctx, snap, dir, uint64(off/SectorSize), p); err != nil {
		return 0, err
	}

	return len(p), eof
}

type piece struct {
	req raid0.Request
	dev Device
	buf []byte
}

// Submit performs a sector addressed request. buf must hold a whole number of sectors.
// Every piece is mapped before any I/O is issued; a mapping failure fails the whole request.
func (v *Volume) Submit(ctx context.Context, dir Direction, sector uint64, buf []byte) error {
	snap, err := v.mapper.Snapshot()
	if err != nil {
		return ioError(err, "%s at sector %d", dir, sector)
	}

	return v.submit(ctx, snap, dir, sector, buf)
}

func (v *Volume) submit(ctx context.Context, snap *raid0.Snapshot, dir Direction, sector uint64, buf []byte) error {
	if len(buf)%SectorSize != 0 {
		return errors.Wrapf(ErrUnaligned, "buffer of %d bytes", len(buf))
	}

	v.stats.requests.Add(1)

	pieces, err := v.mapPieces(snap, dir, sector, buf)
	if err != nil {
		v.stats.mapFailures.Add(1)
		return err
	}

	v.stats.pieces.Add(uint64(len(pieces)))

	group, ctx := errgroup.WithContext(ctx)
	if v.maxInflight > 0 {
		group.SetLimit(v.maxInflight)
	}

	for _, pc := range pieces {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return forward(dir, pc)
		})
	}

	if err := group.Wait(); err != nil {
		v.stats.ioFailures.Add(1)
		return err
	}

	return nil
}

// mapPieces splits the request and resolves every piece to a member device.
func (v *Volume) mapPieces(snap *raid0.Snapshot, dir Direction, sector uint64, buf []byte) ([]piece, error) {
	var (
		reqs   = Split(sector, uint64(len(buf)/SectorSize), snap.ChunkSectors())
		pieces = make([]piece, len(reqs))
		pos    uint64
	)

	for i := range reqs {
		req := &reqs[i]
		logger := v.logger.WithFields(logrus.Fields{
			"sector": req.Sector,
			"length": req.Length,
			"dir":    dir,
		})

		if err := snap.Map(req); err != nil {
			logger.WithError(err).Error("failed to map request")
			return nil, ioError(err, "%s at sector %d", dir, req.Sector)
		}

		dev, ok := v.devices[req.DiskID]
		if !ok {
			logger.WithField("disk", req.DiskID).Error("no device for mapped disk")
			return nil, errors.Wrapf(ErrIO, "%s at sector %d: no device for disk %q", dir, req.Sector, req.DiskID)
		}

		if dev.Sectors() < req.Target+req.Length {
			logger.WithField("disk", req.DiskID).Error("mapped past the end of the device")
			return nil, errors.Wrapf(ErrIO, "%s at sector %d: disk %q has %d sectors, needs %d",
				dir, req.Sector, req.DiskID, dev.Sectors(), req.Target+req.Length)
		}

		n := req.Length * SectorSize
		pieces[i] = piece{req: *req, dev: dev, buf: buf[pos : pos+n]}
		pos += n
	}

	return pieces, nil
}

func forward(dir Direction, pc piece) error {
	var (
		off = int64(pc.req.Target) * SectorSize
		n   int
		err error
	)

	if dir == Write {
		n, err = pc.dev.WriteAt(pc.buf, off)
	} else {
		n, err = pc.dev.ReadAt(pc.buf, off)
	}

	switch {
	case n == len(pc.buf) && err == io.EOF:
		err = nil
	case err == nil && n != len(pc.buf):
		err = io.ErrUnexpectedEOF
	}

	if err != nil {
		return errors.Wrapf(ErrIO, "%s of %d sectors at %d on %q: %v", dir, pc.req.Length, pc.req.Target, pc.dev.ID(), err)
	}

	return nil
}

// requestError completes a request with ErrIO while keeping the cause reachable through
// errors.Is and errors.As.
type requestError struct {
	msg   string
	cause error
}

func ioError(cause error, format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIO, e.msg, e.cause)
}

func (e *requestError) Is(target error) bool {
	return target == ErrIO
}

func (e *requestError) Unwrap() error {
	return e.cause
}
