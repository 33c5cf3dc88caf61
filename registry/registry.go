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

package registry

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/containerd/log"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/firecracker-microvm/stripevol/blocklayer"
	"github.com/firecracker-microvm/stripevol/raid0"
)

// FileDevice is a member device backed by an image file or a block device node.
type FileDevice struct {
	id      string
	path    string
	file    *os.File
	sectors uint64
}

var _ blocklayer.Device = &FileDevice{}

// ID returns the device identity.
func (d *FileDevice) ID() string {
	return d.id
}

// Path returns the file the device was opened from.
func (d *FileDevice) Path() string {
	return d.path
}

// Sectors returns the device capacity.
func (d *FileDevice) Sectors() uint64 {
	return d.sectors
}

// ReadAt implements io.ReaderAt.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	return d.file.WriteAt(p, off)
}

// Registry owns member devices. Arrays refer to them by ID only.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*FileDevice
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{devices: make(map[string]*FileDevice)}
}

// Open registers the device at path under id.
func (r *Registry) Open(ctx context.Context, id, path string) (*FileDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; ok {
		return nil, errors.Errorf("device %q already registered", id)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open device %q", path)
	}

	sectors, err := fileSectors(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	dev := &FileDevice{
		id:      id,
		path:    path,
		file:    file,
		sectors: sectors,
	}

	r.devices[id] = dev
	r.order = append(r.order, id)

	log.G(ctx).WithField("device", id).Debugf("opened %q (%d sectors)", path, dev.sectors)
	return dev, nil
}

// Sectors measures the device or image at path without registering it. The file is
// opened read-only.
func Sectors(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open device %q", path)
	}
	defer file.Close()

	return fileSectors(file)
}

func fileSectors(file *os.File) (uint64, error) {
	// Seeking to the end works for both regular files and block device nodes
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get size of %q", file.Name())
	}

	return uint64(size) / blocklayer.SectorSize, nil
}

// Get returns a registered device.
func (r *Registry) Get(id string) (*FileDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	return dev, ok
}

// Devices returns registered devices in registration order.
func (r *Registry) Devices() []blocklayer.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]blocklayer.Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, r.devices[id])
	}

	return devices
}

// Disks describes registered devices as array members, slots following registration order.
func (r *Registry) Disks() []raid0.Disk {
	r.mu.Lock()
	defer r.mu.Unlock()

	disks := make([]raid0.Disk, 0, len(r.order))
	for i, id := range r.order {
		disks = append(disks, raid0.Disk{
			ID:       id,
			Capacity: r.devices[id].sectors,
			Index:    i,
		})
	}

	return disks
}

// Close closes every registered device.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for _, id := range r.order {
		if err := r.devices[id].file.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to close device %q", id))
		}
	}

	r.devices = make(map[string]*FileDevice)
	r.order = nil

	return result.ErrorOrNil()
}

// CreateImage creates a sparse image file of the given size in dir.
func CreateImage(ctx context.Context, dir, name string, size int64) (path string, retErr error) {
	if size <= 0 || size%blocklayer.SectorSize != 0 {
		return "", errors.Errorf("image size %d is not a positive number of sectors", size)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", errors.Wrapf(err, "failed to create image directory %q", dir)
	}

	path = filepath.Join(dir, name+".img")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create image %q", path)
	}
	defer func() {
		// The file must be closed even in the success case.
		if err := f.Close(); err != nil {
			retErr = multierror.Append(retErr, err)
		}
		// But the file must not be deleted in the success case.
		if retErr != nil {
			if err := os.Remove(path); err != nil {
				retErr = multierror.Append(retErr, err)
			}
			path = ""
		}
	}()

	if err := f.Truncate(size); err != nil {
		retErr = errors.Wrapf(err, "failed to truncate %q", path)
		return
	}

	log.G(ctx).WithField("image", path).Debugf("created %d byte image", size)
	return path, nil
}
