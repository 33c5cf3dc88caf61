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

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/firecracker-microvm/stripevol/blocklayer"
	"github.com/firecracker-microvm/stripevol/config"
	"github.com/firecracker-microvm/stripevol/internal/command"
	"github.com/firecracker-microvm/stripevol/raid0"
	"github.com/firecracker-microvm/stripevol/registry"
)

type options struct {
	configPath string
	debug      bool

	cfg *config.Config
}

// load reads and validates the configuration and applies its debug settings.
func (o *options) load(ctx context.Context) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if o.debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else if level, ok := cfg.DebugHelper.LogLevel(); ok {
		logrus.SetLevel(level)
	}

	command.LogOutput(o.debug || cfg.DebugHelper.LogDMSetupOutput())

	log.G(ctx).WithFields(logrus.Fields{
		"array": cfg.Array.Name,
		"uuid":  cfg.Array.UUID,
	}).Debug("configuration loaded")

	o.cfg = cfg
	return nil
}

func (o *options) arrayOpts() []raid0.Opt {
	opts := []raid0.Opt{raid0.WithName(o.cfg.Array.Name)}

	if o.cfg.Array.MaxBuckets != 0 {
		opts = append(opts, raid0.WithMaxBuckets(o.cfg.Array.MaxBuckets))
	}

	if o.debug || o.cfg.DebugHelper.StrictChecks() {
		opts = append(opts, raid0.WithStrictChecks())
	}

	return opts
}

// memberPath returns the configured path of a disk, or its image in image_dir.
func (o *options) memberPath(disk config.Disk) string {
	if disk.Path != "" {
		return disk.Path
	}

	return filepath.Join(o.cfg.Array.ImageDir, disk.ID+".img")
}

// memberDisks sizes the members without creating or writing anything. Disks with a
// path are measured, image backed disks use their configured size.
func (o *options) memberDisks() ([]raid0.Disk, error) {
	disks := make([]raid0.Disk, 0, len(o.cfg.Array.Disks))
	for i, disk := range o.cfg.Array.Disks {
		capacity := uint64(disk.SizeBytes) / blocklayer.SectorSize

		if disk.Path != "" {
			sectors, err := registry.Sectors(disk.Path)
			if err != nil {
				return nil, err
			}

			capacity = sectors
		}

		disks = append(disks, raid0.Disk{ID: disk.ID, Capacity: capacity, Index: i})
	}

	return disks, nil
}

func (o *options) assemble(ctx context.Context) (*raid0.Conf, error) {
	disks, err := o.memberDisks()
	if err != nil {
		return nil, err
	}

	return raid0.New(ctx, disks, o.cfg.Array.ChunkSectors, o.arrayOpts()...)
}

// openVolume opens every member and binds them to a freshly assembled array.
// The caller owns the returned registry.
func (o *options) openVolume(ctx context.Context) (*blocklayer.Volume, *registry.Registry, error) {
	reg := registry.New()

	for _, disk := range o.cfg.Array.Disks {
		if _, err := reg.Open(ctx, disk.ID, o.memberPath(disk)); err != nil {
			reg.Close()
			return nil, nil, err
		}
	}

	conf, err := raid0.New(ctx, reg.Disks(), o.cfg.Array.ChunkSectors, o.arrayOpts()...)
	if err != nil {
		reg.Close()
		return nil, nil, err
	}

	vol, err := blocklayer.NewVolume(ctx, conf, reg.Devices())
	if err != nil {
		reg.Close()
		return nil, nil, err
	}

	return vol, reg, nil
}

func isBlockDevice(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %q", path)
	}

	return info.Mode()&os.ModeDevice != 0, nil
}
