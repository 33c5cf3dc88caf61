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
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/firecracker-microvm/stripevol/blocklayer"
	"github.com/firecracker-microvm/stripevol/pkg/dmsetup"
	"github.com/firecracker-microvm/stripevol/pkg/losetup"
	"github.com/firecracker-microvm/stripevol/raid0"
	"github.com/firecracker-microvm/stripevol/registry"
)

var heading = color.New(color.Bold, color.FgCyan)

func newPlanCmd(opts *options) *cobra.Command {
	var listBuckets bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Assemble the array and print its zone and bucket tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.assemble(cmd.Context())
			if err != nil {
				return err
			}

			printPlan(cmd.OutOrStdout(), opts, conf, listBuckets)
			return nil
		},
	}

	cmd.Flags().BoolVar(&listBuckets, "buckets", false, "List every hash bucket")
	return cmd
}

func printPlan(out io.Writer, opts *options, conf *raid0.Conf, listBuckets bool) {
	var (
		chunk   = conf.ChunkSectors()
		zones   = conf.Zones()
		buckets = conf.Buckets()
	)

	heading.Fprintf(out, "Array %s (%s)\n", conf.Name(), opts.cfg.Array.UUID)
	fmt.Fprintf(out, "chunk: %d sectors (%s)\n", chunk, units.BytesSize(float64(chunk*blocklayer.SectorSize)))
	fmt.Fprintf(out, "size:  %d sectors (%s)\n", conf.Size(), units.BytesSize(float64(conf.Size()*blocklayer.SectorSize)))

	heading.Fprintln(out, "\nDisks")
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tID\tSECTORS\tPATH")
	for i, disk := range conf.Disks() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", disk.Index, disk.ID, disk.Capacity, opts.memberPath(opts.cfg.Array.Disks[i]))
	}
	w.Flush()

	heading.Fprintln(out, "\nZones")
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tOFFSET\tSIZE\tDEV_OFFSET\tDEVICES")
	for i, zone := range zones {
		ids := make([]string, 0, zone.NbDev())
		for _, slot := range zone.Devices {
			ids = append(ids, conf.Disks()[slot].ID)
		}

		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n", i, zone.Offset, zone.Size, zone.DevOffset, strings.Join(ids, ","))
	}
	w.Flush()

	straddling := 0
	for _, bucket := range buckets {
		if bucket.Straddles() {
			straddling++
		}
	}

	heading.Fprintln(out, "\nBuckets")
	fmt.Fprintf(out, "%d buckets of %d sectors (smallest zone %d), %d straddling\n",
		len(buckets), conf.UnitSize(), conf.Smallest(), straddling)

	if !listBuckets {
		return
	}

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tKIND\tZONES")
	for i, bucket := range buckets {
		if bucket.Straddles() {
			fmt.Fprintf(w, "%d\t%s\t%d,%d\n", i, bucket.Kind, bucket.Zone0, bucket.Zone1)
		} else {
			fmt.Fprintf(w, "%d\t%s\t%d\n", i, bucket.Kind, bucket.Zone0)
		}
	}
	w.Flush()
}

func newMapCmd(opts *options) *cobra.Command {
	var length uint64

	cmd := &cobra.Command{
		Use:   "map <sector>",
		Short: "Map a logical sector to its member disk and local sector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sector, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid sector %q", args[0])
			}

			conf, err := opts.assemble(cmd.Context())
			if err != nil {
				return err
			}

			req := raid0.Request{Sector: sector, Length: length}
			if err := conf.Map(&req); err != nil {
				return err
			}

			zone := -1
			for i, z := range conf.Zones() {
				if z.Contains(sector) {
					zone = i
					break
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sector %d -> zone %d, disk %s (slot %d), sector %d\n",
				sector, zone, req.DiskID, req.Disk, req.Target)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&length, "length", 1, "Request length in sectors")
	return cmd
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <sector> <count>",
		Short: "Read sectors through the array and dump them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (retErr error) {
			sector, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid sector %q", args[0])
			}

			count, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid sector count %q", args[1])
			}

			ctx := cmd.Context()

			vol, reg, err := opts.openVolume(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := reg.Close(); err != nil {
					retErr = multierror.Append(retErr, err)
				}
			}()

			buf := make([]byte, count*blocklayer.SectorSize)
			n, err := vol.ReadAt(buf, int64(sector*blocklayer.SectorSize))
			if err != nil && err != io.EOF {
				return err
			}

			log.G(ctx).WithFields(logrus.Fields{"stats": vol.Stats()}).Debug("read completed")

			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(buf[:n]))
			return nil
		},
	}
}

func newTableCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "table",
		Short: "Print the device-mapper table of the array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.assemble(cmd.Context())
			if err != nil {
				return err
			}

			devices := make([]string, len(opts.cfg.Array.Disks))
			for i, disk := range opts.cfg.Array.Disks {
				devices[i] = opts.memberPath(disk)
			}

			table, err := dmsetup.StripedTable(conf.Zones(), conf.ChunkSectors(), devices)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), dmsetup.FormatTable(table))
			return nil
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create member images if needed and the device-mapper device of the array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := createDevice(cmd, opts)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func createDevice(cmd *cobra.Command, opts *options) (string, error) {
	var (
		ctx     = cmd.Context()
		array   = opts.cfg.Array
		devices = make([]string, len(array.Disks))
		images  []int
	)

	for i, disk := range array.Disks {
		path := opts.memberPath(disk)
		if disk.Path == "" {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if path, err = registry.CreateImage(ctx, array.ImageDir, disk.ID, disk.SizeBytes); err != nil {
					return "", err
				}
				log.G(ctx).WithField("disk", disk.ID).Infof("created image %q", path)
			} else if err != nil {
				return "", errors.Wrapf(err, "failed to stat image %q", path)
			}
		}

		isDev, err := isBlockDevice(path)
		if err != nil {
			return "", err
		}

		if !isDev {
			images = append(images, i)
		}

		devices[i] = path
	}

	var attached []string
	if array.UseLoopback && len(images) > 0 {
		paths := make([]string, len(images))
		for k, i := range images {
			paths[k] = devices[i]
		}

		loops, err := losetup.AttachLoopDevices(paths...)
		if err != nil {
			return "", err
		}

		for k, i := range images {
			devices[i] = loops[k]
		}
		attached = loops
	} else if len(images) > 0 {
		return "", errors.Errorf("%d members are image files, set use_loopback to export them", len(images))
	}

	path, err := exportArray(cmd, opts, devices)
	if err != nil && len(attached) > 0 {
		if detachErr := losetup.DetachLoopDevice(attached...); detachErr != nil {
			err = multierror.Append(err, detachErr)
		}
	}

	return path, err
}

// sizeDevices describes member device nodes, indexed by slot, as array disks.
func sizeDevices(opts *options, devices []string) ([]raid0.Disk, error) {
	disks := make([]raid0.Disk, len(devices))
	for i, dev := range devices {
		size, err := dmsetup.BlockDeviceSize(dev)
		if err != nil {
			return nil, err
		}

		disks[i] = raid0.Disk{
			ID:       opts.cfg.Array.Disks[i].ID,
			Capacity: size / dmsetup.SectorSize,
			Index:    i,
		}
	}

	return disks, nil
}

func exportArray(cmd *cobra.Command, opts *options, devices []string) (string, error) {
	ctx := cmd.Context()

	disks, err := sizeDevices(opts, devices)
	if err != nil {
		return "", err
	}

	conf, err := raid0.New(ctx, disks, opts.cfg.Array.ChunkSectors, opts.arrayOpts()...)
	if err != nil {
		return "", err
	}
	defer conf.Stop()

	table, err := dmsetup.StripedTable(conf.Zones(), conf.ChunkSectors(), devices)
	if err != nil {
		return "", err
	}

	name := opts.cfg.Array.Name
	if err := dmsetup.CreateDevice(name, table); err != nil {
		return "", errors.Wrapf(err, "failed to create device %q", name)
	}

	log.G(ctx).WithFields(logrus.Fields{
		"array":   name,
		"sectors": conf.Size(),
		"targets": len(table),
	}).Info("device created")

	return dmsetup.GetFullDevicePath(name), nil
}

func newReloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-size the members and load the resulting geometry into the live device",
		Long: `reload picks up members that grew (image files are refreshed through their
loop devices), rebuilds the zone tables and swaps the device-mapper table of the
running device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := reloadDevice(cmd, opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sectors\n", dmsetup.GetFullDevicePath(opts.cfg.Array.Name), size)
			return nil
		},
	}
}

// liveDevices returns the device nodes currently backing the members, indexed by slot.
func liveDevices(opts *options) ([]string, error) {
	array := opts.cfg.Array
	devices := make([]string, len(array.Disks))

	for i, disk := range array.Disks {
		path := opts.memberPath(disk)

		isDev, err := isBlockDevice(path)
		if err != nil {
			return nil, err
		}

		if isDev {
			devices[i] = path
			continue
		}

		if !array.UseLoopback {
			return nil, errors.Errorf("disk %q is an image file, set use_loopback to export it", disk.ID)
		}

		loops, err := losetup.FindAssociatedLoopDevices(path)
		if err != nil {
			return nil, err
		}

		if len(loops) == 0 {
			return nil, errors.Errorf("image %q of disk %q is not attached to a loop device", path, disk.ID)
		}

		if err := losetup.RefreshCapacity(loops[0]); err != nil {
			return nil, errors.Wrapf(err, "failed to refresh capacity of %q", loops[0])
		}

		devices[i] = loops[0]
	}

	return devices, nil
}

func reloadDevice(cmd *cobra.Command, opts *options) (uint64, error) {
	ctx := cmd.Context()
	name := opts.cfg.Array.Name

	conf, err := opts.assemble(ctx)
	if err != nil {
		return 0, err
	}
	defer conf.Stop()

	devices, err := liveDevices(opts)
	if err != nil {
		return 0, err
	}

	disks, err := sizeDevices(opts, devices)
	if err != nil {
		return 0, err
	}

	configured := conf.Size()
	if err := conf.Reconfigure(ctx, disks, opts.cfg.Array.ChunkSectors); err != nil {
		return 0, err
	}

	table, err := dmsetup.StripedTable(conf.Zones(), conf.ChunkSectors(), devices)
	if err != nil {
		return 0, err
	}

	if err := dmsetup.SuspendDevice(name); err != nil {
		return 0, errors.Wrapf(err, "failed to suspend device %q", name)
	}

	var result *multierror.Error
	if err := dmsetup.ReloadDevice(name, table); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "failed to reload device %q", name))
	}

	// Resume even after a failed reload, the old table is still live
	if err := dmsetup.ResumeDevice(name); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "failed to resume device %q", name))
	}

	if err := result.ErrorOrNil(); err != nil {
		return 0, err
	}

	log.G(ctx).WithFields(logrus.Fields{
		"array":      name,
		"configured": configured,
		"sectors":    conf.Size(),
		"targets":    len(table),
	}).Info("device reloaded")

	return conf.Size(), nil
}

func newRemoveCmd(opts *options) *cobra.Command {
	var force, deferred bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the device-mapper device and detach member loop devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				array  = opts.cfg.Array
				result *multierror.Error
			)

			removeOpts := []dmsetup.RemoveDeviceOpt{dmsetup.RemoveWithRetries}
			if force {
				removeOpts = append(removeOpts, dmsetup.RemoveWithForce)
			}

			if deferred {
				removeOpts = append(removeOpts, dmsetup.RemoveDeferred)
			}

			if err := dmsetup.RemoveDevice(array.Name, removeOpts...); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "failed to remove device %q", array.Name))
			}

			if array.UseLoopback {
				for _, disk := range array.Disks {
					path := opts.memberPath(disk)
					if isDev, err := isBlockDevice(path); err != nil || isDev {
						continue
					}

					if err := losetup.RemoveLoopDevicesAssociatedWithImage(path); err != nil {
						result = multierror.Append(result, err)
					}
				}
			}

			return result.ErrorOrNil()
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Fail outstanding I/O if the device is still open")
	cmd.Flags().BoolVar(&deferred, "deferred", false, "Remove the device once its last user closes it")
	return cmd
}
