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

package dmsetup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/firecracker-microvm/stripevol/internal/command"
	"github.com/firecracker-microvm/stripevol/raid0"
)

// SectorSize is the device-mapper addressing unit
const SectorSize = 512

// Target is one line of a device-mapper table
type Target struct {
	// Start is the first sector of the segment in the virtual device
	Start uint64
	// Length of the segment in sectors
	Length uint64
	// Type is the target type, "linear" or "striped"
	Type string
	// Args are target specific arguments
	Args []string
}

func (t Target) String() string {
	return strings.TrimSpace(fmt.Sprintf("%d %d %s %s", t.Start, t.Length, t.Type, strings.Join(t.Args, " ")))
}

// FormatTable joins targets into a table accepted by "dmsetup create"
func FormatTable(targets []Target) string {
	lines := make([]string, len(targets))
	for i, target := range targets {
		lines[i] = target.String()
	}

	return strings.Join(lines, "\n")
}

// BlockDeviceSize returns size of block device in bytes
func BlockDeviceSize(devicePath string) (uint64, error) {
	output, err := command.Run("blockdev", "", "--getsize64", "-q", devicePath)
	if err != nil {
		return 0, errors.Wrapf(err, "blockdev: %s", output)
	}

	return strconv.ParseUint(strings.TrimSpace(output), 10, 64)
}

// StripedTable expresses the zone table of an array as device-mapper targets.
// devices holds member device paths indexed by array slot.
//
// Single disk zones become "linear" targets:
//
//	start length linear device offset
//
// and the others "striped" targets:
//
//	start length striped #stripes chunk_size device1 offset1 ... deviceN offsetN
//
// The striped target picks a stripe from the chunk index relative to the start of the
// segment, while the array picks it from the absolute chunk index, so the device list is
// rotated by (zone_offset/chunk) mod nb_dev.
func StripedTable(zones []raid0.Zone, chunkSectors uint64, devices []string) ([]Target, error) {
	if chunkSectors == 0 {
		return nil, errors.New("chunk size must be non zero")
	}

	targets := make([]Target, 0, len(zones))
	for i, zone := range zones {
		nbDev := zone.NbDev()
		for _, slot := range zone.Devices {
			if slot < 0 || slot >= len(devices) || devices[slot] == "" {
				return nil, errors.Errorf("zone %d: no device path for slot %d", i, slot)
			}
		}

		if nbDev == 1 {
			targets = append(targets, Target{
				Start:  zone.Offset,
				Length: zone.Size,
				Type:   "linear",
				Args:   []string{devices[zone.Devices[0]], strconv.FormatUint(zone.DevOffset, 10)},
			})
			continue
		}

		if zone.Offset%chunkSectors != 0 || zone.PerDevice()%chunkSectors != 0 {
			return nil, errors.Errorf("zone %d is not aligned to chunk size %d", i, chunkSectors)
		}

		var (
			rotate = int((zone.Offset / chunkSectors) % uint64(nbDev))
			args   = []string{strconv.Itoa(nbDev), strconv.FormatUint(chunkSectors, 10)}
		)

		for k := 0; k < nbDev; k++ {
			slot := zone.Devices[(rotate+k)%nbDev]
			args = append(args, devices[slot], strconv.FormatUint(zone.DevOffset, 10))
		}

		targets = append(targets, Target{
			Start:  zone.Offset,
			Length: zone.Size,
			Type:   "striped",
			Args:   args,
		})
	}

	return targets, nil
}
