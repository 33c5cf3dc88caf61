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
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/firecracker-microvm/stripevol/internal/command"
)

// DevMapperDir is where device-mapper device nodes live
const DevMapperDir = "/dev/mapper/"

// DeviceInfo represents device info returned by "dmsetup info"
type DeviceInfo struct {
	Name            string
	BlockDeviceName string
	TableLive       bool
	TableInactive   bool
	Suspended       bool
	ReadOnly        bool
	Major           uint32
	Minor           uint32
	OpenCount       uint32 // Open reference count
	TargetCount     uint32 // Number of targets in the live table
	EventNumber     uint32 // Last event sequence number (used by wait)
}

var (
	errTable     map[string]unix.Errno
	errTableInit sync.Once
)

// CreateDevice creates a device with the given table (see "dmsetup create").
// Multi-target tables are passed through stdin.
func CreateDevice(deviceName string, table []Target) error {
	_, err := dmsetupTable(FormatTable(table), "create", deviceName)
	return err
}

// ReloadDevice loads a new table into the inactive slot of the device (see "dmsetup reload").
// The table becomes live on the next resume.
func ReloadDevice(deviceName string, table []Target) error {
	_, err := dmsetupTable(FormatTable(table), "reload", deviceName)
	return err
}

// SuspendDevice suspends the given device (see "dmsetup suspend")
func SuspendDevice(deviceName string) error {
	_, err := dmsetup("suspend", deviceName)
	return err
}

// ResumeDevice resumes the given device (see "dmsetup resume")
func ResumeDevice(deviceName string) error {
	_, err := dmsetup("resume", deviceName)
	return err
}

// Table returns the current table for the device
func Table(deviceName string) (string, error) {
	return dmsetup("table", deviceName)
}

// RemoveDeviceOpt represents command line arguments for "dmsetup remove" command
type RemoveDeviceOpt string

const (
	// RemoveWithForce flag replaces the table with one that fails all I/O if
	// open device can't be removed
	RemoveWithForce RemoveDeviceOpt = "--force"
	// RemoveWithRetries option will cause the operation to be retried
	// for a few seconds before failing
	RemoveWithRetries RemoveDeviceOpt = "--retry"
	// RemoveDeferred flag will enable deferred removal of open devices,
	// the device will be removed when the last user closes it
	RemoveDeferred RemoveDeviceOpt = "--deferred"
)

// RemoveDevice removes a device (see "dmsetup remove")
func RemoveDevice(deviceName string, opts ...RemoveDeviceOpt) error {
	args := []string{
		"remove",
	}

	for _, opt := range opts {
		args = append(args, string(opt))
	}

	args = append(args, GetFullDevicePath(deviceName))

	_, err := dmsetup(args...)
	return err
}

// Info outputs device information (see "dmsetup info").
// If device name is empty, all device infos will be returned.
func Info(deviceName string) ([]*DeviceInfo, error) {
	output, err := dmsetup(
		"info",
		"--columns",
		"--noheadings",
		"-o",
		"name,blkdevname,attr,major,minor,open,segments,events",
		"--separator",
		" ",
		deviceName)

	if err != nil {
		return nil, err
	}

	return parseInfo(output)
}

func parseInfo(output string) ([]*DeviceInfo, error) {
	var (
		devices []*DeviceInfo
		lines   = strings.Split(output, "\n")
	)

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		var (
			attr = ""
			info = &DeviceInfo{}
		)

		_, err := fmt.Sscan(line,
			&info.Name,
			&info.BlockDeviceName,
			&attr,
			&info.Major,
			&info.Minor,
			&info.OpenCount,
			&info.TargetCount,
			&info.EventNumber)

		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse line %q", line)
		}

		// Parse attributes (see "man dmsetup") for details
		info.Suspended = strings.Contains(attr, "s")
		info.ReadOnly = strings.Contains(attr, "r")
		info.TableLive = strings.Contains(attr, "L")
		info.TableInactive = strings.Contains(attr, "I")

		devices = append(devices, info)
	}

	return devices, nil
}

// Version returns "dmsetup version" output
func Version() (string, error) {
	return dmsetup("version")
}

// GetFullDevicePath returns full path for the given device name (like "/dev/mapper/name")
func GetFullDevicePath(deviceName string) string {
	if strings.HasPrefix(deviceName, DevMapperDir) {
		return deviceName
	}

	return DevMapperDir + deviceName
}

func dmsetup(args ...string) (string, error) {
	return dmsetupTable("", args...)
}

func dmsetupTable(table string, args ...string) (string, error) {
	output, err := command.Run("dmsetup", table, args...)
	if err != nil {
		// It's useful to have Linux error codes like EBUSY, EPERM, ..., instead of just text.
		// Try matching with Linux error code, otherwise return generic error.
		// Unfortunately there is no better way than extracting/comparing error text.
		if errno, ok := lookupErrno(output); ok {
			return "", errno
		}

		// Return generic error if can't get Linux error
		return "", errors.Wrapf(err, "dmsetup %s\nerror: %s\n", strings.Join(args, " "), output)
	}

	return strings.TrimSpace(output), nil
}

func lookupErrno(output string) (unix.Errno, bool) {
	text := extractErrorText(output)
	if text == "" {
		return 0, false
	}

	errTableInit.Do(func() {
		// Precompute map of <text>=<errno> for optimal lookup
		errTable = make(map[string]unix.Errno)
		for errno := unix.EPERM; errno <= unix.EHWPOISON; errno++ {
			errTable[errno.Error()] = errno
		}
	})

	errno, ok := errTable[text]
	return errno, ok
}

var errorTextRe = regexp.MustCompilePOSIX("failed: [^:]+$")

func extractErrorText(output string) string {
	// dmsetup returns error messages in format:
	// 	device-mapper: message ioctl on <name> failed: File exists\n
	// 	Command failed\n
	// Extract text between "failed: " and "\n"
	str := errorTextRe.FindString(output)

	// Strip "failed: " prefix
	str = strings.TrimPrefix(str, "failed: ")

	str = strings.ToLower(str)
	return str
}
