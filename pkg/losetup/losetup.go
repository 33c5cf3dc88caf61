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

package losetup

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/firecracker-microvm/stripevol/internal/command"
)

// FindAssociatedLoopDevices returns a list of loop devices attached to a given image
func FindAssociatedLoopDevices(imagePath string) ([]string, error) {
	output, err := losetup("--list", "--output", "NAME", "--noheadings", "--associated", imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get loop devices: '%s'", output)
	}

	if output == "" {
		return []string{}, nil
	}

	return strings.Split(output, "\n"), nil
}

// AttachLoopDevice finds first available loop device and associates it with an image.
func AttachLoopDevice(imagePath string) (string, error) {
	return losetup("--find", "--show", imagePath)
}

// AttachLoopDevices attaches one loop device per image, in order. On failure the devices
// attached so far are detached again.
func AttachLoopDevices(imagePaths ...string) ([]string, error) {
	devices := make([]string, 0, len(imagePaths))
	for _, imagePath := range imagePaths {
		dev, err := AttachLoopDevice(imagePath)
		if err != nil {
			if len(devices) > 0 {
				_ = DetachLoopDevice(devices...)
			}

			return nil, errors.Wrapf(err, "failed to attach image %q", imagePath)
		}

		devices = append(devices, dev)
	}

	return devices, nil
}

// DetachLoopDevice detaches loop devices
func DetachLoopDevice(loopDevice ...string) error {
	args := append([]string{"--detach"}, loopDevice...)
	_, err := losetup(args...)
	return err
}

// RefreshCapacity makes a loop device pick up the current size of its backing file
func RefreshCapacity(loopDevice string) error {
	_, err := losetup("--set-capacity", loopDevice)
	return err
}

// RemoveLoopDevicesAssociatedWithImage detaches all loop devices attached to a given sparse image
func RemoveLoopDevicesAssociatedWithImage(imagePath string) error {
	loopDevices, err := FindAssociatedLoopDevices(imagePath)
	if err != nil {
		return err
	}

	for _, loopDevice := range loopDevices {
		if err = DetachLoopDevice(loopDevice); err != nil {
			return err
		}
	}

	return nil
}

// losetup is a wrapper around losetup command line tool
func losetup(args ...string) (string, error) {
	output, err := command.Run("losetup", "", args...)
	if err != nil {
		return "", errors.Wrapf(err, "losetup %s\nerror: %s\n", strings.Join(args, " "), output)
	}

	return output, nil
}
