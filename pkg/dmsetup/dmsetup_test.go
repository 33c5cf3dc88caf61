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
	"context"
	"os"
	"strings"
	"testing"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/firecracker-microvm/stripevol/internal"
	"github.com/firecracker-microvm/stripevol/pkg/losetup"
	"github.com/firecracker-microvm/stripevol/raid0"
)

const testDeviceName = "stripevol-test"

func TestDMSetup(t *testing.T) {
	internal.RequiresRoot(t)

	tempDir := t.TempDir()

	bigImage, bigDevice := createLoopbackDevice(t, tempDir, "16Mb")
	smallImage, smallDevice := createLoopbackDevice(t, tempDir, "8Mb")

	defer func() {
		err := losetup.RemoveLoopDevicesAssociatedWithImage(bigImage)
		assert.NoErrorf(t, err, "failed to detach loop devices for image: %s", bigImage)

		err = losetup.RemoveLoopDevicesAssociatedWithImage(smallImage)
		assert.NoErrorf(t, err, "failed to detach loop devices for image: %s", smallImage)
	}()

	var disks []raid0.Disk
	for i, dev := range []string{bigDevice, smallDevice} {
		size, err := BlockDeviceSize(dev)
		require.NoError(t, err)

		disks = append(disks, raid0.Disk{ID: dev, Capacity: size / SectorSize, Index: i})
	}

	conf, err := raid0.New(context.Background(), disks, 128)
	require.NoError(t, err)

	table, err := StripedTable(conf.Zones(), conf.ChunkSectors(), []string{bigDevice, smallDevice})
	require.NoError(t, err)

	t.Run("CreateDevice", func(t *testing.T) {
		err := CreateDevice(testDeviceName, table)
		require.NoErrorf(t, err, "failed to create striped device")

		err = CreateDevice(testDeviceName, table)
		assert.EqualValues(t, unix.EBUSY, err)

		live, err := Table(testDeviceName)
		require.NoError(t, err)

		lines := strings.Split(live, "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "0 32768 striped 2 128 "))
		assert.True(t, strings.HasPrefix(lines[1], "32768 16384 linear "))

		size, err := BlockDeviceSize(GetFullDevicePath(testDeviceName))
		require.NoError(t, err)
		assert.EqualValues(t, conf.Size()*SectorSize, size)
	})

	t.Run("Info", func(t *testing.T) {
		infos, err := Info(testDeviceName)
		require.NoError(t, err)
		require.Len(t, infos, 1)

		assert.Equal(t, testDeviceName, infos[0].Name)
		assert.True(t, infos[0].TableLive)
		assert.EqualValues(t, 2, infos[0].TargetCount)
	})

	t.Run("SuspendResumeDevice", func(t *testing.T) {
		err := SuspendDevice(testDeviceName)
		assert.NoError(t, err)

		infos, err := Info(testDeviceName)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.True(t, infos[0].Suspended)

		err = ReloadDevice(testDeviceName, table)
		assert.NoError(t, err)

		err = ResumeDevice(testDeviceName)
		assert.NoError(t, err)
	})

	t.Run("RemoveDevice", func(t *testing.T) {
		err := RemoveDevice(testDeviceName, RemoveWithRetries)
		require.NoErrorf(t, err, "failed to remove striped device")

		_, err = os.Stat(GetFullDevicePath(testDeviceName))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Version", func(t *testing.T) {
		version, err := Version()
		assert.NoError(t, err)
		assert.NotEmpty(t, version)
	})
}

func createLoopbackDevice(t *testing.T, dir, size string) (string, string) {
	file, err := os.CreateTemp(dir, "dmsetup-tests-")
	require.NoError(t, err)

	bytes, err := units.RAMInBytes(size)
	require.NoError(t, err)

	err = file.Truncate(bytes)
	require.NoError(t, err)

	err = file.Close()
	require.NoError(t, err)

	imagePath := file.Name()

	loopDevice, err := losetup.AttachLoopDevice(imagePath)
	require.NoError(t, err)

	return imagePath, loopDevice
}
