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

package config

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/firecracker-microvm/stripevol/internal/debug"
)

const (
	// ConfigPathEnvName is the name of the environment variable used to
	// overwrite the default config path
	ConfigPathEnvName = "STRIPEVOL_CONFIG_PATH"
	defaultConfigPath = "/etc/stripevol/config.toml"

	sectorSize = 512
)

// Config describes one striped array.
//
// The default location for the configuration file is '/etc/stripevol/config.toml'
type Config struct {
	Array Array `toml:"array"`
	Debug Debug `toml:"debug"`

	DebugHelper *debug.Helper `toml:"-"`
}

// Array holds the array geometry. Sizes are human-readable strings like "64KiB" or "1GB".
type Array struct {
	Name string `toml:"name"`
	// UUID identifies the array, generated when empty
	UUID string `toml:"uuid"`

	// ChunkSize is the interleave unit, a whole number of sectors
	ChunkSize    string `toml:"chunk_size" default:"64KiB"`
	ChunkSectors uint64 `toml:"-"`

	// ImageDir holds member images created for disks that have a size but no path
	ImageDir string `toml:"image_dir" default:"/var/lib/stripevol"`

	// Attach image backed members to loop devices before exporting to device mapper
	UseLoopback bool `toml:"use_loopback"`

	// MaxBuckets limits the zone lookup table, zero means the library default
	MaxBuckets uint64 `toml:"max_buckets"`

	Disks []Disk `toml:"disk"`
}

// Disk is a member disk. Slots follow the order of disks in the file.
type Disk struct {
	ID   string `toml:"id"`
	Path string `toml:"path"`

	// Size of the image to create when Path is empty
	Size      string `toml:"size"`
	SizeBytes int64  `toml:"-"`
}

// Debug holds logging options.
type Debug struct {
	LogLevels []string `toml:"log_levels"`
}

// Load parses configuration from 'path'. An empty path falls back to the
// STRIPEVOL_CONFIG_PATH environment variable and then to the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnvName)
	}

	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config from %q", path)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %q", path)
	}

	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.parse(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parse converts human-readable sizes and fills generated values.
func (c *Config) parse() error {
	var err error

	if c.DebugHelper, err = debug.New(c.Debug.LogLevels...); err != nil {
		return err
	}

	chunkBytes, err := units.RAMInBytes(c.Array.ChunkSize)
	if err != nil {
		return errors.Wrap(err, "failed to parse chunk size")
	}

	if chunkBytes%sectorSize != 0 {
		return errors.Errorf("chunk size %q is not a multiple of %d bytes", c.Array.ChunkSize, sectorSize)
	}

	c.Array.ChunkSectors = uint64(chunkBytes / sectorSize)

	for i := range c.Array.Disks {
		disk := &c.Array.Disks[i]
		if disk.Size == "" {
			continue
		}

		if disk.SizeBytes, err = units.RAMInBytes(disk.Size); err != nil {
			return errors.Wrapf(err, "failed to parse size of disk %q", disk.ID)
		}
	}

	if c.Array.UUID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return errors.Wrap(err, "failed to generate array uuid")
		}

		c.Array.UUID = id.String()
	} else if _, err := uuid.FromString(c.Array.UUID); err != nil {
		return errors.Wrapf(err, "invalid array uuid %q", c.Array.UUID)
	}

	return nil
}

// Validate checks that the configuration describes a usable array.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Array.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name is empty"))
	}

	if c.Array.ChunkSectors == 0 {
		result = multierror.Append(result, fmt.Errorf("chunk_size is empty"))
	}

	if len(c.Array.Disks) == 0 {
		result = multierror.Append(result, fmt.Errorf("no disks configured"))
	}

	seen := make(map[string]bool, len(c.Array.Disks))
	for i, disk := range c.Array.Disks {
		if disk.ID == "" {
			result = multierror.Append(result, fmt.Errorf("disk %d: id is empty", i))
		} else if seen[disk.ID] {
			result = multierror.Append(result, fmt.Errorf("disk %d: duplicate id %q", i, disk.ID))
		}
		seen[disk.ID] = true

		if disk.Path == "" && disk.Size == "" {
			result = multierror.Append(result, fmt.Errorf("disk %q: either path or size must be set", disk.ID))
		}

		if disk.Size != "" && (disk.SizeBytes <= 0 || disk.SizeBytes%sectorSize != 0) {
			result = multierror.Append(result, fmt.Errorf("disk %q: size %q is not a positive number of sectors", disk.ID, disk.Size))
		}
	}

	return result.ErrorOrNil()
}
