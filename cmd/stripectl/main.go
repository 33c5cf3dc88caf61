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
	"os"

	"github.com/containerd/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.L.WithError(err).Error("stripectl failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "stripectl",
		Short: "Plan, inspect and export striped (RAID-0) volumes",
		Long: `stripectl assembles a striped array from its TOML configuration, prints the
zone and bucket tables, maps logical sectors to member disks and exports the
array to device-mapper.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the array configuration file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging and strict mapping checks")

	cmd.AddCommand(
		newPlanCmd(opts),
		newMapCmd(opts),
		newReadCmd(opts),
		newTableCmd(opts),
		newCreateCmd(opts),
		newReloadCmd(opts),
		newRemoveCmd(opts),
	)

	return cmd
}
