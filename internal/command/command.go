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

package command

import (
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/containerd/log"
)

var logOutput atomic.Bool

// LogOutput toggles logging of every command line and its combined output.
func LogOutput(enable bool) {
	logOutput.Store(enable)
}

// Run executes name with args, feeding stdin if it's not empty, and returns the combined
// output with the trailing newline stripped.
func Run(name, stdin string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	data, err := cmd.CombinedOutput()
	output := strings.TrimSuffix(string(data), "\n")

	if logOutput.Load() {
		entry := log.L.WithField("command", name+" "+strings.Join(args, " "))
		if stdin != "" {
			entry = entry.WithField("stdin", stdin)
		}

		if err != nil {
			entry = entry.WithError(err)
		}

		entry.Info(output)
	}

	return output, err
}
