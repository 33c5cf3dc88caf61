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

package debug

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// LogLevelDebug enables debug logging and strict mapping checks
	LogLevelDebug = "debug"
	// LogLevelError enables error logging
	LogLevelError = "error"
	// LogLevelInfo enables info logging
	LogLevelInfo = "info"
	// LogLevelWarning enables warning logging
	LogLevelWarning = "warning"
	// LogLevelStrict makes request mapping inconsistencies panic regardless of the log level
	LogLevelStrict = "raid0:strict"
	// LogLevelDMSetupOutput logs every dmsetup and losetup invocation with its output
	LogLevelDMSetupOutput = "dmsetup:output"
)

// ErrLogLevelAlreadySet will return if a log level has been previously set.
var ErrLogLevelAlreadySet = fmt.Errorf("only one value for top level log level can be set")

// InvalidLogLevelError is returned for unknown log level names.
type InvalidLogLevelError struct {
	Level string
}

// NewInvalidLogLevelError returns an error for an unknown log level.
func NewInvalidLogLevelError(level string) error {
	return &InvalidLogLevelError{Level: level}
}

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level: %q", e.Level)
}

// Helper is used to abstract away the complications of multilevel log levels.
type Helper struct {
	logDebug   bool
	logError   bool
	logInfo    bool
	logWarning bool

	strict           bool
	logDMSetupOutput bool
}

// New will return a new Helper in the event an error does not occur. This will
// parse the logLevels provided to figure out what logging is enabled.
func New(logLevels ...string) (*Helper, error) {
	h := &Helper{}

	if err := h.setLogLevels(logLevels); err != nil {
		return nil, err
	}

	return h, nil
}

// LogLevel returns the logrus level to run with and whether one was set.
func (h *Helper) LogLevel() (logrus.Level, bool) {
	switch {
	case h.logDebug:
		return logrus.DebugLevel, true
	case h.logError:
		return logrus.ErrorLevel, true
	case h.logInfo:
		return logrus.InfoLevel, true
	case h.logWarning:
		return logrus.WarnLevel, true
	}

	return logrus.InfoLevel, false
}

// StrictChecks reports whether mapping inconsistencies should panic.
func (h *Helper) StrictChecks() bool {
	return h.strict || h.logDebug
}

// LogDMSetupOutput reports whether external tool invocations should be logged.
func (h *Helper) LogDMSetupOutput() bool {
	return h.logDMSetupOutput || h.logDebug
}

func (h *Helper) isTopLogLevelSet() bool {
	return h.logDebug || h.logError || h.logInfo || h.logWarning
}

func (h *Helper) setLogLevels(logLevels []string) error {
	for _, level := range logLevels {
		cleanedLevel := strings.TrimSpace(level)

		switch cleanedLevel {
		case LogLevelDebug, LogLevelError, LogLevelInfo, LogLevelWarning:
			if h.isTopLogLevelSet() {
				return ErrLogLevelAlreadySet
			}
		}

		switch cleanedLevel {
		case LogLevelDebug:
			h.logDebug = true
		case LogLevelError:
			h.logError = true
		case LogLevelInfo:
			h.logInfo = true
		case LogLevelWarning:
			h.logWarning = true
		case LogLevelStrict:
			h.strict = true
		case LogLevelDMSetupOutput:
			h.logDMSetupOutput = true
		default:
			return NewInvalidLogLevelError(cleanedLevel)
		}
	}

	return nil
}
