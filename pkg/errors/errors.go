/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrMagicMismatch is returned when the run header doesn't start with the trace magic string
	ErrMagicMismatch = errors.New("invalid magic string found")
	// ErrShortHeader signals the info file is too small to hold the run header
	ErrShortHeader = errors.New("cannot read header data")
	// ErrFormatAbsent denotes the event log format is not present in the data directory.
	// It is the signal for falling back to the older event log format.
	ErrFormatAbsent = errors.New("event log format not present")
	// ErrCorruptedLog is returned when the event log contains invalid contents
	ErrCorruptedLog = errors.New("invalid contents in task file")
	// ErrNoTraceData is thrown when the data directory lacks the info file
	ErrNoTraceData = errors.New("cannot find trace data")
	// ErrInvalidRecord is returned when the record doesn't carry the record magic
	ErrInvalidRecord = errors.New("invalid record magic")
	// ErrAppendLog signals the text event log couldn't be opened or written for append
	ErrAppendLog = errors.New("cannot append to task file")
	// ErrInvalidEvent is returned when the event carries a value the text event log can't represent
	ErrInvalidEvent = errors.New("invalid task event")

	// ErrNotInstrumented hints the traced program was not built with the instrumentation support
	ErrNotInstrumented = func(path, exe string) error {
		return fmt.Errorf("cannot find %s file! Was '%s' compiled with -pg or "+
			"-finstrument-functions flag and ran with the record command? %w", path, exe, ErrNoTraceData)
	}
	// ErrInvalidEventField is raised when the event field would break the line format of the text event log
	ErrInvalidEventField = func(field, value string) error {
		return fmt.Errorf("%w: %s %q contains line breaks or whitespace", ErrInvalidEvent, field, value)
	}
	// ErrInvalidTaskLine is raised when the mandatory quoted marker is missing from the text log line
	ErrInvalidTaskLine = func(marker string, lineno int) error {
		return fmt.Errorf("invalid task.txt format: missing %s marker on line %d", marker, lineno)
	}
)

// ErrUnsupportedVersion is the error thrown when the run header version is outside the supported range
type ErrUnsupportedVersion struct {
	Version uint32
	Min     uint32
	Max     uint32
}

// Error returns the error message.
func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported file version: %d (supported versions are %d to %d)", e.Version, e.Min, e.Max)
}

// ErrSessionNotFound is the error thrown when the dlopen event references an unknown session.
type ErrSessionNotFound struct {
	SID string
}

// Error returns the error message.
func (e ErrSessionNotFound) Error() string {
	return "couldn't find session " + e.SID + " for the dlopen event"
}

// IsFormatAbsent determines if the error signals a missing event log format.
func IsFormatAbsent(err error) bool { return errors.Is(err, ErrFormatAbsent) }

// IsUnsupportedVersion returns true if the error is ErrUnsupportedVersion.
func IsUnsupportedVersion(err error) bool {
	var e ErrUnsupportedVersion
	return errors.As(err, &e)
}

// IsSoft determines whether the error allows the trace to be analyzed with reduced
// functionality. All other errors abort opening the data directory.
func IsSoft(err error) bool {
	return errors.Is(err, ErrFormatAbsent) || errors.Is(err, ErrCorruptedLog)
}
