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

package event

import (
	"fmt"
	"strconv"
	"strings"
)

// NsecPerSec is the number of nanoseconds in one second
const NsecPerSec = 1000000000

// Timestamp is the nanosecond counter taken when the event occurred.
type Timestamp uint64

// NewTimestamp composes the timestamp from seconds and nanoseconds.
func NewTimestamp(sec, nsec uint64) Timestamp { return Timestamp(sec*NsecPerSec + nsec) }

// Sec returns the whole seconds of the timestamp.
func (ts Timestamp) Sec() uint64 { return uint64(ts) / NsecPerSec }

// Nsec returns the nanoseconds part of the timestamp.
func (ts Timestamp) Nsec() uint64 { return uint64(ts) % NsecPerSec }

// String renders the timestamp as seconds with the 9-digit fractional part.
func (ts Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", ts.Sec(), ts.Nsec())
}

// ParseTimestamp parses the timestamp in the sec.nsec form. The fractional part is
// taken as a plain nanosecond count, so 10.5 yields 10 seconds and 5 nanoseconds.
func ParseTimestamp(s string) (Timestamp, error) {
	sec, nsec, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q: missing fractional part", s)
	}
	secs, err := strconv.ParseUint(sec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp seconds %q: %v", s, err)
	}
	nsecs, err := strconv.ParseUint(nsec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp nanoseconds %q: %v", s, err)
	}
	return NewTimestamp(secs, nsecs), nil
}
