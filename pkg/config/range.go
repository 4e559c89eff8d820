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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rabbitstack/calltrace/pkg/event"
)

// TimeRange restricts the analysis to the records captured between two points in time.
// Each bound is either an absolute timestamp (<sec>.<nsec>) or a duration elapsed since
// the first record. The zero value of a bound leaves that side of the range open.
type TimeRange struct {
	Start        event.Timestamp
	Stop         event.Timestamp
	StartElapsed bool
	StopElapsed  bool
}

// ParseTimeRange parses the time range given in the <start>~<stop> form. Either side may be empty.
func ParseTimeRange(s string) (TimeRange, error) {
	var r TimeRange
	if s == "" {
		return r, nil
	}
	start, stop, ok := strings.Cut(s, "~")
	if !ok {
		return r, fmt.Errorf("%q is missing the ~ separator", s)
	}
	var err error
	if r.Start, r.StartElapsed, err = parseBound(start); err != nil {
		return r, err
	}
	if r.Stop, r.StopElapsed, err = parseBound(stop); err != nil {
		return r, err
	}
	if r.Stop != 0 && r.StartElapsed == r.StopElapsed && r.Start > r.Stop {
		return r, fmt.Errorf("range start %s is past the range stop %s", start, stop)
	}
	return r, nil
}

func parseBound(s string) (event.Timestamp, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, false, fmt.Errorf("negative duration %s", s)
		}
		return event.Timestamp(d.Nanoseconds()), true, nil
	}
	ts, err := event.ParseTimestamp(s)
	if err != nil {
		return 0, false, fmt.Errorf("%q is neither a timestamp nor a duration", s)
	}
	return ts, false, nil
}

// IsSet returns true if any of the bounds is given.
func (r TimeRange) IsSet() bool { return r.Start != 0 || r.Stop != 0 }

// String returns the range in the <start>~<stop> form.
func (r TimeRange) String() string {
	if !r.IsSet() {
		return ""
	}
	return bound(r.Start, r.StartElapsed) + "~" + bound(r.Stop, r.StopElapsed)
}

func bound(ts event.Timestamp, elapsed bool) string {
	switch {
	case ts == 0:
		return ""
	case elapsed:
		return time.Duration(ts).String()
	default:
		return ts.String()
	}
}
