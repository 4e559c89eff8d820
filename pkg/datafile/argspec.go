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

package datafile

import (
	"fmt"
	"strings"
)

// ArgSpec describes which arguments and return value are recorded for the functions
// matching the pattern.
type ArgSpec struct {
	Pattern string
	Args    []string
	Retval  bool
	Auto    bool
}

// ArgSpecSetup prepares the argument specifications recorded in the info file.
type ArgSpecSetup interface {
	// Setup parses the argument spec lines. Auto is set when the arguments of
	// well-known functions were recorded automatically.
	Setup(spec []string, auto bool) ([]ArgSpec, error)
}

type argSpecSetup struct{}

// NewArgSpecSetup returns the parser of the <pattern>@<arg>,...,retval spec entries
// separated by semicolons.
func NewArgSpecSetup() ArgSpecSetup { return argSpecSetup{} }

func (argSpecSetup) Setup(spec []string, auto bool) ([]ArgSpec, error) {
	specs := make([]ArgSpec, 0)
	for _, line := range spec {
		for _, entry := range strings.Split(line, ";") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			pattern, args, ok := strings.Cut(entry, "@")
			if !ok || pattern == "" || args == "" {
				return nil, fmt.Errorf("invalid argument spec %q", entry)
			}
			s := ArgSpec{Pattern: pattern, Auto: auto}
			for _, arg := range strings.Split(args, ",") {
				switch {
				case arg == "retval" || strings.HasPrefix(arg, "retval/"):
					s.Retval = true
				case strings.HasPrefix(arg, "arg") || strings.HasPrefix(arg, "fparg"):
					s.Args = append(s.Args, arg)
				default:
					return nil, fmt.Errorf("unknown argument %q in spec %q", arg, entry)
				}
			}
			specs = append(specs, s)
		}
	}
	return specs, nil
}
