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
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// flatten walks the nested settings and joins the keys with dots.
func flatten(prefix string, m map[string]interface{}, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case []interface{}:
			s := make([]string, len(val))
			for i := range val {
				s[i] = fmt.Sprintf("%v", val[i])
			}
			out[key] = strings.Join(s, ",")
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}

// Print returns the string with all the config options pretty-printed.
func (c *Config) Print() string {
	opts := make(map[string]string)
	flatten("", c.viper.AllSettings(), opts)

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Option", "Value"})
	for _, k := range keys {
		if opts[k] == "" {
			continue
		}
		t.AppendRow(table.Row{k, opts[k]})
	}
	return t.Render()
}
