/*
 * Copyright 2019-2020 by Nedim Sabic Sabic
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

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// schema validates the options of the config file and the flags. The logging object
// holds the keys registered by log.Config.AddFlags without the log.Prefix.
var schema = `
{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"config-file":		{"type": "string"},
		"data-dir":			{"type": "string", "minLength": 1},
		"exename":			{"type": "string"},
		"depth":			{"type": "integer", "minimum": 1, "maximum": 1024},
		"time-filter":		{"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$"},
		"time-range":		{"type": "string", "pattern": "^[^~]*~[^~]*$|^$"},
		"kernel-skip-out":	{"type": "boolean"},
		"orphan-dlopen":	{"type": "string", "enum": ["skip", "fail"]},
		"logging": {
			"type": "object",
			"properties": {
				"level":		{"type": "string", "enum": ["debug", "info", "warn", "warning", "error", "fatal", "panic", "trace"]},
				"max-age":		{"type": "integer", "minimum": 0},
				"max-backups":	{"type": "integer", "minimum": 0},
				"max-size":		{"type": "integer", "minimum": 1},
				"formatter":	{"type": "string", "enum": ["json", "text"]},
				"path":			{"type": "string"},
				"log-stdout":	{"type": "boolean"}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}
`

func validate(m interface{}) (bool, []error) {
	converted, err := convertToStringKeysRecursive(m, "")
	if err != nil {
		return false, []error{fmt.Errorf("fail to convert keys to string: %v", err)}
	}
	loader := gojsonschema.NewGoLoader(converted)
	sc := gojsonschema.NewStringLoader(schema)
	r, err := gojsonschema.Validate(sc, loader)
	if err != nil {
		return false, []error{fmt.Errorf("fail to validate config file through schema: %v", err)}
	}
	errs := make([]error, len(r.Errors()))
	for i, err := range r.Errors() {
		errs[i] = errors.New(err.String())
	}
	return r.Valid(), errs
}

// convertToStringKeysRecursive ensures keys are converted to strings for jsonschema.
func convertToStringKeysRecursive(value interface{}, keyPrefix string) (interface{}, error) {
	if mapping, ok := value.(map[string]interface{}); ok {
		dict := make(map[string]interface{})
		for str, entry := range mapping {
			var newKeyPrefix string
			if keyPrefix == "" {
				newKeyPrefix = str
			} else {
				newKeyPrefix = fmt.Sprintf("%s.%s", keyPrefix, str)
			}
			convertedEntry, err := convertToStringKeysRecursive(entry, newKeyPrefix)
			if err != nil {
				return nil, err
			}
			dict[str] = convertedEntry
		}
		return dict, nil
	}
	if mapping, ok := value.(map[interface{}]interface{}); ok {
		dict := make(map[string]interface{})
		for key, entry := range mapping {
			str, ok := key.(string)
			if !ok {
				return nil, formatInvalidKeyError(keyPrefix, key)
			}
			var newKeyPrefix string
			if keyPrefix == "" {
				newKeyPrefix = str
			} else {
				newKeyPrefix = fmt.Sprintf("%s.%s", keyPrefix, str)
			}
			convertedEntry, err := convertToStringKeysRecursive(entry, newKeyPrefix)
			if err != nil {
				return nil, err
			}
			dict[str] = convertedEntry
		}
		return dict, nil
	}
	if list, ok := value.([]interface{}); ok {
		var convertedList []interface{}
		for index, entry := range list {
			newKeyPrefix := fmt.Sprintf("%s[%d]", keyPrefix, index)
			convertedEntry, err := convertToStringKeysRecursive(entry, newKeyPrefix)
			if err != nil {
				return nil, err
			}
			convertedList = append(convertedList, convertedEntry)
		}
		return convertedList, nil
	}
	return value, nil
}

func formatInvalidKeyError(keyPrefix string, key interface{}) error {
	var location string
	if keyPrefix == "" {
		location = "at top level"
	} else {
		location = fmt.Sprintf("in %s", keyPrefix)
	}
	return errors.Errorf("non-string key %s: %#v", location, key)
}
