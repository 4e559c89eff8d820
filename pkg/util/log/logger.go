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

package log

import (
	"expvar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rabbitstack/calltrace/pkg/util/log/rotate"
	fs "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

var loggerErrors = expvar.NewMap("logger.errors")

// InitFromConfig initializes a Logrus instance from config options. Log lines
// are written to the file in the configured logs directory, if any.
func InitFromConfig(c Config, filename string) error {
	var formatter logrus.Formatter
	switch c.Formatter {
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		formatter = &logrus.TextFormatter{DisableTimestamp: c.LogStdout && c.Path == ""}
	}
	logrus.SetFormatter(formatter)

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if c.LogStdout {
		logrus.SetOutput(os.Stderr)
	} else {
		logrus.SetOutput(io.Discard)
	}

	if c.Path == "" {
		return nil
	}
	if _, err := os.Stat(c.Path); err != nil {
		if err := os.MkdirAll(c.Path, os.ModePerm); err != nil {
			return fmt.Errorf("unable to create the %s logs directory: %v", c.Path, err)
		}
	}

	file := filepath.Join(c.Path, filename)

	rhook, err := rotate.NewHook(rotate.Config{
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
		MaxSize:    c.MaxSize,
		Level:      level,
		Formatter:  formatter,
		Filename:   file,
	})
	if err != nil {
		loggerErrors.Add(err.Error(), 1)
		// fall back to the plain file hook
		var pathMap fs.PathMap = make(map[logrus.Level]string)
		for _, lvl := range logrus.AllLevels {
			pathMap[lvl] = file
		}
		logrus.AddHook(fs.NewHook(pathMap, formatter))
		logrus.Warnf("unable to initialize rotate file hook: %v", err)
		return nil
	}
	logrus.AddHook(rhook)

	return nil
}
