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

package rotate

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the configuration for the rotate file hook.
type Config struct {
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Level      logrus.Level
	Formatter  logrus.Formatter
}

// Hook writes log entries to the file that is rotated once it grows over the size limit.
type Hook struct {
	config Config
	w      io.WriteCloser
}

// maxFrames bounds the stack walk for the caller outside of logrus
const maxFrames = 20

// NewHook builds a new rotate file hook.
func NewHook(config Config) (*Hook, error) {
	if config.Filename == "" {
		return nil, errors.New("log file name is empty")
	}
	if config.MaxSize <= 0 {
		return nil, fmt.Errorf("invalid max log file size %d", config.MaxSize)
	}
	if config.Formatter == nil {
		config.Formatter = &logrus.TextFormatter{}
	}
	return &Hook{
		config: config,
		w: &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
		},
	}, nil
}

// Levels determines log levels that for which the logs are written.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.config.Level+1]
}

// Fire is called by logrus when it is about to write the log entry.
func (h *Hook) Fire(entry *logrus.Entry) error {
	modified := entry.WithField("source", caller())
	modified.Level = entry.Level
	modified.Message = entry.Message
	modified.Time = entry.Time
	b, err := h.config.Formatter.Format(modified)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}

// Close closes the underlying log file.
func (h *Hook) Close() error { return h.w.Close() }

// caller returns the file and line of the first frame outside of logrus and this package.
func caller() string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "sirupsen/logrus") && !strings.Contains(frame.File, "util/log/rotate") {
			return fmt.Sprintf("%s:%d", shortPath(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}

// shortPath keeps the package directory and the file name.
func shortPath(file string) string {
	n := 0
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			n++
			if n >= 2 {
				return file[i+1:]
			}
		}
	}
	return file
}
