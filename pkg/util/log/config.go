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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Prefix is the key prefix of the logging options in flags, environment and config files.
const Prefix = "logging."

const (
	logLevel      = Prefix + "level"
	logMaxAge     = Prefix + "max-age"
	logMaxBackups = Prefix + "max-backups"
	logMaxSize    = Prefix + "max-size"
	logFormatter  = Prefix + "formatter"
	logPath       = Prefix + "path"
	logStdout     = Prefix + "log-stdout"
)

// Keys returns the keys of all logging options.
func Keys() []string {
	return []string{logLevel, logMaxAge, logMaxBackups, logMaxSize, logFormatter, logPath, logStdout}
}

// Config drives where the trace tooling diagnostics go. Warnings about soft
// failures of the data directory (missing event logs, kernel data) end up here.
type Config struct {
	// Level is the minimum level of the emitted entries.
	Level string `json:"level" yaml:"level"`
	// MaxAge is the number of days the rotated files are kept. Zero keeps them forever.
	MaxAge int `json:"max-age" yaml:"max-age"`
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `json:"max-backups" yaml:"max-backups"`
	// MaxSize is the size in megabytes at which the log file is rotated.
	MaxSize int `json:"max-size" yaml:"max-size"`
	// Formatter is either json or text.
	Formatter string `json:"formatter" yaml:"formatter"`
	// Path is the directory of the log file. Empty disables the file sink.
	Path string `json:"path" yaml:"path"`
	// LogStdout mirrors the entries to the standard error stream.
	LogStdout bool `json:"log-stdout" yaml:"log-stdout"`
}

// InitFromViper reads the logging options from Viper.
func (c *Config) InitFromViper(v *viper.Viper) {
	c.Level = v.GetString(logLevel)
	c.MaxAge = v.GetInt(logMaxAge)
	c.MaxBackups = v.GetInt(logMaxBackups)
	c.MaxSize = v.GetInt(logMaxSize)
	c.Formatter = v.GetString(logFormatter)
	c.Path = v.GetString(logPath)
	c.LogStdout = v.GetBool(logStdout)
}

// AddFlags registers the logging flags. Diagnostics go to stderr only unless a path is given.
func (c *Config) AddFlags(flags *pflag.FlagSet) {
	flags.String(logLevel, "info", "Minimum level of the diagnostics (trace|debug|info|warn|error)")
	flags.Int(logMaxAge, 0, "Days to keep rotated log files. Zero keeps them forever")
	flags.Int(logMaxBackups, 15, "Number of rotated log files to keep")
	flags.Int(logMaxSize, 100, "Size in megabytes at which the log file is rotated")
	flags.String(logFormatter, "text", "Format of the diagnostics (json|text)")
	flags.String(logPath, "", "Directory of the log file. Diagnostics are not written to files if empty")
	flags.Bool(logStdout, true, "Write diagnostics to the standard error stream")
}
