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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rabbitstack/calltrace/pkg/util/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configFile    = "config-file"
	dataDir       = "data-dir"
	exename       = "exename"
	depth         = "depth"
	timeFilter    = "time-filter"
	timeRange     = "time-range"
	kernelSkipOut = "kernel-skip-out"
	orphanDlopen  = "orphan-dlopen"
)

const (
	// DefaultDataDir is the name of the data directory created by the record command
	DefaultDataDir = "uftrace.data"
	// LegacyDataDir is the name of the data directory used by older releases
	LegacyDataDir = "ftrace.data"
	// MaxDepth is the maximum depth of the function call stack
	MaxDepth = 1024
)

// Config stores the options that drive opening and analyzing the trace data directory.
type Config struct {
	// DataDir is the directory holding the trace data. It is updated to the legacy
	// directory name when the data is found there.
	DataDir string `json:"data-dir" yaml:"data-dir"`
	// Exename is the name of the traced executable. When empty, it is taken from the
	// info section of the data directory.
	Exename string `json:"exename" yaml:"exename"`
	// Depth limits the depth of the function calls
	Depth int `json:"depth" yaml:"depth"`
	// TimeFilter hides functions that ran for less than the threshold
	TimeFilter time.Duration `json:"time-filter" yaml:"time-filter"`
	// TimeRange restricts the analysis to the records inside the range
	TimeRange TimeRange `json:"time-range" yaml:"time-range"`
	// KernelSkipOut omits kernel functions running outside of user functions
	KernelSkipOut bool `json:"kernel-skip-out" yaml:"kernel-skip-out"`
	// OrphanDlopen decides what happens with dlopen events of unknown sessions (skip|fail)
	OrphanDlopen string `json:"orphan-dlopen" yaml:"orphan-dlopen"`
	// Log contains log-specific configuration options
	Log log.Config `json:"logging" yaml:"logging"`

	flags *pflag.FlagSet
	viper *viper.Viper
	opts  *Options
}

// Options determines which config flags are toggled depending on the command type.
type Options struct {
	info  bool
	tasks bool
	write bool
}

// Option is the type alias for the config option.
type Option func(*Options)

// WithInfo determines the info command is executed.
func WithInfo() Option {
	return func(o *Options) {
		o.info = true
	}
}

// WithTasks determines the tasks command is executed.
func WithTasks() Option {
	return func(o *Options) {
		o.tasks = true
	}
}

// WithAppend determines the append command is executed.
func WithAppend() Option {
	return func(o *Options) {
		o.write = true
	}
}

// NewWithOpts builds a new configuration with the flags registered for the given command type.
func NewWithOpts(options ...Option) *Config {
	opts := &Options{}

	for _, opt := range options {
		opt(opts)
	}

	v := viper.New()
	v.SetEnvPrefix("calltrace")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	c := &Config{
		Log:   log.Config{},
		viper: v,
		flags: new(pflag.FlagSet),
		opts:  opts,
	}
	c.addFlags()

	return c
}

// Init populates the config fields from the flags, environment and the config file.
func (c *Config) Init() error {
	c.DataDir = c.viper.GetString(dataDir)
	c.Exename = c.viper.GetString(exename)
	c.Depth = c.viper.GetInt(depth)
	c.TimeFilter = c.viper.GetDuration(timeFilter)
	c.KernelSkipOut = c.viper.GetBool(kernelSkipOut)
	c.OrphanDlopen = c.viper.GetString(orphanDlopen)
	c.Log.InitFromViper(c.viper)

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Depth <= 0 {
		c.Depth = MaxDepth
	}

	var ranges struct {
		TimeRange TimeRange `mapstructure:"time-range"`
	}
	if err := decode(map[string]interface{}{timeRange: c.viper.GetString(timeRange)}, &ranges); err != nil {
		return fmt.Errorf("invalid %s value: %v", timeRange, err)
	}
	c.TimeRange = ranges.TimeRange

	return nil
}

// TryLoadFile attempts to load the configuration file from specified path on the file system.
func (c *Config) TryLoadFile(file string) error {
	c.viper.SetConfigFile(file)
	return c.viper.ReadInConfig()
}

// Validate ensures that all configuration options provided by user have the expected values. It returns
// a list of validation errors prefixed with the offending configuration property/flag.
func (c *Config) Validate() error {
	if file := c.GetConfigFile(); file != "" {
		var out interface{}
		b, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		switch filepath.Ext(file) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, &out)
		case ".json":
			err = json.Unmarshal(b, &out)
		default:
			return fmt.Errorf("%s is not a supported config file extension", filepath.Ext(file))
		}
		if err != nil {
			return fmt.Errorf("couldn't read the config file: %v", err)
		}
		if valid, errs := validate(out); !valid || len(errs) > 0 {
			return fmt.Errorf("invalid config: %v", multierror.Append(nil, errs...))
		}
	}
	if valid, errs := validate(c.viper.AllSettings()); !valid || len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", multierror.Append(nil, errs...))
	}
	return nil
}

// GetConfigFile gets the path of the configuration file from Viper value.
func (c *Config) GetConfigFile() string { return c.viper.GetString(configFile) }

// MustViperize adds the flag set to the Cobra command and binds them within the Viper flags.
func (c *Config) MustViperize(cmd *cobra.Command) {
	cmd.PersistentFlags().AddFlagSet(c.flags)
	if err := c.viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

func (c *Config) addFlags() {
	c.flags.String(configFile, "", "Indicates the location of the configuration file")
	c.flags.StringP(dataDir, "d", DefaultDataDir, "Specifies the directory holding the trace data")
	if c.opts.info || c.opts.tasks {
		c.flags.String(exename, "", "Specifies the name of the traced executable. Taken from the trace data when omitted")
		c.flags.Int(depth, MaxDepth, "Limits the depth of the function calls")
		c.flags.Duration(timeFilter, 0, "Hides functions that ran for less than the given duration")
		c.flags.String(timeRange, "", "Restricts the analysis to the time range given as <start>~<stop>")
		c.flags.Bool(kernelSkipOut, false, "Omits kernel functions running outside of user functions")
		c.flags.String(orphanDlopen, "skip", "Determines what happens with dlopen events of unknown sessions (skip|fail)")
	}
	c.Log.AddFlags(c.flags)
}
