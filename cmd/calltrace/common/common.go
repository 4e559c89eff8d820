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

package common

import (
	"github.com/rabbitstack/calltrace/pkg/config"
	"github.com/rabbitstack/calltrace/pkg/util/log"
	"github.com/sirupsen/logrus"
)

// InitConfigAndLogger initializes the configuration and sets up the logger.
// The initialization carries on if the config file can't be loaded. In this
// situation, the flag values and their defaults drive all the behaviours.
func InitConfigAndLogger(cfg *config.Config) error {
	file := cfg.GetConfigFile()
	isLoaded := file != "" && cfg.TryLoadFile(file) == nil
	if err := cfg.Init(); err != nil {
		return err
	}
	if file == "" || isLoaded {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := log.InitFromConfig(cfg.Log, "calltrace.log"); err != nil {
		return err
	}
	if file != "" && !isLoaded {
		logrus.Warnf("unable to load configuration "+
			"from %s file. Falling back to default "+
			"settings...", file)
	}
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.Debugf("running with options:\n%s", cfg.Print())
	}
	return nil
}
