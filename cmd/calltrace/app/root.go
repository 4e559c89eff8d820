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

package app

import (
	"github.com/spf13/cobra"
)

// RootCmd is the entrance to calltrace CLI
var RootCmd = &cobra.Command{
	Use:   "calltrace",
	Short: "Inspect the function call trace data directories",
	Long: `
	calltrace reads the data directory produced by the function tracer. It decodes
	the run header and the metadata recorded along with the trace, rebuilds the
	sessions and tasks out of the task event log and lets the recording tools
	append new task events to the log.
	`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(infoCmd)
	RootCmd.AddCommand(tasksCmd)
	RootCmd.AddCommand(appendCmd)
	RootCmd.AddCommand(versionCmd)
}
