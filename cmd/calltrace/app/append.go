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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rabbitstack/calltrace/cmd/calltrace/common"
	"github.com/rabbitstack/calltrace/pkg/config"
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/tasklog"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var appendCmd = &cobra.Command{
	Use:       "append task|fork|session|dlopen",
	Short:     "Append the task event to the text event log",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"task", "fork", "session", "dlopen"},
	RunE:      appendEvent,
}

var appendConfig = config.NewWithOpts(config.WithAppend())

// event fields
var (
	tid       int32
	pid       int32
	ppid      int32
	sid       string
	exe       string
	base      string
	libname   string
	timestamp string
)

func init() {
	appendConfig.MustViperize(appendCmd)

	flags := appendCmd.Flags()
	flags.Int32Var(&tid, "tid", 0, "Thread identifier of the task")
	flags.Int32Var(&pid, "pid", 0, "Process identifier of the task. Denotes the child process for fork events")
	flags.Int32Var(&ppid, "ppid", 0, "Process identifier of the forking process")
	flags.StringVar(&sid, "sid", "", "Session identifier")
	flags.StringVar(&exe, "exe", "", "Executable path of the session")
	flags.StringVar(&base, "base", "0", "Load base of the library in hexadecimal")
	flags.StringVar(&libname, "libname", "", "Path of the loaded library")
	flags.StringVar(&timestamp, "timestamp", "", "Event timestamp as <sec>.<nsec>. Defaults to the current time")
}

func appendEvent(cmd *cobra.Command, args []string) error {
	if err := common.InitConfigAndLogger(appendConfig); err != nil {
		return err
	}
	evt, err := buildEvent(args[0])
	if err != nil {
		return err
	}
	dir := appendConfig.DataDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := tasklog.Write(dir, evt); err != nil {
		return err
	}
	log.Debugf("appended %s event to %s", evt.Kind(), dir)
	return nil
}

func buildEvent(kind string) (event.Event, error) {
	ts := event.Timestamp(time.Now().UnixNano())
	if timestamp != "" {
		var err error
		ts, err = event.ParseTimestamp(timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %v", timestamp, err)
		}
	}

	switch strings.ToLower(kind) {
	case "task":
		return event.NewTask{TID: tid, PID: pid, Time: ts}, nil
	case "fork":
		return event.ForkEnd{Child: pid, Parent: ppid, Time: ts}, nil
	case "session":
		if sid == "" || exe == "" {
			return nil, fmt.Errorf("session event requires --sid and --exe")
		}
		return event.Session{PID: pid, SID: sid, Time: ts, Exename: exe}, nil
	case "dlopen":
		if sid == "" || libname == "" {
			return nil, fmt.Errorf("dlopen event requires --sid and --libname")
		}
		var addr uint64
		if _, err := fmt.Sscanf(strings.TrimPrefix(base, "0x"), "%x", &addr); err != nil {
			return nil, fmt.Errorf("invalid load base %q: %v", base, err)
		}
		return event.Dlopen{TID: tid, SID: sid, Time: ts, Base: addr, Libname: libname}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
