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
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/rabbitstack/calltrace/cmd/calltrace/common"
	"github.com/rabbitstack/calltrace/pkg/config"
	"github.com/rabbitstack/calltrace/pkg/datafile"
	"github.com/rabbitstack/calltrace/pkg/session/types"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show the sessions and tasks of the trace data",
	RunE:  tasks,
}

var tasksConfig = config.NewWithOpts(config.WithTasks())

func init() {
	tasksConfig.MustViperize(tasksCmd)
}

func tasks(cmd *cobra.Command, args []string) error {
	if err := common.InitConfigAndLogger(tasksConfig); err != nil {
		return err
	}
	h, err := datafile.Open(tasksConfig)
	if err != nil {
		return err
	}
	defer h.Close()

	renderTasks(cmd.OutOrStdout(), h)
	return nil
}

// renderTasks renders the tree of sessions with their tasks and loaded libraries.
func renderTasks(w io.Writer, h *datafile.Handle) {
	l := list.NewWriter()
	l.SetOutputMirror(w)
	l.SetStyle(list.StyleConnectedLight)

	sessions := h.Sessions.Sessions()
	if len(sessions) == 0 {
		l.AppendItem(fmt.Sprintf("no sessions in %s", h.Dir))
		l.Render()
		return
	}
	for _, s := range sessions {
		l.AppendItem(fmt.Sprintf("session %s: %s (pid %d) started at %s", s.SID, s.Exename, s.PID, s.Start))
		l.Indent()
		for _, t := range s.SortedTasks() {
			l.AppendItem(taskItem(h, t))
		}
		for _, d := range s.Dlopens {
			l.AppendItem(fmt.Sprintf("dlopen %s at %#x (%s)", d.Libname, d.Base, d.Time))
		}
		l.UnIndent()
	}
	l.Render()
}

func taskItem(h *datafile.Handle, t *types.Task) string {
	kind := "task"
	if t.Fork {
		kind = "fork"
	}
	item := fmt.Sprintf("%s %d (pid %d)", kind, t.TID, t.PID)
	if t.Parent != 0 {
		item += fmt.Sprintf(" parent %d", t.Parent)
	}
	recs, err := h.Records(t.TID)
	if err != nil && len(recs) == 0 {
		return item + ": no records"
	}
	return item + ": " + humanize.Comma(int64(len(recs))) + " records"
}
