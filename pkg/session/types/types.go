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

package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rabbitstack/calltrace/pkg/event"
)

// Session stores the state of the traced top-level process instance. The session
// owns its tasks and the list of libraries loaded at runtime.
type Session struct {
	// SID is the opaque session identifier.
	SID string
	// PID is the process identifier of the session leader.
	PID int32
	// TID is the thread identifier of the session leader.
	TID int32
	// Start is the time when the session started.
	Start event.Timestamp
	// Exename is the full path of the session executable.
	Exename string
	// Dir is the data directory the session symbols are loaded from.
	Dir string
	// RelativeSymbols indicates the symbol addresses are relative to the load base.
	RelativeSymbols bool
	// Tasks contains all tasks that belong to this session keyed by thread identifier.
	Tasks map[int32]*Task
	// Dlopens contains the libraries loaded at runtime ordered by load time.
	Dlopens []Dlopen
}

// Task represents a traced thread or process.
type Task struct {
	// TID is the thread identifier.
	TID int32
	// PID is the process identifier.
	PID int32
	// Start is the time when the task was first seen.
	Start event.Timestamp
	// Fork indicates the task was created by fork.
	Fork bool
	// Parent is the thread identifier of the forking task, or zero if the parent is unknown.
	Parent int32
	// SID is the identifier of the session the task belongs to.
	SID string
}

// Dlopen describes the shared library loaded into the session.
type Dlopen struct {
	Time    event.Timestamp
	Base    uint64
	Libname string
}

// NewSession builds a new session from the session event.
func NewSession(evt event.Session, dir string, relSym bool) *Session {
	return &Session{
		SID:             evt.SID,
		PID:             evt.PID,
		TID:             evt.PID,
		Start:           evt.Time,
		Exename:         evt.Exename,
		Dir:             dir,
		RelativeSymbols: relSym,
		Tasks:           make(map[int32]*Task),
	}
}

// String returns the session summary.
func (s *Session) String() string {
	return fmt.Sprintf("sid: %s, pid: %d, exe: %s, tasks: %d, dlopens: %d", s.SID, s.PID, s.Exename, len(s.Tasks), len(s.Dlopens))
}

// AddTask adds the task to the session and stamps the task with the session id.
func (s *Session) AddTask(t *Task) {
	t.SID = s.SID
	s.Tasks[t.TID] = t
}

// Task returns the session task for the given thread identifier.
func (s *Session) Task(tid int32) *Task { return s.Tasks[tid] }

// SortedTasks returns session tasks ordered by thread identifier.
func (s *Session) SortedTasks() []*Task {
	tasks := make([]*Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TID < tasks[j].TID })
	return tasks
}

// AddDlopen inserts the library keeping the list ordered by load time.
func (s *Session) AddDlopen(ts event.Timestamp, base uint64, libname string) {
	i := sort.Search(len(s.Dlopens), func(i int) bool { return s.Dlopens[i].Time > ts })
	s.Dlopens = append(s.Dlopens, Dlopen{})
	copy(s.Dlopens[i+1:], s.Dlopens[i:])
	s.Dlopens[i] = Dlopen{Time: ts, Base: base, Libname: libname}
}

// LibrariesAt returns the libraries that were loaded at the given time.
func (s *Session) LibrariesAt(ts event.Timestamp) []Dlopen {
	i := sort.Search(len(s.Dlopens), func(i int) bool { return s.Dlopens[i].Time > ts })
	return s.Dlopens[:i]
}

// String returns the task summary.
func (t *Task) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("tid: %d, pid: %d, start: %s", t.TID, t.PID, t.Start))
	if t.Fork {
		sb.WriteString(fmt.Sprintf(", parent: %d", t.Parent))
	}
	if t.SID != "" {
		sb.WriteString(", sid: " + t.SID)
	}
	return sb.String()
}

// IsMainThread reports whether the task is the main thread of its process.
func (t *Task) IsMainThread() bool { return t.TID == t.PID }
