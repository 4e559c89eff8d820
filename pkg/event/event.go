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

package event

import (
	"fmt"
)

// Kind identifies the variant of the task event.
type Kind uint8

const (
	// NewTaskKind is the kind of the event emitted when a new thread or process starts being traced
	NewTaskKind Kind = iota + 1
	// ForkEndKind is the kind of the event describing a child task created by fork
	ForkEndKind
	// SessionKind is the kind of the event that starts a new session
	SessionKind
	// DlopenKind is the kind of the event emitted when the traced program loads a shared library
	DlopenKind
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case NewTaskKind:
		return "TASK"
	case ForkEndKind:
		return "FORK"
	case SessionKind:
		return "SESS"
	case DlopenKind:
		return "DLOP"
	default:
		return "UNKNOWN"
	}
}

// Event is the task event recorded by the instrumented program. It is implemented by
// NewTask, ForkEnd, Session and Dlopen.
type Event interface {
	// Kind returns the event variant.
	Kind() Kind
	// Timestamp returns the time when the event occurred.
	Timestamp() Timestamp
}

// NewTask notes a thread or a process that started being traced.
type NewTask struct {
	TID  int32
	PID  int32
	Time Timestamp
}

// ForkEnd notes the creation of a new task as a child of an existing one. Child is
// the pid of the forked process and Parent is the pid of the forking process.
type ForkEnd struct {
	Child  int32
	Parent int32
	Time   Timestamp
}

// Session notes a traced top-level process instance.
type Session struct {
	PID     int32
	SID     string
	Time    Timestamp
	Exename string
}

// Dlopen notes the dynamic loading of a shared library into a session.
type Dlopen struct {
	TID     int32
	SID     string
	Time    Timestamp
	Base    uint64
	Libname string
}

// Task returns the fork in the payload form shared with NewTask. The child pid takes
// the tid slot and the parent pid takes the pid slot.
func (e ForkEnd) Task() NewTask { return NewTask{TID: e.Child, PID: e.Parent, Time: e.Time} }

// Kind returns the event variant.
func (NewTask) Kind() Kind { return NewTaskKind }

// Kind returns the event variant.
func (ForkEnd) Kind() Kind { return ForkEndKind }

// Kind returns the event variant.
func (Session) Kind() Kind { return SessionKind }

// Kind returns the event variant.
func (Dlopen) Kind() Kind { return DlopenKind }

// Timestamp returns the time when the event occurred.
func (e NewTask) Timestamp() Timestamp { return e.Time }

// Timestamp returns the time when the event occurred.
func (e ForkEnd) Timestamp() Timestamp { return e.Time }

// Timestamp returns the time when the event occurred.
func (e Session) Timestamp() Timestamp { return e.Time }

// Timestamp returns the time when the event occurred.
func (e Dlopen) Timestamp() Timestamp { return e.Time }

// String renders the event in the text log format.
func (e NewTask) String() string {
	return fmt.Sprintf("TASK timestamp=%s tid=%d pid=%d", e.Time, e.TID, e.PID)
}

// String renders the event in the text log format.
func (e ForkEnd) String() string {
	return fmt.Sprintf("FORK timestamp=%s pid=%d ppid=%d", e.Time, e.Child, e.Parent)
}

// String renders the event in the text log format.
func (e Session) String() string {
	return fmt.Sprintf("SESS timestamp=%s pid=%d sid=%s exename=\"%s\"", e.Time, e.PID, e.SID, e.Exename)
}

// String renders the event in the text log format.
func (e Dlopen) String() string {
	return fmt.Sprintf("DLOP timestamp=%s tid=%d sid=%s base=%x libname=\"%s\"", e.Time, e.TID, e.SID, e.Base, e.Libname)
}
