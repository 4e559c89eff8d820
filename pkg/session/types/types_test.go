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
	"testing"

	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDlopens(t *testing.T) {
	s := NewSession(event.Session{PID: 5, SID: "abc123", Time: 100, Exename: "/bin/app"}, "uftrace.data", true)
	require.NotNil(t, s.Tasks)
	assert.True(t, s.RelativeSymbols)

	s.AddDlopen(300, 0x3000, "libc.so.6")
	s.AddDlopen(200, 0x2000, "libm.so.6")
	s.AddDlopen(400, 0x4000, "libz.so.1")

	require.Len(t, s.Dlopens, 3)
	assert.Equal(t, "libm.so.6", s.Dlopens[0].Libname)
	assert.Equal(t, "libc.so.6", s.Dlopens[1].Libname)
	assert.Equal(t, "libz.so.1", s.Dlopens[2].Libname)

	assert.Len(t, s.LibrariesAt(150), 0)
	assert.Len(t, s.LibrariesAt(300), 2)
	assert.Len(t, s.LibrariesAt(1000), 3)
}

func TestSessionTasks(t *testing.T) {
	s := NewSession(event.Session{PID: 5, SID: "abc123", Time: 100}, "uftrace.data", false)
	s.AddTask(&Task{TID: 7, PID: 5})
	s.AddTask(&Task{TID: 5, PID: 5})

	tasks := s.SortedTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, int32(5), tasks[0].TID)
	assert.True(t, tasks[0].IsMainThread())
	assert.False(t, tasks[1].IsMainThread())
	assert.Equal(t, "abc123", s.Task(7).SID)
	assert.Nil(t, s.Task(8))
	assert.Contains(t, s.String(), "tasks: 2")

	fork := &Task{TID: 9, PID: 9, Fork: true, Parent: 5}
	assert.Equal(t, "tid: 9, pid: 9, start: 0.000000000, parent: 5", fork.String())
}
