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

package tasklog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(dir, event.Session{PID: 100, SID: "abc123", Time: event.NewTimestamp(10, 0), Exename: "/usr/bin/app"}))
	require.NoError(t, Write(dir, event.NewTask{TID: 100, PID: 100, Time: event.NewTimestamp(10, 1)}))
	require.NoError(t, Write(dir, event.ForkEnd{Child: 101, Parent: 100, Time: event.NewTimestamp(11, 0)}))
	require.NoError(t, Write(dir, event.Dlopen{TID: 100, SID: "abc123", Time: event.NewTimestamp(12, 0), Base: 0x7f0000001000, Libname: "libfoo.so"}))

	b, err := os.ReadFile(filepath.Join(dir, TaskTxtFile))
	require.NoError(t, err)
	assert.Equal(t, `SESS timestamp=10.000000000 pid=100 sid=abc123 exename="/usr/bin/app"
TASK timestamp=10.000000001 tid=100 pid=100
FORK timestamp=11.000000000 pid=101 ppid=100
DLOP timestamp=12.000000000 tid=100 sid=abc123 base=7f0000001000 libname="libfoo.so"
`, string(b))
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteSession(dir, event.Session{PID: 100, SID: "abc123", Time: event.NewTimestamp(10, 0), Exename: "/usr/bin/app"}))
	require.NoError(t, WriteTask(dir, event.NewTask{TID: 100, PID: 100, Time: event.NewTimestamp(10, 1)}))
	require.NoError(t, WriteTask(dir, event.NewTask{TID: 102, PID: 100, Time: event.NewTimestamp(10, 5)}))
	require.NoError(t, WriteFork(dir, event.ForkEnd{Child: 101, Parent: 100, Time: event.NewTimestamp(11, 0)}))
	require.NoError(t, WriteDlopen(dir, event.Dlopen{TID: 100, SID: "abc123", Time: event.NewTimestamp(12, 0), Base: 0x1000, Libname: "libfoo.so"}))

	reg := session.NewRegistry()
	require.NoError(t, NewText(Options{NeedsSession: true}).Read(dir, reg))

	s := reg.FindSession("abc123")
	require.NotNil(t, s)
	assert.Equal(t, "/usr/bin/app", s.Exename)
	assert.Equal(t, event.NewTimestamp(10, 0), s.Start)
	assert.Len(t, s.Tasks, 3)

	thread := reg.FindTask(102)
	require.NotNil(t, thread)
	assert.Equal(t, int32(100), thread.PID)
	assert.Equal(t, event.NewTimestamp(10, 5), thread.Start)

	child := reg.FindTask(101)
	require.NotNil(t, child)
	assert.True(t, child.Fork)
	assert.Equal(t, int32(100), child.Parent)
	assert.Equal(t, "abc123", child.SID)

	require.Len(t, s.Dlopens, 1)
	assert.Equal(t, uint64(0x1000), s.Dlopens[0].Base)
	assert.Equal(t, "libfoo.so", s.Dlopens[0].Libname)
}

func TestWriteConcurrent(t *testing.T) {
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tid := int32(i*1000 + j)
				assert.NoError(t, WriteTask(dir, event.NewTask{TID: tid, PID: int32(i), Time: event.Timestamp(j)}))
			}
		}(i)
	}
	wg.Wait()

	b, err := os.ReadFile(filepath.Join(dir, TaskTxtFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		var sec, nsec uint64
		var tid, pid int32
		n, err := fmt.Sscanf(line, "TASK timestamp=%d.%d tid=%d pid=%d", &sec, &nsec, &tid, &pid)
		require.NoError(t, err, line)
		assert.Equal(t, 4, n)
	}

	reg := session.NewRegistry()
	require.NoError(t, NewText(Options{}).Read(dir, reg))
	assert.Len(t, reg.Tasks(), 400)
}

func TestWriteFailure(t *testing.T) {
	err := WriteTask(filepath.Join(t.TempDir(), "missing"), event.NewTask{TID: 1, PID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open")
	assert.ErrorIs(t, err, errs.ErrAppendLog)

	assert.Error(t, Write(t.TempDir(), unknownEvent{}))
}

func TestWriteInvalidFields(t *testing.T) {
	var tests = []struct {
		name string
		evt  event.Event
	}{
		{"session id with spaces", event.Session{PID: 1, SID: "abc 123", Exename: "/bin/app"}},
		{"session id with tab", event.Session{PID: 1, SID: "abc\t123", Exename: "/bin/app"}},
		{"exename with newline", event.Session{PID: 1, SID: "abc123", Exename: "/bin/app\nTASK timestamp=1.000000000 tid=9 pid=9"}},
		{"exename with carriage return", event.Session{PID: 1, SID: "abc123", Exename: "/bin/app\r"}},
		{"dlopen session id with spaces", event.Dlopen{TID: 1, SID: "abc 123", Libname: "libm.so"}},
		{"libname with newline", event.Dlopen{TID: 1, SID: "abc123", Libname: "libm.so\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			err := Write(dir, tt.evt)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidEvent)
			_, err = os.Stat(filepath.Join(dir, TaskTxtFile))
			assert.True(t, os.IsNotExist(err))
		})
	}

	// names may carry spaces and quotes
	dir := t.TempDir()
	require.NoError(t, WriteSession(dir, event.Session{PID: 1, SID: "abc123", Exename: `/opt/my app/"bin"`}))
	reg := session.NewRegistry()
	require.NoError(t, NewText(Options{NeedsSession: true}).Read(dir, reg))
	require.NotNil(t, reg.FindSession("abc123"))
	assert.Equal(t, `/opt/my app/"bin"`, reg.FindSession("abc123").Exename)
}

type unknownEvent struct{}

func (unknownEvent) Kind() event.Kind           { return event.Kind(0) }
func (unknownEvent) Timestamp() event.Timestamp { return 0 }
