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

package datafile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rabbitstack/calltrace/pkg/config"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/tasklog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const taskTxt = `SESS timestamp=100.000000000 pid=500 sid=0123456789abcdef exename="/usr/bin/app"
TASK timestamp=100.000000100 tid=500 pid=500
TASK timestamp=100.000000200 tid=501 pid=500
FORK timestamp=101.000000000 pid=502 ppid=500
DLOP timestamp=102.000000000 tid=500 sid=0123456789abcdef base=7f0000000000 libname="libm.so.6"
`

func testInfo() *Info {
	info := NewInfo()
	info.Exename = "/usr/bin/app"
	info.Cmdline = "app -v"
	return info.Set(ExeName).Set(Cmdline)
}

func testConfig(dir string) *config.Config {
	return &config.Config{DataDir: dir, Depth: config.MaxDepth, OrphanDlopen: "skip"}
}

func writeDataDir(t *testing.T, dir string, hdr *Header, info *Info) {
	require.NoError(t, os.MkdirAll(dir, 0755))
	if hdr.Version == 0 {
		hdr.Version = Version
	}
	if hdr.Endian == 0 {
		hdr.Endian = NativeEndian()
	}
	hdr.Class = ElfClass64
	hdr.InfoMask = info.Mask()
	raw, err := hdr.MarshalBinary()
	require.NoError(t, err)
	text, err := info.MarshalText()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, InfoFile), append(raw, text...), 0644))
}

func writeFile(t *testing.T, dir, name string, b []byte) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), b, 0644))
}

// legacyTaskLog encodes the session and the task messages of the binary event log.
func legacyTaskLog(order binary.ByteOrder) []byte {
	var buf bytes.Buffer
	msg := func(typ tasklog.MsgType, payload []byte) {
		env := make([]byte, tasklog.EnvelopeSize)
		order.PutUint16(env[0:], tasklog.MsgMagic)
		order.PutUint16(env[2:], uint16(typ))
		order.PutUint32(env[4:], uint32(len(payload)))
		buf.Write(env)
		buf.Write(payload)
	}
	task := func(ts uint64, pid, tid int32) []byte {
		b := make([]byte, tasklog.TaskMsgSize)
		order.PutUint64(b[0:], ts)
		order.PutUint32(b[8:], uint32(pid))
		order.PutUint32(b[12:], uint32(tid))
		return b
	}

	name := "/usr/bin/app"
	sess := make([]byte, tasklog.SessionMsgSize)
	copy(sess, task(uint64(event.NewTimestamp(100, 0)), 500, 500))
	copy(sess[16:32], "0123456789abcdef")
	order.PutUint32(sess[36:], uint32(len(name)))
	sess = append(sess, name...)
	sess = append(sess, make([]byte, 8-len(name)%8)...)

	msg(tasklog.MsgSession, sess)
	msg(tasklog.MsgTID, task(uint64(event.NewTimestamp(100, 100)), 500, 500))
	msg(tasklog.MsgForkEnd, task(uint64(event.NewTimestamp(101, 0)), 500, 502))
	return buf.Bytes()
}

func TestOpenTextEventLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace.data")
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask() | SymRelAddr.Mask()}, testInfo())
	writeFile(t, dir, tasklog.TaskTxtFile, []byte(taskTxt))

	cfg := testConfig(dir)
	h := newHandle(cfg)
	require.NoError(t, h.open(newOptions()))
	assert.Equal(t, "ready", h.State())

	assert.Equal(t, dir, h.Dir)
	assert.Equal(t, tasklog.TaskTxtFile, h.EventLog)
	assert.Equal(t, "/usr/bin/app", cfg.Exename)
	assert.Equal(t, uint16(config.MaxDepth), h.Header.MaxStack)

	require.Equal(t, uint32(1), h.Sessions.Size())
	s := h.Sessions.FindSession("0123456789abcdef")
	require.NotNil(t, s)
	assert.True(t, s.RelativeSymbols)
	assert.Len(t, s.Tasks, 3)
	require.Len(t, s.Dlopens, 1)
	assert.Equal(t, uint64(0x7f0000000000), s.Dlopens[0].Base)
	assert.Equal(t, int32(500), h.Sessions.FindTask(502).Parent)

	_, ok := h.Kernel()
	assert.False(t, ok)

	require.NoError(t, h.Close())
	assert.Empty(t, cfg.Exename)
	assert.Nil(t, h.Info)
	assert.Equal(t, uint32(0), h.Sessions.Size())
}

func TestOpenKeepsConfiguredExename(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{}, testInfo())

	cfg := testConfig(dir)
	cfg.Exename = "/opt/other"
	h, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/opt/other", cfg.Exename)
	require.NoError(t, h.Close())
	assert.Equal(t, "/opt/other", cfg.Exename)
}

func TestOpenLegacyEventLog(t *testing.T) {
	for _, endian := range []uint8{ElfDataLSB, ElfDataMSB} {
		t.Run(fmt.Sprintf("endian %d", endian), func(t *testing.T) {
			dir := t.TempDir()
			hdr := &Header{Endian: endian, FeatMask: TaskSession.Mask()}
			writeDataDir(t, dir, hdr, testInfo())

			order := binary.ByteOrder(binary.LittleEndian)
			if endian == ElfDataMSB {
				order = binary.BigEndian
			}
			writeFile(t, dir, tasklog.TaskFile, legacyTaskLog(order))

			h, err := Open(testConfig(dir))
			require.NoError(t, err)
			defer h.Close()

			assert.Equal(t, tasklog.TaskFile, h.EventLog)
			s := h.Sessions.FindSession("0123456789abcdef")
			require.NotNil(t, s)
			assert.Equal(t, "/usr/bin/app", s.Exename)
			assert.Equal(t, event.NewTimestamp(100, 0), s.Start)
			require.NotNil(t, s.Task(500))
			require.NotNil(t, s.Task(502))
			assert.True(t, s.Task(502).Fork)
		})
	}
}

func TestOpenWithoutEventLog(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask()}, testInfo())

	h, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, "ready", h.State())
	assert.Empty(t, h.EventLog)
	assert.Equal(t, uint32(0), h.Sessions.Size())
}

func TestOpenFatalEventLogError(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask()}, testInfo())
	writeFile(t, dir, tasklog.TaskTxtFile, []byte("SESS timestamp=1.000000000 pid=1 sid=abc\n"))

	cfg := testConfig(dir)
	h := newHandle(cfg)
	err := h.open(newOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing exename= marker")
	assert.Equal(t, "failed", h.State())
	assert.Empty(t, cfg.Exename)
}

func TestOpenOrphanDlopenPolicy(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask()}, testInfo())
	writeFile(t, dir, tasklog.TaskTxtFile, []byte(`DLOP timestamp=1.000000000 tid=1 sid=ffff base=1000 libname="libx.so"`+"\n"))

	h, err := Open(testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	cfg := testConfig(dir)
	cfg.OrphanDlopen = "fail"
	_, err = Open(cfg)
	require.Error(t, err)
	var nf errs.ErrSessionNotFound
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "ffff", nf.SID)

	cfg.OrphanDlopen = "explode"
	_, err = Open(cfg)
	require.Error(t, err)
}

func TestOpenVersions(t *testing.T) {
	for _, version := range []uint32{VersionMin - 1, Version + 1} {
		dir := t.TempDir()
		writeDataDir(t, dir, &Header{Version: version}, testInfo())

		h := newHandle(testConfig(dir))
		err := h.open(newOptions())
		require.Error(t, err)
		assert.True(t, errs.IsUnsupportedVersion(err))
		assert.Equal(t, "failed", h.State())
	}
}

func TestOpenInvalidHeader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, InfoFile, []byte("Ftrace!\x00short"))
	_, err := Open(testConfig(dir))
	assert.ErrorIs(t, err, errs.ErrShortHeader)

	raw := make([]byte, HeaderSize)
	copy(raw, "NotTrace")
	writeFile(t, dir, InfoFile, raw)
	_, err = Open(testConfig(dir))
	assert.ErrorIs(t, err, errs.ErrMagicMismatch)
}

func TestOpenInfoFailure(t *testing.T) {
	dir := t.TempDir()
	info := testInfo()
	writeDataDir(t, dir, &Header{}, info)

	r := new(InfoReaderMock)
	r.On("Read", mock.Anything, info.Mask()).Return(nil, errors.New("garbled"))

	h := newHandle(testConfig(dir))
	err := h.open(newOptions(WithInfoReader(r)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read header info")
	assert.Equal(t, "failed", h.State())
	r.AssertExpectations(t)
}

func TestOpenMaxStack(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: MaxStack.Mask(), MaxStack: 128}, testInfo())

	h, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, uint16(128), h.Header.MaxStack)
}

func TestOpenArgSpecs(t *testing.T) {
	dir := t.TempDir()
	info := testInfo()
	info.ArgSpec = []string{"main@arg1"}
	info.Set(ArgSpecInfo)
	writeDataDir(t, dir, &Header{FeatMask: Argument.Mask() | AutoArgs.Mask()}, info)

	specs := []ArgSpec{{Pattern: "main", Args: []string{"arg1"}, Auto: true}}
	s := new(ArgSpecSetupMock)
	s.On("Setup", []string{"main@arg1"}, true).Return(specs, nil)

	h, err := Open(testConfig(dir), WithArgSpecSetup(s))
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, specs, h.ArgSpecs)
	s.AssertExpectations(t)
}

func TestOpenKernel(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: KernelTrace.Mask()}, testInfo())

	t.Run("setup failure", func(t *testing.T) {
		k := new(KernelMock)
		k.On("Setup", dir, true).Return(errors.New("no kernel data"))

		cfg := testConfig(dir)
		cfg.KernelSkipOut = true
		h, err := Open(cfg, WithKernel(k))
		require.NoError(t, err)
		_, ok := h.Kernel()
		assert.False(t, ok)
		require.NoError(t, h.Close())
		k.AssertNotCalled(t, "LoadSymbols", mock.Anything)
	})

	t.Run("setup", func(t *testing.T) {
		k := new(KernelMock)
		k.On("Setup", dir, false).Return(nil)
		k.On("LoadSymbols", dir).Return(errors.New("no kallsyms"))
		k.On("Close").Return(nil)

		h, err := Open(testConfig(dir), WithKernel(k))
		require.NoError(t, err)
		_, ok := h.Kernel()
		assert.True(t, ok)
		require.NoError(t, h.Close())
		k.AssertExpectations(t)
	})
}

func chdir(t *testing.T, dir string) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestOpenLegacyDirectory(t *testing.T) {
	chdir(t, t.TempDir())
	writeDataDir(t, config.LegacyDataDir, &Header{}, testInfo())

	cfg := testConfig(config.DefaultDataDir)
	h, err := Open(cfg)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, config.LegacyDataDir, h.Dir)
	assert.Equal(t, config.LegacyDataDir, cfg.DataDir)
}

func TestOpenMissingData(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := testConfig(config.DefaultDataDir)
	_, err := Open(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoTraceData)
	assert.Contains(t, err.Error(), filepath.Join(config.DefaultDataDir, InfoFile))

	cfg.Exename = "/usr/bin/app"
	_, err = Open(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoTraceData)
	assert.Contains(t, err.Error(), "-finstrument-functions")
	assert.Equal(t, config.DefaultDataDir, cfg.DataDir)

	// only the default directory falls back to the legacy one
	writeDataDir(t, config.LegacyDataDir, &Header{}, testInfo())
	_, err = Open(testConfig("custom.data"))
	assert.ErrorIs(t, err, errs.ErrNoTraceData)
}

func TestHandleRecords(t *testing.T) {
	dir := t.TempDir()
	hdr := &Header{Endian: foreignEndian()}
	writeDataDir(t, dir, hdr, testInfo())

	order := binary.ByteOrder(binary.LittleEndian)
	if foreignEndian() == ElfDataMSB {
		order = binary.BigEndian
	}
	var buf bytes.Buffer
	for i := 0; i < 4; i++ {
		rec := Record{Time: event.NewTimestamp(10, uint64(i*100)), Type: Entry, Magic: RecordMagic, Depth: uint16(i), Addr: 0x401000 + uint64(i)}
		buf.Write(EncodeRecord(rec, order, producerBitOrder(foreignEndian())))
	}
	writeFile(t, dir, "500.dat", buf.Bytes())

	cfg := testConfig(dir)
	cfg.Depth = 3
	h, err := Open(cfg)
	require.NoError(t, err)
	defer h.Close()
	require.True(t, h.Header.ByteSwap)

	recs, err := h.Records(500)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(0x401002), recs[2].Addr)

	h.TimeRange = config.TimeRange{Start: 100, StartElapsed: true, Stop: event.NewTimestamp(10, 200)}
	recs, err = h.Records(500)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, event.NewTimestamp(10, 100), recs[0].Time)

	_, err = h.Records(501)
	assert.Error(t, err)
}

func TestOpenTaskBeforeSession(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask()}, testInfo())
	writeFile(t, dir, tasklog.TaskTxtFile, []byte("TASK timestamp=10.000000001 tid=5 pid=5\n"+
		`SESS timestamp=10.000000000 pid=5 sid=abc123 exename="/bin/app"`+"\n"))

	h, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, uint32(1), h.Sessions.Size())
	s := h.Sessions.FindSession("abc123")
	require.NotNil(t, s)
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, event.NewTimestamp(10, 1), s.Task(5).Start)
}

func TestOpenDropsPartialTextLog(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask()}, testInfo())
	writeFile(t, dir, tasklog.TaskTxtFile, []byte("TASK timestamp=1.000000000 tid=777 pid=777\n"+
		"TASK "+strings.Repeat("x", 2<<20)+"\n"))
	writeFile(t, dir, tasklog.TaskFile, legacyTaskLog(new(Header).ByteOrder()))

	h, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, tasklog.TaskFile, h.EventLog)
	assert.Nil(t, h.Sessions.FindTask(777))
	assert.Len(t, h.Sessions.Tasks(), 2)
}

func TestOpenDropsPartialLegacyLog(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, &Header{FeatMask: TaskSession.Mask()}, testInfo())
	b := legacyTaskLog(new(Header).ByteOrder())
	writeFile(t, dir, tasklog.TaskFile, append(b, 0xde, 0xad, 0, 0, 0, 0, 0, 0))

	h, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, "ready", h.State())
	assert.Empty(t, h.EventLog)
	assert.Equal(t, uint32(0), h.Sessions.Size())
	assert.Empty(t, h.Sessions.Tasks())
}
