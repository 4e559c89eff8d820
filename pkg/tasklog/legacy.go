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
	"bufio"
	"encoding/binary"
	"expvar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/session"
	log "github.com/sirupsen/logrus"
)

// MsgMagic identifies every message envelope in the legacy event log
const MsgMagic = 0xface

// MsgType is the type of the legacy event log message.
type MsgType uint16

const (
	// MsgTID announces a new task
	MsgTID MsgType = 3
	// MsgForkEnd announces a task created by fork
	MsgForkEnd MsgType = 5
	// MsgSession announces a new session
	MsgSession MsgType = 6
)

const (
	// EnvelopeSize is the size of the message envelope: magic, type and payload length
	EnvelopeSize = 8
	// TaskMsgSize is the size of the task payload: time, pid and tid
	TaskMsgSize = 16
	// SessionMsgSize is the size of the fixed session payload preceding the executable name
	SessionMsgSize = 40
	// SIDLen is the length of the session identifier
	SIDLen = 16
	// maxNameLen bounds the executable name of the session message
	maxNameLen = 4096
)

var (
	legacyMessages = expvar.NewMap("tasklog.legacy.messages")

	errShortRead = func(what string, err error) error {
		return errors.Wrapf(errs.ErrCorruptedLog, "cannot read %s: %v", what, err)
	}
)

type legacy struct {
	opts Options
}

// NewLegacy builds the reader of the binary task event log. Payloads are decoded
// in the byte order given by the options.
func NewLegacy(opts Options) Reader {
	return &legacy{opts: opts}
}

func (r *legacy) Name() string { return TaskFile }

func (r *legacy) Read(dir string, reg session.Registry) error {
	path := filepath.Join(dir, TaskFile)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(errs.ErrFormatAbsent, "cannot open %s: %v", path, err)
	}
	defer f.Close()

	log.Debugf("reading %s file", path)

	var (
		br    = bufio.NewReader(f)
		order = r.opts.order()
		env   [EnvelopeSize]byte
	)
	for {
		if _, err := io.ReadFull(br, env[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return errShortRead("message envelope", err)
		}
		if magic := order.Uint16(env[0:]); magic != MsgMagic {
			return errors.Wrapf(errs.ErrCorruptedLog, "invalid message magic %#x", magic)
		}

		typ := MsgType(order.Uint16(env[2:]))
		switch typ {
		case MsgSession:
			evt, err := readSession(br, order)
			if err != nil {
				return err
			}
			legacyMessages.Add("session", 1)
			if r.opts.NeedsSession {
				reg.WriteSession(evt, dir, r.opts.RelativeSymbols)
			}

		case MsgTID, MsgForkEnd:
			evt, err := readTask(br, order)
			if err != nil {
				return err
			}
			if typ == MsgForkEnd {
				legacyMessages.Add("fork", 1)
				reg.WriteTask(evt, true, r.opts.NeedsSession)
			} else {
				legacyMessages.Add("task", 1)
				reg.WriteTask(evt, false, r.opts.NeedsSession)
			}

		default:
			return errors.Wrapf(errs.ErrCorruptedLog, "unknown message type %d", typ)
		}
	}
}

// readTask decodes the task payload. For fork messages the child pid arrives
// in the tid slot and the parent pid in the pid slot.
func readTask(r io.Reader, order binary.ByteOrder) (event.NewTask, error) {
	var b [TaskMsgSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return event.NewTask{}, errShortRead("task message", err)
	}
	return decodeTask(b[:], order), nil
}

func decodeTask(b []byte, order binary.ByteOrder) event.NewTask {
	return event.NewTask{
		Time: event.Timestamp(order.Uint64(b[0:])),
		PID:  int32(order.Uint32(b[8:])),
		TID:  int32(order.Uint32(b[12:])),
	}
}

// readSession decodes the session payload followed by the executable name. Names
// are padded with zeros up to the 8-byte boundary.
func readSession(r io.Reader, order binary.ByteOrder) (event.Session, error) {
	var b [SessionMsgSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return event.Session{}, errShortRead("session message", err)
	}
	task := decodeTask(b[:TaskMsgSize], order)
	sid := strings.TrimRight(string(b[TaskMsgSize:TaskMsgSize+SIDLen]), "\x00")
	namelen := int32(order.Uint32(b[36:]))
	if namelen < 0 || namelen > maxNameLen {
		return event.Session{}, errors.Wrapf(errs.ErrCorruptedLog, "invalid session name length %d", namelen)
	}

	name := make([]byte, namelen)
	if _, err := io.ReadFull(r, name); err != nil {
		return event.Session{}, errShortRead("session name", err)
	}
	if pad := namelen % 8; pad != 0 {
		var padding [8]byte
		if _, err := io.ReadFull(r, padding[:8-pad]); err != nil {
			return event.Session{}, errShortRead("session name padding", err)
		}
	}

	return event.Session{
		PID:     task.PID,
		SID:     sid,
		Time:    task.Time,
		Exename: strings.TrimRight(string(name), "\x00"),
	}, nil
}
