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
	"expvar"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/session"
	log "github.com/sirupsen/logrus"
)

// maxLineSize bounds the length of a single line in the text event log
const maxLineSize = 1024 * 1024

var (
	textLines        = expvar.NewInt("tasklog.text.lines")
	textIgnoredLines = expvar.NewInt("tasklog.text.ignored.lines")
	orphanDlopens    = expvar.NewInt("tasklog.orphan.dlopens")
)

type text struct {
	opts Options
}

// NewText builds the reader of the task.txt event log.
func NewText(opts Options) Reader {
	return &text{opts: opts}
}

func (r *text) Name() string { return TaskTxtFile }

func (r *text) Read(dir string, reg session.Registry) error {
	path := filepath.Join(dir, TaskTxtFile)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(errs.ErrFormatAbsent, "cannot open %s: %v", path, err)
	}
	defer f.Close()

	log.Debugf("reading %s file", path)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	lineno := 0
	for scanner.Scan() {
		lineno++
		textLines.Add(1)
		if err := r.readLine(scanner.Text(), lineno, dir, reg); err != nil {
			return errors.Wrap(err, path)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(errs.ErrCorruptedLog, "fail to read %s: %v", path, err)
	}

	return nil
}

func (r *text) readLine(line string, lineno int, dir string, reg session.Registry) error {
	if len(line) < 4 {
		textIgnoredLines.Add(1)
		return nil
	}
	tag, rest := line[:4], ""
	if len(line) > 5 {
		rest = line[5:]
	}
	fields := scanFields(rest)

	switch tag {
	case "TASK":
		evt := event.NewTask{
			TID:  atoi(fields["tid"]),
			PID:  atoi(fields["pid"]),
			Time: timestamp(fields["timestamp"]),
		}
		reg.WriteTask(evt, false, r.opts.NeedsSession)

	case "FORK":
		evt := event.ForkEnd{
			Child:  atoi(fields["pid"]),
			Parent: atoi(fields["ppid"]),
			Time:   timestamp(fields["timestamp"]),
		}
		reg.WriteTask(evt.Task(), true, r.opts.NeedsSession)

	case "SESS":
		if !r.opts.NeedsSession {
			return nil
		}
		exename, ok := quoted(line, "exename")
		if !ok {
			return errs.ErrInvalidTaskLine("exename=", lineno)
		}
		evt := event.Session{
			PID:     atoi(fields["pid"]),
			SID:     fields["sid"],
			Time:    timestamp(fields["timestamp"]),
			Exename: exename,
		}
		reg.WriteSession(evt, dir, r.opts.RelativeSymbols)

	case "DLOP":
		if !r.opts.NeedsSession {
			return nil
		}
		libname, ok := quoted(line, "libname")
		if !ok {
			return errs.ErrInvalidTaskLine("libname=", lineno)
		}
		base, _ := strconv.ParseUint(fields["base"], 16, 64)
		evt := event.Dlopen{
			TID:     atoi(fields["tid"]),
			SID:     fields["sid"],
			Time:    timestamp(fields["timestamp"]),
			Base:    base,
			Libname: libname,
		}
		sess := reg.FindSession(evt.SID)
		if sess == nil {
			orphanDlopens.Add(1)
			if r.opts.Orphans == FailOnOrphans {
				return errs.ErrSessionNotFound{SID: evt.SID}
			}
			log.Warnf("skipping dlopen of %s on line %d: session %s not found", evt.Libname, lineno, evt.SID)
			return nil
		}
		reg.AddDlopen(sess, evt.Time, evt.Base, evt.Libname)

	default:
		textIgnoredLines.Add(1)
	}

	return nil
}

// scanFields collects the key=value pairs that precede the first quoted value.
func scanFields(s string) map[string]string {
	fields := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(v, `"`) {
			break
		}
		fields[k] = v
	}
	return fields
}

// quoted extracts the value of the quoted key. The value spans from the opening
// quote to the last quote in the line, so the name may contain quotes itself.
func quoted(line, key string) (string, bool) {
	i := strings.Index(line, key+"=")
	if i < 0 {
		return "", false
	}
	v := strings.TrimPrefix(line[i+len(key)+1:], `"`)
	if j := strings.LastIndexByte(v, '"'); j >= 0 {
		v = v[:j]
	}
	return v, true
}

// atoi parses the decimal field. Malformed numbers yield zero.
func atoi(s string) int32 {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}

func timestamp(s string) event.Timestamp {
	ts, err := event.ParseTimestamp(s)
	if err != nil {
		return 0
	}
	return ts
}
