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
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
)

var (
	linesWritten = expvar.NewInt("tasklog.lines.written")

	errOpenLog = func(path string, err error) error {
		return errors.Wrapf(errs.ErrAppendLog, "cannot open %s: %v", path, err)
	}
	errWriteLog = func(path string, err error) error {
		return errors.Wrapf(errs.ErrAppendLog, "cannot write to %s: %v", path, err)
	}
)

// WriteTask appends the new task event to the text event log in the directory.
func WriteTask(dir string, evt event.NewTask) error { return appendLine(dir, evt.String()) }

// WriteFork appends the fork event to the text event log in the directory.
func WriteFork(dir string, evt event.ForkEnd) error { return appendLine(dir, evt.String()) }

// WriteSession appends the session event to the text event log in the directory. The
// executable name is written as is, but it must not span lines and the session id must
// be a single token.
func WriteSession(dir string, evt event.Session) error {
	if err := checkToken("sid", evt.SID); err != nil {
		return err
	}
	if err := checkName("exename", evt.Exename); err != nil {
		return err
	}
	return appendLine(dir, evt.String())
}

// WriteDlopen appends the dlopen event to the text event log in the directory. The
// library name is written as is, with the same restrictions as the session event.
func WriteDlopen(dir string, evt event.Dlopen) error {
	if err := checkToken("sid", evt.SID); err != nil {
		return err
	}
	if err := checkName("libname", evt.Libname); err != nil {
		return err
	}
	return appendLine(dir, evt.String())
}

func checkToken(field, s string) error {
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return errs.ErrInvalidEventField(field, s)
	}
	return nil
}

func checkName(field, s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return errs.ErrInvalidEventField(field, s)
	}
	return nil
}

// Write appends any of the task events to the text event log.
func Write(dir string, evt event.Event) error {
	switch e := evt.(type) {
	case event.NewTask:
		return WriteTask(dir, e)
	case event.ForkEnd:
		return WriteFork(dir, e)
	case event.Session:
		return WriteSession(dir, e)
	case event.Dlopen:
		return WriteDlopen(dir, e)
	default:
		return fmt.Errorf("unsupported event kind %s", evt.Kind())
	}
}

// appendLine opens the log for every line and emits the line in a single write.
// The atomic append of the file system lets concurrent writers interleave safely.
func appendLine(dir, line string) error {
	path := filepath.Join(dir, TaskTxtFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errOpenLog(path, err)
	}
	if _, err := f.Write([]byte(line + "\n")); err != nil {
		_ = f.Close()
		return errWriteLog(path, err)
	}
	linesWritten.Add(1)
	return f.Close()
}
