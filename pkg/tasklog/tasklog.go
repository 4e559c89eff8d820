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
	"encoding/binary"
	"fmt"

	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/session"
	"github.com/rabbitstack/calltrace/pkg/util/bytes"
	log "github.com/sirupsen/logrus"
)

const (
	// TaskFile is the name of the legacy binary event log
	TaskFile = "task"
	// TaskTxtFile is the name of the text event log
	TaskTxtFile = "task.txt"
)

// Reader is the minimal interface that all event log readers need to satisfy. The data
// directory may contain the event log in two formats. The legacy one is a binary stream of
// tagged messages:
//
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Magic (2) | Type (2) | Len (4) | Payload ... |
//	|----------------------------------------------|
//	| Magic (2) | Type (2) | Len (4) | Payload ... |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// while the current one is an append-only text file with one event per line. Both
// readers feed the same session registry.
type Reader interface {
	// Name returns the name of the event log file the reader consumes.
	Name() string
	// Read parses the event log in the directory and forwards each event to the registry.
	// It returns an error satisfying errors.IsFormatAbsent if the log doesn't exist.
	Read(dir string, reg session.Registry) error
}

// OrphanPolicy determines what happens with dlopen events referencing unknown sessions.
type OrphanPolicy uint8

const (
	// SkipOrphans logs a warning and drops the dlopen event
	SkipOrphans OrphanPolicy = iota
	// FailOnOrphans aborts reading the event log
	FailOnOrphans
)

// String returns the policy name.
func (p OrphanPolicy) String() string {
	switch p {
	case SkipOrphans:
		return "skip"
	case FailOnOrphans:
		return "fail"
	default:
		return ""
	}
}

// ParseOrphanPolicy parses the orphan policy from its name.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch s {
	case "skip", "":
		return SkipOrphans, nil
	case "fail":
		return FailOnOrphans, nil
	default:
		return SkipOrphans, fmt.Errorf("unknown orphan dlopen policy %q. Valid values are skip and fail", s)
	}
}

// Options controls how event logs are decoded.
type Options struct {
	// NeedsSession indicates sessions are reconstructed along with tasks.
	NeedsSession bool
	// RelativeSymbols indicates the symbol addresses are relative to the load base.
	RelativeSymbols bool
	// ByteOrder is the byte order of the machine that produced the binary log.
	ByteOrder binary.ByteOrder
	// Orphans decides the fate of dlopen events without a session.
	Orphans OrphanPolicy
}

func (o Options) order() binary.ByteOrder {
	if o.ByteOrder == nil {
		return bytes.NativeEndian
	}
	return o.ByteOrder
}

// Readers returns the event log readers in the order of preference.
func Readers(opts Options) []Reader {
	return []Reader{NewText(opts), NewLegacy(opts)}
}

// Load reads the directory with the first reader able to parse it. Readers failing with
// soft errors make room for the next reader, while any other error is returned immediately.
// The registry is cleared after every soft failure, so the events of a partially read log
// never mix with the next reader's events. If no reader succeeds, the registry is left
// empty and the last soft error is returned.
func Load(dir string, reg session.Registry, readers ...Reader) (Reader, error) {
	var err error
	for _, r := range readers {
		err = r.Read(dir, reg)
		if err == nil {
			log.Debugf("event log loaded from %s", r.Name())
			return r, nil
		}
		if !errs.IsSoft(err) {
			return nil, err
		}
		if cerr := reg.Close(); cerr != nil {
			return nil, cerr
		}
		log.Debugf("couldn't load %s event log: %v", r.Name(), err)
	}
	if err == nil {
		err = errs.ErrFormatAbsent
	}
	return nil, err
}
