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
	"bufio"
	"expvar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	fsm "github.com/qmuntal/stateless"
	"github.com/rabbitstack/calltrace/pkg/config"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/session"
	"github.com/rabbitstack/calltrace/pkg/tasklog"
	log "github.com/sirupsen/logrus"
)

// InfoFile is the name of the file holding the run header and the metadata blocks
const InfoFile = "info"

var (
	// StartState is the state before anything is read
	StartState = fsm.State("start")
	// HeaderOpenedState is reached once the info file is opened
	HeaderOpenedState = fsm.State("header-opened")
	// HeaderValidatedState is reached once the run header is decoded and validated
	HeaderValidatedState = fsm.State("header-validated")
	// SessionLoadedState is reached once the metadata and the event log are read
	SessionLoadedState = fsm.State("session-loaded")
	// SectionsLoadedState is reached once the optional sections are set up
	SectionsLoadedState = fsm.State("optional-sections-loaded")
	// ReadyState is the terminal state of the successful open
	ReadyState = fsm.State("ready")
	// FailedState is the terminal state of the failed open
	FailedState = fsm.State("failed")

	openTrigger         = fsm.Trigger("open")
	validateTrigger     = fsm.Trigger("validate")
	loadSessionsTrigger = fsm.Trigger("load-sessions")
	loadSectionsTrigger = fsm.Trigger("load-sections")
	finishTrigger       = fsm.Trigger("finish")
	failTrigger         = fsm.Trigger("fail")
)

var (
	openCount     = expvar.NewInt("datafile.open.count")
	openFailures  = expvar.NewInt("datafile.open.failures")
	eventLogFails = expvar.NewInt("datafile.eventlog.failures")
	kernelFails   = expvar.NewInt("datafile.kernel.failures")
)

// Handle is the opened data directory. It owns the decoded header and metadata
// along with the sessions and tasks reconstructed from the event log.
type Handle struct {
	// Header is the decoded run header
	Header *Header
	// Info holds the metadata blocks
	Info *Info
	// Dir is the active data directory
	Dir string
	// Depth limits the depth of the decoded records
	Depth int
	// TimeFilter is the function duration threshold
	TimeFilter time.Duration
	// TimeRange restricts the decoded records
	TimeRange config.TimeRange
	// Sessions contains the sessions and tasks of the recording
	Sessions session.Registry
	// ArgSpecs are the argument specs of the recorded functions
	ArgSpecs []ArgSpec
	// EventLog is the name of the event log the sessions were loaded from
	EventLog string

	kernel  Kernel
	cfg     *config.Config
	adopted bool
	sm      *fsm.StateMachine
}

// Option replaces the default collaborators of the opener.
type Option func(*options)

type options struct {
	infoReader InfoReader
	argSpec    ArgSpecSetup
	kernel     Kernel
}

// WithInfoReader sets the reader of the metadata blocks.
func WithInfoReader(r InfoReader) Option {
	return func(o *options) {
		o.infoReader = r
	}
}

// WithArgSpecSetup sets the argument spec collaborator.
func WithArgSpecSetup(s ArgSpecSetup) Option {
	return func(o *options) {
		o.argSpec = s
	}
}

// WithKernel sets the kernel data collaborator.
func WithKernel(k Kernel) Option {
	return func(o *options) {
		o.kernel = k
	}
}

// Open opens the data directory named in the config. When the default directory doesn't
// exist, the directory name of older releases is tried and written back to the config on
// success. The executable name is taken from the metadata if the config doesn't carry one.
func Open(cfg *config.Config, opts ...Option) (*Handle, error) {
	h := newHandle(cfg)
	if err := h.open(newOptions(opts...)); err != nil {
		return nil, err
	}
	return h, nil
}

func newOptions(opts ...Option) *options {
	o := &options{
		infoReader: NewInfoReader(),
		argSpec:    NewArgSpecSetup(),
		kernel:     NewKernel(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newHandle(cfg *config.Config) *Handle {
	h := &Handle{cfg: cfg, sm: fsm.NewStateMachine(StartState)}
	h.sm.Configure(StartState).
		Permit(openTrigger, HeaderOpenedState).
		Permit(failTrigger, FailedState)
	h.sm.Configure(HeaderOpenedState).
		Permit(validateTrigger, HeaderValidatedState).
		Permit(failTrigger, FailedState)
	h.sm.Configure(HeaderValidatedState).
		Permit(loadSessionsTrigger, SessionLoadedState).
		Permit(failTrigger, FailedState)
	h.sm.Configure(SessionLoadedState).
		Permit(loadSectionsTrigger, SectionsLoadedState).
		Permit(failTrigger, FailedState)
	h.sm.Configure(SectionsLoadedState).
		Permit(finishTrigger, ReadyState).
		Permit(failTrigger, FailedState)
	return h
}

// State returns the state of the opener.
func (h *Handle) State() string { return h.sm.MustState().(string) }

func (h *Handle) fire(trigger fsm.Trigger) error {
	if err := h.sm.Fire(trigger); err != nil {
		return errors.Wrapf(err, "unable to transition from %v", h.sm.MustState())
	}
	return nil
}

func (h *Handle) open(o *options) error {
	openCount.Add(1)
	err := h.load(o)
	if err == nil {
		return nil
	}
	openFailures.Add(1)
	if ferr := h.sm.Fire(failTrigger); ferr != nil {
		log.Warnf("unable to transition to failed state: %v", ferr)
	}
	if h.kernel != nil {
		_ = h.kernel.Close()
		h.kernel = nil
	}
	if h.Sessions != nil {
		_ = h.Sessions.Close()
	}
	h.dropExename()
	return err
}

func (h *Handle) load(o *options) error {
	f, err := h.openInfo()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := h.fire(openTrigger); err != nil {
		return err
	}

	path := f.Name()
	raw := make([]byte, HeaderSize)
	if n, err := io.ReadFull(f, raw); err != nil {
		return errors.Wrapf(errs.ErrShortHeader, "%s: got %d bytes", path, n)
	}
	hdr, err := DecodeHeader(raw)
	if err != nil {
		return errors.Wrap(err, path)
	}
	if hdr.ByteSwap {
		log.Debugf("byte order is different")
	}
	if hdr.BitSwap {
		log.Debugf("bitfield order is different")
	}
	h.Header = hdr
	if err := h.fire(validateTrigger); err != nil {
		return err
	}

	h.Depth = h.cfg.Depth
	if h.Depth <= 0 {
		h.Depth = config.MaxDepth
	}
	h.TimeFilter = h.cfg.TimeFilter
	h.TimeRange = h.cfg.TimeRange
	h.Sessions = session.NewRegistry()

	r := bufio.NewReader(f)
	if size := int(hdr.HeaderSize); size > HeaderSize {
		if _, err := r.Discard(size - HeaderSize); err != nil {
			return errors.Wrapf(errs.ErrShortHeader, "%s: %v", path, err)
		}
	}
	info, err := o.infoReader.Read(r, hdr.InfoMask)
	if err != nil {
		return errors.Wrapf(err, "cannot read header info from %s", path)
	}
	h.Info = info
	if h.cfg.Exename == "" && info.Exename != "" {
		h.cfg.Exename = info.Exename
		h.adopted = true
	}

	if hdr.Has(TaskSession) {
		if err := h.loadSessions(); err != nil {
			return err
		}
	}
	if err := h.fire(loadSessionsTrigger); err != nil {
		return err
	}

	if hdr.Has(Argument) || hdr.Has(Retval) {
		specs, err := o.argSpec.Setup(info.ArgSpec, hdr.Has(AutoArgs))
		if err != nil {
			return errors.Wrap(err, "cannot set up argument specs")
		}
		h.ArgSpecs = specs
	}
	if !hdr.Has(MaxStack) {
		hdr.MaxStack = config.MaxDepth
	}
	if hdr.Has(KernelTrace) {
		h.setupKernel(o.kernel)
	}
	if err := h.fire(loadSectionsTrigger); err != nil {
		return err
	}

	return h.fire(finishTrigger)
}

// openInfo opens the info file. If the default data directory is missing, the
// data directory name used by older releases is tried.
func (h *Handle) openInfo() (*os.File, error) {
	dir := h.cfg.DataDir
	if dir == "" {
		dir = config.DefaultDataDir
	}
	path := filepath.Join(dir, InfoFile)
	f, err := os.Open(path)
	if err != nil && os.IsNotExist(err) && dir == config.DefaultDataDir {
		var lerr error
		f, lerr = os.Open(filepath.Join(config.LegacyDataDir, InfoFile))
		if lerr == nil {
			log.Infof("found trace data in %s directory", config.LegacyDataDir)
			dir, err = config.LegacyDataDir, nil
		} else if !os.IsNotExist(lerr) {
			err = lerr
		}
	}
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "cannot open %s file", path)
		}
		if h.cfg.Exename != "" {
			return nil, errs.ErrNotInstrumented(path, h.cfg.Exename)
		}
		return nil, errors.Wrapf(errs.ErrNoTraceData, "cannot find %s file", path)
	}

	h.Dir = dir
	h.cfg.DataDir = dir
	return f, nil
}

// loadSessions reads the text event log and falls back to the legacy one. When
// neither is usable the handle carries on without sessions.
func (h *Handle) loadSessions() error {
	policy, err := tasklog.ParseOrphanPolicy(h.cfg.OrphanDlopen)
	if err != nil {
		return err
	}
	opts := tasklog.Options{
		NeedsSession:    true,
		RelativeSymbols: h.Header.Has(SymRelAddr),
		ByteOrder:       h.Header.ByteOrder(),
		Orphans:         policy,
	}
	r, err := tasklog.Load(h.Dir, h.Sessions, tasklog.Readers(opts)...)
	if err != nil {
		if !errs.IsSoft(err) {
			return err
		}
		eventLogFails.Add(1)
		log.Warnf("invalid task file: %v", err)
		return nil
	}
	h.EventLog = r.Name()
	log.Debugf("loaded %d sessions from %s", h.Sessions.Size(), r.Name())
	return nil
}

func (h *Handle) setupKernel(k Kernel) {
	if err := k.Setup(h.Dir, h.cfg.KernelSkipOut); err != nil {
		kernelFails.Add(1)
		log.Warnf("cannot set up kernel data: %v", err)
		return
	}
	h.kernel = k
	if err := k.LoadSymbols(h.Dir); err != nil {
		log.Warnf("%v", err)
	}
}

// Kernel returns the kernel data collaborator if the kernel data was set up.
func (h *Handle) Kernel() (Kernel, bool) { return h.kernel, h.kernel != nil }

// Config returns the configuration the handle was opened with.
func (h *Handle) Config() *config.Config { return h.cfg }

func (h *Handle) dropExename() {
	if h.adopted && h.Info != nil && h.cfg.Exename == h.Info.Exename {
		h.cfg.Exename = ""
	}
	h.adopted = false
}

// Records decodes the trace records of the task. Records deeper than the depth
// limit or outside the time range are left out. Elapsed bounds of the time range
// are relative to the first record of the task.
func (h *Handle) Records(tid int32) ([]Record, error) {
	path := filepath.Join(h.Dir, fmt.Sprintf("%d.dat", tid))
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs := make([]Record, 0)
	d := NewRecordDecoder(f, h.Header.ByteSwap, h.Header.BitSwap)
	var first Record
	for i := 0; d.More(); i++ {
		rec := d.Record()
		if i == 0 {
			first = rec
		}
		if int(rec.Depth) >= h.Depth || !h.inRange(rec, first) {
			continue
		}
		recs = append(recs, rec)
	}
	if err := d.Err(); err != nil {
		return recs, errors.Wrap(err, path)
	}
	return recs, nil
}

func (h *Handle) inRange(rec, first Record) bool {
	r := h.TimeRange
	if r.Start != 0 {
		start := r.Start
		if r.StartElapsed {
			start += first.Time
		}
		if rec.Time < start {
			return false
		}
	}
	if r.Stop != 0 {
		stop := r.Stop
		if r.StopElapsed {
			stop += first.Time
		}
		if rec.Time > stop {
			return false
		}
	}
	return true
}

// Close releases the state built by Open. The executable name taken from the
// metadata is removed from the config.
func (h *Handle) Close() error {
	h.dropExename()
	if h.kernel != nil {
		if err := h.kernel.Close(); err != nil {
			log.Warnf("unable to release kernel data: %v", err)
		}
		h.kernel = nil
	}
	h.Info = nil
	h.ArgSpecs = nil
	if h.Sessions == nil {
		return nil
	}
	return h.Sessions.Close()
}
