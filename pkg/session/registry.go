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

package session

import (
	"expvar"
	"sort"
	"sync"

	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/session/types"
	log "github.com/sirupsen/logrus"
)

var (
	sessionCount      = expvar.NewInt("session.count")
	taskCount         = expvar.NewInt("session.task.count")
	dlopenCount       = expvar.NewInt("session.dlopen.count")
	orphanTaskCount   = expvar.NewInt("session.orphan.task.count")
	duplicateMessages = expvar.NewMap("session.duplicate.messages")
)

// Registry is the interface that exposes the operations for reconstructing sessions and tasks
// out of the event log. It stores the state of all sessions recorded in the data directory
// including their tasks and dynamically loaded libraries.
type Registry interface {
	// WriteSession creates the session from the session event. The directory and the symbol
	// addressing mode are retained for the symbol loading. Repeated session ids are ignored.
	WriteSession(evt event.Session, dir string, relSym bool) *types.Session
	// WriteTask creates the task from the task event. Forked tasks carry the parent pid in the
	// pid slot of the event. When needsSession is true the task is attributed to a session.
	WriteTask(evt event.NewTask, fork bool, needsSession bool) *types.Task
	// FindSession returns the session for the given identifier.
	FindSession(sid string) *types.Session
	// AddDlopen attaches the library loaded at runtime to the session.
	AddDlopen(sess *types.Session, ts event.Timestamp, base uint64, libname string)
	// FindTask returns the task for the given thread identifier.
	FindTask(tid int32) *types.Task
	// SessionOf returns the session the task belongs to.
	SessionOf(t *types.Task) *types.Session
	// Sessions returns all sessions ordered by start time.
	Sessions() []*types.Session
	// Tasks returns all tasks ordered by thread identifier.
	Tasks() []*types.Task
	// First returns the session that started first.
	First() *types.Session
	// Size returns the number of sessions.
	Size() uint32
	// Close disposes all sessions and tasks.
	Close() error
}

type registry struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	// index maps each task to the id of the owning session. Tasks
	// that are not attributed to any session are owned by orphans.
	index   map[int32]string
	orphans map[int32]*types.Task
	// pending tracks orphans waiting for a session with the matching pid
	pending map[int32]bool
	first   *types.Session
}

// NewRegistry returns a new empty session registry.
func NewRegistry() Registry {
	return &registry{
		sessions: make(map[string]*types.Session),
		index:    make(map[int32]string),
		orphans:  make(map[int32]*types.Task),
		pending:  make(map[int32]bool),
	}
}

func (r *registry) WriteSession(evt event.Session, dir string, relSym bool) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[evt.SID]; ok {
		duplicateMessages.Add("session", 1)
		log.Debugf("session %s already exists. Skipping", evt.SID)
		return s
	}

	s := types.NewSession(evt, dir, relSym)
	r.sessions[s.SID] = s
	sessionCount.Add(1)
	if r.first == nil || s.Start < r.first.Start {
		r.first = s
	}
	log.Debugf("new session: %s", s)

	r.adoptPending()

	return s
}

func (r *registry) WriteTask(evt event.NewTask, fork bool, needsSession bool) *types.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t := r.findTask(evt.TID); t != nil {
		duplicateMessages.Add("task", 1)
		log.Debugf("task %d already exists. Skipping", evt.TID)
		return t
	}

	t := &types.Task{
		TID:   evt.TID,
		PID:   evt.PID,
		Start: evt.Time,
		Fork:  fork,
	}
	taskCount.Add(1)

	var sess *types.Session
	if fork {
		// the forked child is a new process whose pid equals its tid
		t.PID = evt.TID
		if parent := r.findTaskByPID(evt.PID); parent != nil {
			t.Parent = parent.TID
			if needsSession {
				sess = r.sessionOf(parent)
			}
		}
	}
	if needsSession && sess == nil {
		sess = r.findSessionByPID(t.PID, t.Start)
	}

	if sess != nil {
		sess.AddTask(t)
		r.index[t.TID] = sess.SID
		return t
	}

	r.orphans[t.TID] = t
	r.index[t.TID] = ""
	orphanTaskCount.Add(1)
	if needsSession {
		r.pending[t.TID] = true
	}

	return t
}

func (r *registry) FindSession(sid string) *types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sid]
}

func (r *registry) AddDlopen(sess *types.Session, ts event.Timestamp, base uint64, libname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.AddDlopen(ts, base, libname)
	dlopenCount.Add(1)
}

func (r *registry) FindTask(tid int32) *types.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findTask(tid)
}

func (r *registry) SessionOf(t *types.Task) *types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionOf(t)
}

func (r *registry) Sessions() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Start == sessions[j].Start {
			return sessions[i].SID < sessions[j].SID
		}
		return sessions[i].Start < sessions[j].Start
	})
	return sessions
}

func (r *registry) Tasks() []*types.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make([]*types.Task, 0, len(r.index))
	for tid := range r.index {
		tasks = append(tasks, r.findTask(tid))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TID < tasks[j].TID })
	return tasks
}

func (r *registry) First() *types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.first
}

func (r *registry) Size() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint32(len(r.sessions))
}

func (r *registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*types.Session)
	r.index = make(map[int32]string)
	r.orphans = make(map[int32]*types.Task)
	r.pending = make(map[int32]bool)
	r.first = nil
	return nil
}

func (r *registry) findTask(tid int32) *types.Task {
	sid, ok := r.index[tid]
	if !ok {
		return nil
	}
	if sid == "" {
		return r.orphans[tid]
	}
	return r.sessions[sid].Task(tid)
}

// findTaskByPID looks up the task representing the process. The main
// thread is preferred, otherwise any thread of the process is returned.
func (r *registry) findTaskByPID(pid int32) *types.Task {
	if t := r.findTask(pid); t != nil && t.PID == pid {
		return t
	}
	tids := make([]int32, 0)
	for tid := range r.index {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	for _, tid := range tids {
		if t := r.findTask(tid); t.PID == pid {
			return t
		}
	}
	return nil
}

func (r *registry) sessionOf(t *types.Task) *types.Session {
	if t == nil || t.SID == "" {
		return nil
	}
	return r.sessions[t.SID]
}

// findSessionByPID returns the latest session of the process
// that had already started at the given time.
func (r *registry) findSessionByPID(pid int32, ts event.Timestamp) *types.Session {
	var found *types.Session
	for _, s := range r.sessions {
		if s.PID != pid || s.Start > ts {
			continue
		}
		if found == nil || s.Start > found.Start {
			found = s
		}
	}
	return found
}

// adoptPending moves the pending orphans into the sessions that can own them.
// Forked children follow their parents, so the scan repeats until nothing moves.
func (r *registry) adoptPending() {
	for moved := true; moved; {
		moved = false
		for tid := range r.pending {
			t := r.orphans[tid]
			var sess *types.Session
			if t.Fork && t.Parent != 0 {
				sess = r.sessionOf(r.findTask(t.Parent))
			}
			if sess == nil {
				sess = r.findSessionByPID(t.PID, t.Start)
			}
			if sess == nil {
				continue
			}
			delete(r.pending, tid)
			delete(r.orphans, tid)
			sess.AddTask(t)
			r.index[tid] = sess.SID
			orphanTaskCount.Add(-1)
			moved = true
		}
	}
}
