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
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/session/types"
	"github.com/stretchr/testify/mock"
)

// RegistryMock is the session registry mock used in tests.
type RegistryMock struct {
	mock.Mock
}

// WriteSession method
func (r *RegistryMock) WriteSession(evt event.Session, dir string, relSym bool) *types.Session {
	args := r.Called(evt, dir, relSym)
	s, _ := args.Get(0).(*types.Session)
	return s
}

// WriteTask method
func (r *RegistryMock) WriteTask(evt event.NewTask, fork bool, needsSession bool) *types.Task {
	args := r.Called(evt, fork, needsSession)
	t, _ := args.Get(0).(*types.Task)
	return t
}

// FindSession method
func (r *RegistryMock) FindSession(sid string) *types.Session {
	args := r.Called(sid)
	s, _ := args.Get(0).(*types.Session)
	return s
}

// AddDlopen method
func (r *RegistryMock) AddDlopen(sess *types.Session, ts event.Timestamp, base uint64, libname string) {
	r.Called(sess, ts, base, libname)
}

// FindTask method
func (r *RegistryMock) FindTask(tid int32) *types.Task {
	args := r.Called(tid)
	t, _ := args.Get(0).(*types.Task)
	return t
}

// SessionOf method
func (r *RegistryMock) SessionOf(t *types.Task) *types.Session {
	args := r.Called(t)
	s, _ := args.Get(0).(*types.Session)
	return s
}

// Sessions method
func (r *RegistryMock) Sessions() []*types.Session { return nil }

// Tasks method
func (r *RegistryMock) Tasks() []*types.Task { return nil }

// First method
func (r *RegistryMock) First() *types.Session { return nil }

// Size method
func (r *RegistryMock) Size() uint32 { args := r.Called(); return uint32(args.Int(0)) }

// Close method
func (r *RegistryMock) Close() error { return nil }
