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
	"io"

	"github.com/stretchr/testify/mock"
)

// KernelMock is the kernel data collaborator mock used in tests.
type KernelMock struct {
	mock.Mock
}

// Setup method
func (k *KernelMock) Setup(dir string, skipOut bool) error {
	args := k.Called(dir, skipOut)
	return args.Error(0)
}

// LoadSymbols method
func (k *KernelMock) LoadSymbols(dir string) error {
	args := k.Called(dir)
	return args.Error(0)
}

// CPUs method
func (k *KernelMock) CPUs() int { return 0 }

// Resolve method
func (k *KernelMock) Resolve(addr uint64) (string, bool) { return "", false }

// Close method
func (k *KernelMock) Close() error {
	args := k.Called()
	return args.Error(0)
}

// ArgSpecSetupMock is the argument spec collaborator mock used in tests.
type ArgSpecSetupMock struct {
	mock.Mock
}

// Setup method
func (s *ArgSpecSetupMock) Setup(spec []string, auto bool) ([]ArgSpec, error) {
	args := s.Called(spec, auto)
	specs, _ := args.Get(0).([]ArgSpec)
	return specs, args.Error(1)
}

// InfoReaderMock is the metadata reader mock used in tests.
type InfoReaderMock struct {
	mock.Mock
}

// Read method
func (r *InfoReaderMock) Read(rd io.Reader, mask uint64) (*Info, error) {
	args := r.Called(rd, mask)
	info, _ := args.Get(0).(*Info)
	return info, args.Error(1)
}
