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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// KernelHeaderFile describes the format of the kernel trace buffers
	KernelHeaderFile = "kernel_header"
	// KallsymsFile is the snapshot of the kernel symbol table
	KallsymsFile = "kallsyms"
)

// Kernel sets up the kernel trace data recorded along with the user functions.
type Kernel interface {
	// Setup locates the kernel trace data in the directory.
	Setup(dir string, skipOut bool) error
	// LoadSymbols loads the kernel symbol table from the directory.
	LoadSymbols(dir string) error
	// CPUs returns the number of per-cpu kernel trace buffers.
	CPUs() int
	// Resolve returns the name of the kernel function containing the address.
	Resolve(addr uint64) (string, bool)
	// Close releases the kernel trace data.
	Close() error
}

// KernelSymbol is the entry of the kernel symbol table.
type KernelSymbol struct {
	Addr uint64
	Type byte
	Name string
}

type kernel struct {
	dir     string
	skipOut bool
	cpus    []string
	syms    []KernelSymbol
}

// NewKernel returns the kernel data collaborator reading the per-cpu buffer files
// and the symbol table snapshot.
func NewKernel() Kernel { return &kernel{} }

func (k *kernel) Setup(dir string, skipOut bool) error {
	if _, err := os.Stat(filepath.Join(dir, KernelHeaderFile)); err != nil {
		return errors.Wrap(err, "cannot find kernel header")
	}
	cpus, err := filepath.Glob(filepath.Join(dir, "kernel-cpu*.dat"))
	if err != nil {
		return err
	}
	if len(cpus) == 0 {
		return fmt.Errorf("no kernel trace buffers in %s", dir)
	}
	sort.Strings(cpus)
	k.dir, k.skipOut, k.cpus = dir, skipOut, cpus
	log.Debugf("found %d kernel trace buffers in %s", len(cpus), dir)
	return nil
}

func (k *kernel) LoadSymbols(dir string) error {
	path := filepath.Join(dir, KallsymsFile)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "cannot load kernel symbols")
	}
	defer f.Close()

	syms := make([]KernelSymbol, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// ffffffff81000000 T _stext [module]
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || len(fields[1]) != 1 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		syms = append(syms, KernelSymbol{Addr: addr, Type: fields[1][0], Name: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "fail to read %s", path)
	}
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })
	k.syms = syms
	log.Debugf("loaded %d kernel symbols", len(syms))
	return nil
}

func (k *kernel) CPUs() int { return len(k.cpus) }

func (k *kernel) Resolve(addr uint64) (string, bool) {
	i := sort.Search(len(k.syms), func(i int) bool { return k.syms[i].Addr > addr })
	if i == 0 {
		return "", false
	}
	return k.syms[i-1].Name, true
}

func (k *kernel) Close() error {
	k.cpus = nil
	k.syms = nil
	return nil
}
