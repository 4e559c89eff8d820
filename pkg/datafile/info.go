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
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// InfoReader decodes the metadata blocks that follow the run header in the info file.
type InfoReader interface {
	// Read decodes the blocks announced by the info mask.
	Read(r io.Reader, mask uint64) (*Info, error)
}

// CPU describes the processors of the recording machine.
type CPU struct {
	Online   int
	Possible int
	Desc     string
}

// OS describes the operating system of the recording machine.
type OS struct {
	Kernel   string
	Hostname string
	Distro   string
}

// Tasks lists the tasks traced during the recording.
type Tasks struct {
	Count int
	TIDs  []int32
}

// Info holds the metadata recorded along with the trace.
type Info struct {
	Exename     string
	BuildID     string
	ExitStatus  int
	Cmdline     string
	CPU         CPU
	MemInfo     string
	OS          OS
	Tasks       Tasks
	Usage       map[string]string
	LoadInfo    string
	ArgSpec     []string
	RecordDate  string
	ElapsedTime string
	PatternType string
	// Blocks keeps track of the decoded info blocks
	Blocks *bitset.BitSet
}

// NewInfo returns empty metadata.
func NewInfo() *Info {
	return &Info{Usage: make(map[string]string), Blocks: bitset.New(uint(maxInfoBlock))}
}

// Has determines if the info block was decoded.
func (i *Info) Has(b InfoBlock) bool { return i.Blocks != nil && i.Blocks.Test(uint(b)) }

// Mask returns the info mask describing the decoded blocks.
func (i *Info) Mask() uint64 {
	var mask uint64
	for b := InfoBlock(0); b < maxInfoBlock; b++ {
		if i.Has(b) {
			mask |= b.Mask()
		}
	}
	return mask
}

// Set marks the info block as present.
func (i *Info) Set(b InfoBlock) *Info {
	if i.Blocks == nil {
		i.Blocks = bitset.New(uint(maxInfoBlock))
	}
	i.Blocks.Set(uint(b))
	return i
}

const linesPrefix = "lines="

// multiline blocks start with the key:lines=N line followed by N lines of the same key
var multiline = map[InfoBlock]bool{CPUInfo: true, OSInfo: true, TaskInfo: true, UsageInfo: true, ArgSpecInfo: true}

var (
	errInfoLine    = func(lineno int, line string) error { return fmt.Errorf("invalid info line %d: %q", lineno, line) }
	errInfoValue   = func(b InfoBlock, v string, err error) error { return fmt.Errorf("invalid %s value %q: %v", b, v, err) }
	errInfoMissing = func(b InfoBlock) error { return fmt.Errorf("missing %s info", b) }
)

type textInfoReader struct{}

// NewInfoReader returns the reader of the key:value metadata blocks.
func NewInfoReader() InfoReader { return textInfoReader{} }

func (textInfoReader) Read(r io.Reader, mask uint64) (*Info, error) {
	info := NewInfo()
	scanner := bufio.NewScanner(r)
	lineno := 0
	next := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		lineno++
		return scanner.Text(), true
	}

	for {
		line, ok := next()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errInfoLine(lineno, line)
		}

		block, known := infoBlockOf(key)
		lines := []string{val}
		if strings.HasPrefix(val, linesPrefix) && (!known || multiline[block]) {
			n, err := strconv.Atoi(strings.TrimPrefix(val, linesPrefix))
			if err != nil || n < 0 {
				return nil, errInfoLine(lineno, line)
			}
			lines = lines[:0]
			for j := 0; j < n; j++ {
				l, ok := next()
				if !ok {
					return nil, errors.Errorf("%s info ends after %d of %d lines", key, j, n)
				}
				v, ok := strings.CutPrefix(l, key+":")
				if !ok {
					return nil, errInfoLine(lineno, l)
				}
				lines = append(lines, v)
			}
		}
		if !known {
			log.Debugf("skipping unknown info %q", key)
			continue
		}
		if err := info.decode(key, block, lines); err != nil {
			return nil, err
		}
		info.Set(block)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fail to read info")
	}

	for b := InfoBlock(0); b < maxInfoBlock; b++ {
		if mask&b.Mask() != 0 && !info.Has(b) {
			return nil, errInfoMissing(b)
		}
	}

	return info, nil
}

func infoBlockOf(key string) (InfoBlock, bool) {
	if key == "elapsed_time" {
		return RecordDate, true
	}
	for b := InfoBlock(0); b < maxInfoBlock; b++ {
		if infoNames[b] == key {
			return b, true
		}
	}
	return 0, false
}

func (i *Info) decode(key string, b InfoBlock, lines []string) error {
	var val string
	if len(lines) > 0 {
		val = lines[0]
	}
	switch b {
	case ExeName:
		i.Exename = val
	case ExeBuildID:
		i.BuildID = val
	case ExitStatus:
		status, err := strconv.Atoi(val)
		if err != nil {
			return errInfoValue(b, val, err)
		}
		i.ExitStatus = status
	case Cmdline:
		i.Cmdline = val
	case MemInfo:
		i.MemInfo = val
	case LoadInfo:
		i.LoadInfo = val
	case PatternType:
		i.PatternType = val
	case RecordDate:
		if key == "elapsed_time" {
			i.ElapsedTime = val
		} else {
			i.RecordDate = val
		}
	case ArgSpecInfo:
		i.ArgSpec = append(i.ArgSpec, lines...)
	case CPUInfo, OSInfo, TaskInfo, UsageInfo:
		for _, l := range lines {
			k, v, _ := strings.Cut(l, "=")
			if err := i.decodeField(b, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Info) decodeField(b InfoBlock, k, v string) error {
	switch b {
	case CPUInfo:
		switch k {
		case "nr_cpus":
			if _, err := fmt.Sscanf(v, "%d / %d", &i.CPU.Online, &i.CPU.Possible); err != nil {
				return errInfoValue(b, v, err)
			}
		case "desc":
			i.CPU.Desc = v
		}
	case OSInfo:
		switch k {
		case "kernel":
			i.OS.Kernel = v
		case "hostname":
			i.OS.Hostname = v
		case "distro":
			i.OS.Distro = strings.Trim(v, `"`)
		}
	case TaskInfo:
		switch k {
		case "nr_tid":
			n, err := strconv.Atoi(v)
			if err != nil {
				return errInfoValue(b, v, err)
			}
			i.Tasks.Count = n
		case "tids":
			if v == "" {
				return nil
			}
			for _, s := range strings.Split(v, ",") {
				tid, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
				if err != nil {
					return errInfoValue(b, v, err)
				}
				i.Tasks.TIDs = append(i.Tasks.TIDs, int32(tid))
			}
		}
	case UsageInfo:
		i.Usage[k] = v
	}
	return nil
}

// MarshalText renders the decoded blocks in the info file format.
func (i *Info) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	single := func(b InfoBlock, v string) { fmt.Fprintf(&buf, "%s:%s\n", b, v) }
	block := func(b InfoBlock, lines ...string) {
		fmt.Fprintf(&buf, "%s:%s%d\n", b, linesPrefix, len(lines))
		for _, l := range lines {
			fmt.Fprintf(&buf, "%s:%s\n", b, l)
		}
	}

	for b := InfoBlock(0); b < maxInfoBlock; b++ {
		if !i.Has(b) {
			continue
		}
		switch b {
		case ExeName:
			single(b, i.Exename)
		case ExeBuildID:
			single(b, i.BuildID)
		case ExitStatus:
			single(b, strconv.Itoa(i.ExitStatus))
		case Cmdline:
			single(b, i.Cmdline)
		case CPUInfo:
			block(b,
				fmt.Sprintf("nr_cpus=%d / %d (online/possible)", i.CPU.Online, i.CPU.Possible),
				"desc="+i.CPU.Desc)
		case MemInfo:
			single(b, i.MemInfo)
		case OSInfo:
			block(b, "kernel="+i.OS.Kernel, "hostname="+i.OS.Hostname, `distro="`+i.OS.Distro+`"`)
		case TaskInfo:
			tids := make([]string, len(i.Tasks.TIDs))
			for n, tid := range i.Tasks.TIDs {
				tids[n] = strconv.Itoa(int(tid))
			}
			block(b, "nr_tid="+strconv.Itoa(i.Tasks.Count), "tids="+strings.Join(tids, ","))
		case UsageInfo:
			keys := make([]string, 0, len(i.Usage))
			for k := range i.Usage {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			lines := make([]string, len(keys))
			for n, k := range keys {
				lines[n] = k + "=" + i.Usage[k]
			}
			block(b, lines...)
		case LoadInfo:
			single(b, i.LoadInfo)
		case ArgSpecInfo:
			block(b, i.ArgSpec...)
		case RecordDate:
			single(b, i.RecordDate)
			fmt.Fprintf(&buf, "elapsed_time:%s\n", i.ElapsedTime)
		case PatternType:
			single(b, i.PatternType)
		}
	}
	return buf.Bytes(), nil
}
