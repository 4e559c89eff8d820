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
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/util/bytes"
)

// Magic identifies the info file. It occupies the first 8 bytes of the run header.
const Magic = "Ftrace!\x00"

const (
	// VersionMin is the oldest data file version that can be read
	VersionMin uint32 = 3
	// Version is the current data file version
	Version uint32 = 4
	// HeaderSize is the size of the run header on disk
	HeaderSize = 40
)

const (
	// ElfDataLSB tags the little endian producer
	ElfDataLSB uint8 = 1
	// ElfDataMSB tags the big endian producer
	ElfDataMSB uint8 = 2
	// ElfClass32 tags the 32-bit producer
	ElfClass32 uint8 = 1
	// ElfClass64 tags the 64-bit producer
	ElfClass64 uint8 = 2
)

// Feature is the bit index in the feature mask of the run header.
type Feature uint

const (
	// PLTHook denotes library calls were traced through the PLT
	PLTHook Feature = iota
	// TaskSession denotes the data directory contains the task event log
	TaskSession
	// KernelTrace denotes kernel functions were traced as well
	KernelTrace
	// Argument denotes function arguments were recorded
	Argument
	// Retval denotes function return values were recorded
	Retval
	// SymRelAddr denotes symbol addresses are relative to the load base
	SymRelAddr
	// MaxStack denotes the header carries the max stack depth
	MaxStack
	// Event denotes user-defined events were recorded
	Event
	// PerfEvent denotes perf events were recorded
	PerfEvent
	// AutoArgs denotes arguments of well-known functions were recorded
	AutoArgs
	// DebugInfo denotes debug info was saved along with symbols
	DebugInfo
)

var featureNames = [...]string{
	"plthook", "task_session", "kernel", "argument", "retval", "sym_rel_addr",
	"max_stack", "event", "perf_event", "auto_args", "debug_info",
}

// String returns the feature name.
func (f Feature) String() string {
	if int(f) < len(featureNames) {
		return featureNames[f]
	}
	return fmt.Sprintf("feature(%d)", uint(f))
}

// Mask returns the feature mask with only this feature set.
func (f Feature) Mask() uint64 { return 1 << f }

// InfoBlock is the bit index in the info mask of the run header. Each
// bit announces a metadata block following the header in the info file.
type InfoBlock uint

const (
	// ExeName is the traced executable path
	ExeName InfoBlock = iota
	// ExeBuildID is the build id of the executable
	ExeBuildID
	// ExitStatus is the exit status of the traced program
	ExitStatus
	// Cmdline is the command line of the traced program
	Cmdline
	// CPUInfo describes the processors of the recording machine
	CPUInfo
	// MemInfo describes the memory of the recording machine
	MemInfo
	// OSInfo describes the operating system of the recording machine
	OSInfo
	// TaskInfo lists the traced tasks
	TaskInfo
	// UsageInfo holds the resource usage of the traced program
	UsageInfo
	// LoadInfo holds the system load averages
	LoadInfo
	// ArgSpecInfo holds the argument and return value specifications
	ArgSpecInfo
	// RecordDate holds the date of the recording and the elapsed time
	RecordDate
	// PatternType holds the type of the filter patterns
	PatternType

	maxInfoBlock
)

var infoNames = [...]string{
	"exename", "build_id", "exit_status", "cmdline", "cpuinfo", "meminfo", "osinfo",
	"taskinfo", "usageinfo", "loadinfo", "argspec", "record_date", "pattern_type",
}

// String returns the info block key as it appears in the info file.
func (b InfoBlock) String() string {
	if b < maxInfoBlock {
		return infoNames[b]
	}
	return fmt.Sprintf("info(%d)", uint(b))
}

// Mask returns the info mask with only this block set.
func (b InfoBlock) Mask() uint64 { return 1 << b }

// Header is the decoded run header. All numeric fields are in the byte order
// of the running machine.
type Header struct {
	Version    uint32
	HeaderSize uint16
	Endian     uint8
	Class      uint8
	FeatMask   uint64
	InfoMask   uint64
	MaxStack   uint16
	// ByteSwap is set when the data was produced on a machine with the opposite byte order
	ByteSwap bool
	// BitSwap is set when the producer allocated bitfields in the opposite order. The
	// producer's bitfield order is derived from its ABI (LSB first for little endian,
	// MSB first for big endian), so it follows ByteSwap rather than being detected
	// independently.
	BitSwap bool
}

// NativeEndian returns the endian tag of the running machine.
func NativeEndian() uint8 {
	if bytes.IsBigEndian(bytes.NativeEndian) {
		return ElfDataMSB
	}
	return ElfDataLSB
}

// DecodeHeader decodes and validates the run header. The byte and bitfield order of the
// producer are compared with the running machine and the numeric fields are normalized.
func DecodeHeader(raw []byte) (*Header, error) {
	if len(raw) < HeaderSize {
		return nil, errs.ErrShortHeader
	}
	if string(raw[:len(Magic)]) != Magic {
		return nil, errs.ErrMagicMismatch
	}

	h := &Header{
		Version:    bytes.ReadUint32(raw[8:]),
		HeaderSize: bytes.ReadUint16(raw[12:]),
		Endian:     raw[14],
		Class:      raw[15],
		FeatMask:   bytes.ReadUint64(raw[16:]),
		InfoMask:   bytes.ReadUint64(raw[24:]),
		MaxStack:   bytes.ReadUint16(raw[32:]),
	}
	h.checkDataOrder()

	if h.ByteSwap {
		h.Version = bytes.Swap32(h.Version)
		h.HeaderSize = bytes.Swap16(h.HeaderSize)
		h.FeatMask = bytes.Swap64(h.FeatMask)
		h.InfoMask = bytes.Swap64(h.InfoMask)
		h.MaxStack = bytes.Swap16(h.MaxStack)
	}

	if h.Version < VersionMin || h.Version > Version {
		return nil, errs.ErrUnsupportedVersion{Version: h.Version, Min: VersionMin, Max: Version}
	}

	return h, nil
}

// checkDataOrder decides the byte and bitfield swap flags. The record magic is laid out
// in a scratch record the way the producer would store it and then extracted with the
// bitfield convention of the running machine.
func (h *Header) checkDataOrder() {
	h.ByteSwap = h.Endian != NativeEndian()

	var scratch [RecordSize]byte
	producer := h.ByteOrder()
	producer.PutUint64(scratch[8:], producerBitOrder(h.Endian).pack(Record{Magic: RecordMagic}))

	word := bytes.ReadUint64(scratch[8:])
	if h.ByteSwap {
		word = bytes.Swap64(word)
	}
	h.BitSwap = NativeBitOrder().unpack(word).Magic != RecordMagic
}

// ByteOrder returns the byte order of the producer.
func (h *Header) ByteOrder() binary.ByteOrder {
	if h.ByteSwap {
		return bytes.Opposite(bytes.NativeEndian)
	}
	return bytes.NativeEndian
}

// Has determines if the feature is set in the feature mask.
func (h *Header) Has(f Feature) bool { return h.FeatMask&f.Mask() != 0 }

// HasInfo determines if the info block is announced in the info mask.
func (h *Header) HasInfo(b InfoBlock) bool { return h.InfoMask&b.Mask() != 0 }

// Features returns the feature mask as a bit set.
func (h *Header) Features() *bitset.BitSet { return bitset.From([]uint64{h.FeatMask}) }

// InfoBlocks returns the info mask as a bit set.
func (h *Header) InfoBlocks() *bitset.BitSet { return bitset.From([]uint64{h.InfoMask}) }

// FeatureNames returns the names of all features present in the feature mask.
func (h *Header) FeatureNames() []string {
	names := make([]string, 0)
	set := h.Features()
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		names = append(names, Feature(i).String())
	}
	return names
}

// MarshalBinary encodes the header in the producer byte order given by the endian tag.
func (h *Header) MarshalBinary() ([]byte, error) {
	var order binary.ByteOrder
	switch h.Endian {
	case ElfDataLSB:
		order = binary.LittleEndian
	case ElfDataMSB:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid endian tag %d", h.Endian)
	}
	size := h.HeaderSize
	if size == 0 {
		size = HeaderSize
	}
	b := make([]byte, HeaderSize)
	copy(b, Magic)
	order.PutUint32(b[8:], h.Version)
	order.PutUint16(b[12:], size)
	b[14] = h.Endian
	b[15] = h.Class
	order.PutUint64(b[16:], h.FeatMask)
	order.PutUint64(b[24:], h.InfoMask)
	order.PutUint16(b[32:], h.MaxStack)
	return b, nil
}

// String returns the header summary.
func (h *Header) String() string {
	return fmt.Sprintf("version: %d, endian: %d, class: %d, features: %#x, info: %#x, max stack: %d",
		h.Version, h.Endian, h.Class, h.FeatMask, h.InfoMask, h.MaxStack)
}
