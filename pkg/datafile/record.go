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
	"encoding/binary"
	"expvar"
	"fmt"
	"io"

	"github.com/pkg/errors"
	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
	"github.com/rabbitstack/calltrace/pkg/util/bytes"
)

// RecordMagic is stored in every trace record to detect corrupted streams
const RecordMagic = 0x5

// RecordSize is the size of the trace record: the timestamp word and the packed word
const RecordSize = 16

const (
	addrMask  = 1<<48 - 1
	depthMask = 1<<10 - 1
)

var recordsRead = expvar.NewInt("datafile.records.read")

// RecordType is the kind of the trace record.
type RecordType uint8

const (
	// Entry is recorded when the function is entered
	Entry RecordType = iota
	// Exit is recorded when the function returns
	Exit
	// Lost denotes the records dropped by the recorder
	Lost
	// EventRecord is the user-defined or kernel event
	EventRecord
)

// String returns the record type name.
func (t RecordType) String() string {
	switch t {
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	case Lost:
		return "lost"
	case EventRecord:
		return "event"
	default:
		return ""
	}
}

// Record is the decoded trace record. On disk it is made of two 64-bit words. The first
// one is the timestamp and the second one packs the rest of the fields:
//
//	 63                 16 15        6 5     3  2  1  0
//	+---------------------+-----------+-------+----+----+
//	|       addr (48)     | depth(10) | magic |more|type|
//	+---------------------+-----------+-------+----+----+
//
// when bitfields are allocated from the least significant bit. Producers allocating
// from the most significant bit store the fields mirrored.
type Record struct {
	Time  event.Timestamp
	Type  RecordType
	More  bool
	Magic uint8
	Depth uint16
	Addr  uint64
}

// BitOrder is the order in which the compiler allocates bitfields inside the word.
type BitOrder uint8

const (
	// LSBFirst allocates the first bitfield at the least significant bit
	LSBFirst BitOrder = iota
	// MSBFirst allocates the first bitfield at the most significant bit
	MSBFirst
)

// NativeBitOrder returns the bitfield order of the running machine. It follows the byte order.
func NativeBitOrder() BitOrder {
	if bytes.IsBigEndian(bytes.NativeEndian) {
		return MSBFirst
	}
	return LSBFirst
}

func producerBitOrder(endian uint8) BitOrder {
	if endian == ElfDataMSB {
		return MSBFirst
	}
	return LSBFirst
}

// Opposite returns the other bitfield order.
func (o BitOrder) Opposite() BitOrder {
	if o == LSBFirst {
		return MSBFirst
	}
	return LSBFirst
}

func (o BitOrder) unpack(w uint64) Record {
	if o == MSBFirst {
		return Record{
			Type:  RecordType(w >> 62 & 0x3),
			More:  w>>61&0x1 == 1,
			Magic: uint8(w >> 58 & 0x7),
			Depth: uint16(w >> 48 & depthMask),
			Addr:  w & addrMask,
		}
	}
	return Record{
		Type:  RecordType(w & 0x3),
		More:  w>>2&0x1 == 1,
		Magic: uint8(w >> 3 & 0x7),
		Depth: uint16(w >> 6 & depthMask),
		Addr:  w >> 16,
	}
}

func (o BitOrder) pack(r Record) uint64 {
	var more uint64
	if r.More {
		more = 1
	}
	if o == MSBFirst {
		return uint64(r.Type&0x3)<<62 | more<<61 | uint64(r.Magic&0x7)<<58 |
			uint64(r.Depth&depthMask)<<48 | r.Addr&addrMask
	}
	return uint64(r.Type&0x3) | more<<2 | uint64(r.Magic&0x7)<<3 |
		uint64(r.Depth&depthMask)<<6 | (r.Addr&addrMask)<<16
}

// DecodeRecord decodes the raw record. The words are normalized to the byte
// order of the running machine and the fields are extracted with the bitfield
// order of the producer.
func DecodeRecord(b []byte, byteSwap, bitSwap bool) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, errors.Wrapf(errs.ErrInvalidRecord, "short record of %d bytes", len(b))
	}
	ts, word := bytes.ReadUint64(b[0:]), bytes.ReadUint64(b[8:])
	if byteSwap {
		ts, word = bytes.Swap64(ts), bytes.Swap64(word)
	}
	order := NativeBitOrder()
	if bitSwap {
		order = order.Opposite()
	}
	r := order.unpack(word)
	r.Time = event.Timestamp(ts)
	if r.Magic != RecordMagic {
		return r, errors.Wrapf(errs.ErrInvalidRecord, "got magic %#x", r.Magic)
	}
	return r, nil
}

// EncodeRecord produces the on-disk form of the record in the given byte and bitfield order.
func EncodeRecord(r Record, order binary.ByteOrder, bits BitOrder) []byte {
	b := make([]byte, RecordSize)
	order.PutUint64(b[0:], uint64(r.Time))
	order.PutUint64(b[8:], bits.pack(r))
	return b
}

// RecordDecoder decodes the stream of trace records written for a single task.
type RecordDecoder struct {
	r        *bufio.Reader
	byteSwap bool
	bitSwap  bool
	buf      [RecordSize]byte
	rec      Record
	err      error
	off      int64
}

// NewRecordDecoder returns the decoder reading records from the reader. The
// swap flags are the ones decided when the run header was decoded.
func NewRecordDecoder(r io.Reader, byteSwap, bitSwap bool) *RecordDecoder {
	return &RecordDecoder{r: bufio.NewReader(r), byteSwap: byteSwap, bitSwap: bitSwap}
}

// More decodes the next record and reports whether one is available.
func (d *RecordDecoder) More() bool {
	if d.err != nil {
		return false
	}
	n, err := io.ReadFull(d.r, d.buf[:])
	if err != nil {
		if err != io.EOF {
			d.err = errors.Wrapf(errs.ErrInvalidRecord, "truncated record at offset %d (%d bytes)", d.off, n)
		}
		return false
	}
	d.rec, err = DecodeRecord(d.buf[:], d.byteSwap, d.bitSwap)
	if err != nil {
		d.err = fmt.Errorf("record at offset %d: %w", d.off, err)
		return false
	}
	d.off += RecordSize
	recordsRead.Add(1)
	return true
}

// Record returns the record decoded by the last call to More.
func (d *RecordDecoder) Record() Record { return d.rec }

// Err returns the first error hit while decoding.
func (d *RecordDecoder) Err() error { return d.err }
