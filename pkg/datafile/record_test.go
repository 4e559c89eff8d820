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
	"bytes"
	"encoding/binary"
	"testing"

	errs "github.com/rabbitstack/calltrace/pkg/errors"
	"github.com/rabbitstack/calltrace/pkg/event"
	ubytes "github.com/rabbitstack/calltrace/pkg/util/bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	rec := Record{
		Time:  event.NewTimestamp(1234, 5678),
		Type:  Exit,
		More:  true,
		Magic: RecordMagic,
		Depth: 513,
		Addr:  0x7f1234567890,
	}

	var tests = []struct {
		name  string
		order binary.ByteOrder
		bits  BitOrder
	}{
		{"little endian lsb", binary.LittleEndian, LSBFirst},
		{"little endian msb", binary.LittleEndian, MSBFirst},
		{"big endian lsb", binary.BigEndian, LSBFirst},
		{"big endian msb", binary.BigEndian, MSBFirst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := EncodeRecord(rec, tt.order, tt.bits)
			byteSwap := tt.order != ubytes.NativeEndian
			bitSwap := tt.bits != NativeBitOrder()

			r, err := DecodeRecord(b, byteSwap, bitSwap)
			require.NoError(t, err)
			assert.Equal(t, rec, r)

			// decoding with the wrong bitfield order must not pass the magic check
			_, err = DecodeRecord(b, byteSwap, !bitSwap)
			assert.ErrorIs(t, err, errs.ErrInvalidRecord)
		})
	}
}

func TestDecodeRecordWithHeaderFlags(t *testing.T) {
	for _, endian := range []uint8{ElfDataLSB, ElfDataMSB} {
		raw, err := (&Header{Version: Version, Endian: endian}).MarshalBinary()
		require.NoError(t, err)
		h, err := DecodeHeader(raw)
		require.NoError(t, err)

		rec := Record{Time: 42, Type: Entry, Magic: RecordMagic, Depth: 3, Addr: 0x401000}
		b := EncodeRecord(rec, h.ByteOrder(), producerBitOrder(endian))
		r, err := DecodeRecord(b, h.ByteSwap, h.BitSwap)
		require.NoError(t, err)
		assert.Equal(t, rec, r)
	}
}

func TestDecodeRecordInvalid(t *testing.T) {
	_, err := DecodeRecord(make([]byte, 8), false, false)
	assert.ErrorIs(t, err, errs.ErrInvalidRecord)

	b := EncodeRecord(Record{Magic: 0x2}, ubytes.NativeEndian, NativeBitOrder())
	_, err = DecodeRecord(b, false, false)
	assert.ErrorIs(t, err, errs.ErrInvalidRecord)
}

func TestRecordDecoder(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		buf.Write(EncodeRecord(Record{Time: event.Timestamp(i + 1), Type: Entry, Magic: RecordMagic, Depth: uint16(i), Addr: 0x1000}, binary.BigEndian, MSBFirst))
	}

	d := NewRecordDecoder(bytes.NewReader(buf.Bytes()), !ubytes.IsBigEndian(ubytes.NativeEndian), NativeBitOrder() != MSBFirst)
	recs := make([]Record, 0)
	for d.More() {
		recs = append(recs, d.Record())
	}
	require.NoError(t, d.Err())
	require.Len(t, recs, 3)
	assert.Equal(t, uint16(2), recs[2].Depth)
	assert.Equal(t, event.Timestamp(3), recs[2].Time)

	buf.Write([]byte{1, 2, 3})
	d = NewRecordDecoder(bytes.NewReader(buf.Bytes()), !ubytes.IsBigEndian(ubytes.NativeEndian), NativeBitOrder() != MSBFirst)
	n := 0
	for d.More() {
		n++
	}
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, d.Err(), errs.ErrInvalidRecord)
}

func TestRecordTypeString(t *testing.T) {
	assert.Equal(t, "exit", Exit.String())
	assert.Equal(t, "event", EventRecord.String())
}
