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

package bytes

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/sys/cpu"
)

// NativeEndian represents the endianness of the current machine
var NativeEndian binary.ByteOrder = binary.LittleEndian

func init() {
	if cpu.IsBigEndian {
		NativeEndian = binary.BigEndian
	}
}

// IsBigEndian reports whether the byte order is big endian.
func IsBigEndian(order binary.ByteOrder) bool { return order == binary.BigEndian }

// Opposite returns the byte order that is not the given one.
func Opposite(order binary.ByteOrder) binary.ByteOrder {
	if IsBigEndian(order) {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ReadUint16 reads the uint16 value from the byte slice.
func ReadUint16(b []byte) uint16 {
	return NativeEndian.Uint16(b)
}

// ReadUint32 reads the uint32 value from the byte slice.
func ReadUint32(b []byte) uint32 {
	return NativeEndian.Uint32(b)
}

// ReadUint64 reads the uint64 value from the byte slice.
func ReadUint64(b []byte) uint64 {
	return NativeEndian.Uint64(b)
}

// Swap16 reverses the byte order of the uint16 value.
func Swap16(v uint16) uint16 { return bits.ReverseBytes16(v) }

// Swap32 reverses the byte order of the uint32 value.
func Swap32(v uint32) uint32 { return bits.ReverseBytes32(v) }

// Swap64 reverses the byte order of the uint64 value.
func Swap64(v uint64) uint64 { return bits.ReverseBytes64(v) }
