// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package util - small helpers shared by the packing and storage code
package util

// Varint64MaximumBytes - maximum possible number of bytes in a Varint64
const Varint64MaximumBytes = 9

// ToVarint64 - encode a 64 bit unsigned integer
//
// seven value bits per byte, high bit set on all but the final byte;
// the ninth byte, when present, carries a full eight value bits
func ToVarint64(value uint64) []byte {
	result := make([]byte, 0, Varint64MaximumBytes)
	for {
		if len(result) == Varint64MaximumBytes-1 {
			result = append(result, byte(value))
			return result
		}
		b := byte(value & 0x7f)
		value >>= 7
		if 0 == value {
			return append(result, b)
		}
		result = append(result, b|0x80)
	}
}

// FromVarint64 - decode from the start of a buffer
//
// second return is the number of bytes consumed; 0, 0 on a truncated
// buffer
func FromVarint64(buffer []byte) (uint64, int) {
	value := uint64(0)
	shift := uint(0)

	for i, b := range buffer {
		if i == Varint64MaximumBytes-1 {
			return value | uint64(b)<<shift, i + 1
		}
		value |= uint64(b&0x7f) << shift
		if 0 == b&0x80 {
			return value, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// ClippedVarint64 - decode an int restricted to minimum..maximum
// out of range or malformed input returns 0, 0
func ClippedVarint64(buffer []byte, minimum int, maximum int) (int, int) {
	if minimum < 0 || maximum <= minimum {
		return 0, 0
	}
	value, count := FromVarint64(buffer)
	if 0 == count {
		return 0, 0
	}
	n := int(value)
	if n < minimum || n > maximum {
		return 0, 0
	}
	return n, count
}
