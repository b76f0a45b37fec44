// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package xorname

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
)

// Length - number of bytes in a name
const Length = 32

// Name - a 256 bit network address
// stored as a big endian byte array
type Name [Length]byte

// NewName - derive a name from arbitrary bytes by hashing
func NewName(record []byte) Name {
	return Name(sha3.Sum256(record))
}

// FromBytes - build a name from a 32 byte slice
func FromBytes(b []byte) (Name, error) {
	var name Name
	if Length != len(b) {
		return name, fault.ErrInvalidKeyLength
	}
	copy(name[:], b)
	return name, nil
}

// Age - node age is carried in the final byte of its name
func (name Name) Age() uint8 {
	return name[Length-1]
}

// WithAge - copy of the name with the age byte replaced
//
// relocation bumps a node's age, which requires deriving a fresh name
// whose trailing byte is the new age
func (name Name) WithAge(age uint8) Name {
	result := name
	result[Length-1] = age
	return result
}

// Bit - the n'th most significant bit of the name
func (name Name) Bit(n uint) bool {
	return 0 != name[n/8]&(0x80>>(n%8))
}

// Distance - xor distance between two names
func Distance(a Name, b Name) Name {
	var d Name
	for i := 0; i < Length; i += 1 {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Compare - numeric order of two names: -1, 0, +1
func Compare(a Name, b Name) int {
	return bytes.Compare(a[:], b[:])
}

// Compare - method form for sort closures
func (name Name) Compare(other Name) int {
	return Compare(name, other)
}

// CmpDistance - order lhs and rhs by their distance from target
// returns -1 if lhs is closer, +1 if rhs is closer, 0 if equal
func CmpDistance(target Name, lhs Name, rhs Name) int {
	return Compare(Distance(target, lhs), Distance(target, rhs))
}

// CommonPrefixLen - number of leading bits shared by two names
func CommonPrefixLen(a Name, b Name) uint {
	for i := uint(0); i < Length*8; i += 1 {
		if a.Bit(i) != b.Bit(i) {
			return i
		}
	}
	return Length * 8
}

// SortByDistance - sort names in place, ascending by distance from target
func SortByDistance(target Name, names []Name) {
	sort.Slice(names, func(i int, j int) bool {
		return CmpDistance(target, names[i], names[j]) < 0
	})
}

// ClosestN - the n names closest to target, ascending by distance
//
// the input slice is not modified
func ClosestN(target Name, names []Name, n int) []Name {
	sorted := make([]Name, len(names))
	copy(sorted, names)
	SortByDistance(target, sorted)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// String - hex representation for use by the fmt package (for %s)
func (name Name) String() string {
	return hex.EncodeToString(name[:])
}

// GoString - hex representation for use by the fmt package (for %#v)
func (name Name) GoString() string {
	return "<name:" + hex.EncodeToString(name[:]) + ">"
}

// MarshalText - hex encoding for config and json use
func (name Name) MarshalText() ([]byte, error) {
	size := hex.EncodedLen(Length)
	buffer := make([]byte, size)
	hex.Encode(buffer, name[:])
	return buffer, nil
}

// UnmarshalText - decode a hex name
func (name *Name) UnmarshalText(s []byte) error {
	if hex.EncodedLen(Length) != len(s) {
		return fault.ErrInvalidKeyLength
	}
	byteCount, err := hex.Decode(name[:], s)
	if nil != err {
		return err
	}
	if Length != byteCount {
		return fault.ErrInvalidKeyLength
	}
	return nil
}

// ensure the Scan conversion works with %v
var _ fmt.Stringer = Name{}
