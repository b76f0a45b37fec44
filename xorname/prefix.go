// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package xorname

import (
	"strings"

	"github.com/sectionnet/sectiond/fault"
)

// Prefix - a leading bit pattern identifying a section of the
// name space; bits beyond BitCount are ignored
type Prefix struct {
	Name     Name
	BitCount uint
}

// EmptyPrefix - matches every name; the whole-network section
var EmptyPrefix = Prefix{}

// NewPrefix - prefix of the first bitCount bits of name
func NewPrefix(name Name, bitCount uint) (Prefix, error) {
	if bitCount > Length*8 {
		return Prefix{}, fault.ErrInvalidPrefix
	}
	p := Prefix{
		Name:     name,
		BitCount: bitCount,
	}
	p.canonicalise()
	return p, nil
}

// ParsePrefix - build a prefix from a string of '0' and '1' runes
func ParsePrefix(s string) (Prefix, error) {
	if uint(len(s)) > Length*8 {
		return Prefix{}, fault.ErrInvalidPrefix
	}
	var name Name
	for i, c := range s {
		switch c {
		case '1':
			name[i/8] |= 0x80 >> (uint(i) % 8)
		case '0':
		default:
			return Prefix{}, fault.ErrInvalidPrefix
		}
	}
	return Prefix{Name: name, BitCount: uint(len(s))}, nil
}

// zero all bits beyond the prefix length so that prefixes compare
// with == regardless of the name they were derived from
func (p *Prefix) canonicalise() {
	for i := p.BitCount; i < Length*8; i += 1 {
		p.Name[i/8] &^= 0x80 >> (i % 8)
	}
}

// Matches - true if the name shares the leading BitCount bits
func (p Prefix) Matches(name Name) bool {
	return CommonPrefixLen(p.Name, name) >= p.BitCount
}

// Extend - child prefix one bit longer
func (p Prefix) Extend(bit bool) Prefix {
	child := Prefix{
		Name:     p.Name,
		BitCount: p.BitCount + 1,
	}
	if bit {
		child.Name[p.BitCount/8] |= 0x80 >> (p.BitCount % 8)
	}
	return child
}

// IsPrefixOf - true if every name matching q also matches p
func (p Prefix) IsPrefixOf(q Prefix) bool {
	return p.BitCount <= q.BitCount && p.Matches(q.Name)
}

// MatchLen - number of leading prefix bits that agree with name,
// capped at the prefix length; used for longest-prefix lookup
func (p Prefix) MatchLen(name Name) uint {
	n := CommonPrefixLen(p.Name, name)
	if n > p.BitCount {
		n = p.BitCount
	}
	return n
}

// String - prefix as a string of '0' and '1' runes
func (p Prefix) String() string {
	var sb strings.Builder
	for i := uint(0); i < p.BitCount; i += 1 {
		if p.Name.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
