// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chunkstore

import (
	"github.com/tv42/zbase32"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/xorname"
)

// Kind - chunk visibility
type Kind uint8

const (
	Public Kind = iota
	Private
)

// MaxChunkSize - hard limit on a stored chunk
const MaxChunkSize = 1024 * 1024

// Address - where a chunk lives in the name space
type Address struct {
	Name xorname.Name
	Kind Kind
}

// Filename - z-base-32 of kind ‖ name, the on-disk file name
func (a Address) Filename() string {
	buffer := make([]byte, 0, xorname.Length+1)
	buffer = append(buffer, byte(a.Kind))
	buffer = append(buffer, a.Name[:]...)
	return zbase32.EncodeToString(buffer)
}

// AddressFromFilename - inverse of Filename
func AddressFromFilename(filename string) (Address, error) {
	buffer, err := zbase32.DecodeString(filename)
	if nil != err {
		return Address{}, fault.ErrInvalidChunkName
	}
	if xorname.Length+1 != len(buffer) {
		return Address{}, fault.ErrInvalidChunkName
	}
	kind := Kind(buffer[0])
	if Public != kind && Private != kind {
		return Address{}, fault.ErrInvalidChunkName
	}
	name, err := xorname.FromBytes(buffer[1:])
	if nil != err {
		return Address{}, err
	}
	return Address{Name: name, Kind: kind}, nil
}

// Chunk - an addressed blob
//
// Owner is only meaningful for private chunks
type Chunk struct {
	Address Address
	Owner   keyshare.PublicKey
	Value   []byte
}

// NewPublicChunk - a self-addressed public chunk
func NewPublicChunk(value []byte) Chunk {
	return Chunk{
		Address: Address{
			Name: xorname.NewName(value),
			Kind: Public,
		},
		Value: value,
	}
}

// NewPrivateChunk - an owner-addressed private chunk
func NewPrivateChunk(name xorname.Name, owner keyshare.PublicKey, value []byte) Chunk {
	return Chunk{
		Address: Address{
			Name: name,
			Kind: Private,
		},
		Owner: owner,
		Value: value,
	}
}

// Pack - serialise an address for a wire message body
func (a Address) Pack() []byte {
	buffer := make([]byte, 0, 1+xorname.Length)
	buffer = append(buffer, byte(a.Kind))
	return append(buffer, a.Name[:]...)
}

// UnpackAddress - inverse of Address.Pack
func UnpackAddress(buffer []byte) (Address, error) {
	if 1+xorname.Length != len(buffer) {
		return Address{}, fault.ErrInvalidChunkName
	}
	kind := Kind(buffer[0])
	if Public != kind && Private != kind {
		return Address{}, fault.ErrInvalidChunkName
	}
	name, err := xorname.FromBytes(buffer[1:])
	if nil != err {
		return Address{}, err
	}
	return Address{Name: name, Kind: kind}, nil
}

// Pack - serialise a whole chunk for replication transfer
func (c Chunk) Pack() []byte {
	buffer := make([]byte, 0, 1+xorname.Length+keyshare.PublicKeySize+len(c.Value))
	buffer = append(buffer, c.Address.Pack()...)
	buffer = append(buffer, c.Owner[:]...)
	return append(buffer, c.Value...)
}

// UnpackChunk - inverse of Chunk.Pack
func UnpackChunk(buffer []byte) (Chunk, error) {
	if len(buffer) < 1+xorname.Length+keyshare.PublicKeySize {
		return Chunk{}, fault.ErrMessageTooShort
	}
	address, err := UnpackAddress(buffer[:1+xorname.Length])
	if nil != err {
		return Chunk{}, err
	}
	buffer = buffer[1+xorname.Length:]
	owner, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
	if nil != err {
		return Chunk{}, err
	}
	chunk := Chunk{
		Address: address,
		Owner:   owner,
		Value:   buffer[keyshare.PublicKeySize:],
	}
	return chunk, chunk.Validate()
}

// Validate - size and name invariants checked before storage
func (c Chunk) Validate() error {
	if len(c.Value) > MaxChunkSize {
		return fault.ErrChunkTooLarge
	}
	if Public == c.Address.Kind && xorname.NewName(c.Value) != c.Address.Name {
		return fault.ErrInvalidChunkName
	}
	return nil
}
