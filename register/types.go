// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package register

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/xorname"
)

// Address - name and type tag of a register
type Address struct {
	Name xorname.Name
	Tag  uint64
}

// Permissions - what one user may do to a register
type Permissions struct {
	Write             bool
	ModifyPermissions bool
}

// Policy - ownership and per-user permissions, versioned so that
// concurrent policy changes cannot silently overwrite each other
type Policy struct {
	Owner       keyshare.PublicKey
	Permissions map[keyshare.PublicKey]Permissions
	Version     uint64
}

// allows - owner may do anything; other users per permission table
func (p Policy) allows(user keyshare.PublicKey, write bool, modify bool) bool {
	if user == p.Owner {
		return true
	}
	perm, ok := p.Permissions[user]
	if !ok {
		return false
	}
	if write && !perm.Write {
		return false
	}
	if modify && !perm.ModifyPermissions {
		return false
	}
	return true
}

// OpID - digest identifying one op
type OpID [32]byte

// Op - one CRDT log entry; Parents are the op ids this entry was
// created on top of
type Op struct {
	Address Address
	Parents []OpID
	Payload []byte
}

// Pack - canonical bytes for signing and identification
func (op Op) Pack() []byte {
	buffer := make([]byte, 0, xorname.Length+16+len(op.Parents)*32+len(op.Payload))
	buffer = append(buffer, op.Address.Name[:]...)

	var tag [8]byte
	binary.BigEndian.PutUint64(tag[:], op.Address.Tag)
	buffer = append(buffer, tag[:]...)

	buffer = append(buffer, util.ToVarint64(uint64(len(op.Parents)))...)
	for _, parent := range op.Parents {
		buffer = append(buffer, parent[:]...)
	}
	buffer = append(buffer, util.ToVarint64(uint64(len(op.Payload)))...)
	buffer = append(buffer, op.Payload...)
	return buffer
}

// SignedOp - an op with its author signature
type SignedOp struct {
	Op        Op
	Author    keyshare.PublicKey
	Signature []byte
}

// ID - ops are identified by the digest of their signed form
func (so SignedOp) ID() OpID {
	buffer := so.Op.Pack()
	buffer = append(buffer, so.Author[:]...)
	return OpID(sha3.Sum256(buffer))
}

// Verify - check the author signature over the op
func (so SignedOp) Verify() error {
	return so.Author.Verify(so.Op.Pack(), so.Signature)
}

// Pack - full record for the op log
func (so SignedOp) Pack() []byte {
	op := so.Op.Pack()
	buffer := make([]byte, 0, len(op)+keyshare.PublicKeySize+len(so.Signature)+4)
	buffer = append(buffer, util.ToVarint64(uint64(len(op)))...)
	buffer = append(buffer, op...)
	buffer = append(buffer, so.Author[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(len(so.Signature)))...)
	buffer = append(buffer, so.Signature...)
	return buffer
}

// UnpackSignedOp - inverse of SignedOp.Pack
func UnpackSignedOp(buffer []byte) (SignedOp, error) {
	opLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+opLength {
		return SignedOp{}, fault.ErrMessageTooShort
	}
	opBytes := buffer[used : uint64(used)+opLength]
	buffer = buffer[uint64(used)+opLength:]

	op, err := unpackOp(opBytes)
	if nil != err {
		return SignedOp{}, err
	}

	if len(buffer) < keyshare.PublicKeySize {
		return SignedOp{}, fault.ErrMessageTooShort
	}
	author, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
	if nil != err {
		return SignedOp{}, err
	}
	buffer = buffer[keyshare.PublicKeySize:]

	sigLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+sigLength {
		return SignedOp{}, fault.ErrMessageTooShort
	}
	signature := make([]byte, sigLength)
	copy(signature, buffer[used:])

	return SignedOp{
		Op:        op,
		Author:    author,
		Signature: signature,
	}, nil
}

func unpackOp(buffer []byte) (Op, error) {
	if len(buffer) < xorname.Length+8 {
		return Op{}, fault.ErrMessageTooShort
	}
	name, err := xorname.FromBytes(buffer[:xorname.Length])
	if nil != err {
		return Op{}, err
	}
	tag := binary.BigEndian.Uint64(buffer[xorname.Length:])
	buffer = buffer[xorname.Length+8:]

	parentCount, used := util.FromVarint64(buffer)
	if 0 == used {
		return Op{}, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]
	if uint64(len(buffer)) < parentCount*32 {
		return Op{}, fault.ErrMessageTooShort
	}
	parents := make([]OpID, parentCount)
	for i := uint64(0); i < parentCount; i += 1 {
		copy(parents[i][:], buffer[i*32:])
	}
	buffer = buffer[parentCount*32:]

	payloadLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+payloadLength {
		return Op{}, fault.ErrMessageTooShort
	}
	payload := make([]byte, payloadLength)
	copy(payload, buffer[used:])

	return Op{
		Address: Address{Name: name, Tag: tag},
		Parents: parents,
		Payload: payload,
	}, nil
}
