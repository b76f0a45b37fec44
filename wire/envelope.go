// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire - the message envelope exchanged between nodes and
// clients
//
// every message starts with a fixed header: version, a random 16 byte
// message id, the kind byte, then the destination name and section
// key. The authority block is variable length and tagged, the payload
// follows with a varint length prefix. Byte positions are part of the
// protocol and must not move between releases.
package wire

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/ed25519"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/xorname"
)

// Version - current envelope version byte
const Version = 1

// MsgIDSize - bytes in a message id
const MsgIDSize = 16

// fixed header offsets
const (
	offsetVersion = 0
	offsetMsgID   = 1
	offsetKind    = offsetMsgID + MsgIDSize
	offsetDstName = offsetKind + 1
	offsetDstKey  = offsetDstName + xorname.Length
	offsetAuth    = offsetDstKey + keyshare.PublicKeySize
)

// Kind - top level message category
type Kind uint8

const (
	KindClient Kind = iota + 1
	KindNode
	KindAntiEntropy
	KindDataResponse
)

// MsgID - random correlation id carried end to end
type MsgID [MsgIDSize]byte

// NewMsgID - a fresh random id
func NewMsgID() (MsgID, error) {
	var id MsgID
	_, err := rand.Read(id[:])
	return id, err
}

// String - hex for logging
func (id MsgID) String() string {
	return hex.EncodeToString(id[:])
}

// Dst - the xor-space destination of a message
type Dst struct {
	Name      xorname.Name
	SectionPK keyshare.PublicKey
}

// authority tags
const (
	authClient       = 1
	authNode         = 2
	authAntiEntropy  = 3
	authDataResponse = 4
)

// Authority - the provenance block of an envelope
//
// Verify checks the authority against the payload bytes; the plain
// variants always pass and are vetted at a higher layer
type Authority interface {
	Verify(payload []byte) error
	pack() []byte
}

// ClientAuth - a client keypair signature over the payload
type ClientAuth struct {
	PublicKey keyshare.PublicKey
	Signature []byte
}

func (a ClientAuth) Verify(payload []byte) error {
	return a.PublicKey.Verify(payload, a.Signature)
}

func (a ClientAuth) pack() []byte {
	buffer := make([]byte, 0, 1+keyshare.PublicKeySize+util.Varint64MaximumBytes+len(a.Signature))
	buffer = append(buffer, authClient)
	buffer = append(buffer, a.PublicKey[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(len(a.Signature)))...)
	return append(buffer, a.Signature...)
}

// NodeAuth - an ed25519 node signature over the payload
//
// the name must be derivable from the public key, so a node cannot
// claim an arbitrary position
type NodeAuth struct {
	Name      xorname.Name
	PublicKey ed25519.PublicKey
	Signature []byte
}

func (a NodeAuth) Verify(payload []byte) error {
	if keyshare.NodeName(a.PublicKey, a.Name.Age()) != a.Name {
		return fault.ErrInvalidSignature
	}
	return keyshare.VerifyNodeSig(a.PublicKey, payload, a.Signature)
}

func (a NodeAuth) pack() []byte {
	buffer := make([]byte, 0, 1+xorname.Length+ed25519.PublicKeySize+util.Varint64MaximumBytes+len(a.Signature))
	buffer = append(buffer, authNode)
	buffer = append(buffer, a.Name[:]...)
	buffer = append(buffer, a.PublicKey...)
	buffer = append(buffer, util.ToVarint64(uint64(len(a.Signature)))...)
	return append(buffer, a.Signature...)
}

// AntiEntropyAuth - unsigned; carries only the sender name
type AntiEntropyAuth struct {
	Name xorname.Name
}

func (a AntiEntropyAuth) Verify(payload []byte) error { return nil }

func (a AntiEntropyAuth) pack() []byte {
	buffer := make([]byte, 0, 1+xorname.Length)
	buffer = append(buffer, authAntiEntropy)
	return append(buffer, a.Name[:]...)
}

// DataResponseAuth - unsigned; the correlation id ties the response
// to the originating request
type DataResponseAuth struct {
	Name        xorname.Name
	Correlation MsgID
}

func (a DataResponseAuth) Verify(payload []byte) error { return nil }

func (a DataResponseAuth) pack() []byte {
	buffer := make([]byte, 0, 1+xorname.Length+MsgIDSize)
	buffer = append(buffer, authDataResponse)
	buffer = append(buffer, a.Name[:]...)
	return append(buffer, a.Correlation[:]...)
}

// Envelope - one framed message
type Envelope struct {
	ID      MsgID
	Kind    Kind
	Dst     Dst
	Auth    Authority
	Payload []byte
}

// Pack - serialise for the wire
func (e *Envelope) Pack() ([]byte, error) {
	if nil == e.Auth {
		return nil, fault.ErrInvalidEnvelope
	}
	switch e.Kind {
	case KindClient, KindNode, KindAntiEntropy, KindDataResponse:
	default:
		return nil, fault.ErrInvalidEnvelope
	}

	auth := e.Auth.pack()

	buffer := make([]byte, offsetAuth, offsetAuth+len(auth)+util.Varint64MaximumBytes+len(e.Payload))
	buffer[offsetVersion] = Version
	copy(buffer[offsetMsgID:], e.ID[:])
	buffer[offsetKind] = byte(e.Kind)
	copy(buffer[offsetDstName:], e.Dst.Name[:])
	copy(buffer[offsetDstKey:], e.Dst.SectionPK[:])

	buffer = append(buffer, auth...)
	buffer = append(buffer, util.ToVarint64(uint64(len(e.Payload)))...)
	return append(buffer, e.Payload...), nil
}

// Unpack - parse a framed message
func Unpack(buffer []byte) (*Envelope, error) {
	if len(buffer) < offsetAuth+1 {
		return nil, fault.ErrMessageTooShort
	}
	if Version != buffer[offsetVersion] {
		return nil, fault.ErrInvalidEnvelope
	}

	e := &Envelope{
		Kind: Kind(buffer[offsetKind]),
	}
	copy(e.ID[:], buffer[offsetMsgID:offsetKind])
	copy(e.Dst.Name[:], buffer[offsetDstName:offsetDstKey])
	copy(e.Dst.SectionPK[:], buffer[offsetDstKey:offsetAuth])

	switch e.Kind {
	case KindClient, KindNode, KindAntiEntropy, KindDataResponse:
	default:
		return nil, fault.ErrInvalidEnvelope
	}

	rest, err := unpackAuthority(e, buffer[offsetAuth:])
	if nil != err {
		return nil, err
	}

	length, consumed := util.FromVarint64(rest)
	if 0 == consumed {
		return nil, fault.ErrMessageTooShort
	}
	rest = rest[consumed:]
	if uint64(len(rest)) != length {
		return nil, fault.ErrInvalidEnvelope
	}
	e.Payload = rest
	return e, nil
}

func unpackAuthority(e *Envelope, buffer []byte) ([]byte, error) {
	if 0 == len(buffer) {
		return nil, fault.ErrMessageTooShort
	}
	tag := buffer[0]
	buffer = buffer[1:]

	switch tag {

	case authClient:
		if len(buffer) < keyshare.PublicKeySize {
			return nil, fault.ErrMessageTooShort
		}
		auth := ClientAuth{}
		copy(auth.PublicKey[:], buffer[:keyshare.PublicKeySize])
		buffer = buffer[keyshare.PublicKeySize:]
		signature, rest, err := unpackSignature(buffer)
		if nil != err {
			return nil, err
		}
		auth.Signature = signature
		e.Auth = auth
		return rest, nil

	case authNode:
		if len(buffer) < xorname.Length+ed25519.PublicKeySize {
			return nil, fault.ErrMessageTooShort
		}
		auth := NodeAuth{}
		copy(auth.Name[:], buffer[:xorname.Length])
		buffer = buffer[xorname.Length:]
		auth.PublicKey = append(ed25519.PublicKey{}, buffer[:ed25519.PublicKeySize]...)
		buffer = buffer[ed25519.PublicKeySize:]
		signature, rest, err := unpackSignature(buffer)
		if nil != err {
			return nil, err
		}
		auth.Signature = signature
		e.Auth = auth
		return rest, nil

	case authAntiEntropy:
		if len(buffer) < xorname.Length {
			return nil, fault.ErrMessageTooShort
		}
		auth := AntiEntropyAuth{}
		copy(auth.Name[:], buffer[:xorname.Length])
		e.Auth = auth
		return buffer[xorname.Length:], nil

	case authDataResponse:
		if len(buffer) < xorname.Length+MsgIDSize {
			return nil, fault.ErrMessageTooShort
		}
		auth := DataResponseAuth{}
		copy(auth.Name[:], buffer[:xorname.Length])
		copy(auth.Correlation[:], buffer[xorname.Length:xorname.Length+MsgIDSize])
		e.Auth = auth
		return buffer[xorname.Length+MsgIDSize:], nil

	default:
		return nil, fault.ErrInvalidEnvelope
	}
}

func unpackSignature(buffer []byte) ([]byte, []byte, error) {
	length, consumed := util.FromVarint64(buffer)
	if 0 == consumed {
		return nil, nil, fault.ErrMessageTooShort
	}
	buffer = buffer[consumed:]
	if uint64(len(buffer)) < length {
		return nil, nil, fault.ErrMessageTooShort
	}
	return buffer[:length], buffer[length:], nil
}
