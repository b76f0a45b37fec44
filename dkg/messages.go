// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dkg

import (
	"reflect"

	"go.dedis.ch/kyber/v3"
	pedersen "go.dedis.ch/kyber/v3/share/dkg/pedersen"
	"go.dedis.ch/protobuf"

	"github.com/sectionnet/sectiond/fault"
)

// the deal and response structs carry kyber points, so decoding needs
// constructors bound to the suite
var constructors = protobuf.Constructors{
	reflect.TypeOf((*kyber.Point)(nil)).Elem():  func() interface{} { return dkgSuite.Point() },
	reflect.TypeOf((*kyber.Scalar)(nil)).Elem(): func() interface{} { return dkgSuite.Scalar() },
}

// MessageKind - discriminates encoded session messages
type MessageKind uint8

const (
	KindPublicKey MessageKind = iota + 1
	KindDeal
	KindResponse
	KindFailureVote
)

// PublicKeyMessage - round one: a candidate's ephemeral key
type PublicKeyMessage struct {
	Session   []byte
	Index     uint32
	PublicKey kyber.Point
}

// DealMessage - round two: one deal, addressed to a single candidate
type DealMessage struct {
	Session []byte
	Deal    *pedersen.Deal
}

// ResponseMessage - round three: broadcast to every candidate
type ResponseMessage struct {
	Session  []byte
	Response *pedersen.Response
}

// Encode - kind byte followed by the protobuf body
func Encode(message interface{}) ([]byte, error) {
	var kind MessageKind
	switch message.(type) {
	case *PublicKeyMessage:
		kind = KindPublicKey
	case *DealMessage:
		kind = KindDeal
	case *ResponseMessage:
		kind = KindResponse
	case *FailureVote:
		kind = KindFailureVote
	default:
		return nil, fault.ErrInvalidDkgMessage
	}

	body, err := protobuf.Encode(message)
	if nil != err {
		return nil, err
	}
	buffer := make([]byte, 0, 1+len(body))
	buffer = append(buffer, byte(kind))
	return append(buffer, body...), nil
}

// Decode - inverse of Encode
func Decode(buffer []byte) (interface{}, error) {
	if 0 == len(buffer) {
		return nil, fault.ErrMessageTooShort
	}

	var message interface{}
	switch MessageKind(buffer[0]) {
	case KindPublicKey:
		message = &PublicKeyMessage{}
	case KindDeal:
		message = &DealMessage{}
	case KindResponse:
		message = &ResponseMessage{}
	case KindFailureVote:
		message = &FailureVote{}
	default:
		return nil, fault.ErrInvalidDkgMessage
	}

	err := protobuf.DecodeWithConstructors(buffer[1:], message, constructors)
	if nil != err {
		return nil, err
	}
	return message, nil
}
