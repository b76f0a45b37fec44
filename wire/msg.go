// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"github.com/sectionnet/sectiond/fault"
)

// MsgType - the payload family inside an envelope
type MsgType uint8

const (
	ServiceQuery MsgType = iota + 1
	ServiceCmd
	NodeQuery
	NodeCmd
	SystemMsg
	DataResponse
)

// client surface operations, carried in ServiceQuery / ServiceCmd
const (
	OpPutChunk uint8 = iota + 1
	OpGetChunk
	OpCreateRegister
	OpEditRegister
	OpGetRegister
	OpGetRegisterEntry
	OpGetRegisterPolicy
	OpCreateWallet
	OpValidateTransfer
	OpRegisterTransfer
	OpGetWalletHistory
)

// node to node system operations, carried in SystemMsg
const (
	SysDkgMessage uint8 = iota + 1
	SysPropose
	SysAntiEntropyUpdate
	SysReplicatePush
	SysReplicateFetch
	SysPropagateCredit
	SysJoinRequest
)

// Msg - one decoded payload: family, operation selector and the
// operation specific body
type Msg struct {
	Type      MsgType
	Operation uint8
	Body      []byte
}

// Pack - serialise, suitable as an Envelope payload
func (m *Msg) Pack() ([]byte, error) {
	switch m.Type {
	case ServiceQuery, ServiceCmd, NodeQuery, NodeCmd, SystemMsg, DataResponse:
	default:
		return nil, fault.ErrInvalidEnvelope
	}
	buffer := make([]byte, 0, 2+len(m.Body))
	buffer = append(buffer, byte(m.Type), m.Operation)
	return append(buffer, m.Body...), nil
}

// UnpackMsg - parse an envelope payload
func UnpackMsg(buffer []byte) (*Msg, error) {
	if len(buffer) < 2 {
		return nil, fault.ErrMessageTooShort
	}
	m := &Msg{
		Type:      MsgType(buffer[0]),
		Operation: buffer[1],
		Body:      buffer[2:],
	}
	switch m.Type {
	case ServiceQuery, ServiceCmd, NodeQuery, NodeCmd, SystemMsg, DataResponse:
	default:
		return nil, fault.ErrInvalidEnvelope
	}
	return m, nil
}
