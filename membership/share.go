// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package membership

import (
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
)

// PayloadKind - what a signature share is being collected over
type PayloadKind uint8

const (
	// PayloadProposal - a packed Proposal
	PayloadProposal PayloadKind = iota + 1

	// PayloadChainEdge - the raw bytes of a new section key, signed
	// by the current key to form its chain edge
	PayloadChainEdge

	// PayloadSAPUpdate - a packed SAP re-signed after a member change
	PayloadSAPUpdate
)

// ShareMessage - one elder's signature share over a payload,
// broadcast to all current elders
type ShareMessage struct {
	PayloadKind PayloadKind
	Payload     []byte
	Share       keyshare.SectionSigShare
}

// Pack - wire form of the share message
func (m ShareMessage) Pack() []byte {
	pkSet := m.Share.PublicKeySet.Marshal()

	buffer := make([]byte, 0, 1+len(m.Payload)+len(pkSet)+len(m.Share.Share)+16)
	buffer = append(buffer, byte(m.PayloadKind))
	buffer = append(buffer, util.ToVarint64(uint64(len(m.Payload)))...)
	buffer = append(buffer, m.Payload...)
	buffer = append(buffer, util.ToVarint64(uint64(len(pkSet)))...)
	buffer = append(buffer, pkSet...)
	buffer = append(buffer, util.ToVarint64(uint64(m.Share.Index))...)
	buffer = append(buffer, util.ToVarint64(uint64(len(m.Share.Share)))...)
	return append(buffer, m.Share.Share...)
}

// UnpackShareMessage - inverse of Pack
func UnpackShareMessage(buffer []byte) (ShareMessage, error) {
	if len(buffer) < 2 {
		return ShareMessage{}, fault.ErrMessageTooShort
	}
	kind := PayloadKind(buffer[0])
	buffer = buffer[1:]

	payloadLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+payloadLength {
		return ShareMessage{}, fault.ErrMessageTooShort
	}
	payload := make([]byte, payloadLength)
	copy(payload, buffer[used:])
	buffer = buffer[uint64(used)+payloadLength:]

	pkSetLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+pkSetLength {
		return ShareMessage{}, fault.ErrMessageTooShort
	}
	pkSet, err := keyshare.UnmarshalPublicKeySet(buffer[used : uint64(used)+pkSetLength])
	if nil != err {
		return ShareMessage{}, err
	}
	buffer = buffer[uint64(used)+pkSetLength:]

	index, used := util.FromVarint64(buffer)
	if 0 == used {
		return ShareMessage{}, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]

	shareLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+shareLength {
		return ShareMessage{}, fault.ErrMessageTooShort
	}
	shareBytes := make([]byte, shareLength)
	copy(shareBytes, buffer[used:])

	return ShareMessage{
		PayloadKind: kind,
		Payload:     payload,
		Share: keyshare.SectionSigShare{
			PublicKeySet: pkSet,
			Index:        int(index),
			Share:        shareBytes,
		},
	}, nil
}
