// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package membership

import (
	"encoding/binary"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/xorname"
)

// Kind - proposal discriminator
type Kind uint8

const (
	KindOnline Kind = iota + 1
	KindOffline
	KindSectionInfo
	KindNewElders
	KindJoinsAllowed
)

// Proposal - anything the elders vote on with signature shares
type Proposal interface {
	Kind() Kind
	Pack() []byte
}

// Online - a node joined, or arrived by relocation
type Online struct {
	Generation     uint64
	Member         knowledge.MemberInfo
	PreviousName   *xorname.Name
	DestinationKey *keyshare.PublicKey
}

func (p *Online) Kind() Kind { return KindOnline }

func (p *Online) Pack() []byte {
	buffer := packHeader(KindOnline, p.Generation)
	buffer = append(buffer, p.Member.Pack()...)

	flags := byte(0)
	if nil != p.PreviousName {
		flags |= 0x01
	}
	if nil != p.DestinationKey {
		flags |= 0x02
	}
	buffer = append(buffer, flags)
	if nil != p.PreviousName {
		buffer = append(buffer, p.PreviousName[:]...)
	}
	if nil != p.DestinationKey {
		buffer = append(buffer, p.DestinationKey[:]...)
	}
	return buffer
}

// Offline - a node left, or is being relocated away
type Offline struct {
	Generation uint64
	Member     knowledge.MemberInfo
}

func (p *Offline) Kind() Kind { return KindOffline }

func (p *Offline) Pack() []byte {
	buffer := packHeader(KindOffline, p.Generation)
	return append(buffer, p.Member.Pack()...)
}

// SectionInfo - a freshly generated SAP, voted with the NEW key
type SectionInfo struct {
	SAP knowledge.SAP
}

func (p *SectionInfo) Kind() Kind { return KindSectionInfo }

func (p *SectionInfo) Pack() []byte {
	buffer := []byte{byte(KindSectionInfo)}
	return append(buffer, p.SAP.Pack()...)
}

// NewElders - the CURRENT key attesting a new-key SAP; aggregating
// this approves the handover
type NewElders struct {
	SAP knowledge.SAP
}

func (p *NewElders) Kind() Kind { return KindNewElders }

func (p *NewElders) Pack() []byte {
	buffer := []byte{byte(KindNewElders)}
	return append(buffer, p.SAP.Pack()...)
}

// JoinsAllowed - open or close the section to new joiners
type JoinsAllowed struct {
	Generation uint64
	Allowed    bool
}

func (p *JoinsAllowed) Kind() Kind { return KindJoinsAllowed }

func (p *JoinsAllowed) Pack() []byte {
	buffer := packHeader(KindJoinsAllowed, p.Generation)
	if p.Allowed {
		return append(buffer, 1)
	}
	return append(buffer, 0)
}

func packHeader(kind Kind, generation uint64) []byte {
	buffer := make([]byte, 9)
	buffer[0] = byte(kind)
	binary.BigEndian.PutUint64(buffer[1:], generation)
	return buffer
}

// UnpackProposal - inverse of the proposal Pack methods
func UnpackProposal(buffer []byte) (Proposal, error) {
	if 0 == len(buffer) {
		return nil, fault.ErrMessageTooShort
	}
	kind := Kind(buffer[0])
	body := buffer[1:]

	switch kind {

	case KindOnline:
		if len(body) < 8 {
			return nil, fault.ErrMessageTooShort
		}
		generation := binary.BigEndian.Uint64(body)
		member, n, err := knowledge.UnpackMemberInfo(body[8:])
		if nil != err {
			return nil, err
		}
		body = body[8+n:]
		if len(body) < 1 {
			return nil, fault.ErrMessageTooShort
		}
		flags := body[0]
		body = body[1:]
		p := &Online{Generation: generation, Member: member}
		if 0 != flags&0x01 {
			if len(body) < xorname.Length {
				return nil, fault.ErrMessageTooShort
			}
			previous, err := xorname.FromBytes(body[:xorname.Length])
			if nil != err {
				return nil, err
			}
			p.PreviousName = &previous
			body = body[xorname.Length:]
		}
		if 0 != flags&0x02 {
			if len(body) < keyshare.PublicKeySize {
				return nil, fault.ErrMessageTooShort
			}
			key, err := keyshare.PublicKeyFromBytes(body[:keyshare.PublicKeySize])
			if nil != err {
				return nil, err
			}
			p.DestinationKey = &key
		}
		return p, nil

	case KindOffline:
		if len(body) < 8 {
			return nil, fault.ErrMessageTooShort
		}
		generation := binary.BigEndian.Uint64(body)
		member, _, err := knowledge.UnpackMemberInfo(body[8:])
		if nil != err {
			return nil, err
		}
		return &Offline{Generation: generation, Member: member}, nil

	case KindSectionInfo:
		sap, err := knowledge.UnpackSAP(body)
		if nil != err {
			return nil, err
		}
		return &SectionInfo{SAP: sap}, nil

	case KindNewElders:
		sap, err := knowledge.UnpackSAP(body)
		if nil != err {
			return nil, err
		}
		return &NewElders{SAP: sap}, nil

	case KindJoinsAllowed:
		if len(body) < 9 {
			return nil, fault.ErrMessageTooShort
		}
		return &JoinsAllowed{
			Generation: binary.BigEndian.Uint64(body),
			Allowed:    0 != body[8],
		}, nil
	}

	return nil, fault.ErrInvalidProposal
}
