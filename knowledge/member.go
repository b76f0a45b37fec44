// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package knowledge

import (
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/xorname"
)

// MemberState - lifecycle state of a section member
type MemberState uint8

const (
	StateJoined MemberState = iota
	StateLeft
	StateRelocated
)

// Relocation - where a member went and under which section key
type Relocation struct {
	PreviousName   xorname.Name
	Destination    xorname.Name
	DestinationKey keyshare.PublicKey
	Age            uint8
}

// MemberInfo - one member as the section sees it
//
// TransportKey is the member's CURVE public key, needed before a
// secure connection to Addr can be opened. Relocation is set only
// when State is StateRelocated
type MemberInfo struct {
	Name         xorname.Name
	Addr         string
	TransportKey []byte
	State        MemberState
	Relocation   *Relocation
}

// Age - node age is the trailing byte of the name
func (m MemberInfo) Age() uint8 {
	return m.Name.Age()
}

// Pack - canonical bytes for SAP serialisation
func (m MemberInfo) Pack() []byte {
	buffer := make([]byte, 0, xorname.Length+len(m.Addr)+len(m.TransportKey)+6)
	buffer = append(buffer, m.Name[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(len(m.Addr)))...)
	buffer = append(buffer, m.Addr...)
	buffer = append(buffer, util.ToVarint64(uint64(len(m.TransportKey)))...)
	buffer = append(buffer, m.TransportKey...)
	buffer = append(buffer, byte(m.State))
	if StateRelocated == m.State && nil != m.Relocation {
		buffer = append(buffer, m.Relocation.PreviousName[:]...)
		buffer = append(buffer, m.Relocation.Destination[:]...)
		buffer = append(buffer, m.Relocation.DestinationKey[:]...)
		buffer = append(buffer, m.Relocation.Age)
	}
	return buffer
}

// UnpackMemberInfo - inverse of Pack; returns bytes consumed
func UnpackMemberInfo(buffer []byte) (MemberInfo, int, error) {
	if len(buffer) < xorname.Length+2 {
		return MemberInfo{}, 0, fault.ErrMessageTooShort
	}
	name, err := xorname.FromBytes(buffer[:xorname.Length])
	if nil != err {
		return MemberInfo{}, 0, err
	}
	n := xorname.Length

	addrLength, used := util.FromVarint64(buffer[n:])
	if 0 == used || uint64(len(buffer)) < uint64(n+used)+addrLength+1 {
		return MemberInfo{}, 0, fault.ErrMessageTooShort
	}
	n += used
	addr := string(buffer[n : uint64(n)+addrLength])
	n += int(addrLength)

	keyLength, used := util.FromVarint64(buffer[n:])
	if 0 == used || uint64(len(buffer)) < uint64(n+used)+keyLength+1 {
		return MemberInfo{}, 0, fault.ErrMessageTooShort
	}
	n += used
	var transportKey []byte
	if 0 != keyLength {
		transportKey = make([]byte, keyLength)
		copy(transportKey, buffer[n:uint64(n)+keyLength])
	}
	n += int(keyLength)

	state := MemberState(buffer[n])
	n += 1

	m := MemberInfo{
		Name:         name,
		Addr:         addr,
		TransportKey: transportKey,
		State:        state,
	}

	if StateRelocated == state {
		need := 2*xorname.Length + keyshare.PublicKeySize + 1
		if len(buffer) < n+need {
			return MemberInfo{}, 0, fault.ErrMessageTooShort
		}
		r := &Relocation{}
		copy(r.PreviousName[:], buffer[n:])
		n += xorname.Length
		copy(r.Destination[:], buffer[n:])
		n += xorname.Length
		copy(r.DestinationKey[:], buffer[n:])
		n += keyshare.PublicKeySize
		r.Age = buffer[n]
		n += 1
		m.Relocation = r
	}

	return m, n, nil
}
