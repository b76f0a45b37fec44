// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package knowledge

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/xorname"
)

// ElderCount - maximum elders per section
const ElderCount = 7

// Threshold - signing threshold t for a given elder count; t+1
// signature shares combine to a section signature
func Threshold(elderCount int) int {
	return elderCount * 2 / 3
}

// SAP - section authority provider: everything a remote party needs
// to address and verify one section
type SAP struct {
	Prefix       xorname.Prefix
	PublicKeySet keyshare.PublicKeySet
	Elders       map[xorname.Name]string
	Members      map[xorname.Name]MemberInfo
	Generation   uint64
}

// SectionKey - the section public key of this SAP
func (s SAP) SectionKey() keyshare.PublicKey {
	return s.PublicKeySet.PublicKey()
}

// Validate - structural invariants
func (s SAP) Validate() error {
	if 0 == len(s.Elders) || len(s.Elders) > ElderCount {
		return fault.ErrInvalidElderCount
	}
	for name := range s.Elders {
		if !s.Prefix.Matches(name) {
			return fault.ErrElderOutsidePrefix
		}
	}
	if s.PublicKeySet.Threshold() != Threshold(len(s.Elders)) {
		return fault.ErrThresholdMismatch
	}
	return nil
}

// IsElder - true if the name is one of this SAP's elders
func (s SAP) IsElder(name xorname.Name) bool {
	_, ok := s.Elders[name]
	return ok
}

// ElderNames - elder names in ascending order
func (s SAP) ElderNames() []xorname.Name {
	names := make([]xorname.Name, 0, len(s.Elders))
	for name := range s.Elders {
		names = append(names, name)
	}
	sort.Slice(names, func(i int, j int) bool {
		return names[i].Compare(names[j]) < 0
	})
	return names
}

// Adults - joined members that are not elders, ascending order
func (s SAP) Adults() []xorname.Name {
	names := make([]xorname.Name, 0, len(s.Members))
	for name, member := range s.Members {
		if StateJoined != member.State {
			continue
		}
		if _, ok := s.Elders[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i int, j int) bool {
		return names[i].Compare(names[j]) < 0
	})
	return names
}

// Pack - canonical bytes, maps in ascending key order so the same
// SAP always signs identically
func (s SAP) Pack() []byte {
	buffer := make([]byte, 0, 256)
	buffer = append(buffer, s.Prefix.Name[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(s.Prefix.BitCount))...)

	var generation [8]byte
	binary.BigEndian.PutUint64(generation[:], s.Generation)
	buffer = append(buffer, generation[:]...)

	pkSet := s.PublicKeySet.Marshal()
	buffer = append(buffer, util.ToVarint64(uint64(len(pkSet)))...)
	buffer = append(buffer, pkSet...)

	elders := s.ElderNames()
	buffer = append(buffer, util.ToVarint64(uint64(len(elders)))...)
	for _, name := range elders {
		addr := s.Elders[name]
		buffer = append(buffer, name[:]...)
		buffer = append(buffer, util.ToVarint64(uint64(len(addr)))...)
		buffer = append(buffer, addr...)
	}

	members := make([]xorname.Name, 0, len(s.Members))
	for name := range s.Members {
		members = append(members, name)
	}
	sort.Slice(members, func(i int, j int) bool {
		return members[i].Compare(members[j]) < 0
	})
	buffer = append(buffer, util.ToVarint64(uint64(len(members)))...)
	for _, name := range members {
		member := s.Members[name].Pack()
		buffer = append(buffer, member...)
	}

	return buffer
}

// UnpackSAP - inverse of Pack
func UnpackSAP(buffer []byte) (SAP, error) {
	if len(buffer) < xorname.Length+1 {
		return SAP{}, fault.ErrMessageTooShort
	}
	prefixName, err := xorname.FromBytes(buffer[:xorname.Length])
	if nil != err {
		return SAP{}, err
	}
	buffer = buffer[xorname.Length:]

	bitCount, used := util.FromVarint64(buffer)
	if 0 == used {
		return SAP{}, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]
	prefix, err := xorname.NewPrefix(prefixName, uint(bitCount))
	if nil != err {
		return SAP{}, err
	}

	if len(buffer) < 8 {
		return SAP{}, fault.ErrMessageTooShort
	}
	generation := binary.BigEndian.Uint64(buffer)
	buffer = buffer[8:]

	pkSetLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+pkSetLength {
		return SAP{}, fault.ErrMessageTooShort
	}
	pkSet, err := keyshare.UnmarshalPublicKeySet(buffer[used : uint64(used)+pkSetLength])
	if nil != err {
		return SAP{}, err
	}
	buffer = buffer[uint64(used)+pkSetLength:]

	elderCount, used := util.FromVarint64(buffer)
	if 0 == used {
		return SAP{}, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]
	elders := make(map[xorname.Name]string, elderCount)
	for i := uint64(0); i < elderCount; i += 1 {
		if len(buffer) < xorname.Length+1 {
			return SAP{}, fault.ErrMessageTooShort
		}
		name, err := xorname.FromBytes(buffer[:xorname.Length])
		if nil != err {
			return SAP{}, err
		}
		buffer = buffer[xorname.Length:]
		addrLength, used := util.FromVarint64(buffer)
		if 0 == used || uint64(len(buffer)) < uint64(used)+addrLength {
			return SAP{}, fault.ErrMessageTooShort
		}
		elders[name] = string(buffer[used : uint64(used)+addrLength])
		buffer = buffer[uint64(used)+addrLength:]
	}

	memberCount, used := util.FromVarint64(buffer)
	if 0 == used {
		return SAP{}, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]
	members := make(map[xorname.Name]MemberInfo, memberCount)
	for i := uint64(0); i < memberCount; i += 1 {
		member, n, err := UnpackMemberInfo(buffer)
		if nil != err {
			return SAP{}, err
		}
		members[member.Name] = member
		buffer = buffer[n:]
	}

	return SAP{
		Prefix:       prefix,
		PublicKeySet: pkSet,
		Elders:       elders,
		Members:      members,
		Generation:   generation,
	}, nil
}

// SectionSigned - a SAP under a section signature
type SectionSigned struct {
	SAP SAP
	Sig keyshare.SectionSig
}

// Verify - check the signature covers this SAP
func (s SectionSigned) Verify() error {
	return s.Sig.Verify(s.SAP.Pack())
}

// Equal - byte-wise SAP equality
func (s SAP) Equal(other SAP) bool {
	return bytes.Equal(s.Pack(), other.Pack())
}

// Pack - length prefixed SAP followed by the section signature
func (s SectionSigned) Pack() []byte {
	sap := s.SAP.Pack()
	buffer := make([]byte, 0, 16+len(sap)+keyshare.PublicKeySize+len(s.Sig.Signature))
	buffer = append(buffer, util.ToVarint64(uint64(len(sap)))...)
	buffer = append(buffer, sap...)
	buffer = append(buffer, s.Sig.PublicKey[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(len(s.Sig.Signature)))...)
	buffer = append(buffer, s.Sig.Signature...)
	return buffer
}

// UnpackSectionSigned - inverse of Pack, second result is the byte
// count consumed
func UnpackSectionSigned(buffer []byte) (SectionSigned, int, error) {
	sapLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+sapLength {
		return SectionSigned{}, 0, fault.ErrMessageTooShort
	}
	n := used + int(sapLength)
	sap, err := UnpackSAP(buffer[used:n])
	if nil != err {
		return SectionSigned{}, 0, err
	}

	if len(buffer) < n+keyshare.PublicKeySize {
		return SectionSigned{}, 0, fault.ErrMessageTooShort
	}
	var publicKey keyshare.PublicKey
	copy(publicKey[:], buffer[n:n+keyshare.PublicKeySize])
	n += keyshare.PublicKeySize

	sigLength, used := util.FromVarint64(buffer[n:])
	if 0 == used || uint64(len(buffer[n:])) < uint64(used)+sigLength {
		return SectionSigned{}, 0, fault.ErrMessageTooShort
	}
	signature := make([]byte, sigLength)
	copy(signature, buffer[n+used:n+used+int(sigLength)])
	n += used + int(sigLength)

	return SectionSigned{
		SAP: sap,
		Sig: keyshare.SectionSig{
			PublicKey: publicKey,
			Signature: signature,
		},
	}, n, nil
}
