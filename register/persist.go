// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package register

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/storage"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/xorname"
)

// storage keys
//   policy: name ‖ tag
//   op:     name ‖ tag ‖ sequence
// the sequence gives replay in arrival order so Restore never buffers

func addressKey(address Address) []byte {
	key := make([]byte, 0, xorname.Length+8)
	key = append(key, address.Name[:]...)
	var tag [8]byte
	binary.BigEndian.PutUint64(tag[:], address.Tag)
	return append(key, tag[:]...)
}

func opKey(address Address, sequence uint64) []byte {
	key := addressKey(address)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	return append(key, seq[:]...)
}

// Pack - canonical policy record, permission entries in key order
func (p Policy) Pack() []byte {
	buffer := make([]byte, 0, keyshare.PublicKeySize+9+len(p.Permissions)*(keyshare.PublicKeySize+1))
	buffer = append(buffer, p.Owner[:]...)

	var version [8]byte
	binary.BigEndian.PutUint64(version[:], p.Version)
	buffer = append(buffer, version[:]...)

	users := make([]keyshare.PublicKey, 0, len(p.Permissions))
	for user := range p.Permissions {
		users = append(users, user)
	}
	sort.Slice(users, func(i int, j int) bool {
		return bytes.Compare(users[i][:], users[j][:]) < 0
	})

	buffer = append(buffer, util.ToVarint64(uint64(len(users)))...)
	for _, user := range users {
		perm := p.Permissions[user]
		flags := byte(0)
		if perm.Write {
			flags |= 0x01
		}
		if perm.ModifyPermissions {
			flags |= 0x02
		}
		buffer = append(buffer, user[:]...)
		buffer = append(buffer, flags)
	}
	return buffer
}

// UnpackPolicy - inverse of Policy.Pack
func UnpackPolicy(buffer []byte) (Policy, error) {
	if len(buffer) < keyshare.PublicKeySize+8 {
		return Policy{}, fault.ErrMessageTooShort
	}
	owner, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
	if nil != err {
		return Policy{}, err
	}
	version := binary.BigEndian.Uint64(buffer[keyshare.PublicKeySize:])
	buffer = buffer[keyshare.PublicKeySize+8:]

	count, used := util.FromVarint64(buffer)
	if 0 == used {
		return Policy{}, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]
	if uint64(len(buffer)) < count*(keyshare.PublicKeySize+1) {
		return Policy{}, fault.ErrMessageTooShort
	}

	permissions := make(map[keyshare.PublicKey]Permissions, count)
	for i := uint64(0); i < count; i += 1 {
		user, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
		if nil != err {
			return Policy{}, err
		}
		flags := buffer[keyshare.PublicKeySize]
		permissions[user] = Permissions{
			Write:             0 != flags&0x01,
			ModifyPermissions: 0 != flags&0x02,
		}
		buffer = buffer[keyshare.PublicKeySize+1:]
	}

	return Policy{
		Owner:       owner,
		Permissions: permissions,
		Version:     version,
	}, nil
}

func (s *Store) persistPolicy(address Address, policy Policy) {
	if nil == storage.Pool.RegisterPolicies {
		return
	}
	storage.Pool.RegisterPolicies.Put(addressKey(address), policy.Pack())
}

func (s *Store) persistOp(address Address, signedOp SignedOp) {
	if nil == storage.Pool.RegisterOps {
		return
	}
	r := s.registers[address]
	storage.Pool.RegisterOps.Put(opKey(address, r.nextSeq), signedOp.Pack())
	r.nextSeq += 1
}

// Restore - rebuild in-memory registers from the op log
//
// ops were persisted in an order where parents precede children, so a
// single forward replay suffices
func (s *Store) Restore() error {
	if nil == storage.Pool.RegisterPolicies {
		return fault.ErrNotInitialised
	}

	s.Lock()
	defer s.Unlock()

	cursor := storage.Pool.RegisterPolicies.NewFetchCursor()
	for {
		elements, err := cursor.Fetch(100)
		if nil != err {
			return err
		}
		if 0 == len(elements) {
			break
		}
		for _, element := range elements {
			if len(element.Key) < xorname.Length+8 {
				return fault.ErrMessageTooShort
			}
			name, err := xorname.FromBytes(element.Key[:xorname.Length])
			if nil != err {
				return err
			}
			tag := binary.BigEndian.Uint64(element.Key[xorname.Length:])
			policy, err := UnpackPolicy(element.Value)
			if nil != err {
				return err
			}
			s.registers[Address{Name: name, Tag: tag}] = &registerData{
				policy:   policy,
				ops:      make(map[OpID]SignedOp),
				children: make(map[OpID]int),
			}
		}
	}

	cursor = storage.Pool.RegisterOps.NewFetchCursor()
	for {
		elements, err := cursor.Fetch(100)
		if nil != err {
			return err
		}
		if 0 == len(elements) {
			break
		}
		for _, element := range elements {
			signedOp, err := UnpackSignedOp(element.Value)
			if nil != err {
				return err
			}
			r, ok := s.registers[signedOp.Op.Address]
			if !ok {
				return fault.ErrRegisterNotFound
			}

			id := signedOp.ID()
			if _, ok := r.ops[id]; ok {
				continue
			}
			r.ops[id] = signedOp
			for _, parent := range signedOp.Op.Parents {
				r.children[parent] += 1
			}

			if len(element.Key) >= xorname.Length+16 {
				sequence := binary.BigEndian.Uint64(element.Key[xorname.Length+8:])
				if sequence >= r.nextSeq {
					r.nextSeq = sequence + 1
				}
			}
		}
	}
	return nil
}
