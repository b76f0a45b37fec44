// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sectionchain

import (
	"io/ioutil"
	"os"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
)

// file format version tag
const chainFileVersion = 0x01

// Marshal - flatten the chain for the section_chain.bin file
//
// layout: version ‖ genesis ‖ link count ‖ links, each link being
// parent ‖ child ‖ signature length ‖ signature, in insertion order so
// parents always precede children
func (c *Chain) Marshal() []byte {
	c.RLock()
	defer c.RUnlock()

	buffer := []byte{chainFileVersion}
	buffer = append(buffer, c.genesis[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(len(c.order)))...)
	for _, child := range c.order {
		l := c.links[child]
		buffer = append(buffer, l.parent[:]...)
		buffer = append(buffer, child[:]...)
		buffer = append(buffer, util.ToVarint64(uint64(len(l.signature)))...)
		buffer = append(buffer, l.signature...)
	}
	return buffer
}

// Unmarshal - rebuild a chain from its marshalled form
//
// every link signature is re-verified during the rebuild
func Unmarshal(buffer []byte) (*Chain, error) {
	if len(buffer) < 1+keyshare.PublicKeySize {
		return nil, fault.ErrMessageTooShort
	}
	if chainFileVersion != buffer[0] {
		return nil, fault.ErrInvalidProofChain
	}
	buffer = buffer[1:]

	genesis, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
	if nil != err {
		return nil, err
	}
	buffer = buffer[keyshare.PublicKeySize:]

	linkCount, used := util.FromVarint64(buffer)
	if 0 == used {
		return nil, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]

	chain := New(genesis)
	for i := uint64(0); i < linkCount; i += 1 {
		if len(buffer) < 2*keyshare.PublicKeySize {
			return nil, fault.ErrMessageTooShort
		}
		parent, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
		if nil != err {
			return nil, err
		}
		child, err := keyshare.PublicKeyFromBytes(buffer[keyshare.PublicKeySize : 2*keyshare.PublicKeySize])
		if nil != err {
			return nil, err
		}
		buffer = buffer[2*keyshare.PublicKeySize:]

		sigLength, used := util.FromVarint64(buffer)
		if 0 == used {
			return nil, fault.ErrMessageTooShort
		}
		buffer = buffer[used:]
		if uint64(len(buffer)) < sigLength {
			return nil, fault.ErrMessageTooShort
		}
		signature := make([]byte, sigLength)
		copy(signature, buffer[:sigLength])
		buffer = buffer[sigLength:]

		err = chain.Insert(parent, child, signature)
		if nil != err {
			return nil, err
		}
	}
	return chain, nil
}

// Save - write the chain file atomically
func (c *Chain) Save(filename string) error {
	temporary := filename + ".new"
	err := ioutil.WriteFile(temporary, c.Marshal(), 0600)
	if nil != err {
		return err
	}
	return os.Rename(temporary, filename)
}

// Load - read a chain file
func Load(filename string) (*Chain, error) {
	buffer, err := ioutil.ReadFile(filename)
	if nil != err {
		return nil, err
	}
	return Unmarshal(buffer)
}
