// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sectionchain - the DAG of section keys
//
// a single genesis BLS key roots the chain; every later key is signed
// by its parent, so any key reachable from genesis is trusted
package sectionchain

import (
	"sync"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

// one non-genesis chain entry
type link struct {
	parent    keyshare.PublicKey
	signature []byte
}

// Chain - the key DAG
type Chain struct {
	sync.RWMutex
	genesis keyshare.PublicKey
	links   map[keyshare.PublicKey]link
	order   []keyshare.PublicKey // insertion order, parents first
}

// New - a chain containing only the genesis key
func New(genesis keyshare.PublicKey) *Chain {
	return &Chain{
		genesis: genesis,
		links:   make(map[keyshare.PublicKey]link),
	}
}

// Genesis - the root key
func (c *Chain) Genesis() keyshare.PublicKey {
	return c.genesis
}

// HasKey - true if the key is trusted
func (c *Chain) HasKey(pk keyshare.PublicKey) bool {
	c.RLock()
	defer c.RUnlock()
	return c.hasKey(pk)
}

func (c *Chain) hasKey(pk keyshare.PublicKey) bool {
	if pk == c.genesis {
		return true
	}
	_, ok := c.links[pk]
	return ok
}

// Insert - add a child key signed by a parent already in the chain
//
// re-inserting an identical edge is a no-op
func (c *Chain) Insert(parent keyshare.PublicKey, child keyshare.PublicKey, signature []byte) error {
	c.Lock()
	defer c.Unlock()
	return c.insert(parent, child, signature)
}

func (c *Chain) insert(parent keyshare.PublicKey, child keyshare.PublicKey, signature []byte) error {
	if !c.hasKey(parent) {
		return fault.ErrUnknownParent
	}
	if err := parent.Verify(child[:], signature); nil != err {
		return fault.ErrInvalidSignature
	}
	if c.hasKey(child) {
		return nil
	}
	c.links[child] = link{
		parent:    parent,
		signature: signature,
	}
	c.order = append(c.order, child)
	return nil
}

// ParentOf - the parent of a non-genesis key
func (c *Chain) ParentOf(pk keyshare.PublicKey) (keyshare.PublicKey, error) {
	c.RLock()
	defer c.RUnlock()

	l, ok := c.links[pk]
	if !ok {
		return keyshare.PublicKey{}, fault.ErrKeyNotInChain
	}
	return l.parent, nil
}

// Entry - one ancestor→descendant step of a proof chain
type Entry struct {
	Key       keyshare.PublicKey
	Signature []byte // signature by the previous entry's key; nil on the first entry
}

// ProofChain - the path from an ancestor key to a descendant key,
// ordered ancestor first
//
// fails if either key is unknown or from is not an ancestor of to
func (c *Chain) ProofChain(from keyshare.PublicKey, to keyshare.PublicKey) ([]Entry, error) {
	c.RLock()
	defer c.RUnlock()

	if !c.hasKey(from) || !c.hasKey(to) {
		return nil, fault.ErrKeyNotInChain
	}

	reversed := []Entry{}
	current := to
	for current != from {
		l, ok := c.links[current]
		if !ok {
			// walked past genesis without meeting from
			return nil, fault.ErrInvalidProofChain
		}
		reversed = append(reversed, Entry{Key: current, Signature: l.signature})
		current = l.parent
	}

	proof := make([]Entry, 0, len(reversed)+1)
	proof = append(proof, Entry{Key: from})
	for i := len(reversed) - 1; i >= 0; i -= 1 {
		proof = append(proof, reversed[i])
	}
	return proof, nil
}

// Merge - ingest a proof chain whose first key we already trust
//
// every later entry must carry a valid signature by its predecessor;
// untrusted or malformed chains are rejected without partial effect
func (c *Chain) Merge(proof []Entry) error {
	if 0 == len(proof) {
		return fault.ErrInvalidProofChain
	}

	c.Lock()
	defer c.Unlock()

	if !c.hasKey(proof[0].Key) {
		return fault.ErrUntrusted
	}

	// validate before mutating
	for i := 1; i < len(proof); i += 1 {
		parent := proof[i-1].Key
		child := proof[i].Key
		if err := parent.Verify(child[:], proof[i].Signature); nil != err {
			return fault.ErrInvalidSignature
		}
	}

	for i := 1; i < len(proof); i += 1 {
		err := c.insert(proof[i-1].Key, proof[i].Key, proof[i].Signature)
		if nil != err {
			return err
		}
	}
	return nil
}

// IsAncestorOf - true if ancestor lies on descendant's path to genesis
// a key is considered its own ancestor
func (c *Chain) IsAncestorOf(ancestor keyshare.PublicKey, descendant keyshare.PublicKey) bool {
	c.RLock()
	defer c.RUnlock()

	current := descendant
	for {
		if current == ancestor {
			return true
		}
		l, ok := c.links[current]
		if !ok {
			return false
		}
		current = l.parent
	}
}

// Minimise - the smallest sub-chain containing the given keys and all
// of their ancestors
func (c *Chain) Minimise(keys []keyshare.PublicKey) (*Chain, error) {
	c.RLock()
	defer c.RUnlock()

	wanted := make(map[keyshare.PublicKey]struct{})
	for _, pk := range keys {
		current := pk
		for current != c.genesis {
			l, ok := c.links[current]
			if !ok {
				return nil, fault.ErrKeyNotInChain
			}
			wanted[current] = struct{}{}
			current = l.parent
		}
	}

	result := New(c.genesis)
	for _, pk := range c.order {
		if _, ok := wanted[pk]; ok {
			l := c.links[pk]
			result.links[pk] = l
			result.order = append(result.order, pk)
		}
	}
	return result, nil
}

// Len - number of keys including genesis
func (c *Chain) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.order) + 1
}
