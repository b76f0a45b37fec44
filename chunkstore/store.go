// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chunkstore - adult chunk storage on local disk
//
// one file per chunk named by the z-base-32 of its address; a quota
// bounds the total bytes held
package chunkstore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

// on-disk record layout: kind ‖ owner ‖ value
const headerSize = 1 + keyshare.PublicKeySize

// lock striping over the address space
const lockStripes = 64

// Store - a disk backed chunk store
type Store struct {
	sync.RWMutex // guards usedSpace and directory scans
	locks        [lockStripes]sync.Mutex
	log          *logger.L
	directory    string
	quota        uint64
	usedSpace    uint64
}

// New - open a store rooted at directory with a byte quota
//
// existing chunk files are counted towards the quota
func New(directory string, quota uint64) (*Store, error) {
	err := os.MkdirAll(directory, 0700)
	if nil != err {
		return nil, err
	}

	store := &Store{
		log:       logger.New("chunkstore"),
		directory: directory,
		quota:     quota,
	}

	entries, err := ioutil.ReadDir(directory)
	if nil != err {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := AddressFromFilename(entry.Name()); nil != err {
			store.log.Warnf("ignoring alien file: %q", entry.Name())
			continue
		}
		store.usedSpace += uint64(entry.Size())
	}

	store.log.Infof("open: %q used: %d quota: %d", directory, store.usedSpace, quota)
	return store, nil
}

func (s *Store) stripe(address Address) *sync.Mutex {
	return &s.locks[int(address.Name[0])%lockStripes]
}

func (s *Store) path(address Address) string {
	return filepath.Join(s.directory, address.Filename())
}

// Put - store a chunk
//
// a public chunk whose name is not the digest of its value is
// rejected; re-storing the same address returns ErrDataExists
func (s *Store) Put(chunk Chunk) error {
	if err := chunk.Validate(); nil != err {
		return err
	}

	lock := s.stripe(chunk.Address)
	lock.Lock()
	defer lock.Unlock()

	filename := s.path(chunk.Address)
	if _, err := os.Stat(filename); nil == err {
		return fault.ErrDataExists
	}

	record := make([]byte, 0, headerSize+len(chunk.Value))
	record = append(record, byte(chunk.Address.Kind))
	record = append(record, chunk.Owner[:]...)
	record = append(record, chunk.Value...)

	s.Lock()
	if s.usedSpace+uint64(len(record)) > s.quota {
		s.Unlock()
		return fault.ErrNotEnoughSpace
	}
	s.usedSpace += uint64(len(record))
	s.Unlock()

	err := ioutil.WriteFile(filename, record, 0600)
	if nil != err {
		s.Lock()
		s.usedSpace -= uint64(len(record))
		s.Unlock()
		return err
	}
	return nil
}

func (s *Store) read(address Address) (Chunk, error) {
	record, err := ioutil.ReadFile(s.path(address))
	if nil != err {
		if os.IsNotExist(err) {
			return Chunk{}, fault.ErrChunkNotFound
		}
		return Chunk{}, err
	}
	if len(record) < headerSize {
		return Chunk{}, fault.ErrInvalidChunkName
	}
	owner, err := keyshare.PublicKeyFromBytes(record[1:headerSize])
	if nil != err {
		return Chunk{}, err
	}
	return Chunk{
		Address: address,
		Owner:   owner,
		Value:   record[headerSize:],
	}, nil
}

// Get - fetch a chunk
//
// requester nil means internal access (replication); a private chunk
// is only returned to its owner
func (s *Store) Get(address Address, requester *keyshare.PublicKey) (Chunk, error) {
	lock := s.stripe(address)
	lock.Lock()
	defer lock.Unlock()

	chunk, err := s.read(address)
	if nil != err {
		return Chunk{}, err
	}
	if Private == address.Kind && nil != requester && *requester != chunk.Owner {
		return Chunk{}, fault.ErrAccessDenied
	}
	return chunk, nil
}

// Delete - remove a chunk
//
// private chunks may only be deleted by their owner; requester nil is
// the replication controller
func (s *Store) Delete(address Address, requester *keyshare.PublicKey) error {
	lock := s.stripe(address)
	lock.Lock()
	defer lock.Unlock()

	chunk, err := s.read(address)
	if nil != err {
		return err
	}
	if nil != requester {
		if Public == address.Kind || *requester != chunk.Owner {
			return fault.ErrAccessDenied
		}
	}

	err = os.Remove(s.path(address))
	if nil != err {
		return err
	}

	s.Lock()
	s.usedSpace -= uint64(headerSize + len(chunk.Value))
	s.Unlock()
	return nil
}

// Keys - addresses of all chunks currently held
func (s *Store) Keys() ([]Address, error) {
	s.RLock()
	defer s.RUnlock()

	entries, err := ioutil.ReadDir(s.directory)
	if nil != err {
		return nil, err
	}
	addresses := make([]Address, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		address, err := AddressFromFilename(entry.Name())
		if nil != err {
			continue
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}

// UsedSpace - bytes currently stored
func (s *Store) UsedSpace() uint64 {
	s.RLock()
	defer s.RUnlock()
	return s.usedSpace
}

// Quota - the configured limit
func (s *Store) Quota() uint64 {
	return s.quota
}
