// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package register - sequenced CRDT registers
//
// a register is an append-only op DAG; concurrent writers branch and
// readers see every childless tip; ops are idempotent and arrive in
// any order, parents before children being restored by a bounded
// orphan buffer
package register

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

const (
	// orphan ops wait this long for their parents
	orphanTTL = 2 * time.Minute

	orphanCleanup = 30 * time.Second

	// hard cap on buffered orphans across all registers
	orphanLimit = 1000
)

// in-memory state of one register
type registerData struct {
	policy   Policy
	ops      map[OpID]SignedOp
	children map[OpID]int // fan-out count per op
	nextSeq  uint64       // next op log sequence on disk
}

// buffered orphan; resolved marks ops removed because their parents
// arrived, the eviction hook only reports unresolved expiries
type bufferedOp struct {
	signedOp SignedOp
	resolved bool
}

// Store - all registers this node serves
type Store struct {
	sync.Mutex
	log         *logger.L
	registers   map[Address]*registerData
	orphans     *gocache.Cache
	reportIssue func(author keyshare.PublicKey)
}

// NewStore - create an empty register store
//
// reportIssue is called when an orphan op expires unresolved; nil
// disables reporting
func NewStore(reportIssue func(keyshare.PublicKey)) *Store {
	s := &Store{
		log:         logger.New("register"),
		registers:   make(map[Address]*registerData),
		orphans:     gocache.New(orphanTTL, orphanCleanup),
		reportIssue: reportIssue,
	}
	s.orphans.OnEvicted(func(key string, item interface{}) {
		orphan := item.(*bufferedOp)
		if orphan.resolved {
			return
		}
		s.log.Warnf("orphan op expired: %x register: %s", key, orphan.signedOp.Op.Address.Name)
		if nil != s.reportIssue {
			s.reportIssue(orphan.signedOp.Author)
		}
	})
	return s
}

// Create - open a new register with its initial policy
func (s *Store) Create(address Address, policy Policy) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.registers[address]; ok {
		return fault.ErrDataExists
	}
	if nil == policy.Permissions {
		policy.Permissions = make(map[keyshare.PublicKey]Permissions)
	}
	s.registers[address] = &registerData{
		policy:   policy,
		ops:      make(map[OpID]SignedOp),
		children: make(map[OpID]int),
	}
	s.persistPolicy(address, policy)
	return nil
}

// Policy - current policy of a register
func (s *Store) Policy(address Address) (Policy, error) {
	s.Lock()
	defer s.Unlock()

	r, ok := s.registers[address]
	if !ok {
		return Policy{}, fault.ErrRegisterNotFound
	}
	return r.policy, nil
}

// SetPolicy - replace the policy; version must be current+1 and the
// user needs the modify-permissions right
func (s *Store) SetPolicy(address Address, user keyshare.PublicKey, policy Policy) error {
	s.Lock()
	defer s.Unlock()

	r, ok := s.registers[address]
	if !ok {
		return fault.ErrRegisterNotFound
	}
	if !r.policy.allows(user, false, true) {
		return fault.ErrAccessDenied
	}
	if policy.Version != r.policy.Version+1 {
		return fault.InvalidSuccessorError{CurrentVersion: r.policy.Version}
	}
	if nil == policy.Permissions {
		policy.Permissions = make(map[keyshare.PublicKey]Permissions)
	}
	r.policy = policy
	s.persistPolicy(address, policy)
	return nil
}

// Apply - merge one signed op into its register
//
// idempotent; ops whose parents are unknown are buffered until the
// parents arrive or the buffer entry expires
func (s *Store) Apply(signedOp SignedOp) error {
	if err := signedOp.Verify(); nil != err {
		return err
	}

	s.Lock()
	defer s.Unlock()
	return s.apply(signedOp, true)
}

func (s *Store) apply(signedOp SignedOp, allowBuffer bool) error {
	address := signedOp.Op.Address
	r, ok := s.registers[address]
	if !ok {
		return fault.ErrRegisterNotFound
	}
	if !r.policy.allows(signedOp.Author, true, false) {
		return fault.ErrAccessDenied
	}

	id := signedOp.ID()
	if _, ok := r.ops[id]; ok {
		// idempotent no-op
		return nil
	}

	// every parent must already be present
	for _, parent := range signedOp.Op.Parents {
		if _, ok := r.ops[parent]; !ok {
			if !allowBuffer {
				return fault.ErrOpNotFound
			}
			s.bufferOrphan(id, signedOp)
			return nil
		}
	}

	r.ops[id] = signedOp
	for _, parent := range signedOp.Op.Parents {
		r.children[parent] += 1
	}
	s.persistOp(address, signedOp)

	// an arrival may unblock buffered descendants
	s.retryOrphans()
	return nil
}

func (s *Store) bufferOrphan(id OpID, signedOp SignedOp) {
	if s.orphans.ItemCount() >= orphanLimit {
		s.log.Warnf("orphan buffer full, dropping op: %x", id)
		if nil != s.reportIssue {
			s.reportIssue(signedOp.Author)
		}
		return
	}
	s.orphans.Set(string(id[:]), &bufferedOp{signedOp: signedOp}, gocache.DefaultExpiration)
}

func (s *Store) retryOrphans() {
	for key, item := range s.orphans.Items() {
		orphan := item.Object.(*bufferedOp)
		r, ok := s.registers[orphan.signedOp.Op.Address]
		if !ok {
			continue
		}
		ready := true
		for _, parent := range orphan.signedOp.Op.Parents {
			if _, ok := r.ops[parent]; !ok {
				ready = false
				break
			}
		}
		if ready {
			orphan.resolved = true
			s.orphans.Delete(key)
			_ = s.apply(orphan.signedOp, false)
		}
	}
}

// ReadLatest - the childless tip ops; more than one on branching
func (s *Store) ReadLatest(address Address) ([]SignedOp, error) {
	s.Lock()
	defer s.Unlock()

	r, ok := s.registers[address]
	if !ok {
		return nil, fault.ErrRegisterNotFound
	}

	tips := []SignedOp{}
	for id, op := range r.ops {
		if 0 == r.children[id] {
			tips = append(tips, op)
		}
	}
	return tips, nil
}

// ReadAt - one specific entry
func (s *Store) ReadAt(address Address, id OpID) (SignedOp, error) {
	s.Lock()
	defer s.Unlock()

	r, ok := s.registers[address]
	if !ok {
		return SignedOp{}, fault.ErrRegisterNotFound
	}
	op, ok := r.ops[id]
	if !ok {
		return SignedOp{}, fault.ErrOpNotFound
	}
	return op, nil
}

// Addresses - all registers currently held
func (s *Store) Addresses() []Address {
	s.Lock()
	defer s.Unlock()

	addresses := make([]Address, 0, len(s.registers))
	for address := range s.registers {
		addresses = append(addresses, address)
	}
	return addresses
}

// OrphanCount - buffered ops waiting for parents
func (s *Store) OrphanCount() int {
	return s.orphans.ItemCount()
}
