// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dkg - distributed key generation among elder candidates
//
// a session runs the Pedersen protocol in three rounds: ephemeral key
// exchange, deal distribution, response broadcast. Every candidate
// ends with the same public key set and its own secret share, or the
// session times out and failure votes accumulate against the silent
// candidates.
package dkg

import (
	"sync"
	"time"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	pedersen "go.dedis.ch/kyber/v3/share/dkg/pedersen"
	"golang.org/x/crypto/sha3"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/xorname"
)

// the suite driving the generator; its points are the same G2 group
// the section signatures verify under
var dkgSuite = pairing.NewSuiteBn256()

// RoundTimeout - deadline for each protocol round
const RoundTimeout = 30 * time.Second

// Round - protocol progress of a session
type Round uint8

const (
	RoundPublicKeys Round = iota
	RoundDeals
	RoundResponses
	RoundComplete
	RoundFailed
)

// SessionID - one attempt at generating a section key
type SessionID struct {
	Generation       uint64
	Candidates       []xorname.Name // sorted, distinct
	BootstrapMembers []xorname.Name // sorted, distinct
}

// Pack - canonical bytes of the session id
func (id SessionID) Pack() []byte {
	buffer := make([]byte, 0, 16+len(id.Candidates)*xorname.Length)
	buffer = append(buffer, util.ToVarint64(id.Generation)...)
	buffer = append(buffer, util.ToVarint64(uint64(len(id.Candidates)))...)
	for _, name := range id.Candidates {
		buffer = append(buffer, name[:]...)
	}
	buffer = append(buffer, util.ToVarint64(uint64(len(id.BootstrapMembers)))...)
	for _, name := range id.BootstrapMembers {
		buffer = append(buffer, name[:]...)
	}
	return buffer
}

// Hash - session identifier used to route messages
func (id SessionID) Hash() [32]byte {
	return sha3.Sum256(id.Pack())
}

// Outcome - a successful generation
type Outcome struct {
	PublicKeySet keyshare.PublicKeySet
	SecretShare  keyshare.SecretKeyShare
	Index        int
}

// Session - this node's view of one running generation
type Session struct {
	sync.Mutex
	log            *logger.L
	id             SessionID
	hash           [32]byte
	ourName        xorname.Name
	index          int
	threshold      int
	secret         kyber.Scalar
	public         kyber.Point
	publicKeys     []kyber.Point
	keysSeen       int
	gen            *pedersen.DistKeyGenerator
	dealersSeen    map[int]struct{}
	respondersSeen map[int]struct{}
	round          Round
	deadline       time.Time
	outcome        *Outcome
}

// NewSession - start participating; the caller broadcasts the
// returned PublicKeyMessage to every other candidate
func NewSession(id SessionID, ourName xorname.Name) (*Session, *PublicKeyMessage, error) {
	index := -1
	for i, name := range id.Candidates {
		if name == ourName {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, nil, fault.ErrNotElder
	}

	secret := dkgSuite.Scalar().Pick(dkgSuite.RandomStream())
	public := dkgSuite.Point().Mul(secret, nil)

	s := &Session{
		log:            logger.New("dkg"),
		id:             id,
		hash:           id.Hash(),
		ourName:        ourName,
		index:          index,
		threshold:      knowledge.Threshold(len(id.Candidates)),
		secret:         secret,
		public:         public,
		publicKeys:     make([]kyber.Point, len(id.Candidates)),
		dealersSeen:    make(map[int]struct{}),
		respondersSeen: make(map[int]struct{}),
		round:          RoundPublicKeys,
		deadline:       time.Now().Add(RoundTimeout),
	}
	s.publicKeys[index] = public
	s.keysSeen = 1
	s.dealersSeen[index] = struct{}{}
	s.respondersSeen[index] = struct{}{}

	s.log.Infof("session %x: generation: %d candidates: %d threshold: %d",
		s.hash[:8], id.Generation, len(id.Candidates), s.threshold)

	message := &PublicKeyMessage{
		Session:   s.hash[:],
		Index:     uint32(index),
		PublicKey: public,
	}
	return s, message, nil
}

// ID - the session identifier
func (s *Session) ID() SessionID {
	return s.id
}

// Round - current protocol round
func (s *Session) Round() Round {
	s.Lock()
	defer s.Unlock()
	return s.round
}

// Outcome - the generated key material, nil until complete
func (s *Session) Outcome() *Outcome {
	s.Lock()
	defer s.Unlock()
	return s.outcome
}

// ProcessPublicKey - record a candidate's ephemeral key
//
// when the last key arrives the generator is created and the
// returned deals must be sent to their addressed candidates
func (s *Session) ProcessPublicKey(message *PublicKeyMessage) (map[xorname.Name]*DealMessage, error) {
	s.Lock()
	defer s.Unlock()

	if RoundPublicKeys != s.round {
		return nil, fault.ErrSessionAlreadyComplete
	}
	index := int(message.Index)
	if index < 0 || index >= len(s.publicKeys) {
		return nil, fault.ErrInvalidDkgMessage
	}
	if nil != s.publicKeys[index] {
		// duplicate: idempotent
		return nil, nil
	}
	s.publicKeys[index] = message.PublicKey
	s.keysSeen += 1

	if s.keysSeen < len(s.publicKeys) {
		return nil, nil
	}

	// all keys present: deal out
	gen, err := pedersen.NewDistKeyGenerator(dkgSuite, s.secret, s.publicKeys, s.threshold+1)
	if nil != err {
		s.round = RoundFailed
		return nil, err
	}
	s.gen = gen
	deals, err := gen.Deals()
	if nil != err {
		s.round = RoundFailed
		return nil, err
	}

	s.round = RoundDeals
	s.deadline = time.Now().Add(RoundTimeout)

	addressed := make(map[xorname.Name]*DealMessage, len(deals))
	for i, deal := range deals {
		addressed[s.id.Candidates[i]] = &DealMessage{
			Session: s.hash[:],
			Deal:    deal,
		}
	}
	return addressed, nil
}

// ProcessDeal - feed one deal in; the response must be broadcast
func (s *Session) ProcessDeal(message *DealMessage) (*ResponseMessage, error) {
	s.Lock()
	defer s.Unlock()

	if RoundDeals != s.round {
		return nil, fault.ErrSessionAlreadyComplete
	}
	response, err := s.gen.ProcessDeal(message.Deal)
	if nil != err {
		return nil, err
	}
	s.dealersSeen[int(message.Deal.Index)] = struct{}{}
	if len(s.dealersSeen) == len(s.publicKeys) {
		s.round = RoundResponses
		s.deadline = time.Now().Add(RoundTimeout)
	}

	return &ResponseMessage{
		Session:  s.hash[:],
		Response: response,
	}, nil
}

// ProcessResponse - feed one response in
//
// returns the outcome once the generator certifies
func (s *Session) ProcessResponse(message *ResponseMessage) (*Outcome, error) {
	s.Lock()
	defer s.Unlock()

	if RoundDeals != s.round && RoundResponses != s.round {
		return nil, fault.ErrSessionAlreadyComplete
	}
	just, err := s.gen.ProcessResponse(message.Response)
	if nil != err {
		return nil, err
	}
	if nil != just {
		s.log.Warnf("session %x: justification for deal %d", s.hash[:8], message.Response.Index)
	}
	s.respondersSeen[int(message.Response.Response.Index)] = struct{}{}

	if !s.gen.Certified() {
		return nil, nil
	}

	share, err := s.gen.DistKeyShare()
	if nil != err {
		s.round = RoundFailed
		return nil, err
	}

	s.outcome = &Outcome{
		PublicKeySet: keyshare.NewPublicKeySet(share.Commitments(), len(s.id.Candidates)),
		SecretShare:  keyshare.NewSecretKeyShare(share.PriShare()),
		Index:        s.index,
	}
	s.round = RoundComplete
	s.log.Infof("session %x: complete, key: %s", s.hash[:8], s.outcome.PublicKeySet.PublicKey())
	return s.outcome, nil
}

// Expired - true once the current round deadline has passed
func (s *Session) Expired(now time.Time) bool {
	s.Lock()
	defer s.Unlock()
	if RoundComplete == s.round || RoundFailed == s.round {
		return false
	}
	return now.After(s.deadline)
}

// Silent - candidates not yet heard from in the current round
func (s *Session) Silent() []xorname.Name {
	s.Lock()
	defer s.Unlock()

	silent := []xorname.Name{}
	switch s.round {
	case RoundPublicKeys:
		for i, pk := range s.publicKeys {
			if nil == pk {
				silent = append(silent, s.id.Candidates[i])
			}
		}
	case RoundDeals:
		for i := range s.publicKeys {
			if _, ok := s.dealersSeen[i]; !ok {
				silent = append(silent, s.id.Candidates[i])
			}
		}
	case RoundResponses:
		for i := range s.publicKeys {
			if _, ok := s.respondersSeen[i]; !ok {
				silent = append(silent, s.id.Candidates[i])
			}
		}
	}
	return silent
}

// Fail - mark the session dead after a timeout
func (s *Session) Fail() {
	s.Lock()
	defer s.Unlock()
	if RoundComplete != s.round {
		s.round = RoundFailed
	}
}

// RetrySession - the follow-up session after a failure: silent
// candidates are dropped and the generation advances
func RetrySession(id SessionID, nonParticipants []xorname.Name) SessionID {
	excluded := make(map[xorname.Name]struct{}, len(nonParticipants))
	for _, name := range nonParticipants {
		excluded[name] = struct{}{}
	}
	candidates := make([]xorname.Name, 0, len(id.Candidates))
	for _, name := range id.Candidates {
		if _, ok := excluded[name]; !ok {
			candidates = append(candidates, name)
		}
	}
	return SessionID{
		Generation:       id.Generation + 1,
		Candidates:       candidates,
		BootstrapMembers: id.BootstrapMembers,
	}
}
