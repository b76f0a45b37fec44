// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dkg

import (
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/xorname"
)

// deadline poll period
const checkInterval = 1 * time.Second

// Handlers - how the engine talks to the rest of the node
type Handlers struct {
	Send      func(to xorname.Name, payload []byte)
	OnOutcome func(id SessionID, outcome *Outcome)
	OnFailure func(id SessionID, nonParticipants []xorname.Name)
}

// Engine - all running generation sessions, with deadline policing
type Engine struct {
	sync.Mutex
	log      *logger.L
	nodeKey  *keyshare.NodeKeypair
	sessions map[[32]byte]*Session
	failures map[[32]byte]*FailureSet
	acted    map[[32]byte]struct{}
	handlers Handlers
}

// NewEngine - engine for one node identity
func NewEngine(nodeKey *keyshare.NodeKeypair, handlers Handlers) *Engine {
	return &Engine{
		log:      logger.New("dkg-engine"),
		nodeKey:  nodeKey,
		sessions: make(map[[32]byte]*Session),
		failures: make(map[[32]byte]*FailureSet),
		acted:    make(map[[32]byte]struct{}),
		handlers: handlers,
	}
}

// Start - begin participating in a session and announce our key
func (e *Engine) Start(id SessionID) error {
	hash := id.Hash()

	e.Lock()
	if _, ok := e.sessions[hash]; ok {
		e.Unlock()
		return fault.ErrSessionAlreadyComplete
	}

	session, message, err := NewSession(id, e.nodeKey.Name)
	if nil != err {
		e.Unlock()
		return err
	}
	e.sessions[hash] = session
	e.failures[hash] = NewFailureSet(id)
	e.Unlock()

	payload, err := Encode(message)
	if nil != err {
		return err
	}
	e.broadcast(session, payload)
	return nil
}

// Receive - route one encoded session message
func (e *Engine) Receive(payload []byte) error {
	message, err := Decode(payload)
	if nil != err {
		return err
	}

	switch m := message.(type) {
	case *PublicKeyMessage:
		return e.receivePublicKey(m)
	case *DealMessage:
		return e.receiveDeal(m)
	case *ResponseMessage:
		return e.receiveResponse(m)
	case *FailureVote:
		return e.receiveFailureVote(m)
	}
	return fault.ErrInvalidDkgMessage
}

func (e *Engine) session(sessionHash []byte) (*Session, error) {
	var hash [32]byte
	if len(sessionHash) != len(hash) {
		return nil, fault.ErrInvalidDkgMessage
	}
	copy(hash[:], sessionHash)

	e.Lock()
	defer e.Unlock()
	session, ok := e.sessions[hash]
	if !ok {
		return nil, fault.ErrSessionNotFound
	}
	return session, nil
}

func (e *Engine) receivePublicKey(message *PublicKeyMessage) error {
	session, err := e.session(message.Session)
	if nil != err {
		return err
	}

	deals, err := session.ProcessPublicKey(message)
	if nil != err {
		return err
	}
	for to, deal := range deals {
		if to == e.nodeKey.Name {
			continue
		}
		payload, err := Encode(deal)
		if nil != err {
			return err
		}
		e.handlers.Send(to, payload)
	}
	return nil
}

func (e *Engine) receiveDeal(message *DealMessage) error {
	session, err := e.session(message.Session)
	if nil != err {
		return err
	}

	response, err := session.ProcessDeal(message)
	if nil != err {
		return err
	}
	// own responses are recorded by the generator when the deal is
	// processed, so only the others need to hear this
	payload, err := Encode(response)
	if nil != err {
		return err
	}
	e.broadcast(session, payload)
	return nil
}

func (e *Engine) receiveResponse(message *ResponseMessage) error {
	session, err := e.session(message.Session)
	if nil != err {
		return err
	}

	outcome, err := session.ProcessResponse(message)
	if nil != err {
		return err
	}
	if nil != outcome {
		e.handlers.OnOutcome(session.ID(), outcome)
	}
	return nil
}

func (e *Engine) receiveFailureVote(vote *FailureVote) error {
	session, err := e.session(vote.Session)
	if nil != err {
		return err
	}

	var hash [32]byte
	copy(hash[:], vote.Session)

	e.Lock()
	defer e.Unlock()

	failures := e.failures[hash]
	if err := failures.Add(vote); nil != err {
		return err
	}
	e.actionable(session, failures, hash)
	return nil
}

// caller holds the lock
func (e *Engine) actionable(session *Session, failures *FailureSet, hash [32]byte) {
	if _, ok := e.acted[hash]; ok {
		return
	}
	threshold := knowledge.Threshold(len(session.ID().Candidates))
	nonParticipants := failures.Actionable(threshold)
	if nil == nonParticipants {
		return
	}
	e.acted[hash] = struct{}{}
	session.Fail()
	e.log.Warnf("session %x: failed, %d non-participants", hash[:8], len(nonParticipants))
	e.handlers.OnFailure(session.ID(), nonParticipants)
}

// send to every other candidate of the session
func (e *Engine) broadcast(session *Session, payload []byte) {
	for _, name := range session.ID().Candidates {
		if name == e.nodeKey.Name {
			continue
		}
		e.handlers.Send(name, payload)
	}
}

// Drop - forget a session, e.g. after its handover committed
func (e *Engine) Drop(id SessionID) {
	hash := id.Hash()
	e.Lock()
	defer e.Unlock()
	delete(e.sessions, hash)
	delete(e.failures, hash)
	delete(e.acted, hash)
}

// Run - background processing interface: police round deadlines
func (e *Engine) Run(_ interface{}, shutdown <-chan struct{}) {
	log := e.log
	log.Info("starting…")

loop:
	for {
		select {
		case <-time.After(checkInterval):
			e.checkDeadlines(time.Now())

		case <-shutdown:
			break loop
		}
	}
}

func (e *Engine) checkDeadlines(now time.Time) {
	e.Lock()
	expired := []*Session{}
	for _, session := range e.sessions {
		if session.Expired(now) {
			expired = append(expired, session)
		}
	}
	e.Unlock()

	for _, session := range expired {
		silent := session.Silent()
		if 0 == len(silent) {
			continue
		}
		session.Fail()
		e.log.Warnf("session timeout: %d silent candidates", len(silent))

		vote := NewFailureVote(session.ID(), silent, e.nodeKey)
		payload, err := Encode(vote)
		if nil == err {
			e.broadcast(session, payload)
		}

		// count our own vote too
		hash := session.ID().Hash()
		e.Lock()
		failures, ok := e.failures[hash]
		if ok {
			if err := failures.Add(vote); nil == err {
				e.actionable(session, failures, hash)
			}
		}
		e.Unlock()
	}
}
