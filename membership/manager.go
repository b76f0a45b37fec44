// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package membership - section membership and elder handover
//
// elders vote on proposals by broadcasting signature shares; an
// aggregated section signature commits the proposal. Member changes
// re-sign the SAP under the current key. A completed key generation
// flows through a SectionInfo vote (new key), a NewElders vote and a
// chain edge signature (current key), and a SAP signature under the
// new key, into a chain insert and a SAP swap.
package membership

import (
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/aggregator"
	"github.com/sectionnet/sectiond/dkg"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/xorname"
)

// ChurnEvent - a committed membership change, delivered to the
// replication controller and the fault detector
type ChurnEvent struct {
	Joined []xorname.Name
	Left   []xorname.Name
	Adults []xorname.Name
}

// Handlers - how the manager talks to the rest of the node
type Handlers struct {
	Broadcast        func(message []byte)                 // to current elders
	OnChurn          func(event ChurnEvent)               // after member commit
	OnKeyChange      func(signed knowledge.SectionSigned) // after handover commit
	NotifyNeighbours func(signed knowledge.SectionSigned) // our SAP changed
	StartDkg         func(id dkg.SessionID)               // elder set must change
}

// Manager - membership consensus state for one node
type Manager struct {
	sync.Mutex
	log           *logger.L
	nodeName      xorname.Name
	know          *knowledge.Knowledge
	agg           *aggregator.Aggregator
	keyShare      *keyshare.SectionKeyShare
	joinsAllowed  bool
	candidates    map[keyshare.PublicKey]knowledge.SectionSigned
	handoverReady map[keyshare.PublicKey]bool
	edgeSigs      map[keyshare.PublicKey][]byte
	pendingShares map[keyshare.PublicKey]keyshare.SectionKeyShare
	pendingChurns map[uint64]xorname.Name
	handlers      Handlers
}

// New - manager for one node; keyShare is nil on an adult
func New(nodeName xorname.Name, know *knowledge.Knowledge, keyShare *keyshare.SectionKeyShare, handlers Handlers) *Manager {
	return &Manager{
		log:           logger.New("membership"),
		nodeName:      nodeName,
		know:          know,
		agg:           aggregator.New(),
		keyShare:      keyShare,
		joinsAllowed:  true,
		candidates:    make(map[keyshare.PublicKey]knowledge.SectionSigned),
		handoverReady: make(map[keyshare.PublicKey]bool),
		edgeSigs:      make(map[keyshare.PublicKey][]byte),
		pendingShares: make(map[keyshare.PublicKey]keyshare.SectionKeyShare),
		pendingChurns: make(map[uint64]xorname.Name),
		handlers:      handlers,
	}
}

// JoinsAllowed - whether new joiners are currently accepted
func (m *Manager) JoinsAllowed() bool {
	m.Lock()
	defer m.Unlock()
	return m.joinsAllowed
}

// IsElder - whether this node holds a current key share
func (m *Manager) IsElder() bool {
	m.Lock()
	defer m.Unlock()
	return nil != m.keyShare
}

// Generation - the committed generation we operate at
func (m *Manager) Generation() uint64 {
	return m.know.OurSection().SAP.Generation
}

// CurrentSAP - the committed section record
func (m *Manager) CurrentSAP() knowledge.SAP {
	return m.know.OurSection().SAP
}

// AddPendingKeyShare - record a key generation outcome so the
// matching handover can install it
func (m *Manager) AddPendingKeyShare(share keyshare.SectionKeyShare) {
	m.Lock()
	defer m.Unlock()
	m.pendingShares[share.Public.PublicKey()] = share
}

// Propose - sign and broadcast a proposal with the CURRENT key
func (m *Manager) Propose(p Proposal) error {
	m.Lock()
	keyShare := m.keyShare
	m.Unlock()

	if nil == keyShare {
		return fault.ErrNotElder
	}
	return m.proposeWith(p, *keyShare)
}

// ProposeSectionInfo - vote a generated SAP with the NEW key share
func (m *Manager) ProposeSectionInfo(sap knowledge.SAP, newShare keyshare.SectionKeyShare) error {
	if err := sap.Validate(); nil != err {
		return err
	}
	m.AddPendingKeyShare(newShare)
	return m.proposeWith(&SectionInfo{SAP: sap}, newShare)
}

func (m *Manager) proposeWith(p Proposal, keyShare keyshare.SectionKeyShare) error {
	payload := p.Pack()
	share, err := keyShare.SignShare(payload)
	if nil != err {
		return err
	}
	message := ShareMessage{
		PayloadKind: PayloadProposal,
		Payload:     payload,
		Share:       share,
	}

	m.handlers.Broadcast(message.Pack())
	return m.receive(message)
}

// Receive - one encoded share message from another elder
func (m *Manager) Receive(buffer []byte) error {
	message, err := UnpackShareMessage(buffer)
	if nil != err {
		return err
	}
	return m.receive(message)
}

func (m *Manager) receive(message ShareMessage) error {
	switch message.PayloadKind {
	case PayloadProposal:
		return m.receiveProposal(message)
	case PayloadChainEdge:
		return m.receiveChainEdge(message)
	case PayloadSAPUpdate:
		return m.receiveSAPUpdate(message)
	}
	return fault.ErrInvalidProposal
}

func (m *Manager) receiveProposal(message ShareMessage) error {
	p, err := UnpackProposal(message.Payload)
	if nil != err {
		return err
	}

	current := m.Generation()
	switch p := p.(type) {
	case *Online:
		if p.Generation < current {
			return nil // already advanced: ignore
		}
		if p.Generation > current {
			return fault.ErrGenerationOutOfDate
		}
	case *Offline:
		if p.Generation < current {
			return nil
		}
		if p.Generation > current {
			return fault.ErrGenerationOutOfDate
		}
	case *JoinsAllowed:
		if p.Generation < current {
			return nil
		}
		if p.Generation > current {
			return fault.ErrGenerationOutOfDate
		}
	case *SectionInfo:
		if p.SAP.Generation <= current {
			return nil
		}
	case *NewElders:
		if p.SAP.Generation <= current {
			return nil
		}
	}

	sig, err := m.agg.Add(message.Payload, message.Share)
	if nil != err {
		if fault.IsErrExists(err) {
			return nil
		}
		return err
	}
	if nil == sig {
		return nil
	}
	return m.commit(p)
}

func (m *Manager) commit(p Proposal) error {
	switch p := p.(type) {
	case *Online:
		return m.commitOnline(p)
	case *Offline:
		return m.commitOffline(p)
	case *JoinsAllowed:
		m.Lock()
		m.joinsAllowed = p.Allowed
		m.Unlock()
		m.log.Infof("joins allowed: %t", p.Allowed)
		return nil
	case *SectionInfo:
		return m.commitSectionInfo(p)
	case *NewElders:
		return m.commitNewElders(p)
	}
	return fault.ErrInvalidProposal
}

// Online: record the member, re-sign the SAP, relocate the young
func (m *Manager) commitOnline(p *Online) error {
	sap := m.know.OurSection().SAP
	member := p.Member
	member.State = knowledge.StateJoined
	m.log.Infof("member online: %s age: %d", member.Name, member.Age())

	next := cloneSAP(sap)
	next.Members[member.Name] = member
	next.Generation = sap.Generation + 1

	// relocations fire once this SAP update has committed
	m.Lock()
	m.pendingChurns[next.Generation] = member.Name
	m.Unlock()

	if err := m.proposeSAPUpdate(next); nil != err {
		return err
	}
	m.emitChurn(next, []xorname.Name{member.Name}, nil)
	return nil
}

// Offline: drop the member, re-sign the SAP, restart the key
// generation when the elder set changed
func (m *Manager) commitOffline(p *Offline) error {
	sap := m.know.OurSection().SAP
	name := p.Member.Name
	if _, ok := sap.Members[name]; !ok {
		return nil // unknown member: nothing to do
	}
	m.log.Infof("member offline: %s", name)

	next := cloneSAP(sap)
	member := p.Member
	if knowledge.StateRelocated != member.State {
		member.State = knowledge.StateLeft
	}
	next.Members[name] = member
	wasElder := sap.IsElder(name)
	next.Generation = sap.Generation + 1

	if !wasElder {
		if err := m.proposeSAPUpdate(next); nil != err {
			return err
		}
		m.emitChurn(next, nil, []xorname.Name{name})
		return nil
	}

	// an elder left: the SAP swap waits for the next key
	m.emitChurn(next, nil, []xorname.Name{name})
	if nil != m.handlers.StartDkg {
		id := dkg.SessionID{
			Generation: next.Generation,
			Candidates: ElderCandidates(next),
		}
		m.log.Infof("elder lost, starting key generation: generation %d", id.Generation)
		m.handlers.StartDkg(id)
	}
	return nil
}

// SectionInfo aggregated under the new key: the new elders sign the
// SAP itself, the current elders attest the handover and the chain
// edge
func (m *Manager) commitSectionInfo(p *SectionInfo) error {
	if err := p.SAP.Validate(); nil != err {
		return err
	}
	newKey := p.SAP.SectionKey()
	m.log.Infof("section info aggregated: generation %d key %x",
		p.SAP.Generation, newKey[:8])

	m.Lock()
	newShare, isNewElder := m.pendingShares[newKey]
	keyShare := m.keyShare
	m.Unlock()

	if isNewElder {
		if err := m.proposeSAPUpdateWith(p.SAP, newShare); nil != err {
			return err
		}
	}

	if nil == keyShare {
		return nil
	}
	if err := m.proposeWith(&NewElders{SAP: p.SAP}, *keyShare); nil != err {
		return err
	}

	edgeShare, err := keyShare.SignShare(newKey[:])
	if nil != err {
		return err
	}
	message := ShareMessage{
		PayloadKind: PayloadChainEdge,
		Payload:     newKey[:],
		Share:       edgeShare,
	}
	m.handlers.Broadcast(message.Pack())
	return m.receive(message)
}

func (m *Manager) commitNewElders(p *NewElders) error {
	newKey := p.SAP.SectionKey()
	m.Lock()
	m.handoverReady[newKey] = true
	m.Unlock()
	return m.tryCommitHandover(newKey)
}

func (m *Manager) receiveChainEdge(message ShareMessage) error {
	newKey, err := keyshare.PublicKeyFromBytes(message.Payload)
	if nil != err {
		return err
	}

	sig, err := m.agg.Add(message.Payload, message.Share)
	if nil != err {
		if fault.IsErrExists(err) {
			return nil
		}
		return err
	}
	if nil == sig {
		return nil
	}

	m.Lock()
	m.edgeSigs[newKey] = sig.Signature
	m.Unlock()

	return m.tryCommitHandover(newKey)
}

// the re-signed SAP after a member change, signed with the current
// key; during handover the new elders run the same round with the
// new key share
func (m *Manager) proposeSAPUpdate(sap knowledge.SAP) error {
	m.Lock()
	keyShare := m.keyShare
	m.Unlock()
	if nil == keyShare {
		return nil // adults wait for the elders' update
	}
	return m.proposeSAPUpdateWith(sap, *keyShare)
}

func (m *Manager) proposeSAPUpdateWith(sap knowledge.SAP, keyShare keyshare.SectionKeyShare) error {
	payload := sap.Pack()
	share, err := keyShare.SignShare(payload)
	if nil != err {
		return err
	}
	message := ShareMessage{
		PayloadKind: PayloadSAPUpdate,
		Payload:     payload,
		Share:       share,
	}
	m.handlers.Broadcast(message.Pack())
	return m.receive(message)
}

func (m *Manager) receiveSAPUpdate(message ShareMessage) error {
	sap, err := knowledge.UnpackSAP(message.Payload)
	if nil != err {
		return err
	}
	if sap.Generation <= m.Generation() {
		return nil
	}

	sig, err := m.agg.Add(message.Payload, message.Share)
	if nil != err {
		if fault.IsErrExists(err) {
			return nil
		}
		return err
	}
	if nil == sig {
		return nil
	}

	signed := knowledge.SectionSigned{SAP: sap, Sig: *sig}

	// signed under the current key: a plain member change
	if sig.PublicKey == m.know.SectionKey() {
		if err := m.know.SetOurSection(signed); nil != err {
			return err
		}
		m.log.Infof("section record advanced to generation %d", sap.Generation)
		if nil != m.handlers.NotifyNeighbours {
			m.handlers.NotifyNeighbours(signed)
		}

		m.Lock()
		churn, pending := m.pendingChurns[sap.Generation]
		delete(m.pendingChurns, sap.Generation)
		m.Unlock()
		if pending {
			m.relocateAfterChurn(sap, churn)
		}
		return nil
	}

	// signed under a new key: part of a handover
	m.Lock()
	m.candidates[sig.PublicKey] = signed
	m.Unlock()
	return m.tryCommitHandover(sig.PublicKey)
}

// the handover commits once the new-key SAP signature, the NewElders
// decision and the chain edge signature have all aggregated
func (m *Manager) tryCommitHandover(newKey keyshare.PublicKey) error {
	m.Lock()
	candidate, haveCandidate := m.candidates[newKey]
	edgeSig, haveEdge := m.edgeSigs[newKey]
	if !haveCandidate || !haveEdge || !m.handoverReady[newKey] {
		m.Unlock()
		return nil
	}

	// consume the handover state
	delete(m.candidates, newKey)
	delete(m.edgeSigs, newKey)
	delete(m.handoverReady, newKey)
	newShare, isNewElder := m.pendingShares[newKey]
	delete(m.pendingShares, newKey)
	m.Unlock()

	currentKey := m.know.SectionKey()
	err := m.know.Chain().Insert(currentKey, newKey, edgeSig)
	if nil != err && fault.ErrDataExists != err {
		return err
	}
	if err := m.know.SetOurSection(candidate); nil != err {
		return err
	}

	m.Lock()
	if isNewElder {
		m.keyShare = &newShare
	} else {
		m.keyShare = nil
	}
	m.Unlock()

	m.log.Infof("handover committed: generation %d key %x",
		candidate.SAP.Generation, newKey[:8])

	if nil != m.handlers.OnKeyChange {
		m.handlers.OnKeyChange(candidate)
	}
	if nil != m.handlers.NotifyNeighbours {
		m.handlers.NotifyNeighbours(candidate)
	}
	return nil
}

// churn notification with the post-change adult set
func (m *Manager) emitChurn(sap knowledge.SAP, joined []xorname.Name, left []xorname.Name) {
	if nil == m.handlers.OnChurn {
		return
	}
	m.handlers.OnChurn(ChurnEvent{
		Joined: joined,
		Left:   left,
		Adults: sap.Adults(),
	})
}

// young members relocate towards the churn name
func (m *Manager) relocateAfterChurn(sap knowledge.SAP, churn xorname.Name) {
	m.Lock()
	keyShare := m.keyShare
	m.Unlock()
	if nil == keyShare {
		return
	}

	for _, member := range RelocationCandidates(sap, churn) {
		relocated := member
		relocated.State = knowledge.StateRelocated

		destinationKey := sap.SectionKey()
		if destination, err := m.know.SectionFor(churn); nil == err {
			destinationKey = destination.SectionKey()
		}
		details := RelocationDetails(member, churn, destinationKey)
		relocated.Relocation = &details

		err := m.proposeWith(&Offline{
			Generation: sap.Generation,
			Member:     relocated,
		}, *keyShare)
		if nil != err {
			m.log.Warnf("relocation proposal error: %s", err)
		}
	}
}

func cloneSAP(sap knowledge.SAP) knowledge.SAP {
	next := sap
	next.Elders = make(map[xorname.Name]string, len(sap.Elders))
	for name, addr := range sap.Elders {
		next.Elders[name] = addr
	}
	next.Members = make(map[xorname.Name]knowledge.MemberInfo, len(sap.Members))
	for name, member := range sap.Members {
		next.Members[name] = member
	}
	return next
}
