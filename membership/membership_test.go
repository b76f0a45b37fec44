// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package membership_test

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/dkg"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/membership"
	"github.com/sectionnet/sectiond/sectionchain"
	"github.com/sectionnet/sectiond/xorname"
)

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "membership-test")
	if nil != err {
		panic(err)
	}

	_ = logger.Initialise(logger.Configuration{
		Directory: directory,
		File:      "test.log",
		Size:      50000,
		Count:     10,
	})

	rc := m.Run()
	logger.Finalise()
	os.RemoveAll(directory)
	os.Exit(rc)
}

// a section key with all of its shares
type sectionKey struct {
	pkSet   keyshare.PublicKeySet
	secrets []keyshare.SecretKeyShare
}

func newSectionKey(t *testing.T, elderCount int) *sectionKey {
	t.Helper()
	threshold := knowledge.Threshold(elderCount)
	pkSet, secrets, err := keyshare.GenerateKeySet(threshold, elderCount)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	return &sectionKey{pkSet: pkSet, secrets: secrets}
}

func (k *sectionKey) public() keyshare.PublicKey {
	return k.pkSet.PublicKey()
}

func (k *sectionKey) share(index int) keyshare.SectionKeyShare {
	return keyshare.SectionKeyShare{
		Public: k.pkSet,
		Secret: k.secrets[index],
	}
}

func (k *sectionKey) sign(t *testing.T, payload []byte) keyshare.SectionSig {
	t.Helper()
	shares := make([][]byte, 0, k.pkSet.Threshold()+1)
	for i := 0; i <= k.pkSet.Threshold(); i += 1 {
		share, err := k.secrets[i].Sign(payload)
		if nil != err {
			t.Fatalf("sign error: %s", err)
		}
		shares = append(shares, share)
	}
	sig, err := k.pkSet.Combine(payload, shares)
	if nil != err {
		t.Fatalf("combine error: %s", err)
	}
	return sig
}

// elder names inside the given prefix
func elderNames(t *testing.T, prefix xorname.Prefix, count int) []xorname.Name {
	t.Helper()
	names := make([]xorname.Name, 0, count)
	for i := 0; len(names) < count; i += 1 {
		name := xorname.NewName([]byte{byte(i), byte(i >> 8)})
		for b := uint(0); b < prefix.BitCount; b += 1 {
			name[b/8] &^= 0x80 >> (b % 8)
			if prefix.Name.Bit(b) {
				name[b/8] |= 0x80 >> (b % 8)
			}
		}
		names = append(names, name)
	}
	return names
}

func makeSAP(t *testing.T, prefixString string, generation uint64, key *sectionKey) knowledge.SAP {
	t.Helper()
	prefix, err := xorname.ParsePrefix(prefixString)
	if nil != err {
		t.Fatalf("prefix error: %s", err)
	}

	elders := make(map[xorname.Name]string)
	members := make(map[xorname.Name]knowledge.MemberInfo)
	for i, name := range elderNames(t, prefix, key.pkSet.Count()) {
		name = name.WithAge(uint8(100 + i)) // old enough to never relocate
		addr := fmt.Sprintf("127.0.0.1:%d", 13010+i)
		elders[name] = addr
		members[name] = knowledge.MemberInfo{
			Name:  name,
			Addr:  addr,
			State: knowledge.StateJoined,
		}
	}

	return knowledge.SAP{
		Prefix:       prefix,
		PublicKeySet: key.pkSet,
		Elders:       elders,
		Members:      members,
		Generation:   generation,
	}
}

// a set of elders sharing a broadcast queue; every queued message is
// delivered to every manager in order, the sender's own copy being
// dropped as a duplicate share
type network struct {
	key       *sectionKey
	sap       knowledge.SAP
	managers  []*membership.Manager
	chains    []*sectionchain.Chain
	queue     [][]byte
	churns    [][]membership.ChurnEvent
	dkgStarts []dkg.SessionID
}

func newNetwork(t *testing.T, extraMembers ...knowledge.MemberInfo) *network {
	t.Helper()
	key := newSectionKey(t, knowledge.ElderCount)
	sap := makeSAP(t, "0", 1, key)
	for _, member := range extraMembers {
		sap.Members[member.Name] = member
	}
	signed := knowledge.SectionSigned{
		SAP: sap,
		Sig: key.sign(t, sap.Pack()),
	}

	n := &network{
		key:    key,
		sap:    sap,
		churns: make([][]membership.ChurnEvent, knowledge.ElderCount),
	}

	names := sap.ElderNames()
	for i := 0; i < knowledge.ElderCount; i += 1 {
		chain := sectionchain.New(key.public())
		know, err := knowledge.New(signed, chain)
		if nil != err {
			t.Fatalf("new knowledge error: %s", err)
		}
		n.chains = append(n.chains, chain)

		index := i
		keyShare := key.share(i)
		manager := membership.New(names[i], know, &keyShare, membership.Handlers{
			Broadcast: func(message []byte) {
				n.queue = append(n.queue, message)
			},
			OnChurn: func(event membership.ChurnEvent) {
				n.churns[index] = append(n.churns[index], event)
			},
			StartDkg: func(id dkg.SessionID) {
				n.dkgStarts = append(n.dkgStarts, id)
			},
		})
		n.managers = append(n.managers, manager)
	}
	return n
}

// deliver queued broadcasts in order until the network is quiet
func (n *network) pump(t *testing.T) {
	t.Helper()
	for limit := 0; 0 != len(n.queue); limit += 1 {
		if limit > 100000 {
			t.Fatal("message queue never drained")
		}
		message := n.queue[0]
		n.queue = n.queue[1:]
		for _, manager := range n.managers {
			if err := manager.Receive(message); nil != err {
				t.Fatalf("receive error: %s", err)
			}
		}
	}
}

func TestOnlineAdvancesGeneration(t *testing.T) {
	n := newNetwork(t)

	joiner := knowledge.MemberInfo{
		Name:  xorname.NewName([]byte("joining node")).WithAge(200),
		Addr:  "127.0.0.1:13100",
		State: knowledge.StateJoined,
	}
	joiner.Name[0] &^= 0x80 // inside prefix "0"

	online := &membership.Online{Generation: 1, Member: joiner}
	for _, manager := range n.managers {
		if err := manager.Propose(online); nil != err {
			t.Fatalf("propose error: %s", err)
		}
	}
	n.pump(t)

	for i, manager := range n.managers {
		if 2 != manager.Generation() {
			t.Fatalf("manager %d: generation: actual: %d expected: 2", i, manager.Generation())
		}
		if 0 == len(n.churns[i]) {
			t.Fatalf("manager %d: no churn event", i)
		}
		churn := n.churns[i][0]
		if 1 != len(churn.Joined) || joiner.Name != churn.Joined[0] {
			t.Fatalf("manager %d: joiner missing from churn", i)
		}
	}
}

func TestStaleProposalIgnored(t *testing.T) {
	n := newNetwork(t)

	joiner := knowledge.MemberInfo{
		Name:  xorname.NewName([]byte("stale joiner")).WithAge(200),
		Addr:  "127.0.0.1:13101",
		State: knowledge.StateJoined,
	}
	joiner.Name[0] &^= 0x80

	// generation already passed: silently dropped
	err := n.managers[0].Propose(&membership.Online{Generation: 0, Member: joiner})
	if nil != err {
		t.Fatalf("stale proposal error: %s", err)
	}
	n.pump(t)
	if 1 != n.managers[0].Generation() {
		t.Fatalf("generation moved on a stale proposal: %d", n.managers[0].Generation())
	}

	// generation not yet reached: rejected
	err = n.managers[0].Propose(&membership.Online{Generation: 5, Member: joiner})
	if fault.ErrGenerationOutOfDate != err {
		t.Fatalf("expected generation out of date, got: %v", err)
	}
}

func TestJoinsAllowed(t *testing.T) {
	n := newNetwork(t)

	for _, manager := range n.managers {
		if !manager.JoinsAllowed() {
			t.Fatal("joins must start allowed")
		}
		err := manager.Propose(&membership.JoinsAllowed{Generation: 1, Allowed: false})
		if nil != err {
			t.Fatalf("propose error: %s", err)
		}
	}
	n.pump(t)

	for i, manager := range n.managers {
		if manager.JoinsAllowed() {
			t.Fatalf("manager %d: joins still allowed", i)
		}
	}
}

func TestOfflineElderStartsKeyGeneration(t *testing.T) {
	n := newNetwork(t)

	lost := n.sap.ElderNames()[6]
	offline := &membership.Offline{Generation: 1, Member: n.sap.Members[lost]}
	for _, manager := range n.managers {
		if err := manager.Propose(offline); nil != err {
			t.Fatalf("propose error: %s", err)
		}
	}
	n.pump(t)

	if len(n.dkgStarts) != len(n.managers) {
		t.Fatalf("key generation starts: actual: %d expected: %d",
			len(n.dkgStarts), len(n.managers))
	}
	for _, id := range n.dkgStarts {
		if 2 != id.Generation {
			t.Fatalf("session generation: actual: %d expected: 2", id.Generation)
		}
		for _, candidate := range id.Candidates {
			if lost == candidate {
				t.Fatal("departed elder still a candidate")
			}
		}
	}

	// the generation waits for the handover
	for i, manager := range n.managers {
		if 1 != manager.Generation() {
			t.Fatalf("manager %d: generation moved before handover: %d", i, manager.Generation())
		}
	}
}

// a full handover: SectionInfo voted under the new key, NewElders and
// the chain edge under the old, then the swap
func TestElderHandover(t *testing.T) {
	n := newNetwork(t)

	newKey := newSectionKey(t, knowledge.ElderCount)
	newSAP := makeSAP(t, "0", 2, newKey)

	for i, manager := range n.managers {
		if err := manager.ProposeSectionInfo(newSAP, newKey.share(i)); nil != err {
			t.Fatalf("propose section info error: %s", err)
		}
	}
	n.pump(t)

	oldKey := n.key.public()
	for i, manager := range n.managers {
		if 2 != manager.Generation() {
			t.Fatalf("manager %d: generation: actual: %d expected: 2", i, manager.Generation())
		}
		if !manager.IsElder() {
			t.Fatalf("manager %d: lost its key share across the handover", i)
		}
		if !n.chains[i].HasKey(newKey.public()) {
			t.Fatalf("manager %d: new key missing from chain", i)
		}
		if !n.chains[i].IsAncestorOf(oldKey, newKey.public()) {
			t.Fatalf("manager %d: old key is not an ancestor of the new", i)
		}
	}

	// the new key share signs for the next round
	err := n.managers[0].Propose(&membership.JoinsAllowed{Generation: 2, Allowed: false})
	if nil != err {
		t.Fatalf("post-handover propose error: %s", err)
	}
}

func TestRelocationAfterJoin(t *testing.T) {
	joiner := knowledge.MemberInfo{
		Name:  xorname.NewName([]byte("churn trigger")).WithAge(200),
		Addr:  "127.0.0.1:13102",
		State: knowledge.StateJoined,
	}
	joiner.Name[0] &^= 0x80

	// a young adult whose name agrees with the churn far beyond its age
	young := knowledge.MemberInfo{
		Name:  joiner.Name.WithAge(2),
		Addr:  "127.0.0.1:13103",
		State: knowledge.StateJoined,
	}
	n := newNetwork(t, young)

	online := &membership.Online{Generation: 1, Member: joiner}
	for _, manager := range n.managers {
		if err := manager.Propose(online); nil != err {
			t.Fatalf("propose error: %s", err)
		}
	}
	n.pump(t)

	// generation 2 added the joiner, generation 3 relocated the adult
	for i, manager := range n.managers {
		if 3 != manager.Generation() {
			t.Fatalf("manager %d: generation: actual: %d expected: 3", i, manager.Generation())
		}
	}

	sap := n.managers[0].CurrentSAP()
	member, ok := sap.Members[young.Name]
	if !ok {
		t.Fatal("young member missing from SAP")
	}
	if knowledge.StateRelocated != member.State {
		t.Fatalf("member state: actual: %d expected relocated", member.State)
	}
	if nil == member.Relocation {
		t.Fatal("relocation details missing")
	}
	if joiner.Name != member.Relocation.Destination {
		t.Fatal("relocation destination is not the churn name")
	}
	if 3 != member.Relocation.Age {
		t.Fatalf("relocated age: actual: %d expected: 3", member.Relocation.Age)
	}
}

func TestProposeWithoutShare(t *testing.T) {
	key := newSectionKey(t, knowledge.ElderCount)
	sap := makeSAP(t, "0", 1, key)
	signed := knowledge.SectionSigned{
		SAP: sap,
		Sig: key.sign(t, sap.Pack()),
	}
	know, err := knowledge.New(signed, sectionchain.New(key.public()))
	if nil != err {
		t.Fatalf("new knowledge error: %s", err)
	}

	adult := membership.New(xorname.NewName([]byte("adult")), know, nil, membership.Handlers{
		Broadcast: func([]byte) {},
	})
	err = adult.Propose(&membership.JoinsAllowed{Generation: 1, Allowed: false})
	if fault.ErrNotElder != err {
		t.Fatalf("expected not elder, got: %v", err)
	}
}
