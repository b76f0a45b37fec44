// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package knowledge_test

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/sectionchain"
	"github.com/sectionnet/sectiond/xorname"
)

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "knowledge-test")
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

// a section key with enough shares to sign anything
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
		// force the name under the prefix
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
		addr := fmt.Sprintf("127.0.0.1:%d", 12010+i)
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

func signSAP(t *testing.T, sap knowledge.SAP, signer *sectionKey) knowledge.SectionSigned {
	t.Helper()
	return knowledge.SectionSigned{
		SAP: sap,
		Sig: signer.sign(t, sap.Pack()),
	}
}

// our section under genesis, signed by itself
func makeKnowledge(t *testing.T) (*knowledge.Knowledge, *sectionKey, *sectionchain.Chain) {
	t.Helper()
	genesis := newSectionKey(t, 7)
	chain := sectionchain.New(genesis.public())

	sap := makeSAP(t, "0", 1, genesis)
	k, err := knowledge.New(signSAP(t, sap, genesis), chain)
	if nil != err {
		t.Fatalf("new knowledge error: %s", err)
	}
	return k, genesis, chain
}

func TestSAPValidate(t *testing.T) {
	key := newSectionKey(t, 7)
	sap := makeSAP(t, "0", 1, key)
	if err := sap.Validate(); nil != err {
		t.Fatalf("validate error: %s", err)
	}

	// an elder outside the prefix
	bad := makeSAP(t, "0", 1, key)
	var outside xorname.Name
	outside[0] = 0x80
	bad.Elders[outside] = "127.0.0.1:12010"
	delete(bad.Elders, bad.ElderNames()[0])
	if err := bad.Validate(); fault.ErrElderOutsidePrefix != err {
		t.Fatalf("expected elder outside prefix, got: %v", err)
	}

	// wrong threshold for the elder count
	small := newSectionKey(t, 3)
	mismatch := makeSAP(t, "0", 1, key)
	mismatch.PublicKeySet = small.pkSet
	if err := mismatch.Validate(); fault.ErrThresholdMismatch != err {
		t.Fatalf("expected threshold mismatch, got: %v", err)
	}
}

func TestSAPPackUnpack(t *testing.T) {
	key := newSectionKey(t, 7)
	sap := makeSAP(t, "01", 3, key)

	unpacked, err := knowledge.UnpackSAP(sap.Pack())
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}
	if !unpacked.Equal(sap) {
		t.Fatal("SAP mismatch after unpack")
	}
	if unpacked.Generation != sap.Generation {
		t.Fatalf("generation mismatch: %d", unpacked.Generation)
	}
	if len(unpacked.Elders) != len(sap.Elders) {
		t.Fatalf("elder count mismatch: %d", len(unpacked.Elders))
	}
}

func TestThreshold(t *testing.T) {
	items := []struct {
		elders    int
		threshold int
	}{
		{7, 4},
		{5, 3},
		{4, 2},
		{3, 2},
		{1, 0},
	}
	for _, item := range items {
		if th := knowledge.Threshold(item.elders); th != item.threshold {
			t.Errorf("threshold(%d): expected %d, got %d", item.elders, item.threshold, th)
		}
	}
}

func TestUpdateNewerGeneration(t *testing.T) {
	k, genesis, chain := makeKnowledge(t)

	// successor key signed into the chain
	successor := newSectionKey(t, 7)
	child := successor.public()
	edge := genesis.sign(t, child[:])
	if err := chain.Insert(genesis.public(), child, edge.Signature); nil != err {
		t.Fatalf("insert error: %s", err)
	}

	sap := makeSAP(t, "0", 2, successor)
	updated, err := k.Update(signSAP(t, sap, successor), nil)
	if nil != err {
		t.Fatalf("update error: %s", err)
	}
	if !updated {
		t.Fatal("expected update to apply")
	}
	if k.SectionKey() != successor.public() {
		t.Fatal("section key not swapped")
	}
}

func TestUpdateStaleGenerationIgnored(t *testing.T) {
	k, genesis, _ := makeKnowledge(t)

	// same generation, same key: silently ignored
	sap := makeSAP(t, "0", 1, genesis)
	updated, err := k.Update(signSAP(t, sap, genesis), nil)
	if nil != err {
		t.Fatalf("update error: %s", err)
	}
	if updated {
		t.Fatal("stale SAP must be ignored")
	}
}

func TestUpdateUntrustedSigner(t *testing.T) {
	k, _, _ := makeKnowledge(t)

	// signer key never linked into the chain
	rogue := newSectionKey(t, 7)
	sap := makeSAP(t, "0", 5, rogue)
	_, err := k.Update(signSAP(t, sap, rogue), nil)
	if fault.ErrUntrusted != err {
		t.Fatalf("expected untrusted, got: %v", err)
	}
}

func TestUpdateNeighbourAndSectionFor(t *testing.T) {
	k, genesis, chain := makeKnowledge(t)

	neighbour := newSectionKey(t, 7)
	child := neighbour.public()
	edge := genesis.sign(t, child[:])
	if err := chain.Insert(genesis.public(), child, edge.Signature); nil != err {
		t.Fatalf("insert error: %s", err)
	}

	sap := makeSAP(t, "1", 1, neighbour)
	updated, err := k.Update(signSAP(t, sap, neighbour), nil)
	if nil != err {
		t.Fatalf("update error: %s", err)
	}
	if !updated {
		t.Fatal("expected neighbour to be recorded")
	}
	if 1 != len(k.Neighbours()) {
		t.Fatalf("expected 1 neighbour, got: %d", len(k.Neighbours()))
	}

	// a name under "1" resolves to the neighbour
	var name xorname.Name
	name[0] = 0xff
	found, err := k.SectionFor(name)
	if nil != err {
		t.Fatalf("section for error: %s", err)
	}
	if found.SectionKey() != neighbour.public() {
		t.Fatal("wrong section for name")
	}

	// a name under "0" resolves to us
	name[0] = 0x00
	found, err = k.SectionFor(name)
	if nil != err {
		t.Fatalf("section for error: %s", err)
	}
	if found.SectionKey() != k.SectionKey() {
		t.Fatal("expected our own section")
	}
}

func TestUpdateWithProofChain(t *testing.T) {
	k, genesis, chain := makeKnowledge(t)

	// build the edge on a copy; deliver it as a proof chain
	successor := newSectionKey(t, 7)
	child := successor.public()
	edge := genesis.sign(t, child[:])

	sap := makeSAP(t, "0", 2, successor)
	proof := []sectionchain.Entry{
		{Key: genesis.public()},
		{Key: child, Signature: edge.Signature},
	}
	updated, err := k.Update(signSAP(t, sap, successor), proof)
	if nil != err {
		t.Fatalf("update error: %s", err)
	}
	if !updated {
		t.Fatal("expected update to apply")
	}
	if !chain.HasKey(child) {
		t.Fatal("proof chain not merged")
	}
}
