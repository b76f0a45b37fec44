// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sectionchain_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/sectionchain"
)

// a section key with the full secret available for test signing
type testKey struct {
	pkSet   keyshare.PublicKeySet
	secrets []keyshare.SecretKeyShare
}

func newTestKey(t *testing.T) *testKey {
	pkSet, secrets, err := keyshare.GenerateKeySet(0, 1)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	return &testKey{pkSet: pkSet, secrets: secrets}
}

func (k *testKey) public() keyshare.PublicKey {
	return k.pkSet.PublicKey()
}

// sign a child key with this key
func (k *testKey) signChild(t *testing.T, child keyshare.PublicKey) []byte {
	sigShare, err := k.secrets[0].Sign(child[:])
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}
	sig, err := k.pkSet.Combine(child[:], [][]byte{sigShare})
	if nil != err {
		t.Fatalf("combine error: %s", err)
	}
	return sig.Signature
}

// build genesis → a → b with a side branch genesis → c
func buildChain(t *testing.T) (*sectionchain.Chain, *testKey, *testKey, *testKey, *testKey) {
	genesis := newTestKey(t)
	a := newTestKey(t)
	b := newTestKey(t)
	c := newTestKey(t)

	chain := sectionchain.New(genesis.public())

	if err := chain.Insert(genesis.public(), a.public(), genesis.signChild(t, a.public())); nil != err {
		t.Fatalf("insert a error: %s", err)
	}
	if err := chain.Insert(a.public(), b.public(), a.signChild(t, b.public())); nil != err {
		t.Fatalf("insert b error: %s", err)
	}
	if err := chain.Insert(genesis.public(), c.public(), genesis.signChild(t, c.public())); nil != err {
		t.Fatalf("insert c error: %s", err)
	}
	return chain, genesis, a, b, c
}

func TestInsert(t *testing.T) {
	chain, genesis, a, b, _ := buildChain(t)

	for i, pk := range []keyshare.PublicKey{genesis.public(), a.public(), b.public()} {
		if !chain.HasKey(pk) {
			t.Errorf("%d: key missing from chain", i)
		}
	}

	stranger := newTestKey(t)
	if chain.HasKey(stranger.public()) {
		t.Errorf("unknown key reported present")
	}

	// unknown parent
	orphan := newTestKey(t)
	err := chain.Insert(stranger.public(), orphan.public(), stranger.signChild(t, orphan.public()))
	if fault.ErrUnknownParent != err {
		t.Errorf("insert error: actual: %v expected: %v", err, fault.ErrUnknownParent)
	}

	// bad signature
	err = chain.Insert(genesis.public(), orphan.public(), []byte("garbage"))
	if fault.ErrInvalidSignature != err {
		t.Errorf("insert error: actual: %v expected: %v", err, fault.ErrInvalidSignature)
	}
}

func TestProofChain(t *testing.T) {
	chain, genesis, a, b, c := buildChain(t)

	proof, err := chain.ProofChain(genesis.public(), b.public())
	if nil != err {
		t.Fatalf("proof error: %s", err)
	}
	if 3 != len(proof) {
		t.Fatalf("proof length: actual: %d expected: 3", len(proof))
	}
	if proof[0].Key != genesis.public() || proof[1].Key != a.public() || proof[2].Key != b.public() {
		t.Errorf("proof order wrong")
	}

	// c does not dominate b
	_, err = chain.ProofChain(c.public(), b.public())
	if nil == err {
		t.Errorf("non-dominating proof accepted")
	}
}

func TestMerge(t *testing.T) {
	chain, genesis, a, b, _ := buildChain(t)

	proof, err := chain.ProofChain(genesis.public(), b.public())
	if nil != err {
		t.Fatalf("proof error: %s", err)
	}

	other := sectionchain.New(genesis.public())
	if err := other.Merge(proof); nil != err {
		t.Fatalf("merge error: %s", err)
	}
	if !other.HasKey(b.public()) || !other.HasKey(a.public()) {
		t.Errorf("merged keys missing")
	}

	// merging into a chain that does not trust the first key
	stranger := newTestKey(t)
	foreign := sectionchain.New(stranger.public())
	if err := foreign.Merge(proof); fault.ErrUntrusted != err {
		t.Errorf("merge error: actual: %v expected: %v", err, fault.ErrUntrusted)
	}
}

func TestAncestry(t *testing.T) {
	chain, genesis, a, b, c := buildChain(t)

	if !chain.IsAncestorOf(genesis.public(), b.public()) {
		t.Errorf("genesis not ancestor of b")
	}
	if !chain.IsAncestorOf(a.public(), b.public()) {
		t.Errorf("a not ancestor of b")
	}
	if chain.IsAncestorOf(c.public(), b.public()) {
		t.Errorf("c reported as ancestor of b")
	}
	if !chain.IsAncestorOf(b.public(), b.public()) {
		t.Errorf("key not its own ancestor")
	}
}

func TestMinimise(t *testing.T) {
	chain, genesis, a, b, c := buildChain(t)

	minimal, err := chain.Minimise([]keyshare.PublicKey{b.public()})
	if nil != err {
		t.Fatalf("minimise error: %s", err)
	}
	if !minimal.HasKey(b.public()) || !minimal.HasKey(a.public()) || !minimal.HasKey(genesis.public()) {
		t.Errorf("minimised chain missing ancestors")
	}
	if minimal.HasKey(c.public()) {
		t.Errorf("minimised chain kept unrelated branch")
	}
}

func TestSaveLoad(t *testing.T) {
	chain, _, _, b, c := buildChain(t)

	directory, err := ioutil.TempDir("", "sectionchain-test")
	if nil != err {
		t.Fatalf("tempdir error: %s", err)
	}
	defer os.RemoveAll(directory)

	filename := filepath.Join(directory, "section_chain.bin")
	if err := chain.Save(filename); nil != err {
		t.Fatalf("save error: %s", err)
	}

	restored, err := sectionchain.Load(filename)
	if nil != err {
		t.Fatalf("load error: %s", err)
	}
	if restored.Len() != chain.Len() {
		t.Errorf("length: actual: %d expected: %d", restored.Len(), chain.Len())
	}
	if !restored.HasKey(b.public()) || !restored.HasKey(c.public()) {
		t.Errorf("restored chain missing keys")
	}
}
