// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package register_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/register"
	"github.com/sectionnet/sectiond/storage"
	"github.com/sectionnet/sectiond/xorname"
)

var testDirectory string

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "register-test")
	if nil != err {
		panic(err)
	}
	testDirectory = directory

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

func newKeypair(t *testing.T) *keyshare.Keypair {
	t.Helper()
	keypair, err := keyshare.NewKeypair()
	if nil != err {
		t.Fatalf("keypair error: %s", err)
	}
	return keypair
}

func signOp(t *testing.T, author *keyshare.Keypair, op register.Op) register.SignedOp {
	t.Helper()
	signature, err := author.Sign(op.Pack())
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}
	return register.SignedOp{
		Op:        op,
		Author:    author.Public,
		Signature: signature,
	}
}

func testAddress(seed string) register.Address {
	return register.Address{
		Name: xorname.NewName([]byte(seed)),
		Tag:  7,
	}
}

func TestCreateAndPolicy(t *testing.T) {
	owner := newKeypair(t)
	store := register.NewStore(nil)
	address := testAddress("create")

	err := store.Create(address, register.Policy{Owner: owner.Public})
	if nil != err {
		t.Fatalf("create error: %s", err)
	}

	err = store.Create(address, register.Policy{Owner: owner.Public})
	if !fault.IsErrExists(err) {
		t.Fatalf("duplicate create: expected exists error, got: %v", err)
	}

	policy, err := store.Policy(address)
	if nil != err {
		t.Fatalf("policy error: %s", err)
	}
	if policy.Owner != owner.Public {
		t.Fatal("policy owner mismatch")
	}

	_, err = store.Policy(testAddress("missing"))
	if !fault.IsErrNotFound(err) {
		t.Fatalf("missing register: expected not found, got: %v", err)
	}
}

func TestApplyPermissions(t *testing.T) {
	owner := newKeypair(t)
	writer := newKeypair(t)
	stranger := newKeypair(t)

	store := register.NewStore(nil)
	address := testAddress("permissions")

	err := store.Create(address, register.Policy{
		Owner: owner.Public,
		Permissions: map[keyshare.PublicKey]register.Permissions{
			writer.Public: {Write: true},
		},
	})
	if nil != err {
		t.Fatalf("create error: %s", err)
	}

	ownerOp := signOp(t, owner, register.Op{Address: address, Payload: []byte("one")})
	if err := store.Apply(ownerOp); nil != err {
		t.Fatalf("owner apply error: %s", err)
	}

	writerOp := signOp(t, writer, register.Op{
		Address: address,
		Parents: []register.OpID{ownerOp.ID()},
		Payload: []byte("two"),
	})
	if err := store.Apply(writerOp); nil != err {
		t.Fatalf("writer apply error: %s", err)
	}

	strangerOp := signOp(t, stranger, register.Op{Address: address, Payload: []byte("no")})
	if err := store.Apply(strangerOp); !fault.IsErrAccess(err) {
		t.Fatalf("stranger apply: expected access error, got: %v", err)
	}

	// the writer permission does not cover policy changes
	err = store.SetPolicy(address, writer.Public, register.Policy{Owner: owner.Public, Version: 1})
	if !fault.IsErrAccess(err) {
		t.Fatalf("writer set policy: expected access error, got: %v", err)
	}
}

func TestApplyIdempotent(t *testing.T) {
	owner := newKeypair(t)
	store := register.NewStore(nil)
	address := testAddress("idempotent")

	if err := store.Create(address, register.Policy{Owner: owner.Public}); nil != err {
		t.Fatalf("create error: %s", err)
	}

	op := signOp(t, owner, register.Op{Address: address, Payload: []byte("entry")})
	for i := 0; i < 3; i += 1 {
		if err := store.Apply(op); nil != err {
			t.Fatalf("apply %d error: %s", i, err)
		}
	}

	tips, err := store.ReadLatest(address)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	if 1 != len(tips) {
		t.Fatalf("expected 1 tip, got: %d", len(tips))
	}
}

func TestOrphanBuffering(t *testing.T) {
	owner := newKeypair(t)
	reported := 0
	store := register.NewStore(func(keyshare.PublicKey) { reported += 1 })
	address := testAddress("orphan")

	if err := store.Create(address, register.Policy{Owner: owner.Public}); nil != err {
		t.Fatalf("create error: %s", err)
	}

	parent := signOp(t, owner, register.Op{Address: address, Payload: []byte("parent")})
	child := signOp(t, owner, register.Op{
		Address: address,
		Parents: []register.OpID{parent.ID()},
		Payload: []byte("child"),
	})

	// child first: buffered, invisible
	if err := store.Apply(child); nil != err {
		t.Fatalf("apply child error: %s", err)
	}
	if 1 != store.OrphanCount() {
		t.Fatalf("expected 1 orphan, got: %d", store.OrphanCount())
	}
	if _, err := store.ReadAt(address, child.ID()); !fault.IsErrNotFound(err) {
		t.Fatalf("buffered op should be invisible, got: %v", err)
	}

	// parent arrival releases the child
	if err := store.Apply(parent); nil != err {
		t.Fatalf("apply parent error: %s", err)
	}
	if 0 != store.OrphanCount() {
		t.Fatalf("expected 0 orphans, got: %d", store.OrphanCount())
	}

	tips, err := store.ReadLatest(address)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	if 1 != len(tips) || !bytes.Equal([]byte("child"), tips[0].Op.Payload) {
		t.Fatalf("expected the child as sole tip, got: %d tips", len(tips))
	}
	if 0 != reported {
		t.Fatalf("no issue expected, got: %d", reported)
	}
}

func TestReadLatestBranches(t *testing.T) {
	owner := newKeypair(t)
	store := register.NewStore(nil)
	address := testAddress("branches")

	if err := store.Create(address, register.Policy{Owner: owner.Public}); nil != err {
		t.Fatalf("create error: %s", err)
	}

	root := signOp(t, owner, register.Op{Address: address, Payload: []byte("root")})
	if err := store.Apply(root); nil != err {
		t.Fatalf("apply root error: %s", err)
	}

	// two concurrent children of the root
	left := signOp(t, owner, register.Op{
		Address: address,
		Parents: []register.OpID{root.ID()},
		Payload: []byte("left"),
	})
	right := signOp(t, owner, register.Op{
		Address: address,
		Parents: []register.OpID{root.ID()},
		Payload: []byte("right"),
	})
	if err := store.Apply(left); nil != err {
		t.Fatalf("apply left error: %s", err)
	}
	if err := store.Apply(right); nil != err {
		t.Fatalf("apply right error: %s", err)
	}

	tips, err := store.ReadLatest(address)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	if 2 != len(tips) {
		t.Fatalf("expected 2 tips, got: %d", len(tips))
	}

	// a merge op referencing both branches collapses the tips
	merge := signOp(t, owner, register.Op{
		Address: address,
		Parents: []register.OpID{left.ID(), right.ID()},
		Payload: []byte("merge"),
	})
	if err := store.Apply(merge); nil != err {
		t.Fatalf("apply merge error: %s", err)
	}

	tips, err = store.ReadLatest(address)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	if 1 != len(tips) || !bytes.Equal([]byte("merge"), tips[0].Op.Payload) {
		t.Fatalf("expected the merge as sole tip, got: %d tips", len(tips))
	}
}

func TestSetPolicyVersion(t *testing.T) {
	owner := newKeypair(t)
	writer := newKeypair(t)
	store := register.NewStore(nil)
	address := testAddress("policy-version")

	if err := store.Create(address, register.Policy{Owner: owner.Public}); nil != err {
		t.Fatalf("create error: %s", err)
	}

	// skipping a version is rejected
	err := store.SetPolicy(address, owner.Public, register.Policy{Owner: owner.Public, Version: 2})
	if !fault.IsErrInvalidSuccessor(err) {
		t.Fatalf("expected invalid successor, got: %v", err)
	}

	err = store.SetPolicy(address, owner.Public, register.Policy{
		Owner: owner.Public,
		Permissions: map[keyshare.PublicKey]register.Permissions{
			writer.Public: {Write: true},
		},
		Version: 1,
	})
	if nil != err {
		t.Fatalf("set policy error: %s", err)
	}

	policy, err := store.Policy(address)
	if nil != err {
		t.Fatalf("policy error: %s", err)
	}
	if 1 != policy.Version {
		t.Fatalf("expected version 1, got: %d", policy.Version)
	}
	if !policy.Permissions[writer.Public].Write {
		t.Fatal("writer permission missing")
	}

	writerOp := signOp(t, writer, register.Op{Address: address, Payload: []byte("ok")})
	if err := store.Apply(writerOp); nil != err {
		t.Fatalf("writer apply error: %s", err)
	}
}

func TestPolicyPackUnpack(t *testing.T) {
	owner := newKeypair(t)
	writer := newKeypair(t)

	policy := register.Policy{
		Owner: owner.Public,
		Permissions: map[keyshare.PublicKey]register.Permissions{
			writer.Public: {Write: true, ModifyPermissions: true},
		},
		Version: 3,
	}

	unpacked, err := register.UnpackPolicy(policy.Pack())
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}
	if unpacked.Owner != policy.Owner || unpacked.Version != policy.Version {
		t.Fatal("policy mismatch after unpack")
	}
	perm := unpacked.Permissions[writer.Public]
	if !perm.Write || !perm.ModifyPermissions {
		t.Fatal("permissions lost in unpack")
	}
}

func TestRestore(t *testing.T) {
	database := filepath.Join(testDirectory, "register-restore")
	if err := storage.Initialise(database); nil != err {
		t.Fatalf("storage initialise error: %s", err)
	}
	defer storage.Finalise()

	owner := newKeypair(t)
	address := testAddress("restore")

	store := register.NewStore(nil)
	if err := store.Create(address, register.Policy{Owner: owner.Public}); nil != err {
		t.Fatalf("create error: %s", err)
	}

	root := signOp(t, owner, register.Op{Address: address, Payload: []byte("root")})
	child := signOp(t, owner, register.Op{
		Address: address,
		Parents: []register.OpID{root.ID()},
		Payload: []byte("child"),
	})
	if err := store.Apply(root); nil != err {
		t.Fatalf("apply root error: %s", err)
	}
	if err := store.Apply(child); nil != err {
		t.Fatalf("apply child error: %s", err)
	}

	// a fresh store sees the persisted log
	restored := register.NewStore(nil)
	if err := restored.Restore(); nil != err {
		t.Fatalf("restore error: %s", err)
	}

	policy, err := restored.Policy(address)
	if nil != err {
		t.Fatalf("policy error: %s", err)
	}
	if policy.Owner != owner.Public {
		t.Fatal("restored policy owner mismatch")
	}

	tips, err := restored.ReadLatest(address)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	if 1 != len(tips) || !bytes.Equal([]byte("child"), tips[0].Op.Payload) {
		t.Fatalf("expected the child as sole tip, got: %d tips", len(tips))
	}
}
