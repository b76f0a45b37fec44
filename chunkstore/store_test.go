// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chunkstore_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/chunkstore"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/xorname"
)

var testDirectory string

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "chunkstore-test")
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

func newStore(t *testing.T, quota uint64) *chunkstore.Store {
	directory, err := ioutil.TempDir(testDirectory, "store")
	if nil != err {
		t.Fatalf("tempdir error: %s", err)
	}
	store, err := chunkstore.New(directory, quota)
	if nil != err {
		t.Fatalf("new store error: %s", err)
	}
	return store
}

func testOwner(t *testing.T) keyshare.PublicKey {
	pkSet, _, err := keyshare.GenerateKeySet(0, 1)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	return pkSet.PublicKey()
}

func TestPublicRoundTrip(t *testing.T) {
	store := newStore(t, 1<<20)

	chunk := chunkstore.NewPublicChunk([]byte("some public content"))
	if err := store.Put(chunk); nil != err {
		t.Fatalf("put error: %s", err)
	}

	fetched, err := store.Get(chunk.Address, nil)
	if nil != err {
		t.Fatalf("get error: %s", err)
	}
	if !bytes.Equal(chunk.Value, fetched.Value) {
		t.Errorf("value changed in store")
	}

	// double store
	err = store.Put(chunk)
	if fault.ErrDataExists != err {
		t.Errorf("put error: actual: %v expected: %v", err, fault.ErrDataExists)
	}
}

func TestPublicNameInvariant(t *testing.T) {
	store := newStore(t, 1<<20)

	chunk := chunkstore.NewPublicChunk([]byte("content"))
	chunk.Address.Name = xorname.NewName([]byte("different"))

	err := store.Put(chunk)
	if fault.ErrInvalidChunkName != err {
		t.Errorf("put error: actual: %v expected: %v", err, fault.ErrInvalidChunkName)
	}
}

func TestOversizeChunk(t *testing.T) {
	store := newStore(t, 8<<20)

	chunk := chunkstore.NewPublicChunk(make([]byte, chunkstore.MaxChunkSize+1))
	err := store.Put(chunk)
	if fault.ErrChunkTooLarge != err {
		t.Errorf("put error: actual: %v expected: %v", err, fault.ErrChunkTooLarge)
	}
}

func TestQuota(t *testing.T) {
	store := newStore(t, 600)

	first := chunkstore.NewPublicChunk(make([]byte, 400))
	if err := store.Put(first); nil != err {
		t.Fatalf("put error: %s", err)
	}

	second := chunkstore.NewPublicChunk(bytes.Repeat([]byte{1}, 400))
	err := store.Put(second)
	if fault.ErrNotEnoughSpace != err {
		t.Errorf("put error: actual: %v expected: %v", err, fault.ErrNotEnoughSpace)
	}

	// deleting the first frees the space
	if err := store.Delete(first.Address, nil); nil != err {
		t.Fatalf("delete error: %s", err)
	}
	if err := store.Put(second); nil != err {
		t.Errorf("put after delete error: %s", err)
	}
}

func TestPrivateAccess(t *testing.T) {
	store := newStore(t, 1<<20)

	owner := testOwner(t)
	stranger := testOwner(t)

	chunk := chunkstore.NewPrivateChunk(xorname.NewName([]byte("addr")), owner, []byte("secret"))
	if err := store.Put(chunk); nil != err {
		t.Fatalf("put error: %s", err)
	}

	// owner reads
	if _, err := store.Get(chunk.Address, &owner); nil != err {
		t.Errorf("owner get error: %s", err)
	}

	// stranger denied
	_, err := store.Get(chunk.Address, &stranger)
	if fault.ErrAccessDenied != err {
		t.Errorf("get error: actual: %v expected: %v", err, fault.ErrAccessDenied)
	}

	// stranger cannot delete
	err = store.Delete(chunk.Address, &stranger)
	if fault.ErrAccessDenied != err {
		t.Errorf("delete error: actual: %v expected: %v", err, fault.ErrAccessDenied)
	}

	// owner deletes
	if err := store.Delete(chunk.Address, &owner); nil != err {
		t.Errorf("owner delete error: %s", err)
	}
}

func TestKeysAndReopen(t *testing.T) {
	directory, err := ioutil.TempDir(testDirectory, "store")
	if nil != err {
		t.Fatalf("tempdir error: %s", err)
	}
	store, err := chunkstore.New(directory, 1<<20)
	if nil != err {
		t.Fatalf("new store error: %s", err)
	}

	chunks := []chunkstore.Chunk{
		chunkstore.NewPublicChunk([]byte("chunk one")),
		chunkstore.NewPublicChunk([]byte("chunk two")),
	}
	for _, chunk := range chunks {
		if err := store.Put(chunk); nil != err {
			t.Fatalf("put error: %s", err)
		}
	}

	keys, err := store.Keys()
	if nil != err {
		t.Fatalf("keys error: %s", err)
	}
	if 2 != len(keys) {
		t.Errorf("keys: actual: %d expected: 2", len(keys))
	}

	// reopening recovers the used space accounting
	used := store.UsedSpace()
	reopened, err := chunkstore.New(directory, 1<<20)
	if nil != err {
		t.Fatalf("reopen error: %s", err)
	}
	if reopened.UsedSpace() != used {
		t.Errorf("used space: actual: %d expected: %d", reopened.UsedSpace(), used)
	}
}

func TestAddressFilenameRoundTrip(t *testing.T) {
	address := chunkstore.Address{
		Name: xorname.NewName([]byte("round trip")),
		Kind: chunkstore.Private,
	}
	restored, err := chunkstore.AddressFromFilename(address.Filename())
	if nil != err {
		t.Fatalf("decode error: %s", err)
	}
	if restored != address {
		t.Errorf("round trip: actual: %v expected: %v", restored, address)
	}
}
