// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage_test

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/storage"
)

var testDirectory string
var databaseFileName string

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "storage-test")
	if nil != err {
		panic(err)
	}
	testDirectory = directory
	databaseFileName = filepath.Join(directory, "data")

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

func setup(t *testing.T) {
	err := storage.Initialise(databaseFileName)
	if nil != err {
		t.Fatalf("initialise error: %s", err)
	}
}

func teardown(t *testing.T) {
	storage.Finalise()
}

// main pool test
func TestPool(t *testing.T) {
	setup(t)
	defer teardown(t)

	p := storage.Pool.TestData

	p.Put([]byte("key-one"), []byte("data-one"))
	p.Put([]byte("key-two"), []byte("data-two"))
	p.Put([]byte("key-remove-me"), []byte("to be deleted"))
	p.Delete([]byte("key-remove-me"))
	p.Put([]byte("key-one"), []byte("data-one(NEW)")) // overwrite

	if value := p.Get([]byte("key-one")); !bytes.Equal(value, []byte("data-one(NEW)")) {
		t.Errorf("key-one: actual: %q", value)
	}
	if value := p.Get([]byte("key-remove-me")); nil != value {
		t.Errorf("deleted key still present: %q", value)
	}
	if !p.Has([]byte("key-two")) {
		t.Errorf("key-two missing")
	}
	if p.Has([]byte("key-never-stored")) {
		t.Errorf("phantom key present")
	}

	// last element must be the highest key
	element, found := p.LastElement()
	if !found {
		t.Fatalf("no last element")
	}
	if !bytes.Equal(element.Key, []byte("key-two")) {
		t.Errorf("last element key: actual: %q expected: %q", element.Key, "key-two")
	}
}

// pools with different prefixes must not interfere
func TestPoolIsolation(t *testing.T) {
	setup(t)
	defer teardown(t)

	storage.Pool.RegisterOps.Put([]byte("shared-key"), []byte("ops"))
	storage.Pool.RegisterPolicies.Put([]byte("shared-key"), []byte("policies"))

	if value := storage.Pool.RegisterOps.Get([]byte("shared-key")); !bytes.Equal(value, []byte("ops")) {
		t.Errorf("register ops value: %q", value)
	}
	if value := storage.Pool.RegisterPolicies.Get([]byte("shared-key")); !bytes.Equal(value, []byte("policies")) {
		t.Errorf("register policies value: %q", value)
	}
}

func TestCursor(t *testing.T) {
	setup(t)
	defer teardown(t)

	p := storage.Pool.WalletEvents
	for i := 0; i < 10; i += 1 {
		key := []byte(fmt.Sprintf("event-%02d", i))
		p.Put(key, []byte{byte(i)})
	}

	cursor := p.NewFetchCursor()

	first, err := cursor.Fetch(4)
	if nil != err {
		t.Fatalf("fetch error: %s", err)
	}
	if 4 != len(first) {
		t.Fatalf("fetch count: actual: %d expected: 4", len(first))
	}
	if !bytes.Equal(first[0].Key, []byte("event-00")) {
		t.Errorf("first key: actual: %q", first[0].Key)
	}

	// the cursor advances
	second, err := cursor.Fetch(100)
	if nil != err {
		t.Fatalf("fetch error: %s", err)
	}
	if 6 != len(second) {
		t.Fatalf("fetch count: actual: %d expected: 6", len(second))
	}
	if !bytes.Equal(second[0].Key, []byte("event-04")) {
		t.Errorf("second batch first key: actual: %q", second[0].Key)
	}

	// seek restarts from a chosen key
	seeked, err := cursor.Seek([]byte("event-08")).Fetch(100)
	if nil != err {
		t.Fatalf("fetch error: %s", err)
	}
	if 2 != len(seeked) {
		t.Errorf("seek fetch count: actual: %d expected: 2", len(seeked))
	}
}

// data survives a close and reopen
func TestPersistence(t *testing.T) {
	setup(t)
	storage.Pool.TestData.Put([]byte("durable"), []byte("value"))
	teardown(t)

	setup(t)
	defer teardown(t)
	if value := storage.Pool.TestData.Get([]byte("durable")); !bytes.Equal(value, []byte("value")) {
		t.Errorf("durable value: actual: %q", value)
	}
}
