// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package comms

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/wire"
	"github.com/sectionnet/sectiond/xorname"
)

var testDirectory string

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "comms-test")
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

func TestMakeKeyPair(t *testing.T) {
	publicFile := filepath.Join(testDirectory, "transport.public")
	privateFile := filepath.Join(testDirectory, "transport.private")

	err := MakeKeyPair(publicFile, privateFile)
	if nil != err {
		t.Fatalf("make key pair error: %s", err)
	}
	defer os.Remove(publicFile)
	defer os.Remove(privateFile)

	// a second create must not overwrite
	if fault.ErrKeyFileAlreadyExists != MakeKeyPair(publicFile, privateFile) {
		t.Error("overwrote existing key files")
	}

	publicText, err := ioutil.ReadFile(publicFile)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	privateText, err := ioutil.ReadFile(privateFile)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}

	publicKey, err := ReadPublicKey(string(publicText))
	if nil != err {
		t.Fatalf("public key error: %s", err)
	}
	if publicLength != len(publicKey) {
		t.Errorf("public key length: actual: %d expected: %d", len(publicKey), publicLength)
	}

	privateKey, err := ReadPrivateKey(string(privateText))
	if nil != err {
		t.Fatalf("private key error: %s", err)
	}
	if privateLength != len(privateKey) {
		t.Errorf("private key length: actual: %d expected: %d", len(privateKey), privateLength)
	}

	// tags must not be interchangeable
	if _, err := ReadPublicKey(string(privateText)); fault.ErrInvalidPublicKeyFile != err {
		t.Errorf("private text as public key: %v", err)
	}
	if _, err := ReadPrivateKey(string(publicText)); fault.ErrInvalidPrivateKeyFile != err {
		t.Errorf("public text as private key: %v", err)
	}
}

func TestCanonicalAddress(t *testing.T) {
	testData := []struct {
		in  string
		out string
		v6  bool
		ok  bool
	}{
		{"127.0.0.1:2130", "tcp://127.0.0.1:2130", false, true},
		{"*:2130", "tcp://*:2130", false, true},
		{"[::1]:2130", "tcp://[::1]:2130", true, true},
		{"[2404:6800::3]:2136", "tcp://[2404:6800::3]:2136", true, true},
		{"no-port", "", false, false},
		{"name.example.com:2130", "", false, false},
	}

	for i, item := range testData {
		address, v6, err := canonicalAddress(item.in)
		if item.ok && nil != err {
			t.Errorf("%d: %q error: %s", i, item.in, err)
			continue
		}
		if !item.ok {
			if nil == err {
				t.Errorf("%d: %q unexpectedly accepted", i, item.in)
			}
			continue
		}
		if item.out != address {
			t.Errorf("%d: address: actual: %q expected: %q", i, address, item.out)
		}
		if item.v6 != v6 {
			t.Errorf("%d: v6: actual: %v expected: %v", i, v6, item.v6)
		}
	}
}

func TestUnpackReply(t *testing.T) {
	// acknowledgement
	reply, err := unpackReply([][]byte{[]byte("A")})
	if nil != err || nil != reply {
		t.Errorf("ack: %v %v", reply, err)
	}

	// error frame
	_, err = unpackReply([][]byte{[]byte("E"), []byte("chunk not found")})
	if nil == err {
		t.Fatal("error frame accepted as success")
	}
	if "chunk not found" != err.Error() {
		t.Errorf("error text: %q", err.Error())
	}

	// envelope frame
	id, err := wire.NewMsgID()
	if nil != err {
		t.Fatalf("msg id error: %s", err)
	}
	envelope := &wire.Envelope{
		ID:      id,
		Kind:    wire.KindDataResponse,
		Auth:    wire.DataResponseAuth{Name: xorname.NewName([]byte("adult"))},
		Payload: []byte("data"),
	}
	packed, err := envelope.Pack()
	if nil != err {
		t.Fatalf("pack error: %s", err)
	}
	reply, err = unpackReply([][]byte{[]byte("R"), packed})
	if nil != err {
		t.Fatalf("unpack error: %s", err)
	}
	if !bytes.Equal([]byte("data"), reply.Payload) {
		t.Error("payload mismatch")
	}

	// unknown tag
	if _, err = unpackReply([][]byte{[]byte("X")}); fault.ErrInvalidPeerResponse != err {
		t.Errorf("unknown tag error: %v", err)
	}
}
