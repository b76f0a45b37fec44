// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"io/ioutil"
	"os"
	"strings"

	"golang.org/x/crypto/ed25519"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

// key files hold one tagged hex line, matching the transport key
// files so an operator can inspect them the same way
const (
	taggedPublic  = "PUBLIC:"
	taggedPrivate = "PRIVATE:"
)

// loadNodeIdentity - read the Ed25519 node identity, generating and
// saving a fresh one when neither file exists yet
func loadNodeIdentity(publicFile string, privateFile string, age uint8) (*keyshare.NodeKeypair, error) {
	havePublic := fileExists(publicFile)
	havePrivate := fileExists(privateFile)

	if !havePublic && !havePrivate {
		node, err := keyshare.NewNodeKeypair(age)
		if nil != err {
			return nil, err
		}
		err = writeKeyFile(publicFile, taggedPublic, node.PublicKey, 0666)
		if nil != err {
			return nil, err
		}
		err = writeKeyFile(privateFile, taggedPrivate, node.PrivateKey, 0600)
		if nil != err {
			os.Remove(publicFile)
			return nil, err
		}
		return node, nil
	}

	publicKey, err := readKeyFile(publicFile, taggedPublic, ed25519.PublicKeySize)
	if nil != err {
		return nil, fault.ErrInvalidPublicKeyFile
	}
	privateKey, err := readKeyFile(privateFile, taggedPrivate, ed25519.PrivateKeySize)
	if nil != err {
		return nil, fault.ErrInvalidPrivateKeyFile
	}
	derived := ed25519.PrivateKey(privateKey).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, publicKey) {
		return nil, fault.ErrInvalidPublicKeyFile
	}

	return &keyshare.NodeKeypair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Name:       keyshare.NodeName(publicKey, age),
	}, nil
}

// loadRewardKeypair - read the section reward wallet keypair,
// generating and saving a fresh one when neither file exists yet
//
// the private file holds the hex of the BLS secret scalar; the
// public file holds the hex of the 128 byte public key
func loadRewardKeypair(publicFile string, privateFile string) (*keyshare.Keypair, error) {
	havePublic := fileExists(publicFile)
	havePrivate := fileExists(privateFile)

	if !havePublic && !havePrivate {
		keypair, err := keyshare.NewKeypair()
		if nil != err {
			return nil, err
		}
		secretHex, err := keypair.MarshalSecret()
		if nil != err {
			return nil, err
		}
		err = writeKeyFile(publicFile, taggedPublic, keypair.Public[:], 0666)
		if nil != err {
			return nil, err
		}
		data := taggedPrivate + secretHex + "\n"
		err = ioutil.WriteFile(privateFile, []byte(data), 0600)
		if nil != err {
			os.Remove(publicFile)
			return nil, err
		}
		return keypair, nil
	}

	data, err := ioutil.ReadFile(privateFile)
	if nil != err {
		return nil, fault.ErrInvalidPrivateKeyFile
	}
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, taggedPrivate) {
		return nil, fault.ErrInvalidPrivateKeyFile
	}
	keypair, err := keyshare.KeypairFromSecretHex(s[len(taggedPrivate):])
	if nil != err {
		return nil, err
	}

	publicKey, err := readKeyFile(publicFile, taggedPublic, keyshare.PublicKeySize)
	if nil != err {
		return nil, fault.ErrInvalidPublicKeyFile
	}
	if !bytes.Equal(publicKey, keypair.Public[:]) {
		return nil, fault.ErrInvalidPublicKeyFile
	}

	return keypair, nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return nil == err
}

func writeKeyFile(name string, tag string, key []byte, mode os.FileMode) error {
	data := tag + hex.EncodeToString(key) + "\n"
	return ioutil.WriteFile(name, []byte(data), mode)
}

func readKeyFile(name string, tag string, size int) ([]byte, error) {
	data, err := ioutil.ReadFile(name)
	if nil != err {
		return nil, err
	}
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, tag) {
		return nil, fault.ErrInvalidPublicKeyFile
	}
	key, err := hex.DecodeString(s[len(tag):])
	if nil != err || size != len(key) {
		return nil, fault.ErrInvalidPublicKeyFile
	}
	return key, nil
}
