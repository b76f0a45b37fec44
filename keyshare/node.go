// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyshare

import (
	"crypto/rand"

	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/xorname"
)

// NodeKeypair - the Ed25519 identity of a single node
//
// the node name is the digest of the public key with the trailing
// byte forced to the node's age
type NodeKeypair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	Name       xorname.Name
}

// NewNodeKeypair - generate a fresh identity at a given age
func NewNodeKeypair(age uint8) (*NodeKeypair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if nil != err {
		return nil, err
	}
	return &NodeKeypair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Name:       NodeName(publicKey, age),
	}, nil
}

// NodeName - derive the network name of a node key at an age
func NodeName(publicKey ed25519.PublicKey, age uint8) xorname.Name {
	name := xorname.Name(sha3.Sum256(publicKey))
	return name.WithAge(age)
}

// Sign - Ed25519 signature over message
func (k *NodeKeypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.PrivateKey, message)
}

// VerifyNodeSig - check an Ed25519 node signature
func VerifyNodeSig(publicKey ed25519.PublicKey, message []byte, signature []byte) error {
	if ed25519.PublicKeySize != len(publicKey) {
		return fault.ErrInvalidKeyLength
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return fault.ErrInvalidSignature
	}
	return nil
}
