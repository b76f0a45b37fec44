// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyshare

import (
	"encoding/hex"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/bls"

	"github.com/sectionnet/sectiond/fault"
)

// Keypair - a full (non-threshold) BLS keypair
//
// used by wallet owners and for the section reward wallet
type Keypair struct {
	secret kyber.Scalar
	Public PublicKey
}

// NewKeypair - generate a random keypair
func NewKeypair() (*Keypair, error) {
	secret, point := bls.NewKeyPair(Suite, Suite.RandomStream())
	public, err := PublicKeyFromPoint(point)
	if nil != err {
		return nil, err
	}
	return &Keypair{
		secret: secret,
		Public: public,
	}, nil
}

// Sign - BLS signature over message
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	return bls.Sign(Suite, k.secret, message)
}

// MarshalSecret - hex of the secret scalar, for the key files
func (k *Keypair) MarshalSecret() (string, error) {
	buffer, err := k.secret.MarshalBinary()
	if nil != err {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// KeypairFromSecretHex - rebuild a keypair from a stored secret
func KeypairFromSecretHex(secretHex string) (*Keypair, error) {
	buffer, err := hex.DecodeString(secretHex)
	if nil != err {
		return nil, fault.ErrInvalidKeyLength
	}
	secret := Suite.G2().Scalar()
	err = secret.UnmarshalBinary(buffer)
	if nil != err {
		return nil, fault.ErrInvalidKeyLength
	}
	point := Suite.G2().Point().Mul(secret, nil)
	public, err := PublicKeyFromPoint(point)
	if nil != err {
		return nil, err
	}
	return &Keypair{
		secret: secret,
		Public: public,
	}, nil
}
