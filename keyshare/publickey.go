// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyshare

import (
	"bytes"
	"encoding/hex"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"

	"github.com/sectionnet/sectiond/fault"
)

// Suite - the pairing suite used for all section keys
//
// read-only after package initialisation
var Suite = bn256.NewSuite()

// PublicKeySize - marshalled size of a BLS public key (G2 point)
const PublicKeySize = 128

// PublicKey - marshalled BLS public key
type PublicKey [PublicKeySize]byte

// PublicKeyFromPoint - marshal a group point into a public key
func PublicKeyFromPoint(p kyber.Point) (PublicKey, error) {
	var pk PublicKey
	buffer, err := p.MarshalBinary()
	if nil != err {
		return pk, err
	}
	if PublicKeySize != len(buffer) {
		return pk, fault.ErrInvalidKeyLength
	}
	copy(pk[:], buffer)
	return pk, nil
}

// PublicKeyFromBytes - build a public key from a marshalled slice
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if PublicKeySize != len(b) {
		return pk, fault.ErrInvalidKeyLength
	}
	copy(pk[:], b)
	return pk, nil
}

// Point - unmarshal back into a group point
func (pk PublicKey) Point() (kyber.Point, error) {
	p := Suite.G2().Point()
	err := p.UnmarshalBinary(pk[:])
	if nil != err {
		return nil, fault.ErrInvalidSignature
	}
	return p, nil
}

// Verify - check a plain BLS signature over message
func (pk PublicKey) Verify(message []byte, signature []byte) error {
	point, err := pk.Point()
	if nil != err {
		return err
	}
	err = bls.Verify(Suite, point, message, signature)
	if nil != err {
		return fault.ErrInvalidSignature
	}
	return nil
}

// IsZero - true for the all-zero placeholder key
func (pk PublicKey) IsZero() bool {
	var zero PublicKey
	return bytes.Equal(pk[:], zero[:])
}

// String - abbreviated hex for logging
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:8]) + "…"
}

// SectionSig - an aggregate section signature together with the key
// that produced it
type SectionSig struct {
	PublicKey PublicKey
	Signature []byte
}

// Verify - check the aggregate signature over a payload
func (s SectionSig) Verify(payload []byte) error {
	return s.PublicKey.Verify(payload, s.Signature)
}
