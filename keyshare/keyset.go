// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyshare

import (
	"encoding/binary"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
)

// PublicKeySet - the public side of a threshold key: the polynomial
// commitments plus the participant count
//
// combining needs Threshold()+1 distinct signature shares
type PublicKeySet struct {
	commits []kyber.Point
	count   int
}

// NewPublicKeySet - build a key set from commitments
func NewPublicKeySet(commits []kyber.Point, count int) PublicKeySet {
	return PublicKeySet{
		commits: commits,
		count:   count,
	}
}

// poly - reconstruct the kyber public polynomial
func (ks PublicKeySet) poly() *share.PubPoly {
	return share.NewPubPoly(Suite.G2(), Suite.G2().Point().Base(), ks.commits)
}

// PublicKey - the aggregate public key of the set
func (ks PublicKeySet) PublicKey() PublicKey {
	pk, err := PublicKeyFromPoint(ks.poly().Commit())
	if nil != err {
		// commitments were already validated at construction
		panic("keyshare: unmarshalable commit point")
	}
	return pk
}

// Threshold - t such that t+1 shares are needed to combine
func (ks PublicKeySet) Threshold() int {
	return len(ks.commits) - 1
}

// Count - number of share holders
func (ks PublicKeySet) Count() int {
	return ks.count
}

// Hash - digest of the marshalled set, for keying aggregation buckets
func (ks PublicKeySet) Hash() [32]byte {
	return sha3.Sum256(ks.Marshal())
}

// VerifyShare - check one signature share over message
func (ks PublicKeySet) VerifyShare(message []byte, sigShare []byte) error {
	err := tbls.Verify(Suite, ks.poly(), message, sigShare)
	if nil != err {
		return fault.ErrInvalidSignature
	}
	return nil
}

// Combine - recover the aggregate signature from at least
// Threshold()+1 verified shares
func (ks PublicKeySet) Combine(message []byte, sigShares [][]byte) (SectionSig, error) {
	if len(sigShares) < ks.Threshold()+1 {
		return SectionSig{}, fault.ErrNotEnoughShares
	}
	signature, err := tbls.Recover(Suite, ks.poly(), message, sigShares, ks.Threshold()+1, ks.count)
	if nil != err {
		return SectionSig{}, fault.ErrInvalidSignature
	}
	return SectionSig{
		PublicKey: ks.PublicKey(),
		Signature: signature,
	}, nil
}

// Marshal - count ‖ commit count ‖ commit points
func (ks PublicKeySet) Marshal() []byte {
	buffer := make([]byte, 4, 4+len(ks.commits)*PublicKeySize)
	binary.BigEndian.PutUint16(buffer[0:], uint16(ks.count))
	binary.BigEndian.PutUint16(buffer[2:], uint16(len(ks.commits)))
	for _, c := range ks.commits {
		b, err := c.MarshalBinary()
		if nil != err {
			panic("keyshare: unmarshalable commit point")
		}
		buffer = append(buffer, b...)
	}
	return buffer
}

// UnmarshalPublicKeySet - inverse of Marshal
func UnmarshalPublicKeySet(buffer []byte) (PublicKeySet, error) {
	if len(buffer) < 4 {
		return PublicKeySet{}, fault.ErrMessageTooShort
	}
	count := int(binary.BigEndian.Uint16(buffer[0:]))
	commitCount := int(binary.BigEndian.Uint16(buffer[2:]))
	buffer = buffer[4:]
	if len(buffer) != commitCount*PublicKeySize {
		return PublicKeySet{}, fault.ErrInvalidKeyLength
	}
	commits := make([]kyber.Point, commitCount)
	for i := 0; i < commitCount; i += 1 {
		p := Suite.G2().Point()
		err := p.UnmarshalBinary(buffer[i*PublicKeySize : (i+1)*PublicKeySize])
		if nil != err {
			return PublicKeySet{}, fault.ErrInvalidKeyLength
		}
		commits[i] = p
	}
	return NewPublicKeySet(commits, count), nil
}

// SecretKeyShare - one participant's share of the section secret key
type SecretKeyShare struct {
	share *share.PriShare
}

// NewSecretKeyShare - wrap a kyber private share
func NewSecretKeyShare(s *share.PriShare) SecretKeyShare {
	return SecretKeyShare{share: s}
}

// Index - the share index within the key set
func (s SecretKeyShare) Index() int {
	return s.share.I
}

// Sign - produce a signature share over message
func (s SecretKeyShare) Sign(message []byte) ([]byte, error) {
	return tbls.Sign(Suite, s.share, message)
}

// SectionKeyShare - a secret share bound to its public key set, the
// product of a completed key generation
type SectionKeyShare struct {
	Public PublicKeySet
	Secret SecretKeyShare
}

// SignShare - sign message and wrap the result for aggregation
func (sk SectionKeyShare) SignShare(message []byte) (SectionSigShare, error) {
	sigShare, err := sk.Secret.Sign(message)
	if nil != err {
		return SectionSigShare{}, err
	}
	return SectionSigShare{
		PublicKeySet: sk.Public,
		Index:        sk.Secret.Index(),
		Share:        sigShare,
	}, nil
}

// SectionSigShare - one elder's contribution towards a SectionSig
type SectionSigShare struct {
	PublicKeySet PublicKeySet
	Index        int
	Share        []byte
}

// Verify - check the share over a payload
//
// the tbls share bytes carry their own index; it must match the
// claimed Index or one holder could fill several aggregation slots
func (s SectionSigShare) Verify(payload []byte) error {
	if len(s.Share) < 2 {
		return fault.ErrInvalidSignature
	}
	if int(binary.BigEndian.Uint16(s.Share[:2])) != s.Index {
		return fault.ErrInvalidSignature
	}
	return s.PublicKeySet.VerifyShare(payload, s.Share)
}

// GenerateKeySet - create a fresh random key set with its shares
//
// used at network genesis and by tests; normal key sets come from the
// distributed key generation
func GenerateKeySet(threshold int, count int) (PublicKeySet, []SecretKeyShare, error) {
	if threshold+1 > count || count <= 0 {
		return PublicKeySet{}, nil, fault.ErrInvalidCount
	}
	priPoly := share.NewPriPoly(Suite.G2(), threshold+1, nil, Suite.RandomStream())
	pubPoly := priPoly.Commit(Suite.G2().Point().Base())
	_, commits := pubPoly.Info()

	priShares := priPoly.Shares(count)
	secrets := make([]SecretKeyShare, count)
	for i, s := range priShares {
		secrets[i] = NewSecretKeyShare(s)
	}
	return NewPublicKeySet(commits, count), secrets, nil
}
