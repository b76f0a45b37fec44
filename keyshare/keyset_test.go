// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyshare_test

import (
	"testing"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

// five holders, threshold 2 means three shares combine
const (
	testThreshold = 2
	testCount     = 5
)

func makeKeySet(t *testing.T) (keyshare.PublicKeySet, []keyshare.SecretKeyShare) {
	pkSet, secrets, err := keyshare.GenerateKeySet(testThreshold, testCount)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	return pkSet, secrets
}

func TestCombine(t *testing.T) {
	pkSet, secrets := makeKeySet(t)
	payload := []byte("section signed payload")

	sigShares := make([][]byte, 0, testThreshold+1)
	for _, secret := range secrets[:testThreshold+1] {
		sigShare, err := secret.Sign(payload)
		if nil != err {
			t.Fatalf("sign error: %s", err)
		}
		if err := pkSet.VerifyShare(payload, sigShare); nil != err {
			t.Fatalf("share verify error: %s", err)
		}
		sigShares = append(sigShares, sigShare)
	}

	sectionSig, err := pkSet.Combine(payload, sigShares)
	if nil != err {
		t.Fatalf("combine error: %s", err)
	}
	if sectionSig.PublicKey != pkSet.PublicKey() {
		t.Errorf("aggregate key mismatch")
	}
	if err := sectionSig.Verify(payload); nil != err {
		t.Errorf("aggregate verify error: %s", err)
	}
}

func TestCombineTooFewShares(t *testing.T) {
	pkSet, secrets := makeKeySet(t)
	payload := []byte("payload")

	sigShares := make([][]byte, 0, testThreshold)
	for _, secret := range secrets[:testThreshold] {
		sigShare, err := secret.Sign(payload)
		if nil != err {
			t.Fatalf("sign error: %s", err)
		}
		sigShares = append(sigShares, sigShare)
	}

	_, err := pkSet.Combine(payload, sigShares)
	if fault.ErrNotEnoughShares != err {
		t.Errorf("combine error: actual: %v expected: %v", err, fault.ErrNotEnoughShares)
	}
}

func TestVerifyShareWrongPayload(t *testing.T) {
	pkSet, secrets := makeKeySet(t)

	sigShare, err := secrets[0].Sign([]byte("payload one"))
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}
	if err := pkSet.VerifyShare([]byte("payload two"), sigShare); fault.ErrInvalidSignature != err {
		t.Errorf("verify error: actual: %v expected: %v", err, fault.ErrInvalidSignature)
	}
}

// a share relabelled with another holder's index must not verify
func TestVerifyShareIndexMismatch(t *testing.T) {
	pkSet, secrets := makeKeySet(t)
	payload := []byte("payload")

	sigShare, err := secrets[0].Sign(payload)
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}

	good := keyshare.SectionSigShare{
		PublicKeySet: pkSet,
		Index:        secrets[0].Index(),
		Share:        sigShare,
	}
	if err := good.Verify(payload); nil != err {
		t.Fatalf("verify error: %s", err)
	}

	relabelled := good
	relabelled.Index = secrets[1].Index()
	if err := relabelled.Verify(payload); fault.ErrInvalidSignature != err {
		t.Errorf("verify error: actual: %v expected: %v", err, fault.ErrInvalidSignature)
	}

	truncated := good
	truncated.Share = truncated.Share[:1]
	if err := truncated.Verify(payload); fault.ErrInvalidSignature != err {
		t.Errorf("verify error: actual: %v expected: %v", err, fault.ErrInvalidSignature)
	}
}

func TestKeySetMarshal(t *testing.T) {
	pkSet, _ := makeKeySet(t)

	buffer := pkSet.Marshal()
	restored, err := keyshare.UnmarshalPublicKeySet(buffer)
	if nil != err {
		t.Fatalf("unmarshal error: %s", err)
	}
	if restored.PublicKey() != pkSet.PublicKey() {
		t.Errorf("round trip changed the public key")
	}
	if restored.Threshold() != pkSet.Threshold() {
		t.Errorf("round trip changed the threshold")
	}
	if restored.Count() != pkSet.Count() {
		t.Errorf("round trip changed the count")
	}
}

func TestNodeKeypair(t *testing.T) {
	keypair, err := keyshare.NewNodeKeypair(17)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	if 17 != keypair.Name.Age() {
		t.Errorf("age: actual: %d expected: 17", keypair.Name.Age())
	}

	message := []byte("node signed message")
	signature := keypair.Sign(message)
	if err := keyshare.VerifyNodeSig(keypair.PublicKey, message, signature); nil != err {
		t.Errorf("verify error: %s", err)
	}
	if err := keyshare.VerifyNodeSig(keypair.PublicKey, []byte("other"), signature); nil == err {
		t.Errorf("wrong message accepted")
	}
}
