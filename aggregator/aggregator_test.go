// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package aggregator_test

import (
	"testing"

	"github.com/sectionnet/sectiond/aggregator"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

const (
	testThreshold = 4
	testCount     = 7
)

func makeShares(t *testing.T, payload []byte) (keyshare.PublicKeySet, []keyshare.SectionSigShare) {
	pkSet, secrets, err := keyshare.GenerateKeySet(testThreshold, testCount)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	shares := make([]keyshare.SectionSigShare, len(secrets))
	for i, secret := range secrets {
		sigShare, err := secret.Sign(payload)
		if nil != err {
			t.Fatalf("sign error: %s", err)
		}
		shares[i] = keyshare.SectionSigShare{
			PublicKeySet: pkSet,
			Index:        secret.Index(),
			Share:        sigShare,
		}
	}
	return pkSet, shares
}

func TestAggregate(t *testing.T) {
	payload := []byte("payload under agreement")
	pkSet, shares := makeShares(t, payload)

	a := aggregator.New()

	// threshold shares: not yet enough
	for i := 0; i < testThreshold; i += 1 {
		sig, err := a.Add(payload, shares[i])
		if nil != err {
			t.Fatalf("%d: add error: %s", i, err)
		}
		if nil != sig {
			t.Fatalf("%d: aggregate produced too early", i)
		}
	}

	// threshold+1'th share completes the bucket
	sig, err := a.Add(payload, shares[testThreshold])
	if nil != err {
		t.Fatalf("add error: %s", err)
	}
	if nil == sig {
		t.Fatalf("no aggregate at threshold+1")
	}
	if sig.PublicKey != pkSet.PublicKey() {
		t.Errorf("aggregate key mismatch")
	}
	if err := sig.Verify(payload); nil != err {
		t.Errorf("aggregate verify error: %s", err)
	}
	if 0 != a.Pending() {
		t.Errorf("bucket not removed after combine")
	}
}

func TestDuplicateIndex(t *testing.T) {
	payload := []byte("payload")
	_, shares := makeShares(t, payload)

	a := aggregator.New()
	if _, err := a.Add(payload, shares[0]); nil != err {
		t.Fatalf("add error: %s", err)
	}
	_, err := a.Add(payload, shares[0])
	if fault.ErrShareAlreadyPresent != err {
		t.Errorf("add error: actual: %v expected: %v", err, fault.ErrShareAlreadyPresent)
	}
}

func TestBadShare(t *testing.T) {
	payload := []byte("payload")
	_, shares := makeShares(t, payload)

	a := aggregator.New()

	// share signed over a different payload
	_, err := a.Add([]byte("other payload"), shares[0])
	if fault.ErrInvalidSignature != err {
		t.Errorf("add error: actual: %v expected: %v", err, fault.ErrInvalidSignature)
	}
}

// shares over distinct payloads accumulate in distinct buckets
func TestSeparateBuckets(t *testing.T) {
	payloadOne := []byte("payload one")
	payloadTwo := []byte("payload two")
	_, sharesOne := makeShares(t, payloadOne)
	_, sharesTwo := makeShares(t, payloadTwo)

	a := aggregator.New()
	if _, err := a.Add(payloadOne, sharesOne[0]); nil != err {
		t.Fatalf("add error: %s", err)
	}
	if _, err := a.Add(payloadTwo, sharesTwo[0]); nil != err {
		t.Fatalf("add error: %s", err)
	}
	if 2 != a.Pending() {
		t.Errorf("buckets: actual: %d expected: 2", a.Pending())
	}
}
