// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package economy_test

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"
	"golang.org/x/time/rate"

	"github.com/sectionnet/sectiond/economy"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/transfer"
	"github.com/sectionnet/sectiond/xorname"
)

const (
	testThreshold = 2
	testCount     = 5
)

func TestMain(m *testing.M) {
	directory, err := ioutil.TempDir("", "economy-test")
	if nil != err {
		panic(err)
	}

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

func TestStoreCostFloor(t *testing.T) {
	// a busy network with plenty farmed: cost stays at the floor
	cost := economy.StoreCost(economy.SectionState{
		PrefixLen:     4,
		Elders:        7,
		Adults:        20,
		RewardBalance: economy.MaxSupply / 16, // fully unfarmed share
	})
	if 1 != cost {
		t.Errorf("cost: actual: %d expected: 1", cost)
	}
}

func TestStoreCostRisesAsFarmed(t *testing.T) {
	state := economy.SectionState{
		PrefixLen: 8,
		Elders:    7,
		Adults:    20,
	}

	state.RewardBalance = economy.MaxSupply / 256 // nothing farmed yet
	unfarmed := economy.StoreCost(state)

	state.RewardBalance = economy.MaxSupply / 256 / 100 // 99% farmed
	farmed := economy.StoreCost(state)

	if farmed <= unfarmed {
		t.Errorf("cost must rise as the unfarmed share drains: %d <= %d", farmed, unfarmed)
	}
}

func TestStoreCostEmptySection(t *testing.T) {
	// no nodes and no balance must still quote something payable
	cost := economy.StoreCost(economy.SectionState{})
	if cost < 1 || cost > economy.MaxSupply {
		t.Errorf("cost out of range: %d", cost)
	}
}

func TestRateLimiter(t *testing.T) {
	gateway := economy.NewGatewayWithRate(rate.Limit(1), 3)
	client := xorname.NewName([]byte("rate limited client"))

	for i := 0; i < 3; i += 1 {
		if err := gateway.Allow(client); nil != err {
			t.Fatalf("request %d: %s", i, err)
		}
	}
	if err := gateway.Allow(client); fault.ErrRateLimiting != err {
		t.Fatalf("expected rate limiting, got: %v", err)
	}

	// an unrelated client has its own bucket
	other := xorname.NewName([]byte("another client"))
	if err := gateway.Allow(other); nil != err {
		t.Fatalf("other client limited: %s", err)
	}
}

// a section key and a signed payment over it
type paymentFixture struct {
	pkSet        keyshare.PublicKeySet
	secrets      []keyshare.SecretKeyShare
	client       *keyshare.Keypair
	rewardWallet keyshare.PublicKey
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	pkSet, secrets, err := keyshare.GenerateKeySet(testThreshold, testCount)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	client, err := keyshare.NewKeypair()
	if nil != err {
		t.Fatalf("keypair error: %s", err)
	}
	reward, err := keyshare.NewKeypair()
	if nil != err {
		t.Fatalf("keypair error: %s", err)
	}
	return &paymentFixture{
		pkSet:        pkSet,
		secrets:      secrets,
		client:       client,
		rewardWallet: reward.Public,
	}
}

func (f *paymentFixture) aggregate(t *testing.T, payload []byte) keyshare.SectionSig {
	t.Helper()
	shares := make([][]byte, 0, testThreshold+1)
	for _, secret := range f.secrets[:testThreshold+1] {
		share, err := secret.Sign(payload)
		if nil != err {
			t.Fatalf("sign error: %s", err)
		}
		shares = append(shares, share)
	}
	sig, err := f.pkSet.Combine(payload, shares)
	if nil != err {
		t.Fatalf("combine error: %s", err)
	}
	return sig
}

func (f *paymentFixture) payment(t *testing.T, amount transfer.Token, recipient keyshare.PublicKey) economy.Payment {
	t.Helper()
	id := transfer.DebitID{Actor: f.client.Public, Counter: 1}
	debit := transfer.Debit{ID: id, Amount: amount, Msg: "store"}
	credit := transfer.Credit{ID: id, Amount: amount, Recipient: recipient, Msg: "store"}

	debitSig, err := f.client.Sign(debit.Pack())
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}
	creditSig, err := f.client.Sign(credit.Pack())
	if nil != err {
		t.Fatalf("sign error: %s", err)
	}

	return economy.Payment{
		Debit: transfer.DebitAgreementProof{
			Debit:      transfer.SignedDebit{Debit: debit, Signature: debitSig},
			SectionSig: f.aggregate(t, debit.Pack()),
		},
		Credit: transfer.CreditAgreementProof{
			Credit:     transfer.SignedCredit{Credit: credit, Signature: creditSig},
			SectionSig: f.aggregate(t, credit.Pack()),
		},
	}
}

func TestValidatePayment(t *testing.T) {
	f := newPaymentFixture(t)
	gateway := economy.NewGateway()
	sectionKey := f.pkSet.PublicKey()

	payment := f.payment(t, 500, f.rewardWallet)
	err := gateway.ValidatePayment(payment, sectionKey, f.rewardWallet, 500)
	if nil != err {
		t.Fatalf("validate error: %s", err)
	}
}

func TestValidatePaymentFeeTooLow(t *testing.T) {
	f := newPaymentFixture(t)
	gateway := economy.NewGateway()
	sectionKey := f.pkSet.PublicKey()

	payment := f.payment(t, 100, f.rewardWallet)
	err := gateway.ValidatePayment(payment, sectionKey, f.rewardWallet, 250)
	fee, ok := err.(fault.FeeTooLowError)
	if !ok {
		t.Fatalf("expected fee too low, got: %v", err)
	}
	if 100 != fee.Paid || 250 != fee.Required {
		t.Errorf("fee: paid: %d required: %d", fee.Paid, fee.Required)
	}
}

func TestValidatePaymentWrongRecipient(t *testing.T) {
	f := newPaymentFixture(t)
	gateway := economy.NewGateway()
	sectionKey := f.pkSet.PublicKey()

	// paying some other wallet than the section reward wallet
	stranger, _ := keyshare.NewKeypair()
	payment := f.payment(t, 500, stranger.Public)
	err := gateway.ValidatePayment(payment, sectionKey, f.rewardWallet, 500)
	if fault.ErrPaymentRequired != err {
		t.Fatalf("expected payment required, got: %v", err)
	}
}

func TestValidatePaymentForeignSection(t *testing.T) {
	f := newPaymentFixture(t)
	gateway := economy.NewGateway()

	// proof signed by a key set that is not ours
	foreign, _, err := keyshare.GenerateKeySet(testThreshold, testCount)
	if nil != err {
		t.Fatalf("generate error: %s", err)
	}
	payment := f.payment(t, 500, f.rewardWallet)
	err = gateway.ValidatePayment(payment, foreign.PublicKey(), f.rewardWallet, 500)
	if fault.ErrUntrusted != err {
		t.Fatalf("expected untrusted, got: %v", err)
	}
}
