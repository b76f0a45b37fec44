// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transfer - the AT2 transfer replica
//
// each elder runs one replica; a debit only takes effect once a
// threshold of replicas has signed its validation and the aggregate
// proof is registered back, so no single replica can move funds
package transfer

import (
	"bytes"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/sectionchain"
)

// per-wallet replica state
type wallet struct {
	balance        Token
	appliedCounter uint64
	pending        map[uint64]SignedTransfer
	creditsSeen    map[DebitID]struct{}
	eventCount     uint64
}

func (w *wallet) pendingTotal() Token {
	total := Token(0)
	for _, st := range w.pending {
		total += st.Debit.Debit.Amount
	}
	return total
}

// Replica - transfer state for all wallets this section serves
type Replica struct {
	sync.Mutex
	log         *logger.L
	keyShare    keyshare.SectionKeyShare
	chain       *sectionchain.Chain
	wallets     map[keyshare.PublicKey]*wallet
	reportIssue func(actor keyshare.PublicKey)
}

// New - create a replica holding a section key share
//
// reportIssue is called on detected double spend attempts; nil
// disables reporting
func New(keyShare keyshare.SectionKeyShare, chain *sectionchain.Chain, reportIssue func(keyshare.PublicKey)) *Replica {
	return &Replica{
		log:         logger.New("transfer"),
		keyShare:    keyShare,
		chain:       chain,
		wallets:     make(map[keyshare.PublicKey]*wallet),
		reportIssue: reportIssue,
	}
}

// SetKeyShare - install the key share of a new section key after
// elder handover
func (r *Replica) SetKeyShare(keyShare keyshare.SectionKeyShare) {
	r.Lock()
	defer r.Unlock()
	r.keyShare = keyShare
}

// CreateWallet - open a wallet funded by a propagated credit proof
func (r *Replica) CreateWallet(proof CreditAgreementProof) error {
	if err := proof.Verify(); nil != err {
		return err
	}
	if !r.chain.HasKey(proof.SectionSig.PublicKey) {
		return fault.ErrUntrusted
	}

	r.Lock()
	defer r.Unlock()

	owner := proof.Credit.Credit.Recipient
	if _, ok := r.wallets[owner]; ok {
		return fault.ErrWalletExists
	}

	w := newWallet()
	w.balance = proof.Credit.Credit.Amount
	w.creditsSeen[proof.Credit.Credit.ID] = struct{}{}
	r.wallets[owner] = w
	r.appendEvent(owner, w, creditEvent, proof.Credit.Credit.ID, proof.Credit.Credit.Amount)

	r.log.Infof("wallet created: %s balance: %d", owner, w.balance)
	return nil
}

// Balance - current balance of a wallet
func (r *Replica) Balance(owner keyshare.PublicKey) (Token, error) {
	r.Lock()
	defer r.Unlock()

	w, ok := r.wallets[owner]
	if !ok {
		return 0, fault.ErrWalletNotFound
	}
	return w.balance, nil
}

// Validate - check a signed transfer and issue this replica's
// signature shares over both halves
//
// wallet state is only extended by remembering the validated debit as
// pending; funds do not move until the aggregate proof is registered
func (r *Replica) Validate(transfer SignedTransfer) (*ValidationShares, error) {
	debit := transfer.Debit.Debit
	credit := transfer.Credit.Credit

	if debit.ID != credit.ID || debit.Amount != credit.Amount {
		return nil, fault.ErrInvalidSignature
	}
	if err := transfer.Debit.Verify(); nil != err {
		return nil, err
	}
	if err := transfer.Credit.Verify(); nil != err {
		return nil, err
	}
	if 0 == debit.Amount {
		return nil, fault.ErrZeroAmount
	}

	r.Lock()
	defer r.Unlock()

	w, ok := r.wallets[debit.ID.Actor]
	if !ok {
		return nil, fault.ErrWalletNotFound
	}

	// a counter at or below the applied mark, or colliding with a
	// differing pending transfer, is a double spend attempt; the debit
	// alone does not name the recipient so both halves must match
	if existing, ok := w.pending[debit.ID.Counter]; ok {
		if !bytes.Equal(existing.Debit.Debit.Pack(), debit.Pack()) ||
			!bytes.Equal(existing.Credit.Credit.Pack(), credit.Pack()) {
			r.reportDoubleSpend(debit.ID.Actor)
			return nil, fault.DoubleSpendError{
				New:      debit.ID.String(),
				Existing: existing.Debit.Debit.ID.String(),
			}
		}
		// identical re-validation: re-issue shares
		return r.signShares(transfer)
	}
	if debit.ID.Counter <= w.appliedCounter {
		r.reportDoubleSpend(debit.ID.Actor)
		return nil, fault.DoubleSpendError{
			New:      debit.ID.String(),
			Existing: debit.ID.String(),
		}
	}

	expected := w.appliedCounter + 1 + uint64(len(w.pending))
	if debit.ID.Counter != expected {
		return nil, fault.InvalidSuccessorError{
			CurrentVersion: w.appliedCounter + uint64(len(w.pending)),
		}
	}

	available := w.balance - w.pendingTotal()
	if debit.Amount > available {
		return nil, fault.InsufficientBalanceError{
			Have: uint64(available),
			Want: uint64(debit.Amount),
		}
	}

	w.pending[debit.ID.Counter] = transfer
	return r.signShares(transfer)
}

func (r *Replica) signShares(transfer SignedTransfer) (*ValidationShares, error) {
	debitShare, err := r.keyShare.SignShare(transfer.Debit.Debit.Pack())
	if nil != err {
		return nil, err
	}
	creditShare, err := r.keyShare.SignShare(transfer.Credit.Credit.Pack())
	if nil != err {
		return nil, err
	}
	return &ValidationShares{
		DebitShare:  debitShare,
		CreditShare: creditShare,
	}, nil
}

// Register - apply a threshold-agreed debit
//
// idempotent: re-registering an already applied proof is a no-op
func (r *Replica) Register(proof DebitAgreementProof) error {
	if err := proof.Verify(); nil != err {
		return err
	}

	r.Lock()
	defer r.Unlock()

	// the proof must come from our own section's current key
	if proof.SectionSig.PublicKey != r.keyShare.Public.PublicKey() {
		return fault.ErrUntrusted
	}

	debit := proof.Debit.Debit
	w, ok := r.wallets[debit.ID.Actor]
	if !ok {
		return fault.ErrWalletNotFound
	}

	if debit.ID.Counter <= w.appliedCounter {
		// already applied; same proof means idempotent success
		return nil
	}
	if debit.ID.Counter != w.appliedCounter+1 {
		return fault.InvalidSuccessorError{
			CurrentVersion: w.appliedCounter,
		}
	}
	if debit.Amount > w.balance {
		return fault.InsufficientBalanceError{
			Have: uint64(w.balance),
			Want: uint64(debit.Amount),
		}
	}

	w.balance -= debit.Amount
	w.appliedCounter = debit.ID.Counter
	delete(w.pending, debit.ID.Counter)
	r.appendEvent(debit.ID.Actor, w, debitEvent, debit.ID, debit.Amount)

	r.log.Infof("debit applied: %s amount: %d balance: %d", debit.ID, debit.Amount, w.balance)
	return nil
}

// ReceivePropagated - apply a credit agreed by the source section
//
// the signing key may be historical; it is resolved through the
// section chain; idempotent by credit id
func (r *Replica) ReceivePropagated(proof CreditAgreementProof) error {
	if err := proof.Verify(); nil != err {
		return err
	}
	if !r.chain.HasKey(proof.SectionSig.PublicKey) {
		return fault.ErrUntrusted
	}

	r.Lock()
	defer r.Unlock()

	credit := proof.Credit.Credit
	w, ok := r.wallets[credit.Recipient]
	if !ok {
		return fault.ErrWalletNotFound
	}

	if _, seen := w.creditsSeen[credit.ID]; seen {
		return nil
	}
	w.creditsSeen[credit.ID] = struct{}{}
	w.balance += credit.Amount
	r.appendEvent(credit.Recipient, w, creditEvent, credit.ID, credit.Amount)

	r.log.Infof("credit applied: %s amount: %d balance: %d", credit.ID, credit.Amount, w.balance)
	return nil
}

func (r *Replica) reportDoubleSpend(actor keyshare.PublicKey) {
	r.log.Warnf("double spend attempt by: %s", actor)
	if nil != r.reportIssue {
		r.reportIssue(actor)
	}
}

func newWallet() *wallet {
	return &wallet{
		pending:     make(map[uint64]SignedTransfer),
		creditsSeen: make(map[DebitID]struct{}),
	}
}
