// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transfer

import (
	"encoding/binary"
	"fmt"

	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
)

// Token - an amount in nano units
type Token uint64

// DebitID - actor key and per-actor counter; globally unique
type DebitID struct {
	Actor   keyshare.PublicKey
	Counter uint64
}

func (id DebitID) String() string {
	return fmt.Sprintf("%s/%d", id.Actor, id.Counter)
}

// Debit - remove Amount from the actor's wallet
type Debit struct {
	ID     DebitID
	Amount Token
	Msg    string
}

// Pack - canonical bytes for signing
func (d Debit) Pack() []byte {
	buffer := make([]byte, 0, keyshare.PublicKeySize+16+len(d.Msg))
	buffer = append(buffer, 'D')
	buffer = append(buffer, d.ID.Actor[:]...)
	buffer = appendUint64(buffer, d.ID.Counter)
	buffer = appendUint64(buffer, uint64(d.Amount))
	buffer = append(buffer, util.ToVarint64(uint64(len(d.Msg)))...)
	buffer = append(buffer, d.Msg...)
	return buffer
}

// SignedDebit - a debit with its actor signature
type SignedDebit struct {
	Debit     Debit
	Signature []byte
}

// Verify - check the actor signature
func (sd SignedDebit) Verify() error {
	return sd.Debit.ID.Actor.Verify(sd.Debit.Pack(), sd.Signature)
}

// Credit - add Amount to the recipient's wallet; shares the id of the
// debit that funds it
type Credit struct {
	ID        DebitID
	Amount    Token
	Recipient keyshare.PublicKey
	Msg       string
}

// Pack - canonical bytes for signing
func (c Credit) Pack() []byte {
	buffer := make([]byte, 0, 2*keyshare.PublicKeySize+16+len(c.Msg))
	buffer = append(buffer, 'C')
	buffer = append(buffer, c.ID.Actor[:]...)
	buffer = appendUint64(buffer, c.ID.Counter)
	buffer = appendUint64(buffer, uint64(c.Amount))
	buffer = append(buffer, c.Recipient[:]...)
	buffer = append(buffer, util.ToVarint64(uint64(len(c.Msg)))...)
	buffer = append(buffer, c.Msg...)
	return buffer
}

// SignedCredit - a credit with its actor signature
type SignedCredit struct {
	Credit    Credit
	Signature []byte
}

// Verify - check the actor signature
func (sc SignedCredit) Verify() error {
	return sc.Credit.ID.Actor.Verify(sc.Credit.Pack(), sc.Signature)
}

// SignedTransfer - the pair a client submits for validation
type SignedTransfer struct {
	Debit  SignedDebit
	Credit SignedCredit
}

// ValidationShares - one replica's signature shares over a validated
// transfer
type ValidationShares struct {
	DebitShare  keyshare.SectionSigShare
	CreditShare keyshare.SectionSigShare
}

// DebitAgreementProof - a debit with threshold agreement from the
// source section
type DebitAgreementProof struct {
	Debit      SignedDebit
	SectionSig keyshare.SectionSig
}

// Verify - actor signature plus section signature over the debit
func (p DebitAgreementProof) Verify() error {
	if err := p.Debit.Verify(); nil != err {
		return err
	}
	return p.SectionSig.Verify(p.Debit.Debit.Pack())
}

// CreditAgreementProof - a credit with threshold agreement from the
// source section; applied by the destination section
type CreditAgreementProof struct {
	Credit     SignedCredit
	SectionSig keyshare.SectionSig
}

// Verify - actor signature plus section signature over the credit
func (p CreditAgreementProof) Verify() error {
	if err := p.Credit.Verify(); nil != err {
		return err
	}
	return p.SectionSig.Verify(p.Credit.Credit.Pack())
}

func appendUint64(buffer []byte, value uint64) []byte {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], value)
	return append(buffer, scratch[:]...)
}
