// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transfer

import (
	"encoding/binary"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/util"
)

// the canonical Pack forms of Debit and Credit are self delimiting,
// so the wire forms below just append signatures and cursor through

// UnpackDebit - inverse of Debit.Pack; returns bytes consumed
func UnpackDebit(buffer []byte) (Debit, int, error) {
	if len(buffer) < 1+keyshare.PublicKeySize+16+1 || 'D' != buffer[0] {
		return Debit{}, 0, fault.ErrMessageTooShort
	}
	n := 1
	actor, err := keyshare.PublicKeyFromBytes(buffer[n : n+keyshare.PublicKeySize])
	if nil != err {
		return Debit{}, 0, err
	}
	n += keyshare.PublicKeySize

	counter := binary.BigEndian.Uint64(buffer[n:])
	n += 8
	amount := binary.BigEndian.Uint64(buffer[n:])
	n += 8

	msgLength, used := util.FromVarint64(buffer[n:])
	if 0 == used || uint64(len(buffer[n:])) < uint64(used)+msgLength {
		return Debit{}, 0, fault.ErrMessageTooShort
	}
	n += used
	msg := string(buffer[n : uint64(n)+msgLength])
	n += int(msgLength)

	return Debit{
		ID: DebitID{
			Actor:   actor,
			Counter: counter,
		},
		Amount: Token(amount),
		Msg:    msg,
	}, n, nil
}

// UnpackCredit - inverse of Credit.Pack; returns bytes consumed
func UnpackCredit(buffer []byte) (Credit, int, error) {
	if len(buffer) < 1+2*keyshare.PublicKeySize+16+1 || 'C' != buffer[0] {
		return Credit{}, 0, fault.ErrMessageTooShort
	}
	n := 1
	actor, err := keyshare.PublicKeyFromBytes(buffer[n : n+keyshare.PublicKeySize])
	if nil != err {
		return Credit{}, 0, err
	}
	n += keyshare.PublicKeySize

	counter := binary.BigEndian.Uint64(buffer[n:])
	n += 8
	amount := binary.BigEndian.Uint64(buffer[n:])
	n += 8

	recipient, err := keyshare.PublicKeyFromBytes(buffer[n : n+keyshare.PublicKeySize])
	if nil != err {
		return Credit{}, 0, err
	}
	n += keyshare.PublicKeySize

	msgLength, used := util.FromVarint64(buffer[n:])
	if 0 == used || uint64(len(buffer[n:])) < uint64(used)+msgLength {
		return Credit{}, 0, fault.ErrMessageTooShort
	}
	n += used
	msg := string(buffer[n : uint64(n)+msgLength])
	n += int(msgLength)

	return Credit{
		ID: DebitID{
			Actor:   actor,
			Counter: counter,
		},
		Amount:    Token(amount),
		Recipient: recipient,
		Msg:       msg,
	}, n, nil
}

func appendSignature(buffer []byte, signature []byte) []byte {
	buffer = append(buffer, util.ToVarint64(uint64(len(signature)))...)
	return append(buffer, signature...)
}

func unpackSignature(buffer []byte) ([]byte, int, error) {
	sigLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+sigLength {
		return nil, 0, fault.ErrMessageTooShort
	}
	signature := make([]byte, sigLength)
	copy(signature, buffer[used:uint64(used)+sigLength])
	return signature, used + int(sigLength), nil
}

// Pack - wire form: debit ‖ signature
func (sd SignedDebit) Pack() []byte {
	return appendSignature(sd.Debit.Pack(), sd.Signature)
}

// UnpackSignedDebit - inverse of Pack; returns bytes consumed
func UnpackSignedDebit(buffer []byte) (SignedDebit, int, error) {
	debit, n, err := UnpackDebit(buffer)
	if nil != err {
		return SignedDebit{}, 0, err
	}
	signature, used, err := unpackSignature(buffer[n:])
	if nil != err {
		return SignedDebit{}, 0, err
	}
	return SignedDebit{
		Debit:     debit,
		Signature: signature,
	}, n + used, nil
}

// Pack - wire form: credit ‖ signature
func (sc SignedCredit) Pack() []byte {
	return appendSignature(sc.Credit.Pack(), sc.Signature)
}

// UnpackSignedCredit - inverse of Pack; returns bytes consumed
func UnpackSignedCredit(buffer []byte) (SignedCredit, int, error) {
	credit, n, err := UnpackCredit(buffer)
	if nil != err {
		return SignedCredit{}, 0, err
	}
	signature, used, err := unpackSignature(buffer[n:])
	if nil != err {
		return SignedCredit{}, 0, err
	}
	return SignedCredit{
		Credit:    credit,
		Signature: signature,
	}, n + used, nil
}

// Pack - wire form: signed debit ‖ signed credit
func (st SignedTransfer) Pack() []byte {
	return append(st.Debit.Pack(), st.Credit.Pack()...)
}

// UnpackSignedTransfer - inverse of Pack
func UnpackSignedTransfer(buffer []byte) (SignedTransfer, error) {
	debit, n, err := UnpackSignedDebit(buffer)
	if nil != err {
		return SignedTransfer{}, err
	}
	credit, _, err := UnpackSignedCredit(buffer[n:])
	if nil != err {
		return SignedTransfer{}, err
	}
	return SignedTransfer{
		Debit:  debit,
		Credit: credit,
	}, nil
}

func appendSectionSig(buffer []byte, sig keyshare.SectionSig) []byte {
	buffer = append(buffer, sig.PublicKey[:]...)
	return appendSignature(buffer, sig.Signature)
}

func unpackSectionSig(buffer []byte) (keyshare.SectionSig, int, error) {
	if len(buffer) < keyshare.PublicKeySize+1 {
		return keyshare.SectionSig{}, 0, fault.ErrMessageTooShort
	}
	publicKey, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
	if nil != err {
		return keyshare.SectionSig{}, 0, err
	}
	signature, used, err := unpackSignature(buffer[keyshare.PublicKeySize:])
	if nil != err {
		return keyshare.SectionSig{}, 0, err
	}
	return keyshare.SectionSig{
		PublicKey: publicKey,
		Signature: signature,
	}, keyshare.PublicKeySize + used, nil
}

// Pack - wire form: signed debit ‖ section key ‖ section signature
func (p DebitAgreementProof) Pack() []byte {
	return appendSectionSig(p.Debit.Pack(), p.SectionSig)
}

// UnpackDebitAgreementProof - inverse of Pack; returns bytes consumed
func UnpackDebitAgreementProof(buffer []byte) (DebitAgreementProof, int, error) {
	debit, n, err := UnpackSignedDebit(buffer)
	if nil != err {
		return DebitAgreementProof{}, 0, err
	}
	sig, used, err := unpackSectionSig(buffer[n:])
	if nil != err {
		return DebitAgreementProof{}, 0, err
	}
	return DebitAgreementProof{
		Debit:      debit,
		SectionSig: sig,
	}, n + used, nil
}

// Pack - wire form: signed credit ‖ section key ‖ section signature
func (p CreditAgreementProof) Pack() []byte {
	return appendSectionSig(p.Credit.Pack(), p.SectionSig)
}

// UnpackCreditAgreementProof - inverse of Pack; returns bytes consumed
func UnpackCreditAgreementProof(buffer []byte) (CreditAgreementProof, int, error) {
	credit, n, err := UnpackSignedCredit(buffer)
	if nil != err {
		return CreditAgreementProof{}, 0, err
	}
	sig, used, err := unpackSectionSig(buffer[n:])
	if nil != err {
		return CreditAgreementProof{}, 0, err
	}
	return CreditAgreementProof{
		Credit:     credit,
		SectionSig: sig,
	}, n + used, nil
}

func appendSigShare(buffer []byte, share keyshare.SectionSigShare) []byte {
	keySet := share.PublicKeySet.Marshal()
	buffer = append(buffer, util.ToVarint64(uint64(len(keySet)))...)
	buffer = append(buffer, keySet...)
	buffer = appendUint64(buffer, uint64(share.Index))
	return appendSignature(buffer, share.Share)
}

func unpackSigShare(buffer []byte) (keyshare.SectionSigShare, int, error) {
	keySetLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+keySetLength {
		return keyshare.SectionSigShare{}, 0, fault.ErrMessageTooShort
	}
	n := used
	keySet, err := keyshare.UnmarshalPublicKeySet(buffer[n : uint64(n)+keySetLength])
	if nil != err {
		return keyshare.SectionSigShare{}, 0, err
	}
	n += int(keySetLength)

	if len(buffer[n:]) < 8 {
		return keyshare.SectionSigShare{}, 0, fault.ErrMessageTooShort
	}
	index := binary.BigEndian.Uint64(buffer[n:])
	n += 8

	share, used, err := unpackSignature(buffer[n:])
	if nil != err {
		return keyshare.SectionSigShare{}, 0, err
	}
	return keyshare.SectionSigShare{
		PublicKeySet: keySet,
		Index:        int(index),
		Share:        share,
	}, n + used, nil
}

// Pack - wire form: debit share ‖ credit share
func (v ValidationShares) Pack() []byte {
	buffer := appendSigShare([]byte{}, v.DebitShare)
	return appendSigShare(buffer, v.CreditShare)
}

// UnpackValidationShares - inverse of Pack
func UnpackValidationShares(buffer []byte) (ValidationShares, error) {
	debitShare, n, err := unpackSigShare(buffer)
	if nil != err {
		return ValidationShares{}, err
	}
	creditShare, _, err := unpackSigShare(buffer[n:])
	if nil != err {
		return ValidationShares{}, err
	}
	return ValidationShares{
		DebitShare:  debitShare,
		CreditShare: creditShare,
	}, nil
}

// Pack - fixed size wallet event record
func (e Event) Pack() []byte {
	return packEvent(e.Kind, e.ID, e.Amount)
}

// UnpackEvent - inverse of Event.Pack
func UnpackEvent(record []byte) (Event, error) {
	return unpackEvent(record)
}

// EventRecordSize - length of one packed event
const EventRecordSize = eventRecordSize
