// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transfer

import (
	"encoding/binary"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/storage"
)

// event kinds in the wallet log
const (
	creditEvent = byte('C')
	debitEvent  = byte('D')
)

// Event - one applied credit or debit
type Event struct {
	Kind   byte
	ID     DebitID
	Amount Token
}

// record: kind ‖ id actor ‖ id counter ‖ amount
const eventRecordSize = 1 + keyshare.PublicKeySize + 8 + 8

func packEvent(kind byte, id DebitID, amount Token) []byte {
	buffer := make([]byte, 0, eventRecordSize)
	buffer = append(buffer, kind)
	buffer = append(buffer, id.Actor[:]...)
	buffer = appendUint64(buffer, id.Counter)
	buffer = appendUint64(buffer, uint64(amount))
	return buffer
}

func unpackEvent(record []byte) (Event, error) {
	if eventRecordSize != len(record) {
		return Event{}, fault.ErrMessageTooShort
	}
	actor, err := keyshare.PublicKeyFromBytes(record[1 : 1+keyshare.PublicKeySize])
	if nil != err {
		return Event{}, err
	}
	return Event{
		Kind: record[0],
		ID: DebitID{
			Actor:   actor,
			Counter: binary.BigEndian.Uint64(record[1+keyshare.PublicKeySize:]),
		},
		Amount: Token(binary.BigEndian.Uint64(record[1+keyshare.PublicKeySize+8:])),
	}, nil
}

// key: owner ‖ sequence number
func eventKey(owner keyshare.PublicKey, sequence uint64) []byte {
	key := make([]byte, 0, keyshare.PublicKeySize+8)
	key = append(key, owner[:]...)
	return appendUint64(key, sequence)
}

// append one event to the wallet log; caller holds the replica lock
func (r *Replica) appendEvent(owner keyshare.PublicKey, w *wallet, kind byte, id DebitID, amount Token) {
	if nil == storage.Pool.WalletEvents {
		// storage not initialised: in-memory operation only
		return
	}
	w.eventCount += 1
	storage.Pool.WalletEvents.Put(eventKey(owner, w.eventCount), packEvent(kind, id, amount))
}

// History - applied events of a wallet after a given sequence number
func (r *Replica) History(owner keyshare.PublicKey, sinceSequence uint64) ([]Event, error) {
	r.Lock()
	w, ok := r.wallets[owner]
	if !ok {
		r.Unlock()
		return nil, fault.ErrWalletNotFound
	}
	eventCount := w.eventCount
	r.Unlock()

	if nil == storage.Pool.WalletEvents {
		return nil, nil
	}

	events := []Event{}
	cursor := storage.Pool.WalletEvents.NewFetchCursor()
	cursor.Seek(eventKey(owner, sinceSequence+1))
	for {
		elements, err := cursor.Fetch(100)
		if nil != err {
			return nil, err
		}
		if 0 == len(elements) {
			break
		}
		for _, element := range elements {
			if len(element.Key) < keyshare.PublicKeySize {
				continue
			}
			key, err := keyshare.PublicKeyFromBytes(element.Key[:keyshare.PublicKeySize])
			if nil != err || key != owner {
				return events, nil
			}
			event, err := unpackEvent(element.Value)
			if nil != err {
				return nil, err
			}
			events = append(events, event)
			if uint64(len(events)) >= eventCount {
				return events, nil
			}
		}
	}
	return events, nil
}

// Restore - rebuild all wallet state from the event log
//
// called once at start up before the replica serves requests
func (r *Replica) Restore() error {
	if nil == storage.Pool.WalletEvents {
		return fault.ErrNotInitialised
	}

	r.Lock()
	defer r.Unlock()

	cursor := storage.Pool.WalletEvents.NewFetchCursor()
	for {
		elements, err := cursor.Fetch(100)
		if nil != err {
			return err
		}
		if 0 == len(elements) {
			break
		}
		for _, element := range elements {
			if len(element.Key) != keyshare.PublicKeySize+8 {
				continue
			}
			owner, err := keyshare.PublicKeyFromBytes(element.Key[:keyshare.PublicKeySize])
			if nil != err {
				return err
			}
			event, err := unpackEvent(element.Value)
			if nil != err {
				return err
			}

			w, ok := r.wallets[owner]
			if !ok {
				w = newWallet()
				r.wallets[owner] = w
			}
			w.eventCount += 1

			switch event.Kind {
			case creditEvent:
				w.balance += event.Amount
				w.creditsSeen[event.ID] = struct{}{}
			case debitEvent:
				w.balance -= event.Amount
				if event.ID.Counter > w.appliedCounter {
					w.appliedCounter = event.ID.Counter
				}
			default:
				return fault.ErrInvalidPeerResponse
			}
		}
	}

	r.log.Infof("restored: %d wallets", len(r.wallets))
	return nil
}
