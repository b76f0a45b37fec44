// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dkg

import (
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/xorname"
)

// failureDigest - what a failure vote signs: the session id and the
// sorted set of silent candidates
func failureDigest(id SessionID, nonParticipants []xorname.Name) [32]byte {
	names := make([]xorname.Name, len(nonParticipants))
	copy(names, nonParticipants)
	sort.Slice(names, func(i int, j int) bool {
		return names[i].Compare(names[j]) < 0
	})

	buffer := id.Pack()
	for _, name := range names {
		buffer = append(buffer, name[:]...)
	}
	return sha3.Sum256(buffer)
}

// FailureVote - one candidate's signed vote that a session failed
type FailureVote struct {
	Session         []byte
	Voter           []byte // voter name
	PublicKey       []byte // voter Ed25519 key
	NonParticipants [][]byte
	Signature       []byte
}

// NewFailureVote - sign a failure vote with our node key
func NewFailureVote(id SessionID, nonParticipants []xorname.Name, key *keyshare.NodeKeypair) *FailureVote {
	digest := failureDigest(id, nonParticipants)
	hash := id.Hash()

	names := make([][]byte, len(nonParticipants))
	for i, name := range nonParticipants {
		names[i] = append([]byte{}, name[:]...)
	}
	voter := key.Name

	return &FailureVote{
		Session:         hash[:],
		Voter:           voter[:],
		PublicKey:       append([]byte{}, key.PublicKey...),
		NonParticipants: names,
		Signature:       key.Sign(digest[:]),
	}
}

// Names - the non-participants as names
func (v *FailureVote) Names() ([]xorname.Name, error) {
	names := make([]xorname.Name, len(v.NonParticipants))
	for i, b := range v.NonParticipants {
		name, err := xorname.FromBytes(b)
		if nil != err {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

// Verify - check the vote against a session
//
// the voter's name must be derived from the embedded Ed25519 key so a
// candidate cannot vote under another's name
func (v *FailureVote) Verify(id SessionID) error {
	names, err := v.Names()
	if nil != err {
		return err
	}

	voter, err := xorname.FromBytes(v.Voter)
	if nil != err {
		return err
	}
	if keyshare.NodeName(v.PublicKey, voter.Age()) != voter {
		return fault.ErrInvalidSignature
	}

	digest := failureDigest(id, names)
	return keyshare.VerifyNodeSig(v.PublicKey, digest[:], v.Signature)
}

// FailureSet - accumulated failure votes for one session
type FailureSet struct {
	ID     SessionID
	votes  map[xorname.Name]*FailureVote
	counts map[[32]byte]int // per non-participant-set digest
}

// NewFailureSet - empty vote set for a session
func NewFailureSet(id SessionID) *FailureSet {
	return &FailureSet{
		ID:     id,
		votes:  make(map[xorname.Name]*FailureVote),
		counts: make(map[[32]byte]int),
	}
}

// Add - record one verified vote; duplicates by voter are ignored
func (f *FailureSet) Add(vote *FailureVote) error {
	if err := vote.Verify(f.ID); nil != err {
		return err
	}
	voter, err := xorname.FromBytes(vote.Voter)
	if nil != err {
		return err
	}
	if _, ok := f.votes[voter]; ok {
		return nil
	}

	names, _ := vote.Names()
	f.votes[voter] = vote
	f.counts[failureDigest(f.ID, names)] += 1
	return nil
}

// Actionable - the non-participant set agreed by more than threshold
// voters, or nil while no agreement exists
func (f *FailureSet) Actionable(threshold int) []xorname.Name {
	for _, vote := range f.votes {
		names, err := vote.Names()
		if nil != err {
			continue
		}
		if f.counts[failureDigest(f.ID, names)] >= threshold+1 {
			return names
		}
	}
	return nil
}

// VoteCount - votes collected so far
func (f *FailureSet) VoteCount() int {
	return len(f.votes)
}
