// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package knowledge - what this node knows about the network
//
// our own section's SAP, the SAPs of neighbouring sections and the
// chain of section keys; all SAP ingress is checked against the chain
// so only section-signed records from provably related keys are kept
package knowledge

import (
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/sectionchain"
	"github.com/sectionnet/sectiond/xorname"
)

// Knowledge - network knowledge behind a read-write lock
type Knowledge struct {
	sync.RWMutex
	log        *logger.L
	ourSection SectionSigned
	others     map[xorname.Prefix]SectionSigned
	chain      *sectionchain.Chain
}

// New - network knowledge seeded with our own signed SAP
//
// the SAP's signing key must already be present in the chain
func New(ourSection SectionSigned, chain *sectionchain.Chain) (*Knowledge, error) {
	if err := ourSection.SAP.Validate(); nil != err {
		return nil, err
	}
	if err := ourSection.Verify(); nil != err {
		return nil, err
	}
	if !chain.HasKey(ourSection.Sig.PublicKey) {
		return nil, fault.ErrUntrusted
	}
	return &Knowledge{
		log:        logger.New("knowledge"),
		ourSection: ourSection,
		others:     make(map[xorname.Prefix]SectionSigned),
		chain:      chain,
	}, nil
}

// OurSection - the signed SAP this node operates under
func (k *Knowledge) OurSection() SectionSigned {
	k.RLock()
	defer k.RUnlock()
	return k.ourSection
}

// OurPrefix - prefix of our own section
func (k *Knowledge) OurPrefix() xorname.Prefix {
	k.RLock()
	defer k.RUnlock()
	return k.ourSection.SAP.Prefix
}

// SectionKey - our current section public key
func (k *Knowledge) SectionKey() keyshare.PublicKey {
	k.RLock()
	defer k.RUnlock()
	return k.ourSection.SAP.SectionKey()
}

// Chain - the shared section chain
func (k *Knowledge) Chain() *sectionchain.Chain {
	return k.chain
}

// Update - SAP ingress
//
// merge the proof into our chain, verify the signature against a
// now-trusted key, then replace the stored SAP for that prefix only
// if the proposal is newer; a stale proposal is ignored without error
func (k *Knowledge) Update(signed SectionSigned, proof []sectionchain.Entry) (bool, error) {
	if err := signed.SAP.Validate(); nil != err {
		return false, err
	}

	k.Lock()
	defer k.Unlock()

	if 0 != len(proof) {
		if err := k.chain.Merge(proof); nil != err {
			return false, err
		}
	}
	if !k.chain.HasKey(signed.Sig.PublicKey) {
		return false, fault.ErrUntrusted
	}
	if err := signed.Verify(); nil != err {
		return false, err
	}

	prefix := signed.SAP.Prefix
	if prefix == k.ourSection.SAP.Prefix {
		if !k.supersedes(signed, k.ourSection) {
			return false, nil
		}
		k.log.Infof("our section updated: prefix: %q generation: %d key: %s",
			prefix, signed.SAP.Generation, signed.SAP.SectionKey())
		k.ourSection = signed
		return true, nil
	}

	current, ok := k.others[prefix]
	if ok && !k.supersedes(signed, current) {
		return false, nil
	}
	k.log.Infof("neighbour updated: prefix: %q generation: %d", prefix, signed.SAP.Generation)
	k.others[prefix] = signed
	return true, nil
}

// a proposal wins on a strictly higher generation, or on an equal
// generation when its key descends from the stored key
func (k *Knowledge) supersedes(proposed SectionSigned, current SectionSigned) bool {
	if proposed.SAP.Generation > current.SAP.Generation {
		return true
	}
	if proposed.SAP.Generation == current.SAP.Generation {
		currentKey := current.SAP.SectionKey()
		proposedKey := proposed.SAP.SectionKey()
		return proposedKey != currentKey && k.chain.IsAncestorOf(currentKey, proposedKey)
	}
	return false
}

// SetOurSection - switch to a new SAP for our own section
//
// used by the handover commit after the NewElders aggregation; the
// chain must already contain the new key
func (k *Knowledge) SetOurSection(signed SectionSigned) error {
	if err := signed.SAP.Validate(); nil != err {
		return err
	}
	if err := signed.Verify(); nil != err {
		return err
	}

	k.Lock()
	defer k.Unlock()

	if !k.chain.HasKey(signed.Sig.PublicKey) {
		return fault.ErrUntrusted
	}
	// a split moves us to a longer prefix; drop any neighbour record
	// that now collides with us
	delete(k.others, signed.SAP.Prefix)
	k.ourSection = signed
	return nil
}

// SectionFor - the SAP responsible for a name
//
// our own SAP when our prefix matches, otherwise the known section
// with the longest matching prefix
func (k *Knowledge) SectionFor(name xorname.Name) (SAP, error) {
	k.RLock()
	defer k.RUnlock()

	if k.ourSection.SAP.Prefix.Matches(name) {
		return k.ourSection.SAP, nil
	}

	var best SectionSigned
	bestLen := int(-1)
	for prefix, signed := range k.others {
		if !prefix.Matches(name) {
			continue
		}
		if int(prefix.BitCount) > bestLen {
			bestLen = int(prefix.BitCount)
			best = signed
		}
	}
	if bestLen < 0 {
		return SAP{}, fault.ErrNotASection
	}
	return best.SAP, nil
}

// Neighbours - all known other-section records
func (k *Knowledge) Neighbours() []SectionSigned {
	k.RLock()
	defer k.RUnlock()

	neighbours := make([]SectionSigned, 0, len(k.others))
	for _, signed := range k.others {
		neighbours = append(neighbours, signed)
	}
	return neighbours
}

// KnownPrefixes - our prefix plus every neighbour prefix
func (k *Knowledge) KnownPrefixes() []xorname.Prefix {
	k.RLock()
	defer k.RUnlock()

	prefixes := make([]xorname.Prefix, 0, len(k.others)+1)
	prefixes = append(prefixes, k.ourSection.SAP.Prefix)
	for prefix := range k.others {
		prefixes = append(prefixes, prefix)
	}
	return prefixes
}
