// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package aggregator - collect section signature shares
//
// shares are bucketed by payload digest and key set; once a bucket
// holds threshold+1 distinct verified shares they are combined into a
// section signature and the bucket is dropped; stale buckets expire
package aggregator

import (
	"encoding/hex"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

const (
	// BucketTTL - how long an incomplete bucket survives
	BucketTTL = 120 * time.Second

	cleanupInterval = 30 * time.Second
)

// one partially aggregated payload
type bucket struct {
	payload []byte
	pkSet   keyshare.PublicKeySet
	shares  map[int][]byte
}

// Aggregator - share collection state
type Aggregator struct {
	sync.Mutex
	buckets *gocache.Cache
}

// New - create an empty aggregator
func New() *Aggregator {
	return &Aggregator{
		buckets: gocache.New(BucketTTL, cleanupInterval),
	}
}

// bucket key: payload digest ‖ key set digest
func bucketKey(payload []byte, pkSet keyshare.PublicKeySet) string {
	payloadHash := sha3.Sum256(payload)
	pkSetHash := pkSet.Hash()
	return hex.EncodeToString(payloadHash[:]) + hex.EncodeToString(pkSetHash[:])
}

// Add - feed in one share
//
// returns the combined section signature once enough shares are
// present, nil while the bucket is still filling
func (a *Aggregator) Add(payload []byte, share keyshare.SectionSigShare) (*keyshare.SectionSig, error) {

	if err := share.Verify(payload); nil != err {
		return nil, err
	}

	a.Lock()
	defer a.Unlock()

	key := bucketKey(payload, share.PublicKeySet)

	var b *bucket
	if item, found := a.buckets.Get(key); found {
		b = item.(*bucket)
	} else {
		b = &bucket{
			payload: payload,
			pkSet:   share.PublicKeySet,
			shares:  make(map[int][]byte),
		}
		a.buckets.Set(key, b, gocache.DefaultExpiration)
	}

	if _, ok := b.shares[share.Index]; ok {
		return nil, fault.ErrShareAlreadyPresent
	}
	b.shares[share.Index] = share.Share

	if len(b.shares) < b.pkSet.Threshold()+1 {
		return nil, nil
	}

	sigShares := make([][]byte, 0, len(b.shares))
	for _, s := range b.shares {
		sigShares = append(sigShares, s)
	}
	sectionSig, err := b.pkSet.Combine(payload, sigShares)
	if nil != err {
		return nil, err
	}

	a.buckets.Delete(key)
	return &sectionSig, nil
}

// Pending - number of incomplete buckets, for monitoring
func (a *Aggregator) Pending() int {
	return a.buckets.ItemCount()
}
