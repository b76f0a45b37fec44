// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package replication - keep each chunk on its closest adults
//
// every membership change recomputes, for each chunk this node holds
// or tracks, the set of adults closest to the chunk's address. The
// node pushes to holders that are new, hands off and deletes when it
// has dropped out of the set, and fetches when a holder was lost.
// Jobs are serialised per chunk address with one in-flight transfer.
package replication

import (
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/chunkstore"
	"github.com/sectionnet/sectiond/xorname"
)

// ChunkCopyCount - how many adults hold a copy of each chunk
const ChunkCopyCount = 4

const (
	maxAttempts    = 5
	initialBackoff = 250 * time.Millisecond
)

// Transport - chunk movement between nodes
type Transport interface {
	Push(peer xorname.Name, chunk chunkstore.Chunk) error
	Fetch(peer xorname.Name, address chunkstore.Address) (chunkstore.Chunk, error)
}

// ChurnEvent - the post-change membership delivered by the section
type ChurnEvent struct {
	Joined []xorname.Name
	Left   []xorname.Name
	Adults []xorname.Name
}

type jobKind int

const (
	jobPush jobKind = iota + 1 // copy to holders that are new
	jobHandoff                 // copy to one holder, then delete locally
	jobFetch                   // restore our copy from a remaining holder
)

type job struct {
	kind    jobKind
	address chunkstore.Address
	peers   []xorname.Name
}

// Controller - replication state for one node
type Controller struct {
	sync.Mutex
	log         *logger.L
	ourName     xorname.Name
	store       *chunkstore.Store
	transport   Transport
	reportIssue func(peer xorname.Name)
	backoff     time.Duration
	tracked     map[chunkstore.Address]struct{}
	inflight    map[chunkstore.Address]bool
	pending     map[chunkstore.Address][]job
	wg          sync.WaitGroup
}

// New - controller for one node's chunk store
func New(ourName xorname.Name, store *chunkstore.Store, transport Transport, reportIssue func(xorname.Name)) *Controller {
	return &Controller{
		log:         logger.New("replication"),
		ourName:     ourName,
		store:       store,
		transport:   transport,
		reportIssue: reportIssue,
		backoff:     initialBackoff,
		tracked:     make(map[chunkstore.Address]struct{}),
		inflight:    make(map[chunkstore.Address]bool),
		pending:     make(map[chunkstore.Address][]job),
	}
}

// Track - remember an address this node is responsible for even when
// the chunk has not arrived yet; a later churn can then fetch it
func (c *Controller) Track(address chunkstore.Address) {
	c.Lock()
	c.tracked[address] = struct{}{}
	c.Unlock()
}

// Churn - recompute holder sets for every known chunk
func (c *Controller) Churn(event ChurnEvent) {
	addresses, err := c.store.Keys()
	if nil != err {
		c.log.Errorf("chunk keys error: %s", err)
		return
	}

	seen := make(map[chunkstore.Address]struct{}, len(addresses))
	for _, address := range addresses {
		seen[address] = struct{}{}
	}
	c.Lock()
	for address := range c.tracked {
		if _, ok := seen[address]; !ok {
			addresses = append(addresses, address)
		}
	}
	c.Unlock()

	for _, address := range addresses {
		c.checkChunk(address, event)
	}
}

// one chunk against one churn event
func (c *Controller) checkChunk(address chunkstore.Address, event ChurnEvent) {
	// the pre-change holders: adults without the arrivals, plus the
	// leavers; the post-change holders: the current adult set
	oldHolders := closest(address.Name, union(subtract(event.Adults, event.Joined), event.Left))
	newHolders := closest(address.Name, union(event.Adults, event.Joined))

	weHold := contains(newHolders, c.ourName)

	if !weHold {
		// dropped out: hand the chunk to a new holder, then delete
		if 0 != len(newHolders) {
			c.enqueue(job{kind: jobHandoff, address: address, peers: newHolders})
		}
		return
	}

	// push to holders that were not holders before and just joined
	arrivals := make([]xorname.Name, 0, ChunkCopyCount)
	for _, holder := range newHolders {
		if holder == c.ourName || contains(oldHolders, holder) {
			continue
		}
		if contains(event.Joined, holder) {
			arrivals = append(arrivals, holder)
		}
	}
	if 0 != len(arrivals) {
		c.enqueue(job{kind: jobPush, address: address, peers: arrivals})
	}

	// a holder left and we remain one: restore our copy if missing
	if c.holderLost(oldHolders, event.Left) {
		if _, err := c.store.Get(address, nil); nil != err {
			sources := exclude(newHolders, c.ourName)
			if 0 != len(sources) {
				c.enqueue(job{kind: jobFetch, address: address, peers: sources})
			}
		}
	}
}

func (c *Controller) holderLost(oldHolders []xorname.Name, left []xorname.Name) bool {
	for _, name := range left {
		if contains(oldHolders, name) {
			return true
		}
	}
	return false
}

// one in-flight job per address; later jobs queue behind it
func (c *Controller) enqueue(j job) {
	c.Lock()
	if c.inflight[j.address] {
		c.pending[j.address] = append(c.pending[j.address], j)
		c.Unlock()
		return
	}
	c.inflight[j.address] = true
	c.Unlock()

	c.wg.Add(1)
	go c.run(j)
}

func (c *Controller) run(j job) {
	defer c.wg.Done()
	c.execute(j)

	c.Lock()
	queue := c.pending[j.address]
	if 0 == len(queue) {
		delete(c.inflight, j.address)
		c.Unlock()
		return
	}
	next := queue[0]
	c.pending[j.address] = queue[1:]
	c.Unlock()

	c.wg.Add(1)
	go c.run(next)
}

func (c *Controller) execute(j job) {
	switch j.kind {

	case jobPush:
		chunk, err := c.store.Get(j.address, nil)
		if nil != err {
			c.log.Warnf("push %s: local copy missing: %s", j.address.Filename(), err)
			return
		}
		for _, peer := range j.peers {
			c.pushWithRetry(peer, chunk)
		}

	case jobHandoff:
		chunk, err := c.store.Get(j.address, nil)
		if nil != err {
			return
		}
		for _, peer := range j.peers {
			if c.pushWithRetry(peer, chunk) {
				if err := c.store.Delete(j.address, nil); nil != err {
					c.log.Warnf("handoff delete %s: %s", j.address.Filename(), err)
				}
				c.Lock()
				delete(c.tracked, j.address)
				c.Unlock()
				return
			}
		}
		c.log.Warnf("handoff %s: no reachable holder, keeping the chunk",
			j.address.Filename())

	case jobFetch:
		for _, peer := range j.peers {
			chunk, ok := c.fetchWithRetry(peer, j.address)
			if !ok {
				continue
			}
			if err := c.store.Put(chunk); nil != err {
				c.log.Errorf("fetch store %s: %s", j.address.Filename(), err)
			}
			return
		}
	}
}

func (c *Controller) pushWithRetry(peer xorname.Name, chunk chunkstore.Chunk) bool {
	backoff := c.backoff
	for attempt := 1; attempt <= maxAttempts; attempt += 1 {
		err := c.transport.Push(peer, chunk)
		if nil == err {
			return true
		}
		c.log.Warnf("push to %s attempt %d: %s", peer, attempt, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if nil != c.reportIssue {
		c.reportIssue(peer)
	}
	return false
}

func (c *Controller) fetchWithRetry(peer xorname.Name, address chunkstore.Address) (chunkstore.Chunk, bool) {
	backoff := c.backoff
	for attempt := 1; attempt <= maxAttempts; attempt += 1 {
		chunk, err := c.transport.Fetch(peer, address)
		if nil == err {
			return chunk, true
		}
		c.log.Warnf("fetch from %s attempt %d: %s", peer, attempt, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if nil != c.reportIssue {
		c.reportIssue(peer)
	}
	return chunkstore.Chunk{}, false
}

// Wait - block until all queued jobs have drained
func (c *Controller) Wait() {
	c.wg.Wait()
}

func closest(target xorname.Name, names []xorname.Name) []xorname.Name {
	return xorname.ClosestN(target, names, ChunkCopyCount)
}

func union(a []xorname.Name, b []xorname.Name) []xorname.Name {
	merged := make([]xorname.Name, 0, len(a)+len(b))
	seen := make(map[xorname.Name]struct{}, len(a)+len(b))
	for _, names := range [][]xorname.Name{a, b} {
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			merged = append(merged, name)
		}
	}
	return merged
}

func contains(names []xorname.Name, name xorname.Name) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func subtract(names []xorname.Name, remove []xorname.Name) []xorname.Name {
	result := make([]xorname.Name, 0, len(names))
	for _, n := range names {
		if !contains(remove, n) {
			result = append(result, n)
		}
	}
	return result
}

func exclude(names []xorname.Name, name xorname.Name) []xorname.Name {
	result := make([]xorname.Name, 0, len(names))
	for _, n := range names {
		if n != name {
			result = append(result, n)
		}
	}
	return result
}
