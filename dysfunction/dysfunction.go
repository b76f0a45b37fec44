// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dysfunction - weighted misbehaviour scoring of peers
//
// every detected issue is counted against the responsible node; nodes
// whose weighted score stands far enough above the section mean are
// flagged suspicious or dysfunctional, the latter leading to an
// Offline proposal
package dysfunction

import (
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/xorname"
)

// IssueKind - classification of a tracked issue
type IssueKind int

const (
	Communication IssueKind = iota
	Dkg
	Knowledge
	PendingRequestOperation
	AeProbe
)

// score weights
const (
	OpsWeighting  = 1.0
	ConnWeighting = 1.2
	KnowWeighting = 1.3
)

// multiples of the mean score
const (
	SuspiciousFactor    = 1.2
	DysfunctionalFactor = 2.75
)

// per-node issue counters
type record struct {
	counts map[IssueKind]uint64
}

// Tracker - issue counts for all known peers
type Tracker struct {
	sync.Mutex
	log   *logger.L
	nodes map[xorname.Name]*record
}

// New - an empty tracker
func New() *Tracker {
	return &Tracker{
		log:   logger.New("dysfunction"),
		nodes: make(map[xorname.Name]*record),
	}
}

// AddNode - start tracking a peer
func (t *Tracker) AddNode(node xorname.Name) {
	t.Lock()
	defer t.Unlock()
	if _, ok := t.nodes[node]; !ok {
		t.nodes[node] = &record{counts: make(map[IssueKind]uint64)}
	}
}

// RemoveNode - stop tracking a departed peer
func (t *Tracker) RemoveNode(node xorname.Name) {
	t.Lock()
	defer t.Unlock()
	delete(t.nodes, node)
}

// TrackIssue - count one issue against a node
//
// unknown nodes are added implicitly: an issue can arrive before the
// membership update that introduces its source
func (t *Tracker) TrackIssue(node xorname.Name, kind IssueKind) {
	t.Lock()
	defer t.Unlock()

	r, ok := t.nodes[node]
	if !ok {
		r = &record{counts: make(map[IssueKind]uint64)}
		t.nodes[node] = r
	}
	r.counts[kind] += 1
	t.log.Debugf("issue: %d against: %s total: %d", kind, node, r.counts[kind])
}

// RequestCompleted - a previously pending request finished; forgive
// one pending-operation issue
func (t *Tracker) RequestCompleted(node xorname.Name) {
	t.Lock()
	defer t.Unlock()

	r, ok := t.nodes[node]
	if !ok {
		return
	}
	if r.counts[PendingRequestOperation] > 0 {
		r.counts[PendingRequestOperation] -= 1
	}
}

// IssueCount - current count of one kind against a node
func (t *Tracker) IssueCount(node xorname.Name, kind IssueKind) uint64 {
	t.Lock()
	defer t.Unlock()

	r, ok := t.nodes[node]
	if !ok {
		return 0
	}
	return r.counts[kind]
}

// weighted score of one record
//
// knowledge-class issues cover stale network knowledge, failed DKG
// participation and ignored anti-entropy probes
func (r *record) score() float64 {
	opsScore := float64(r.counts[PendingRequestOperation])
	connScore := float64(r.counts[Communication])
	knowScore := float64(r.counts[Knowledge] + r.counts[Dkg] + r.counts[AeProbe])
	return OpsWeighting*opsScore + ConnWeighting*connScore + KnowWeighting*knowScore
}

// Scores - the weighted score per tracked node
func (t *Tracker) Scores() map[xorname.Name]float64 {
	t.Lock()
	defer t.Unlock()

	scores := make(map[xorname.Name]float64, len(t.nodes))
	for node, r := range t.nodes {
		scores[node] = r.score()
	}
	return scores
}

// nodes whose score is at least factor times the mean
func (t *Tracker) overFactor(factor float64) []xorname.Name {
	scores := t.Scores()
	if 0 == len(scores) {
		return nil
	}

	total := 0.0
	for _, score := range scores {
		total += score
	}
	mean := total / float64(len(scores))
	if mean < 1.0 {
		mean = 1.0
	}

	flagged := []xorname.Name{}
	for node, score := range scores {
		if score >= mean*factor && score > 0 {
			flagged = append(flagged, node)
		}
	}
	return flagged
}

// Suspicious - nodes scoring at least SuspiciousFactor times the mean
func (t *Tracker) Suspicious() []xorname.Name {
	return t.overFactor(SuspiciousFactor)
}

// Dysfunctional - nodes scoring at least DysfunctionalFactor times
// the mean; candidates for an Offline proposal
func (t *Tracker) Dysfunctional() []xorname.Name {
	return t.overFactor(DysfunctionalFactor)
}
