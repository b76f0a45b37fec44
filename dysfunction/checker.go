// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dysfunction

import (
	"time"

	"github.com/sectionnet/sectiond/xorname"
)

// how often scores are re-examined without an external trigger
const checkInterval = 30 * time.Second

// Checker - background process that periodically surfaces
// dysfunctional nodes
//
// flagged nodes are handed to the report callback, normally the
// membership module's Offline proposer
type Checker struct {
	Tracker *Tracker
	Report  func([]xorname.Name)
	Kick    <-chan struct{} // optional: force an immediate check
}

// Run - background processing entry
func (c *Checker) Run(args interface{}, shutdown <-chan struct{}) {
	log := c.Tracker.log
	log.Info("starting…")

	timer := time.NewTicker(checkInterval)
	defer timer.Stop()

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-timer.C:
			c.check()
		case <-c.Kick:
			c.check()
		}
	}

	log.Info("shutting down…")
}

func (c *Checker) check() {
	flagged := c.Tracker.Dysfunctional()
	if 0 == len(flagged) {
		return
	}
	c.Tracker.log.Warnf("dysfunctional nodes: %v", flagged)
	if nil != c.Report {
		c.Report(flagged)
	}
}
