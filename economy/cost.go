// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package economy - store cost and the elder write gateway
//
// the cost of a write follows section occupancy: the fewer unfarmed
// tokens remain in the section's share of the supply, the cheaper
// storage becomes, and the more nodes exist the more the cost is
// divided down. Writes carry a debit agreement proof paying the
// section reward wallet at least the current cost.
package economy

import (
	"math"

	"github.com/sectionnet/sectiond/transfer"
)

// MaxSupply - total token supply in nano units
const MaxSupply = transfer.Token(math.MaxUint32 * 1_000_000_000)

// guards the velocity term against a fully farmed section
const epsilon = 1e-9

// SectionState - the occupancy inputs to a store cost quote
type SectionState struct {
	PrefixLen     uint
	Elders        int
	Adults        int
	RewardBalance transfer.Token
}

// StoreCost - the current cost of one write, in nano units
//
// never less than one nano; grows towards the supply as the section's
// unfarmed share runs out
func StoreCost(state SectionState) transfer.Token {
	sections := math.Pow(2, float64(state.PrefixLen))
	totalNodes := sections * float64(state.Elders+state.Adults)
	if totalNodes < 1 {
		totalNodes = 1
	}

	supplyShare := float64(MaxSupply) / sections
	unfarmed := float64(state.RewardBalance) / supplyShare
	if unfarmed > 1 {
		unfarmed = 1
	}

	velocity := math.MaxFloat64
	if unfarmed < 1 {
		velocity = unfarmed / (1 - unfarmed)
	}

	cost := 1 / (totalNodes * totalNodes *
		(math.Pow(velocity, float64(state.PrefixLen)) + epsilon))
	if cost < 1 {
		return 1
	}
	if cost >= float64(MaxSupply) {
		return MaxSupply
	}
	return transfer.Token(cost)
}
