// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain - names of the deployable networks
package chain

// names of all networks
const (
	Mainnet = "mainnet"
	Testnet = "testnet"
	Local   = "local"
)

// Valid - validate a network name
func Valid(name string) bool {
	switch name {
	case Mainnet, Testnet, Local:
		return true
	default:
		return false
	}
}
