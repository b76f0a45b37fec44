// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package storage - maintain the on-disk data stores
//
// maintains a LevelDB database per data concern with a set of
// prefixed key pools on top; the register op logs and the wallet
// event logs live here
//
// maintains a memory cache for a db so that reads of recently written
// records do not hit disk
package storage
