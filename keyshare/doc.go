// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyshare - section key cryptography
//
// wraps the kyber BLS threshold primitives into the key set, secret
// share and signature types the rest of the node deals in, plus the
// Ed25519 node identity keypair
package keyshare
