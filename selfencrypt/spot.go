// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package selfencrypt

import (
	"crypto/rand"

	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
)

// spot records hold payloads too small to self-encrypt; they are
// encrypted under a key derived from the owner's secret so only the
// owner can read them back

const spotNonceSize = 16

// EncryptSpot - encrypt a small payload under an owner secret
//
// output: nonce ‖ ciphertext
func EncryptSpot(ownerSecret []byte, data []byte) ([]byte, error) {
	if 0 == len(ownerSecret) {
		return nil, fault.ErrInvalidKeyLength
	}

	nonce := make([]byte, spotNonceSize)
	_, err := rand.Read(nonce)
	if nil != err {
		return nil, err
	}

	key, iv := spotKey(ownerSecret, nonce)
	result := make([]byte, 0, spotNonceSize+len(data))
	result = append(result, nonce...)
	result = append(result, applyCipher(key, iv, data)...)
	return result, nil
}

// DecryptSpot - inverse of EncryptSpot
func DecryptSpot(ownerSecret []byte, record []byte) ([]byte, error) {
	if 0 == len(ownerSecret) {
		return nil, fault.ErrInvalidKeyLength
	}
	if len(record) < spotNonceSize {
		return nil, fault.ErrMessageTooShort
	}

	key, iv := spotKey(ownerSecret, record[:spotNonceSize])
	return applyCipher(key, iv, record[spotNonceSize:]), nil
}

func spotKey(ownerSecret []byte, nonce []byte) (key []byte, iv []byte) {
	seed := make([]byte, 0, len(ownerSecret)+len(nonce))
	seed = append(seed, ownerSecret...)
	seed = append(seed, nonce...)
	material := sha3.Sum512(seed)
	return material[0:32], material[32:48]
}
