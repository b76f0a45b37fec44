// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package knowledge

import (
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/sectionchain"
	"github.com/sectionnet/sectiond/util"
)

// PackAntiEntropy - a signed SAP together with the proof chain that
// links it back to a key the receiver already trusts
func PackAntiEntropy(signed SectionSigned, proof []sectionchain.Entry) []byte {
	buffer := signed.Pack()
	buffer = append(buffer, util.ToVarint64(uint64(len(proof)))...)
	for _, entry := range proof {
		buffer = append(buffer, entry.Key[:]...)
		buffer = append(buffer, util.ToVarint64(uint64(len(entry.Signature)))...)
		buffer = append(buffer, entry.Signature...)
	}
	return buffer
}

// UnpackAntiEntropy - inverse of PackAntiEntropy
func UnpackAntiEntropy(buffer []byte) (SectionSigned, []sectionchain.Entry, error) {
	signed, n, err := UnpackSectionSigned(buffer)
	if nil != err {
		return SectionSigned{}, nil, err
	}
	buffer = buffer[n:]

	entryCount, used := util.FromVarint64(buffer)
	if 0 == used {
		return SectionSigned{}, nil, fault.ErrMessageTooShort
	}
	buffer = buffer[used:]

	proof := make([]sectionchain.Entry, 0, entryCount)
	for i := uint64(0); i < entryCount; i += 1 {
		if len(buffer) < keyshare.PublicKeySize {
			return SectionSigned{}, nil, fault.ErrMessageTooShort
		}
		key, err := keyshare.PublicKeyFromBytes(buffer[:keyshare.PublicKeySize])
		if nil != err {
			return SectionSigned{}, nil, err
		}
		buffer = buffer[keyshare.PublicKeySize:]

		sigLength, used := util.FromVarint64(buffer)
		if 0 == used || uint64(len(buffer)) < uint64(used)+sigLength {
			return SectionSigned{}, nil, fault.ErrMessageTooShort
		}
		var signature []byte
		if 0 != sigLength {
			signature = make([]byte, sigLength)
			copy(signature, buffer[used:uint64(used)+sigLength])
		}
		buffer = buffer[uint64(used)+sigLength:]

		proof = append(proof, sectionchain.Entry{
			Key:       key,
			Signature: signature,
		})
	}

	return signed, proof, nil
}

// ParseContact - decode one contact record, the same format as the
// DNS TXT records
func ParseContact(s string) (*Contact, error) {
	return parseTxt(s)
}
