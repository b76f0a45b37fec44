// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package selfencrypt - convergent encryption of client payloads
//
// a payload is split into at least three chunks; each chunk is
// encrypted under key material derived from the plaintext hashes of
// its neighbours, so the same payload always produces the same chunk
// set and nothing short of the full data map decrypts any part of it
package selfencrypt

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/sha3"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/xorname"
)

const (
	// MinChunks - a data map never describes fewer chunks
	MinChunks = 3

	// MaxChunkSize - hard limit on one chunk
	MaxChunkSize = 1024 * 1024

	// MinEncryptableBytes - payloads below this are stored as a
	// single spot record instead
	MinEncryptableBytes = MinChunks * 1024
)

// Chunk - one encrypted piece of a payload
type Chunk struct {
	Name    xorname.Name
	Content []byte
}

// ChunkInfo - data map entry for one chunk
type ChunkInfo struct {
	Index   int
	SrcHash [32]byte     // digest of the plaintext piece
	DstName xorname.Name // digest of the ciphertext = network address
	SrcSize int
}

// DataMap - everything needed to fetch and decrypt a payload
type DataMap struct {
	Chunks []ChunkInfo
}

// split a payload length into chunk sizes: as many full sized chunks
// as needed, but never fewer than MinChunks
func chunkSizes(length int) []int {
	count := (length + MaxChunkSize - 1) / MaxChunkSize
	if count < MinChunks {
		count = MinChunks
	}
	base := length / count
	remainder := length % count
	sizes := make([]int, count)
	for i := 0; i < count; i += 1 {
		sizes[i] = base
		if i < remainder {
			sizes[i] += 1
		}
	}
	return sizes
}

// derive the AES-256 key and CTR IV for chunk i from the plaintext
// hashes of its neighbours (wrapping at the ends)
func keyMaterial(hashes [][32]byte, i int) (key []byte, iv []byte) {
	n := len(hashes)
	previous := hashes[(i+n-1)%n]
	next := hashes[(i+1)%n]

	seed := make([]byte, 0, 65)
	seed = append(seed, previous[:]...)
	seed = append(seed, next[:]...)
	seed = append(seed, byte(i))

	material := sha3.Sum512(seed)
	return material[0:32], material[32:48]
}

func applyCipher(key []byte, iv []byte, data []byte) []byte {
	block, err := aes.NewCipher(key)
	if nil != err {
		// key length is fixed by keyMaterial
		panic("selfencrypt: aes cipher: " + err.Error())
	}
	result := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(result, data)
	return result
}

// Encrypt - produce the data map and chunk set for a payload
//
// payloads shorter than MinEncryptableBytes are rejected; store those
// as a spot record
func Encrypt(data []byte) (*DataMap, []Chunk, error) {
	if len(data) < MinEncryptableBytes {
		return nil, nil, fault.ErrDataMapTooShort
	}

	sizes := chunkSizes(len(data))

	// plaintext pieces and their hashes first: every chunk's key
	// depends on its neighbours' plaintext
	pieces := make([][]byte, len(sizes))
	hashes := make([][32]byte, len(sizes))
	offset := 0
	for i, size := range sizes {
		pieces[i] = data[offset : offset+size]
		hashes[i] = sha3.Sum256(pieces[i])
		offset += size
	}

	dataMap := &DataMap{
		Chunks: make([]ChunkInfo, len(sizes)),
	}
	chunks := make([]Chunk, len(sizes))
	for i, piece := range pieces {
		key, iv := keyMaterial(hashes, i)
		content := applyCipher(key, iv, piece)
		name := xorname.NewName(content)

		chunks[i] = Chunk{
			Name:    name,
			Content: content,
		}
		dataMap.Chunks[i] = ChunkInfo{
			Index:   i,
			SrcHash: hashes[i],
			DstName: name,
			SrcSize: len(piece),
		}
	}
	return dataMap, chunks, nil
}

// FetchFunc - resolve a chunk by its network name
type FetchFunc func(xorname.Name) (Chunk, error)

// Decrypt - reassemble a payload from its data map
//
// every fetched chunk is checked against its recorded name before use
func Decrypt(dataMap *DataMap, fetch FetchFunc) ([]byte, error) {
	if nil == dataMap || len(dataMap.Chunks) < MinChunks {
		return nil, fault.ErrDataMapTooShort
	}

	hashes := make([][32]byte, len(dataMap.Chunks))
	contents := make([][]byte, len(dataMap.Chunks))
	total := 0
	for i, info := range dataMap.Chunks {
		chunk, err := fetch(info.DstName)
		if nil != err {
			return nil, err
		}
		if xorname.NewName(chunk.Content) != info.DstName {
			return nil, fault.ErrInvalidChunkName
		}
		hashes[i] = info.SrcHash
		contents[i] = chunk.Content
		total += info.SrcSize
	}

	data := make([]byte, 0, total)
	for i, content := range contents {
		key, iv := keyMaterial(hashes, i)
		piece := applyCipher(key, iv, content)
		if len(piece) != dataMap.Chunks[i].SrcSize {
			return nil, fault.ErrDataMapTooShort
		}
		if sha3.Sum256(piece) != dataMap.Chunks[i].SrcHash {
			return nil, fault.ErrInvalidChunkName
		}
		data = append(data, piece...)
	}
	return data, nil
}
