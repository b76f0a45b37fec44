// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache - read-through cache over recently written records
type Cache interface {
	Get(string) ([]byte, bool)
	Set(int, string, []byte)
	Clear()
}

const (
	dbPut = iota
	dbDelete
)

const (
	cacheCleanup    = 1 * time.Minute
	cacheExpiration = 2 * time.Minute
)

type cacheData struct {
	op    int
	value []byte
}

type dbCache struct {
	cache *gocache.Cache
}

func newCache() Cache {
	return &dbCache{
		cache: gocache.New(cacheExpiration, cacheCleanup),
	}
}

func (c *dbCache) Get(key string) ([]byte, bool) {
	obj, found := c.cache.Get(key)
	if !found {
		return nil, false
	}

	data := obj.(cacheData)
	// a cached delete means the record is gone
	if dbDelete == data.op {
		return nil, false
	}
	return data.value, true
}

func (c *dbCache) Set(op int, key string, value []byte) {
	c.cache.Set(key, cacheData{op: op, value: value}, gocache.DefaultExpiration)
}

func (c *dbCache) Clear() {
	c.cache.Flush()
}
