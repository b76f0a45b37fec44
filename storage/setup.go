// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"reflect"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/sectionnet/sectiond/fault"
)

// exported storage pools
//
// note all must be exported (i.e. initial capital) or initialisation will panic
type pools struct {
	RegisterPolicies *PoolHandle `prefix:"P" database:"registers"`
	RegisterOps      *PoolHandle `prefix:"R" database:"registers"`
	Wallets          *PoolHandle `prefix:"B" database:"wallets"`
	WalletEvents     *PoolHandle `prefix:"E" database:"wallets"`
	TestData         *PoolHandle `prefix:"Z" database:"registers"`
}

// Pool - the set of exported pools
var Pool pools

// holds the database handles
var poolData struct {
	sync.RWMutex
	dbRegisters *leveldb.DB
	dbWallets   *leveldb.DB
	cache       Cache
}

// Initialise - open up the database connections
//
// this must be called before any pool is accessed
func Initialise(database string) error {
	poolData.Lock()
	defer poolData.Unlock()

	if nil != poolData.dbRegisters {
		return fault.ErrAlreadyInitialised
	}

	ok := false
	defer func() {
		if !ok {
			dbClose()
		}
	}()

	db, err := leveldb.OpenFile(database+"-registers.leveldb", nil)
	if nil != err {
		return err
	}
	poolData.dbRegisters = db

	db, err = leveldb.OpenFile(database+"-wallets.leveldb", nil)
	if nil != err {
		return err
	}
	poolData.dbWallets = db

	poolData.cache = newCache()

	// this will be a struct type
	poolType := reflect.TypeOf(Pool)

	// get write access by using pointer + Elem()
	poolValue := reflect.ValueOf(&Pool).Elem()

	// scan each field
	for i := 0; i < poolType.NumField(); i += 1 {

		fieldInfo := poolType.Field(i)
		prefixTag := fieldInfo.Tag.Get("prefix")
		if 1 != len(prefixTag) {
			return fault.ErrInvalidStructPointer
		}

		prefix := prefixTag[0]
		limit := []byte(nil)
		if prefix < 255 {
			limit = []byte{prefix + 1}
		}

		db := poolData.dbRegisters
		if "wallets" == fieldInfo.Tag.Get("database") {
			db = poolData.dbWallets
		}

		p := &PoolHandle{
			prefix:   prefix,
			limit:    limit,
			database: db,
			cache:    poolData.cache,
		}
		poolValue.Field(i).Set(reflect.ValueOf(p))
	}

	ok = true
	return nil
}

func dbClose() {
	if nil != poolData.dbRegisters {
		poolData.dbRegisters.Close()
		poolData.dbRegisters = nil
	}
	if nil != poolData.dbWallets {
		poolData.dbWallets.Close()
		poolData.dbWallets = nil
	}
	if nil != poolData.cache {
		poolData.cache.Clear()
		poolData.cache = nil
	}
}

// Finalise - close the databases
func Finalise() {
	poolData.Lock()
	defer poolData.Unlock()
	dbClose()
}
