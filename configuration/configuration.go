// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package configuration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/chain"
)

// basic defaults, relative paths hang off DataDirectory
const (
	defaultDataDirectory = "" // error; use "." for the config file directory
	defaultPidFile       = "sectiond.pid"

	defaultPublicKeyFile  = "sectiond.public"
	defaultPrivateKeyFile = "sectiond.private"

	defaultRewardPublicKeyFile  = "reward_public_key"
	defaultRewardPrivateKeyFile = "reward_secret_key"

	defaultChunkDirectory = "chunks"
	defaultDatabase       = "sectiond"
	defaultChainFile      = "section_chain.bin"

	defaultChunkQuota = 8 * 1024 * 1024 * 1024 // bytes

	defaultLogDirectory = "log"
	defaultLogFile      = "sectiond.log"
	defaultLogCount     = 10
	defaultLogSize      = 1024 * 1024

	defaultNodeAge = 5

	defaultQueryTimeoutSeconds = 60
	defaultCmdTimeoutSeconds   = 60

	defaultWriteRate  = 20.0
	defaultWriteBurst = 100
)

var defaultLogLevels = map[string]string{
	"main":            "info",
	"config":          "info",
	logger.DefaultTag: "critical",
}

// NodeType - the node's own identity and listen configuration
type NodeType struct {
	Age        uint64   `gluamapper:"age"`
	Listen     []string `gluamapper:"listen"`
	Announce   []string `gluamapper:"announce"`
	PublicKey  string   `gluamapper:"public_key"`
	PrivateKey string   `gluamapper:"private_key"`
}

// BootstrapType - how to find the first section
type BootstrapType struct {
	Domain   string   `gluamapper:"domain"`
	Contacts []string `gluamapper:"contacts"`
}

// StorageType - chunk store, database prefix and section chain file
//
// Database is a path prefix, the register and wallet databases hang
// off it
type StorageType struct {
	ChunkDirectory string `gluamapper:"chunk_directory"`
	Database       string `gluamapper:"database"`
	ChainFile      string `gluamapper:"chain_file"`
	ChunkQuota     uint64 `gluamapper:"chunk_quota"`
}

// EconomyType - store cost and rate limiting tunables
type EconomyType struct {
	RewardPublicKey  string  `gluamapper:"reward_public_key"`
	RewardPrivateKey string  `gluamapper:"reward_private_key"`
	WriteRate        float64 `gluamapper:"write_rate"`
	WriteBurst       int     `gluamapper:"write_burst"`
}

// TimeoutType - peer round trip bounds, in seconds
type TimeoutType struct {
	Query uint64 `gluamapper:"query"`
	Cmd   uint64 `gluamapper:"cmd"`
}

// LoggerType - log file rotation settings
type LoggerType struct {
	Directory string            `gluamapper:"directory"`
	File      string            `gluamapper:"file"`
	Size      int               `gluamapper:"size"`
	Count     int               `gluamapper:"count"`
	Console   bool              `gluamapper:"console"`
	Levels    map[string]string `gluamapper:"levels"`
}

// Configuration - the full node configuration
type Configuration struct {
	DataDirectory string        `gluamapper:"data_directory"`
	PidFile       string        `gluamapper:"pidfile"`
	Chain         string        `gluamapper:"chain"`
	Node          NodeType      `gluamapper:"node"`
	Bootstrap     BootstrapType `gluamapper:"bootstrap"`
	Storage       StorageType   `gluamapper:"storage"`
	Economy       EconomyType   `gluamapper:"economy"`
	Timeouts      TimeoutType   `gluamapper:"timeouts"`
	Logging       LoggerType    `gluamapper:"logging"`
}

// GetConfiguration - read, decode and verify the configuration
func GetConfiguration(configurationFileName string) (*Configuration, error) {

	configurationFileName, err := filepath.Abs(filepath.Clean(configurationFileName))
	if nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(configurationFileName)

	options := &Configuration{

		DataDirectory: defaultDataDirectory,
		PidFile:       defaultPidFile,
		Chain:         chain.Mainnet,

		Node: NodeType{
			Age:        defaultNodeAge,
			PublicKey:  defaultPublicKeyFile,
			PrivateKey: defaultPrivateKeyFile,
		},

		Storage: StorageType{
			ChunkDirectory: defaultChunkDirectory,
			Database:       defaultDatabase,
			ChainFile:      defaultChainFile,
			ChunkQuota:     defaultChunkQuota,
		},

		Economy: EconomyType{
			RewardPublicKey:  defaultRewardPublicKeyFile,
			RewardPrivateKey: defaultRewardPrivateKeyFile,
			WriteRate:        defaultWriteRate,
			WriteBurst:       defaultWriteBurst,
		},

		Timeouts: TimeoutType{
			Query: defaultQueryTimeoutSeconds,
			Cmd:   defaultCmdTimeoutSeconds,
		},

		Logging: LoggerType{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels:    defaultLogLevels,
		},
	}

	if err := ParseConfigurationFile(configurationFileName, options); nil != err {
		return nil, err
	}

	options.Chain = strings.ToLower(options.Chain)
	if !chain.Valid(options.Chain) {
		return nil, fmt.Errorf("chain: %q is not supported", options.Chain)
	}

	if 0 == len(options.Node.Listen) {
		return nil, errors.New("node.listen must not be empty")
	}
	if 0 == options.Storage.ChunkQuota {
		return nil, errors.New("storage.chunk_quota must not be zero")
	}

	// ensure absolute data directory
	if "" == options.DataDirectory || "~" == options.DataDirectory {
		return nil, fmt.Errorf("path: %q is not a valid directory", options.DataDirectory)
	} else if "." == options.DataDirectory {
		options.DataDirectory = dataDirectory // same directory as the configuration file
	} else {
		options.DataDirectory = filepath.Clean(options.DataDirectory)
	}

	// this directory must exist, created prior to running
	if fileInfo, err := os.Stat(options.DataDirectory); nil != err {
		return nil, err
	} else if !fileInfo.IsDir() {
		return nil, fmt.Errorf("path: %q is not a directory", options.DataDirectory)
	}

	// force all relevant items to be absolute paths
	// if not, assign them to the data directory
	mustBeAbsolute := []*string{
		&options.PidFile,
		&options.Node.PublicKey,
		&options.Node.PrivateKey,
		&options.Economy.RewardPublicKey,
		&options.Economy.RewardPrivateKey,
		&options.Storage.ChunkDirectory,
		&options.Storage.Database,
		&options.Storage.ChainFile,
		&options.Logging.Directory,
	}
	for _, f := range mustBeAbsolute {
		*f = ensureAbsolute(options.DataDirectory, *f)
	}

	// the logger wants a plain file name inside its directory
	switch filepath.Dir(options.Logging.File) {
	case "", ".":
	default:
		return nil, fmt.Errorf("files: %q is not plain name", options.Logging.File)
	}

	// make absolute and create directories if they do not already exist
	for _, d := range []*string{
		&options.Storage.ChunkDirectory,
		&options.Logging.Directory,
	} {
		*d = ensureAbsolute(options.DataDirectory, *d)
		if err := os.MkdirAll(*d, 0700); nil != err {
			return nil, err
		}
	}

	return options, nil
}

// ensure the path is absolute
func ensureAbsolute(directory string, filePath string) string {
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(directory, filePath)
	}
	return filepath.Clean(filePath)
}
