// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/urfave/cli"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/version"
)

// process exit status values
const (
	exitSuccess = iota
	exitGenericError
	exitBadConfiguration
	exitIOFailure
	exitInsufficientBalance
	exitNotFound
	exitAccessDenied
)

type globalFlags struct {
	configFile string
}

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	globals := globalFlags{}

	app := cli.NewApp()
	app.Name = "sectiond"
	app.Usage = "one node of a self organising storage network"
	app.Version = version.Version
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config-file, c",
			Value:       "",
			Usage:       "sectiond configuration file",
			Destination: &globals.configFile,
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "start",
			Usage: "run the storage node until interrupted",
			Action: func(c *cli.Context) error {
				return runNode(&globals)
			},
		},
		{
			Name:  "version",
			Usage: "display the version number",
			Action: func(c *cli.Context) error {
				fmt.Println(version.Version)
				return nil
			},
		},
	}
	app.Action = func(c *cli.Context) error {
		return runNode(&globals)
	}

	err := app.Run(os.Args)
	if nil != err {
		fmt.Fprintf(os.Stderr, "%s: %s\n", app.Name, err)
		exitwithstatus.Exit(exitCode(err))
	}
}

// exitCode - map an error class to the documented process status
func exitCode(err error) int {
	switch {
	case nil == err:
		return exitSuccess
	case fault.IsErrInsufficientBalance(err):
		return exitInsufficientBalance
	case fault.IsErrNotFound(err):
		return exitNotFound
	case fault.IsErrAccess(err):
		return exitAccessDenied
	case fault.IsErrInvalid(err) || fault.IsErrLength(err):
		return exitBadConfiguration
	case fault.IsErrProcess(err) || fault.IsErrTimeout(err) || fault.IsErrExists(err):
		return exitIOFailure
	default:
		return exitGenericError
	}
}
