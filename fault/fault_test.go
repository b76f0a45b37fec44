// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault_test

import (
	"testing"

	"github.com/sectionnet/sectiond/fault"
)

var (
	ErrAccessOne   = fault.AccessError("access one")
	ErrExistsOne   = fault.ExistsError("exists one")
	ErrInvalidOne  = fault.InvalidError("invalid one")
	ErrLengthOne   = fault.LengthError("length one")
	ErrNotFoundOne = fault.NotFoundError("not found one")
	ErrProcessOne  = fault.ProcessError("process one")
	ErrTimeoutOne  = fault.TimeoutError("timeout one")
)

// test that the various error classes are distinguishable
func TestClasses(t *testing.T) {
	errorList := []struct {
		err      error
		access   bool
		exists   bool
		invalid  bool
		length   bool
		notFound bool
		process  bool
		timeout  bool
	}{
		{ErrAccessOne, true, false, false, false, false, false, false},
		{ErrExistsOne, false, true, false, false, false, false, false},
		{ErrInvalidOne, false, false, true, false, false, false, false},
		{ErrLengthOne, false, false, false, true, false, false, false},
		{ErrNotFoundOne, false, false, false, false, true, false, false},
		{ErrProcessOne, false, false, false, false, false, true, false},
		{ErrTimeoutOne, false, false, false, false, false, false, true},
	}

	for i, item := range errorList {
		if fault.IsErrAccess(item.err) != item.access {
			t.Errorf("%d: access: %v expected: %v", i, item.err, item.access)
		}
		if fault.IsErrExists(item.err) != item.exists {
			t.Errorf("%d: exists: %v expected: %v", i, item.err, item.exists)
		}
		if fault.IsErrInvalid(item.err) != item.invalid {
			t.Errorf("%d: invalid: %v expected: %v", i, item.err, item.invalid)
		}
		if fault.IsErrLength(item.err) != item.length {
			t.Errorf("%d: length: %v expected: %v", i, item.err, item.length)
		}
		if fault.IsErrNotFound(item.err) != item.notFound {
			t.Errorf("%d: not found: %v expected: %v", i, item.err, item.notFound)
		}
		if fault.IsErrProcess(item.err) != item.process {
			t.Errorf("%d: process: %v expected: %v", i, item.err, item.process)
		}
		if fault.IsErrTimeout(item.err) != item.timeout {
			t.Errorf("%d: timeout: %v expected: %v", i, item.err, item.timeout)
		}
	}
}

// test the parameterised error kinds
func TestParameterised(t *testing.T) {
	ds := fault.DoubleSpendError{New: "a", Existing: "b"}
	if !fault.IsErrDoubleSpend(ds) {
		t.Errorf("double spend not detected")
	}
	if fault.IsErrDoubleSpend(ErrInvalidOne) {
		t.Errorf("invalid error detected as double spend")
	}

	ib := fault.InsufficientBalanceError{Have: 10, Want: 30}
	if !fault.IsErrInsufficientBalance(ib) {
		t.Errorf("insufficient balance not detected")
	}
	if ib.Error() != "insufficient balance: have: 10 want: 30" {
		t.Errorf("unexpected message: %q", ib.Error())
	}

	is := fault.InvalidSuccessorError{CurrentVersion: 4}
	if !fault.IsErrInvalidSuccessor(is) {
		t.Errorf("invalid successor not detected")
	}

	ft := fault.FeeTooLowError{Paid: 1, Required: 2}
	if !fault.IsErrFeeTooLow(ft) {
		t.Errorf("fee too low not detected")
	}
}
