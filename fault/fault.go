// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

import "fmt"

// error base
type GenericError string

// to allow for different classes of errors
type AccessError GenericError
type ExistsError GenericError
type InvalidError GenericError
type LengthError GenericError
type NotFoundError GenericError
type ProcessError GenericError
type TimeoutError GenericError

// common errors - keep in alphabetic order
var (
	ErrAccessDenied            = AccessError("access denied")
	ErrAlreadyInitialised      = ProcessError("already initialised")
	ErrAlreadyRunning          = ProcessError("another instance is already running")
	ErrChunkNotFound           = NotFoundError("chunk not found")
	ErrChunkTooLarge           = LengthError("chunk exceeds maximum size")
	ErrDataExists              = ExistsError("data already exists")
	ErrDataMapTooShort         = LengthError("data map is too short")
	ErrElderOutsidePrefix      = InvalidError("elder name does not match the section prefix")
	ErrGenerationOutOfDate     = InvalidError("proposal generation is out of date")
	ErrInvalidChunkName        = InvalidError("chunk name does not match content")
	ErrInvalidCount            = InvalidError("invalid count")
	ErrInvalidDkgMessage       = InvalidError("invalid dkg message")
	ErrInvalidDnsTxtRecord     = InvalidError("invalid dns txt record")
	ErrInvalidElderCount       = InvalidError("invalid elder count")
	ErrInvalidEnvelope         = InvalidError("invalid message envelope")
	ErrInvalidIpAddress        = InvalidError("invalid IP Address")
	ErrInvalidKeyLength        = LengthError("invalid key length")
	ErrInvalidLoggerChannel    = InvalidError("invalid logger channel")
	ErrInvalidPeerResponse     = InvalidError("invalid peer response")
	ErrInvalidPortNumber       = InvalidError("invalid port number")
	ErrInvalidPrefix           = InvalidError("invalid section prefix")
	ErrInvalidPrivateKeyFile   = InvalidError("invalid private key file")
	ErrInvalidProofChain       = InvalidError("invalid proof chain")
	ErrInvalidProposal         = InvalidError("invalid membership proposal")
	ErrInvalidPublicKeyFile    = InvalidError("invalid public key file")
	ErrInvalidSignature        = InvalidError("invalid signature")
	ErrInvalidStructPointer    = InvalidError("invalid struct pointer")
	ErrKeyFileAlreadyExists    = ExistsError("key file already exists")
	ErrKeyNotInChain           = NotFoundError("key is not in the section chain")
	ErrMessageTooShort         = LengthError("message is too short")
	ErrMissingConfigurationFile = InvalidError("missing configuration file")
	ErrNotASection             = NotFoundError("no section matches the name")
	ErrNotConnected            = ProcessError("not connected")
	ErrNotElder                = AccessError("not an elder of this section")
	ErrNotEnoughShares         = LengthError("not enough signature shares")
	ErrNotEnoughSpace          = ProcessError("not enough space")
	ErrNotInitialised          = ProcessError("not initialised")
	ErrNotOwner                = AccessError("not the owner")
	ErrOpNotFound              = NotFoundError("register op not found")
	ErrPaymentRequired         = InvalidError("payment proof is required")
	ErrQueueFull               = ProcessError("command queue is full")
	ErrRateLimiting            = ProcessError("rate limiting in progress")
	ErrRegisterNotFound        = NotFoundError("register not found")
	ErrSessionAlreadyComplete  = ProcessError("dkg session already complete")
	ErrSessionNotFound         = NotFoundError("dkg session not found")
	ErrShareAlreadyPresent     = ExistsError("signature share index already present")
	ErrThresholdMismatch       = InvalidError("key set threshold does not match elder count")
	ErrUnknownParent           = NotFoundError("parent key is not in the chain")
	ErrUntrusted               = InvalidError("signer key is not in our chain")
	ErrWalletExists            = ExistsError("wallet already exists")
	ErrWalletNotFound          = NotFoundError("wallet not found")
	ErrWrongNetwork            = InvalidError("wrong network")
	ErrZeroAmount              = InvalidError("transfer amount must be positive")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e AccessError) Error() string   { return string(e) }
func (e ExistsError) Error() string   { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e LengthError) Error() string   { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProcessError) Error() string  { return string(e) }
func (e TimeoutError) Error() string  { return string(e) }

// determine the class of an error
func IsErrAccess(e error) bool   { _, ok := e.(AccessError); return ok }
func IsErrExists(e error) bool   { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool  { _, ok := e.(InvalidError); return ok }
func IsErrLength(e error) bool   { _, ok := e.(LengthError); return ok }
func IsErrNotFound(e error) bool { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool  { _, ok := e.(ProcessError); return ok }
func IsErrTimeout(e error) bool  { _, ok := e.(TimeoutError); return ok }

// TimeoutErrorf - timeout naming the operation that expired
func TimeoutErrorf(operation string) TimeoutError {
	return TimeoutError("timeout: " + operation)
}

// DoubleSpendError - same debit id was seen with different content
type DoubleSpendError struct {
	New      string
	Existing string
}

func (e DoubleSpendError) Error() string {
	return fmt.Sprintf("double spend: new: %s existing: %s", e.New, e.Existing)
}

func IsErrDoubleSpend(e error) bool { _, ok := e.(DoubleSpendError); return ok }

// InsufficientBalanceError - debit amount exceeds the available balance
type InsufficientBalanceError struct {
	Have uint64
	Want uint64
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have: %d want: %d", e.Have, e.Want)
}

func IsErrInsufficientBalance(e error) bool {
	_, ok := e.(InsufficientBalanceError)
	return ok
}

// InvalidSuccessorError - mutation version is not current version + 1
type InvalidSuccessorError struct {
	CurrentVersion uint64
}

func (e InvalidSuccessorError) Error() string {
	return fmt.Sprintf("invalid successor: current version: %d", e.CurrentVersion)
}

func IsErrInvalidSuccessor(e error) bool {
	_, ok := e.(InvalidSuccessorError)
	return ok
}

// FeeTooLowError - payment proof does not cover the current store cost
type FeeTooLowError struct {
	Paid     uint64
	Required uint64
}

func (e FeeTooLowError) Error() string {
	return fmt.Sprintf("fee too low: paid: %d required: %d", e.Paid, e.Required)
}

func IsErrFeeTooLow(e error) bool { _, ok := e.(FeeTooLowError); return ok }

// DkgFailureError - a distributed key generation session failed with a
// threshold of signed failure votes
type DkgFailureError struct {
	Generation      uint64
	NonParticipants int
}

func (e DkgFailureError) Error() string {
	return fmt.Sprintf("dkg failure: generation: %d non-participants: %d", e.Generation, e.NonParticipants)
}

func IsErrDkgFailure(e error) bool { _, ok := e.(DkgFailureError); return ok }
