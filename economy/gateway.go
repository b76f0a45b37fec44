// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package economy

import (
	"time"

	"github.com/bitmark-inc/logger"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/transfer"
	"github.com/sectionnet/sectiond/xorname"
)

const (
	defaultWriteRate  = rate.Limit(20) // writes per second per client
	defaultWriteBurst = 100

	limiterTTL      = 10 * time.Minute
	cleanupInterval = time.Minute
)

// Gateway - per-client rate limiting and payment validation on the
// elder write path
type Gateway struct {
	log        *logger.L
	writeRate  rate.Limit
	writeBurst int
	limiters   *gocache.Cache
}

// NewGateway - gateway with the default per-client write rate
func NewGateway() *Gateway {
	return NewGatewayWithRate(defaultWriteRate, defaultWriteBurst)
}

// NewGatewayWithRate - gateway with an explicit per-client rate
func NewGatewayWithRate(writeRate rate.Limit, burst int) *Gateway {
	return &Gateway{
		log:        logger.New("economy"),
		writeRate:  writeRate,
		writeBurst: burst,
		limiters:   gocache.New(limiterTTL, cleanupInterval),
	}
}

// Allow - account one write against a client's limiter
func (g *Gateway) Allow(client xorname.Name) error {
	key := client.String()

	var limiter *rate.Limiter
	if item, found := g.limiters.Get(key); found {
		limiter = item.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(g.writeRate, g.writeBurst)
		g.limiters.Set(key, limiter, gocache.DefaultExpiration)
	}

	if !limiter.Allow() {
		g.log.Warnf("rate limited: %s", client)
		return fault.ErrRateLimiting
	}
	return nil
}

// Payment - the agreement proofs a client attaches to a write
type Payment struct {
	Debit  transfer.DebitAgreementProof
	Credit transfer.CreditAgreementProof
}

// Pack - wire form: debit proof ‖ credit proof
func (p Payment) Pack() []byte {
	return append(p.Debit.Pack(), p.Credit.Pack()...)
}

// UnpackPayment - inverse of Pack; returns bytes consumed
func UnpackPayment(buffer []byte) (Payment, int, error) {
	debit, n, err := transfer.UnpackDebitAgreementProof(buffer)
	if nil != err {
		return Payment{}, 0, err
	}
	credit, used, err := transfer.UnpackCreditAgreementProof(buffer[n:])
	if nil != err {
		return Payment{}, 0, err
	}
	return Payment{
		Debit:  debit,
		Credit: credit,
	}, n + used, nil
}

// ValidatePayment - check the payment attached to a write
//
// both proofs must be signed by our current section key, funded by
// the same debit, pay the section reward wallet and cover the quoted
// cost
func (g *Gateway) ValidatePayment(
	payment Payment,
	sectionKey keyshare.PublicKey,
	rewardWallet keyshare.PublicKey,
	cost transfer.Token,
) error {
	if payment.Debit.SectionSig.PublicKey != sectionKey ||
		payment.Credit.SectionSig.PublicKey != sectionKey {
		return fault.ErrUntrusted
	}
	if err := payment.Debit.Verify(); nil != err {
		return err
	}
	if err := payment.Credit.Verify(); nil != err {
		return err
	}

	debit := payment.Debit.Debit.Debit
	credit := payment.Credit.Credit.Credit
	if debit.ID != credit.ID || debit.Amount != credit.Amount {
		return fault.ErrInvalidSignature
	}
	if credit.Recipient != rewardWallet {
		return fault.ErrPaymentRequired
	}
	if debit.Amount < cost {
		return fault.FeeTooLowError{
			Paid:     uint64(debit.Amount),
			Required: uint64(cost),
		}
	}
	return nil
}
