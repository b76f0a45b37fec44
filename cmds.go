// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/sectionnet/sectiond/chunkstore"
	"github.com/sectionnet/sectiond/dispatch"
	"github.com/sectionnet/sectiond/economy"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/membership"
	"github.com/sectionnet/sectiond/register"
	"github.com/sectionnet/sectiond/sectionchain"
	"github.com/sectionnet/sectiond/transfer"
	"github.com/sectionnet/sectiond/wire"
	"github.com/sectionnet/sectiond/xorname"
)

// client write commands

type putChunkCmd struct {
	client  xorname.Name
	chunk   chunkstore.Chunk
	payment economy.Payment
}

func (c *putChunkCmd) Name() string         { return "put-chunk" }
func (c *putChunkCmd) CanGoOffThread() bool { return true }
func (c *putChunkCmd) ElderOnly() bool      { return true }

type createRegisterCmd struct {
	client  xorname.Name
	address register.Address
	policy  register.Policy
	payment economy.Payment
}

func (c *createRegisterCmd) Name() string         { return "create-register" }
func (c *createRegisterCmd) CanGoOffThread() bool { return false }
func (c *createRegisterCmd) ElderOnly() bool      { return true }

type editRegisterCmd struct {
	client  xorname.Name
	op      register.SignedOp
	payment economy.Payment
}

func (c *editRegisterCmd) Name() string         { return "edit-register" }
func (c *editRegisterCmd) CanGoOffThread() bool { return false }
func (c *editRegisterCmd) ElderOnly() bool      { return true }

type createWalletCmd struct {
	proof transfer.CreditAgreementProof
}

func (c *createWalletCmd) Name() string         { return "create-wallet" }
func (c *createWalletCmd) CanGoOffThread() bool { return false }
func (c *createWalletCmd) ElderOnly() bool      { return true }

type registerTransferCmd struct {
	debit  transfer.DebitAgreementProof
	credit transfer.CreditAgreementProof
}

func (c *registerTransferCmd) Name() string         { return "register-transfer" }
func (c *registerTransferCmd) CanGoOffThread() bool { return false }
func (c *registerTransferCmd) ElderOnly() bool      { return true }

// settlePaymentCmd - apply the two proof halves of an accepted write
// payment to the local replica, follow-up of a write command
type settlePaymentCmd struct {
	payment economy.Payment
}

func (c *settlePaymentCmd) Name() string         { return "settle-payment" }
func (c *settlePaymentCmd) CanGoOffThread() bool { return false }
func (c *settlePaymentCmd) ElderOnly() bool      { return true }

// propagateCreditCmd - deliver an agreed credit to the recipient's
// section, follow-up of register-transfer
type propagateCreditCmd struct {
	credit transfer.CreditAgreementProof
}

func (c *propagateCreditCmd) Name() string         { return "propagate-credit" }
func (c *propagateCreditCmd) CanGoOffThread() bool { return true }
func (c *propagateCreditCmd) ElderOnly() bool      { return true }

// node to node commands

type dkgCmd struct {
	payload []byte
}

func (c *dkgCmd) Name() string         { return "dkg-message" }
func (c *dkgCmd) CanGoOffThread() bool { return false }

type proposeCmd struct {
	payload []byte
}

func (c *proposeCmd) Name() string         { return "propose" }
func (c *proposeCmd) CanGoOffThread() bool { return false }

type replicatePushCmd struct {
	chunk chunkstore.Chunk
}

func (c *replicatePushCmd) Name() string         { return "replicate-push" }
func (c *replicatePushCmd) CanGoOffThread() bool { return true }

type antiEntropyCmd struct {
	signed knowledge.SectionSigned
	proof  []sectionchain.Entry
}

func (c *antiEntropyCmd) Name() string         { return "anti-entropy" }
func (c *antiEntropyCmd) CanGoOffThread() bool { return false }

type propagatedCreditCmd struct {
	proof transfer.CreditAgreementProof
}

func (c *propagatedCreditCmd) Name() string         { return "propagated-credit" }
func (c *propagatedCreditCmd) CanGoOffThread() bool { return false }
func (c *propagatedCreditCmd) ElderOnly() bool      { return true }

type joinRequestCmd struct {
	name         xorname.Name
	addr         string
	transportKey []byte
}

func (c *joinRequestCmd) Name() string         { return "join-request" }
func (c *joinRequestCmd) CanGoOffThread() bool { return false }
func (c *joinRequestCmd) ElderOnly() bool      { return true }

// handleCmd - the dispatcher handler
func (n *node) handleCmd(cmd dispatch.Cmd) ([]dispatch.Cmd, error) {
	switch c := cmd.(type) {

	case *putChunkCmd:
		return n.doPutChunk(c)

	case *createRegisterCmd:
		err := n.validatePayment(c.payment)
		if nil != err {
			return nil, err
		}
		err = n.registers.Create(c.address, c.policy)
		if nil != err {
			return nil, err
		}
		return []dispatch.Cmd{&settlePaymentCmd{payment: c.payment}}, nil

	case *editRegisterCmd:
		err := n.validatePayment(c.payment)
		if nil != err {
			return nil, err
		}
		err = n.registers.Apply(c.op)
		if nil != err {
			return nil, err
		}
		return []dispatch.Cmd{&settlePaymentCmd{payment: c.payment}}, nil

	case *createWalletCmd:
		replica, err := n.currentReplica()
		if nil != err {
			return nil, err
		}
		return nil, replica.CreateWallet(c.proof)

	case *registerTransferCmd:
		replica, err := n.currentReplica()
		if nil != err {
			return nil, err
		}
		err = replica.Register(c.debit)
		if nil != err {
			return nil, err
		}
		return []dispatch.Cmd{&propagateCreditCmd{credit: c.credit}}, nil

	case *settlePaymentCmd:
		return nil, n.doSettlePayment(c)

	case *propagateCreditCmd:
		return nil, n.doPropagateCredit(c)

	case *dkgCmd:
		return nil, n.engine.Receive(c.payload)

	case *proposeCmd:
		manager, err := n.currentManager()
		if nil != err {
			return nil, err
		}
		return nil, manager.Receive(c.payload)

	case *replicatePushCmd:
		err := n.chunks.Put(c.chunk)
		if fault.IsErrExists(err) {
			err = nil
		}
		if nil == err {
			n.replicator.Track(c.chunk.Address)
		}
		return nil, err

	case *antiEntropyCmd:
		return nil, n.doAntiEntropy(c)

	case *propagatedCreditCmd:
		replica, err := n.currentReplica()
		if nil != err {
			return nil, err
		}
		return nil, replica.ReceivePropagated(c.proof)

	case *joinRequestCmd:
		return nil, n.doJoinRequest(c)
	}

	n.log.Errorf("unhandled command: %s", cmd.Name())
	return nil, nil
}

// onCmdFault - dispatcher error sink
func (n *node) onCmdFault(err error) {
	n.log.Warnf("command fault: %s", err)
}

func (n *node) currentReplica() (*transfer.Replica, error) {
	n.RLock()
	defer n.RUnlock()
	if nil == n.replica {
		return nil, fault.ErrNotInitialised
	}
	return n.replica, nil
}

func (n *node) currentManager() (*membership.Manager, error) {
	n.RLock()
	defer n.RUnlock()
	if nil == n.manager {
		return nil, fault.ErrNotInitialised
	}
	return n.manager, nil
}

// validatePayment - the payment must cover the current store cost and
// pay this section's reward wallet
func (n *node) validatePayment(payment economy.Payment) error {
	return n.gateway.ValidatePayment(payment, n.sectionKey(), n.reward.Public, n.storeCost())
}

// storeCost - quote from the current section occupancy
func (n *node) storeCost() transfer.Token {
	n.RLock()
	know := n.know
	replica := n.replica
	n.RUnlock()
	if nil == know {
		return economy.MaxSupply
	}

	sap := know.OurSection().SAP
	balance := transfer.Token(0)
	if nil != replica {
		balance, _ = replica.Balance(n.reward.Public)
	}
	return economy.StoreCost(economy.SectionState{
		PrefixLen:     sap.Prefix.BitCount,
		Elders:        len(sap.Elders),
		Adults:        len(sap.Adults()),
		RewardBalance: balance,
	})
}

func (n *node) doPutChunk(c *putChunkCmd) ([]dispatch.Cmd, error) {
	err := n.validatePayment(c.payment)
	if nil != err {
		return nil, err
	}

	err = n.chunks.Put(c.chunk)
	if fault.IsErrExists(err) {
		// storing the same chunk twice is success
		err = nil
	}
	if nil != err {
		return nil, err
	}

	n.replicator.Track(c.chunk.Address)
	return []dispatch.Cmd{&settlePaymentCmd{payment: c.payment}}, nil
}

func (n *node) doSettlePayment(c *settlePaymentCmd) error {
	replica, err := n.currentReplica()
	if nil != err {
		return err
	}
	err = replica.Register(c.payment.Debit)
	if nil != err && !fault.IsErrExists(err) {
		return err
	}
	err = replica.ReceivePropagated(c.payment.Credit)
	if fault.IsErrExists(err) {
		err = nil
	}
	return err
}

func (n *node) doPropagateCredit(c *propagateCreditCmd) error {
	n.RLock()
	know := n.know
	replica := n.replica
	n.RUnlock()
	if nil == know || nil == replica {
		return fault.ErrNotInitialised
	}

	recipient := xorname.NewName(c.credit.Credit.Credit.Recipient[:])
	sap, err := know.SectionFor(recipient)
	if nil != err {
		return err
	}

	if sap.Prefix == know.OurPrefix() {
		return replica.ReceivePropagated(c.credit)
	}

	// the recipient lives elsewhere; hand the proof to its elders
	body := c.credit.Pack()
	for name := range sap.Elders {
		err := n.connect(name)
		if nil == err {
			err = n.pool.Send(name, wire.SysPropagateCredit, body)
		}
		if nil != err {
			n.log.Warnf("propagate credit to %s error: %s", name, err)
			continue
		}
		return nil
	}
	return fault.TimeoutErrorf("propagate credit to " + sap.Prefix.String())
}

func (n *node) doAntiEntropy(c *antiEntropyCmd) error {
	n.RLock()
	know := n.know
	n.RUnlock()
	if nil == know {
		return fault.ErrNotInitialised
	}

	updated, err := know.Update(c.signed, c.proof)
	if nil != err {
		return err
	}
	if updated {
		n.log.Infof("learned section: %s generation: %d",
			c.signed.SAP.Prefix, c.signed.SAP.Generation)
	}
	return nil
}

func (n *node) doJoinRequest(c *joinRequestCmd) error {
	manager, err := n.currentManager()
	if nil != err {
		return err
	}
	if !manager.JoinsAllowed() {
		n.log.Infof("join refused, section closed: %s", c.name)
		return nil
	}

	sap := manager.CurrentSAP()
	if _, ok := sap.Members[c.name]; ok {
		return nil // already a member
	}

	return manager.Propose(&membership.Online{
		Generation: sap.Generation,
		Member: knowledge.MemberInfo{
			Name:         c.name,
			Addr:         c.addr,
			TransportKey: c.transportKey,
			State:        knowledge.StateJoined,
		},
	})
}
