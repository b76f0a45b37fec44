// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"

	"github.com/sectionnet/sectiond/chunkstore"
	"github.com/sectionnet/sectiond/dispatch"
	"github.com/sectionnet/sectiond/economy"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/register"
	"github.com/sectionnet/sectiond/transfer"
	"github.com/sectionnet/sectiond/util"
	"github.com/sectionnet/sectiond/wire"
	"github.com/sectionnet/sectiond/xorname"
)

const registerAddressSize = xorname.Length + 8

// request - the comms server handler; envelope authority is already
// verified by the server before this is called
func (n *node) request(request *wire.Envelope) (*wire.Envelope, error) {
	msg, err := wire.UnpackMsg(request.Payload)
	if nil != err {
		return nil, err
	}

	// a request addressed with a stale section key gets the current
	// signed section and proof chain instead of an answer
	var zeroKey keyshare.PublicKey
	if n.joined() &&
		zeroKey != request.Dst.SectionPK &&
		n.sectionKey() != request.Dst.SectionPK {
		return n.antiEntropyResponse(request)
	}

	switch msg.Type {

	case wire.ServiceQuery:
		return n.serviceQuery(request, msg)

	case wire.ServiceCmd:
		return nil, n.serviceCmd(request, msg)

	case wire.NodeQuery:
		if wire.SysAntiEntropyUpdate == msg.Operation {
			return n.antiEntropyResponse(request)
		}
		return nil, fault.ErrInvalidEnvelope

	case wire.SystemMsg:
		return n.systemMsg(request, msg)
	}

	return nil, fault.ErrInvalidEnvelope
}

// serviceQuery - synchronous client reads
func (n *node) serviceQuery(request *wire.Envelope, msg *wire.Msg) (*wire.Envelope, error) {
	switch msg.Operation {

	case wire.OpGetChunk:
		address, err := chunkstore.UnpackAddress(msg.Body)
		if nil != err {
			return nil, err
		}
		var requester *keyshare.PublicKey
		if auth, ok := request.Auth.(wire.ClientAuth); ok {
			requester = &auth.PublicKey
		}
		chunk, err := n.chunks.Get(address, requester)
		if nil != err {
			return nil, err
		}
		return n.dataResponse(request, msg.Operation, chunk.Pack())

	case wire.OpGetRegister:
		address, err := unpackRegisterAddress(msg.Body)
		if nil != err {
			return nil, err
		}
		ops, err := n.registers.ReadLatest(address)
		if nil != err {
			return nil, err
		}
		body := util.ToVarint64(uint64(len(ops)))
		for _, op := range ops {
			body = append(body, op.Pack()...)
		}
		return n.dataResponse(request, msg.Operation, body)

	case wire.OpGetRegisterEntry:
		if registerAddressSize+len(register.OpID{}) != len(msg.Body) {
			return nil, fault.ErrMessageTooShort
		}
		address, err := unpackRegisterAddress(msg.Body[:registerAddressSize])
		if nil != err {
			return nil, err
		}
		var id register.OpID
		copy(id[:], msg.Body[registerAddressSize:])
		op, err := n.registers.ReadAt(address, id)
		if nil != err {
			return nil, err
		}
		return n.dataResponse(request, msg.Operation, op.Pack())

	case wire.OpGetRegisterPolicy:
		address, err := unpackRegisterAddress(msg.Body)
		if nil != err {
			return nil, err
		}
		policy, err := n.registers.Policy(address)
		if nil != err {
			return nil, err
		}
		return n.dataResponse(request, msg.Operation, policy.Pack())

	case wire.OpValidateTransfer:
		replica, err := n.currentReplica()
		if nil != err {
			return nil, err
		}
		signed, err := transfer.UnpackSignedTransfer(msg.Body)
		if nil != err {
			return nil, err
		}
		shares, err := replica.Validate(signed)
		if nil != err {
			return nil, err
		}
		return n.dataResponse(request, msg.Operation, shares.Pack())

	case wire.OpGetWalletHistory:
		if keyshare.PublicKeySize+8 != len(msg.Body) {
			return nil, fault.ErrMessageTooShort
		}
		replica, err := n.currentReplica()
		if nil != err {
			return nil, err
		}
		owner, err := keyshare.PublicKeyFromBytes(msg.Body[:keyshare.PublicKeySize])
		if nil != err {
			return nil, err
		}
		since := binary.BigEndian.Uint64(msg.Body[keyshare.PublicKeySize:])
		events, err := replica.History(owner, since)
		if nil != err {
			return nil, err
		}
		body := make([]byte, 0, len(events)*transfer.EventRecordSize)
		for _, event := range events {
			body = append(body, event.Pack()...)
		}
		return n.dataResponse(request, msg.Operation, body)
	}

	return nil, fault.ErrInvalidEnvelope
}

// serviceCmd - client writes; rate limited at ingress, acknowledged
// immediately and executed on the dispatcher
func (n *node) serviceCmd(request *wire.Envelope, msg *wire.Msg) error {
	auth, ok := request.Auth.(wire.ClientAuth)
	if !ok {
		return fault.ErrAccessDenied
	}
	client := xorname.NewName(auth.PublicKey[:])

	err := n.gateway.Allow(client)
	if nil != err {
		return err
	}

	cmd, err := n.clientCmd(client, msg)
	if nil != err {
		return err
	}
	_, err = n.dispatcher.Enqueue(cmd)
	return err
}

// clientCmd - decode a client write body into its command
func (n *node) clientCmd(client xorname.Name, msg *wire.Msg) (dispatch.Cmd, error) {
	switch msg.Operation {

	case wire.OpPutChunk:
		payment, used, err := economy.UnpackPayment(msg.Body)
		if nil != err {
			return nil, err
		}
		chunk, err := chunkstore.UnpackChunk(msg.Body[used:])
		if nil != err {
			return nil, err
		}
		return &putChunkCmd{
			client:  client,
			chunk:   chunk,
			payment: payment,
		}, nil

	case wire.OpCreateRegister:
		payment, used, err := economy.UnpackPayment(msg.Body)
		if nil != err {
			return nil, err
		}
		buffer := msg.Body[used:]
		if len(buffer) < registerAddressSize {
			return nil, fault.ErrMessageTooShort
		}
		address, err := unpackRegisterAddress(buffer[:registerAddressSize])
		if nil != err {
			return nil, err
		}
		policy, err := register.UnpackPolicy(buffer[registerAddressSize:])
		if nil != err {
			return nil, err
		}
		return &createRegisterCmd{
			client:  client,
			address: address,
			policy:  policy,
			payment: payment,
		}, nil

	case wire.OpEditRegister:
		payment, used, err := economy.UnpackPayment(msg.Body)
		if nil != err {
			return nil, err
		}
		op, err := register.UnpackSignedOp(msg.Body[used:])
		if nil != err {
			return nil, err
		}
		return &editRegisterCmd{
			client:  client,
			op:      op,
			payment: payment,
		}, nil

	case wire.OpCreateWallet:
		proof, _, err := transfer.UnpackCreditAgreementProof(msg.Body)
		if nil != err {
			return nil, err
		}
		return &createWalletCmd{proof: proof}, nil

	case wire.OpRegisterTransfer:
		debit, used, err := transfer.UnpackDebitAgreementProof(msg.Body)
		if nil != err {
			return nil, err
		}
		credit, _, err := transfer.UnpackCreditAgreementProof(msg.Body[used:])
		if nil != err {
			return nil, err
		}
		return &registerTransferCmd{
			debit:  debit,
			credit: credit,
		}, nil
	}

	return nil, fault.ErrInvalidEnvelope
}

// systemMsg - node to node traffic
func (n *node) systemMsg(request *wire.Envelope, msg *wire.Msg) (*wire.Envelope, error) {
	switch msg.Operation {

	case wire.SysDkgMessage:
		payload := make([]byte, len(msg.Body))
		copy(payload, msg.Body)
		_, err := n.dispatcher.Enqueue(&dkgCmd{payload: payload})
		return nil, err

	case wire.SysPropose:
		payload := make([]byte, len(msg.Body))
		copy(payload, msg.Body)
		_, err := n.dispatcher.Enqueue(&proposeCmd{payload: payload})
		return nil, err

	case wire.SysAntiEntropyUpdate:
		signed, proof, err := knowledge.UnpackAntiEntropy(msg.Body)
		if nil != err {
			return nil, err
		}
		_, err = n.dispatcher.Enqueue(&antiEntropyCmd{
			signed: signed,
			proof:  proof,
		})
		return nil, err

	case wire.SysReplicatePush:
		chunk, err := chunkstore.UnpackChunk(msg.Body)
		if nil != err {
			return nil, err
		}
		_, err = n.dispatcher.Enqueue(&replicatePushCmd{chunk: chunk})
		return nil, err

	case wire.SysReplicateFetch:
		address, err := chunkstore.UnpackAddress(msg.Body)
		if nil != err {
			return nil, err
		}
		chunk, err := n.chunks.Get(address, nil)
		if nil != err {
			return nil, err
		}
		return n.dataResponse(request, msg.Operation, chunk.Pack())

	case wire.SysPropagateCredit:
		proof, _, err := transfer.UnpackCreditAgreementProof(msg.Body)
		if nil != err {
			return nil, err
		}
		_, err = n.dispatcher.Enqueue(&propagatedCreditCmd{proof: proof})
		return nil, err

	case wire.SysJoinRequest:
		auth, ok := request.Auth.(wire.NodeAuth)
		if !ok {
			return nil, fault.ErrAccessDenied
		}
		addr, transportKey, err := unpackJoinRequest(msg.Body)
		if nil != err {
			return nil, err
		}
		_, err = n.dispatcher.Enqueue(&joinRequestCmd{
			name:         auth.Name,
			addr:         addr,
			transportKey: transportKey,
		})
		return nil, err
	}

	return nil, fault.ErrInvalidEnvelope
}

// antiEntropyResponse - our signed section with the proof chain back
// to genesis, so any holder of an older key can verify the succession
func (n *node) antiEntropyResponse(request *wire.Envelope) (*wire.Envelope, error) {
	n.RLock()
	know := n.know
	chain := n.chain
	n.RUnlock()
	if nil == know || nil == chain {
		return nil, fault.ErrNotInitialised
	}

	signed := know.OurSection()
	proof, err := chain.ProofChain(chain.Genesis(), signed.Sig.PublicKey)
	if nil != err {
		return nil, err
	}
	return n.dataResponse(request, wire.SysAntiEntropyUpdate,
		knowledge.PackAntiEntropy(signed, proof))
}

// dataResponse - reply envelope correlated to the request
func (n *node) dataResponse(request *wire.Envelope, operation uint8, body []byte) (*wire.Envelope, error) {
	msg := wire.Msg{
		Type:      wire.DataResponse,
		Operation: operation,
		Body:      body,
	}
	payload, err := msg.Pack()
	if nil != err {
		return nil, err
	}
	id, err := wire.NewMsgID()
	if nil != err {
		return nil, err
	}
	return &wire.Envelope{
		ID:   id,
		Kind: wire.KindDataResponse,
		Dst: wire.Dst{
			Name:      senderName(request),
			SectionPK: request.Dst.SectionPK,
		},
		Auth: wire.DataResponseAuth{
			Name:        n.identity.Name,
			Correlation: request.ID,
		},
		Payload: payload,
	}, nil
}

// senderName - xor-space name of whoever sent the envelope
func senderName(envelope *wire.Envelope) xorname.Name {
	switch auth := envelope.Auth.(type) {
	case wire.ClientAuth:
		return xorname.NewName(auth.PublicKey[:])
	case wire.NodeAuth:
		return auth.Name
	case wire.AntiEntropyAuth:
		return auth.Name
	case wire.DataResponseAuth:
		return auth.Name
	}
	return xorname.Name{}
}

// unpackRegisterAddress - name then big endian type tag
func unpackRegisterAddress(buffer []byte) (register.Address, error) {
	if registerAddressSize != len(buffer) {
		return register.Address{}, fault.ErrMessageTooShort
	}
	var name xorname.Name
	copy(name[:], buffer[:xorname.Length])
	return register.Address{
		Name: name,
		Tag:  binary.BigEndian.Uint64(buffer[xorname.Length:]),
	}, nil
}

func packRegisterAddress(address register.Address) []byte {
	buffer := make([]byte, registerAddressSize)
	copy(buffer, address.Name[:])
	binary.BigEndian.PutUint64(buffer[xorname.Length:], address.Tag)
	return buffer
}

// join request body: listen address then CURVE transport key
func packJoinRequest(addr string, transportKey []byte) []byte {
	buffer := make([]byte, 0, 2*util.Varint64MaximumBytes+len(addr)+len(transportKey))
	buffer = append(buffer, util.ToVarint64(uint64(len(addr)))...)
	buffer = append(buffer, addr...)
	buffer = append(buffer, util.ToVarint64(uint64(len(transportKey)))...)
	return append(buffer, transportKey...)
}

func unpackJoinRequest(buffer []byte) (string, []byte, error) {
	addrLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+addrLength {
		return "", nil, fault.ErrMessageTooShort
	}
	addr := string(buffer[used : uint64(used)+addrLength])
	buffer = buffer[uint64(used)+addrLength:]

	keyLength, used := util.FromVarint64(buffer)
	if 0 == used || uint64(len(buffer)) < uint64(used)+keyLength {
		return "", nil, fault.ErrMessageTooShort
	}
	transportKey := make([]byte, keyLength)
	copy(transportKey, buffer[used:uint64(used)+keyLength])
	return addr, transportKey, nil
}
