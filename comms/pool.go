// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package comms

import (
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/chunkstore"
	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/wire"
	"github.com/sectionnet/sectiond/xorname"
)

// Pool - the set of live peer connections
//
// implements the replication transport: chunks are pushed and
// fetched as system messages signed with the node identity
type Pool struct {
	sync.Mutex
	log        *logger.L
	node       *keyshare.NodeKeypair
	publicKey  []byte
	privateKey []byte
	sectionKey func() keyshare.PublicKey
	timeout    time.Duration
	clients    map[xorname.Name]*Client
}

// NewPool - create an empty pool
//
// sectionKey supplies the current section key for envelope
// destinations and may change over time
func NewPool(node *keyshare.NodeKeypair, publicKey []byte, privateKey []byte, sectionKey func() keyshare.PublicKey) *Pool {
	return &Pool{
		log:        logger.New("comms-pool"),
		node:       node,
		publicKey:  append([]byte{}, publicKey...),
		privateKey: append([]byte{}, privateKey...),
		sectionKey: sectionKey,
		timeout:    RequestTimeout,
		clients:    make(map[xorname.Name]*Client),
	}
}

// SetTimeout - request timeout for subsequently opened connections
func (p *Pool) SetTimeout(timeout time.Duration) {
	p.Lock()
	p.timeout = timeout
	p.Unlock()
}

// Dial - connect to a peer, replacing any existing connection
func (p *Pool) Dial(peer xorname.Name, address string, serverPublicKey []byte) error {
	client, err := NewClient(p.privateKey, p.publicKey, p.timeout)
	if nil != err {
		return err
	}
	err = client.Connect(address, serverPublicKey)
	if nil != err {
		return err
	}

	p.Lock()
	old := p.clients[peer]
	p.clients[peer] = client
	p.Unlock()

	if nil != old {
		old.Close()
	}
	p.log.Infof("connected: %s at %s", peer, address)
	return nil
}

// Disconnect - drop the connection to a peer
func (p *Pool) Disconnect(peer xorname.Name) {
	p.Lock()
	client := p.clients[peer]
	delete(p.clients, peer)
	p.Unlock()

	if nil != client {
		client.Close()
	}
}

// CloseAll - drop every connection
func (p *Pool) CloseAll() {
	p.Lock()
	clients := p.clients
	p.clients = make(map[xorname.Name]*Client)
	p.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

func (p *Pool) client(peer xorname.Name) (*Client, error) {
	p.Lock()
	client := p.clients[peer]
	p.Unlock()
	if nil == client {
		return nil, fault.ErrNotConnected
	}
	return client, nil
}

// build a signed node envelope around a system message
func (p *Pool) systemEnvelope(peer xorname.Name, operation uint8, body []byte) (*wire.Envelope, error) {
	return p.signedEnvelope(peer, wire.SystemMsg, operation, body)
}

// build a signed node envelope around any message
func (p *Pool) signedEnvelope(peer xorname.Name, msgType wire.MsgType, operation uint8, body []byte) (*wire.Envelope, error) {
	msg := &wire.Msg{
		Type:      msgType,
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
		Kind: wire.KindNode,
		Dst: wire.Dst{
			Name:      peer,
			SectionPK: p.sectionKey(),
		},
		Auth: wire.NodeAuth{
			Name:      p.node.Name,
			PublicKey: p.node.PublicKey,
			Signature: p.node.Sign(payload),
		},
		Payload: payload,
	}, nil
}

// Send - system message to one connected peer, reply discarded
func (p *Pool) Send(peer xorname.Name, operation uint8, body []byte) error {
	client, err := p.client(peer)
	if nil != err {
		return err
	}
	envelope, err := p.systemEnvelope(peer, operation, body)
	if nil != err {
		return err
	}
	_, err = client.Request(envelope)
	return err
}

// Request - system message to one connected peer, returning the
// decoded reply or nil on a bare acknowledgement
func (p *Pool) Request(peer xorname.Name, msgType wire.MsgType, operation uint8, body []byte) (*wire.Msg, error) {
	client, err := p.client(peer)
	if nil != err {
		return nil, err
	}
	envelope, err := p.signedEnvelope(peer, msgType, operation, body)
	if nil != err {
		return nil, err
	}
	reply, err := client.Request(envelope)
	if nil != err {
		return nil, err
	}
	if nil == reply {
		return nil, nil
	}
	return wire.UnpackMsg(reply.Payload)
}

// Connected - whether a client for the peer exists
func (p *Pool) Connected(peer xorname.Name) bool {
	p.Lock()
	defer p.Unlock()
	return nil != p.clients[peer]
}

// Push - hand a chunk to a peer
func (p *Pool) Push(peer xorname.Name, chunk chunkstore.Chunk) error {
	client, err := p.client(peer)
	if nil != err {
		return err
	}
	envelope, err := p.systemEnvelope(peer, wire.SysReplicatePush, chunk.Pack())
	if nil != err {
		return err
	}
	_, err = client.Request(envelope)
	return err
}

// Fetch - retrieve a chunk a peer holds
func (p *Pool) Fetch(peer xorname.Name, address chunkstore.Address) (chunkstore.Chunk, error) {
	client, err := p.client(peer)
	if nil != err {
		return chunkstore.Chunk{}, err
	}
	envelope, err := p.systemEnvelope(peer, wire.SysReplicateFetch, address.Pack())
	if nil != err {
		return chunkstore.Chunk{}, err
	}
	reply, err := client.Request(envelope)
	if nil != err {
		return chunkstore.Chunk{}, err
	}
	if nil == reply {
		return chunkstore.Chunk{}, fault.ErrChunkNotFound
	}
	msg, err := wire.UnpackMsg(reply.Payload)
	if nil != err {
		return chunkstore.Chunk{}, err
	}
	if wire.DataResponse != msg.Type {
		return chunkstore.Chunk{}, fault.ErrInvalidPeerResponse
	}
	return chunkstore.UnpackChunk(msg.Body)
}

// Broadcast - best effort send to every connected peer
//
// used for membership share messages; delivery failures are logged,
// aggregation tolerates missing shares
func (p *Pool) Broadcast(operation uint8, body []byte) {
	p.Lock()
	peers := make([]xorname.Name, 0, len(p.clients))
	for peer := range p.clients {
		peers = append(peers, peer)
	}
	p.Unlock()

	for _, peer := range peers {
		client, err := p.client(peer)
		if nil != err {
			continue
		}
		envelope, err := p.systemEnvelope(peer, operation, body)
		if nil != err {
			p.log.Errorf("broadcast pack error: %v", err)
			return
		}
		_, err = client.Request(envelope)
		if nil != err {
			p.log.Warnf("broadcast to %s failed: %v", peer, err)
		}
	}
}
