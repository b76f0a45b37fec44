// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package comms

import (
	"crypto/rand"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/wire"
)

// RequestTimeout - default bound on a round trip to a peer
const RequestTimeout = 60 * time.Second

const identifierSize = 32

// Client - a connection to one peer
type Client struct {
	publicKey       []byte
	privateKey      []byte
	serverPublicKey []byte
	address         string
	v6              bool
	socket          *zmq.Socket
	timeout         time.Duration
	timestamp       time.Time
}

// NewClient - allocate a client, Connect makes it usable
func NewClient(privateKey []byte, publicKey []byte, timeout time.Duration) (*Client, error) {
	if publicLength != len(publicKey) {
		return nil, fault.ErrInvalidKeyLength
	}
	if privateLength != len(privateKey) {
		return nil, fault.ErrInvalidKeyLength
	}

	client := &Client{
		publicKey:       append([]byte{}, publicKey...),
		privateKey:      append([]byte{}, privateKey...),
		serverPublicKey: make([]byte, publicLength),
		timeout:         timeout,
		timestamp:       time.Now(),
	}
	return client, nil
}

func (client *Client) openSocket() error {
	socket, err := zmq.NewSocket(zmq.REQ)
	if nil != err {
		return err
	}

	// random identity so reconnects are not coalesced
	randomIdBytes := make([]byte, identifierSize)
	_, err = rand.Read(randomIdBytes)
	if nil != err {
		return err
	}

	err = socket.SetCurveServer(0)
	if nil != err {
		goto failure
	}
	err = socket.SetCurvePublickey(string(client.publicKey))
	if nil != err {
		goto failure
	}
	err = socket.SetCurveSecretkey(string(client.privateKey))
	if nil != err {
		goto failure
	}
	err = socket.SetIdentity(string(randomIdBytes))
	if nil != err {
		goto failure
	}
	err = socket.SetCurveServerkey(string(client.serverPublicKey))
	if nil != err {
		goto failure
	}

	if 0 != client.timeout {
		err = socket.SetSndtimeo(client.timeout)
		if nil != err {
			goto failure
		}
		err = socket.SetRcvtimeo(client.timeout)
		if nil != err {
			goto failure
		}
	}
	err = socket.SetLinger(0)
	if nil != err {
		goto failure
	}
	err = socket.SetReqCorrelate(1)
	if nil != err {
		goto failure
	}
	err = socket.SetReqRelaxed(1)
	if nil != err {
		goto failure
	}

	err = socket.SetHeartbeatIvl(heartbeatInterval)
	if nil != err && zmq.ErrorNotImplemented42 != err {
		goto failure
	}
	err = socket.SetHeartbeatTimeout(heartbeatTimeout)
	if nil != err && zmq.ErrorNotImplemented42 != err {
		goto failure
	}
	err = socket.SetHeartbeatTtl(heartbeatTTL)
	if nil != err && zmq.ErrorNotImplemented42 != err {
		goto failure
	}

	err = socket.SetIpv6(client.v6)
	if nil != err {
		goto failure
	}

	err = socket.Connect(client.address)
	if nil != err {
		goto failure
	}

	client.socket = socket
	return nil
failure:
	socket.Close()
	return err
}

func (client *Client) closeSocket() error {
	if nil == client.socket {
		return nil
	}
	if "" != client.address {
		client.socket.Disconnect(client.address)
	}
	err := client.socket.Close()
	client.socket = nil
	return err
}

// Connect - connect to a peer, disconnecting any previous one
func (client *Client) Connect(address string, serverPublicKey []byte) error {
	if publicLength != len(serverPublicKey) {
		return fault.ErrInvalidKeyLength
	}
	err := client.closeSocket()
	if nil != err {
		return err
	}
	client.address = ""

	// rate limit reconnection
	time.Sleep(5 * time.Millisecond)

	copy(client.serverPublicKey, serverPublicKey)

	bindTo, v6, err := canonicalAddress(address)
	if nil != err {
		return err
	}
	client.address = bindTo
	client.v6 = v6
	client.timestamp = time.Now()

	return client.openSocket()
}

// IsConnected - check for an active connection
func (client *Client) IsConnected() bool {
	return "" != client.address && nil != client.socket
}

// Reconnect - cycle the underlying socket
func (client *Client) Reconnect() error {
	err := client.closeSocket()
	if nil != err {
		return err
	}
	return client.openSocket()
}

// Close - disconnect and release the socket
func (client *Client) Close() error {
	return client.closeSocket()
}

// Request - send an envelope and wait for the peer's reply
//
// a socket timeout comes back as fault.TimeoutError; the socket is
// cycled afterwards so the next request starts clean
func (client *Client) Request(request *wire.Envelope) (*wire.Envelope, error) {
	if !client.IsConnected() {
		return nil, fault.ErrNotConnected
	}

	packed, err := request.Pack()
	if nil != err {
		return nil, err
	}

	_, err = client.socket.SendBytes(packed, 0)
	if nil != err {
		client.Reconnect()
		return nil, fault.TimeoutErrorf("send to " + client.address)
	}

	data, err := client.socket.RecvMessageBytes(0)
	if nil != err {
		client.Reconnect()
		return nil, fault.TimeoutErrorf("receive from " + client.address)
	}
	return unpackReply(data)
}

// decode the tagged reply frames from a server
func unpackReply(data [][]byte) (*wire.Envelope, error) {
	if 0 == len(data) {
		return nil, fault.ErrInvalidPeerResponse
	}
	switch string(data[0]) {
	case "A":
		return nil, nil
	case "R":
		if 2 != len(data) {
			return nil, fault.ErrInvalidPeerResponse
		}
		return wire.Unpack(data[1])
	case "E":
		if 2 != len(data) {
			return nil, fault.ErrInvalidPeerResponse
		}
		return nil, fault.ProcessError(string(data[1]))
	default:
		return nil, fault.ErrInvalidPeerResponse
	}
}

// String - the connected address, for logging
func (client Client) String() string {
	return client.address
}
