// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package comms

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/bitmark-inc/logger"
	zmq "github.com/pebbe/zmq4"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/wire"
)

const (
	serverZapDomain = "node"

	heartbeatInterval = 15 * time.Second
	heartbeatTimeout  = 60 * time.Second
	heartbeatTTL      = 120 * time.Second
)

// sequence for unique inproc signal names
var signalCounter uint64

// Handler - processes one request envelope, returning the reply
//
// a nil reply with a nil error sends an empty acknowledgement
type Handler func(request *wire.Envelope) (*wire.Envelope, error)

// Server - the node's request socket pair
type Server struct {
	log     *logger.L
	handler Handler
	push    *zmq.Socket // signal send
	pull    *zmq.Socket // signal receive
	socket4 *zmq.Socket // IPv4 traffic
	socket6 *zmq.Socket // IPv6 traffic
}

// NewServer - allocate a server for later initialisation
func NewServer(handler Handler) *Server {
	return &Server{
		log:     logger.New("comms-server"),
		handler: handler,
	}
}

// NewSignalPair - connected push/pull pair for shutdown signalling
func NewSignalPair(signal string) (*zmq.Socket, *zmq.Socket, error) {
	push, err := zmq.NewSocket(zmq.PUSH)
	if nil != err {
		return nil, nil, err
	}
	push.SetLinger(0)
	err = push.Bind(signal)
	if nil != err {
		push.Close()
		return nil, nil, err
	}

	pull, err := zmq.NewSocket(zmq.PULL)
	if nil != err {
		push.Close()
		return nil, nil, err
	}
	pull.SetLinger(0)
	err = pull.Connect(signal)
	if nil != err {
		push.Close()
		pull.Close()
		return nil, nil, err
	}

	return push, pull, nil
}

// canonicalAddress - "tcp://host:port" bind string and an IPv6 flag
func canonicalAddress(listen string) (string, bool, error) {
	host, port, err := net.SplitHostPort(listen)
	if nil != err {
		return "", false, fault.ErrInvalidIpAddress
	}
	if "" == port {
		return "", false, fault.ErrInvalidPortNumber
	}
	if "*" == host {
		return "tcp://*:" + port, false, nil
	}
	ip := net.ParseIP(host)
	if nil == ip {
		return "", false, fault.ErrInvalidIpAddress
	}
	if nil != ip.To4() {
		return "tcp://" + ip.String() + ":" + port, false, nil
	}
	return "tcp://[" + ip.String() + "]:" + port, true, nil
}

// Initialise - bind the listen addresses
//
// creates up to two sockets so IPv4 and IPv6 traffic stay separate
func (srv *Server) Initialise(privateKey []byte, publicKey []byte, listen []string) error {
	log := srv.log
	log.Info("initialising…")

	signal := fmt.Sprintf("inproc://sectiond-server-signal-%d", atomic.AddUint64(&signalCounter, 1))
	push, pull, err := NewSignalPair(signal)
	if nil != err {
		return err
	}
	srv.push = push
	srv.pull = pull

	for i, address := range listen {
		bindTo, v6, err := canonicalAddress(address)
		if nil != err {
			return err
		}
		socket := srv.socket4
		if v6 {
			socket = srv.socket6
		}
		if nil == socket {
			socket, err = newServerSocket(zmq.REP, serverZapDomain, privateKey, publicKey, v6)
			if nil != err {
				return err
			}
			if v6 {
				srv.socket6 = socket
			} else {
				srv.socket4 = socket
			}
		}
		err = socket.Bind(bindTo)
		if nil != err {
			log.Errorf("cannot bind[%d]: %q  error: %v", i, bindTo, err)
			return err
		}
		log.Infof("bind[%d]: %q  IPv6: %v", i, bindTo, v6)
	}
	return nil
}

func newServerSocket(socketType zmq.Type, zapDomain string, privateKey []byte, publicKey []byte, v6 bool) (*zmq.Socket, error) {
	socket, err := zmq.NewSocket(socketType)
	if nil != err {
		return nil, err
	}

	// allow any client holding the server key to connect
	zmq.AuthCurveAdd(zapDomain, zmq.CURVE_ALLOW_ANY)

	socket.SetCurveServer(1)
	socket.SetCurveSecretkey(string(privateKey))
	socket.SetZapDomain(zapDomain)

	// public key doubles as the identity
	socket.SetIdentity(string(publicKey))

	socket.SetIpv6(v6)

	socket.SetHeartbeatIvl(heartbeatInterval)
	socket.SetHeartbeatTimeout(heartbeatTimeout)
	socket.SetHeartbeatTtl(heartbeatTTL)

	return socket, nil
}

// Run - poll for requests until shutdown
func (srv *Server) Run(args interface{}, shutdown <-chan struct{}) {
	log := srv.log
	log.Info("starting…")

	go func() {
		poller := zmq.NewPoller()
		if nil != srv.socket4 {
			poller.Add(srv.socket4, zmq.POLLIN)
		}
		if nil != srv.socket6 {
			poller.Add(srv.socket6, zmq.POLLIN)
		}
		poller.Add(srv.pull, zmq.POLLIN)
	loop:
		for {
			sockets, _ := poller.Poll(-1)
			for _, socket := range sockets {
				switch s := socket.Socket; s {
				case srv.socket4:
					srv.process(srv.socket4)
				case srv.socket6:
					srv.process(srv.socket6)
				case srv.pull:
					s.RecvMessageBytes(0)
					break loop
				}
			}
		}
		log.Info("shutting down")
		srv.pull.Close()
		if nil != srv.socket4 {
			srv.socket4.Close()
		}
		if nil != srv.socket6 {
			srv.socket6.Close()
		}
		log.Info("stopped")
	}()

	<-shutdown
	log.Info("initiate shutdown")
	srv.push.SendMessage("stop")
	srv.push.Close()
}

// receive one request, run the handler and send the reply
func (srv *Server) process(socket *zmq.Socket) {
	log := srv.log

	data, err := socket.RecvMessageBytes(0)
	if nil != err {
		log.Errorf("receive error: %v", err)
		return
	}
	if 1 != len(data) {
		srv.sendError(socket, fault.ErrInvalidEnvelope)
		return
	}

	request, err := wire.Unpack(data[0])
	if nil != err {
		log.Warnf("unpack error: %v", err)
		srv.sendError(socket, err)
		return
	}
	if err := request.Auth.Verify(request.Payload); nil != err {
		log.Warnf("authority rejected: %s  error: %v", request.ID, err)
		srv.sendError(socket, err)
		return
	}

	log.Debugf("request: %s  kind: %d", request.ID, request.Kind)

	reply, err := srv.handler(request)
	if nil != err {
		srv.sendError(socket, err)
		return
	}
	if nil == reply {
		socket.SendMessage("A")
		return
	}
	packed, err := reply.Pack()
	if nil != err {
		srv.sendError(socket, err)
		return
	}
	socket.SendMessage("R", packed)
}

func (srv *Server) sendError(socket *zmq.Socket, err error) {
	_, e := socket.SendMessage("E", err.Error())
	if nil != e {
		srv.log.Errorf("send error reply: %v", e)
	}
}
