// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package comms

import (
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// Poller - wraps the zmq poller to allow socket removal
type Poller struct {
	sync.Mutex
	sockets map[*zmq.Socket]zmq.State
	poller  *zmq.Poller
}

// NewPoller - create a poller
func NewPoller() *Poller {
	return &Poller{
		sockets: make(map[*zmq.Socket]zmq.State),
		poller:  zmq.NewPoller(),
	}
}

// Add - register a socket, duplicate adds are ignored
func (poller *Poller) Add(socket *zmq.Socket, events zmq.State) {
	poller.Lock()
	defer poller.Unlock()

	if _, ok := poller.sockets[socket]; ok {
		return
	}
	poller.sockets[socket] = events
	poller.poller.Add(socket, events)
}

// Remove - drop a socket, rebuilding the underlying poller
func (poller *Poller) Remove(socket *zmq.Socket) {
	poller.Lock()
	defer poller.Unlock()

	if _, ok := poller.sockets[socket]; !ok {
		return
	}
	delete(poller.sockets, socket)

	p := zmq.NewPoller()
	for s, events := range poller.sockets {
		p.Add(s, events)
	}
	poller.poller = p
}

// Poll - wait for events
func (poller *Poller) Poll(timeout time.Duration) ([]zmq.Polled, error) {
	poller.Lock()
	p := poller.poller
	poller.Unlock()
	return p.Poll(timeout)
}
