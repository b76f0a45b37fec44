// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dispatch - typed command queue and cooperative loop
//
// the node's hot path is a single event loop pulling commands off a
// bounded queue; a handler may return follow-up commands which are
// queued with the parent id of their trigger so a trace can correlate
// them. Commands declaring CanGoOffThread run on a bounded worker
// pool instead of the loop, so disk and CPU heavy work never stalls
// message handling.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
)

// limits
const (
	queueSize    = 1000
	workerCount  = 8
	observerSize = 256
	maxAttempts  = 3
)

// Cmd - a unit of work for the event loop
type Cmd interface {
	Name() string
	CanGoOffThread() bool
}

// ElderCmd - optional extension for commands that are only valid
// while this node holds a key share; they are dropped after demotion
type ElderCmd interface {
	Cmd
	ElderOnly() bool
}

// Handler - processes one command, returning follow-ups
type Handler func(cmd Cmd) ([]Cmd, error)

// Phase - lifecycle stage reported on the observer channel
type Phase int

const (
	PhaseEnqueued Phase = iota + 1
	PhaseStarted
	PhaseFinished
	PhaseFailed
	PhaseRetried
	PhaseDropped
)

// Transition - one observer event
type Transition struct {
	ID     uint64
	Parent uint64
	Name   string
	Phase  Phase
	Err    error
}

type entry struct {
	id      uint64
	parent  uint64
	attempt int
	cmd     Cmd
}

// Dispatcher - bounded command queue with a cooperative loop
type Dispatcher struct {
	log      *logger.L
	handler  Handler
	faults   func(error)
	queue    chan entry
	observer chan Transition
	workers  chan struct{}
	nextID   uint64
	isElder  int32
	wg       sync.WaitGroup
}

// New - create a dispatcher
//
// faults receives errors that should feed fault detection; nil is
// allowed and discards them
func New(handler Handler, faults func(error)) *Dispatcher {
	if nil == faults {
		faults = func(error) {}
	}
	return &Dispatcher{
		log:      logger.New("dispatch"),
		handler:  handler,
		faults:   faults,
		queue:    make(chan entry, queueSize),
		observer: make(chan Transition, observerSize),
		workers:  make(chan struct{}, workerCount),
	}
}

// SetElder - record promotion or demotion
func (d *Dispatcher) SetElder(elder bool) {
	value := int32(0)
	if elder {
		value = 1
	}
	atomic.StoreInt32(&d.isElder, value)
}

// Observe - transition events for external tracing
//
// the channel is never closed; events are dropped when the reader
// falls behind rather than stalling the loop
func (d *Dispatcher) Observe() <-chan Transition {
	return d.observer
}

// Enqueue - queue a top level command
func (d *Dispatcher) Enqueue(cmd Cmd) (uint64, error) {
	id := atomic.AddUint64(&d.nextID, 1)
	return id, d.enqueue(entry{id: id, cmd: cmd})
}

// queue a follow-up retaining the parent correlation
func (d *Dispatcher) enqueueChild(parent uint64, cmd Cmd) error {
	id := atomic.AddUint64(&d.nextID, 1)
	return d.enqueue(entry{id: id, parent: parent, cmd: cmd})
}

func (d *Dispatcher) enqueue(e entry) error {
	select {
	case d.queue <- e:
		d.emit(e, PhaseEnqueued, nil)
		return nil
	default:
		d.log.Errorf("queue full, dropping: %s", e.cmd.Name())
		return fault.ErrQueueFull
	}
}

func (d *Dispatcher) emit(e entry, phase Phase, err error) {
	t := Transition{
		ID:     e.id,
		Parent: e.parent,
		Name:   e.cmd.Name(),
		Phase:  phase,
		Err:    err,
	}
	select {
	case d.observer <- t:
	default:
	}
}

// Run - the event loop, started as a background process
func (d *Dispatcher) Run(args interface{}, shutdown <-chan struct{}) {
	log := d.log
	log.Info("starting…")

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case e := <-d.queue:
			d.process(e)
		}
	}

	// wait for off-thread work before reporting stopped
	d.wg.Wait()
	log.Info("stopped")
}

func (d *Dispatcher) process(e entry) {
	if elderCmd, ok := e.cmd.(ElderCmd); ok && elderCmd.ElderOnly() {
		if 0 == atomic.LoadInt32(&d.isElder) {
			d.log.Debugf("dropping elder command after demotion: %s", e.cmd.Name())
			d.emit(e, PhaseDropped, nil)
			return
		}
	}

	if e.cmd.CanGoOffThread() {
		d.workers <- struct{}{}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() { <-d.workers }()
			d.handle(e)
		}()
		return
	}
	d.handle(e)
}

func (d *Dispatcher) handle(e entry) {
	d.emit(e, PhaseStarted, nil)

	followUps, err := d.handler(e.cmd)
	if nil != err {
		d.fail(e, err)
		return
	}
	d.emit(e, PhaseFinished, nil)

	for _, cmd := range followUps {
		if err := d.enqueueChild(e.id, cmd); nil != err {
			d.log.Errorf("follow-up of %d dropped: %s", e.id, err)
		}
	}
}

// map a handler error to a retry, a fault notification or a log line
func (d *Dispatcher) fail(e entry, err error) {
	switch {
	case fault.IsErrTimeout(err):
		if e.attempt+1 < maxAttempts {
			e.attempt++
			d.emit(e, PhaseRetried, err)
			if queueErr := d.enqueue(e); nil == queueErr {
				return
			}
		}
		d.faults(err)
	case fault.ErrUntrusted == err, fault.IsErrDoubleSpend(err):
		d.faults(err)
	}
	d.log.Warnf("command %s failed: %s", e.cmd.Name(), err)
	d.emit(e, PhaseFailed, err)
}
