package raft

import (
	"sync"
	"time"

	"github.com/raftcore/raft/raerrors"
)

// Loop drives a Node's event loop: one goroutine calls Step/Tick
// exclusively (the only goroutine ever allowed to touch the Node, per the
// single-threaded core requirement), while separate goroutines drain the
// outbound message and instruction queues it produces, mirroring the
// teacher's "launch N goroutines on Start, signal shutdown via a done
// channel, wg.Wait on Stop" wiring.
type Loop struct {
	node      *Node
	transport Transport
	driver    Driver

	outbound     chan Message
	instructions chan Instruction
	respond      chan Message

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewLoop builds a Loop for node, sending outbound messages via transport
// and instructions to driver. Both must be non-nil.
func NewLoop(node *Node, transport Transport, driver Driver) (*Loop, error) {
	if transport == nil {
		return nil, raerrors.NewConfig("transport must not be nil")
	}
	if driver == nil {
		return nil, raerrors.NewConfig("driver must not be nil")
	}
	return &Loop{
		node:         node,
		transport:    transport,
		driver:       driver,
		outbound:     make(chan Message, 256),
		instructions: make(chan Instruction, 256),
		respond:      make(chan Message, 256),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the event loop goroutines: the core step/tick pump, the
// outbound transport pump, and the instruction/driver pump.
func (lp *Loop) Start() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.running {
		return
	}
	lp.running = true

	lp.wg.Add(3)
	go lp.corePump()
	go lp.outboundPump()
	go lp.driverPump()
}

// Stop signals every loop goroutine to exit and waits for them to finish.
func (lp *Loop) Stop() {
	lp.mu.Lock()
	if !lp.running {
		lp.mu.Unlock()
		return
	}
	lp.running = false
	lp.mu.Unlock()

	close(lp.done)
	lp.wg.Wait()
}

// corePump is the only goroutine ever allowed to call Step or Tick.
func (lp *Loop) corePump() {
	defer lp.wg.Done()

	ticker := time.NewTicker(lp.node.opts.tickInterval)
	defer ticker.Stop()

	inbox := lp.transport.Inbox()

	for {
		select {
		case <-lp.done:
			return
		case <-ticker.C:
			lp.handleResult(lp.node.Tick())
		case msg := <-inbox:
			lp.handleResult(lp.node.Step(msg))
		case msg := <-lp.respond:
			lp.handleResult(lp.node.Step(msg))
		}
	}
}

func (lp *Loop) handleResult(msgs []Message, instrs []Instruction, err error) {
	if err != nil {
		if raerrors.Is(err, raerrors.IO) || raerrors.Is(err, raerrors.Internal) {
			lp.node.opts.logger.Fatalf("node step failed fatally: %v", err)
		} else {
			lp.node.opts.logger.Errorf("node step failed: %v", err)
		}
		return
	}
	for _, m := range msgs {
		select {
		case lp.outbound <- m:
		case <-lp.done:
			return
		}
	}
	for _, i := range instrs {
		select {
		case lp.instructions <- i:
		case <-lp.done:
			return
		}
	}
}

func (lp *Loop) outboundPump() {
	defer lp.wg.Done()
	for {
		select {
		case <-lp.done:
			return
		case m := <-lp.outbound:
			if err := lp.transport.Send(m); err != nil {
				lp.node.opts.logger.Warnf("failed to send message: %v", err)
			}
		}
	}
}

func (lp *Loop) driverPump() {
	defer lp.wg.Done()
	for {
		select {
		case <-lp.done:
			return
		case i := <-lp.instructions:
			lp.driver.Handle(i, func(resp Message) {
				select {
				case lp.respond <- resp:
				case <-lp.done:
				}
			})
		}
	}
}
