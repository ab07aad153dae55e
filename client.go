package raft

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/raftcore/raft/raerrors"
)

// Client is the front-end a host process hands to external callers. It
// correlates ClientRequest/ClientResponse traffic by a fresh request id and
// blocks the caller on a per-request response channel, the Go-idiomatic
// substitute for the mpsc-request/oneshot-response pairing used by the
// original client front-end this package's Request/Response shapes were
// modeled on.
type Client struct {
	send func(Message)

	mu      sync.Mutex
	pending map[string]chan Event
}

// NewClient builds a Client that submits requests via send (typically a
// Loop's inbound channel, addressed to Local).
func NewClient(send func(Message)) *Client {
	return &Client{send: send, pending: make(map[string]chan Event)}
}

func (c *Client) newRequestID() []byte {
	id := make([]byte, 16)
	_, _ = rand.Read(id)
	return id
}

func (c *Client) register(id []byte) chan Event {
	ch := make(chan Event, 1)
	c.mu.Lock()
	c.pending[string(id)] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(id []byte) {
	c.mu.Lock()
	delete(c.pending, string(id))
	c.mu.Unlock()
}

// Deliver routes an inbound ClientResponse event to the caller awaiting it.
// The host process calls this whenever a Loop emits a ClientResponse
// addressed to Client().
func (c *Client) Deliver(event Event) {
	c.mu.Lock()
	ch, ok := c.pending[string(event.RequestID)]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- event:
	default:
	}
}

func (c *Client) do(ctx context.Context, req Request) (Event, error) {
	id := c.newRequestID()
	ch := c.register(id)
	defer c.unregister(id)

	c.send(Message{From: Client(), To: Local(), Event: ClientRequestEvent(id, req)})

	select {
	case ev := <-ch:
		return ev, ev.Err
	case <-ctx.Done():
		return Event{}, raerrors.WrapChannelClosed(ctx.Err(), "client request cancelled")
	}
}

// Mutate submits a replicated write and blocks until it is committed and
// applied, or ctx is done.
func (c *Client) Mutate(ctx context.Context, command []byte) ([]byte, error) {
	ev, err := c.do(ctx, MutateRequest(command))
	if err != nil {
		return nil, err
	}
	return ev.Response.Result, nil
}

// Query submits a linearizable read and blocks until a read-quorum has
// confirmed leadership, or ctx is done.
func (c *Client) Query(ctx context.Context, command []byte) ([]byte, error) {
	ev, err := c.do(ctx, QueryRequest(command))
	if err != nil {
		return nil, err
	}
	return ev.Response.Result, nil
}

// Status retrieves the responding node's view of the cluster.
func (c *Client) Status(ctx context.Context) (Status, error) {
	ev, err := c.do(ctx, StatusRequest())
	if err != nil {
		return Status{}, err
	}
	return ev.Response.Status, nil
}
