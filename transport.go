package raft

import "github.com/raftcore/raft/raerrors"

// Transport is the send-only/receive-only boundary between a Node's event
// loop and the outside world. Wire encoding is explicitly out of scope for
// this package (see SPEC_FULL.md §1); Transport only specifies the message
// shape a host process must carry.
type Transport interface {
	// Send delivers msg to its destination. Implementations must preserve
	// FIFO order of messages sent to the same peer.
	Send(msg Message) error

	// Inbox returns the channel the node's event loop reads incoming
	// messages from.
	Inbox() <-chan Message
}

// LoopbackTransport is an in-memory Transport connecting a fixed set of
// named peers, each directly reachable from every other. It is used by
// tests and single-process demos.
type LoopbackTransport struct {
	self   string
	inbox  chan Message
	peers  map[string]chan Message
}

// NewLoopbackNetwork builds a LoopbackTransport for every id in ids, fully
// interconnected.
func NewLoopbackNetwork(ids []string, bufSize int) map[string]*LoopbackTransport {
	inboxes := make(map[string]chan Message, len(ids))
	for _, id := range ids {
		inboxes[id] = make(chan Message, bufSize)
	}
	network := make(map[string]*LoopbackTransport, len(ids))
	for _, id := range ids {
		network[id] = &LoopbackTransport{self: id, inbox: inboxes[id], peers: inboxes}
	}
	return network
}

func (t *LoopbackTransport) Send(msg Message) error {
	var targets []chan Message
	switch msg.To.Kind {
	case AddressPeer:
		ch, ok := t.peers[msg.To.Peer]
		if !ok {
			return raerrors.NewChannelClosed("unknown peer: " + msg.To.Peer)
		}
		targets = []chan Message{ch}
	case AddressPeers:
		for id, ch := range t.peers {
			if id == t.self {
				continue
			}
			targets = append(targets, ch)
		}
	case AddressLocal, AddressClient:
		targets = []chan Message{t.inbox}
	}

	for _, ch := range targets {
		select {
		case ch <- msg:
		default:
			return raerrors.NewChannelClosed("peer inbox full or closed")
		}
	}
	return nil
}

func (t *LoopbackTransport) Inbox() <-chan Message {
	return t.inbox
}

// ChannelTransport is a Transport that performs no routing of its own: it
// is the seam a host process uses to bridge the core to a real network
// codec (gRPC, TCP framing, whatever the host chooses to speak). Send
// enqueues outbound messages for the host to drain and ship itself via
// Outbound; Deliver is how the host hands inbound bytes it decoded back to
// the node via Inbox.
type ChannelTransport struct {
	inbox    chan Message
	outbound chan Message
}

// NewChannelTransport builds a ChannelTransport with the given channel
// buffer size.
func NewChannelTransport(bufSize int) *ChannelTransport {
	return &ChannelTransport{
		inbox:    make(chan Message, bufSize),
		outbound: make(chan Message, bufSize),
	}
}

// Send enqueues msg for the host process to encode and ship over its own
// network codec.
func (t *ChannelTransport) Send(msg Message) error {
	select {
	case t.outbound <- msg:
		return nil
	default:
		return raerrors.NewChannelClosed("outbound queue full")
	}
}

// Inbox returns the channel the node's event loop reads incoming messages
// from.
func (t *ChannelTransport) Inbox() <-chan Message {
	return t.inbox
}

// Outbound returns the channel a host process drains to ship messages over
// its own network codec.
func (t *ChannelTransport) Outbound() <-chan Message {
	return t.outbound
}

// Deliver feeds msg, received and decoded by the host over its own network
// codec, into the node's inbound stream.
func (t *ChannelTransport) Deliver(msg Message) error {
	select {
	case t.inbox <- msg:
		return nil
	default:
		return raerrors.NewChannelClosed("inbox full")
	}
}
