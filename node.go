package raft

import (
	"math/rand"
	"time"

	"github.com/raftcore/raft/raerrors"
	"github.com/raftcore/raft/rlog"
)

// Node is the message-driven core of a single Raft participant. It is a
// pure state machine over (current state, inbound message or tick) →
// (new state, outbound messages, instructions); Step and Tick must only
// ever be called from a single goroutine (see loop.go for the pump that
// enforces this in a running process).
type Node struct {
	id    string
	peers []string

	term     uint64
	votedFor string

	log  *Log
	role Role

	queuedRequests  []Message
	proxiedRequests map[string]Address

	opts options
}

// NewNode constructs a Node from the given id, peer list, and options. The
// Store supplied via WithStore is used to recover (term, votedFor) and the
// existing log; the node starts as a Follower with no known leader.
func NewNode(id string, peers []string, opts ...Option) (*Node, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if id == "" {
		return nil, raerrors.NewConfig("node id must not be empty")
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.logger == nil {
		o.logger = rlog.NewNopLogger()
	}

	log, err := NewLog(o.store)
	if err != nil {
		return nil, err
	}

	term, votedFor, err := log.LoadTerm()
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:              id,
		peers:           append([]string(nil), peers...),
		term:            term,
		votedFor:        votedFor,
		log:             log,
		proxiedRequests: make(map[string]Address),
		opts:            o,
	}
	n.role = &followerRole{electionTimeout: randomElectionTimeout(n)}
	return n, nil
}

// ID returns the node's own identifier.
func (n *Node) ID() string { return n.id }

// Term returns the node's current term.
func (n *Node) Term() uint64 { return n.term }

// RoleName returns the name of the currently active role.
func (n *Node) RoleName() string { return n.role.name() }

// quorum returns the number of (self included) nodes required for a
// majority.
func (n *Node) quorum() int {
	return (len(n.peers)+1)/2 + 1
}

// Step feeds a single inbound message through the node, applying the
// common term-discipline and address-validation rules before dispatching
// to the active role.
func (n *Node) Step(msg Message) ([]Message, []Instruction, error) {
	if msg.To.Kind != AddressLocal && !(msg.To.Kind == AddressPeer && msg.To.Peer == n.id) {
		n.opts.logger.Warnf("dropping message addressed to %s, not this node (%s)", msg.To, n.id)
		return nil, nil, nil
	}

	if msg.Term > n.term {
		var leader *string
		if id, ok := msg.From.IsPeer(); ok {
			leader = &id
		}
		outMsgs, instrs, err := n.becomeFollower(msg.Term, leader)
		if err != nil {
			return nil, nil, err
		}
		stepMsgs, stepInstrs, err := n.role.step(n, msg)
		if err != nil {
			return nil, nil, err
		}
		return append(outMsgs, stepMsgs...), append(instrs, stepInstrs...), nil
	}

	if msg.Term < n.term && msg.Term != 0 {
		if _, ok := msg.From.IsPeer(); ok {
			n.opts.logger.Debugf("dropping stale message from %s at term %d (current term %d)", msg.From, msg.Term, n.term)
			return nil, nil, nil
		}
	}

	return n.role.step(n, msg)
}

// Tick advances the node's logical clock by one tick.
func (n *Node) Tick() ([]Message, []Instruction, error) {
	return n.role.tick(n)
}

// becomeFollower transitions the node to Follower at the given term,
// optionally with a known leader. If the node was previously Leader an
// Abort instruction is emitted so the driver discards pending reads.
func (n *Node) becomeFollower(term uint64, leader *string) ([]Message, []Instruction, error) {
	var instrs []Instruction
	if _, wasLeader := n.role.(*leaderRole); wasLeader {
		instrs = append(instrs, AbortInstruction())
	}

	if term > n.term {
		n.term = term
		n.votedFor = ""
	}
	if err := n.log.SaveTerm(n.term, n.votedFor); err != nil {
		return nil, nil, err
	}

	f := &followerRole{electionTimeout: randomElectionTimeout(n)}
	if leader != nil {
		f.leader = leader
	}
	n.role = f

	msgs, drainInstrs, err := n.drainQueuedRequests()
	if err != nil {
		return nil, nil, err
	}
	return msgs, append(instrs, drainInstrs...), nil
}

// becomeCandidate transitions the node to Candidate, incrementing the term
// and voting for itself, then broadcasts a vote solicitation.
func (n *Node) becomeCandidate() ([]Message, []Instruction, error) {
	n.term++
	n.votedFor = n.id
	if err := n.log.SaveTerm(n.term, n.votedFor); err != nil {
		return nil, nil, err
	}

	c := &candidateRole{
		votesReceived:   map[string]bool{n.id: true},
		electionTimeout: randomElectionTimeout(n),
	}
	n.role = c

	msgs := broadcast(n, SolicitVoteEvent(n.log.LastIndex(), n.log.LastTerm()))
	drainMsgs, instrs, err := n.drainQueuedRequests()
	if err != nil {
		return nil, nil, err
	}
	return append(msgs, drainMsgs...), instrs, nil
}

// becomeLeader transitions the node to Leader after winning an election,
// initializes per-peer replication state, and asserts leadership with an
// immediate heartbeat.
func (n *Node) becomeLeader() ([]Message, []Instruction, error) {
	l := &leaderRole{
		peerNextIndex: make(map[string]uint64),
		peerLastIndex: make(map[string]uint64),
	}
	for _, p := range n.peers {
		l.peerNextIndex[p] = n.log.LastIndex() + 1
		l.peerLastIndex[p] = 0
	}
	n.role = l

	msgs := broadcast(n, HeartbeatEvent(n.log.CommitIndex(), n.log.CommitTerm()))
	drainMsgs, instrs, err := n.drainQueuedRequests()
	if err != nil {
		return nil, nil, err
	}
	return append(msgs, drainMsgs...), instrs, nil
}

// drainQueuedRequests replays any client requests that were queued while
// waiting for a leader, or while a leader change was in progress, as fresh
// ClientRequest steps against the newly active role.
func (n *Node) drainQueuedRequests() ([]Message, []Instruction, error) {
	queued := n.queuedRequests
	n.queuedRequests = nil

	var allMsgs []Message
	var allInstrs []Instruction
	for _, msg := range queued {
		msgs, instrs, err := n.role.step(n, msg)
		if err != nil {
			return nil, nil, err
		}
		allMsgs = append(allMsgs, msgs...)
		allInstrs = append(allInstrs, instrs...)
	}
	return allMsgs, allInstrs, nil
}
