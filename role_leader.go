package raft

import "sort"

// leaderRole replicates the log to every peer and decides, via quorum
// accounting, when entries become safe to commit.
type leaderRole struct {
	peerNextIndex map[string]uint64
	peerLastIndex map[string]uint64
	heartbeatTicks int
}

func (l *leaderRole) name() string { return "leader" }

func (l *leaderRole) tick(n *Node) ([]Message, []Instruction, error) {
	l.heartbeatTicks++
	if l.heartbeatTicks < n.opts.heartbeatIntervalTicks {
		return nil, nil, nil
	}
	l.heartbeatTicks = 0
	return broadcast(n, HeartbeatEvent(n.log.CommitIndex(), n.log.CommitTerm())), nil, nil
}

func (l *leaderRole) step(n *Node, msg Message) ([]Message, []Instruction, error) {
	switch msg.Event.Type {
	case EventAcceptEntries:
		return l.onAcceptEntries(n, msg)
	case EventRejectEntries:
		return l.onRejectEntries(n, msg)
	case EventConfirmLeader:
		return l.onConfirmLeader(n, msg)
	case EventHeartbeat, EventReplicateEntries, EventSolicitVote:
		// Same-term traffic from a peer that doesn't know we are already
		// leader; the term-discipline check in Node.Step has already
		// handled any higher-term message, so this is spurious.
		return nil, nil, nil
	case EventClientRequest:
		return l.onClientRequest(n, msg)
	case EventClientResponse:
		return l.onClientResponse(n, msg)
	default:
		return nil, nil, nil
	}
}

// replicate sends the peer everything from its next expected index through
// the end of the log, anchored at the preceding (index, term) pair.
func (l *leaderRole) replicate(n *Node, peer string) (Message, error) {
	nextIndex := l.peerNextIndex[peer]
	baseIndex := nextIndex - 1

	var baseTerm uint64
	if baseIndex > 0 {
		e, ok, err := n.log.Get(baseIndex)
		if err != nil {
			return Message{}, err
		}
		if ok {
			baseTerm = e.Term
		}
	}

	entries, err := n.log.Scan(nextIndex, 0)
	if err != nil {
		return Message{}, err
	}

	return Message{
		From:  Peer(n.id),
		To:    Peer(peer),
		Term:  n.term,
		Event: ReplicateEntriesEvent(baseIndex, baseTerm, entries),
	}, nil
}

func (l *leaderRole) onAcceptEntries(n *Node, msg Message) ([]Message, []Instruction, error) {
	peer, ok := msg.From.IsPeer()
	if !ok {
		return nil, nil, nil
	}
	l.peerLastIndex[peer] = msg.Event.LastIndex
	l.peerNextIndex[peer] = msg.Event.LastIndex + 1

	return l.commit(n)
}

func (l *leaderRole) onRejectEntries(n *Node, msg Message) ([]Message, []Instruction, error) {
	peer, ok := msg.From.IsPeer()
	if !ok {
		return nil, nil, nil
	}
	if l.peerNextIndex[peer] > 1 {
		l.peerNextIndex[peer]--
	}
	out, err := l.replicate(n, peer)
	if err != nil {
		return nil, nil, err
	}
	return []Message{out}, nil, nil
}

func (l *leaderRole) onConfirmLeader(n *Node, msg Message) ([]Message, []Instruction, error) {
	peer, ok := msg.From.IsPeer()
	if !ok {
		return nil, nil, nil
	}
	instrs := []Instruction{VoteInstruction(n.term, msg.Event.CommitIndex, Peer(peer))}

	if msg.Event.HasCommitted {
		return nil, instrs, nil
	}
	out, err := l.replicate(n, peer)
	if err != nil {
		return nil, nil, err
	}
	return []Message{out}, instrs, nil
}

// commit recomputes the commit index as the highest index acknowledged by
// a quorum (self included) and, per the Figure 8 rule, only advances the
// commit index when that index's entry belongs to the current term.
func (l *leaderRole) commit(n *Node) ([]Message, []Instruction, error) {
	indexes := make([]uint64, 0, len(l.peerLastIndex)+1)
	indexes = append(indexes, n.log.LastIndex())
	for _, idx := range l.peerLastIndex {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] > indexes[j] })

	quorumIndex := indexes[n.quorum()-1]
	if quorumIndex <= n.log.CommitIndex() {
		return nil, nil, nil
	}

	entry, ok, err := n.log.Get(quorumIndex)
	if err != nil {
		return nil, nil, err
	}
	if !ok || entry.Term != n.term {
		return nil, nil, nil
	}

	instrs, err := commitAndApply(n, quorumIndex)
	if err != nil {
		return nil, nil, err
	}
	return nil, instrs, nil
}

func (l *leaderRole) onClientRequest(n *Node, msg Message) ([]Message, []Instruction, error) {
	switch msg.Event.Request.Type {
	case RequestMutate:
		return l.onMutate(n, msg)
	case RequestQuery:
		return l.onQuery(n, msg)
	case RequestStatus:
		return l.onStatus(n, msg)
	default:
		return nil, nil, nil
	}
}

func (l *leaderRole) onMutate(n *Node, msg Message) ([]Message, []Instruction, error) {
	entry, err := n.log.Append(n.term, msg.Event.Request.Command)
	if err != nil {
		return nil, nil, err
	}
	instrs := []Instruction{NotifyInstruction(msg.Event.RequestID, msg.From, entry.Index)}

	if len(n.peers) == 0 {
		_, applyInstrs, err := l.commit(n)
		if err != nil {
			return nil, nil, err
		}
		return nil, append(instrs, applyInstrs...), nil
	}

	var msgs []Message
	for _, p := range n.peers {
		out, err := l.replicate(n, p)
		if err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, out)
	}
	return msgs, instrs, nil
}

func (l *leaderRole) onQuery(n *Node, msg Message) ([]Message, []Instruction, error) {
	quorum := n.quorum()
	instrs := []Instruction{
		QueryInstruction(msg.Event.RequestID, msg.From, msg.Event.Request.Command, n.term, n.log.CommitIndex(), quorum),
		VoteInstruction(n.term, n.log.CommitIndex(), Local()),
	}
	msgs := broadcast(n, HeartbeatEvent(n.log.CommitIndex(), n.log.CommitTerm()))
	return msgs, instrs, nil
}

func (l *leaderRole) onStatus(n *Node, msg Message) ([]Message, []Instruction, error) {
	nodeLastIndex := make(map[string]uint64, len(l.peerLastIndex)+1)
	nodeLastIndex[n.id] = n.log.LastIndex()
	for p, idx := range l.peerLastIndex {
		nodeLastIndex[p] = idx
	}

	var applyIndex uint64
	if reporter, ok := n.opts.driver.(StatusReporter); ok {
		applyIndex = reporter.LastApplied()
	}

	status := Status{
		Server:        n.id,
		Leader:        n.id,
		Term:          n.term,
		NodeLastIndex: nodeLastIndex,
		CommitIndex:   n.log.CommitIndex(),
		ApplyIndex:    applyIndex,
		Storage:       n.log.StoreKind(),
		StorageSize:   n.log.StoreSize(),
	}
	return nil, []Instruction{StatusInstruction(msg.Event.RequestID, msg.From, status)}, nil
}

func (l *leaderRole) onClientResponse(n *Node, msg Message) ([]Message, []Instruction, error) {
	resp := msg.Event.Response
	if resp.Type == RequestStatus {
		resp.Status.Server = n.id
	}
	out := Message{From: Local(), To: Client(), Term: n.term, Event: ClientResponseEvent(msg.Event.RequestID, resp, msg.Event.Err)}
	return []Message{out}, nil, nil
}
