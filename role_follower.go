package raft

// followerRole is the initial role for every node and the role every node
// returns to whenever it observes a higher term.
type followerRole struct {
	leader          *string
	leaderSeenTicks int
	electionTimeout int
}

func (f *followerRole) name() string { return "follower" }

func (f *followerRole) tick(n *Node) ([]Message, []Instruction, error) {
	f.leaderSeenTicks++
	if f.leaderSeenTicks < f.electionTimeout {
		return nil, nil, nil
	}
	return n.becomeCandidate()
}

func (f *followerRole) step(n *Node, msg Message) ([]Message, []Instruction, error) {
	switch msg.Event.Type {
	case EventHeartbeat:
		return f.onHeartbeat(n, msg)
	case EventReplicateEntries:
		return f.onReplicateEntries(n, msg)
	case EventSolicitVote:
		return f.onSolicitVote(n, msg)
	case EventClientRequest:
		return f.onClientRequest(n, msg)
	case EventClientResponse:
		return f.onClientResponse(n, msg)
	default:
		// GrantVote/AcceptEntries/RejectEntries/ConfirmLeader arriving at
		// a follower are stale replies to an election or replication this
		// node no longer cares about; drop silently.
		return nil, nil, nil
	}
}

func (f *followerRole) onHeartbeat(n *Node, msg Message) ([]Message, []Instruction, error) {
	var instrs []Instruction
	fromID, _ := msg.From.IsPeer()

	if f.leader == nil {
		leader := fromID
		f.leader = &leader
		instrs = append(instrs, AbortInstruction())
	}
	f.leaderSeenTicks = 0

	entry, ok, err := n.log.Get(msg.Event.CommitIndex)
	hasCommitted := ok && err == nil && entry.Term == msg.Event.CommitTerm
	replyIndex := msg.Event.CommitIndex
	if replyIndex > n.log.LastIndex() {
		replyIndex = n.log.LastIndex()
	}

	if hasCommitted && msg.Event.CommitIndex > n.log.CommitIndex() {
		applyInstrs, err := commitAndApply(n, msg.Event.CommitIndex)
		if err != nil {
			return nil, nil, err
		}
		instrs = append(instrs, applyInstrs...)
	}

	out := reply(n, msg.From, ConfirmLeaderEvent(replyIndex, hasCommitted))
	return []Message{out}, instrs, nil
}

func (f *followerRole) onReplicateEntries(n *Node, msg Message) ([]Message, []Instruction, error) {
	ev := msg.Event

	var baseOK bool
	if ev.BaseIndex == 0 {
		baseOK = true
	} else if entry, ok, err := n.log.Get(ev.BaseIndex); err == nil && ok && entry.Term == ev.BaseTerm {
		baseOK = true
	}

	if !baseOK {
		out := reply(n, msg.From, RejectEntriesEvent())
		return []Message{out}, nil, nil
	}

	if _, err := n.log.Splice(ev.Entries); err != nil {
		return nil, nil, err
	}

	if f.leader == nil {
		if id, ok := msg.From.IsPeer(); ok {
			f.leader = &id
		}
	}
	f.leaderSeenTicks = 0

	out := reply(n, msg.From, AcceptEntriesEvent(n.log.LastIndex()))
	return []Message{out}, nil, nil
}

func (f *followerRole) onSolicitVote(n *Node, msg Message) ([]Message, []Instruction, error) {
	candidateID, _ := msg.From.IsPeer()
	ev := msg.Event

	alreadyVotedElsewhere := n.votedFor != "" && n.votedFor != candidateID
	logUpToDate := ev.LastLogTerm > n.log.LastTerm() ||
		(ev.LastLogTerm == n.log.LastTerm() && ev.LastLogIndex >= n.log.LastIndex())

	if alreadyVotedElsewhere || !logUpToDate {
		return nil, nil, nil
	}

	n.votedFor = candidateID
	if err := n.log.SaveTerm(n.term, n.votedFor); err != nil {
		return nil, nil, err
	}

	out := reply(n, msg.From, GrantVoteEvent())
	return []Message{out}, nil, nil
}

func (f *followerRole) onClientRequest(n *Node, msg Message) ([]Message, []Instruction, error) {
	if f.leader == nil {
		n.queuedRequests = append(n.queuedRequests, msg)
		return nil, nil, nil
	}
	n.proxiedRequests[string(msg.Event.RequestID)] = msg.From
	out := Message{From: Local(), To: Peer(*f.leader), Term: n.term, Event: msg.Event}
	return []Message{out}, nil, nil
}

func (f *followerRole) onClientResponse(n *Node, msg Message) ([]Message, []Instruction, error) {
	key := string(msg.Event.RequestID)
	origin, ok := n.proxiedRequests[key]
	if !ok {
		return nil, nil, nil
	}
	delete(n.proxiedRequests, key)
	out := Message{From: Local(), To: origin, Term: n.term, Event: msg.Event}
	return []Message{out}, nil, nil
}

// commitAndApply advances the log's commit index to index and returns one
// Apply instruction per newly committed entry, in index order.
func commitAndApply(n *Node, index uint64) ([]Instruction, error) {
	from := n.log.CommitIndex() + 1
	if err := n.log.Commit(index); err != nil {
		return nil, err
	}
	entries, err := n.log.Scan(from, index)
	if err != nil {
		return nil, err
	}
	instrs := make([]Instruction, 0, len(entries))
	for _, e := range entries {
		instrs = append(instrs, ApplyInstruction(e))
	}
	return instrs, nil
}
