package raft

// candidateRole is active between an election timeout firing and either
// winning a quorum of votes (→ Leader) or observing a current leader
// (→ Follower).
type candidateRole struct {
	votesReceived   map[string]bool
	electionTicks   int
	electionTimeout int
}

func (c *candidateRole) name() string { return "candidate" }

func (c *candidateRole) tick(n *Node) ([]Message, []Instruction, error) {
	c.electionTicks++
	if c.electionTicks < c.electionTimeout {
		return nil, nil, nil
	}
	// Election timed out with no quorum: start a new election at a higher
	// term, per the split-vote retry rule.
	return n.becomeCandidate()
}

func (c *candidateRole) step(n *Node, msg Message) ([]Message, []Instruction, error) {
	switch msg.Event.Type {
	case EventGrantVote:
		return c.onGrantVote(n, msg)
	case EventHeartbeat, EventReplicateEntries:
		// A peer at the same term is acting as leader; step down and let
		// the new follower role reprocess the message.
		msgs, instrs, err := n.becomeFollower(msg.Term, peerOf(msg.From))
		if err != nil {
			return nil, nil, err
		}
		stepMsgs, stepInstrs, err := n.role.step(n, msg)
		if err != nil {
			return nil, nil, err
		}
		return append(msgs, stepMsgs...), append(instrs, stepInstrs...), nil
	case EventSolicitVote:
		// Another candidate at the same term; we already voted for
		// ourselves, so there is nothing to grant.
		return nil, nil, nil
	case EventClientRequest:
		n.queuedRequests = append(n.queuedRequests, msg)
		return nil, nil, nil
	default:
		return nil, nil, nil
	}
}

func (c *candidateRole) onGrantVote(n *Node, msg Message) ([]Message, []Instruction, error) {
	if voter, ok := msg.From.IsPeer(); ok {
		c.votesReceived[voter] = true
	}
	if len(c.votesReceived) >= n.quorum() {
		return n.becomeLeader()
	}
	return nil, nil, nil
}

func peerOf(a Address) *string {
	if id, ok := a.IsPeer(); ok {
		return &id
	}
	return nil
}
