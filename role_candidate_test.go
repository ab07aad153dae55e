package raft

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCandidateNode(t *testing.T, peers []string) *Node {
	t.Helper()
	store := NewMemoryStore()
	log, err := NewLog(store)
	require.NoError(t, err)

	n := &Node{
		id:              "a",
		peers:           peers,
		term:            1,
		votedFor:        "a",
		log:             log,
		proxiedRequests: make(map[string]Address),
		opts: options{
			electionTimeoutMinTicks: MinElectionTimeoutTicks,
			electionTimeoutMaxTicks: MaxElectionTimeoutTicks,
			heartbeatIntervalTicks:  HeartbeatIntervalTicks,
			rand:                    rand.New(rand.NewSource(1)),
		},
	}
	n.role = &candidateRole{
		votesReceived:   map[string]bool{"a": true},
		electionTimeout: 10,
	}
	return n
}

func TestCandidateBecomeCandidateVotesForSelfAndBroadcasts(t *testing.T) {
	store := NewMemoryStore()
	log, err := NewLog(store)
	require.NoError(t, err)

	n := &Node{
		id:              "a",
		peers:           []string{"b", "c"},
		log:             log,
		proxiedRequests: make(map[string]Address),
		opts: options{
			electionTimeoutMinTicks: MinElectionTimeoutTicks,
			electionTimeoutMaxTicks: MaxElectionTimeoutTicks,
			heartbeatIntervalTicks:  HeartbeatIntervalTicks,
			rand:                    rand.New(rand.NewSource(1)),
		},
	}
	n.role = &followerRole{electionTimeout: 1}

	msgs, _, err := n.Tick()
	require.NoError(t, err)
	require.Equal(t, "candidate", n.RoleName())
	require.Equal(t, uint64(1), n.term)
	require.Equal(t, "a", n.votedFor)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, EventSolicitVote, m.Event.Type)
		require.Equal(t, uint64(1), m.Term)
	}
}

func TestCandidateGrantVoteQuorumBecomesLeader(t *testing.T) {
	n := newCandidateNode(t, []string{"b", "c"})
	require.Equal(t, 2, n.quorum())

	msgs, _, err := n.Step(Message{From: Peer("b"), To: Peer("a"), Term: 1, Event: GrantVoteEvent()})
	require.NoError(t, err)
	require.Equal(t, "leader", n.RoleName())
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, EventHeartbeat, m.Event.Type)
	}
}

func TestCandidateBelowQuorumStaysCandidate(t *testing.T) {
	n := newCandidateNode(t, []string{"b", "c", "d", "e"})
	require.Equal(t, 3, n.quorum())

	msgs, instrs, err := n.Step(Message{From: Peer("b"), To: Peer("a"), Term: 1, Event: GrantVoteEvent()})
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, instrs)
	require.Equal(t, "candidate", n.RoleName())
	require.True(t, n.role.(*candidateRole).votesReceived["b"])
}

func TestCandidateStepsDownOnHeartbeatAtSameTerm(t *testing.T) {
	n := newCandidateNode(t, []string{"b", "c"})

	msgs, _, err := n.Step(Message{From: Peer("b"), To: Peer("a"), Term: 1, Event: HeartbeatEvent(0, 0)})
	require.NoError(t, err)
	require.Equal(t, "follower", n.RoleName())
	require.Len(t, msgs, 1)
	require.Equal(t, EventConfirmLeader, msgs[0].Event.Type)
	require.Equal(t, "b", *n.role.(*followerRole).leader)
}

func TestCandidateStepsDownOnReplicateEntriesAtSameTerm(t *testing.T) {
	n := newCandidateNode(t, []string{"b"})

	_, _, err := n.Step(Message{
		From: Peer("b"), To: Peer("a"), Term: 1,
		Event: ReplicateEntriesEvent(0, 0, nil),
	})
	require.NoError(t, err)
	require.Equal(t, "follower", n.RoleName())
}

func TestCandidateIgnoresRivalSolicitVoteAtSameTerm(t *testing.T) {
	n := newCandidateNode(t, []string{"b", "c"})

	msgs, instrs, err := n.Step(Message{From: Peer("c"), To: Peer("a"), Term: 1, Event: SolicitVoteEvent(0, 0)})
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, instrs)
	require.Equal(t, "candidate", n.RoleName())
}

func TestCandidateQueuesClientRequest(t *testing.T) {
	n := newCandidateNode(t, []string{"b", "c"})

	msgs, instrs, err := n.Step(Message{
		From: Client(), To: Local(),
		Event: ClientRequestEvent([]byte{0x01}, MutateRequest([]byte{0x02})),
	})
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, instrs)
	require.Len(t, n.queuedRequests, 1)
}

func TestCandidateReElectionOnTimeoutIncrementsTermAgain(t *testing.T) {
	n := newCandidateNode(t, []string{"b", "c"})
	n.role = &candidateRole{votesReceived: map[string]bool{"a": true}, electionTimeout: 2}

	var msgs []Message
	for i := 0; i < 2; i++ {
		var err error
		msgs, _, err = n.Tick()
		require.NoError(t, err)
	}
	require.Equal(t, "candidate", n.RoleName())
	require.Equal(t, uint64(2), n.term)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, EventSolicitVote, m.Event.Type)
		require.Equal(t, uint64(2), m.Term)
	}
	require.Equal(t, map[string]bool{"a": true}, n.role.(*candidateRole).votesReceived)
}
