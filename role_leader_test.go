package raft

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupLeaderNode reproduces the fixture from the toydb leader role tests
// this package's commit/replicate algorithm was ported from: five node
// cluster (a + b,c,d,e), log entries at terms [1,1,2,3,3], commit index 2,
// current term 3.
func setupLeaderNode(t *testing.T) *Node {
	t.Helper()

	store := NewMemoryStore()
	log, err := NewLog(store)
	require.NoError(t, err)

	terms := []uint64{1, 1, 2, 3, 3}
	commands := [][]byte{{0x01}, {0x02}, {0x03}, {0x04}, {0x05}}
	for i, term := range terms {
		_, err := log.Append(term, commands[i])
		require.NoError(t, err)
	}
	require.NoError(t, log.Commit(2))
	require.NoError(t, log.SaveTerm(3, ""))

	peers := []string{"b", "c", "d", "e"}
	n := &Node{
		id:              "a",
		peers:           peers,
		term:            3,
		log:             log,
		proxiedRequests: make(map[string]Address),
		opts: options{
			heartbeatIntervalTicks: HeartbeatIntervalTicks,
			rand:                   rand.New(rand.NewSource(1)),
			tickInterval:           defaultTickInterval,
		},
	}
	l := &leaderRole{
		peerNextIndex: make(map[string]uint64),
		peerLastIndex: make(map[string]uint64),
	}
	for _, p := range peers {
		l.peerNextIndex[p] = log.LastIndex() + 1
		l.peerLastIndex[p] = 0
	}
	n.role = l
	return n
}

func TestLeaderConfirmLeaderVote(t *testing.T) {
	n := setupLeaderNode(t)

	msgs, instrs, err := n.Step(Message{
		From: Peer("b"), To: Peer("a"), Term: 3,
		Event: ConfirmLeaderEvent(2, true),
	})
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, []Instruction{VoteInstruction(3, 2, Peer("b"))}, instrs)
	require.Equal(t, "leader", n.RoleName())
	require.Equal(t, uint64(2), n.log.CommitIndex())
}

func TestLeaderConfirmLeaderReplicate(t *testing.T) {
	n := setupLeaderNode(t)

	msgs, instrs, err := n.Step(Message{
		From: Peer("b"), To: Peer("a"), Term: 3,
		Event: ConfirmLeaderEvent(2, false),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, Peer("b"), msgs[0].To)
	require.Equal(t, EventReplicateEntries, msgs[0].Event.Type)
	require.Equal(t, uint64(5), msgs[0].Event.BaseIndex)
	require.Equal(t, uint64(3), msgs[0].Event.BaseTerm)
	require.Empty(t, msgs[0].Event.Entries)
	require.Equal(t, []Instruction{VoteInstruction(3, 2, Peer("b"))}, instrs)
}

func TestLeaderIgnoresHeartbeatAtCurrentTerm(t *testing.T) {
	n := setupLeaderNode(t)

	msgs, instrs, err := n.Step(Message{
		From: Peer("b"), To: Peer("a"), Term: 3,
		Event: HeartbeatEvent(5, 3),
	})
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, instrs)
	require.Equal(t, "leader", n.RoleName())
}

func TestLeaderDemotedByHigherTermHeartbeat(t *testing.T) {
	n := setupLeaderNode(t)

	msgs, instrs, err := n.Step(Message{
		From: Peer("b"), To: Peer("a"), Term: 4,
		Event: HeartbeatEvent(7, 4),
	})
	require.NoError(t, err)
	require.Equal(t, "follower", n.RoleName())
	require.Equal(t, uint64(4), n.term)
	require.Len(t, msgs, 1)
	require.Equal(t, EventConfirmLeader, msgs[0].Event.Type)
	require.Contains(t, instrs, AbortInstruction())
}

func TestLeaderIgnoresHeartbeatAtPastTerm(t *testing.T) {
	n := setupLeaderNode(t)

	msgs, instrs, err := n.Step(Message{
		From: Peer("b"), To: Peer("a"), Term: 2,
		Event: HeartbeatEvent(3, 2),
	})
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, instrs)
	require.Equal(t, "leader", n.RoleName())
	require.Equal(t, uint64(3), n.term)
}

func TestLeaderCommitAdvancesByQuorum(t *testing.T) {
	n := setupLeaderNode(t)

	// b acks 4: no quorum yet (only a + b agree on >=4).
	_, instrs, err := n.Step(Message{From: Peer("b"), To: Peer("a"), Term: 3, Event: AcceptEntriesEvent(4)})
	require.NoError(t, err)
	require.Empty(t, instrs)
	require.Equal(t, uint64(2), n.log.CommitIndex())

	// c acks 5: now a,b(4),c(5) give quorum at index 4 (term 3 == current term).
	_, instrs, err = n.Step(Message{From: Peer("c"), To: Peer("a"), Term: 3, Event: AcceptEntriesEvent(5)})
	require.NoError(t, err)
	require.Equal(t, uint64(4), n.log.CommitIndex())
	require.Equal(t, []Instruction{
		ApplyInstruction(Entry{Index: 3, Term: 2, Command: []byte{0x03}}),
		ApplyInstruction(Entry{Index: 4, Term: 3, Command: []byte{0x04}}),
	}, instrs)

	// d acks 5: quorum at 5.
	_, instrs, err = n.Step(Message{From: Peer("d"), To: Peer("a"), Term: 3, Event: AcceptEntriesEvent(5)})
	require.NoError(t, err)
	require.Equal(t, uint64(5), n.log.CommitIndex())
	require.Equal(t, []Instruction{
		ApplyInstruction(Entry{Index: 5, Term: 3, Command: []byte{0x05}}),
	}, instrs)
}

func TestLeaderFigure8BlocksCommitOfPastTermEntries(t *testing.T) {
	n := setupLeaderNode(t)

	for _, p := range []string{"b", "c", "d", "e"} {
		_, instrs, err := n.Step(Message{From: Peer(p), To: Peer("a"), Term: 3, Event: AcceptEntriesEvent(3)})
		require.NoError(t, err)
		require.Empty(t, instrs)
		require.Equal(t, uint64(2), n.log.CommitIndex())
	}
}

func TestLeaderRejectEntriesBacksOff(t *testing.T) {
	n := setupLeaderNode(t)

	prevNext := n.role.(*leaderRole).peerNextIndex["b"]
	for i := 0; i < 3; i++ {
		msgs, instrs, err := n.Step(Message{From: Peer("b"), To: Peer("a"), Term: 3, Event: RejectEntriesEvent()})
		require.NoError(t, err)
		require.Empty(t, instrs)
		require.Len(t, msgs, 1)
		next := n.role.(*leaderRole).peerNextIndex["b"]
		require.Equal(t, prevNext-1, next)
		prevNext = next
	}
}

func TestLeaderClientRequestQuery(t *testing.T) {
	n := setupLeaderNode(t)
	quorum := n.quorum()

	msgs, instrs, err := n.Step(Message{
		From: Client(), To: Local(), Term: 0,
		Event: ClientRequestEvent([]byte{0x01}, QueryRequest([]byte{0xaf})),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4) // broadcast to b,c,d,e
	require.Equal(t, []Instruction{
		QueryInstruction([]byte{0x01}, Client(), []byte{0xaf}, 3, 2, quorum),
		VoteInstruction(3, 2, Local()),
	}, instrs)
}

func TestLeaderClientRequestMutate(t *testing.T) {
	n := setupLeaderNode(t)

	msgs, instrs, err := n.Step(Message{
		From: Client(), To: Local(), Term: 0,
		Event: ClientRequestEvent([]byte{0x01}, MutateRequest([]byte{0xaf})),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, []Instruction{NotifyInstruction([]byte{0x01}, Client(), 6)}, instrs)

	entry, ok, err := n.log.Get(6)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Entry{Index: 6, Term: 3, Command: []byte{0xaf}}, entry)
}

func TestLeaderClientRequestStatus(t *testing.T) {
	n := setupLeaderNode(t)

	_, instrs, err := n.Step(Message{
		From: Client(), To: Local(), Term: 0,
		Event: ClientRequestEvent([]byte{0x01}, StatusRequest()),
	})
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	require.Equal(t, InstructionStatus, instrs[0].Type)
	require.Equal(t, "a", instrs[0].Status.Server)
	require.Equal(t, uint64(3), instrs[0].Status.Term)
	require.Equal(t, uint64(2), instrs[0].Status.CommitIndex)
}

func TestLeaderTickSendsHeartbeatEveryInterval(t *testing.T) {
	n := setupLeaderNode(t)

	for round := 0; round < 3; round++ {
		var msgs []Message
		for i := 0; i < HeartbeatIntervalTicks; i++ {
			var err error
			msgs, _, err = n.Tick()
			require.NoError(t, err)
			if i < HeartbeatIntervalTicks-1 {
				require.Empty(t, msgs)
			}
		}
		require.Len(t, msgs, len(n.peers))
		for _, m := range msgs {
			require.Equal(t, EventHeartbeat, m.Event.Type)
		}
	}
}
