package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopbackTransportPeerRouting(t *testing.T) {
	net := NewLoopbackNetwork([]string{"a", "b"}, 4)

	msg := Message{From: Peer("a"), To: Peer("b"), Term: 1, Event: HeartbeatEvent(0, 0)}
	require.NoError(t, net["a"].Send(msg))

	received := <-net["b"].Inbox()
	require.Equal(t, msg, received)
}

func TestLoopbackTransportBroadcastExcludesSelf(t *testing.T) {
	net := NewLoopbackNetwork([]string{"a", "b", "c"}, 4)

	msg := Message{From: Peer("a"), To: Peers(), Term: 1, Event: SolicitVoteEvent(0, 0)}
	require.NoError(t, net["a"].Send(msg))

	require.Len(t, net["a"].inbox, 0)
	require.Len(t, net["b"].inbox, 1)
	require.Len(t, net["c"].inbox, 1)
}

func TestLoopbackTransportLocalAndClientRouteToOwnInbox(t *testing.T) {
	net := NewLoopbackNetwork([]string{"a"}, 4)

	require.NoError(t, net["a"].Send(Message{From: Local(), To: Local(), Event: HeartbeatEvent(0, 0)}))
	require.NoError(t, net["a"].Send(Message{From: Client(), To: Client(), Event: GrantVoteEvent()}))
	require.Len(t, net["a"].inbox, 2)
}

func TestLoopbackTransportUnknownPeerFails(t *testing.T) {
	net := NewLoopbackNetwork([]string{"a"}, 4)

	err := net["a"].Send(Message{From: Peer("a"), To: Peer("ghost"), Event: HeartbeatEvent(0, 0)})
	require.Error(t, err)
}

func TestLoopbackTransportFullInboxFails(t *testing.T) {
	net := NewLoopbackNetwork([]string{"a", "b"}, 1)

	require.NoError(t, net["a"].Send(Message{From: Peer("a"), To: Peer("b"), Event: HeartbeatEvent(0, 0)}))
	err := net["a"].Send(Message{From: Peer("a"), To: Peer("b"), Event: HeartbeatEvent(0, 0)})
	require.Error(t, err)
}

func TestChannelTransportSendGoesToOutboundNotInbox(t *testing.T) {
	ct := NewChannelTransport(4)

	msg := Message{From: Peer("a"), To: Peer("b"), Term: 1, Event: HeartbeatEvent(0, 0)}
	require.NoError(t, ct.Send(msg))

	select {
	case got := <-ct.Outbound():
		require.Equal(t, msg, got)
	default:
		t.Fatal("expected message on Outbound()")
	}
	require.Len(t, ct.inbox, 0)
}

func TestChannelTransportDeliverFeedsInbox(t *testing.T) {
	ct := NewChannelTransport(4)

	msg := Message{From: Peer("b"), To: Peer("a"), Term: 1, Event: HeartbeatEvent(0, 0)}
	require.NoError(t, ct.Deliver(msg))

	received := <-ct.Inbox()
	require.Equal(t, msg, received)
}

func TestChannelTransportFullQueuesFail(t *testing.T) {
	ct := NewChannelTransport(1)

	require.NoError(t, ct.Send(Message{Event: HeartbeatEvent(0, 0)}))
	require.Error(t, ct.Send(Message{Event: HeartbeatEvent(0, 0)}))

	require.NoError(t, ct.Deliver(Message{Event: HeartbeatEvent(0, 0)}))
	require.Error(t, ct.Deliver(Message{Event: HeartbeatEvent(0, 0)}))
}
