package transport_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famlink/internal/famtest"
	"famlink/internal/transport"
)

func newTestSocket(t *testing.T, srv *famtest.Server) *transport.Socket {
	t.Helper()
	tok := srv.IssueToken(7, "Ann")
	sock := transport.NewSocket(srv.WSURL(), func() string { return tok }, zerolog.Nop())
	t.Cleanup(sock.Disconnect)
	return sock
}

func joinAndAwaitAck(t *testing.T, sock *transport.Socket, name string) transport.Channel {
	t.Helper()
	var acked atomic.Bool
	ch, err := sock.JoinPrivateChannel(name, func(ch transport.Channel) {
		ch.Subscribed(func() { acked.Store(true) })
	})
	require.NoError(t, err)
	require.Eventually(t, acked.Load, 2*time.Second, 10*time.Millisecond,
		"subscription was never acked")
	return ch
}

func TestSocketJoinBeforeConnect(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	sock := newTestSocket(t, srv)

	_, err := sock.JoinPrivateChannel("chat.room.1", nil)
	require.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestSocketDialFailure(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	srv.FailNextDials(1)
	sock := newTestSocket(t, srv)

	require.Error(t, sock.Connect(context.Background()))
	// The next dial goes through.
	require.NoError(t, sock.Connect(context.Background()))
}

func TestSocketReceivesBroadcasts(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	sock := newTestSocket(t, srv)
	require.NoError(t, sock.Connect(context.Background()))

	ch := joinAndAwaitAck(t, sock, "chat.room.1")

	got := make(chan json.RawMessage, 1)
	ch.Listen("message.sent", func(payload json.RawMessage) { got <- payload })

	srv.Broadcast("chat.room.1", "message.sent", map[string]any{"id": 42, "body": "hi"})

	select {
	case payload := <-got:
		var m struct {
			ID   int64  `json:"id"`
			Body string `json:"body"`
		}
		require.NoError(t, json.Unmarshal(payload, &m))
		assert.Equal(t, int64(42), m.ID)
		assert.Equal(t, "hi", m.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestSocketSurvivesMalformedFrames(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	sock := newTestSocket(t, srv)
	require.NoError(t, sock.Connect(context.Background()))

	ch := joinAndAwaitAck(t, sock, "chat.room.1")
	got := make(chan struct{}, 1)
	ch.Listen("message.sent", func(json.RawMessage) { got <- struct{}{} })

	srv.SendRaw("this is not json")
	srv.SendRaw(`{"event":"no channel field"}`)

	// The read loop kept going; a real frame still gets through.
	srv.Broadcast("chat.room.1", "message.sent", map[string]any{"id": 1})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("socket stopped delivering after malformed frame")
	}
}

func TestSocketLeaveStopsDelivery(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	sock := newTestSocket(t, srv)
	require.NoError(t, sock.Connect(context.Background()))

	ch := joinAndAwaitAck(t, sock, "chat.room.1")
	var delivered atomic.Int32
	ch.Listen("message.sent", func(json.RawMessage) { delivered.Add(1) })

	sock.LeaveChannel("chat.room.1")

	// Give the unsubscribe a moment, then broadcast into the void.
	time.Sleep(100 * time.Millisecond)
	srv.Broadcast("chat.room.1", "message.sent", map[string]any{"id": 1})
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, delivered.Load())
}

func TestSocketPublishReachesOtherClients(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()

	alice := newTestSocket(t, srv)
	require.NoError(t, alice.Connect(context.Background()))
	aliceCh := joinAndAwaitAck(t, alice, "chat.room.1")

	bobTok := srv.IssueToken(8, "Bo")
	bob := transport.NewSocket(srv.WSURL(), func() string { return bobTok }, zerolog.Nop())
	t.Cleanup(bob.Disconnect)
	require.NoError(t, bob.Connect(context.Background()))
	bobCh := joinAndAwaitAck(t, bob, "chat.room.1")

	got := make(chan json.RawMessage, 1)
	bobCh.Listen("user.typing", func(payload json.RawMessage) { got <- payload })

	require.NoError(t, aliceCh.Publish("user.typing", map[string]any{"user_id": 7, "is_typing": true}))

	select {
	case payload := <-got:
		var sig struct {
			UserID   int64 `json:"user_id"`
			IsTyping bool  `json:"is_typing"`
		}
		require.NoError(t, json.Unmarshal(payload, &sig))
		assert.Equal(t, int64(7), sig.UserID)
		assert.True(t, sig.IsTyping)
	case <-time.After(2 * time.Second):
		t.Fatal("published event never relayed")
	}

	// The publisher does not hear its own client event back.
	var echoed atomic.Int32
	aliceCh.Listen("user.typing", func(json.RawMessage) { echoed.Add(1) })
	require.NoError(t, aliceCh.Publish("user.typing", map[string]any{"user_id": 7, "is_typing": false}))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, echoed.Load())
}

func TestSocketDisconnectIdempotent(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	sock := newTestSocket(t, srv)
	require.NoError(t, sock.Connect(context.Background()))

	sock.Disconnect()
	sock.Disconnect()

	_, err := sock.JoinPrivateChannel("chat.room.1", nil)
	require.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestSocketReconnectReplacesConnection(t *testing.T) {
	srv := famtest.NewServer()
	defer srv.Close()
	sock := newTestSocket(t, srv)
	require.NoError(t, sock.Connect(context.Background()))

	oldCh := joinAndAwaitAck(t, sock, "chat.room.1")
	var stale atomic.Int32
	oldCh.Listen("message.sent", func(json.RawMessage) { stale.Add(1) })

	// A second Connect replaces the first connection; the old subscription
	// must be gone on both sides.
	require.NoError(t, sock.Connect(context.Background()))

	newCh := joinAndAwaitAck(t, sock, "chat.room.1")
	got := make(chan struct{}, 1)
	newCh.Listen("message.sent", func(json.RawMessage) { got <- struct{}{} })

	srv.Broadcast("chat.room.1", "message.sent", map[string]any{"id": 1})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived on the new connection")
	}
	assert.Zero(t, stale.Load(), "stale channel handle still receiving")
}
