package chat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *State {
	s := NewState(1, zerolog.Nop())
	s.SetCurrentRoom(10)
	return s
}

func msg(id int64, userID int64, body string, at time.Time) Message {
	return Message{
		ID:        id,
		RoomID:    10,
		UserID:    userID,
		UserName:  "User",
		Body:      body,
		Type:      TypeText,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// assertOrdered checks the two list invariants: chronological order with id
// as tiebreak, and no duplicate permanent ids.
func assertOrdered(t *testing.T, msgs []Message) {
	t.Helper()
	seen := make(map[int64]bool, len(msgs))
	for i, m := range msgs {
		require.Falsef(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
		if i == 0 {
			continue
		}
		prev := msgs[i-1]
		if prev.CreatedAt.Equal(m.CreatedAt) {
			assert.Less(t, prev.ID, m.ID)
		} else {
			assert.True(t, prev.CreatedAt.Before(m.CreatedAt),
				"message %d out of order", m.ID)
		}
	}
}

func TestSeedHistoryChronological(t *testing.T) {
	s := newTestState()
	base := time.Now().Add(-time.Hour)

	// Server pages are newest-first.
	s.SeedHistory([]Message{
		msg(3, 2, "third", base.Add(3*time.Minute)),
		msg(2, 2, "second", base.Add(2*time.Minute)),
		msg(1, 2, "first", base.Add(time.Minute)),
	})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "third", msgs[2].Body)
	assertOrdered(t, msgs)
}

func TestPrependHistoryKeepsOrder(t *testing.T) {
	s := newTestState()
	base := time.Now().Add(-time.Hour)

	s.SeedHistory([]Message{
		msg(4, 2, "d", base.Add(4*time.Minute)),
		msg(3, 2, "c", base.Add(3*time.Minute)),
	})
	s.PrependHistory([]Message{
		msg(2, 2, "b", base.Add(2*time.Minute)),
		msg(1, 2, "a", base.Add(time.Minute)),
	})

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"},
		[]string{msgs[0].Body, msgs[1].Body, msgs[2].Body, msgs[3].Body})
	assertOrdered(t, msgs)
}

func TestDuplicateDeliveryIdempotent(t *testing.T) {
	s := newTestState()
	m := msg(7, 2, "hello", time.Now())

	s.ApplyDelivered(m)
	s.ApplyDelivered(m)
	s.ApplyDelivered(m)

	require.Len(t, s.Messages(), 1)
}

func TestOptimisticConfirmReplacesInPlace(t *testing.T) {
	s := newTestState()

	tmp := s.AppendOptimistic("hi there", TypeText, nil, "Me")
	assert.True(t, tmp.Pending)
	assert.NotEmpty(t, tmp.ClientRef)
	require.Len(t, s.Messages(), 1)

	confirmed := msg(42, 1, "hi there", tmp.CreatedAt)
	confirmed.ClientRef = tmp.ClientRef
	s.ConfirmSend(tmp.ID, confirmed)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)
	assert.False(t, msgs[0].Pending)
}

func TestTempIDCollisionBumps(t *testing.T) {
	s := newTestState()

	a := s.AppendOptimistic("one", TypeText, nil, "Me")
	b := s.AppendOptimistic("two", TypeText, nil, "Me")

	assert.NotEqual(t, a.ID, b.ID)
	assertOrdered(t, s.Messages())
}

func TestEchoBeforeConfirmByClientRef(t *testing.T) {
	s := newTestState()

	tmp := s.AppendOptimistic("race me", TypeText, nil, "Me")

	// Transport echo lands before the HTTP response.
	echo := msg(42, 1, "race me", tmp.CreatedAt)
	echo.ClientRef = tmp.ClientRef
	s.ApplyDelivered(echo)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)
	assert.False(t, msgs[0].Pending)

	// The late HTTP confirmation must not re-add anything.
	s.ConfirmSend(tmp.ID, echo)
	require.Len(t, s.Messages(), 1)
}

func TestEchoContentFallbackWithoutRef(t *testing.T) {
	s := newTestState()

	tmp := s.AppendOptimistic("no ref here", TypeText, nil, "Me")

	echo := msg(42, 1, "no ref here", tmp.CreatedAt)
	s.ApplyDelivered(echo) // server stripped the client ref

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)
}

func TestEchoFromOtherUserAppends(t *testing.T) {
	s := newTestState()

	s.AppendOptimistic("mine", TypeText, nil, "Me")
	s.ApplyDelivered(msg(42, 2, "mine", time.Now()))

	require.Len(t, s.Messages(), 2)
}

func TestFailedSendStaysAndStopsMatching(t *testing.T) {
	s := newTestState()

	tmp := s.AppendOptimistic("lost", TypeText, nil, "Me")
	s.MarkFailed(tmp.ID)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.False(t, msgs[0].Pending)

	// A later delivered message with the same content is a new message, not
	// the failed one's echo.
	s.ApplyDelivered(msg(42, 1, "lost", time.Now()))
	require.Len(t, s.Messages(), 2)
}

func TestApplyUpdateEditsInPlace(t *testing.T) {
	s := newTestState()
	at := time.Now()
	s.SeedHistory([]Message{msg(5, 2, "tpyo", at)})

	editedAt := at.Add(time.Minute)
	s.ApplyUpdate(Message{ID: 5, Body: "typo", EditedAt: &editedAt, UpdatedAt: editedAt})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "typo", msgs[0].Body)
	assert.True(t, msgs[0].Edited)

	// Unknown ids are dropped silently.
	s.ApplyUpdate(Message{ID: 999, Body: "ghost"})
	require.Len(t, s.Messages(), 1)
}

func TestApplyDeleteTombstones(t *testing.T) {
	s := newTestState()
	s.SeedHistory([]Message{
		msg(1, 2, "keep", time.Now().Add(-time.Minute)),
		msg(2, 2, "secret", time.Now()),
	})

	s.ApplyDelete(2, time.Now())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Deleted)
	assert.Equal(t, "This message was deleted", msgs[1].Body)
	assert.Equal(t, "keep", msgs[0].Body)
}

func TestReactionUniqueness(t *testing.T) {
	s := newTestState()
	s.SeedHistory([]Message{msg(5, 2, "nice", time.Now())})

	r := Reaction{MessageID: 5, UserID: 3, Emoji: "👍"}
	s.AddReaction(r)
	s.AddReaction(r)
	s.AddReaction(Reaction{MessageID: 5, UserID: 3, Emoji: "❤️"})

	msgs := s.Messages()
	require.Len(t, msgs[0].Reactions, 2)

	s.RemoveReaction(r)
	msgs = s.Messages()
	require.Len(t, msgs[0].Reactions, 1)
	assert.Equal(t, "❤️", msgs[0].Reactions[0].Emoji)
}

func TestInterleavedOperationsKeepInvariants(t *testing.T) {
	s := newTestState()
	base := time.Now().Add(-time.Hour)

	s.SeedHistory([]Message{
		msg(3, 2, "c", base.Add(3*time.Second)),
		msg(1, 2, "a", base.Add(time.Second)),
	})
	tmp := s.AppendOptimistic("mine", TypeText, nil, "Me")
	s.ApplyDelivered(msg(2, 3, "b", base.Add(2*time.Second)))
	s.ApplyDelivered(msg(2, 3, "b", base.Add(2*time.Second))) // duplicate

	echo := msg(50, 1, "mine", tmp.CreatedAt)
	echo.ClientRef = tmp.ClientRef
	s.ApplyDelivered(echo)
	s.ConfirmSend(tmp.ID, echo)
	s.ApplyDelete(1, time.Now())

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assertOrdered(t, msgs)
}

func TestClientRefsNonEmptyAndDistinct(t *testing.T) {
	refs := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref := newClientRef()
		require.NotEmpty(t, ref)
		refs[ref] = true
	}
	assert.Len(t, refs, 100)
}

func TestObserverSeesEveryChange(t *testing.T) {
	s := newTestState()

	var calls int
	unsub := s.OnMessages(func([]Message) { calls++ })

	s.SeedHistory([]Message{msg(1, 2, "a", time.Now())})
	s.ApplyDelivered(msg(2, 2, "b", time.Now()))
	assert.Equal(t, 2, calls)

	unsub()
	s.ApplyDelivered(msg(3, 2, "c", time.Now()))
	assert.Equal(t, 2, calls)
}
