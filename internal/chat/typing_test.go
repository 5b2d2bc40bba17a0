package chat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typingSig(userID int64, name string, typing bool) TypingSignal {
	return TypingSignal{RoomID: 10, UserID: userID, UserName: name, IsTyping: typing}
}

func TestTypingTextFormats(t *testing.T) {
	tr := NewTypingTracker(1, nil, zerolog.Nop())

	assert.Equal(t, "", tr.Text())

	tr.Handle(typingSig(2, "Bo", true))
	assert.Equal(t, "Bo is typing...", tr.Text())

	tr.Handle(typingSig(3, "Ann", true))
	assert.Equal(t, "Ann and Bo are typing...", tr.Text())

	tr.Handle(typingSig(4, "Cy", true))
	assert.Equal(t, "Ann and 2 others are typing...", tr.Text())
}

func TestTypingIgnoresLocalUser(t *testing.T) {
	tr := NewTypingTracker(1, nil, zerolog.Nop())
	tr.Handle(typingSig(1, "Me", true))
	assert.Empty(t, tr.Users())
}

func TestTypingExplicitEndRemoves(t *testing.T) {
	var last atomic.Value
	tr := NewTypingTracker(1, func(text string) { last.Store(text) }, zerolog.Nop())

	tr.Handle(typingSig(2, "Bo", true))
	require.Len(t, tr.Users(), 1)
	assert.Equal(t, "Bo is typing...", last.Load())

	tr.Handle(typingSig(2, "Bo", false))
	assert.Empty(t, tr.Users())
	assert.Equal(t, "", last.Load())

	// Ending an untracked user is a no-op and must not notify.
	last.Store("sentinel")
	tr.Handle(typingSig(9, "Ghost", false))
	assert.Equal(t, "sentinel", last.Load())
}

func TestTypingSweepExpiresStaleEntries(t *testing.T) {
	now := time.Now()
	tr := NewTypingTracker(1, nil, zerolog.Nop())
	tr.now = func() time.Time { return now }

	tr.Handle(typingSig(2, "Bo", true))
	tr.Handle(typingSig(3, "Ann", true))
	require.Len(t, tr.Users(), 2)

	// Inside the window nothing expires.
	now = now.Add(typingTTL - time.Second)
	tr.sweep()
	require.Len(t, tr.Users(), 2)

	now = now.Add(2 * time.Second)
	tr.sweep()
	assert.Empty(t, tr.Users())
}

func TestTypingRepeatStartDoesNotRefresh(t *testing.T) {
	now := time.Now()
	tr := NewTypingTracker(1, nil, zerolog.Nop())
	tr.now = func() time.Time { return now }

	tr.Handle(typingSig(2, "Bo", true))

	// A second "started" for a tracked user does not push the window out.
	now = now.Add(typingTTL - time.Second)
	tr.Handle(typingSig(2, "Bo", true))
	now = now.Add(2 * time.Second)
	tr.sweep()
	assert.Empty(t, tr.Users())
}

func TestTypingClear(t *testing.T) {
	tr := NewTypingTracker(1, nil, zerolog.Nop())
	tr.Handle(typingSig(2, "Bo", true))
	tr.Handle(typingSig(3, "Ann", true))

	tr.Clear()
	assert.Empty(t, tr.Users())
	assert.Equal(t, "", tr.Text())
}

func TestDebouncerFiresOncePerQuietWindow(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { fires.Add(1) })

	d.Touch()
	time.Sleep(10 * time.Millisecond)
	d.Touch()
	time.Sleep(10 * time.Millisecond)
	d.Touch()

	require.Eventually(t, func() bool { return fires.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// No further fires without new activity.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fires.Load())
}

func TestDebouncerStopCancelsPendingFire(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { fires.Add(1) })

	d.Touch()
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fires.Load())
}
