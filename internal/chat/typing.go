package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// typingTTL is the liveness window: an entry older than this is stale.
	typingTTL = 5 * time.Second
	// sweepInterval bounds staleness when an explicit "ended" signal is lost.
	sweepInterval = 3 * time.Second
	// typingDebounce is the quiet period before one outbound signal is sent.
	typingDebounce = 500 * time.Millisecond
)

// TypingTracker maintains the set of users believed to be typing in the open
// room. Entries expire independently after typingTTL; a periodic sweep cleans
// up anything a lost "ended" signal left behind.
type TypingTracker struct {
	log         zerolog.Logger
	localUserID int64

	mu     sync.Mutex
	users  map[int64]TypingUser
	timers map[int64]*time.Timer
	stop   chan struct{}

	onChange func(text string)
	now      func() time.Time
}

// NewTypingTracker builds a tracker. onChange receives the derived display
// text after every change; it may be nil.
func NewTypingTracker(localUserID int64, onChange func(string), log zerolog.Logger) *TypingTracker {
	return &TypingTracker{
		log:         log,
		localUserID: localUserID,
		users:       make(map[int64]TypingUser),
		timers:      make(map[int64]*time.Timer),
		onChange:    onChange,
		now:         time.Now,
	}
}

// Start launches the periodic sweep. Stop must be called to release it.
func (t *TypingTracker) Start() {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the sweep and clears all state.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()
	t.Clear()
}

// Handle applies an inbound typing signal. The local user's own signals are
// ignored; a "started" signal for a user already tracked is skipped (the
// sweep owns refresh); an "ended" signal removes immediately.
func (t *TypingTracker) Handle(sig TypingSignal) {
	if sig.UserID == t.localUserID {
		return
	}

	t.mu.Lock()
	changed := false
	if !sig.IsTyping {
		if _, ok := t.users[sig.UserID]; ok {
			t.removeLocked(sig.UserID)
			changed = true
		}
	} else if _, ok := t.users[sig.UserID]; !ok {
		t.users[sig.UserID] = TypingUser{UserID: sig.UserID, UserName: sig.UserName, LastTyped: t.now()}
		id := sig.UserID
		t.timers[id] = time.AfterFunc(typingTTL, func() { t.expire(id) })
		changed = true
	}
	text := t.textLocked()
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn(text)
	}
}

// expire removes an entry once its window elapsed without refresh.
func (t *TypingTracker) expire(userID int64) {
	t.mu.Lock()
	u, ok := t.users[userID]
	if !ok || t.now().Sub(u.LastTyped) < typingTTL {
		t.mu.Unlock()
		return
	}
	t.removeLocked(userID)
	text := t.textLocked()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// sweep removes every entry older than the liveness window.
func (t *TypingTracker) sweep() {
	now := t.now()
	t.mu.Lock()
	changed := false
	for id, u := range t.users {
		if now.Sub(u.LastTyped) > typingTTL {
			t.removeLocked(id)
			changed = true
		}
	}
	text := t.textLocked()
	fn := t.onChange
	t.mu.Unlock()
	if changed && fn != nil {
		fn(text)
	}
}

// Clear drops every entry and cancels their timers, e.g. on room switch.
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	for id := range t.users {
		t.removeLocked(id)
	}
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn("")
	}
}

func (t *TypingTracker) removeLocked(userID int64) {
	delete(t.users, userID)
	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
		delete(t.timers, userID)
	}
}

// Users returns a snapshot of the tracked set.
func (t *TypingTracker) Users() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TypingUser, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out
}

// Text derives the indicator line from the tracked set.
func (t *TypingTracker) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.textLocked()
}

func (t *TypingTracker) textLocked() string {
	names := make([]string, 0, len(t.users))
	for _, u := range t.users {
		names = append(names, u.UserName)
	}
	sort.Strings(names)

	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", names[0], names[1])
	default:
		return fmt.Sprintf("%s and %d others are typing...", names[0], len(names)-1)
	}
}

// Debouncer delays the outbound typing signal until the keyboard has been
// quiet for the debounce window, so the transport is not flooded with one
// signal per keystroke.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

// NewDebouncer builds a debouncer firing fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Touch records activity, restarting the quiet window.
func (d *Debouncer) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop cancels a pending fire.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
