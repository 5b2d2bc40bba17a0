package chat

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"famlink/internal/transport"
)

// Membership enforces the one-active-room rule: joining a new room first
// leaves the previous one. It also remembers every channel subscribed on the
// current connection so DisconnectAll can tear them all down.
type Membership struct {
	log  zerolog.Logger
	sock transport.Transport

	mu      sync.Mutex
	current string // active channel name, "" = none
	roomID  int64
	joined  map[string]struct{}
}

// NewMembership builds a tracker over the given transport.
func NewMembership(sock transport.Transport, log zerolog.Logger) *Membership {
	return &Membership{
		log:    log,
		sock:   sock,
		joined: make(map[string]struct{}),
	}
}

func channelName(roomID int64) string {
	return fmt.Sprintf("chat.room.%d", roomID)
}

// Join subscribes to the room's channel, leaving any active room first. bind
// runs on the fresh channel handle before the subscribe request goes out, so
// handlers attached there cannot miss the subscription ack.
func (m *Membership) Join(roomID int64, bind func(transport.Channel)) (transport.Channel, error) {
	m.mu.Lock()
	if m.current != "" {
		m.sock.LeaveChannel(m.current)
		delete(m.joined, m.current)
		m.current = ""
		m.roomID = 0
	}
	m.mu.Unlock()

	name := channelName(roomID)
	ch, err := m.sock.JoinPrivateChannel(name, bind)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", name, err)
	}

	m.mu.Lock()
	m.current = name
	m.roomID = roomID
	m.joined[name] = struct{}{}
	m.mu.Unlock()

	m.log.Debug().Int64("room", roomID).Msg("joined room channel")
	return ch, nil
}

// Leave unsubscribes from the active room. Leaving with none is a no-op.
func (m *Membership) Leave() {
	m.mu.Lock()
	name := m.current
	if name != "" {
		delete(m.joined, name)
		m.current = ""
		m.roomID = 0
	}
	m.mu.Unlock()

	if name != "" {
		m.sock.LeaveChannel(name)
	}
}

// DisconnectAll unsubscribes every channel tracked this session, not only the
// current one. Used on app backgrounding and logout.
func (m *Membership) DisconnectAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.joined))
	for name := range m.joined {
		names = append(names, name)
	}
	m.joined = make(map[string]struct{})
	m.current = ""
	m.roomID = 0
	m.mu.Unlock()

	for _, name := range names {
		m.sock.LeaveChannel(name)
	}
}

// Current returns the active room id, if any.
func (m *Membership) Current() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID, m.current != ""
}
