package chat

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// State is the single owner of all chat state for this client instance: the
// current room's message list, the room list and the current-room pointer.
// It is built once at startup and handed to consumers; there are no package
// level singletons. All mutation goes through its methods, which re-apply the
// ordering invariant and then notify observers outside the lock.
type State struct {
	log zerolog.Logger

	mu          sync.Mutex
	localUserID int64
	roomID      int64 // current room, 0 = none
	messages    []Message
	rooms       []Room

	nextObs int
	msgObs  map[int]func([]Message)
	roomObs map[int]func([]Room)
}

// NewState builds an empty state holder for the given local user.
func NewState(localUserID int64, log zerolog.Logger) *State {
	return &State{
		log:         log,
		localUserID: localUserID,
		msgObs:      make(map[int]func([]Message)),
		roomObs:     make(map[int]func([]Room)),
	}
}

// OnMessages registers an observer for message list changes. The returned
// function unsubscribes; callers must do so when their view goes away.
func (s *State) OnMessages(fn func([]Message)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.msgObs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.msgObs, id)
		s.mu.Unlock()
	}
}

// OnRooms registers an observer for room list changes.
func (s *State) OnRooms(fn func([]Room)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.roomObs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.roomObs, id)
		s.mu.Unlock()
	}
}

// Messages returns a snapshot of the current room's message list.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Rooms returns a snapshot of the room list.
func (s *State) Rooms() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Room(nil), s.rooms...)
}

// CurrentRoom returns the open room id, 0 when none.
func (s *State) CurrentRoom() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// SetCurrentRoom records the open room. It does not touch the message list;
// callers clear it explicitly when switching.
func (s *State) SetCurrentRoom(roomID int64) {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

// ClearMessages drops the message list, e.g. when leaving a room.
func (s *State) ClearMessages() {
	s.mu.Lock()
	s.messages = nil
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// SetRooms replaces the room list.
func (s *State) SetRooms(rooms []Room) {
	s.mu.Lock()
	s.rooms = append([]Room(nil), rooms...)
	obs, snap := s.roomSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// TouchRoom moves the room a confirmed message arrived for to the head of the
// room list and updates its last-message pointer. Optimistic messages never
// reorder; the unread counter is bumped only when asked (arrival for a room
// that is not open).
func (s *State) TouchRoom(m Message, bumpUnread bool) {
	if m.Pending {
		return
	}
	s.mu.Lock()
	idx := -1
	for i := range s.rooms {
		if s.rooms[i].ID == m.RoomID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	room := s.rooms[idx]
	last := m
	room.LastMessage = &last
	if bumpUnread {
		room.UnreadCount++
	}
	s.rooms = append(s.rooms[:idx], s.rooms[idx+1:]...)
	s.rooms = append([]Room{room}, s.rooms...)
	obs, snap := s.roomSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// ResetUnread zeroes the unread counter after an explicit mark-read.
func (s *State) ResetUnread(roomID int64) {
	s.mu.Lock()
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			s.rooms[i].UnreadCount = 0
			break
		}
	}
	obs, snap := s.roomSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// sortLocked re-applies the ordering invariant: createdAt ascending, id as
// the tiebreak. Called after every mutation, before observers see the list.
func (s *State) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		a, b := s.messages[i], s.messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (s *State) indexByIDLocked(id int64) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) msgSnapshotLocked() ([]func([]Message), []Message) {
	obs := make([]func([]Message), 0, len(s.msgObs))
	for _, fn := range s.msgObs {
		obs = append(obs, fn)
	}
	return obs, append([]Message(nil), s.messages...)
}

func (s *State) roomSnapshotLocked() ([]func([]Room), []Room) {
	obs := make([]func([]Room), 0, len(s.roomObs))
	for _, fn := range s.roomObs {
		obs = append(obs, fn)
	}
	return obs, append([]Room(nil), s.rooms...)
}

func fanout[T any](obs []func([]T), snap []T) {
	for _, fn := range obs {
		fn(snap)
	}
}
