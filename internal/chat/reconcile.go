package chat

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// Reconciliation merges three message sources into the one list State owns:
// the initial page fetch, locally originated optimistic sends, and transport
// delivered events. After every operation the list is sorted by (createdAt,
// id) ascending and contains no two entries with the same permanent id.

// newClientRef generates the correlation id attached to optimistic sends so
// the transport echo can be matched exactly instead of by content.
func newClientRef() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// No usable entropy; a nanosecond timestamp still correlates the echo.
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}

// SeedHistory seeds the list from page 1 of the history fetch. The server
// returns newest-first; the list is kept chronological.
func (s *State) SeedHistory(page []Message) {
	s.mu.Lock()
	s.messages = reversed(page)
	s.sortLocked()
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// PrependHistory prepends an older page (pagination backwards), again
// reversing the server's newest-first order.
func (s *State) PrependHistory(page []Message) {
	s.mu.Lock()
	s.messages = append(reversed(page), s.messages...)
	s.sortLocked()
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// AppendOptimistic synthesizes a provisional message for a local send and
// appends it immediately, before any network round trip. The temporary id is
// the wall clock in milliseconds.
func (s *State) AppendOptimistic(body string, mtype MessageType, replyTo *int64, userName string) Message {
	now := time.Now()
	s.mu.Lock()
	id := now.UnixMilli()
	for s.indexByIDLocked(id) >= 0 {
		id++
	}
	m := Message{
		ID:        id,
		RoomID:    s.roomID,
		UserID:    s.localUserID,
		UserName:  userName,
		Body:      body,
		Type:      mtype,
		ReplyToID: replyTo,
		CreatedAt: now,
		UpdatedAt: now,
		ClientRef: newClientRef(),
		Pending:   true,
	}
	s.messages = append(s.messages, m)
	s.sortLocked()
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
	return m
}

// ConfirmSend replaces the provisional entry with the server-confirmed
// message, in place. If the transport echo already reconciled it (the
// confirmed id is present) the stale provisional entry is dropped instead.
func (s *State) ConfirmSend(tempID int64, confirmed Message) {
	confirmed.Pending = false
	s.mu.Lock()
	if perm := s.indexByIDLocked(confirmed.ID); perm >= 0 {
		if tmp := s.indexByIDLocked(tempID); tmp >= 0 && s.messages[tmp].Pending {
			s.messages = append(s.messages[:tmp], s.messages[tmp+1:]...)
		}
	} else if tmp := s.indexByIDLocked(tempID); tmp >= 0 {
		s.messages[tmp] = confirmed
	} else {
		s.messages = append(s.messages, confirmed)
	}
	s.sortLocked()
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// MarkFailed flags a provisional entry whose network send failed. The entry
// stays in the list so the user can see it and resend by hand; it no longer
// matches transport echoes.
func (s *State) MarkFailed(tempID int64) {
	s.mu.Lock()
	if i := s.indexByIDLocked(tempID); i >= 0 {
		s.messages[i].Pending = false
		s.messages[i].Failed = true
	}
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// ApplyDelivered merges a transport-delivered message. The sender's own echo
// is matched against a still-pending optimistic entry, by client ref when the
// echo carries one and by content otherwise, and replaces it instead of
// appending a duplicate. Messages from others append only when the permanent
// id is not already present, so duplicate delivery is a no-op.
func (s *State) ApplyDelivered(m Message) {
	m.Pending = false
	s.mu.Lock()
	if m.UserID == s.localUserID {
		if i := s.pendingMatchLocked(m); i >= 0 {
			s.messages[i] = m
			s.sortLocked()
			obs, snap := s.msgSnapshotLocked()
			s.mu.Unlock()
			fanout(obs, snap)
			return
		}
	}
	if s.indexByIDLocked(m.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, m)
	s.sortLocked()
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

func (s *State) pendingMatchLocked(m Message) int {
	if m.ClientRef != "" {
		for i := range s.messages {
			if s.messages[i].Pending && s.messages[i].ClientRef == m.ClientRef {
				return i
			}
		}
		return -1
	}
	// No ref on the echo: fall back to the content heuristic. Two rapid
	// identical sends can match the wrong entry here; the ref path above is
	// the fix and this branch only serves servers that do not echo it.
	for i := range s.messages {
		if s.messages[i].Pending && s.messages[i].sameContent(m) {
			return i
		}
	}
	return -1
}

// ApplyUpdate applies an edit event. Unknown ids are ignored; the message is
// simply not loaded on this client.
func (s *State) ApplyUpdate(m Message) {
	s.mu.Lock()
	i := s.indexByIDLocked(m.ID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.messages[i].Body = m.Body
	s.messages[i].Edited = true
	s.messages[i].EditedAt = m.EditedAt
	s.messages[i].UpdatedAt = m.UpdatedAt
	s.sortLocked()
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// ApplyDelete tombstones a message: the entry stays, flagged deleted, with a
// placeholder body. Unknown ids are ignored.
func (s *State) ApplyDelete(id int64, at time.Time) {
	s.mu.Lock()
	i := s.indexByIDLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.messages[i].Deleted = true
	s.messages[i].DeletedAt = &at
	s.messages[i].Body = deletedPlaceholder
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// AddReaction records a reaction, enforcing uniqueness per (message, user,
// emoji) triple.
func (s *State) AddReaction(r Reaction) {
	s.mu.Lock()
	i := s.indexByIDLocked(r.MessageID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	for _, existing := range s.messages[i].Reactions {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			s.mu.Unlock()
			return
		}
	}
	s.messages[i].Reactions = append(s.messages[i].Reactions, r)
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

// RemoveReaction removes a reaction if present.
func (s *State) RemoveReaction(r Reaction) {
	s.mu.Lock()
	i := s.indexByIDLocked(r.MessageID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	kept := s.messages[i].Reactions[:0]
	for _, existing := range s.messages[i].Reactions {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			continue
		}
		kept = append(kept, existing)
	}
	s.messages[i].Reactions = kept
	obs, snap := s.msgSnapshotLocked()
	s.mu.Unlock()
	fanout(obs, snap)
}

func reversed(page []Message) []Message {
	out := make([]Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = m
	}
	return out
}
