package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"famlink/internal/api"
	"famlink/internal/transport"
)

const pageSize = 50

// SendError wraps a failed send and carries the original input text so the
// UI can restore it to the input field.
type SendError struct {
	Text string
	Err  error
}

func (e *SendError) Error() string { return fmt.Sprintf("send failed: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

type messageList struct {
	Items []Message `json:"items"`
	Meta  api.Meta  `json:"meta"`
}

type roomList struct {
	Items []Room   `json:"items"`
	Meta  api.Meta `json:"meta"`
}

type sendRequest struct {
	Body      string      `json:"body"`
	Type      MessageType `json:"type"`
	ReplyToID *int64      `json:"reply_to_id,omitempty"`
	ClientRef string      `json:"client_ref"`
}

type editRequest struct {
	Body string `json:"body"`
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

// Service glues the REST client, the transport and the state holder into the
// chat feature: room open/close, optimistic sends, live event handling and
// the connection lifecycle.
type Service struct {
	log  zerolog.Logger
	api  *api.Client
	sock transport.Transport

	localUserID int64
	localName   string

	state   *State
	typing  *TypingTracker
	members *Membership
	sup     *Supervisor

	debounce *Debouncer

	mu   sync.Mutex
	ch   transport.Channel
	page int

	typingObsMu sync.Mutex
	nextObs     int
	typingObs   map[int]func(string)
}

// NewService wires the chat feature for the given local user. authenticated
// gates the connection supervisor.
func NewService(client *api.Client, sock transport.Transport, localUserID int64, localName string, authenticated func() bool, log zerolog.Logger) *Service {
	s := &Service{
		log:         log,
		api:         client,
		sock:        sock,
		localUserID: localUserID,
		localName:   localName,
		state:       NewState(localUserID, log),
		members:     NewMembership(sock, log),
		sup:         NewSupervisor(sock, authenticated, log),
		typingObs:   make(map[int]func(string)),
	}
	s.typing = NewTypingTracker(localUserID, s.fanoutTyping, log)
	s.debounce = NewDebouncer(typingDebounce, s.sendTypingSignal)
	return s
}

// State exposes the state holder for observers and snapshots.
func (s *Service) State() *State { return s.state }

// Supervisor exposes the connection supervisor for state observers.
func (s *Service) Supervisor() *Supervisor { return s.sup }

// TypingText returns the current typing indicator line.
func (s *Service) TypingText() string { return s.typing.Text() }

// OnTypingText registers an observer for indicator changes.
func (s *Service) OnTypingText(fn func(string)) func() {
	s.typingObsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.typingObs[id] = fn
	s.typingObsMu.Unlock()
	return func() {
		s.typingObsMu.Lock()
		delete(s.typingObs, id)
		s.typingObsMu.Unlock()
	}
}

func (s *Service) fanoutTyping(text string) {
	s.typingObsMu.Lock()
	obs := make([]func(string), 0, len(s.typingObs))
	for _, fn := range s.typingObs {
		obs = append(obs, fn)
	}
	s.typingObsMu.Unlock()
	for _, fn := range obs {
		fn(text)
	}
}

// Connect brings the transport up through the supervisor.
func (s *Service) Connect(ctx context.Context) error {
	if err := s.sup.Start(ctx); err != nil {
		return err
	}
	s.typing.Start()
	return nil
}

// Retry resets the supervisor's attempt budget and reconnects.
func (s *Service) Retry(ctx context.Context) error {
	if err := s.sup.Retry(ctx); err != nil {
		return err
	}
	s.typing.Start()
	return nil
}

// Rooms refreshes the room list.
func (s *Service) Rooms(ctx context.Context) ([]Room, error) {
	var list roomList
	if err := s.api.Get(ctx, fmt.Sprintf("/api/chat/rooms?page=1&limit=%d", pageSize), &list); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	s.state.SetRooms(list.Items)
	return list.Items, nil
}

// OpenRoom leaves any open room, subscribes to the new one, seeds the message
// list from page 1 and marks the room read.
func (s *Service) OpenRoom(ctx context.Context, roomID int64) error {
	if err := s.sup.BeginJoin(); err != nil {
		return err
	}

	// Discard the previous room's state before the channel switch.
	s.typing.Clear()
	s.state.ClearMessages()
	s.state.SetCurrentRoom(0)

	ch, err := s.members.Join(roomID, func(ch transport.Channel) {
		s.bindChannel(ch)
		ch.Subscribed(s.sup.ConfirmJoin)
		ch.Error(s.sup.FailJoin)
	})
	if err != nil {
		s.sup.FailJoin(err)
		return err
	}

	s.mu.Lock()
	s.ch = ch
	s.page = 1
	s.mu.Unlock()
	s.state.SetCurrentRoom(roomID)

	var list messageList
	if err := s.api.Get(ctx, fmt.Sprintf("/api/chat/rooms/%d/messages?page=1&limit=%d", roomID, pageSize), &list); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if s.state.CurrentRoom() != roomID {
		// The user moved on while the fetch was in flight.
		return nil
	}
	s.state.SeedHistory(list.Items)

	if err := s.MarkRead(ctx, roomID); err != nil {
		s.log.Debug().Err(err).Int64("room", roomID).Msg("mark read failed")
	}
	return nil
}

// LoadOlder fetches the next page backwards and prepends it.
func (s *Service) LoadOlder(ctx context.Context) error {
	roomID := s.state.CurrentRoom()
	if roomID == 0 {
		return fmt.Errorf("chat: no open room")
	}
	s.mu.Lock()
	next := s.page + 1
	s.mu.Unlock()

	var list messageList
	if err := s.api.Get(ctx, fmt.Sprintf("/api/chat/rooms/%d/messages?page=%d&limit=%d", roomID, next, pageSize), &list); err != nil {
		return fmt.Errorf("load older: %w", err)
	}
	if s.state.CurrentRoom() != roomID {
		return nil
	}
	s.mu.Lock()
	s.page = next
	s.mu.Unlock()
	s.state.PrependHistory(list.Items)
	return nil
}

// Send appends an optimistic message immediately and confirms it against the
// server response. On failure the entry is flagged failed and the returned
// *SendError carries the input text for restoration; there is no automatic
// retry.
func (s *Service) Send(ctx context.Context, body string, mtype MessageType, replyTo *int64) error {
	roomID := s.state.CurrentRoom()
	if roomID == 0 {
		return fmt.Errorf("chat: no open room")
	}

	optimistic := s.state.AppendOptimistic(body, mtype, replyTo, s.localName)

	var confirmed Message
	req := sendRequest{Body: body, Type: mtype, ReplyToID: replyTo, ClientRef: optimistic.ClientRef}
	if err := s.api.Post(ctx, fmt.Sprintf("/api/chat/rooms/%d/messages", roomID), req, &confirmed); err != nil {
		if s.state.CurrentRoom() == roomID {
			s.state.MarkFailed(optimistic.ID)
		}
		return &SendError{Text: body, Err: err}
	}

	if s.state.CurrentRoom() != roomID {
		return nil
	}
	s.state.ConfirmSend(optimistic.ID, confirmed)
	s.state.TouchRoom(confirmed, false)
	return nil
}

// Edit updates a message body.
func (s *Service) Edit(ctx context.Context, messageID int64, body string) error {
	var updated Message
	if err := s.api.Put(ctx, fmt.Sprintf("/api/chat/messages/%d", messageID), editRequest{Body: body}, &updated); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	s.state.ApplyUpdate(updated)
	return nil
}

// Delete tombstones a message. Confirmation is the caller's job.
func (s *Service) Delete(ctx context.Context, messageID int64) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/chat/messages/%d", messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.state.ApplyDelete(messageID, time.Now())
	return nil
}

// React adds an emoji reaction.
func (s *Service) React(ctx context.Context, messageID int64, emoji string) error {
	if err := s.api.Post(ctx, fmt.Sprintf("/api/chat/messages/%d/reactions", messageID), reactRequest{Emoji: emoji}, nil); err != nil {
		return fmt.Errorf("react: %w", err)
	}
	s.state.AddReaction(Reaction{MessageID: messageID, UserID: s.localUserID, Emoji: emoji})
	return nil
}

// Unreact removes an emoji reaction.
func (s *Service) Unreact(ctx context.Context, messageID int64, emoji string) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/chat/messages/%d/reactions/%s", messageID, emoji)); err != nil {
		return fmt.Errorf("unreact: %w", err)
	}
	s.state.RemoveReaction(Reaction{MessageID: messageID, UserID: s.localUserID, Emoji: emoji})
	return nil
}

// MarkRead resets the room's unread counter, server first.
func (s *Service) MarkRead(ctx context.Context, roomID int64) error {
	if err := s.api.Post(ctx, fmt.Sprintf("/api/chat/rooms/%d/read", roomID), nil, nil); err != nil {
		return err
	}
	s.state.ResetUnread(roomID)
	return nil
}

// InputActivity records a keystroke; one typing signal goes out once the
// keyboard has been quiet for the debounce window.
func (s *Service) InputActivity() {
	s.debounce.Touch()
}

// StopTyping cancels the debounce and signals "ended" immediately.
func (s *Service) StopTyping() {
	s.debounce.Stop()
	s.publishTyping(false)
}

func (s *Service) sendTypingSignal() {
	s.publishTyping(true)
}

func (s *Service) publishTyping(isTyping bool) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	roomID := s.state.CurrentRoom()
	if ch == nil || roomID == 0 {
		return
	}
	sig := TypingSignal{RoomID: roomID, UserID: s.localUserID, UserName: s.localName, IsTyping: isTyping}
	if err := ch.Publish(transport.EventUserTyping, sig); err != nil {
		s.log.Debug().Err(err).Msg("typing signal not sent")
	}
}

// LeaveRoom unsubscribes and discards the room's state.
func (s *Service) LeaveRoom() {
	s.debounce.Stop()
	s.members.Leave()
	s.typing.Clear()
	s.state.ClearMessages()
	s.state.SetCurrentRoom(0)
	s.mu.Lock()
	s.ch = nil
	s.page = 0
	s.mu.Unlock()
}

// Shutdown tears everything down: every tracked channel, the liveness state
// and the socket itself. Used on app backgrounding and logout.
func (s *Service) Shutdown() {
	s.debounce.Stop()
	s.typing.Stop()
	s.members.DisconnectAll()
	s.state.ClearMessages()
	s.state.SetCurrentRoom(0)
	s.mu.Lock()
	s.ch = nil
	s.page = 0
	s.mu.Unlock()
	s.sock.Disconnect()
	s.sup.Down()
}

// bindChannel attaches the event listeners. Payloads are decoded and
// validated at this boundary; malformed events are dropped with a debug log
// instead of leaking partial data into the state.
func (s *Service) bindChannel(ch transport.Channel) {
	ch.Listen(transport.EventMessageSent, func(payload json.RawMessage) {
		m, ok := decodeEvent[Message](s.log, transport.EventMessageSent, payload)
		if !ok || m.ID <= 0 || m.RoomID <= 0 {
			return
		}
		current := s.state.CurrentRoom()
		if m.RoomID == current {
			s.state.ApplyDelivered(m)
		}
		s.state.TouchRoom(m, m.RoomID != current && m.UserID != s.localUserID)
	})

	ch.Listen(transport.EventMessageUpdated, func(payload json.RawMessage) {
		m, ok := decodeEvent[Message](s.log, transport.EventMessageUpdated, payload)
		if !ok || m.ID <= 0 {
			return
		}
		s.state.ApplyUpdate(m)
	})

	ch.Listen(transport.EventMessageDeleted, func(payload json.RawMessage) {
		d, ok := decodeEvent[messageDeleted](s.log, transport.EventMessageDeleted, payload)
		if !ok || d.ID <= 0 {
			return
		}
		at := d.DeletedAt
		if at.IsZero() {
			at = time.Now()
		}
		s.state.ApplyDelete(d.ID, at)
	})

	ch.Listen(transport.EventReactionAdded, func(payload json.RawMessage) {
		r, ok := decodeEvent[Reaction](s.log, transport.EventReactionAdded, payload)
		if !ok || r.MessageID <= 0 || r.UserID <= 0 {
			return
		}
		s.state.AddReaction(r)
	})

	ch.Listen(transport.EventReactionRemoved, func(payload json.RawMessage) {
		r, ok := decodeEvent[Reaction](s.log, transport.EventReactionRemoved, payload)
		if !ok || r.MessageID <= 0 || r.UserID <= 0 {
			return
		}
		s.state.RemoveReaction(r)
	})

	ch.Listen(transport.EventUserTyping, func(payload json.RawMessage) {
		sig, ok := decodeEvent[TypingSignal](s.log, transport.EventUserTyping, payload)
		if !ok || sig.UserID <= 0 {
			return
		}
		if sig.RoomID != s.state.CurrentRoom() {
			return
		}
		s.typing.Handle(sig)
	})
}

func decodeEvent[T any](log zerolog.Logger, event string, payload json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		log.Debug().Err(err).Str("event", event).Msg("dropping malformed event payload")
		var zero T
		return zero, false
	}
	return v, true
}
