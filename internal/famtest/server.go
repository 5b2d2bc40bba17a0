// Package famtest runs an in-process fake of the famlink backend: the REST
// envelope API plus the websocket channel protocol. Tests use it to drive the
// SDK end to end without a real server.
package famtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"famlink/internal/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type claims struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type frame struct {
	Action  string          `json:"action,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsConn struct {
	userID int64

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]bool
}

func (c *wsConn) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

// Server is the fake backend.
type Server struct {
	hs     *httptest.Server
	secret []byte

	mu        sync.Mutex
	nextID    int64
	rooms     map[int64]*chat.Room
	messages  map[int64][]chat.Message // roomID -> chronological
	conns     map[*wsConn]struct{}
	failDials int

	// EchoOnSocket makes a POSTed message also go out as a message.sent
	// event on the room channel, like the real broadcast pipeline.
	EchoOnSocket bool
	// StripClientRef drops the client_ref from socket echoes, simulating an
	// older server so the content-heuristic fallback is exercised.
	StripClientRef bool
}

// NewServer starts the fake backend. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		secret:   []byte("famtest-secret"),
		nextID:   1000,
		rooms:    make(map[int64]*chat.Room),
		messages: make(map[int64][]chat.Message),
		conns:    make(map[*wsConn]struct{}),
	}

	r := chi.NewRouter()
	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/ws", s.handleWS)
		r.Get("/api/chat/rooms", s.handleListRooms)
		r.Get("/api/chat/rooms/{roomID}/messages", s.handleListMessages)
		r.Post("/api/chat/rooms/{roomID}/messages", s.handleSendMessage)
		r.Post("/api/chat/rooms/{roomID}/read", s.handleMarkRead)
		r.Put("/api/chat/messages/{messageID}", s.handleEditMessage)
		r.Delete("/api/chat/messages/{messageID}", s.handleDeleteMessage)
		r.Post("/api/chat/messages/{messageID}/reactions", s.handleReact)
		r.Delete("/api/chat/messages/{messageID}/reactions/{emoji}", s.handleUnreact)
	})

	s.hs = httptest.NewServer(r)
	return s
}

// Close shuts the fake backend down.
func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		c.conn.Close()
	}
	s.conns = make(map[*wsConn]struct{})
	s.mu.Unlock()
	s.hs.Close()
}

// URL is the REST base URL.
func (s *Server) URL() string { return s.hs.URL }

// WSURL is the websocket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.hs.URL, "http") + "/ws"
}

// IssueToken signs a session token for the given user.
func (s *Server) IssueToken(userID int64, name string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ID:   userID,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "famtest",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	ss, _ := tok.SignedString(s.secret)
	return ss
}

// IssueExpiredToken signs a token that is already past its exp claim.
func (s *Server) IssueExpiredToken(userID int64, name string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ID:   userID,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "famtest",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	ss, _ := tok.SignedString(s.secret)
	return ss
}

// FailNextDials makes the next n websocket upgrades fail with a 503.
func (s *Server) FailNextDials(n int) {
	s.mu.Lock()
	s.failDials = n
	s.mu.Unlock()
}

// AddRoom seeds a room.
func (s *Server) AddRoom(room chat.Room) {
	s.mu.Lock()
	r := room
	s.rooms[room.ID] = &r
	s.mu.Unlock()
}

// AddMessage seeds a message into a room's history.
func (s *Server) AddMessage(m chat.Message) {
	s.mu.Lock()
	s.messages[m.RoomID] = append(s.messages[m.RoomID], m)
	sortMessages(s.messages[m.RoomID])
	s.mu.Unlock()
}

// Broadcast pushes an event to every subscriber of a channel, simulating a
// server-originated delivery.
func (s *Server) Broadcast(channel, event string, payload any) {
	data, _ := json.Marshal(payload)
	f := frame{Channel: channel, Event: event, Payload: data}

	s.mu.Lock()
	targets := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		c.mu.Lock()
		subscribed := c.subs[channel]
		c.mu.Unlock()
		if subscribed {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.write(f)
	}
}

// SendRaw pushes a raw text frame to every open socket, for malformed-input
// tests.
func (s *Server) SendRaw(raw string) {
	s.mu.Lock()
	targets := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.mu.Lock()
		c.conn.WriteMessage(websocket.TextMessage, []byte(raw))
		c.mu.Unlock()
	}
}

func sortMessages(ms []chat.Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func (s *Server) allocID() int64 {
	s.nextID++
	return s.nextID
}

// --- envelope helpers ---

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// --- auth ---

func (s *Server) parseToken(tokenString string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return c, nil
}

type ctxKey string

const userKey ctxKey = "user"

func withUser(ctx context.Context, c *claims) context.Context {
	return context.WithValue(ctx, userKey, c)
}

func userFrom(ctx context.Context) *claims {
	if c, ok := ctx.Value(userKey).(*claims); ok {
		return c
	}
	return &claims{}
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if h := r.Header.Get("Authorization"); h != "" {
			parts := strings.Split(h, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		c, err := s.parseToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), c)))
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"id": s.allocID(), "name": req.Name, "email": req.Email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Password == "wrong" {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	id := s.allocID()
	name := strings.SplitN(req.Email, "@", 2)[0]
	writeData(w, http.StatusOK, map[string]any{
		"token": s.IssueToken(id, name),
		"user":  map[string]any{"id": id, "name": name, "email": req.Email},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, nil)
}

// --- chat REST ---

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := make([]chat.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, *room)
	}
	s.mu.Unlock()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	writeData(w, http.StatusOK, map[string]any{
		"items": rooms,
		"meta":  map[string]int{"page": 1, "limit": len(rooms), "total": len(rooms)},
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID, _ := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	s.mu.Lock()
	all := append([]chat.Message(nil), s.messages[roomID]...)
	s.mu.Unlock()

	// Page 1 is the most recent `limit` messages, served newest-first.
	end := len(all) - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	window := all[start:end]
	items := make([]chat.Message, len(window))
	for i, m := range window {
		items[len(window)-1-i] = m
	}

	writeData(w, http.StatusOK, map[string]any{
		"items": items,
		"meta":  map[string]int{"page": page, "limit": limit, "total": len(all)},
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	roomID, _ := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	var req struct {
		Body      string           `json:"body"`
		Type      chat.MessageType `json:"type"`
		ReplyToID *int64           `json:"reply_to_id"`
		ClientRef string           `json:"client_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusUnprocessableEntity, "body is required")
		return
	}

	now := time.Now()
	s.mu.Lock()
	m := chat.Message{
		ID:        s.allocID(),
		RoomID:    roomID,
		UserID:    user.ID,
		UserName:  user.Name,
		Body:      req.Body,
		Type:      req.Type,
		ReplyToID: req.ReplyToID,
		CreatedAt: now,
		UpdatedAt: now,
		ClientRef: req.ClientRef,
	}
	s.messages[roomID] = append(s.messages[roomID], m)
	s.mu.Unlock()

	if s.EchoOnSocket {
		echo := m
		if s.StripClientRef {
			echo.ClientRef = ""
		}
		s.Broadcast(fmt.Sprintf("chat.room.%d", roomID), "message.sent", echo)
	}
	writeData(w, http.StatusCreated, m)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	roomID, _ := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok {
		room.UnreadCount = 0
	}
	s.mu.Unlock()
	writeData(w, http.StatusOK, nil)
}

func (s *Server) findMessage(id int64) (int64, int, bool) {
	for roomID, ms := range s.messages {
		for i := range ms {
			if ms[i].ID == id {
				return roomID, i, true
			}
		}
	}
	return 0, 0, false
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	now := time.Now()
	s.mu.Lock()
	roomID, i, ok := s.findMessage(id)
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.messages[roomID][i].Body = req.Body
	s.messages[roomID][i].Edited = true
	s.messages[roomID][i].EditedAt = &now
	s.messages[roomID][i].UpdatedAt = now
	m := s.messages[roomID][i]
	s.mu.Unlock()

	writeData(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	now := time.Now()
	s.mu.Lock()
	roomID, i, ok := s.findMessage(id)
	if ok {
		s.messages[roomID][i].Deleted = true
		s.messages[roomID][i].DeletedAt = &now
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	roomID, i, ok := s.findMessage(id)
	if ok {
		s.messages[roomID][i].Reactions = append(s.messages[roomID][i].Reactions,
			chat.Reaction{MessageID: id, UserID: user.ID, Emoji: req.Emoji})
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeData(w, http.StatusCreated, nil)
}

func (s *Server) handleUnreact(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	emoji := chi.URLParam(r, "emoji")

	s.mu.Lock()
	roomID, i, ok := s.findMessage(id)
	if ok {
		kept := s.messages[roomID][i].Reactions[:0]
		for _, re := range s.messages[roomID][i].Reactions {
			if re.UserID == user.ID && re.Emoji == emoji {
				continue
			}
			kept = append(kept, re)
		}
		s.messages[roomID][i].Reactions = kept
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeData(w, http.StatusOK, nil)
}

// --- websocket ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.failDials > 0 {
		s.failDials--
		s.mu.Unlock()
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	user := userFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsConn{userID: user.ID, conn: conn, subs: make(map[string]bool)}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(c)
}

func (s *Server) readLoop(c *wsConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}

		switch f.Action {
		case "subscribe":
			c.mu.Lock()
			c.subs[f.Channel] = true
			c.mu.Unlock()
			c.write(frame{Channel: f.Channel, Event: "subscription_succeeded"})
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subs, f.Channel)
			c.mu.Unlock()
		case "event":
			// Relay client events (typing) to the channel's other members.
			s.relay(c, f)
		}
	}
}

func (s *Server) relay(from *wsConn, f frame) {
	s.mu.Lock()
	targets := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		if c == from {
			continue
		}
		c.mu.Lock()
		subscribed := c.subs[f.Channel]
		c.mu.Unlock()
		if subscribed {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.write(frame{Channel: f.Channel, Event: f.Event, Payload: f.Payload})
	}
}
