package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"context"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum frame size accepted from the server.

	sendBuffer = 256
)

// Socket is the gorilla/websocket implementation of Transport.
type Socket struct {
	url   string
	token func() string
	log   zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan frame
	done     chan struct{}
	channels map[string]*socketChannel
}

// NewSocket builds a Socket. token is read at dial time so a refreshed login
// is picked up without rebuilding the transport.
func NewSocket(socketURL string, token func() string, log zerolog.Logger) *Socket {
	return &Socket{
		url:      socketURL,
		token:    token,
		log:      log,
		channels: make(map[string]*socketChannel),
	}
}

// Connect dials the socket endpoint and starts the read/write pumps. At most
// one connection is live; a reconnect replaces the previous one.
func (s *Socket) Connect(ctx context.Context) error {
	s.Disconnect()

	dialURL := s.url
	if tok := s.token(); tok != "" {
		dialURL = fmt.Sprintf("%s?token=%s", s.url, url.QueryEscape(tok))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.send = make(chan frame, sendBuffer)
	s.done = make(chan struct{})
	send, done := s.send, s.done
	s.mu.Unlock()

	go s.readPump(conn)
	go s.writePump(conn, send, done)

	s.log.Debug().Str("url", s.url).Msg("socket connected")
	return nil
}

// JoinPrivateChannel subscribes to name. bind runs on the handle before the
// subscribe frame is enqueued; the server may ack on the read pump before this
// function returns, so handlers attached any later could miss it.
func (s *Socket) JoinPrivateChannel(name string, bind func(Channel)) (Channel, error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	ch, ok := s.channels[name]
	if !ok {
		ch = &socketChannel{name: name, sock: s, listeners: make(map[string]func(json.RawMessage))}
		s.channels[name] = ch
	}
	s.mu.Unlock()

	if bind != nil {
		bind(ch)
	}

	if err := s.enqueue(frame{Action: "subscribe", Channel: name}); err != nil {
		return nil, err
	}
	return ch, nil
}

// LeaveChannel unsubscribes from name and drops its listeners.
func (s *Socket) LeaveChannel(name string) {
	s.mu.Lock()
	_, known := s.channels[name]
	delete(s.channels, name)
	connected := s.conn != nil
	s.mu.Unlock()

	if known && connected {
		if err := s.enqueue(frame{Action: "unsubscribe", Channel: name}); err != nil {
			s.log.Debug().Err(err).Str("channel", name).Msg("unsubscribe not sent")
		}
	}
}

// Disconnect closes the connection and forgets every channel.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	if conn != nil {
		close(s.done)
		s.conn = nil
	}
	s.channels = make(map[string]*socketChannel)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
		s.log.Debug().Msg("socket disconnected")
	}
}

// teardown is Disconnect for a connection that died underneath us. It only
// acts if conn is still the active one.
func (s *Socket) teardown(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.conn = nil
	s.channels = make(map[string]*socketChannel)
	s.mu.Unlock()
	conn.Close()
}

func (s *Socket) enqueue(f frame) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	send := s.send
	s.mu.Unlock()

	select {
	case send <- f:
		return nil
	default:
		s.log.Warn().Str("action", f.Action).Str("event", f.Event).Msg("send buffer full, dropping frame")
		return fmt.Errorf("transport: send buffer full")
	}
}

// readPump pumps frames from the connection to the channel listeners.
// Listener callbacks run here, one at a time, so consumers never see
// concurrent events.
func (s *Socket) readPump(conn *websocket.Conn) {
	defer s.teardown(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("socket read failed")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Channel == "" {
			s.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.dispatch(f)
	}
}

func (s *Socket) dispatch(f frame) {
	s.mu.Lock()
	ch := s.channels[f.Channel]
	s.mu.Unlock()
	if ch == nil {
		// Late event for a channel we already left.
		return
	}

	switch f.Event {
	case eventSubscribed:
		ch.fireSubscribed()
	case eventSubscribeFailed:
		ch.fireError(fmt.Errorf("transport: subscription to %s refused", f.Channel))
	default:
		ch.fire(f.Event, f.Payload)
	}
}

// writePump pumps queued frames to the connection and keeps it alive with
// pings, mirroring the deadline discipline on the read side.
func (s *Socket) writePump(conn *websocket.Conn, send chan frame, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case f := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				s.log.Debug().Err(err).Msg("socket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

type socketChannel struct {
	name string
	sock *Socket

	mu           sync.Mutex
	listeners    map[string]func(json.RawMessage)
	onSubscribed func()
	onError      func(error)
}

func (c *socketChannel) Name() string { return c.name }

func (c *socketChannel) Listen(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.listeners[event] = fn
	c.mu.Unlock()
}

func (c *socketChannel) Subscribed(fn func()) {
	c.mu.Lock()
	c.onSubscribed = fn
	c.mu.Unlock()
}

func (c *socketChannel) Error(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *socketChannel) Publish(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return c.sock.enqueue(frame{Action: "event", Channel: c.name, Event: event, Payload: data})
}

func (c *socketChannel) fire(event string, payload json.RawMessage) {
	c.mu.Lock()
	fn := c.listeners[event]
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *socketChannel) fireSubscribed() {
	c.mu.Lock()
	fn := c.onSubscribed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *socketChannel) fireError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
