package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"famlink/internal/transport"
)

// fakeTransport implements transport.Transport in memory so the supervisor
// and membership trackers can be driven without a socket.
type fakeTransport struct {
	mu        sync.Mutex
	failures  int  // fail this many Connect calls first
	ackOnJoin bool // fire the subscription ack during JoinPrivateChannel
	connects  int
	connected bool
	joined    []string
	left      []string
	channels  map[string]*fakeChannel
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{channels: make(map[string]*fakeChannel)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failures > 0 {
		f.failures--
		return errors.New("dial refused")
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) JoinPrivateChannel(name string, bind func(transport.Channel)) (transport.Channel, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil, transport.ErrNotConnected
	}
	f.joined = append(f.joined, name)
	ch := &fakeChannel{name: name, listeners: make(map[string]func(json.RawMessage))}
	f.channels[name] = ch
	ackOnJoin := f.ackOnJoin
	f.mu.Unlock()

	if bind != nil {
		bind(ch)
	}
	if ackOnJoin {
		ch.ack()
	}
	return ch, nil
}

func (f *fakeTransport) LeaveChannel(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, name)
	delete(f.channels, name)
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.channels = make(map[string]*fakeChannel)
}

func (f *fakeTransport) leftChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.left...)
}

type fakeChannel struct {
	name string

	mu           sync.Mutex
	listeners    map[string]func(json.RawMessage)
	onSubscribed func()
	published    []publishedEvent
}

type publishedEvent struct {
	event   string
	payload any
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Listen(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.listeners[event] = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Subscribed(fn func()) {
	c.mu.Lock()
	c.onSubscribed = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Error(fn func(error)) {}

func (c *fakeChannel) Publish(event string, payload any) error {
	c.mu.Lock()
	c.published = append(c.published, publishedEvent{event: event, payload: payload})
	c.mu.Unlock()
	return nil
}

// deliver pushes an event through the registered listener, like the read
// pump would.
func (c *fakeChannel) deliver(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	fn := c.listeners[event]
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (c *fakeChannel) ack() {
	c.mu.Lock()
	fn := c.onSubscribed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
