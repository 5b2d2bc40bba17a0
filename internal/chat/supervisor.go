package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"famlink/internal/transport"
)

// ConnState is the supervisor's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateJoining
	StateReady
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	maxConnectAttempts = 3
	initialBackoff     = 2 * time.Second
)

var (
	// ErrNotAuthenticated: connecting requires a logged-in user.
	ErrNotAuthenticated = errors.New("chat: not authenticated")
	// ErrUnreachable: every automatic attempt failed; a manual Retry is
	// required before the client tries again.
	ErrUnreachable = errors.New("chat: unable to connect")
)

// Supervisor owns the transport's connection lifecycle: it connects with a
// bounded exponential backoff and surfaces a terminal error state once the
// attempt budget is spent. Manual Retry resets the budget.
type Supervisor struct {
	log           zerolog.Logger
	sock          transport.Transport
	authenticated func() bool

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    ConnState
	attempts int
	nextObs  int
	obs      map[int]func(ConnState)
}

// NewSupervisor builds a supervisor over sock. authenticated gates Start.
func NewSupervisor(sock transport.Transport, authenticated func() bool, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		log:           log,
		sock:          sock,
		authenticated: authenticated,
		sleep:         sleepCtx,
		obs:           make(map[int]func(ConnState)),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminal reports whether the supervisor gave up and needs a manual Retry.
func (s *Supervisor) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateError && s.attempts >= maxConnectAttempts
}

// OnState registers a state observer; the returned function unsubscribes.
func (s *Supervisor) OnState(fn func(ConnState)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.obs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.obs, id)
		s.mu.Unlock()
	}
}

func (s *Supervisor) setState(next ConnState) {
	s.mu.Lock()
	s.state = next
	obs := make([]func(ConnState), 0, len(s.obs))
	for _, fn := range s.obs {
		obs = append(obs, fn)
	}
	s.mu.Unlock()
	for _, fn := range obs {
		fn(next)
	}
}

// Start connects, retrying with exponential backoff (2s, doubling) up to the
// attempt cap. It refuses outright when no user is logged in. After the cap
// the state is terminal and only Retry starts a new sequence.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.authenticated() {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected || s.state == StateJoining || s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateError && s.attempts >= maxConnectAttempts {
		s.mu.Unlock()
		return ErrUnreachable
	}
	s.attempts = 0
	s.mu.Unlock()

	return s.run(ctx)
}

// Retry resets the attempt counter and re-enters Connecting. It is the manual
// escape hatch from the terminal error state.
func (s *Supervisor) Retry(ctx context.Context) error {
	if !s.authenticated() {
		return ErrNotAuthenticated
	}
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	return s.run(ctx)
}

func (s *Supervisor) run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for {
		s.setState(StateConnecting)
		err := s.sock.Connect(ctx)
		if err == nil {
			s.mu.Lock()
			s.attempts = 0
			s.mu.Unlock()
			s.setState(StateConnected)
			return nil
		}
		lastErr = err

		s.mu.Lock()
		s.attempts++
		attempts := s.attempts
		s.mu.Unlock()
		s.log.Warn().Err(err).Int("attempt", attempts).Msg("connection attempt failed")

		if attempts >= maxConnectAttempts {
			s.setState(StateError)
			return fmt.Errorf("%w after %d attempts: %v", ErrUnreachable, attempts, lastErr)
		}

		s.setState(StateError)
		if err := s.sleep(ctx, b.NextBackOff()); err != nil {
			return err
		}
	}
}

// BeginJoin marks the room join in flight. Connect must have succeeded.
func (s *Supervisor) BeginJoin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected && s.state != StateReady {
		return fmt.Errorf("chat: cannot join in state %s", s.state)
	}
	s.state = StateJoining
	return nil
}

// ConfirmJoin marks the channel subscription acknowledged.
func (s *Supervisor) ConfirmJoin() {
	s.setState(StateReady)
}

// FailJoin records a failed join.
func (s *Supervisor) FailJoin(err error) {
	s.log.Warn().Err(err).Msg("room join failed")
	s.setState(StateError)
}

// Down resets to Disconnected, e.g. after an explicit Disconnect.
func (s *Supervisor) Down() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.setState(StateDisconnected)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
