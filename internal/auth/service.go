package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"famlink/internal/api"
	"famlink/internal/storage"
)

const (
	tokenKey   = "auth.token"
	profileKey = "auth.profile"
)

// ErrNotAuthenticated is returned when an operation needs a logged-in user.
var ErrNotAuthenticated = errors.New("auth: not logged in")

// User is the authenticated account profile.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Service handles registration, login and the cached session. The token and
// profile live in the local store so a restart does not force a re-login.
type Service struct {
	api   *api.Client
	store *storage.Store
	log   zerolog.Logger

	mu   sync.RWMutex
	user *User
}

// NewService builds the auth service and restores any cached session.
func NewService(client *api.Client, store *storage.Store, log zerolog.Logger) *Service {
	s := &Service{api: client, store: store, log: log}
	s.restore()
	return s
}

func (s *Service) restore() {
	token, ok, err := s.store.GetItem(tokenKey)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn().Err(err).Msg("could not read cached token")
		}
		return
	}
	if !tokenAlive(token) {
		// Stale session; drop it so Authenticated() stays honest.
		_ = s.store.RemoveItem(tokenKey)
		_ = s.store.RemoveItem(profileKey)
		return
	}
	s.api.SetToken(token)

	profile, ok, err := s.store.GetItem(profileKey)
	if err != nil || !ok {
		return
	}
	var u User
	if err := json.Unmarshal([]byte(profile), &u); err != nil {
		s.log.Warn().Err(err).Msg("cached profile is corrupt")
		return
	}
	s.user = &u
}

// Register creates an account. The caller still has to log in afterwards.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	var u User
	if err := s.api.Post(ctx, "/api/auth/register", registerRequest{Name: name, Email: email, Password: password}, &u); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &u, nil
}

// Login authenticates and caches the session locally.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	var resp loginResponse
	if err := s.api.Post(ctx, "/api/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s.api.SetToken(resp.Token)
	if err := s.store.SetItem(tokenKey, resp.Token); err != nil {
		s.log.Warn().Err(err).Msg("could not cache token")
	}
	if profile, err := json.Marshal(resp.User); err == nil {
		if err := s.store.SetItem(profileKey, string(profile)); err != nil {
			s.log.Warn().Err(err).Msg("could not cache profile")
		}
	}

	s.mu.Lock()
	s.user = &resp.User
	s.mu.Unlock()
	return &resp.User, nil
}

// Logout clears the cached session. The server call is best-effort; the local
// state is wiped either way.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.api.Post(ctx, "/api/auth/logout", nil, nil); err != nil {
		s.log.Debug().Err(err).Msg("server logout failed, clearing local session anyway")
	}
	s.api.SetToken("")
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()

	if err := s.store.RemoveItem(tokenKey); err != nil {
		return err
	}
	return s.store.RemoveItem(profileKey)
}

// CurrentUser returns the cached profile of the logged-in user.
func (s *Service) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Token returns the session token, or "" when logged out.
func (s *Service) Token() string {
	return s.api.Token()
}

// Authenticated reports whether a live (non-expired) session exists.
func (s *Service) Authenticated() bool {
	token := s.api.Token()
	return token != "" && tokenAlive(token)
}

// tokenAlive checks the token's exp claim. The signature is the server's
// business; the client only needs to know whether the session is worth using.
func tokenAlive(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.After(time.Now())
}
