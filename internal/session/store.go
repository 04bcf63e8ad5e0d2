// Package session owns the authenticated user and the single push
// connection. No other package opens or closes the connection; the
// conversation side only attaches and detaches listeners on it.
package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"devmatch-client/internal/models"
	"devmatch-client/internal/push"
)

// ErrNotAuthenticated means Connect was called without a logged-in user
// carrying a non-empty canonical id.
var ErrNotAuthenticated = errors.New("not authenticated")

// Conn is the slice of push.Conn the session layer needs. Declared here so
// tests can substitute a fake connection.
type Conn interface {
	On(event string, h push.Handler)
	Off(event string)
	Emit(event string, payload any) error
	Close() error
	Closed() bool
	Done() <-chan struct{}
}

// Dialer opens a push connection for a user id.
type Dialer func(ctx context.Context, wsURL, userID string) (Conn, error)

// DefaultDialer adapts push.Dial to the Dialer signature.
func DefaultDialer(ctx context.Context, wsURL, userID string) (Conn, error) {
	return push.Dial(ctx, wsURL, userID)
}

// Store holds the current user and the at-most-one live push connection.
type Store struct {
	wsURL string
	dial  Dialer

	mu          sync.Mutex
	user        *models.User
	conn        Conn
	rtAvailable bool
}

// NewStore builds a session store dialing wsURL. A nil dialer uses
// DefaultDialer.
func NewStore(wsURL string, dial Dialer) *Store {
	if dial == nil {
		dial = DefaultDialer
	}
	return &Store{wsURL: wsURL, dial: dial, rtAvailable: true}
}

// Login installs the authenticated user.
func (s *Store) Login(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.user = &u
	s.rtAvailable = true
}

// Logout clears the user and synchronously tears down the connection; no
// authenticated socket may outlive the session.
func (s *Store) Logout() {
	s.mu.Lock()
	s.user = nil
	conn := s.conn
	s.conn = nil
	s.rtAvailable = true
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// CurrentUser returns a copy of the authenticated user, or nil.
func (s *Store) CurrentUser() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Conn returns the live connection, or nil when none is open.
func (s *Store) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.Closed() {
		return nil
	}
	return s.conn
}

// RealtimeAvailable reports whether push delivery is usable. It turns false
// once the dial backoff ceiling is exhausted; chat then degrades to manual
// refresh over REST without blocking the rest of the app.
func (s *Store) RealtimeAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtAvailable
}

// Connect opens the push connection for the current user. Calling it while a
// connection is live is a no-op returning the existing connection.
func (s *Store) Connect(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	if s.user == nil || s.user.ID == "" {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	if s.conn != nil && !s.conn.Closed() {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	userID := s.user.ID
	s.mu.Unlock()

	conn, err := s.dial(ctx, s.wsURL, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, push.ErrRealtimeUnavailable) {
			s.rtAvailable = false
			log.Printf("session: real-time unavailable, falling back to manual refresh: %v", err)
		}
		return nil, err
	}

	// A logout or a racing connect may have happened while dialing.
	if s.user == nil || s.user.ID != userID {
		_ = conn.Close()
		return nil, ErrNotAuthenticated
	}
	if s.conn != nil && !s.conn.Closed() {
		_ = conn.Close()
		return s.conn, nil
	}

	s.conn = conn
	s.rtAvailable = true
	return conn, nil
}

// Disconnect closes the connection if one is open. Closing an already-closed
// connection is a no-op.
func (s *Store) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
