// Package subscription binds the push channel's chat events to the
// conversation store for the lifetime of an open conversation view.
package subscription

import (
	"encoding/json"
	"log"
	"sync"

	"devmatch-client/internal/conversation"
	"devmatch-client/internal/models"
	"devmatch-client/internal/push"
)

// Binder is the handler-registration slice of a push connection.
type Binder interface {
	On(event string, h push.Handler)
	Off(event string)
}

// Subscription attaches the newMessage and presence handlers to a
// connection. Subscribe is idempotent: it always detaches before attaching,
// so repeated calls can never stack duplicate listeners, and each inbound
// event is delivered to the store exactly once.
type Subscription struct {
	store *conversation.Store

	mu   sync.Mutex
	conn Binder
}

// New builds a Subscription feeding the given store.
func New(store *conversation.Store) *Subscription {
	return &Subscription{store: store}
}

// Subscribe attaches handlers to conn, replacing any previous attachment
// (on this or an earlier connection).
func (s *Subscription) Subscribe(conn Binder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.detachLocked()
	}
	s.conn = conn

	conn.On(models.EventNewMessage, func(data json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("subscription: bad newMessage payload: %v", err)
			return
		}
		s.store.HandleIncoming(msg)
	})

	conn.On(models.EventOnlineUsers, func(data json.RawMessage) {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			log.Printf("subscription: bad presence payload: %v", err)
			return
		}
		s.store.SetOnline(ids)
	})
}

// Unsubscribe detaches the handlers. Called when the conversation view
// closes; skipping it on peer switch is the classic duplicate-append bug,
// so callers treat it as a correctness requirement.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

// Subscribed reports whether handlers are currently attached.
func (s *Subscription) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Subscription) detachLocked() {
	if s.conn == nil {
		return
	}
	s.conn.Off(models.EventNewMessage)
	s.conn.Off(models.EventOnlineUsers)
	s.conn = nil
}
