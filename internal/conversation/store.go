// Package conversation holds the client state for the active chat: the peer
// roster, the selected peer, and the message list, including optimistic send
// and reconciliation against the server's authoritative records.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"devmatch-client/internal/api"
	"devmatch-client/internal/models"
	"devmatch-client/internal/observability"
)

var (
	// ErrNoSession means no auth token is available; the operation aborts
	// before any network call.
	ErrNoSession = errors.New("no active session")

	// ErrNoPeerSelected means a history load was requested with no peer.
	ErrNoPeerSelected = errors.New("no peer selected")

	// ErrNoRecipient means a send could not resolve a recipient.
	ErrNoRecipient = errors.New("no recipient")

	// ErrEmptyMessage means a send carried neither text nor an image.
	ErrEmptyMessage = errors.New("message has no content")
)

// TokenSource exposes the current bearer token, empty when logged out.
type TokenSource interface {
	Token() string
}

// Emitter forwards a confirmed message onto the push channel so other local
// listeners (roster previews, other windows of the same user) update without
// a second fetch.
type Emitter interface {
	Emit(event string, payload any) error
}

// SendInput is one outbound message. PeerID is optional; when empty the
// currently selected peer is the recipient.
type SendInput struct {
	PeerID string
	Text   string
	Image  string
}

// Store is the conversation state store. All methods are safe for concurrent
// use; the network-bound operations (LoadHistory, SendMessage) re-check the
// selection after every suspension point so responses for a superseded peer
// are discarded instead of applied to the current list.
type Store struct {
	api    api.MessageService
	tokens TokenSource

	mu         sync.Mutex
	self       string
	peers      []models.Peer
	rosterPage int
	totalPages int
	selected   *models.Peer
	messages   []models.Message
	online     map[string]bool
	emitter    Emitter

	// epoch increments on every selection change or clear. An in-flight
	// operation captures it before suspending and applies its result only
	// if it still matches on completion.
	epoch uint64
}

// NewStore builds a Store over the message API.
func NewStore(msgAPI api.MessageService, tokens TokenSource) *Store {
	return &Store{
		api:    msgAPI,
		tokens: tokens,
		online: make(map[string]bool),
	}
}

// SetSelf records the authenticated user id, used as the sender of
// optimistic messages.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = userID
}

// SetEmitter installs the push-channel emitter for confirmed sends.
func (s *Store) SetEmitter(e Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitter = e
}

// SelectPeer makes peer the active conversation. The previous peer's message
// list is cleared immediately so stale messages are never shown during the
// history fetch gap.
func (s *Store) SelectPeer(peer models.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := peer
	s.selected = &p
	s.messages = nil
	s.epoch++
}

// ClearSelection closes the conversation view.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	s.messages = nil
	s.epoch++
}

// Selected returns a copy of the active peer, or nil when none is selected.
func (s *Store) Selected() *models.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	p := *s.selected
	return &p
}

// Messages returns a copy of the active conversation's message list.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Peers returns a copy of the current roster page.
func (s *Store) Peers() []models.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Peer, len(s.peers))
	copy(out, s.peers)
	return out
}

// IsOnline reports presence for a peer id.
func (s *Store) IsOnline(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[peerID]
}

// SetOnline replaces the presence snapshot with the given peer ids.
func (s *Store) SetOnline(peerIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]bool, len(peerIDs))
	for _, id := range peerIDs {
		s.online[id] = true
	}
}

// LoadPeers fetches one roster page and replaces the cached roster.
func (s *Store) LoadPeers(ctx context.Context, page, limit int) error {
	if s.tokens.Token() == "" {
		return ErrNoSession
	}

	roster, err := s.api.ListPeers(ctx, page, limit)
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = roster.Users
	s.rosterPage = roster.Page
	s.totalPages = roster.TotalPages
	return nil
}

// RosterPage returns the cached page number and total page count.
func (s *Store) RosterPage() (page, totalPages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterPage, s.totalPages
}

// LoadHistory fetches the message history for peerID and installs it as the
// active list. If the selection changed while the fetch was in flight the
// result is silently dropped.
func (s *Store) LoadHistory(ctx context.Context, peerID string) error {
	if s.tokens.Token() == "" {
		return ErrNoSession
	}
	if peerID == "" {
		return ErrNoPeerSelected
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	msgs, err := s.api.GetMessages(ctx, peerID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.selected == nil || s.selected.ID != peerID {
		observability.IncStaleFetchDiscarded()
		return nil
	}
	s.messages = msgs
	return nil
}

// SendMessage performs an optimistic send: a pending entry is appended to the
// list before the request is issued, then replaced by the server's record on
// success or removed on failure. The list never retains a permanently
// pending entry and its length changes by exactly one per call, net of
// reconciliation.
func (s *Store) SendMessage(ctx context.Context, in SendInput) (models.Message, error) {
	if s.tokens.Token() == "" {
		return models.Message{}, ErrNoSession
	}

	s.mu.Lock()
	peerID := in.PeerID
	if peerID == "" && s.selected != nil {
		peerID = s.selected.ID
	}
	if peerID == "" {
		s.mu.Unlock()
		return models.Message{}, ErrNoRecipient
	}

	pending := models.Message{
		TempID:     "tmp-" + uuid.NewString(),
		SenderID:   s.self,
		ReceiverID: peerID,
		Text:       in.Text,
		Image:      in.Image,
		CreatedAt:  time.Now(),
	}
	if !pending.Valid() {
		s.mu.Unlock()
		return models.Message{}, ErrEmptyMessage
	}
	s.messages = append(s.messages, pending)
	s.mu.Unlock()

	confirmed, err := s.api.SendMessage(ctx, peerID, in.Text, in.Image)
	if err != nil {
		s.removePending(pending.TempID)
		observability.IncMessageSent("error")
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	emitter := s.resolvePending(pending.TempID, confirmed)
	observability.IncMessageSent("ok")

	if emitter != nil {
		_ = emitter.Emit(models.EventNewMessage, confirmed)
	}
	return confirmed, nil
}

// HandleIncoming applies a message delivered over the push channel. The
// message is appended only when its sender or receiver is the currently
// selected peer, and redelivering a server id already present is a no-op.
func (s *Store) HandleIncoming(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updatePreview(msg)

	if s.selected == nil || !msg.Involves(s.selected.ID) {
		return
	}
	s.appendConfirmedLocked(msg)
}

// Clear drops all conversation state: roster, selection, messages, presence.
// Called on logout so nothing leaks into the next session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = ""
	s.peers = nil
	s.rosterPage = 0
	s.totalPages = 0
	s.selected = nil
	s.messages = nil
	s.online = make(map[string]bool)
	s.epoch++
}

// removePending drops the temp entry wherever it is; a failed send must never
// leave a pending message behind.
func (s *Store) removePending(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.TempID == tempID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// resolvePending swaps the temp entry for the confirmed record, preserving
// its position. If the temp entry is gone (selection changed in flight) the
// server record wins: it is appended through the same idempotent path used
// for push delivery, provided the conversation still targets that peer.
// Returns the emitter to notify, if any.
func (s *Store) resolvePending(tempID string, confirmed models.Message) Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updatePreview(confirmed)

	for i, m := range s.messages {
		if m.TempID == tempID {
			if s.containsLocked(confirmed.ID) {
				// The push echo beat the HTTP response; drop the temp
				// entry instead of duplicating the server record.
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
			} else {
				s.messages[i] = confirmed
			}
			return s.emitter
		}
	}

	if s.selected != nil && confirmed.Involves(s.selected.ID) {
		s.appendConfirmedLocked(confirmed)
	}
	return s.emitter
}

func (s *Store) appendConfirmedLocked(msg models.Message) {
	if s.containsLocked(msg.ID) {
		observability.IncDuplicateDropped()
		return
	}
	s.messages = append(s.messages, msg)
}

func (s *Store) containsLocked(serverID string) bool {
	if serverID == "" {
		return false
	}
	for _, m := range s.messages {
		if m.ID == serverID {
			return true
		}
	}
	return false
}

// updatePreview refreshes the roster's last-message preview for the peer the
// message belongs to. Caller holds the lock.
func (s *Store) updatePreview(msg models.Message) {
	for i := range s.peers {
		if msg.Involves(s.peers[i].ID) {
			m := msg
			s.peers[i].LastMessage = &m
			return
		}
	}
}
