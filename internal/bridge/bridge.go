// Package bridge keeps the session and conversation stores consistent
// without circular ownership: identity changes flow into the push connection,
// inbound events flow into the conversation store, and every error crossing a
// store boundary becomes a user-facing notification instead of an unhandled
// failure.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"devmatch-client/internal/api"
	"devmatch-client/internal/conversation"
	"devmatch-client/internal/models"
	"devmatch-client/internal/session"
	"devmatch-client/internal/storage"
	"devmatch-client/internal/subscription"
)

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(level, text string)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(level, text string) {
	log.Printf("notify [%s]: %s", level, text)
}

// TokenStore is the token slice of the API client.
type TokenStore interface {
	SetToken(token string)
	ClearToken()
	Token() string
}

// Bridge wires the stores together.
type Bridge struct {
	auth          api.AuthService
	tokens        TokenStore
	state         *storage.Store
	sessions      *session.Store
	conversations *conversation.Store
	subs          *subscription.Subscription
	notifier      Notifier

	// onAppUpdate receives application-update-<userId> payloads for the job
	// notification surface, which shares the push connection with chat.
	onAppUpdate func(json.RawMessage)
}

// New builds the bridge. state may be nil when persistence is disabled and
// notifier may be nil to default to LogNotifier.
func New(auth api.AuthService, tokens TokenStore, state *storage.Store,
	sessions *session.Store, conversations *conversation.Store,
	subs *subscription.Subscription, notifier Notifier) *Bridge {

	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Bridge{
		auth:          auth,
		tokens:        tokens,
		state:         state,
		sessions:      sessions,
		conversations: conversations,
		subs:          subs,
		notifier:      notifier,
	}
}

// OnApplicationUpdate installs the handler for job application updates.
func (b *Bridge) OnApplicationUpdate(fn func(json.RawMessage)) {
	b.onAppUpdate = fn
}

// Login authenticates, persists the session, and brings up the push
// connection. A real-time connect failure is non-fatal: the session stays
// usable over REST.
func (b *Bridge) Login(ctx context.Context, email, password string) error {
	user, token, err := b.auth.Login(ctx, email, password)
	if err != nil {
		b.notifier.Notify("error", "login failed: "+err.Error())
		return err
	}
	b.establish(ctx, user, token)
	return nil
}

// Signup registers an account and establishes the session the same way
// Login does.
func (b *Bridge) Signup(ctx context.Context, name, email, password, role string) error {
	user, token, err := b.auth.Signup(ctx, name, email, password, role)
	if err != nil {
		b.notifier.Notify("error", "signup failed: "+err.Error())
		return err
	}
	b.establish(ctx, user, token)
	return nil
}

// Resume restores a persisted session, if one exists. Absent or malformed
// persisted state means "logged out", never an error.
func (b *Bridge) Resume(ctx context.Context) (bool, error) {
	if b.state == nil {
		return false, nil
	}
	user, err := b.state.LoadUser(ctx)
	if err != nil {
		return false, err
	}
	token, err := b.state.LoadToken(ctx)
	if err != nil {
		return false, err
	}
	if user == nil || token == "" {
		return false, nil
	}
	b.establish(ctx, *user, token)
	return true, nil
}

// Logout invalidates the session server-side (best effort) and tears
// everything down locally: connection, selection, messages, roster, token.
func (b *Bridge) Logout(ctx context.Context) {
	if err := b.auth.Logout(ctx); err != nil {
		log.Printf("bridge: server logout failed: %v", err)
	}
	b.teardown(ctx)
}

// OpenConversation selects a peer, (re)subscribes the event handlers, and
// loads history. Re-subscribing while already subscribed replaces the
// handlers instead of stacking them.
func (b *Bridge) OpenConversation(ctx context.Context, peer models.Peer) error {
	b.conversations.SelectPeer(peer)
	if conn := b.sessions.Conn(); conn != nil {
		b.subs.Subscribe(conn)
	}
	if err := b.conversations.LoadHistory(ctx, peer.ID); err != nil {
		return b.observe(ctx, err)
	}
	return nil
}

// CloseConversation detaches the event handlers and clears the selection.
func (b *Bridge) CloseConversation() {
	b.subs.Unsubscribe()
	b.conversations.ClearSelection()
}

// Send posts a message to the selected peer (or in.PeerID) through the
// conversation store's optimistic path.
func (b *Bridge) Send(ctx context.Context, in conversation.SendInput) (models.Message, error) {
	msg, err := b.conversations.SendMessage(ctx, in)
	if err != nil {
		return models.Message{}, b.observe(ctx, err)
	}
	return msg, nil
}

// RefreshRoster reloads a roster page.
func (b *Bridge) RefreshRoster(ctx context.Context, page, limit int) error {
	if err := b.conversations.LoadPeers(ctx, page, limit); err != nil {
		return b.observe(ctx, err)
	}
	return nil
}

// establish installs identity everywhere and connects the push channel.
func (b *Bridge) establish(ctx context.Context, user models.User, token string) {
	b.tokens.SetToken(token)
	b.sessions.Login(user)
	b.conversations.SetSelf(user.ID)

	if b.state != nil {
		if err := b.state.SaveUser(ctx, user); err != nil {
			log.Printf("bridge: persist user: %v", err)
		}
		if err := b.state.SaveToken(ctx, token); err != nil {
			log.Printf("bridge: persist token: %v", err)
		}
	}

	conn, err := b.sessions.Connect(ctx)
	if err != nil {
		b.notifier.Notify("warn", "real-time updates unavailable, refresh manually")
		return
	}

	b.subs.Subscribe(conn)
	b.conversations.SetEmitter(conn)
	if b.onAppUpdate != nil {
		conn.On(models.ApplicationUpdateEvent(user.ID), b.onAppUpdate)
	}
}

// teardown reverses establish.
func (b *Bridge) teardown(ctx context.Context) {
	b.subs.Unsubscribe()
	b.conversations.SetEmitter(nil)
	b.sessions.Logout()
	b.conversations.Clear()
	b.tokens.ClearToken()

	if b.state != nil {
		if err := b.state.DeleteUser(ctx); err != nil {
			log.Printf("bridge: delete persisted user: %v", err)
		}
		if err := b.state.DeleteToken(ctx); err != nil {
			log.Printf("bridge: delete persisted token: %v", err)
		}
	}
}

// observe converts a store error into a notification. Server-reported auth
// expiry forces a local logout first: continuing in an authenticated-looking
// state after the server has rejected the token is unsafe.
func (b *Bridge) observe(ctx context.Context, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		b.teardown(ctx)
		b.notifier.Notify("error", "session expired, please log in again")
		return err
	}
	b.notifier.Notify("error", err.Error())
	return err
}
