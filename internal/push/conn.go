// Package push maintains the single real-time connection to the DevMatch
// backend. The connection is opened with the user id as a query parameter so
// the server can route user-scoped events, and delivers JSON event envelopes
// to registered handlers. Only the session store opens or closes a Conn;
// other packages attach and detach handlers.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"devmatch-client/internal/models"
	"devmatch-client/internal/observability"
)

// ErrRealtimeUnavailable is returned once the dial backoff ceiling is
// exhausted. The app keeps working without push; chat degrades to manual
// refresh over REST.
var ErrRealtimeUnavailable = errors.New("real-time unavailable")

const (
	dialBaseDelay   = 250 * time.Millisecond
	maxDialAttempts = 5

	pingInterval = 30 * time.Second
	pongWait     = 40 * time.Second
	writeWait    = 10 * time.Second
)

// Handler receives the raw payload of one inbound event.
type Handler func(json.RawMessage)

// Conn is a live push connection. Handlers are keyed by event name with
// replace semantics: registering a second handler for the same event swaps
// out the first, so repeated subscriptions can never stack.
type Conn struct {
	ws     *websocket.Conn
	id     string
	userID string

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the push endpoint for the given user. Transport-level
// failures are retried with exponential backoff up to a fixed attempt
// ceiling; after that ErrRealtimeUnavailable is returned.
func Dial(ctx context.Context, wsURL, userID string) (*Conn, error) {
	target := wsURL + "?user_id=" + url.QueryEscape(userID)

	var lastErr error
	delay := dialBaseDelay
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err == nil {
			observability.IncDialAttempt("ok")
			observability.IncPushActive()
			c := &Conn{
				ws:       ws,
				id:       uuid.NewString(),
				userID:   userID,
				handlers: make(map[string]Handler),
				done:     make(chan struct{}),
			}
			go c.readLoop()
			go c.pingLoop()
			return c, nil
		}

		observability.IncDialAttempt("error")
		lastErr = err
		log.Printf("push: dial attempt %d/%d failed: %v", attempt, maxDialAttempts, err)

		if attempt == maxDialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: %v", ErrRealtimeUnavailable, lastErr)
}

// ID returns the connection's identifier, used in operational events.
func (c *Conn) ID() string { return c.id }

// UserID returns the identity the connection was opened for.
func (c *Conn) UserID() string { return c.userID }

// On registers the handler for an event, replacing any previous one.
func (c *Conn) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for an event. Removing an absent handler is a no-op.
func (c *Conn) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, event)
}

// Emit writes an event frame to the server.
func (c *Conn) Emit(event string, payload any) error {
	evt, err := models.NewEvent(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	observability.IncPushEvent(event, "out")
	return nil
}

// Close tears the connection down. Safe to call multiple times; repeated
// calls are no-ops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
		observability.DecPushActive()
	})
	return err
}

// Closed reports whether Close has been called or the read loop has exited.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("push: read error: %v", err)
			}
			c.Close()
			return
		}

		var evt models.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("push: dropping malformed frame: %v", err)
			continue
		}
		observability.IncPushEvent(evt.Name, "in")

		c.handlersMu.RLock()
		h := c.handlers[evt.Name]
		c.handlersMu.RUnlock()
		if h != nil {
			h(evt.Data)
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("push: ping failed: %v", err)
				c.Close()
				return
			}
		}
	}
}
