package mocks

import (
	"encoding/json"
	"sync"

	"devmatch-client/internal/push"
)

// EmittedEvent is one frame written through FakeConn.Emit.
type EmittedEvent struct {
	Event   string
	Payload any
}

// FakeConn is a functional stand-in for a push connection: handlers can be
// fired directly and emitted frames are recorded.
type FakeConn struct {
	mu       sync.Mutex
	handlers map[string]push.Handler
	emitted  []EmittedEvent
	closed   bool
	done     chan struct{}
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		handlers: make(map[string]push.Handler),
		done:     make(chan struct{}),
	}
}

func (c *FakeConn) On(event string, h push.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *FakeConn) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *FakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, EmittedEvent{Event: event, Payload: payload})
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) Done() <-chan struct{} { return c.done }

// Fire delivers an event to the registered handler, marshalling payload the
// way the wire would.
func (c *FakeConn) Fire(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// HandlerCount returns the number of attached handlers.
func (c *FakeConn) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Emitted returns a copy of the frames written so far.
func (c *FakeConn) Emitted() []EmittedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EmittedEvent, len(c.emitted))
	copy(out, c.emitted)
	return out
}

// RecordedNotification is one user-facing notification.
type RecordedNotification struct {
	Level string
	Text  string
}

// NotifierSpy records notifications for assertions.
type NotifierSpy struct {
	mu    sync.Mutex
	notes []RecordedNotification
}

func (n *NotifierSpy) Notify(level, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, RecordedNotification{Level: level, Text: text})
}

// Notifications returns a copy of everything recorded so far.
func (n *NotifierSpy) Notifications() []RecordedNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]RecordedNotification, len(n.notes))
	copy(out, n.notes)
	return out
}
