package models

import (
	"encoding/json"
	"fmt"
)

// Push event names consumed by the client.
const (
	EventNewMessage  = "newMessage"
	EventOnlineUsers = "getOnlineUsers"

	// EventApplicationUpdatePrefix prefixes user-targeted job application
	// updates ("application-update-<userId>"). These share the push
	// connection but are routed to the notification surface, not the chat
	// stores.
	EventApplicationUpdatePrefix = "application-update-"
)

// ApplicationUpdateEvent returns the event name targeted at the given user.
func ApplicationUpdateEvent(userID string) string {
	return EventApplicationUpdatePrefix + userID
}

// Event is the envelope for every frame on the push channel. Data is kept raw
// so the payload can be decoded lazily by whichever handler owns the event.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent builds an envelope with the payload marshalled into Data.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// UnmarshalJSON rejects envelopes without an event name; the raw payload is
// preserved for deferred decoding.
func (e *Event) UnmarshalJSON(data []byte) error {
	var partial struct {
		Name string          `json:"event"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if partial.Name == "" {
		return fmt.Errorf("event envelope missing \"event\" field")
	}
	e.Name = partial.Name
	e.Data = partial.Data
	return nil
}
