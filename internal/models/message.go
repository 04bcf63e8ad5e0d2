package models

import (
	"encoding/json"
	"time"
)

// Message is a chat message in the active conversation.
//
// A message is in exactly one of two states:
//
//   - pending: locally created by an optimistic send, identified by TempID
//     only. ID is empty until the server confirms.
//   - confirmed: returned by the server or delivered over the push channel,
//     identified by ID. TempID is empty.
//
// Reconciliation replaces the whole pending value with the confirmed one, it
// never patches fields in place.
type Message struct {
	ID         string    `json:"id,omitempty"`
	TempID     string    `json:"-"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Pending reports whether the message is still awaiting server confirmation.
func (m Message) Pending() bool {
	return m.ID == "" && m.TempID != ""
}

// Valid reports whether the message carries any content. At least one of
// Text/Image must be present; both may co-occur.
func (m Message) Valid() bool {
	return m.Text != "" || m.Image != ""
}

// Involves reports whether the given user is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// UnmarshalJSON normalizes the alternate "_id" primary-key field into ID.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		AltID string `json:"_id"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = aux.AltID
	}
	return nil
}
