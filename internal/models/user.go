package models

import "encoding/json"

// Roles a DevMatch account can hold.
const (
	RoleProgrammer = "programmer"
	RoleRecruiter  = "recruiter"
)

// User is the authenticated account. Exactly one canonical ID field is used
// everywhere downstream; records coming off the wire or out of durable storage
// may carry the primary key under "_id" instead and are normalized on decode.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Image string `json:"image,omitempty"`
}

// UnmarshalJSON accepts either "id" or the alternate "_id" primary-key field
// and folds both into User.ID.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	aux := struct {
		*alias
		AltID string `json:"_id"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = aux.AltID
	}
	return nil
}

// Peer is a conversation participant shown in the roster.
type Peer struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Image       string   `json:"image,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// UnmarshalJSON normalizes "_id" the same way User does.
func (p *Peer) UnmarshalJSON(data []byte) error {
	type alias Peer
	aux := struct {
		*alias
		AltID string `json:"_id"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = aux.AltID
	}
	return nil
}
