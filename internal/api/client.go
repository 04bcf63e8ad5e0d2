package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"devmatch-client/internal/models"
)

var (
	// ErrUnauthorized is returned when the server rejects the bearer token.
	// The bridge treats it as session expiry and forces a logout.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable is returned on transport-level request failures.
	ErrUnavailable = errors.New("server unavailable")
)

// AuthService covers the auth endpoints. The synchronization core only
// consumes their success/failure outcome and the returned user/token.
type AuthService interface {
	Login(ctx context.Context, email, password string) (models.User, string, error)
	Signup(ctx context.Context, name, email, password, role string) (models.User, string, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, image string) (models.User, error)
}

// MessageService covers the chat endpoints consumed by the conversation store.
type MessageService interface {
	ListPeers(ctx context.Context, page, limit int) (RosterPage, error)
	GetMessages(ctx context.Context, peerID string) ([]models.Message, error)
	SendMessage(ctx context.Context, peerID, text, image string) (models.Message, error)
}

// RosterPage is one page of the peer roster.
type RosterPage struct {
	Users      []models.Peer `json:"users"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
}

// Client talks to the DevMatch backend over REST. The bearer token is held by
// the client and attached to every request; it is set on login and cleared on
// logout by the session store.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ClearToken drops the bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the current bearer token, empty when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type authResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Login exchanges credentials for the account record and a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, string, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return models.User{}, "", err
	}
	return resp.User, resp.Token, nil
}

// Signup registers a new account and returns it with a bearer token.
func (c *Client) Signup(ctx context.Context, name, email, password, role string) (models.User, string, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/signup", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
		"role":     role,
	}, &resp)
	if err != nil {
		return models.User{}, "", err
	}
	return resp.User, resp.Token, nil
}

// Logout invalidates the session server-side. The local teardown happens in
// the session store regardless of the outcome here.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// UpdateProfile replaces the account's profile image.
func (c *Client) UpdateProfile(ctx context.Context, image string) (models.User, error) {
	var user models.User
	err := c.do(ctx, http.MethodPut, "/auth/update-profile", map[string]string{
		"image": image,
	}, &user)
	return user, err
}

// ListPeers fetches one page of the chat roster.
func (c *Client) ListPeers(ctx context.Context, page, limit int) (RosterPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/messages/users"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var roster RosterPage
	err := c.do(ctx, http.MethodGet, path, nil, &roster)
	return roster, err
}

// GetMessages fetches the ordered message history with a peer.
func (c *Client) GetMessages(ctx context.Context, peerID string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(peerID), nil, &msgs)
	return msgs, err
}

type sendRequest struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// SendMessage posts a message to a peer and returns the authoritative record.
func (c *Client) SendMessage(ctx context.Context, peerID, text, image string) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/messages/send/"+url.PathEscape(peerID), sendRequest{
		Text:  text,
		Image: image,
	}, &msg)
	return msg, err
}

// do performs one request and decodes the response into out (when non-nil).
// Non-2xx statuses become errors; 401 maps to ErrUnauthorized.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := otel.Tracer("devmatch-client/api").Start(ctx, method+" "+path)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method))

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s %s: %s", method, path, readAPIError(resp.Body, resp.Status))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readAPIError extracts the backend's {"error": "..."} message, falling back
// to the HTTP status line.
func readAPIError(body io.Reader, status string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return status
}
