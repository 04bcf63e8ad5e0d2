package stubserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devmatch-client/internal/models"
)

type testEnv struct {
	srv *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := httptest.NewServer(New().Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv}
}

func (e *testEnv) post(t *testing.T, path, token string, body, out any) int {
	t.Helper()
	return e.request(t, http.MethodPost, path, token, body, out)
}

func (e *testEnv) get(t *testing.T, path, token string, out any) int {
	t.Helper()
	return e.request(t, http.MethodGet, path, token, nil, out)
}

func (e *testEnv) request(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type authResult struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

func (e *testEnv) login(t *testing.T, email string) authResult {
	t.Helper()
	var out authResult
	status := e.post(t, "/auth/login", "", map[string]string{"email": email, "password": "pw"}, &out)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, out.Token)
	return out
}

func TestLoginAutoCreatesAccount(t *testing.T) {
	env := newEnv(t)

	got := env.login(t, "ann@dev.io")
	assert.Equal(t, "ann", got.User.Name, "name defaults to the email local part")
	assert.Equal(t, models.RoleProgrammer, got.User.Role)

	again := env.login(t, "ann@dev.io")
	assert.Equal(t, got.User.ID, again.User.ID, "a second login reuses the account")
	assert.NotEqual(t, got.Token, again.Token)
}

func TestLoginInfersRecruiterRole(t *testing.T) {
	env := newEnv(t)
	got := env.login(t, "recruiter-joe@corp.io")
	assert.Equal(t, models.RoleRecruiter, got.User.Role)
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	env := newEnv(t)
	body := map[string]string{"name": "ann", "email": "ann@dev.io", "password": "pw", "role": "programmer"}

	var out authResult
	require.Equal(t, http.StatusCreated, env.post(t, "/auth/signup", "", body, &out))
	assert.Equal(t, "ann", out.User.Name)

	assert.Equal(t, http.StatusConflict, env.post(t, "/auth/signup", "", body, nil))
}

func TestAuthRequired(t *testing.T) {
	env := newEnv(t)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/messages/users", "", nil))
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/messages/users", "not-a-token", nil))
}

func TestLogoutInvalidatesToken(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")

	require.Equal(t, http.StatusOK, env.post(t, "/auth/logout", ann.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/messages/users", ann.Token, nil))
}

func TestRosterPagination(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")
	for i := 0; i < 5; i++ {
		env.login(t, fmt.Sprintf("peer%d@dev.io", i))
	}

	var page struct {
		Users      []models.Peer `json:"users"`
		Page       int           `json:"page"`
		TotalPages int           `json:"totalPages"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/messages/users?page=1&limit=2", ann.Token, &page))
	assert.Len(t, page.Users, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.TotalPages)

	require.Equal(t, http.StatusOK, env.get(t, "/messages/users?page=3&limit=2", ann.Token, &page))
	assert.Len(t, page.Users, 1, "the last page holds the remainder")
}

func TestSendMessageValidation(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")
	bob := env.login(t, "bob@dev.io")

	status := env.post(t, "/messages/send/"+bob.User.ID, ann.Token, map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "a message needs text or an image")

	status = env.post(t, "/messages/send/usr-999", ann.Token, map[string]string{"text": "hi"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSendAndFetchHistory(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")
	bob := env.login(t, "bob@dev.io")
	eve := env.login(t, "eve@dev.io")

	var sent models.Message
	status := env.post(t, "/messages/send/"+bob.User.ID, ann.Token, map[string]string{"text": "hi bob"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, strings.HasPrefix(sent.ID, "srv-"))
	assert.Equal(t, ann.User.ID, sent.SenderID)

	env.post(t, "/messages/send/"+eve.User.ID, ann.Token, map[string]string{"text": "hi eve"}, nil)

	var history []models.Message
	require.Equal(t, http.StatusOK, env.get(t, "/messages/"+bob.User.ID, ann.Token, &history))
	require.Len(t, history, 1, "history is scoped to the conversation pair")
	assert.Equal(t, "hi bob", history[0].Text)

	// The receiver sees the same conversation.
	require.Equal(t, http.StatusOK, env.get(t, "/messages/"+ann.User.ID, bob.Token, &history))
	require.Len(t, history, 1)
}

func TestRosterCarriesLastMessagePreview(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")
	bob := env.login(t, "bob@dev.io")

	env.post(t, "/messages/send/"+bob.User.ID, ann.Token, map[string]string{"text": "first"}, nil)
	env.post(t, "/messages/send/"+bob.User.ID, ann.Token, map[string]string{"text": "second"}, nil)

	var page struct {
		Users []models.Peer `json:"users"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/messages/users", ann.Token, &page))
	require.Len(t, page.Users, 1)
	require.NotNil(t, page.Users[0].LastMessage)
	assert.Equal(t, "second", page.Users[0].LastMessage.Text)
}

func TestWebsocketDeliversNewMessage(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")
	bob := env.login(t, "bob@dev.io")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?user_id=" + bob.User.ID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	env.post(t, "/messages/send/"+bob.User.ID, ann.Token, map[string]string{"text": "ping"}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var evt models.Event
		require.NoError(t, ws.ReadJSON(&evt))
		if evt.Name != models.EventNewMessage {
			continue // presence frames may arrive first
		}
		var msg models.Message
		require.NoError(t, json.Unmarshal(evt.Data, &msg))
		assert.Equal(t, "ping", msg.Text)
		return
	}
}

func TestWebsocketRequiresUserID(t *testing.T) {
	env := newEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresenceBroadcast(t *testing.T) {
	env := newEnv(t)
	ann := env.login(t, "ann@dev.io")
	bob := env.login(t, "bob@dev.io")

	dial := func(userID string) *websocket.Conn {
		ws, _, err := websocket.DefaultDialer.Dial(
			"ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws?user_id="+userID, nil)
		require.NoError(t, err)
		return ws
	}

	annWS := dial(ann.User.ID)
	defer annWS.Close()
	bobWS := dial(bob.User.ID)

	// Ann eventually observes both users online.
	waitForPresence(t, annWS, func(ids []string) bool {
		return contains(ids, ann.User.ID) && contains(ids, bob.User.ID)
	})

	bobWS.Close()
	waitForPresence(t, annWS, func(ids []string) bool {
		return !contains(ids, bob.User.ID)
	})
}

func waitForPresence(t *testing.T, ws *websocket.Conn, ok func([]string) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var evt models.Event
		require.NoError(t, ws.ReadJSON(&evt))
		if evt.Name != models.EventOnlineUsers {
			continue
		}
		var ids []string
		require.NoError(t, json.Unmarshal(evt.Data, &ids))
		if ok(ids) {
			return
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
