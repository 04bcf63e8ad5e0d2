package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devmatch-client/internal/mocks"
	"devmatch-client/internal/models"
	"devmatch-client/internal/push"
)

func fakeDialer(conn Conn, err error, calls *int) Dialer {
	return func(ctx context.Context, wsURL, userID string) (Conn, error) {
		if calls != nil {
			*calls++
		}
		return conn, err
	}
}

func TestConnectRequiresAuthenticatedUser(t *testing.T) {
	calls := 0
	store := NewStore("ws://x/ws", fakeDialer(mocks.NewFakeConn(), nil, &calls))

	_, err := store.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, calls, "no dial without a user")

	store.Login(models.User{Name: "no id"})
	_, err = store.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, calls)
}

func TestConnectIsNoOpWhileLive(t *testing.T) {
	calls := 0
	conn := mocks.NewFakeConn()
	store := NewStore("ws://x/ws", fakeDialer(conn, nil, &calls))
	store.Login(models.User{ID: "usr-1"})

	first, err := store.Connect(context.Background())
	require.NoError(t, err)
	second, err := store.Connect(context.Background())
	require.NoError(t, err)

	assert.Same(t, first.(*mocks.FakeConn), second.(*mocks.FakeConn))
	assert.Equal(t, 1, calls, "a live connection must not be redialed")
}

func TestConnectRedialsAfterClose(t *testing.T) {
	calls := 0
	store := NewStore("ws://x/ws", func(ctx context.Context, wsURL, userID string) (Conn, error) {
		calls++
		return mocks.NewFakeConn(), nil
	})
	store.Login(models.User{ID: "usr-1"})

	conn, err := store.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Nil(t, store.Conn(), "a closed connection is not exposed")

	_, err = store.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestConnectDialFailureDegradesRealtime(t *testing.T) {
	store := NewStore("ws://x/ws", fakeDialer(nil, push.ErrRealtimeUnavailable, nil))
	store.Login(models.User{ID: "usr-1"})
	require.True(t, store.RealtimeAvailable())

	_, err := store.Connect(context.Background())
	assert.ErrorIs(t, err, push.ErrRealtimeUnavailable)
	assert.False(t, store.RealtimeAvailable())
	assert.Nil(t, store.Conn())

	// A later login resets the degraded flag.
	store.Login(models.User{ID: "usr-1"})
	assert.True(t, store.RealtimeAvailable())
}

func TestLogoutClosesConnectionSynchronously(t *testing.T) {
	conn := mocks.NewFakeConn()
	store := NewStore("ws://x/ws", fakeDialer(conn, nil, nil))
	store.Login(models.User{ID: "usr-1", Name: "ann"})

	_, err := store.Connect(context.Background())
	require.NoError(t, err)

	store.Logout()
	assert.True(t, conn.Closed(), "logout must not return before the socket is closed")
	assert.Nil(t, store.CurrentUser())
	assert.Nil(t, store.Conn())
}

func TestLogoutDuringDialClosesFreshConnection(t *testing.T) {
	conn := mocks.NewFakeConn()
	var store *Store
	store = NewStore("ws://x/ws", func(ctx context.Context, wsURL, userID string) (Conn, error) {
		// The user logs out while the dial is in flight.
		store.Logout()
		return conn, nil
	})
	store.Login(models.User{ID: "usr-1"})

	_, err := store.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.True(t, conn.Closed(), "a connection won in a lost race must be closed")
	assert.Nil(t, store.Conn())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	conn := mocks.NewFakeConn()
	store := NewStore("ws://x/ws", fakeDialer(conn, nil, nil))
	store.Login(models.User{ID: "usr-1"})

	_, err := store.Connect(context.Background())
	require.NoError(t, err)

	store.Disconnect()
	store.Disconnect()
	assert.True(t, conn.Closed())
	assert.NotNil(t, store.CurrentUser(), "disconnect does not log the user out")
}

func TestCurrentUserReturnsCopy(t *testing.T) {
	store := NewStore("ws://x/ws", nil)
	store.Login(models.User{ID: "usr-1", Name: "ann"})

	u := store.CurrentUser()
	require.NotNil(t, u)
	u.Name = "mutated"

	assert.Equal(t, "ann", store.CurrentUser().Name)
}
