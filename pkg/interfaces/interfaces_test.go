package interfaces_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"gigstream/pkg/interfaces"
)

type mockDispatcher struct {
	calls int
}

func (m *mockDispatcher) Dispatch(ownerID, event string, payload any) (int, error) {
	m.calls++
	return 1, nil
}

func TestDispatcher_InterfaceContract(t *testing.T) {
	m := &mockDispatcher{}
	var d interfaces.Dispatcher = m

	n, err := d.Dispatch("u1", "job.updated", nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, m.calls)
}

func TestQueryAuthenticator(t *testing.T) {
	auth := interfaces.QueryAuthenticator{}

	req := httptest.NewRequest(http.MethodGet, "/api/stream?user_id=u1", nil)
	userID, err := auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "u1", userID)

	// Header wins over the query string.
	req = httptest.NewRequest(http.MethodGet, "/api/stream?user_id=u1", nil)
	req.Header.Set("X-User-ID", "u2")
	userID, err = auth.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "u2", userID)

	req = httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	_, err = auth.Authenticate(req)
	require.ErrorIs(t, err, interfaces.ErrUnauthenticated)

	req = httptest.NewRequest(http.MethodGet, "/api/stream?user_id=bad%20id", nil)
	_, err = auth.Authenticate(req)
	require.ErrorIs(t, err, interfaces.ErrUnauthenticated)
}

func TestAuthenticatorFunc(t *testing.T) {
	var auth interfaces.Authenticator = interfaces.AuthenticatorFunc(func(r *http.Request) (string, error) {
		return "fixed", nil
	})
	userID, err := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, "fixed", userID)
}

func TestRejectAuthenticator(t *testing.T) {
	var auth interfaces.Authenticator = interfaces.RejectAuthenticator{}

	req := httptest.NewRequest(http.MethodGet, "/api/stream?user_id=u1", nil)
	req.Header.Set("X-User-ID", "u1")
	_, err := auth.Authenticate(req)
	require.ErrorIs(t, err, interfaces.ErrUnauthenticated)
}
