package interfaces

import (
	"net/http"
	"strings"

	"gigstream/pkg/types"
)

// Authenticator resolves the user behind an inbound request
// ARCHITECTURAL DISCOVERY: Session handling belongs to the external auth provider;
// stream handlers only need the resulting opaque user identifier
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AuthenticatorFunc adapts a plain function to Authenticator
type AuthenticatorFunc func(r *http.Request) (string, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) {
	return f(r)
}

// QueryAuthenticator trusts the user_id query parameter or the X-User-ID header.
// Enabled by auth.trust_user_header.
// Intended for local development and for deployments where an upstream proxy
// has already authenticated the caller and injects the header.
type QueryAuthenticator struct{}

func (QueryAuthenticator) Authenticate(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if !types.IsValidUserID(userID) {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// RejectAuthenticator refuses every request. It stands in when no identity
// source is configured so the stream routes fail closed.
type RejectAuthenticator struct{}

func (RejectAuthenticator) Authenticate(r *http.Request) (string, error) {
	return "", ErrUnauthenticated
}
