package auth

import "net/http"

// Client admits or rejects a websocket upgrade request. Identity binding
// happens later through the login event, never at the handshake.
type Client interface {
	// Verify returns an error when the request may not open a connection.
	Verify(r *http.Request) error
}
