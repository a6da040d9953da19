package auth

import (
	"fmt"
	"net/http"
)

// MockClient gates upgrades on a shared token cookie. An empty token
// admits everyone.
type MockClient struct {
	Token string
}

func (c *MockClient) Verify(r *http.Request) error {
	if c.Token == "" {
		return nil
	}

	ck, err := r.Cookie("x-chat-token")
	if err != nil || ck.Value != c.Token {
		return fmt.Errorf("missing or invalid x-chat-token cookie")
	}
	return nil
}
