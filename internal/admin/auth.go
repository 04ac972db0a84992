package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorizer decides whether a request may reach the API.
type Authorizer func(r *http.Request) bool

// BearerTokenAuthorizer accepts requests carrying "Authorization: Bearer
// <token>". An empty token allows everything.
func BearerTokenAuthorizer(token string) Authorizer {
	want := []byte(token)
	return func(r *http.Request) bool {
		if len(want) == 0 {
			return true
		}
		h := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(h, prefix) {
			return false
		}
		got := strings.TrimSpace(strings.TrimPrefix(h, prefix))
		if got == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(got), want) == 1
	}
}
