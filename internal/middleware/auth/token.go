package auth

import (
	"net/http"
	"strings"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Claims is the verified payload of a bearer token.
type Claims map[string]any

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", errors.ErrMissingToken
	}
	token, _, _ := strings.Cut(strings.TrimLeft(h[len("Bearer "):], " "), " ")
	if token == "" {
		return "", errors.ErrMissingToken
	}
	return token, nil
}
