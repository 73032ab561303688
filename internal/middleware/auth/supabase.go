package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Supabase verification codes.
const (
	CodeSupabaseMissingSecret = "MISSING_JWT_SECRET"
	CodeSupabaseExpired       = "JWT_EXPIRED"
	CodeSupabaseNotActive     = "JWT_NOT_ACTIVE"
	CodeSupabaseInvalid       = "JWT_INVALID"
)

// SupabaseAuth verifies HS256 tokens signed with the project's JWT secret.
type SupabaseAuth struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewSupabaseAuth creates a Supabase authenticator from cfg.
func NewSupabaseAuth(cfg *config.AuthorizerConfig) (*SupabaseAuth, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.Config(CodeSupabaseMissingSecret,
			"JWT secret not configured. Please set SUPABASE_JWT_SECRET in your environment.")
	}
	a := &SupabaseAuth{secret: []byte(cfg.JWTSecret)}
	if cfg.Issuer != "" {
		a.opts = append(a.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		a.opts = append(a.opts, jwt.WithAudience(cfg.Audience))
	}
	return a, nil
}

func (a *SupabaseAuth) keyFunc(token *jwt.Token) (any, error) {
	if token.Method != jwt.SigningMethodHS256 {
		return nil, fmt.Errorf("invalid algorithm %v", token.Header["alg"])
	}
	return a.secret, nil
}

// Verify validates token and returns its claims.
func (a *SupabaseAuth) Verify(_ context.Context, token string) (Claims, error) {
	claims, err := parse(token, a.keyFunc, a.opts...)
	if err == nil {
		return Claims(claims), nil
	}

	switch {
	case stderrors.Is(err, errUnexpected):
		return nil, errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, CodeAuthError,
			"JWT verification failed due to an unexpected error.")
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return nil, errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, CodeSupabaseExpired,
			"Token has expired at "+expiryOf(claims))
	case stderrors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, CodeSupabaseNotActive,
			"Token not active yet (nbf)")
	default:
		return nil, errors.Wrap(err, errors.KindAuth, http.StatusUnauthorized, CodeSupabaseInvalid,
			"JWT verification failed: "+err.Error())
	}
}

// expiryOf renders the exp claim as an RFC 3339 timestamp.
func expiryOf(claims jwt.MapClaims) string {
	n, ok := claims["exp"].(json.Number)
	if !ok {
		return "unknown"
	}
	secs, err := n.Float64()
	if err != nil {
		return "unknown"
	}
	return time.Unix(int64(secs), 0).UTC().Format("2006-01-02T15:04:05.000Z")
}
