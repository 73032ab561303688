package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

var hmacAlgorithms = []string{"HS256", "HS384", "HS512"}

// JWTAuth verifies HMAC-signed tokens against a shared secret.
type JWTAuth struct {
	secret  []byte
	allowed map[string]bool
	opts    []jwt.ParserOption
}

// NewJWTAuth creates a JWT authenticator from cfg.
func NewJWTAuth(cfg *config.AuthorizerConfig) (*JWTAuth, error) {
	if cfg.Secret == "" {
		return nil, errors.Config(CodeConfigError, "JWT secret is not configured")
	}

	a := &JWTAuth{
		secret:  []byte(cfg.Secret),
		allowed: make(map[string]bool),
	}
	if cfg.Algorithm != "" {
		a.allowed[cfg.Algorithm] = true
	} else {
		for _, alg := range hmacAlgorithms {
			a.allowed[alg] = true
		}
	}
	if cfg.Issuer != "" {
		a.opts = append(a.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		a.opts = append(a.opts, jwt.WithAudience(cfg.Audience))
	}
	return a, nil
}

func (a *JWTAuth) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || !a.allowed[token.Method.Alg()] {
		return nil, fmt.Errorf("%w: %v", errAlgNotAllowed, token.Header["alg"])
	}
	return a.secret, nil
}

// Verify validates token and returns its claims.
func (a *JWTAuth) Verify(_ context.Context, token string) (Claims, error) {
	if err := checkCompact(token); err != nil {
		return nil, classifyJOSE(err)
	}
	claims, err := parse(token, a.keyFunc, a.opts...)
	if err != nil {
		return nil, classifyJOSE(err)
	}
	return Claims(claims), nil
}
