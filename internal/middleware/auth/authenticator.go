package auth

import (
	"context"
	"net/http"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"go.uber.org/zap"
)

// Authenticator verifies a bearer token and returns its claims. Failures
// are *errors.ClassifiedError values.
type Authenticator interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Verifier dispatches token verification on the configured authorizer type.
type Verifier struct {
	jwks *JWKSProvider
}

// NewVerifier creates a Verifier sharing jwks across auth0 authorizers.
func NewVerifier(jwks *JWKSProvider) *Verifier {
	return &Verifier{jwks: jwks}
}

// For builds the authenticator described by cfg.
func (v *Verifier) For(cfg *config.AuthorizerConfig) (Authenticator, error) {
	switch cfg.Type {
	case config.AuthorizerJWT:
		return NewJWTAuth(cfg)
	case config.AuthorizerAuth0:
		return NewAuth0Auth(cfg, v.jwks)
	case config.AuthorizerSupabase:
		return NewSupabaseAuth(cfg)
	default:
		return nil, errors.Config(CodeConfigError, "Unsupported authorizer type: "+string(cfg.Type))
	}
}

// VerifyToken verifies an already extracted token against cfg.
func (v *Verifier) VerifyToken(ctx context.Context, token string, cfg *config.AuthorizerConfig) (Claims, error) {
	a, err := v.For(cfg)
	if err != nil {
		return nil, err
	}
	return a.Verify(ctx, token)
}

// Authenticate verifies the request's bearer token against cfg. A missing
// token is rejected before the authorizer configuration is consulted.
func (v *Verifier) Authenticate(ctx context.Context, r *http.Request, cfg *config.AuthorizerConfig) (Claims, error) {
	token, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := v.VerifyToken(ctx, token, cfg)
	if err != nil {
		ce := errors.Resolve(err)
		logging.Debug("token rejected",
			zap.String("authorizer", string(cfg.Type)),
			zap.String("code", ce.Code),
			zap.String("detail", ce.Detail),
		)
		return nil, ce
	}
	return claims, nil
}
