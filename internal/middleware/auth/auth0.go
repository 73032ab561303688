package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Auth0Auth verifies tokens issued by an Auth0 tenant. Keys come from the
// inline jwks document when present, otherwise from jwks_uri.
type Auth0Auth struct {
	jwks    *JWKSProvider
	inline  []byte
	jwksURI string
	opts    []jwt.ParserOption
}

// NewAuth0Auth creates an Auth0 authenticator. It fails when neither a key
// set nor a key set URL is configured.
func NewAuth0Auth(cfg *config.AuthorizerConfig, jwks *JWKSProvider) (*Auth0Auth, error) {
	a := &Auth0Auth{
		jwks:    jwks,
		inline:  cfg.JWKSDocument(),
		jwksURI: cfg.JWKSURI,
	}
	if len(a.inline) == 0 && a.jwksURI == "" {
		return nil, errors.Config(CodeConfigError, "Auth0 authorizer requires jwks or jwks_uri")
	}

	// The tenant domain fixes the issuer; issuer is only consulted for
	// custom-domain setups that leave domain empty.
	issuer := cfg.Issuer
	if cfg.Domain != "" {
		issuer = "https://" + cfg.Domain + "/"
	}
	if issuer != "" {
		a.opts = append(a.opts, jwt.WithIssuer(issuer))
	}
	if cfg.Audience != "" {
		a.opts = append(a.opts, jwt.WithAudience(cfg.Audience))
	}
	return a, nil
}

func (a *Auth0Auth) keySet(ctx context.Context) (jwk.Set, error) {
	if len(a.inline) > 0 {
		return a.jwks.Local(a.inline)
	}
	return a.jwks.Remote(ctx, a.jwksURI)
}

// Verify validates token and returns its claims.
func (a *Auth0Auth) Verify(ctx context.Context, token string) (Claims, error) {
	if err := checkCompact(token); err != nil {
		return nil, classifyJOSE(err)
	}

	// The key set is resolved before parsing so that a malformed inline
	// document surfaces as a configuration error.
	set, err := a.keySet(ctx)
	if err != nil {
		return nil, classifyJOSE(err)
	}

	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := keyTypeFor(t.Method.Alg()); !ok {
			return nil, fmt.Errorf("%w: %v", errAlgNotAllowed, t.Header["alg"])
		}
		return selectKey(set, t)
	}

	claims, err := parse(token, keyFunc, a.opts...)
	if err != nil {
		return nil, classifyJOSE(err)
	}
	return Claims(claims), nil
}
