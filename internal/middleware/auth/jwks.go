package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

const localSetCacheSize = 64

// JWKSProvider resolves key sets for asymmetric token verification. Remote
// sets are fetched through a jwk.Cache that refreshes in the background;
// inline sets are parsed once per distinct document.
type JWKSProvider struct {
	mu      sync.Mutex
	cache   *jwk.Cache
	local   *lru.Cache[uint64, jwk.Set]
	refresh time.Duration
}

// NewJWKSProvider creates a provider whose background refresh stops when
// ctx is cancelled.
func NewJWKSProvider(ctx context.Context, refreshInterval time.Duration) *JWKSProvider {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}
	local, _ := lru.New[uint64, jwk.Set](localSetCacheSize)
	return &JWKSProvider{
		cache:   jwk.NewCache(ctx),
		local:   local,
		refresh: refreshInterval,
	}
}

// Local parses an inline JWKS document. A malformed document is a gateway
// misconfiguration.
func (p *JWKSProvider) Local(doc []byte) (jwk.Set, error) {
	key := xxhash.Sum64(doc)
	if set, ok := p.local.Get(key); ok {
		return set, nil
	}
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, http.StatusInternalServerError, CodeConfigError, "Invalid JWKS configuration")
	}
	p.local.Add(key, set)
	return set, nil
}

// Remote returns the key set published at url, registering it on first use.
func (p *JWKSProvider) Remote(ctx context.Context, url string) (jwk.Set, error) {
	p.mu.Lock()
	if !p.cache.IsRegistered(url) {
		if err := p.cache.Register(url, jwk.WithMinRefreshInterval(p.refresh)); err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: register %s: %v", errInvalidJWKS, url, err)
		}
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set, err := p.cache.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", errInvalidJWKS, url, err)
	}
	return set, nil
}

// keyTypeFor returns the JWK key type that can verify alg. Symmetric
// algorithms have no JWKS representation here.
func keyTypeFor(alg string) (jwa.KeyType, bool) {
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		return jwa.RSA, true
	case "ES256", "ES384", "ES512":
		return jwa.EC, true
	case "EdDSA":
		return jwa.OKP, true
	}
	return "", false
}

// selectKey picks the single key in set able to verify token.
func selectKey(set jwk.Set, token *jwt.Token) (any, error) {
	alg := token.Method.Alg()
	kty, ok := keyTypeFor(alg)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errAlgNotAllowed, alg)
	}
	kid, _ := token.Header["kid"].(string)

	var matches []jwk.Key
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if kid != "" && key.KeyID() != kid {
			continue
		}
		if key.KeyType() != kty {
			continue
		}
		if use := key.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		if ka := key.Algorithm().String(); ka != "" && ka != alg {
			continue
		}
		matches = append(matches, key)
	}

	switch len(matches) {
	case 0:
		return nil, errNoMatchingKey
	case 1:
	default:
		return nil, errMultipleMatchingKeys
	}

	var raw any
	if err := matches[0].Raw(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJWKS, err)
	}
	return raw, nil
}
