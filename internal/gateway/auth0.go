package gateway

import (
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"github.com/irensaltali/serverlessapigateway/internal/middleware/auth"
	"github.com/irensaltali/serverlessapigateway/internal/proxy/auth0"
)

// Headers read by the built-in auth endpoints.
const (
	RefreshTokenHeader = "X-Refresh-Token"
	AccessTokenHeader  = "X-Access-Token"
)

var (
	errMissingCode = errors.Auth(http.StatusBadRequest, "missing_code",
		"Authorization code is required")
	errMissingAccessToken = errors.Auth(http.StatusUnauthorized, "missing_access_token",
		"Access token is required")
	errMissingRefreshToken = errors.Auth(http.StatusBadRequest, "missing_refresh_token",
		"Refresh token is required")
)

// tokenStillValid is the refresh answer when the presented access token
// has not expired.
var tokenStillValid = map[string]string{
	"message": "Token is still valid",
	"code":    "token_still_valid",
}

func (g *Gateway) auth0Client(x *exchange) (*auth0.Client, error) {
	return auth0.New(x.cfg.Authorizer, g.auth0Options...)
}

func (g *Gateway) auth0Callback(x *exchange) error {
	code := x.r.URL.Query().Get("code")
	if code == "" {
		return errMissingCode
	}
	client, err := g.auth0Client(x)
	if err != nil {
		return err
	}
	tokens, err := client.Exchange(x.r.Context(), code)
	if err != nil {
		return err
	}
	x.writeResponse(jsonResponse(http.StatusOK, tokens))
	return nil
}

func (g *Gateway) auth0Userinfo(x *exchange) error {
	token := accessToken(x.r)
	if token == "" {
		return errMissingAccessToken
	}
	client, err := g.auth0Client(x)
	if err != nil {
		return err
	}
	profile, err := client.Userinfo(x.r.Context(), token)
	if err != nil {
		return err
	}
	x.writeResponse(rawJSONResponse(http.StatusOK, profile))
	return nil
}

func (g *Gateway) auth0Redirect(x *exchange) error {
	client, err := g.auth0Client(x)
	if err != nil {
		return err
	}
	x.stamp()
	x.written = true
	x.w.Header().Set("Location", client.LoginURL(x.r.URL.Query().Get("state")))
	x.w.WriteHeader(http.StatusFound)
	return nil
}

// auth0Refresh answers token_still_valid while the bearer token verifies,
// and runs the refresh grant once it has expired. Any other verification
// failure, a missing bearer included, is returned as is.
func (g *Gateway) auth0Refresh(x *exchange) error {
	rt := refreshToken(x.r)
	if rt == "" {
		return errMissingRefreshToken
	}
	client, err := g.auth0Client(x)
	if err != nil {
		return err
	}

	_, err = g.verifier.Authenticate(x.r.Context(), x.r, x.cfg.Authorizer)
	if err == nil {
		x.writeResponse(jsonResponse(http.StatusOK, tokenStillValid))
		return nil
	}
	if ce := errors.Resolve(err); ce.Code != auth.CodeExpired {
		return err
	}
	logging.Debug("access token expired, refreshing")

	tokens, err := client.Refresh(x.r.Context(), rt)
	if err != nil {
		return err
	}
	x.writeResponse(jsonResponse(http.StatusOK, tokens))
	return nil
}

// accessToken returns the token for userinfo: the access_token query
// parameter, then the bearer token, then X-Access-Token.
func accessToken(r *http.Request) string {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	if t, err := auth.BearerToken(r); err == nil {
		return t
	}
	return r.Header.Get(AccessTokenHeader)
}

// refreshToken reads X-Refresh-Token, then the refresh_token field of a
// POST body. A malformed body counts as no token.
func refreshToken(r *http.Request) string {
	if t := r.Header.Get(RefreshTokenHeader); t != "" {
		return t
	}
	if r.Method != http.MethodPost {
		return ""
	}
	body := readBody(r)
	if !gjson.ValidBytes(body) {
		if len(body) > 0 {
			logging.Debug("refresh body is not JSON", zap.Int("bytes", len(body)))
		}
		return ""
	}
	if t := gjson.GetBytes(body, "refresh_token"); t.Type == gjson.String {
		return t.Str
	}
	return ""
}
