// Package auth0 implements the Auth0 operations the gateway exposes as
// integrations: authorization-code exchange, refresh, userinfo and the
// hosted login redirect.
package auth0

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Error codes for Auth0 failures.
const (
	CodeUpstream = "AUTH0_UPSTREAM_ERROR"
	CodeNetwork  = "AUTH0_NETWORK_ERROR"
	CodeInternal = "AUTH0_ERROR"
)

const maxUserinfoBody = 1 << 20

// Tokens is the token response relayed to clients.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Client talks to one Auth0 tenant.
type Client struct {
	oauth      *oauth2.Config
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the tenant URL derived from the domain.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the client used for all calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the tenant described by cfg.
func New(cfg *config.AuthorizerConfig, opts ...Option) (*Client, error) {
	if cfg == nil || cfg.Type != config.AuthorizerAuth0 {
		return nil, errors.Config("AUTH_CONFIG_ERROR", "Auth0 authorizer is not configured")
	}
	if cfg.Domain == "" {
		return nil, errors.Config("AUTH_CONFIG_ERROR", "Auth0 domain is not configured")
	}

	c := &Client{
		baseURL:    "https://" + cfg.Domain,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       strings.Fields(cfg.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.baseURL + "/authorize",
			TokenURL:  c.baseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c, nil
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*Tokens, error) {
	tok, err := c.oauth.Exchange(c.context(ctx), code)
	if err != nil {
		return nil, Classify(err, "Failed to exchange authorization code")
	}
	return tokensFrom(tok), nil
}

// Refresh runs the refresh-token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	src := c.oauth.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, Classify(err, "Failed to refresh token")
	}
	t := tokensFrom(tok)
	// oauth2 carries the presented refresh token over when the tenant does
	// not rotate it; only relay one the tenant actually issued.
	t.RefreshToken, _ = tok.Extra("refresh_token").(string)
	return t, nil
}

// Userinfo fetches the profile of the access token's subject.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/userinfo", nil)
	if err != nil {
		return nil, Classify(err, "Failed to fetch user info")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Classify(err, "Failed to fetch user info")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoBody))
	if err != nil {
		return nil, Classify(err, "Failed to fetch user info")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Upstream(resp.StatusCode, CodeUpstream, "Failed to fetch user info").
			WithDetails(DecodeBody(body))
	}
	if !json.Valid(body) {
		return nil, errors.Internal(CodeInternal, "Auth0 returned an invalid user info document")
	}
	return json.RawMessage(body), nil
}

// LoginURL returns the hosted login page URL carrying state.
func (c *Client) LoginURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func tokensFrom(tok *oauth2.Token) *Tokens {
	t := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		t.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}

// Classify maps an Auth0 call failure onto the error taxonomy. Errors that
// are already classified pass through unchanged.
func Classify(err error, message string) error {
	if _, ok := errors.As(err); ok {
		return err
	}

	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) {
		status := http.StatusBadGateway
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return errors.Wrap(err, errors.KindUpstream, status, CodeUpstream, message).
			WithDetails(DecodeBody(re.Body))
	}

	var ue *url.Error
	if stderrors.As(err, &ue) {
		return errors.Wrap(err, errors.KindNetwork, http.StatusBadGateway, CodeNetwork,
			fmt.Sprintf("%s: Auth0 is unreachable", message))
	}

	return errors.Wrap(err, errors.KindInternal, http.StatusInternalServerError, CodeInternal, message)
}

// DecodeBody decodes an error body as JSON, falling back to trimmed text,
// then nil.
func DecodeBody(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	if text := string(bytes.TrimSpace(body)); text != "" {
		return text
	}
	return nil
}
