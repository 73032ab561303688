package config

import (
	"encoding/json"
	"strings"
)

// APIConfig is the declarative gateway document: the route table plus the
// servers, services and authorizer the routes refer to.
type APIConfig struct {
	Paths           []Route           `json:"paths"`
	CORS            *CORSConfig       `json:"cors,omitempty"`
	Authorizer      *AuthorizerConfig `json:"authorizer,omitempty"`
	Servers         []Server          `json:"servers,omitempty"`
	Services        []Service         `json:"services,omitempty"`
	ServiceBindings []ServiceBinding  `json:"serviceBindings,omitempty"`
	Variables       map[string]any    `json:"variables,omitempty"`
}

// Route is a single route-table entry.
type Route struct {
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Auth        bool            `json:"auth,omitempty"`
	Integration *Integration    `json:"integration,omitempty"`
	Mapping     *Mapping        `json:"mapping,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Variables   map[string]any  `json:"variables,omitempty"`
	PreProcess  *Hook           `json:"pre_process,omitempty"`
}

// MethodAny matches every request method.
const MethodAny = "ANY"

// IntegrationType names an integration backend.
type IntegrationType string

const (
	IntegrationHTTP                        IntegrationType = "http"
	IntegrationHTTPProxy                   IntegrationType = "http_proxy"
	IntegrationService                     IntegrationType = "service"
	IntegrationServiceBinding              IntegrationType = "service_binding"
	IntegrationAuth0Callback               IntegrationType = "auth0_callback"
	IntegrationAuth0Userinfo               IntegrationType = "auth0_userinfo"
	IntegrationAuth0CallbackRedirect       IntegrationType = "auth0_callback_redirect"
	IntegrationAuth0Refresh                IntegrationType = "auth0_refresh"
	IntegrationSupabasePasswordlessAuth    IntegrationType = "supabase_passwordless_auth"
	IntegrationSupabasePasswordlessVerify  IntegrationType = "supabase_passwordless_verify"
	IntegrationSupabasePasswordlessAuthAlt IntegrationType = "supabase_passwordless_auth_alt"
)

// IntegrationTypes lists every known integration type.
var IntegrationTypes = []IntegrationType{
	IntegrationHTTP,
	IntegrationHTTPProxy,
	IntegrationService,
	IntegrationServiceBinding,
	IntegrationAuth0Callback,
	IntegrationAuth0Userinfo,
	IntegrationAuth0CallbackRedirect,
	IntegrationAuth0Refresh,
	IntegrationSupabasePasswordlessAuth,
	IntegrationSupabasePasswordlessVerify,
	IntegrationSupabasePasswordlessAuthAlt,
}

// Integration selects the backend a route dispatches to.
type Integration struct {
	Type IntegrationType `json:"type"`
	// Server is the servers alias for http/http_proxy.
	Server string `json:"server,omitempty"`
	// Binding is the services or serviceBindings alias.
	Binding  string `json:"binding,omitempty"`
	Function string `json:"function,omitempty"`
}

// Mapping holds header and query templates applied before proxying.
type Mapping struct {
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
}

// Hook names a bound function run before the integration.
type Hook struct {
	Binding  string `json:"binding"`
	Function string `json:"function"`
}

// CORSConfig is the gateway-wide CORS policy.
type CORSConfig struct {
	AllowOrigins     []string `json:"allow_origins,omitempty"`
	AllowMethods     []string `json:"allow_methods,omitempty"`
	AllowHeaders     []string `json:"allow_headers,omitempty"`
	ExposeHeaders    []string `json:"expose_headers,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// AuthorizerType names an authenticator backend.
type AuthorizerType string

const (
	AuthorizerJWT      AuthorizerType = "jwt"
	AuthorizerAuth0    AuthorizerType = "auth0"
	AuthorizerSupabase AuthorizerType = "supabase"
)

// AuthorizerConfig carries the fields of every authorizer variant; which
// ones are read depends on Type.
type AuthorizerConfig struct {
	Type AuthorizerType `json:"type"`

	// jwt
	Secret    string `json:"secret,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`

	// shared by all variants
	Issuer   string `json:"issuer,omitempty"`
	Audience string `json:"audience,omitempty"`

	// auth0
	Domain       string          `json:"domain,omitempty"`
	ClientID     string          `json:"client_id,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	RedirectURI  string          `json:"redirect_uri,omitempty"`
	Scope        string          `json:"scope,omitempty"`
	JWKS         json.RawMessage `json:"jwks,omitempty"`
	JWKSURI      string          `json:"jwks_uri,omitempty"`

	// supabase
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// JWKSDocument returns the inline key set. The field may hold either a
// JSON object or a string containing one.
func (a *AuthorizerConfig) JWKSDocument() []byte {
	raw := []byte(strings.TrimSpace(string(a.JWKS)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return raw
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []byte(s)
	}
	return raw
}

// Server is a named upstream base URL.
type Server struct {
	Alias string `json:"alias"`
	URL   string `json:"url"`
}

// Service is a named in-process module.
type Service struct {
	Alias      string `json:"alias"`
	Entrypoint string `json:"entrypoint"`
}

// ServiceBinding maps an alias to an externally bound callable set.
type ServiceBinding struct {
	Alias   string `json:"alias"`
	Binding string `json:"binding"`
}

// FindServer returns the server with the given alias.
func (c *APIConfig) FindServer(alias string) (*Server, bool) {
	for i := range c.Servers {
		if c.Servers[i].Alias == alias {
			return &c.Servers[i], true
		}
	}
	return nil, false
}

// FindService returns the service with the given alias.
func (c *APIConfig) FindService(alias string) (*Service, bool) {
	for i := range c.Services {
		if c.Services[i].Alias == alias {
			return &c.Services[i], true
		}
	}
	return nil, false
}

// FindServiceBinding returns the service binding with the given alias.
func (c *APIConfig) FindServiceBinding(alias string) (*ServiceBinding, bool) {
	for i := range c.ServiceBindings {
		if c.ServiceBindings[i].Alias == alias {
			return &c.ServiceBindings[i], true
		}
	}
	return nil, false
}
