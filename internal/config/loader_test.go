package config

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestLoader(t *testing.T, opts ...LoaderOption) *Loader {
	t.Helper()
	l, err := NewLoader(opts...)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestParseJSON(t *testing.T) {
	l := newTestLoader(t)
	cfg, err := l.Parse([]byte(`{
		"servers": [{"alias": "backend", "url": "https://backend.example.com/base"}],
		"variables": {"region": "eu"},
		"paths": [
			{"method": "GET", "path": "/health", "response": {"status": "ok"}},
			{"method": "ANY", "path": "/proxy/{.+}", "auth": true,
			 "integration": {"type": "http_proxy", "server": "backend"},
			 "mapping": {"headers": {"x-user-id": "$request.jwt.sub"}}}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Paths) != 2 {
		t.Fatalf("paths = %d, want 2", len(cfg.Paths))
	}
	if string(cfg.Paths[0].Response) != `{"status":"ok"}` {
		t.Errorf("response = %s", cfg.Paths[0].Response)
	}
	r := cfg.Paths[1]
	if !r.Auth || r.Integration.Type != IntegrationHTTPProxy || r.Integration.Server != "backend" {
		t.Errorf("route = %+v", r)
	}
	if r.Mapping.Headers["x-user-id"] != "$request.jwt.sub" {
		t.Errorf("mapping = %+v", r.Mapping)
	}
	if s, ok := cfg.FindServer("backend"); !ok || s.URL != "https://backend.example.com/base" {
		t.Errorf("FindServer = %v, %v", s, ok)
	}
	if cfg.Variables["region"] != "eu" {
		t.Errorf("variables = %v", cfg.Variables)
	}
}

func TestParseYAML(t *testing.T) {
	l := newTestLoader(t)
	cfg, err := l.Parse([]byte(`
cors:
  allow_origins: ["https://app.example.com"]
  allow_credentials: true
  max_age: 600
paths:
  - method: GET
    path: /health
    response:
      status: ok
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.CORS == nil || cfg.CORS.MaxAge != 600 || !cfg.CORS.AllowCredentials {
		t.Errorf("cors = %+v", cfg.CORS)
	}
	if cfg.Paths[0].Path != "/health" {
		t.Errorf("paths = %+v", cfg.Paths)
	}
}

func TestParseNormalizes(t *testing.T) {
	l := newTestLoader(t)
	cfg, err := l.Parse([]byte(`{
		"serviceBindings": [{"alias": "auth", "binding": "AUTH_V2"}],
		"servicesBindings": [
			{"alias": "auth", "binding": "AUTH_V1"},
			{"alias": "guard", "binding": "GUARD"}
		],
		"servers": [{"alias": "api", "url": "https://api.example.com"}],
		"paths": [{"method": "GET", "path": "/x", "integration": {"type": "http", "server": "api"}}]
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Paths[0].Integration.Type; got != IntegrationHTTPProxy {
		t.Errorf("integration type = %q, want http_proxy", got)
	}
	if len(cfg.ServiceBindings) != 2 {
		t.Fatalf("serviceBindings = %+v", cfg.ServiceBindings)
	}
	if b, _ := cfg.FindServiceBinding("auth"); b.Binding != "AUTH_V2" {
		t.Errorf("primary binding lost: %+v", b)
	}
	if _, ok := cfg.FindServiceBinding("guard"); !ok {
		t.Error("legacy binding not merged")
	}
}

func TestParseSubstitutesEnv(t *testing.T) {
	l := newTestLoader(t, WithLookup(env(map[string]string{
		"JWT_SECRET": "s3cret",
		"ISSUER":     "https://issuer.example.com",
	})))
	cfg, err := l.Parse([]byte(`{
		"authorizer": {
			"type": "jwt",
			"secret": "$secrets.JWT_SECRET",
			"issuer": "$env.ISSUER",
			"audience": "$secret.MISSING"
		},
		"variables": {"note": "prefix $env.ISSUER"},
		"paths": []
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := cfg.Authorizer
	if a.Secret != "s3cret" {
		t.Errorf("secret = %q", a.Secret)
	}
	if a.Issuer != "https://issuer.example.com" {
		t.Errorf("issuer = %q", a.Issuer)
	}
	if a.Audience != "" {
		t.Errorf("missing secret should become empty, got %q", a.Audience)
	}
	if cfg.Variables["note"] != "prefix $env.ISSUER" {
		t.Errorf("embedded reference should not be substituted: %v", cfg.Variables["note"])
	}
}

func TestParseStrictMode(t *testing.T) {
	doc := []byte(`{"paths": [{"method": "FETCH", "path": "/x"}]}`)

	if _, err := newTestLoader(t, WithStrict(true)).Parse(doc); err == nil {
		t.Error("strict mode should reject an invalid method")
	}

	cfg, err := newTestLoader(t, WithStrict(false)).Parse(doc)
	if err != nil {
		t.Fatalf("compatibility mode should accept: %v", err)
	}
	if cfg.Paths[0].Method != "FETCH" {
		t.Errorf("method = %q", cfg.Paths[0].Method)
	}
}

func TestParseErrors(t *testing.T) {
	l := newTestLoader(t)
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "   "},
		{"not an object", `["a"]`},
		{"malformed", `{"paths": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseCached(t *testing.T) {
	l := newTestLoader(t)
	doc := []byte(`{"paths": [{"method": "GET", "path": "/a"}]}`)
	a, err := l.ParseCached(doc)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := l.ParseCached(doc)
	if a != b {
		t.Error("identical documents should share one parse")
	}
}

func TestJWKSDocument(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"object", `{"keys":[]}`, `{"keys":[]}`},
		{"string", `"{\"keys\":[]}"`, `{"keys":[]}`},
		{"empty string", `""`, ``},
		{"unset", ``, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &AuthorizerConfig{JWKS: []byte(tt.raw)}
			if got := string(a.JWKSDocument()); got != tt.want {
				t.Errorf("JWKSDocument() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-config.json")
	if err := os.WriteFile(path, []byte(`{"paths":[{"method":"GET","path":"/f"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := newTestLoader(t).Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths[0].Path != "/f" {
		t.Errorf("paths = %+v", cfg.Paths)
	}
	if _, err := newTestLoader(t).Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
