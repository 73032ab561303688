package variables

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		template  string
		wantOK    bool
		wantScope string
		wantField string
	}{
		{"$request.header.X-Api-Key", true, ScopeHeader, "X-Api-Key"},
		{"$request.jwt.sub", true, ScopeJWT, "sub"},
		{"$config.api_key", true, ScopeConfig, "api_key"},
		{"$request.query.page", true, ScopeQuery, "page"},
		{"Bearer $request.jwt.sub and $config.x", true, ScopeJWT, "sub"},
		{"$env.HOME", false, "", ""},
		{"plain", false, "", ""},
		{"$request.cookie.session", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			ref, ok := Parse(tt.template)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ref.Scope != tt.wantScope || ref.Field != tt.wantField {
				t.Errorf("ref = %+v", ref)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders?page=2&empty=", nil)
	req.Header.Set("X-Tenant", "acme")

	s := Scope{
		Request: req,
		Claims: map[string]any{
			"sub":   "user-123",
			"admin": true,
			"age":   json.Number("42"),
			"roles": []any{"a", "b"},
			"nil":   nil,
		},
		RouteVariables:  map[string]any{"region": "eu-west-1"},
		GlobalVariables: map[string]any{"region": "us-east-1", "api_key": "global-key"},
	}

	tests := []struct {
		name     string
		template string
		want     string
		wantOK   bool
	}{
		{"header", "$request.header.X-Tenant", "acme", true},
		{"header lookup is case-insensitive", "$request.header.x-tenant", "acme", true},
		{"missing header", "$request.header.X-Missing", "", false},
		{"claim", "$request.jwt.sub", "user-123", true},
		{"bool claim", "$request.jwt.admin", "true", true},
		{"number claim", "$request.jwt.age", "42", true},
		{"array claim", "$request.jwt.roles", `["a","b"]`, true},
		{"null claim", "$request.jwt.nil", "", false},
		{"missing claim", "$request.jwt.missing", "", false},
		{"route variable shadows global", "$config.region", "eu-west-1", true},
		{"global variable", "$config.api_key", "global-key", true},
		{"missing variable", "$config.nope", "", false},
		{"query", "$request.query.page", "2", true},
		{"empty query value", "$request.query.empty", "", false},
		{"missing query", "$request.query.nope", "", false},
		{"no token", "static-value", "", false},
		{"whole value replaced", "Bearer $request.jwt.sub", "user-123", true},
		{"dash continues the field", "$request.jwt.sub-x", "", false},
		{"only first token used", "$request.jwt.missing/$request.jwt.sub", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.template, s)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.template, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveWithoutClaimsOrRequest(t *testing.T) {
	if _, ok := Resolve("$request.jwt.sub", Scope{}); ok {
		t.Error("claim lookup without claims should be absent")
	}
	if _, ok := Resolve("$request.header.X", Scope{}); ok {
		t.Error("header lookup without request should be absent")
	}
	if _, ok := Resolve("$request.query.x", Scope{}); ok {
		t.Error("query lookup without request should be absent")
	}
}

func TestResolveMalformedQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/x", nil)
	req.URL.RawQuery = "a=%zz"
	if _, ok := Resolve("$request.query.a", Scope{Request: req}); ok {
		t.Error("malformed query should resolve as absent")
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{float64(1), "1"},
		{1.5, "1.5"},
		{false, "false"},
		{7, "7"},
		{int64(9), "9"},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
	}
	for _, tt := range tests {
		got, ok := Stringify(tt.in)
		if !ok || got != tt.want {
			t.Errorf("Stringify(%v) = %q, %v; want %q", tt.in, got, ok, tt.want)
		}
	}
}
