package proxy

import (
	"net/http/httptest"
	"testing"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/variables"
)

func TestApplyMappingHeadersFromClaims(t *testing.T) {
	in := httptest.NewRequest("GET", "https://backend.example.com/orders?page=1", nil)
	in.Header.Set("X-Keep", "yes")

	m := &config.Mapping{Headers: map[string]string{
		"x-user-id": "$request.jwt.sub",
		"x-missing": "$request.jwt.missing",
		"X-Keep":    "$request.jwt.nope",
	}}
	scope := variables.Scope{Request: in, Claims: map[string]any{"sub": "user-123"}}

	out := ApplyMapping(in, m, scope)

	if got := out.Header.Get("x-user-id"); got != "user-123" {
		t.Errorf("x-user-id = %q, want user-123", got)
	}
	if _, ok := out.Header["X-Missing"]; ok {
		t.Error("unresolved template should leave header unset")
	}
	if got := out.Header.Get("X-Keep"); got != "yes" {
		t.Errorf("unresolved template should leave existing header, got %q", got)
	}
	if in.Header.Get("x-user-id") != "" {
		t.Error("inbound request was mutated")
	}
}

func TestApplyMappingQuery(t *testing.T) {
	in := httptest.NewRequest("GET", "https://backend.example.com/orders?page=1", nil)
	in.Header.Set("X-Tenant", "acme")

	m := &config.Mapping{Query: map[string]string{
		"tenant": "$request.header.X-Tenant",
		"key":    "$config.api_key",
		"page":   "$request.query.nope",
	}}
	scope := variables.Scope{
		Request:         in,
		RouteVariables:  map[string]any{"api_key": "route-key"},
		GlobalVariables: map[string]any{"api_key": "global-key"},
	}

	out := ApplyMapping(in, m, scope)
	q := out.URL.Query()
	if q.Get("tenant") != "acme" {
		t.Errorf("tenant = %q", q.Get("tenant"))
	}
	if q.Get("key") != "route-key" {
		t.Errorf("key = %q, want route-key", q.Get("key"))
	}
	if q.Get("page") != "1" {
		t.Errorf("page = %q, want original value", q.Get("page"))
	}
	if in.URL.RawQuery != "page=1" {
		t.Errorf("inbound query mutated: %q", in.URL.RawQuery)
	}
}

func TestApplyMappingNil(t *testing.T) {
	in := httptest.NewRequest("GET", "/x", nil)
	if out := ApplyMapping(in, nil, variables.Scope{}); out != in {
		t.Error("nil mapping should return the request as-is")
	}
}
