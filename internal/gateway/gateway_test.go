package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/metrics"
	"github.com/irensaltali/serverlessapigateway/internal/registry"
)

func newTestGateway(t *testing.T, cfg *config.APIConfig, mutate ...func(*Options)) *Gateway {
	t.Helper()

	opts := Options{
		Source:   config.StaticSource{Config: cfg},
		Registry: registry.New(),
		Lookup:   func(string) (string, bool) { return "", false },
	}
	for _, m := range mutate {
		m(&opts)
	}
	gw, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return gw
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body %q is not a JSON object: %v", rec.Body.String(), err)
	}
	return body
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["code"] != code {
		t.Errorf("code = %v, want %s", body["code"], code)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Errorf("error message is empty in %v", body)
	}
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

var jwtAuthorizer = &config.AuthorizerConfig{
	Type:     config.AuthorizerJWT,
	Secret:   "s",
	Issuer:   "iss",
	Audience: "aud",
}

func validJWT(t *testing.T, sub string) string {
	return signHS256(t, "s", jwt.MapClaims{
		"sub": sub,
		"iss": "iss",
		"aud": "aud",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func TestStaticResponse(t *testing.T) {
	gw := newTestGateway(t, &config.APIConfig{
		Paths: []config.Route{
			{Method: "GET", Path: "/health", Response: json.RawMessage(`{"status":"ok"}`)},
		},
	})

	rec := serve(gw, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get(PoweredByHeader); got != PoweredBy {
		t.Errorf("%s = %q", PoweredByHeader, got)
	}
}

func TestStaticResponseFromLoadedDocument(t *testing.T) {
	loader, err := config.NewLoader(config.WithStrict(false))
	if err != nil {
		t.Fatal(err)
	}
	src := config.NewInlineSource(loader, `{"paths":[{"method":"GET","path":"/health","response":{"status":"ok"}}]}`)
	gw, err := New(Options{Source: src})
	if err != nil {
		t.Fatal(err)
	}

	rec := serve(gw, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeJSON(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestConfigMissing(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := serve(gw, httptest.NewRequest("GET", "/anything", nil))

	expectError(t, rec, http.StatusNotImplemented, "CONFIG_MISSING")
	if got := rec.Header().Get(PoweredByHeader); got != PoweredBy {
		t.Errorf("%s = %q, want %q", PoweredByHeader, got, PoweredBy)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected CORS header %q", got)
	}
}

func TestNoRoute(t *testing.T) {
	gw := newTestGateway(t, &config.APIConfig{
		CORS: &config.CORSConfig{AllowOrigins: []string{"https://app.example.com"}},
		Paths: []config.Route{
			{Method: "GET", Path: "/health"},
		},
	})

	req := httptest.NewRequest("GET", "/missing", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := serve(gw, req)

	expectError(t, rec, http.StatusNotFound, "NO_ROUTE")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get(PoweredByHeader); got != PoweredBy {
		t.Errorf("%s = %q", PoweredByHeader, got)
	}
}

func TestPreflight(t *testing.T) {
	cfg := &config.APIConfig{
		CORS: &config.CORSConfig{
			AllowOrigins: []string{"https://app.example.com"},
			AllowMethods: []string{"GET", "POST"},
		},
		Paths: []config.Route{
			{Method: "GET", Path: "/health", Response: json.RawMessage(`{"status":"ok"}`)},
			{Method: "OPTIONS", Path: "/explicit", Response: json.RawMessage(`{"status":"explicit-options"}`)},
		},
	}
	gw := newTestGateway(t, cfg)

	t.Run("answered by gateway", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := serve(gw, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET,POST" {
			t.Errorf("Access-Control-Allow-Methods = %q", got)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", rec.Body.String())
		}
	})

	t.Run("explicit options route", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/explicit", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := serve(gw, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body := decodeJSON(t, rec); body["status"] != "explicit-options" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("no cors config", func(t *testing.T) {
		gw := newTestGateway(t, &config.APIConfig{
			Paths: []config.Route{{Method: "GET", Path: "/health"}},
		})
		rec := serve(gw, httptest.NewRequest("OPTIONS", "/health", nil))
		expectError(t, rec, http.StatusNotFound, "NO_ROUTE")
	})
}

func TestAuthRequired(t *testing.T) {
	gw := newTestGateway(t, &config.APIConfig{
		Authorizer: jwtAuthorizer,
		Paths: []config.Route{
			{Method: "GET", Path: "/private", Auth: true, Response: json.RawMessage(`{"ok":true}`)},
		},
	})

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"no header", "", http.StatusUnauthorized, "AUTH_ERROR"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "AUTH_ERROR"},
		{"bad signature", "Bearer " + signHS256(t, "other", jwt.MapClaims{"iss": "iss", "aud": "aud"}), http.StatusUnauthorized, "ERR_JWS_SIGNATURE_VERIFICATION_FAILED"},
		{"expired", "Bearer " + signHS256(t, "s", jwt.MapClaims{"iss": "iss", "aud": "aud", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, "ERR_JWT_EXPIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			expectError(t, serve(gw, req), tt.status, tt.code)
		})
	}

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/private", nil)
		req.Header.Set("Authorization", "Bearer "+validJWT(t, "user-123"))
		rec := serve(gw, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
	})
}

func TestAuthSkippedWithoutAuthorizer(t *testing.T) {
	gw := newTestGateway(t, &config.APIConfig{
		Paths: []config.Route{
			{Method: "GET", Path: "/private", Auth: true, Response: json.RawMessage(`{"ok":true}`)},
		},
	})
	rec := serve(gw, httptest.NewRequest("GET", "/private", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthFailureMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	gw := newTestGateway(t, &config.APIConfig{
		Authorizer: jwtAuthorizer,
		Paths:      []config.Route{{Method: "GET", Path: "/private", Auth: true}},
	}, func(o *Options) { o.Metrics = collector })

	serve(gw, httptest.NewRequest("GET", "/private", nil))

	n, err := testutil.GatherAndCount(collector.Registry(), "sag_auth_failures_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("auth failure series = %d, want 1", n)
	}
}

func TestHTTPProxy(t *testing.T) {
	var gotPath, gotQuery, gotUser string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser = r.Header.Get("x-user-id")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"from":"upstream"}`))
	}))
	defer backend.Close()

	cfg := &config.APIConfig{
		Authorizer: jwtAuthorizer,
		CORS:       &config.CORSConfig{AllowOrigins: []string{"*"}},
		Servers:    []config.Server{{Alias: "backend", URL: backend.URL + "/base"}},
		Paths: []config.Route{
			{
				Method:      "GET",
				Path:        "/proxy/{.+}",
				Integration: &config.Integration{Type: config.IntegrationHTTPProxy, Server: "backend"},
			},
			{
				Method:      "GET",
				Path:        "/me",
				Auth:        true,
				Integration: &config.Integration{Type: config.IntegrationHTTPProxy, Server: "backend"},
				Mapping: &config.Mapping{
					Headers: map[string]string{
						"x-user-id": "$request.jwt.sub",
						"x-missing": "$request.jwt.missing",
					},
				},
			},
		},
	}
	gw := newTestGateway(t, cfg)

	t.Run("wildcard forwarding", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/proxy/orders/1?x=1", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := serve(gw, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		if gotPath != "/base/orders/1" {
			t.Errorf("upstream path = %q, want /base/orders/1", gotPath)
		}
		if gotQuery != "x=1" {
			t.Errorf("upstream query = %q, want x=1", gotQuery)
		}
		if got := rec.Body.String(); got != `{"from":"upstream"}` {
			t.Errorf("body = %q", got)
		}
		if got := rec.Header().Get("X-Upstream"); got != "yes" {
			t.Errorf("upstream header lost: %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := rec.Header().Get(PoweredByHeader); got != PoweredBy {
			t.Errorf("%s = %q", PoweredByHeader, got)
		}
	})

	t.Run("claims mapping", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+validJWT(t, "user-123"))
		rec := serve(gw, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
		}
		if gotUser != "user-123" {
			t.Errorf("x-user-id = %q, want user-123", gotUser)
		}
	})
}

func TestHTTPProxyUnknownServer(t *testing.T) {
	gw := newTestGateway(t, &config.APIConfig{
		Paths: []config.Route{
			{Method: "GET", Path: "/x", Integration: &config.Integration{Type: config.IntegrationHTTPProxy, Server: "nope"}},
		},
	})
	expectError(t, serve(gw, httptest.NewRequest("GET", "/x", nil)), http.StatusInternalServerError, CodeIntegrationNotConfigured)
}

func TestHTTPProxyUpstreamDown(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := backend.URL
	backend.Close()

	gw := newTestGateway(t, &config.APIConfig{
		Servers: []config.Server{{Alias: "b", URL: url}},
		Paths: []config.Route{
			{Method: "GET", Path: "/x", Integration: &config.Integration{Type: config.IntegrationHTTPProxy, Server: "b"}},
		},
	})
	expectError(t, serve(gw, httptest.NewRequest("GET", "/x", nil)), http.StatusBadGateway, "UPSTREAM_NETWORK_ERROR")
}

func TestServiceIntegration(t *testing.T) {
	gw := newTestGateway(t, &config.APIConfig{
		Services: []config.Service{{Alias: "echo-svc", Entrypoint: registry.EchoEntrypoint}},
		Paths: []config.Route{
			{Method: "GET", Path: "/service", Integration: &config.Integration{Type: config.IntegrationService, Binding: "echo-svc"}},
			{Method: "GET", Path: "/unknown", Integration: &config.Integration{Type: config.IntegrationService, Binding: "nope"}},
		},
	})

	rec := serve(gw, httptest.NewRequest("GET", "/service?a=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["status"] != "success" {
		t.Errorf("status field = %v", body["status"])
	}
	data, _ := body["data"].(map[string]any)
	if data["path"] != "/service" || data["method"] != "GET" {
		t.Errorf("data = %v", data)
	}

	expectError(t, serve(gw, httptest.NewRequest("GET", "/unknown", nil)), http.StatusInternalServerError, CodeIntegrationNotConfigured)
}

func bindingConfig(pre *config.Hook) *config.APIConfig {
	return &config.APIConfig{
		CORS: &config.CORSConfig{AllowOrigins: []string{"https://app.example.com"}},
		ServiceBindings: []config.ServiceBinding{
			{Alias: "hooks", Binding: "HOOKS"},
			{Alias: "target", Binding: "TARGET"},
		},
		Paths: []config.Route{
			{
				Method:      "POST",
				Path:        "/orders",
				PreProcess:  pre,
				Integration: &config.Integration{Type: config.IntegrationServiceBinding, Binding: "target", Function: "run"},
			},
		},
	}
}

func TestServiceBinding(t *testing.T) {
	reg := registry.New()
	reg.RegisterBinding("TARGET", "run", registry.HandlerFunc(func(context.Context, *http.Request, registry.Env) (any, error) {
		return map[string]any{"orderId": 42}, nil
	}))
	gw := newTestGateway(t, bindingConfig(nil), func(o *Options) { o.Registry = reg })

	rec := serve(gw, httptest.NewRequest("POST", "/orders", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	data, _ := body["data"].(map[string]any)
	if body["status"] != "success" || data["orderId"] != float64(42) {
		t.Errorf("body = %v", body)
	}
}

func TestPreProcess(t *testing.T) {
	t.Run("short circuit", func(t *testing.T) {
		var targetCalls, hookCalls atomic.Int32
		reg := registry.New()
		reg.RegisterBinding("HOOKS", "before", registry.HandlerFunc(func(context.Context, *http.Request, registry.Env) (any, error) {
			hookCalls.Add(1)
			return &registry.Response{Status: http.StatusTooManyRequests, Body: []byte(`{"blocked":true}`)}, nil
		}))
		reg.RegisterBinding("TARGET", "run", registry.HandlerFunc(func(context.Context, *http.Request, registry.Env) (any, error) {
			targetCalls.Add(1)
			return map[string]any{"ok": true}, nil
		}))
		gw := newTestGateway(t, bindingConfig(&config.Hook{Binding: "hooks", Function: "before"}), func(o *Options) { o.Registry = reg })

		req := httptest.NewRequest("POST", "/orders", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := serve(gw, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
		if rec.Body.String() != `{"blocked":true}` {
			t.Errorf("body = %q", rec.Body.String())
		}
		if hookCalls.Load() != 1 || targetCalls.Load() != 0 {
			t.Errorf("hook calls = %d, target calls = %d", hookCalls.Load(), targetCalls.Load())
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("continue keeps body", func(t *testing.T) {
		var hookBody, targetBody string
		reg := registry.New()
		reg.RegisterBinding("HOOKS", "before", registry.HandlerFunc(func(_ context.Context, r *http.Request, _ registry.Env) (any, error) {
			b, _ := io.ReadAll(r.Body)
			hookBody = string(b)
			return true, nil
		}))
		reg.RegisterBinding("TARGET", "run", registry.HandlerFunc(func(_ context.Context, r *http.Request, _ registry.Env) (any, error) {
			b, _ := io.ReadAll(r.Body)
			targetBody = string(b)
			return map[string]any{"ok": true}, nil
		}))
		gw := newTestGateway(t, bindingConfig(&config.Hook{Binding: "hooks", Function: "before"}), func(o *Options) { o.Registry = reg })

		rec := serve(gw, httptest.NewRequest("POST", "/orders", strings.NewReader(`{"item":"book"}`)))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
		if hookBody != `{"item":"book"}` || targetBody != `{"item":"book"}` {
			t.Errorf("hook body = %q, target body = %q", hookBody, targetBody)
		}
	})

	t.Run("unknown hook binding", func(t *testing.T) {
		gw := newTestGateway(t, bindingConfig(&config.Hook{Binding: "missing", Function: "before"}))
		expectError(t, serve(gw, httptest.NewRequest("POST", "/orders", nil)), http.StatusInternalServerError, CodeIntegrationNotConfigured)
	})
}

func TestHandlerFailures(t *testing.T) {
	reg := registry.New()
	reg.RegisterBinding("TARGET", "run", registry.HandlerFunc(func(_ context.Context, r *http.Request, _ registry.Env) (any, error) {
		if r.URL.Query().Get("panic") != "" {
			panic("boom")
		}
		return nil, io.ErrUnexpectedEOF
	}))
	gw := newTestGateway(t, bindingConfig(nil), func(o *Options) { o.Registry = reg })

	for _, target := range []string{"/orders", "/orders?panic=1"} {
		t.Run(target, func(t *testing.T) {
			req := httptest.NewRequest("POST", target, nil)
			req.Header.Set("Origin", "https://app.example.com")
			rec := serve(gw, req)

			expectError(t, rec, http.StatusInternalServerError, "INTERNAL_ERROR")
			if strings.Contains(rec.Body.String(), "EOF") || strings.Contains(rec.Body.String(), "boom") {
				t.Errorf("internal detail leaked: %s", rec.Body.String())
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
		})
	}
}
