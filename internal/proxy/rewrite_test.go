package proxy

import (
	"net/url"
	"testing"
)

func TestForwardPath(t *testing.T) {
	tests := []struct {
		name      string
		routePath string
		reqPath   string
		want      string
	}{
		{"wildcard remainder", "/proxy/{.+}", "/proxy/orders/1", "orders/1"},
		{"wildcard base exact", "/proxy/{.+}", "/proxy", "/"},
		{"wildcard base with slash", "/proxy/{.+}", "/proxy/", "/"},
		{"root wildcard", "/{.+}", "/a/b", "a/b"},
		{"non-wildcard unchanged", "/users/{id}", "/users/7", "/users/7"},
		{"literal unchanged", "/health", "/health", "/health"},
		{"request outside base unchanged", "/proxy/{.+}", "/other/x", "/other/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ForwardPath(tt.routePath, tt.reqPath); got != tt.want {
				t.Errorf("ForwardPath(%q, %q) = %q, want %q", tt.routePath, tt.reqPath, got, tt.want)
			}
		})
	}
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		name      string
		server    string
		routePath string
		inbound   string
		want      string
	}{
		{
			name:      "wildcard with base path and query",
			server:    "https://backend.example.com/base",
			routePath: "/proxy/{.+}",
			inbound:   "/proxy/orders/1?x=1",
			want:      "https://backend.example.com/base/orders/1?x=1",
		},
		{
			name:      "trailing slash on server",
			server:    "https://backend.example.com/base/",
			routePath: "/proxy/{.+}",
			inbound:   "/proxy/orders",
			want:      "https://backend.example.com/base/orders",
		},
		{
			name:      "wildcard base maps to server root",
			server:    "https://backend.example.com",
			routePath: "/proxy/{.+}",
			inbound:   "/proxy",
			want:      "https://backend.example.com/",
		},
		{
			name:      "non-wildcard forwards full path",
			server:    "https://backend.example.com/api",
			routePath: "/users/{id}",
			inbound:   "/users/7?expand=true&x=%20",
			want:      "https://backend.example.com/api/users/7?expand=true&x=%20",
		},
		{
			name:      "duplicate slashes collapsed",
			server:    "https://backend.example.com//base//",
			routePath: "/p/{.+}",
			inbound:   "/p//a//b",
			want:      "https://backend.example.com/base/a/b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := url.Parse(tt.inbound)
			if err != nil {
				t.Fatal(err)
			}
			got, err := UpstreamURL(tt.server, tt.routePath, in)
			if err != nil {
				t.Fatalf("UpstreamURL: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("UpstreamURL = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestUpstreamURLInvalidServer(t *testing.T) {
	in, _ := url.Parse("/x")
	for _, server := range []string{"not a url", "://bad", "/relative/only"} {
		if _, err := UpstreamURL(server, "/x", in); err == nil {
			t.Errorf("UpstreamURL(%q) should fail", server)
		}
	}
}
