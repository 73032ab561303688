package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/irensaltali/serverlessapigateway/internal/errors"
)

// Forwarder sends proxied requests upstream. It never retries.
type Forwarder struct {
	client *http.Client
}

// NewForwarder creates a forwarder over rt. A nil rt uses http.DefaultTransport.
func NewForwarder(rt http.RoundTripper) *Forwarder {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Forwarder{
		client: &http.Client{
			Transport: rt,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewRequest builds the outbound request for target from the inbound r.
func NewRequest(ctx context.Context, r *http.Request, target *url.URL) *http.Request {
	out := (&http.Request{
		Method:        r.Method,
		URL:           target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, len(r.Header)+3),
		Body:          r.Body,
		ContentLength: r.ContentLength,
		GetBody:       r.GetBody,
		Host:          target.Host,
	}).WithContext(ctx)
	if r.ContentLength == 0 {
		out.Body = nil
	}

	for k, vv := range r.Header {
		out.Header[k] = append([]string(nil), vv...)
	}

	if clientIP := clientIP(r); clientIP != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			out.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(out.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))
	return out
}

// Do sends req. Transport failures come back as a network error with
// status 502; any upstream status, including 4xx/5xx, is a response.
func (f *Forwarder) Do(req *http.Request) (*http.Response, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, errors.Wrap(err, errors.KindNetwork, http.StatusGatewayTimeout,
				"UPSTREAM_TIMEOUT", "Upstream request timed out")
		}
		return nil, errors.Wrap(err, errors.KindNetwork, http.StatusBadGateway,
			"UPSTREAM_NETWORK_ERROR", "Upstream request failed")
	}
	return resp, nil
}

// Relay copies an upstream response to w. Headers already set on w win
// over upstream values of the same name, so gateway headers are stamped
// before calling Relay.
func Relay(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	dst := w.Header()
	for k, vv := range resp.Header {
		if _, exists := dst[k]; exists {
			continue
		}
		dst[k] = append([]string(nil), vv...)
	}
	removeHopHeaders(dst)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
