package registry

import (
	"context"
	"io"
	"net/http"
	"time"
)

// EchoEntrypoint is the entrypoint of the built-in echo service.
const EchoEntrypoint = "echo"

const echoMaxBodySize = 1 << 20 // 1MB

// echoService returns request details without calling a backend.
type echoService struct{}

type echoResponse struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Host       string            `json:"host"`
	RemoteAddr string            `json:"remote_addr"`
	Query      map[string]string `json:"query"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

func (echoService) Invoke(_ context.Context, r *http.Request, _ Env) (any, error) {
	// Flatten query params to first value
	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	// Flatten headers to first value
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var body string
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, echoMaxBodySize))
		if err != nil {
			return nil, err
		}
		body = string(data)
	}

	return echoResponse{
		Method:     r.Method,
		Path:       r.URL.Path,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		Query:      query,
		Headers:    headers,
		Body:       body,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}
