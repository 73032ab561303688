package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/irensaltali/serverlessapigateway/internal/middleware"
)

func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tr := newWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { tr.Close(context.Background()) })
	return tr, rec
}

func TestTracerMiddleware(t *testing.T) {
	tracer, rec := recordingTracer(t)

	handler := middleware.NewChain(middleware.RequestID(), tracer.Middleware()).Then(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.SetRoute(r.Context(), "/items/{id}")
			w.WriteHeader(http.StatusBadGateway)
		}),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/items/1", nil))

	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("expected X-Trace-ID response header")
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /items/1" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code.String() != "Error" {
		t.Errorf("expected error status for 502, got %v", spans[0].Status().Code)
	}
	var route string
	for _, a := range spans[0].Attributes() {
		if a.Key == "http.route" {
			route = a.Value.AsString()
		}
	}
	if route != "/items/{id}" {
		t.Errorf("http.route = %q", route)
	}
}

func TestTracerMiddlewarePropagation(t *testing.T) {
	tracer, rec := recordingTracer(t)

	existingTrace := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	handler := tracer.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("traceparent", existingTrace)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if got := w.Header().Get("X-Trace-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected the incoming trace id to be continued, got %q", got)
	}
	if len(rec.Ended()) != 1 {
		t.Errorf("expected 1 span, got %d", len(rec.Ended()))
	}
}

func TestTracerDisabled(t *testing.T) {
	tracer, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if tracer.IsEnabled() {
		t.Fatal("tracer without endpoint should be disabled")
	}

	handler := tracer.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Header().Get("X-Trace-ID") != "" {
		t.Error("disabled tracer should not set X-Trace-ID")
	}
	if err := tracer.Close(context.Background()); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestStartSpan(t *testing.T) {
	_, rec := recordingTracer(t)

	_, span := StartSpan(context.Background(), "auth")
	span.End()

	if len(rec.Ended()) != 1 || rec.Ended()[0].Name() != "auth" {
		t.Errorf("unexpected spans: %v", rec.Ended())
	}
}
