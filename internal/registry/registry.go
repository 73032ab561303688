// Package registry maps configuration aliases to in-process callables.
// Services are instantiated from a factory per invocation; bindings are
// long-lived handlers grouped under a binding name, each exposing named
// functions.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
)

// Response is a fully formed HTTP response. Handlers return it when they
// want to control status, headers and body themselves.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Env is handed to every handler invocation.
type Env struct {
	// Lookup resolves process variables. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
	// Registry gives handlers access to other bindings.
	Registry *Registry
}

// Get returns the named variable, or "" when unset.
func (e Env) Get(name string) string {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(name)
	return v
}

// Handler is a callable integration target. The returned value is either
// a *Response, a string, nil or a JSON-encodable value.
type Handler interface {
	Invoke(ctx context.Context, r *http.Request, env Env) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r *http.Request, env Env) (any, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, r *http.Request, env Env) (any, error) {
	return f(ctx, r, env)
}

// Factory creates a service instance.
type Factory func() Handler

// NotFoundError reports an unknown entrypoint or binding function.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q is not registered", e.Kind, e.Name)
}

// Registry holds services keyed by entrypoint and bindings keyed by
// binding name and function.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Factory
	bindings map[string]map[string]Handler
}

// New creates a registry preloaded with the built-in services.
func New() *Registry {
	r := &Registry{
		services: make(map[string]Factory),
		bindings: make(map[string]map[string]Handler),
	}
	r.RegisterService(EchoEntrypoint, func() Handler { return echoService{} })
	return r
}

// RegisterService registers f under entrypoint, replacing any previous one.
func (r *Registry) RegisterService(entrypoint string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[entrypoint] = f
}

// RegisterBinding registers h as function of binding.
func (r *Registry) RegisterBinding(binding, function string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fns, ok := r.bindings[binding]
	if !ok {
		fns = make(map[string]Handler)
		r.bindings[binding] = fns
	}
	fns[function] = h
}

// Service returns a fresh instance of the service at entrypoint.
func (r *Registry) Service(entrypoint string) (Handler, error) {
	r.mu.RLock()
	f, ok := r.services[entrypoint]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "service", Name: entrypoint}
	}
	return f(), nil
}

// Binding returns function of binding.
func (r *Registry) Binding(binding, function string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fns, ok := r.bindings[binding]
	if !ok {
		return nil, &NotFoundError{Kind: "binding", Name: binding}
	}
	h, ok := fns[function]
	if !ok {
		return nil, &NotFoundError{Kind: "binding function", Name: binding + "." + function}
	}
	return h, nil
}

// Entrypoints lists registered service entrypoints, sorted.
func (r *Registry) Entrypoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.services))
	for k := range r.services {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
