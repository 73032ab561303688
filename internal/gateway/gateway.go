package gateway

import (
	"context"
	"net/http"
	"os"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"github.com/irensaltali/serverlessapigateway/internal/metrics"
	"github.com/irensaltali/serverlessapigateway/internal/middleware"
	"github.com/irensaltali/serverlessapigateway/internal/middleware/auth"
	"github.com/irensaltali/serverlessapigateway/internal/middleware/cors"
	"github.com/irensaltali/serverlessapigateway/internal/proxy"
	"github.com/irensaltali/serverlessapigateway/internal/proxy/auth0"
	"github.com/irensaltali/serverlessapigateway/internal/proxy/supabase"
	"github.com/irensaltali/serverlessapigateway/internal/registry"
	"github.com/irensaltali/serverlessapigateway/internal/router"
	"github.com/irensaltali/serverlessapigateway/internal/tracing"
)

// Identity header stamped on every response.
const (
	PoweredByHeader = "X-Powered-By"
	PoweredBy       = "github.com/irensaltali/serverlessapigateway"
)

// CodeIntegrationNotConfigured is returned when a route names a server,
// service or binding alias the configuration does not declare.
const CodeIntegrationNotConfigured = "INTEGRATION_NOT_CONFIGURED"

// Options configures a Gateway. Only Source is required.
type Options struct {
	// Source supplies the API configuration for every request.
	Source config.Source
	// Registry resolves service entrypoints and binding functions.
	Registry *registry.Registry
	// Transport carries proxied requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// JWKS is shared by auth0 authorizers.
	JWKS *auth.JWKSProvider
	// Metrics, when set, receives auth, integration and config counters.
	Metrics *metrics.Collector
	// Lookup resolves process variables for handlers and the Supabase
	// client. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)

	Auth0Options    []auth0.Option
	SupabaseOptions []supabase.Option
}

// Gateway is the request dispatcher. It holds no per-request state; every
// request loads its own configuration snapshot.
type Gateway struct {
	source    config.Source
	registry  *registry.Registry
	forwarder *proxy.Forwarder
	verifier  *auth.Verifier
	metrics   *metrics.Collector
	lookup    func(string) (string, bool)

	auth0Options    []auth0.Option
	supabaseOptions []supabase.Option
}

// New creates a gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Source == nil {
		return nil, errors.Config("CONFIG_MISSING", "gateway requires a configuration source")
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.JWKS == nil {
		opts.JWKS = auth.NewJWKSProvider(context.Background(), 0)
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	return &Gateway{
		source:          opts.Source,
		registry:        opts.Registry,
		forwarder:       proxy.NewForwarder(opts.Transport),
		verifier:        auth.NewVerifier(opts.JWKS),
		metrics:         opts.Metrics,
		lookup:          opts.Lookup,
		auth0Options:    opts.Auth0Options,
		supabaseOptions: opts.SupabaseOptions,
	}, nil
}

// Registry returns the gateway's service registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Source returns the configuration source.
func (g *Gateway) Source() config.Source {
	return g.source
}

// ServeHTTP runs one request through the lifecycle: configuration load,
// CORS preflight, route selection, authentication, pre-process hook and
// integration dispatch. Every exit goes through the exchange so headers
// are stamped exactly once.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	x := &exchange{w: w, r: r}
	defer g.recoverPanic(x)

	cfg, err := g.loadConfig(r.Context())
	if err != nil {
		logging.Error("API configuration unavailable", zap.Error(err))
		x.writeError(errors.ErrConfigMissing)
		return
	}
	x.cfg = cfg
	x.cors = cors.New(cfg.CORS)

	if x.cors.IsPreflight(r) && !router.HasOptionsRoute(cfg.Paths, r.URL.Path) {
		x.stamp()
		x.written = true
		x.cors.HandlePreflight(w, r)
		return
	}

	cand, ok := router.Select(cfg.Paths, r.Method, r.URL.Path)
	if !ok {
		x.writeError(errors.ErrNoRoute)
		return
	}
	x.route = cand.Route
	middleware.SetRoute(r.Context(), x.route.Method+" "+x.route.Path)

	if x.route.Auth && cfg.Authorizer != nil {
		if err := g.authenticate(x); err != nil {
			x.writeError(err)
			return
		}
	}

	if x.route.PreProcess != nil {
		done, err := g.preProcess(x)
		if err != nil {
			x.writeError(err)
			return
		}
		if done {
			return
		}
	}

	if err := g.dispatch(x); err != nil {
		integration := "response"
		if x.route.Integration != nil {
			integration = string(x.route.Integration.Type)
		}
		g.recordIntegrationError(integration, err)
		x.writeError(err)
	}
}

func (g *Gateway) loadConfig(ctx context.Context) (*config.APIConfig, error) {
	cfg, err := g.source.Load(ctx)
	if g.metrics != nil {
		g.metrics.RecordConfigLoad(err == nil && cfg != nil)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, config.ErrNoDocument
	}
	return cfg, nil
}

func (g *Gateway) authenticate(x *exchange) error {
	authz := x.cfg.Authorizer
	ctx, span := tracing.StartSpan(x.r.Context(), "gateway.authenticate",
		attribute.String("authorizer.type", string(authz.Type)),
	)
	defer span.End()

	claims, err := g.verifier.Authenticate(ctx, x.r, authz)
	if err != nil {
		ce := errors.Resolve(err)
		span.SetAttributes(attribute.String("auth.code", ce.Code))
		if g.metrics != nil {
			g.metrics.RecordAuthFailure(string(authz.Type), ce.Code)
		}
		return err
	}
	x.claims = claims
	return nil
}

func (g *Gateway) recordIntegrationError(integration string, err error) {
	ce := errors.Resolve(err)
	if g.metrics != nil {
		g.metrics.RecordIntegrationError(integration, ce.Code)
	}
	if ce.Status >= http.StatusInternalServerError {
		logging.Warn("integration failed",
			zap.String("integration", integration),
			zap.String("code", ce.Code),
			zap.String("detail", ce.Detail),
		)
	}
}

// recoverPanic turns a panic escaping the lifecycle into a 500, stamped with
// whatever configuration was loaded before the failure.
func (g *Gateway) recoverPanic(x *exchange) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	logging.Error("panic in request lifecycle",
		zap.Any("error", rec),
		zap.String("path", x.r.URL.Path),
		zap.ByteString("stack", debug.Stack()),
	)
	if x.written {
		return
	}
	x.writeError(errors.ErrInternal)
}

// exchange is the per-request state threaded through the lifecycle.
type exchange struct {
	w http.ResponseWriter
	r *http.Request

	cfg    *config.APIConfig
	cors   *cors.Handler
	route  *config.Route
	claims auth.Claims

	stamped bool
	written bool
}

// stamp applies CORS and identity headers. Repeated calls are no-ops, and
// the underlying header writes are Set operations.
func (x *exchange) stamp() {
	if x.stamped {
		return
	}
	x.stamped = true
	x.cors.Apply(x.w.Header(), x.r)
	x.w.Header().Set(PoweredByHeader, PoweredBy)
}

// writeError renders err. Unclassified errors become a generic 500 and
// their text only reaches the log.
func (x *exchange) writeError(err error) {
	ce, ok := errors.As(err)
	if !ok {
		logging.Error("unclassified error in request lifecycle",
			zap.Error(err),
			zap.String("path", x.r.URL.Path),
		)
		ce = errors.ErrInternal
	}
	x.stamp()
	x.written = true
	ce.WriteJSON(x.w)
}

// writeResponse renders a fully formed response.
func (x *exchange) writeResponse(resp *registry.Response) {
	dst := x.w.Header()
	for k, vv := range resp.Header {
		dst[k] = append([]string(nil), vv...)
	}
	x.stamp()
	x.written = true

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	x.w.WriteHeader(status)
	if len(resp.Body) > 0 {
		x.w.Write(resp.Body)
	}
}
