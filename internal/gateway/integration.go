package gateway

import (
	"bytes"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/errors"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"github.com/irensaltali/serverlessapigateway/internal/proxy"
	"github.com/irensaltali/serverlessapigateway/internal/registry"
	"github.com/irensaltali/serverlessapigateway/internal/tracing"
	"github.com/irensaltali/serverlessapigateway/internal/variables"
)

// maxBufferedBody bounds request bodies read into memory for hooks and
// the built-in auth endpoints.
const maxBufferedBody = 1 << 20

// dispatch runs the route's integration, or writes its static response
// when it has none.
func (g *Gateway) dispatch(x *exchange) error {
	in := x.route.Integration
	if in == nil {
		x.writeResponse(rawJSONResponse(http.StatusOK, x.route.Response))
		return nil
	}

	ctx, span := tracing.StartSpan(x.r.Context(), "gateway.integration",
		attribute.String("integration.type", string(in.Type)),
	)
	defer span.End()
	x.r = x.r.WithContext(ctx)

	switch in.Type {
	case config.IntegrationHTTP, config.IntegrationHTTPProxy:
		return g.proxyHTTP(x, in)
	case config.IntegrationService:
		return g.invokeService(x, in)
	case config.IntegrationServiceBinding:
		return g.invokeBinding(x, in)
	case config.IntegrationAuth0Callback:
		return g.auth0Callback(x)
	case config.IntegrationAuth0Userinfo:
		return g.auth0Userinfo(x)
	case config.IntegrationAuth0CallbackRedirect:
		return g.auth0Redirect(x)
	case config.IntegrationAuth0Refresh:
		return g.auth0Refresh(x)
	case config.IntegrationSupabasePasswordlessAuth:
		return g.passwordlessAuth(x)
	case config.IntegrationSupabasePasswordlessVerify:
		return g.passwordlessVerify(x)
	case config.IntegrationSupabasePasswordlessAuthAlt:
		return g.passwordlessAuthAlt(x)
	default:
		return errors.Config(CodeIntegrationNotConfigured, "Unsupported integration type: "+string(in.Type))
	}
}

func (g *Gateway) proxyHTTP(x *exchange, in *config.Integration) error {
	server, ok := x.cfg.FindServer(in.Server)
	if !ok {
		return notConfigured("server", in.Server)
	}
	target, err := proxy.UpstreamURL(server.URL, x.route.Path, x.r.URL)
	if err != nil {
		return errors.Wrap(err, errors.KindConfig, http.StatusInternalServerError,
			CodeIntegrationNotConfigured, "Invalid server URL for alias "+in.Server)
	}

	out := proxy.NewRequest(x.r.Context(), x.r, target)
	out = proxy.ApplyMapping(out, x.route.Mapping, variables.Scope{
		Request:         x.r,
		Claims:          x.claims,
		RouteVariables:  x.route.Variables,
		GlobalVariables: x.cfg.Variables,
	})

	resp, err := g.forwarder.Do(out)
	if err != nil {
		return err
	}
	x.stamp()
	x.written = true
	proxy.Relay(x.w, resp)
	return nil
}

func (g *Gateway) invokeService(x *exchange, in *config.Integration) error {
	svc, ok := x.cfg.FindService(in.Binding)
	if !ok {
		return notConfigured("service", in.Binding)
	}
	h, err := g.registry.Service(svc.Entrypoint)
	if err != nil {
		return registryError(err)
	}
	return g.invoke(x, h)
}

func (g *Gateway) invokeBinding(x *exchange, in *config.Integration) error {
	h, err := g.bindingHandler(x.cfg, in.Binding, in.Function)
	if err != nil {
		return err
	}
	return g.invoke(x, h)
}

func (g *Gateway) bindingHandler(cfg *config.APIConfig, alias, function string) (registry.Handler, error) {
	sb, ok := cfg.FindServiceBinding(alias)
	if !ok {
		return nil, notConfigured("service binding", alias)
	}
	h, err := g.registry.Binding(sb.Binding, function)
	if err != nil {
		return nil, registryError(err)
	}
	return h, nil
}

func (g *Gateway) invoke(x *exchange, h registry.Handler) error {
	v, err := h.Invoke(x.r.Context(), x.r, g.env())
	if err != nil {
		return err
	}
	x.writeResponse(Normalize(v))
	return nil
}

func (g *Gateway) env() registry.Env {
	return registry.Env{Lookup: g.lookup, Registry: g.registry}
}

// preProcess runs the route's hook on a copy of the request body. It
// reports done when the hook produced the response itself.
func (g *Gateway) preProcess(x *exchange) (bool, error) {
	hook := x.route.PreProcess
	h, err := g.bindingHandler(x.cfg, hook.Binding, hook.Function)
	if err != nil {
		return false, err
	}

	ctx, span := tracing.StartSpan(x.r.Context(), "gateway.pre_process",
		attribute.String("hook.binding", hook.Binding),
		attribute.String("hook.function", hook.Function),
	)
	defer span.End()

	hookReq, err := teeBody(x.r)
	if err != nil {
		return false, errors.Wrap(err, errors.KindInternal, http.StatusBadRequest,
			"INVALID_REQUEST_BODY", "Request body could not be read")
	}

	v, err := h.Invoke(ctx, hookReq.WithContext(ctx), g.env())
	if err != nil {
		return false, err
	}
	if ok, isBool := v.(bool); isBool && ok {
		return false, nil
	}

	logging.Debug("pre-process hook answered the request",
		zap.String("binding", hook.Binding),
		zap.String("function", hook.Function),
	)
	x.writeResponse(Normalize(v))
	return true, nil
}

// teeBody buffers r's body and returns a clone carrying its own copy.
// r keeps a fresh reader over the same bytes so later stages can still
// consume it.
func teeBody(r *http.Request) (*http.Request, error) {
	clone := r.Clone(r.Context())
	if r.Body == nil || r.Body == http.NoBody {
		return clone, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody+1))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(data) > maxBufferedBody {
		return nil, stderrors.New("request body too large")
	}

	r.Body = io.NopCloser(bytes.NewReader(data))
	r.ContentLength = int64(len(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.ContentLength = int64(len(data))
	clone.GetBody = r.GetBody
	return clone, nil
}

// readBody reads the request body for the built-in auth endpoints.
// Unreadable or oversized bodies are treated as empty.
func readBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
	if err != nil {
		logging.Debug("request body unreadable", zap.Error(err))
		return nil
	}
	return data
}

func notConfigured(kind, alias string) *errors.ClassifiedError {
	return errors.Config(CodeIntegrationNotConfigured, "No "+kind+" configured for alias "+strconv.Quote(alias))
}

func registryError(err error) *errors.ClassifiedError {
	var nf *registry.NotFoundError
	if stderrors.As(err, &nf) {
		return errors.Wrap(err, errors.KindConfig, http.StatusInternalServerError,
			CodeIntegrationNotConfigured, "No "+nf.Kind+" registered as "+strconv.Quote(nf.Name))
	}
	return errors.Wrap(err, errors.KindInternal, http.StatusInternalServerError,
		"INTERNAL_ERROR", "Internal server error")
}
