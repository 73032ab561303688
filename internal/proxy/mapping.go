package proxy

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"github.com/irensaltali/serverlessapigateway/internal/variables"
)

// ApplyMapping returns a copy of out with mapped headers and query
// parameters set. Templates resolve against scope; a template that resolves
// to nothing leaves its key untouched. out itself is never modified.
func ApplyMapping(out *http.Request, m *config.Mapping, scope variables.Scope) *http.Request {
	if m == nil {
		return out
	}

	if len(m.Headers) > 0 {
		out = out.Clone(out.Context())
		for key, tmpl := range m.Headers {
			if v, ok := variables.Resolve(tmpl, scope); ok {
				out.Header.Set(key, v)
			} else {
				logging.Debug("header mapping unresolved", zap.String("header", key))
			}
		}
	}

	if len(m.Query) > 0 {
		out = out.Clone(out.Context())
		q := out.URL.Query()
		for key, tmpl := range m.Query {
			if v, ok := variables.Resolve(tmpl, scope); ok {
				q.Set(key, v)
			} else {
				logging.Debug("query mapping unresolved", zap.String("param", key))
			}
		}
		out.URL.RawQuery = q.Encode()
	}

	return out
}
