// Package variables resolves the $scope.field templates used by route
// mappings.
package variables

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/logging"
)

// Template scopes.
const (
	ScopeHeader = "request.header"
	ScopeJWT    = "request.jwt"
	ScopeConfig = "config"
	ScopeQuery  = "request.query"
)

// templatePattern matches $scope.field. Only the first match in a template
// is used and it stands for the whole value.
var templatePattern = regexp.MustCompile(`\$(request\.header|request\.jwt|config|request\.query)\.([a-zA-Z0-9\-_.]+)`)

// Reference is a parsed template token.
type Reference struct {
	Scope string
	Field string
}

// Parse returns the first reference in template.
func Parse(template string) (Reference, bool) {
	m := templatePattern.FindStringSubmatch(template)
	if m == nil {
		return Reference{}, false
	}
	return Reference{Scope: m[1], Field: m[2]}, true
}

// Scope is everything a template may read from.
type Scope struct {
	Request *http.Request
	Claims  map[string]any
	// RouteVariables shadow GlobalVariables for $config lookups.
	RouteVariables  map[string]any
	GlobalVariables map[string]any
}

// Resolve evaluates template against s. It returns false when the template
// holds no reference or the referenced value is absent; callers leave the
// target key unset in that case.
func Resolve(template string, s Scope) (string, bool) {
	ref, ok := Parse(template)
	if !ok {
		return "", false
	}
	return s.Lookup(ref)
}

// Lookup evaluates a single reference.
func (s Scope) Lookup(ref Reference) (string, bool) {
	switch ref.Scope {
	case ScopeHeader:
		if s.Request == nil {
			return "", false
		}
		vals := s.Request.Header.Values(ref.Field)
		if len(vals) == 0 {
			return "", false
		}
		return strings.Join(vals, ", "), true

	case ScopeJWT:
		v, ok := s.Claims[ref.Field]
		if !ok {
			return "", false
		}
		return Stringify(v)

	case ScopeConfig:
		if v, ok := s.RouteVariables[ref.Field]; ok {
			return Stringify(v)
		}
		if v, ok := s.GlobalVariables[ref.Field]; ok {
			return Stringify(v)
		}
		return "", false

	case ScopeQuery:
		if s.Request == nil || s.Request.URL == nil {
			return "", false
		}
		q, err := url.ParseQuery(s.Request.URL.RawQuery)
		if err != nil {
			logging.Debug("template query lookup failed",
				zap.String("field", ref.Field),
				zap.Error(err),
			)
			return "", false
		}
		v := q.Get(ref.Field)
		return v, v != ""
	}
	return "", false
}

// Stringify renders a claim or variable value as a header/query value.
// Objects and arrays become JSON; null is treated as absent.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			logging.Debug("template value not encodable", zap.Error(err))
			return "", false
		}
		return string(b), true
	}
}
