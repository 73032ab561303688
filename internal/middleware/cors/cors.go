package cors

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/irensaltali/serverlessapigateway/internal/config"
)

// Handler computes CORS response headers for one CORS configuration.
type Handler struct {
	allowOrigins     []string
	originPatterns   map[string]*regexp.Regexp
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	allowCredentials string
	credentials      bool
	maxAge           string
}

// New creates a handler from cfg. A nil cfg yields a nil handler, whose
// methods are no-ops.
func New(cfg *config.CORSConfig) *Handler {
	if cfg == nil {
		return nil
	}
	h := &Handler{
		allowOrigins:     cfg.AllowOrigins,
		originPatterns:   make(map[string]*regexp.Regexp),
		allowMethods:     strings.Join(cfg.AllowMethods, ","),
		allowHeaders:     strings.Join(cfg.AllowHeaders, ","),
		exposeHeaders:    strings.Join(cfg.ExposeHeaders, ","),
		allowCredentials: strconv.FormatBool(cfg.AllowCredentials),
		credentials:      cfg.AllowCredentials,
		maxAge:           strconv.Itoa(cfg.MaxAge),
	}

	// Entries such as https://*.example.com match any run of characters
	// in place of each star.
	for _, o := range cfg.AllowOrigins {
		if o == "*" || !strings.Contains(o, "*") {
			continue
		}
		parts := strings.Split(o, "*")
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		h.originPatterns[o] = regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
	}
	return h
}

// Enabled reports whether a CORS configuration is present.
func (h *Handler) Enabled() bool {
	return h != nil
}

// MatchOrigin returns the allow-origin value for origin, or "" when the
// origin is not allowed.
func (h *Handler) MatchOrigin(origin string) string {
	if h == nil || origin == "" {
		return ""
	}
	for _, allowed := range h.allowOrigins {
		if allowed == origin {
			return origin
		}
		if allowed == "*" {
			// A credentialed response cannot use the literal wildcard.
			if h.credentials {
				return origin
			}
			return "*"
		}
		if re, ok := h.originPatterns[allowed]; ok && re.MatchString(origin) {
			return origin
		}
	}
	return ""
}

// Apply sets CORS headers on dst for a request carrying r's Origin. Values
// are set, never appended, so applying twice is the same as applying once.
func (h *Handler) Apply(dst http.Header, r *http.Request) {
	if h == nil {
		return
	}
	if allow := h.MatchOrigin(r.Header.Get("Origin")); allow != "" {
		dst.Set("Access-Control-Allow-Origin", allow)
		dst.Set("Vary", "Origin")
	}
	dst.Set("Access-Control-Allow-Methods", h.allowMethods)
	dst.Set("Access-Control-Allow-Headers", h.allowHeaders)
	dst.Set("Access-Control-Expose-Headers", h.exposeHeaders)
	dst.Set("Access-Control-Allow-Credentials", h.allowCredentials)
	dst.Set("Access-Control-Max-Age", h.maxAge)
}

// IsPreflight reports whether r is an OPTIONS request that CORS should
// answer.
func (h *Handler) IsPreflight(r *http.Request) bool {
	return h != nil && r.Method == http.MethodOptions
}

// HandlePreflight writes a bare 204 carrying the CORS headers.
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	h.Apply(w.Header(), r)
	w.WriteHeader(http.StatusNoContent)
}
