package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/irensaltali/serverlessapigateway/internal/router"
)

var duplicateSlashes = regexp.MustCompile(`/{2,}`)

// ForwardPath returns the path sent upstream for a request that matched
// routePath. Wildcard routes forward only what the wildcard absorbed;
// other routes forward the request path unchanged.
func ForwardPath(routePath, requestPath string) string {
	base, ok := router.WildcardBase(routePath)
	if !ok {
		return requestPath
	}
	base = strings.TrimSuffix(base, "/")

	switch {
	case requestPath == base:
		return "/"
	case strings.HasPrefix(requestPath, base+"/"):
		rest := requestPath[len(base)+1:]
		if rest == "" {
			return "/"
		}
		return rest
	default:
		return requestPath
	}
}

// UpstreamURL joins the server base URL with the forwarded path and copies
// the inbound raw query verbatim.
func UpstreamURL(serverURL, routePath string, inbound *url.URL) (*url.URL, error) {
	target, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host required", serverURL)
	}

	forwarded := ForwardPath(routePath, inbound.Path)
	joined := strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(forwarded, "/")

	out := *target
	out.Path = duplicateSlashes.ReplaceAllString(joined, "/")
	out.RawPath = ""
	out.RawQuery = inbound.RawQuery
	out.Fragment = ""
	return &out, nil
}
