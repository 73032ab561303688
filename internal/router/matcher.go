package router

import (
	"strings"

	"github.com/irensaltali/serverlessapigateway/internal/config"
)

// WildcardSegment is the path segment that absorbs the rest of a request path.
const WildcardSegment = "{.+}"

// MatchResult describes how one route pattern matched one request.
type MatchResult struct {
	MatchedCount  int
	IsExact       bool
	IsWildcard    bool
	MethodMatches bool
	Params        map[string]string
}

// Matched reports whether the result makes the route a candidate.
func (m MatchResult) Matched() bool {
	return m.MethodMatches && m.MatchedCount > 0
}

func isParam(segment string) bool {
	return len(segment) >= 2 && segment[0] == '{' && segment[len(segment)-1] == '}'
}

// Match compares a route pattern and method against a request path and
// method. Segments are the "/"-separated parts of each path, so a leading
// slash contributes one empty segment on each side.
func Match(configPath, requestPath, requestMethod, configMethod string) MatchResult {
	methodMatches := requestMethod == configMethod || configMethod == config.MethodAny
	if !methodMatches {
		return MatchResult{}
	}
	fail := MatchResult{MethodMatches: true}

	cfgSegs := strings.Split(configPath, "/")
	reqSegs := strings.Split(requestPath, "/")
	tailWildcard := cfgSegs[len(cfgSegs)-1] == WildcardSegment

	if !tailWildcard && len(reqSegs) != len(cfgSegs) {
		return fail
	}
	if tailWildcard && len(reqSegs) < len(cfgSegs)-1 {
		return fail
	}

	res := MatchResult{
		IsExact:       true,
		MethodMatches: true,
		Params:        make(map[string]string),
	}
	for i := 0; i < max(len(cfgSegs), len(reqSegs)); i++ {
		if i < len(cfgSegs) && cfgSegs[i] == WildcardSegment {
			res.IsWildcard = true
			res.MatchedCount = min(len(cfgSegs), len(reqSegs))
			break
		}
		if i >= len(cfgSegs) || i >= len(reqSegs) {
			res.IsExact = false
			break
		}

		switch seg := cfgSegs[i]; {
		case isParam(seg):
			res.IsExact = false
			res.Params[seg[1:len(seg)-1]] = reqSegs[i]
			res.MatchedCount++
		case seg == reqSegs[i]:
			res.MatchedCount++
		default:
			return fail
		}
	}

	res.IsExact = res.IsExact &&
		res.MatchedCount == len(cfgSegs) &&
		res.MatchedCount == len(reqSegs)
	return res
}

// WildcardBase returns the route path with its wildcard tail removed, and
// whether the path had one.
func WildcardBase(routePath string) (string, bool) {
	if !strings.HasSuffix(routePath, WildcardSegment) {
		return routePath, false
	}
	return strings.TrimSuffix(routePath, WildcardSegment), true
}
