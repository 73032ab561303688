package router

import (
	"net/http"
	"sort"

	"github.com/irensaltali/serverlessapigateway/internal/config"
)

// Candidate is a route that matched a request.
type Candidate struct {
	Route  *config.Route
	Result MatchResult
	// Index is the route's position in the table.
	Index int
}

// Candidates returns every route that matches the request, ranked best first.
func Candidates(routes []config.Route, method, path string) []Candidate {
	var out []Candidate
	for i := range routes {
		res := Match(routes[i].Path, path, method, routes[i].Method)
		if !res.Matched() {
			continue
		}
		out = append(out, Candidate{Route: &routes[i], Result: res, Index: i})
	}
	Rank(out, method)
	return out
}

// Select returns the best route for the request.
func Select(routes []config.Route, method, path string) (*Candidate, bool) {
	c := Candidates(routes, method, path)
	if len(c) == 0 {
		return nil, false
	}
	return &c[0], true
}

// Rank orders candidates: exact before inexact, more matched segments
// first, non-wildcard before wildcard, then a route declaring the literal
// request method before one declaring ANY. Remaining ties keep table order.
func Rank(c []Candidate, method string) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i].Result, c[j].Result
		if a.IsExact != b.IsExact {
			return a.IsExact
		}
		if a.MatchedCount != b.MatchedCount {
			return a.MatchedCount > b.MatchedCount
		}
		if a.IsWildcard != b.IsWildcard {
			return !a.IsWildcard
		}
		am, bm := c[i].Route.Method, c[j].Route.Method
		if am != bm {
			if am == method {
				return true
			}
			if bm == method {
				return false
			}
		}
		return false
	})
}

// HasOptionsRoute reports whether a route explicitly declares OPTIONS for path.
func HasOptionsRoute(routes []config.Route, path string) bool {
	for i := range routes {
		if routes[i].Method != http.MethodOptions {
			continue
		}
		if Match(routes[i].Path, path, http.MethodOptions, routes[i].Method).Matched() {
			return true
		}
	}
	return false
}
