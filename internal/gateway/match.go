package gateway

import (
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/suuupra/gateway/internal/config"
)

// Matcher selects the route admitting a request. Routes are evaluated in
// declaration order and the first match wins, so more specific routes must
// be declared first.
type Matcher struct {
	mu     sync.RWMutex
	routes []config.RouteConfig
	regex  map[string]*regexp.Regexp // route ID -> compiled pathRegex
}

// NewMatcher creates a matcher for a route set. Invalid path regexes were
// rejected at validation; a route whose regex still fails to compile never
// matches.
func NewMatcher(routes []config.RouteConfig) *Matcher {
	m := &Matcher{}
	m.Update(routes)
	return m
}

// Update swaps the route set, recompiling path regexes.
func (m *Matcher) Update(routes []config.RouteConfig) {
	regex := make(map[string]*regexp.Regexp)
	for _, r := range routes {
		if r.Match.PathRegex != "" {
			if re, err := regexp.Compile(r.Match.PathRegex); err == nil {
				regex[r.ID] = re
			}
		}
	}
	m.mu.Lock()
	m.routes = routes
	m.regex = regex
	m.mu.Unlock()
}

// Match returns the first route admitting the request, or nil.
func (m *Matcher) Match(r *http.Request) *config.RouteConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.routes {
		route := &m.routes[i]
		if m.matches(route, r) {
			return route
		}
	}
	return nil
}

func (m *Matcher) matches(route *config.RouteConfig, r *http.Request) bool {
	if len(route.Match.Methods) > 0 {
		ok := false
		for _, method := range route.Match.Methods {
			if method == r.Method {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	switch {
	case route.Match.PathPrefix != "":
		if !strings.HasPrefix(r.URL.Path, route.Match.PathPrefix) {
			return false
		}
	case route.Match.PathRegex != "":
		re := m.regex[route.ID]
		if re == nil || !re.MatchString(r.URL.Path) {
			return false
		}
	}

	for name, want := range route.Match.Headers {
		if r.Header.Get(name) != want {
			return false
		}
	}
	for name, want := range route.Match.Query {
		if r.URL.Query().Get(name) != want {
			return false
		}
	}
	return true
}
