// Package tenant derives the effective gateway configuration for each
// (environment, tenant) pair. Tenants share infrastructure but see only
// their own namespaced route subset with their own limits applied.
package tenant

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/variables"
)

// Environment owns the feature flags, limits, and security defaults of a
// deployment environment.
type Environment struct {
	Name     string          `json:"name"`
	Features map[string]bool `json:"features,omitempty"`
	Limits   Limits          `json:"limits,omitempty"`
	Security Security        `json:"security,omitempty"`
}

// Limits bounds request admission for an environment or tenant.
type Limits struct {
	MaxRequestsPerSecond int `json:"maxRequestsPerSecond,omitempty"`
	MaxBodyBytes         int `json:"maxBodyBytes,omitempty"`
}

// Security carries environment-wide security defaults.
type Security struct {
	RequireAuth bool `json:"requireAuth,omitempty"`
	RequireTLS  bool `json:"requireTls,omitempty"`
}

// Config describes one tenant. A tenant belongs to exactly one environment
// and owns a route subset, a namespace, and its own limits.
type Config struct {
	ID          string               `json:"id"`
	Environment string               `json:"environment"`
	Namespace   string               `json:"namespace"`
	Routes      []config.RouteConfig `json:"routes,omitempty"`
	Limits      Limits               `json:"limits,omitempty"`
}

// Strategy resolves one dimension (environment or tenant) from a request.
// The two dimensions are configured independently.
type Strategy struct {
	Type string // "header", "subdomain", "path-segment", "jwt-claim", "apikey-metadata"
	Name string // header name, claim path, or metadata key; path segment index for "path-segment"
}

// Manager resolves the effective configuration per request. Derived
// configurations are cached with a bounded TTL; topology changes purge the
// whole cache.
type Manager struct {
	enabled     bool
	defaultCfg  *config.GatewayConfig
	envStrategy Strategy
	tenStrategy Strategy
	logger      *zap.Logger

	mu           sync.RWMutex
	environments map[string]*Environment
	tenants      map[string]*Config

	cache *lru.LRU[string, *config.GatewayConfig]
}

// Options configures a Manager.
type Options struct {
	Enabled             bool
	DefaultConfig       *config.GatewayConfig
	EnvironmentStrategy Strategy
	TenantStrategy      Strategy
	CacheSize           int
	CacheTTL            time.Duration
	Logger              *zap.Logger
}

// NewManager creates an isolation manager. When isolation is disabled the
// manager always returns the default configuration.
func NewManager(opts Options) *Manager {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EnvironmentStrategy.Type == "" {
		opts.EnvironmentStrategy = Strategy{Type: "header", Name: "x-environment"}
	}
	if opts.TenantStrategy.Type == "" {
		opts.TenantStrategy = Strategy{Type: "header", Name: "x-tenant-id"}
	}
	return &Manager{
		enabled:      opts.Enabled,
		defaultCfg:   opts.DefaultConfig,
		envStrategy:  opts.EnvironmentStrategy,
		tenStrategy:  opts.TenantStrategy,
		logger:       opts.Logger,
		environments: make(map[string]*Environment),
		tenants:      make(map[string]*Config),
		cache:        lru.NewLRU[string, *config.GatewayConfig](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// AddEnvironment registers an environment and purges the cache.
func (m *Manager) AddEnvironment(env *Environment) {
	m.mu.Lock()
	m.environments[env.Name] = env
	m.mu.Unlock()
	m.cache.Purge()
}

// RemoveEnvironment removes an environment and purges the cache.
func (m *Manager) RemoveEnvironment(name string) {
	m.mu.Lock()
	delete(m.environments, name)
	m.mu.Unlock()
	m.cache.Purge()
}

// AddTenant registers a tenant and purges the cache.
func (m *Manager) AddTenant(t *Config) {
	m.mu.Lock()
	m.tenants[t.ID] = t
	m.mu.Unlock()
	m.cache.Purge()
}

// RemoveTenant removes a tenant and purges the cache.
func (m *Manager) RemoveTenant(id string) {
	m.mu.Lock()
	delete(m.tenants, id)
	m.mu.Unlock()
	m.cache.Purge()
}

// GetGatewayConfig returns the effective configuration for the request.
// With isolation disabled this is always the default configuration. Derived
// configurations are rebuilt deterministically on cache miss, so eviction
// is never a correctness problem.
func (m *Manager) GetGatewayConfig(r *http.Request) *config.GatewayConfig {
	if !m.enabled {
		return m.defaultCfg
	}

	env := m.resolve(r, m.envStrategy)
	if env == "" {
		env = "default"
	}
	tenantID := m.resolve(r, m.tenStrategy)

	cacheKey := env + "|"
	if tenantID != "" {
		cacheKey += tenantID
	} else {
		cacheKey += "default"
	}

	if cached, ok := m.cache.Get(cacheKey); ok {
		return cached
	}

	derived := m.derive(env, tenantID)
	m.cache.Add(cacheKey, derived)
	return derived
}

// UsesIdentity reports whether either detection strategy reads the
// authenticated identity. Identity-backed dimensions resolve only after auth
// has run, so callers re-resolve once the identity is on the context.
func (m *Manager) UsesIdentity() bool {
	return identityBacked(m.envStrategy) || identityBacked(m.tenStrategy)
}

func identityBacked(s Strategy) bool {
	return s.Type == "jwt-claim" || s.Type == "apikey-metadata"
}

// ResolveTenantID returns the tenant the request maps to, or "" when none
// was detected or isolation is disabled.
func (m *Manager) ResolveTenantID(r *http.Request) string {
	if !m.enabled {
		return ""
	}
	return m.resolve(r, m.tenStrategy)
}

// derive builds the effective configuration: environment defaults first,
// then the tenant's namespaced route subset with its limits clamped on.
func (m *Manager) derive(envName, tenantID string) *config.GatewayConfig {
	m.mu.RLock()
	env := m.environments[envName]
	var ten *Config
	if tenantID != "" {
		ten = m.tenants[tenantID]
	}
	m.mu.RUnlock()

	derived := m.defaultCfg.Clone()

	if env != nil {
		if derived.Features == nil {
			derived.Features = make(map[string]bool, len(env.Features))
		}
		for name, on := range env.Features {
			derived.Features[name] = on
		}
		if env.Limits.MaxRequestsPerSecond > 0 {
			clampRoutes(derived.Routes, env.Limits.MaxRequestsPerSecond)
		}
	}

	if ten != nil {
		derived.Routes = namespaceRoutes(ten)
		if ten.Limits.MaxRequestsPerSecond > 0 {
			clampRoutes(derived.Routes, ten.Limits.MaxRequestsPerSecond)
		}
		m.logger.Debug("derived tenant config",
			zap.String("environment", envName),
			zap.String("tenant", tenantID),
			zap.Int("routes", len(derived.Routes)))
	}

	return derived
}

// namespaceRoutes copies the tenant's routes with tenant-qualified IDs and
// tenant-prefixed paths so two tenants never collide on either.
func namespaceRoutes(ten *Config) []config.RouteConfig {
	ns := ten.Namespace
	if ns == "" {
		ns = ten.ID
	}
	routes := make([]config.RouteConfig, 0, len(ten.Routes))
	for _, r := range ten.Routes {
		clone := *r.Clone()
		clone.ID = ten.ID + "-" + r.ID
		if clone.Match.PathPrefix != "" {
			clone.Match.PathPrefix = "/" + ns + clone.Match.PathPrefix
		}
		routes = append(routes, clone)
	}
	return routes
}

// clampRoutes caps each route's effective rate-limit ceiling at the given
// requests-per-second bound.
func clampRoutes(routes []config.RouteConfig, maxPerSecond int) {
	for i := range routes {
		route := &routes[i]
		if route.Policy == nil || route.Policy.RateLimit == nil || !route.Policy.RateLimit.Enabled {
			continue
		}
		rl := route.Policy.RateLimit
		perSecond := ratePerSecond(rl)
		if perSecond <= maxPerSecond {
			continue
		}
		rl.TokensPerInterval = maxPerSecond
		rl.IntervalMs = 1000
		rl.BurstMultiplier = 1
	}
}

func ratePerSecond(rl *config.RateLimitPolicy) int {
	if rl.IntervalMs <= 0 {
		return rl.TokensPerInterval
	}
	return rl.TokensPerInterval * 1000 / rl.IntervalMs
}

// resolve extracts one dimension from the request using its strategy.
func (m *Manager) resolve(r *http.Request, s Strategy) string {
	switch s.Type {
	case "header":
		return r.Header.Get(s.Name)
	case "subdomain":
		host := r.Host
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		parts := strings.Split(host, ".")
		if len(parts) > 2 {
			return parts[0]
		}
		return ""
	case "path-segment":
		idx := 0
		fmt.Sscanf(s.Name, "%d", &idx)
		segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if idx < len(segments) {
			return segments[idx]
		}
		return ""
	case "jwt-claim":
		if id := variables.IdentityFromRequest(r); id != nil {
			if v, ok := id.Claim(s.Name); ok {
				if str, ok := v.(string); ok {
					return str
				}
			}
		}
		return ""
	case "apikey-metadata":
		if id := variables.IdentityFromRequest(r); id != nil && id.AuthType == "api_key" {
			if v, ok := id.Claim(s.Name); ok {
				if str, ok := v.(string); ok {
					return str
				}
			}
		}
		return ""
	default:
		return ""
	}
}
