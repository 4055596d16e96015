package tenant

import (
	"net/http/httptest"
	"testing"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/variables"
)

func defaultConfig() *config.GatewayConfig {
	return &config.GatewayConfig{
		Version: config.CurrentVersion,
		Routes: []config.RouteConfig{
			{
				ID:     "orders",
				Match:  config.MatchConfig{PathPrefix: "/orders"},
				Target: config.TargetConfig{ServiceName: "orders-svc"},
				Policy: &config.PolicyConfig{
					RateLimit: &config.RateLimitPolicy{
						Enabled: true, TokensPerInterval: 100, IntervalMs: 1000, BurstMultiplier: 1,
					},
				},
			},
		},
		Services: []config.ServiceConfig{{Name: "orders-svc"}},
	}
}

func newTestManager(enabled bool) *Manager {
	return NewManager(Options{
		Enabled:       enabled,
		DefaultConfig: defaultConfig(),
	})
}

func TestManager_DisabledReturnsDefault(t *testing.T) {
	m := newTestManager(false)

	r := httptest.NewRequest("GET", "/orders", nil)
	r.Header.Set("x-tenant-id", "acme")

	cfg := m.GetGatewayConfig(r)
	if len(cfg.Routes) != 1 || cfg.Routes[0].ID != "orders" {
		t.Errorf("disabled manager returned a derived config: %+v", cfg.Routes)
	}
}

func TestManager_TenantLimitClampsRouteLimit(t *testing.T) {
	m := newTestManager(true)
	m.AddEnvironment(&Environment{Name: "production"})
	m.AddTenant(&Config{
		ID:          "acme",
		Environment: "production",
		Routes:      defaultConfig().Routes,
		Limits:      Limits{MaxRequestsPerSecond: 10},
	})

	r := httptest.NewRequest("GET", "/acme/orders", nil)
	r.Header.Set("x-environment", "production")
	r.Header.Set("x-tenant-id", "acme")

	cfg := m.GetGatewayConfig(r)
	rl := cfg.Routes[0].Policy.RateLimit
	if rl.MaxTokens() != 10 {
		t.Errorf("effective ceiling = %d, want 10 (clamped from 100)", rl.MaxTokens())
	}
}

func TestManager_TenantRoutesAreNamespaced(t *testing.T) {
	m := newTestManager(true)
	m.AddEnvironment(&Environment{Name: "production"})
	m.AddTenant(&Config{
		ID:          "acme",
		Environment: "production",
		Namespace:   "acme",
		Routes:      defaultConfig().Routes,
	})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("x-environment", "production")
	r.Header.Set("x-tenant-id", "acme")

	cfg := m.GetGatewayConfig(r)
	if got := cfg.Routes[0].ID; got != "acme-orders" {
		t.Errorf("route ID = %q, want %q", got, "acme-orders")
	}
	if got := cfg.Routes[0].Match.PathPrefix; got != "/acme/orders" {
		t.Errorf("path prefix = %q, want %q", got, "/acme/orders")
	}
}

func TestManager_DerivationDoesNotMutateDefault(t *testing.T) {
	m := newTestManager(true)
	m.AddEnvironment(&Environment{Name: "production", Limits: Limits{MaxRequestsPerSecond: 10}})

	r := httptest.NewRequest("GET", "/orders", nil)
	r.Header.Set("x-environment", "production")
	m.GetGatewayConfig(r)

	if got := m.defaultCfg.Routes[0].Policy.RateLimit.TokensPerInterval; got != 100 {
		t.Errorf("default config mutated: TokensPerInterval = %d, want 100", got)
	}
}

func TestManager_CacheInvalidatedOnTopologyChange(t *testing.T) {
	m := newTestManager(true)
	m.AddEnvironment(&Environment{Name: "production"})

	r := httptest.NewRequest("GET", "/orders", nil)
	r.Header.Set("x-environment", "production")
	r.Header.Set("x-tenant-id", "acme")

	before := m.GetGatewayConfig(r)
	if len(before.Routes) != 1 {
		t.Fatalf("routes = %d, want 1 before tenant registration", len(before.Routes))
	}

	m.AddTenant(&Config{
		ID:          "acme",
		Environment: "production",
		Routes:      defaultConfig().Routes,
	})

	after := m.GetGatewayConfig(r)
	if after.Routes[0].ID != "acme-orders" {
		t.Error("stale cached config served after tenant topology change")
	}
}

func TestManager_CacheReuse(t *testing.T) {
	m := newTestManager(true)
	m.AddEnvironment(&Environment{Name: "production"})

	r := httptest.NewRequest("GET", "/orders", nil)
	r.Header.Set("x-environment", "production")

	first := m.GetGatewayConfig(r)
	second := m.GetGatewayConfig(r)
	if first != second {
		t.Error("identical (environment, tenant) pair rebuilt instead of served from cache")
	}
}

func TestManager_EnvironmentFeaturesApplied(t *testing.T) {
	m := newTestManager(true)
	m.AddEnvironment(&Environment{
		Name:     "staging",
		Features: map[string]bool{"experimental": true},
	})

	r := httptest.NewRequest("GET", "/orders", nil)
	r.Header.Set("x-environment", "staging")

	cfg := m.GetGatewayConfig(r)
	if !cfg.Features["experimental"] {
		t.Error("environment feature flag not applied to derived config")
	}
}

func TestManager_SubdomainStrategy(t *testing.T) {
	m := NewManager(Options{
		Enabled:        true,
		DefaultConfig:  defaultConfig(),
		TenantStrategy: Strategy{Type: "subdomain"},
	})
	m.AddTenant(&Config{ID: "acme", Environment: "default", Routes: defaultConfig().Routes})

	r := httptest.NewRequest("GET", "/orders", nil)
	r.Host = "acme.api.suuupra.io"

	cfg := m.GetGatewayConfig(r)
	if cfg.Routes[0].ID != "acme-orders" {
		t.Errorf("route ID = %q, want tenant resolved from subdomain", cfg.Routes[0].ID)
	}
}

func TestManager_PathSegmentStrategy(t *testing.T) {
	m := NewManager(Options{
		Enabled:        true,
		DefaultConfig:  defaultConfig(),
		TenantStrategy: Strategy{Type: "path-segment", Name: "1"},
	})
	m.AddTenant(&Config{ID: "acme", Environment: "default", Routes: defaultConfig().Routes})

	r := httptest.NewRequest("GET", "/t/acme/orders", nil)

	cfg := m.GetGatewayConfig(r)
	if cfg.Routes[0].ID != "acme-orders" {
		t.Errorf("route ID = %q, want tenant resolved from path segment", cfg.Routes[0].ID)
	}
}

func TestManager_JWTClaimStrategy(t *testing.T) {
	m := NewManager(Options{
		Enabled:        true,
		DefaultConfig:  defaultConfig(),
		TenantStrategy: Strategy{Type: "jwt-claim", Name: "tenant_id"},
	})
	if !m.UsesIdentity() {
		t.Fatal("UsesIdentity() = false for a jwt-claim strategy")
	}
	m.AddTenant(&Config{ID: "acme", Environment: "default", Routes: defaultConfig().Routes})

	r := httptest.NewRequest("GET", "/orders", nil)
	if got := m.ResolveTenantID(r); got != "" {
		t.Errorf("ResolveTenantID() = %q before authentication, want empty", got)
	}

	id := &variables.Identity{Subject: "u1", Claims: map[string]interface{}{"tenant_id": "acme"}}
	r = r.WithContext(variables.WithIdentity(r.Context(), id))
	if got := m.ResolveTenantID(r); got != "acme" {
		t.Errorf("ResolveTenantID() = %q, want %q", got, "acme")
	}

	cfg := m.GetGatewayConfig(r)
	if cfg.Routes[0].ID != "acme-orders" {
		t.Errorf("route ID = %q, want tenant resolved from the verified claim", cfg.Routes[0].ID)
	}
}

func TestManager_APIKeyMetadataStrategy(t *testing.T) {
	m := NewManager(Options{
		Enabled:        true,
		DefaultConfig:  defaultConfig(),
		TenantStrategy: Strategy{Type: "apikey-metadata", Name: "tenant"},
	})
	m.AddTenant(&Config{ID: "acme", Environment: "default", Routes: defaultConfig().Routes})

	id := &variables.Identity{
		Subject:  "key-1",
		AuthType: "api_key",
		Claims:   map[string]interface{}{"tenant": "acme"},
	}
	r := httptest.NewRequest("GET", "/orders", nil)
	r = r.WithContext(variables.WithIdentity(r.Context(), id))

	if got := m.ResolveTenantID(r); got != "acme" {
		t.Errorf("ResolveTenantID() = %q, want %q", got, "acme")
	}

	// The same metadata on a JWT identity must not resolve.
	jwtID := &variables.Identity{Subject: "u1", AuthType: "jwt", Claims: id.Claims}
	r2 := httptest.NewRequest("GET", "/orders", nil)
	r2 = r2.WithContext(variables.WithIdentity(r2.Context(), jwtID))
	if got := m.ResolveTenantID(r2); got != "" {
		t.Errorf("ResolveTenantID() = %q for a JWT identity under apikey-metadata, want empty", got)
	}
}
