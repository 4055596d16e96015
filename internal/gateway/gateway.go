// Package gateway runs the per-request policy pipeline: route matching,
// authentication, rate limiting, and context injection. The forwarding
// layer consumes its decisions; this package never proxies traffic itself.
package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/auth"
	"github.com/suuupra/gateway/internal/claimsprop"
	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/ratelimit"
	"github.com/suuupra/gateway/internal/tenant"
	"github.com/suuupra/gateway/internal/variables"
)

// Decision is the outcome of running the policy pipeline for one request.
type Decision struct {
	Allowed bool
	Status  int
	Error   *errors.GatewayError

	RouteID  string
	Identity *variables.Identity

	// Headers to attach before forwarding: context injection output plus
	// rate-limit response headers.
	Headers map[string]string
}

// Gateway evaluates each request against the active configuration.
type Gateway struct {
	tenants  *tenant.Manager
	enforcer *auth.Enforcer
	limiter  *ratelimit.Limiter
	logger   *zap.Logger

	// matchers holds one matcher per derived configuration. Derived
	// configurations are cached and immutable, so the pointer is a stable
	// identity.
	matchers     sync.Map // *config.GatewayConfig -> *Matcher
	matcherCount atomic.Int64

	checked atomic.Int64
	denied  atomic.Int64
}

// New creates a gateway over an already-validated configuration.
func New(tenants *tenant.Manager, enforcer *auth.Enforcer, limiter *ratelimit.Limiter, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		tenants:  tenants,
		enforcer: enforcer,
		limiter:  limiter,
		logger:   logger,
	}
}

// Check runs the pipeline in fixed order: config resolution, route match,
// auth, rate limit, context injection. The first failing stage decides the
// response; later stages never run after a denial.
func (g *Gateway) Check(r *http.Request) Decision {
	g.checked.Add(1)

	cfg := g.tenants.GetGatewayConfig(r)
	if tenantID := g.tenants.ResolveTenantID(r); tenantID != "" {
		r = r.WithContext(variables.WithTenantID(r.Context(), tenantID))
	}

	route := g.matcherFor(cfg).Match(r)
	if route == nil {
		return g.deny(errors.ErrNotFound.WithDetails("no route matches the request"))
	}

	decision := Decision{
		Allowed: true,
		Status:  http.StatusOK,
		RouteID: route.ID,
		Headers: make(map[string]string),
	}

	if route.Policy != nil && route.Policy.Auth != nil {
		id, err := g.enforcer.Enforce(r, route.Policy.Auth)
		if err != nil {
			return g.denyAuth(err)
		}
		decision.Identity = id
		if id != nil {
			r = r.WithContext(variables.WithIdentity(r.Context(), id))
			cfg, route, r = g.reresolve(cfg, route, r)
			decision.RouteID = route.ID
		}
	}

	policy := route.Policy

	if policy != nil && policy.RateLimit != nil && policy.RateLimit.Enabled {
		in := ratelimit.KeyInput{
			RouteID:  route.ID,
			ClientIP: variables.ExtractClientIP(r),
			TenantID: variables.TenantIDFrom(r.Context()),
		}
		if decision.Identity != nil {
			in.UserID = decision.Identity.Subject
			if in.TenantID == "" {
				in.TenantID = decision.Identity.TenantID
			}
		}
		key := ratelimit.BucketKey(policy.RateLimit, in)
		rl, err := g.limiter.Allow(r.Context(), key, policy.RateLimit)
		for name, value := range rl.Headers() {
			decision.Headers[name] = value
		}
		if err != nil {
			return g.denyWith(decision.Headers, errors.ErrDependencyUnavailable.WithDetails("rate limit store unavailable"))
		}
		if !rl.Allowed {
			return g.denyWith(decision.Headers, errors.ErrTooManyRequests)
		}
	}

	if policy != nil && len(policy.ContextMapping) > 0 {
		injector := claimsprop.New(policy.ContextMapping)
		headers, err := injector.Apply(decision.Identity)
		if err != nil {
			return g.denyAuth(err)
		}
		for name, value := range headers {
			decision.Headers[name] = value
		}
	}

	return decision
}

// reresolve repeats tenant detection once the identity is on the context.
// Claim- and key-metadata-backed strategies resolve nothing before auth, so
// the pre-auth pass saw the default dimensions for such requests. When the
// effective configuration changes, the tenant's route takes over for the
// remaining stages; the original route stays when the tenant's namespaced
// paths do not cover the request.
func (g *Gateway) reresolve(cfg *config.GatewayConfig, route *config.RouteConfig, r *http.Request) (*config.GatewayConfig, *config.RouteConfig, *http.Request) {
	if !g.tenants.UsesIdentity() {
		return cfg, route, r
	}
	if tenantID := g.tenants.ResolveTenantID(r); tenantID != "" {
		r = r.WithContext(variables.WithTenantID(r.Context(), tenantID))
	}
	recfg := g.tenants.GetGatewayConfig(r)
	if recfg == cfg {
		return cfg, route, r
	}
	if tenantRoute := g.matcherFor(recfg).Match(r); tenantRoute != nil {
		return recfg, tenantRoute, r
	}
	return recfg, route, r
}

func (g *Gateway) matcherFor(cfg *config.GatewayConfig) *Matcher {
	if m, ok := g.matchers.Load(cfg); ok {
		return m.(*Matcher)
	}
	// Expired tenant cache entries leave stale keys behind; reset the map
	// once it clearly outgrows the live config set.
	if g.matcherCount.Add(1) > 1024 {
		g.matchers.Range(func(k, _ interface{}) bool {
			g.matchers.Delete(k)
			return true
		})
		g.matcherCount.Store(0)
	}
	m := NewMatcher(cfg.Routes)
	actual, _ := g.matchers.LoadOrStore(cfg, m)
	return actual.(*Matcher)
}

func (g *Gateway) deny(gerr *errors.GatewayError) Decision {
	return g.denyWith(nil, gerr)
}

func (g *Gateway) denyWith(headers map[string]string, gerr *errors.GatewayError) Decision {
	g.denied.Add(1)
	return Decision{
		Allowed: false,
		Status:  gerr.Code,
		Error:   gerr,
		Headers: headers,
	}
}

func (g *Gateway) denyAuth(err error) Decision {
	gerr, ok := errors.IsGatewayError(err)
	if !ok {
		gerr = errors.ErrUnauthorized
	}
	headers := map[string]string{}
	if gerr.Code == http.StatusUnauthorized {
		headers["WWW-Authenticate"] = `Bearer realm="api"`
	}
	return g.denyWith(headers, gerr)
}

// Stats returns pipeline counters.
func (g *Gateway) Stats() map[string]int64 {
	return map[string]int64{
		"checked": g.checked.Load(),
		"denied":  g.denied.Load(),
	}
}
