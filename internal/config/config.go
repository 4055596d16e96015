package config

import "time"

// Supported configuration schema versions, oldest first.
const (
	Version100 = "1.0.0"
	Version110 = "1.1.0"
	Version120 = "1.2.0"

	// CurrentVersion is the version newly written configurations carry.
	CurrentVersion = Version120
)

// SupportedVersions lists every version the validator accepts.
var SupportedVersions = []string{Version100, Version110, Version120}

// DeprecatedVersions validate but emit a warning.
var DeprecatedVersions = map[string]bool{Version100: true}

// GatewayConfig is the complete declarative gateway configuration.
type GatewayConfig struct {
	Version  string          `json:"version" yaml:"version"`
	Server   ServerConfig    `json:"server" yaml:"server"`
	Routes   []RouteConfig   `json:"routes" yaml:"routes"`
	Services []ServiceConfig `json:"services" yaml:"services"`
	Features map[string]bool `json:"features,omitempty" yaml:"features,omitempty"`
	Admin    AdminConfig     `json:"admin,omitempty" yaml:"admin,omitempty"`
}

// ServerConfig holds listener-facing settings consumed by the forwarding layer.
type ServerConfig struct {
	Host           string        `json:"host,omitempty" yaml:"host,omitempty"`
	Port           int           `json:"port,omitempty" yaml:"port,omitempty"`
	ReadTimeoutMs  int           `json:"readTimeoutMs,omitempty" yaml:"readTimeoutMs,omitempty"`
	WriteTimeoutMs int           `json:"writeTimeoutMs,omitempty" yaml:"writeTimeoutMs,omitempty"`
	IdleTimeoutMs  int           `json:"idleTimeoutMs,omitempty" yaml:"idleTimeoutMs,omitempty"`
	Logging        LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// AdminConfig configures the management-plane HTTP API.
type AdminConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// RouteConfig binds a request matcher to an upstream service and a policy bundle.
type RouteConfig struct {
	ID       string         `json:"id" yaml:"id"`
	Match    MatchConfig    `json:"matcher" yaml:"matcher"`
	Target   TargetConfig   `json:"target" yaml:"target"`
	Policy   *PolicyConfig  `json:"policy,omitempty" yaml:"policy,omitempty"`
	Metadata *RouteMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// MatchConfig describes which requests a route admits.
// PathPrefix and PathRegex are mutually exclusive; an empty Methods list
// admits every method.
type MatchConfig struct {
	PathPrefix string            `json:"pathPrefix,omitempty" yaml:"pathPrefix,omitempty"`
	PathRegex  string            `json:"pathRegex,omitempty" yaml:"pathRegex,omitempty"`
	Methods    []string          `json:"methods,omitempty" yaml:"methods,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query      map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
}

// TargetConfig names the upstream service a route forwards to.
type TargetConfig struct {
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	PathRewrite string `json:"pathRewrite,omitempty" yaml:"pathRewrite,omitempty"`
}

// RouteMetadata carries free-form operator annotations.
type RouteMetadata struct {
	Name  string   `json:"name,omitempty" yaml:"name,omitempty"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Owner string   `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// PolicyConfig is the bundle of per-route enforcement policies.
type PolicyConfig struct {
	Auth           *AuthPolicy           `json:"auth,omitempty" yaml:"auth,omitempty"`
	RateLimit      *RateLimitPolicy      `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	CircuitBreaker *CircuitBreakerPolicy `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	TimeoutMs      int                   `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Retry          *RetryPolicy          `json:"retry,omitempty" yaml:"retry,omitempty"`
	CORS           *CORSPolicy           `json:"cors,omitempty" yaml:"cors,omitempty"`
	ContextMapping []ContextMappingRule  `json:"contextMapping,omitempty" yaml:"contextMapping,omitempty"`
}

// AuthPolicy configures authentication and authorization for a route.
// When Enabled is true, at least one of JWT, APIKey, or OAuth2 must also be
// enabled.
type AuthPolicy struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	JWT                *JWTPolicy    `json:"jwt,omitempty" yaml:"jwt,omitempty"`
	APIKey             *APIKeyPolicy `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	OAuth2             *OAuth2Policy `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	RequiredRoles      []string      `json:"requiredRoles,omitempty" yaml:"requiredRoles,omitempty"`
	RequiredScopes     []string      `json:"requiredScopes,omitempty" yaml:"requiredScopes,omitempty"`
	IdentityValidation bool          `json:"identityValidation,omitempty" yaml:"identityValidation,omitempty"`
}

// JWTPolicy configures bearer-token verification.
// Either a remote key set (JWKSURI or DiscoveryURL) or a local key
// (Secret for HMAC, PublicKey PEM for RSA) must be provided.
type JWTPolicy struct {
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	Issuer                string   `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Audience              []string `json:"audience,omitempty" yaml:"audience,omitempty"`
	JWKSURI               string   `json:"jwksUri,omitempty" yaml:"jwksUri,omitempty"`
	DiscoveryURL          string   `json:"discoveryUrl,omitempty" yaml:"discoveryUrl,omitempty"`
	Algorithms            []string `json:"algorithms,omitempty" yaml:"algorithms,omitempty"`
	Secret                string   `json:"secret,omitempty" yaml:"secret,omitempty"`
	PublicKey             string   `json:"publicKey,omitempty" yaml:"publicKey,omitempty"`
	KeySetTTLSeconds      int      `json:"keySetTtlSeconds,omitempty" yaml:"keySetTtlSeconds,omitempty"`
	ClockToleranceSeconds int      `json:"clockToleranceSeconds,omitempty" yaml:"clockToleranceSeconds,omitempty"`
}

// KeySetTTL returns the key-set cache TTL with its default applied.
func (p *JWTPolicy) KeySetTTL() time.Duration {
	if p.KeySetTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(p.KeySetTTLSeconds) * time.Second
}

// ClockTolerance returns the accepted clock skew for token validation.
func (p *JWTPolicy) ClockTolerance() time.Duration {
	if p.ClockToleranceSeconds <= 0 {
		return 0
	}
	return time.Duration(p.ClockToleranceSeconds) * time.Second
}

// APIKeyPolicy configures API key extraction and required scopes.
type APIKeyPolicy struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	In      string   `json:"in,omitempty" yaml:"in,omitempty"`     // "header" or "query"
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"` // header or query parameter name
	Scopes  []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// OAuth2Policy configures token introspection against an authorization server.
type OAuth2Policy struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	IntrospectionURL string `json:"introspectionUrl,omitempty" yaml:"introspectionUrl,omitempty"`
	ClientID         string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
}

// RateLimitPolicy configures token-bucket admission control.
type RateLimitPolicy struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	TokensPerInterval int      `json:"tokensPerInterval,omitempty" yaml:"tokensPerInterval,omitempty"`
	IntervalMs        int      `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty"`
	BurstMultiplier   float64  `json:"burstMultiplier,omitempty" yaml:"burstMultiplier,omitempty"`
	Keys              []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	FailOpen          *bool    `json:"failOpen,omitempty" yaml:"failOpen,omitempty"`
}

// MaxTokens returns the bucket capacity: tokensPerInterval * burstMultiplier.
func (p *RateLimitPolicy) MaxTokens() int {
	m := p.BurstMultiplier
	if m < 1 {
		m = 1
	}
	return int(float64(p.TokensPerInterval) * m)
}

// Interval returns the refill interval.
func (p *RateLimitPolicy) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// FailsOpen reports whether requests are admitted when the shared store is
// unreachable. The default is fail-open; callers with stricter risk
// tolerance set failOpen=false to reject instead.
func (p *RateLimitPolicy) FailsOpen() bool {
	if p.FailOpen == nil {
		return true
	}
	return *p.FailOpen
}

// RateLimitKeys are the dimensions a bucket key may be built from.
var RateLimitKeys = []string{"ip", "user", "tenant", "route"}

// CircuitBreakerPolicy is the breaker schema consumed by the forwarding
// layer's execution wrapper. Only its consistency rules are enforced here.
type CircuitBreakerPolicy struct {
	Enabled                  bool `json:"enabled" yaml:"enabled"`
	TimeoutMs                int  `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	ErrorThresholdPercentage int  `json:"errorThresholdPercentage,omitempty" yaml:"errorThresholdPercentage,omitempty"`
	ResetTimeoutMs           int  `json:"resetTimeoutMs,omitempty" yaml:"resetTimeoutMs,omitempty"`
}

// RetryPolicy configures upstream retry behavior for the forwarding layer.
type RetryPolicy struct {
	MaxAttempts int      `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	BackoffMs   int      `json:"backoffMs,omitempty" yaml:"backoffMs,omitempty"`
	RetryOn     []string `json:"retryOn,omitempty" yaml:"retryOn,omitempty"`
}

// CORSPolicy configures cross-origin settings applied by the forwarding layer.
type CORSPolicy struct {
	AllowedOrigins   []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`
	AllowedMethods   []string `json:"allowedMethods,omitempty" yaml:"allowedMethods,omitempty"`
	AllowedHeaders   []string `json:"allowedHeaders,omitempty" yaml:"allowedHeaders,omitempty"`
	AllowCredentials bool     `json:"allowCredentials,omitempty" yaml:"allowCredentials,omitempty"`
	MaxAgeSeconds    int      `json:"maxAgeSeconds,omitempty" yaml:"maxAgeSeconds,omitempty"`
}

// ContextMappingRule maps a verified-identity claim to an outbound header.
type ContextMappingRule struct {
	ClaimPath  string `json:"claimPath" yaml:"claimPath"`
	HeaderName string `json:"headerName" yaml:"headerName"`
	Required   bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Transform  string `json:"transform,omitempty" yaml:"transform,omitempty"` // "string", "json", "csv"
}

// ServiceConfig declares an upstream service routes may target.
type ServiceConfig struct {
	Name          string              `json:"name" yaml:"name"`
	Discovery     DiscoveryConfig     `json:"discovery" yaml:"discovery"`
	LoadBalancing LoadBalancingConfig `json:"loadBalancing,omitempty" yaml:"loadBalancing,omitempty"`
}

// DiscoveryConfig describes how the forwarding layer locates service instances.
type DiscoveryConfig struct {
	Type      string   `json:"type" yaml:"type"` // "static", "dns", "kubernetes"
	Endpoints []string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Namespace string   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// LoadBalancingConfig selects the balancing algorithm for a service.
type LoadBalancingConfig struct {
	Algorithm string         `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Weights   map[string]int `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// ServiceByName returns the declared service with the given name, or nil.
func (c *GatewayConfig) ServiceByName(name string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}

// RouteByID returns the route with the given ID, or nil.
func (c *GatewayConfig) RouteByID(id string) *RouteConfig {
	for i := range c.Routes {
		if c.Routes[i].ID == id {
			return &c.Routes[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration. Enforcers never mutate an
// installed configuration; derivation (tenant rewrites) works on a clone.
func (c *GatewayConfig) Clone() *GatewayConfig {
	out := *c
	out.Routes = make([]RouteConfig, len(c.Routes))
	for i, r := range c.Routes {
		out.Routes[i] = *cloneRoute(&r)
	}
	out.Services = make([]ServiceConfig, len(c.Services))
	copy(out.Services, c.Services)
	if c.Features != nil {
		out.Features = make(map[string]bool, len(c.Features))
		for k, v := range c.Features {
			out.Features[k] = v
		}
	}
	return &out
}

// Clone returns a deep copy of the route and its policy.
func (r *RouteConfig) Clone() *RouteConfig {
	return cloneRoute(r)
}

func cloneRoute(r *RouteConfig) *RouteConfig {
	out := *r
	if r.Policy != nil {
		p := *r.Policy
		if r.Policy.Auth != nil {
			a := *r.Policy.Auth
			p.Auth = &a
		}
		if r.Policy.RateLimit != nil {
			rl := *r.Policy.RateLimit
			p.RateLimit = &rl
		}
		if r.Policy.CircuitBreaker != nil {
			cb := *r.Policy.CircuitBreaker
			p.CircuitBreaker = &cb
		}
		if r.Policy.Retry != nil {
			rt := *r.Policy.Retry
			p.Retry = &rt
		}
		if r.Policy.CORS != nil {
			co := *r.Policy.CORS
			p.CORS = &co
		}
		if len(r.Policy.ContextMapping) > 0 {
			p.ContextMapping = make([]ContextMappingRule, len(r.Policy.ContextMapping))
			copy(p.ContextMapping, r.Policy.ContextMapping)
		}
		out.Policy = &p
	}
	if r.Metadata != nil {
		m := *r.Metadata
		out.Metadata = &m
	}
	return &out
}
