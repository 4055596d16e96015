package config

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ValidationError is a single structural or semantic violation.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationResult is the outcome of validating a configuration document.
// Warnings never affect Valid.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(path, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var headerNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateDocument validates a raw JSON configuration document.
// The structural pass runs first; the semantic pass is skipped when the
// structural pass fails, since cross-references cannot be trusted on a
// malformed document. All violations of the pass that runs are collected.
func ValidateDocument(data []byte) (*GatewayConfig, ValidationResult) {
	var result ValidationResult

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		result.addError("", "document is not valid JSON: %v", err)
		return nil, result
	}

	if err := compiledSchema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if goerrors.As(err, &ve) {
			collectSchemaErrors(ve, &result)
		} else {
			result.addError("", "schema validation: %v", err)
		}
		return nil, result
	}

	var cfg GatewayConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		result.addError("", "decode configuration: %v", err)
		return nil, result
	}

	semantic := ValidateConfig(&cfg)
	result.Errors = append(result.Errors, semantic.Errors...)
	result.Warnings = append(result.Warnings, semantic.Warnings...)
	result.Valid = len(result.Errors) == 0
	if !result.Valid {
		return nil, result
	}
	return &cfg, result
}

var schemaErrorPrinter = message.NewPrinter(language.English)

func collectSchemaErrors(ve *jsonschema.ValidationError, result *ValidationResult) {
	if len(ve.Causes) == 0 {
		result.addError("/"+strings.Join(ve.InstanceLocation, "/"),
			"%s", ve.ErrorKind.LocalizedString(schemaErrorPrinter))
		return
	}
	for _, cause := range ve.Causes {
		collectSchemaErrors(cause, result)
	}
}

// ValidateConfig runs the semantic pass over an already-decoded
// configuration, collecting every violation rather than stopping at the
// first.
func ValidateConfig(cfg *GatewayConfig) ValidationResult {
	var result ValidationResult

	validateVersion(cfg, &result)
	validateUniqueness(cfg, &result)
	validateServiceRefs(cfg, &result)
	validateRouteConflicts(cfg, &result)
	for i := range cfg.Routes {
		validatePolicy(&cfg.Routes[i], &result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateVersion(cfg *GatewayConfig, result *ValidationResult) {
	supported := false
	for _, v := range SupportedVersions {
		if cfg.Version == v {
			supported = true
			break
		}
	}
	if !supported {
		result.addError("/version", "unsupported configuration version %q (supported: %s)",
			cfg.Version, strings.Join(SupportedVersions, ", "))
		return
	}
	if DeprecatedVersions[cfg.Version] {
		result.addWarning("configuration version %s is deprecated; migrate to %s", cfg.Version, CurrentVersion)
	}
}

func validateUniqueness(cfg *GatewayConfig, result *ValidationResult) {
	routeIDs := make(map[string]bool, len(cfg.Routes))
	for _, route := range cfg.Routes {
		if routeIDs[route.ID] {
			result.addError("/routes", "duplicate route ID %q", route.ID)
		}
		routeIDs[route.ID] = true
	}

	serviceNames := make(map[string]bool, len(cfg.Services))
	for _, svc := range cfg.Services {
		if serviceNames[svc.Name] {
			result.addError("/services", "duplicate service name %q", svc.Name)
		}
		serviceNames[svc.Name] = true
	}
}

func validateServiceRefs(cfg *GatewayConfig, result *ValidationResult) {
	for _, route := range cfg.Routes {
		if cfg.ServiceByName(route.Target.ServiceName) == nil {
			result.addError("/routes", "route %s: target service %q is not declared",
				route.ID, route.Target.ServiceName)
		}
	}
}

// validateRouteConflicts detects routes that admit the same (method, path)
// without disambiguating predicates. Only prefix-vs-prefix overlap is
// resolved statically; regex matchers are not compared against each other.
func validateRouteConflicts(cfg *GatewayConfig, result *ValidationResult) {
	byMethod := make(map[string][]*RouteConfig)
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		methods := route.Match.Methods
		if len(methods) == 0 {
			methods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
		}
		for _, m := range methods {
			byMethod[m] = append(byMethod[m], route)
		}
	}

	reported := make(map[string]bool)
	for method, routes := range byMethod {
		for i := 0; i < len(routes); i++ {
			for j := i + 1; j < len(routes); j++ {
				a, b := routes[i], routes[j]
				if !prefixesOverlap(a.Match, b.Match) || predicatesDisambiguate(a.Match, b.Match) {
					continue
				}
				key := a.ID + "\x00" + b.ID
				if reported[key] {
					continue
				}
				reported[key] = true
				result.addError("/routes", "routes %s and %s conflict on %s: one path prefix contains the other",
					a.ID, b.ID, method)
			}
		}
	}
}

func prefixesOverlap(a, b MatchConfig) bool {
	if a.PathPrefix == "" || b.PathPrefix == "" {
		return false
	}
	return strings.HasPrefix(a.PathPrefix, b.PathPrefix) || strings.HasPrefix(b.PathPrefix, a.PathPrefix)
}

// predicatesDisambiguate reports whether two matchers differ in their header
// or query predicates, which is enough for both routes to coexist.
func predicatesDisambiguate(a, b MatchConfig) bool {
	return !stringMapsEqual(a.Headers, b.Headers) || !stringMapsEqual(a.Query, b.Query)
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func validatePolicy(route *RouteConfig, result *ValidationResult) {
	if route.Policy == nil {
		return
	}
	path := "/routes/" + route.ID + "/policy"

	// === Auth ===
	if auth := route.Policy.Auth; auth != nil && auth.Enabled {
		jwtOn := auth.JWT != nil && auth.JWT.Enabled
		keyOn := auth.APIKey != nil && auth.APIKey.Enabled
		oauthOn := auth.OAuth2 != nil && auth.OAuth2.Enabled
		if !jwtOn && !keyOn && !oauthOn {
			result.addError(path+"/auth", "route %s: auth is enabled but no auth method (jwt, apiKey, oauth2) is enabled", route.ID)
		}
		if jwtOn && auth.JWT.JWKSURI == "" && auth.JWT.DiscoveryURL == "" && auth.JWT.Secret == "" && auth.JWT.PublicKey == "" {
			result.addError(path+"/auth/jwt", "route %s: jwt requires one of jwksUri, discoveryUrl, secret, or publicKey", route.ID)
		}
		if oauthOn && auth.OAuth2.IntrospectionURL == "" {
			result.addError(path+"/auth/oauth2", "route %s: oauth2 requires introspectionUrl", route.ID)
		}
	}

	// === Rate limiting ===
	if rl := route.Policy.RateLimit; rl != nil && rl.Enabled {
		if rl.TokensPerInterval < 1 {
			result.addError(path+"/rateLimit", "route %s: tokensPerInterval must be >= 1", route.ID)
		}
		if rl.IntervalMs < 1 || rl.IntervalMs > 86400000 {
			result.addError(path+"/rateLimit", "route %s: intervalMs must be between 1ms and 24h", route.ID)
		}
		// The burst headroom beyond the base allowance may not exceed the
		// base allowance itself.
		if rl.BurstMultiplier > 2 {
			result.addError(path+"/rateLimit", "route %s: burst allowance (burstMultiplier %.2f) must not exceed the base request allowance (max 2)",
				route.ID, rl.BurstMultiplier)
		}
	}

	// === Circuit breaker ===
	if cb := route.Policy.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.ResetTimeoutMs < cb.TimeoutMs {
			result.addError(path+"/circuitBreaker", "route %s: resetTimeoutMs (%d) must be >= timeoutMs (%d)",
				route.ID, cb.ResetTimeoutMs, cb.TimeoutMs)
		}
		if route.Policy.TimeoutMs > 0 && route.Policy.TimeoutMs > cb.TimeoutMs {
			result.addError(path+"/timeoutMs", "route %s: route timeout (%d) must not exceed circuit breaker timeout (%d)",
				route.ID, route.Policy.TimeoutMs, cb.TimeoutMs)
		}
	}

	// === Context mapping ===
	for _, ve := range ValidateMappingRules(route.Policy.ContextMapping) {
		result.Errors = append(result.Errors, ValidationError{
			Path:    path + "/contextMapping",
			Message: fmt.Sprintf("route %s: %s", route.ID, ve.Message),
		})
	}
}

// ValidateMappingRules checks a context-mapping rule set. It runs at
// configuration-load time, never per request.
func ValidateMappingRules(rules []ContextMappingRule) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule.HeaderName == "" || !headerNamePattern.MatchString(rule.HeaderName) {
			errs = append(errs, ValidationError{Message: fmt.Sprintf("rule %d: malformed header name %q", i, rule.HeaderName)})
		}
		if seen[rule.HeaderName] {
			errs = append(errs, ValidationError{Message: fmt.Sprintf("rule %d: duplicate header name %q", i, rule.HeaderName)})
		}
		seen[rule.HeaderName] = true

		if rule.ClaimPath == "" || strings.HasPrefix(rule.ClaimPath, ".") || strings.Contains(rule.ClaimPath, "..") {
			errs = append(errs, ValidationError{Message: fmt.Sprintf("rule %d: malformed claim path %q", i, rule.ClaimPath)})
		}

		switch rule.Transform {
		case "", "string", "json", "csv":
		default:
			errs = append(errs, ValidationError{Message: fmt.Sprintf("rule %d: unknown transform %q", i, rule.Transform)})
		}
	}
	return errs
}
