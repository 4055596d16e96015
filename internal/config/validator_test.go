package config

import (
	"strings"
	"testing"
)

const minimalDoc = `{
  "version": "1.2.0",
  "routes": [
    {
      "id": "orders",
      "matcher": {"pathPrefix": "/orders", "methods": ["GET"]},
      "target": {"serviceName": "orders-svc"}
    }
  ],
  "services": [
    {"name": "orders-svc", "discovery": {"type": "static", "endpoints": ["http://localhost:9000"]}}
  ]
}`

func hasErrorContaining(result ValidationResult, substr string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidateDocument_Minimal(t *testing.T) {
	cfg, result := ValidateDocument([]byte(minimalDoc))
	if !result.Valid {
		t.Fatalf("Valid = false, errors: %v", result.Errors)
	}
	if cfg.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", cfg.Version, "1.2.0")
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].ID != "orders" {
		t.Errorf("Routes = %+v", cfg.Routes)
	}
}

func TestValidateDocument_RejectsUnknownProperty(t *testing.T) {
	doc := strings.Replace(minimalDoc, `"version"`, `"verison"`, 1)
	cfg, result := ValidateDocument([]byte(doc))
	if result.Valid {
		t.Fatal("Valid = true for document with a misspelled property")
	}
	if cfg != nil {
		t.Error("config returned despite validation failure")
	}
}

func TestValidateDocument_RejectsMalformedJSON(t *testing.T) {
	_, result := ValidateDocument([]byte(`{"version": `))
	if result.Valid {
		t.Fatal("Valid = true for malformed JSON")
	}
}

func TestValidateDocument_RejectsBadVersionFormat(t *testing.T) {
	doc := strings.Replace(minimalDoc, `"1.2.0"`, `"v1.2"`, 1)
	_, result := ValidateDocument([]byte(doc))
	if result.Valid {
		t.Fatal("Valid = true for non-semver version string")
	}
}

func TestValidateDocument_UnsupportedVersion(t *testing.T) {
	doc := strings.Replace(minimalDoc, `"1.2.0"`, `"9.9.9"`, 1)
	_, result := ValidateDocument([]byte(doc))
	if result.Valid {
		t.Fatal("Valid = true for unsupported version")
	}
	if !hasErrorContaining(result, "unsupported configuration version") {
		t.Errorf("errors = %v, want unsupported-version error", result.Errors)
	}
}

func TestValidateDocument_DeprecatedVersionWarns(t *testing.T) {
	doc := strings.Replace(minimalDoc, `"1.2.0"`, `"1.0.0"`, 1)
	_, result := ValidateDocument([]byte(doc))
	if !result.Valid {
		t.Fatalf("Valid = false for deprecated version, errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("no deprecation warning emitted for version 1.0.0")
	}
}

func TestValidateDocument_Idempotent(t *testing.T) {
	_, first := ValidateDocument([]byte(minimalDoc))
	_, second := ValidateDocument([]byte(minimalDoc))
	if !first.Valid || !second.Valid {
		t.Fatal("re-validation of a valid document produced errors")
	}
	if len(second.Errors) != len(first.Errors) {
		t.Errorf("error count changed between validations: %d vs %d", len(first.Errors), len(second.Errors))
	}
}

func validConfig() *GatewayConfig {
	return &GatewayConfig{
		Version: CurrentVersion,
		Routes: []RouteConfig{
			{
				ID:     "orders",
				Match:  MatchConfig{PathPrefix: "/orders", Methods: []string{"GET"}},
				Target: TargetConfig{ServiceName: "orders-svc"},
			},
		},
		Services: []ServiceConfig{
			{Name: "orders-svc", Discovery: DiscoveryConfig{Type: "static", Endpoints: []string{"http://localhost:9000"}}},
		},
	}
}

func TestValidateConfig_DuplicateRouteIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes, cfg.Routes[0])

	result := ValidateConfig(cfg)
	if result.Valid {
		t.Fatal("Valid = true with duplicate route IDs")
	}
	if !hasErrorContaining(result, "duplicate route ID") {
		t.Errorf("errors = %v, want duplicate route ID error", result.Errors)
	}
}

func TestValidateConfig_DuplicateServiceNames(t *testing.T) {
	cfg := validConfig()
	cfg.Services = append(cfg.Services, cfg.Services[0])

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "duplicate service name") {
		t.Errorf("errors = %v, want duplicate service name error", result.Errors)
	}
}

func TestValidateConfig_UndeclaredService(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Target.ServiceName = "ghost-svc"

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "is not declared") {
		t.Errorf("errors = %v, want undeclared service error", result.Errors)
	}
}

func TestValidateConfig_ConflictingRoutes(t *testing.T) {
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes, RouteConfig{
		ID:     "orders-v2",
		Match:  MatchConfig{PathPrefix: "/orders/v2", Methods: []string{"GET"}},
		Target: TargetConfig{ServiceName: "orders-svc"},
	})

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "conflict") {
		t.Errorf("errors = %v, want route conflict error", result.Errors)
	}
}

func TestValidateConfig_HeaderPredicateDisambiguates(t *testing.T) {
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes, RouteConfig{
		ID:     "orders-beta",
		Match:  MatchConfig{PathPrefix: "/orders", Methods: []string{"GET"}, Headers: map[string]string{"x-beta": "1"}},
		Target: TargetConfig{ServiceName: "orders-svc"},
	})

	result := ValidateConfig(cfg)
	if hasErrorContaining(result, "conflict") {
		t.Errorf("errors = %v, header predicate should disambiguate", result.Errors)
	}
}

func TestValidateConfig_AuthWithoutMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Policy = &PolicyConfig{Auth: &AuthPolicy{Enabled: true}}

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "no auth method") {
		t.Errorf("errors = %v, want missing auth method error", result.Errors)
	}
}

func TestValidateConfig_JWTWithoutKeySource(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Policy = &PolicyConfig{
		Auth: &AuthPolicy{Enabled: true, JWT: &JWTPolicy{Enabled: true}},
	}

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "jwt requires") {
		t.Errorf("errors = %v, want jwt key source error", result.Errors)
	}
}

func TestValidateConfig_BurstExceedsBase(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Policy = &PolicyConfig{
		RateLimit: &RateLimitPolicy{Enabled: true, TokensPerInterval: 10, IntervalMs: 1000, BurstMultiplier: 3},
	}

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "burst allowance") {
		t.Errorf("errors = %v, want burst allowance error", result.Errors)
	}
}

func TestValidateConfig_BreakerResetBelowTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Policy = &PolicyConfig{
		CircuitBreaker: &CircuitBreakerPolicy{Enabled: true, TimeoutMs: 5000, ResetTimeoutMs: 1000},
	}

	result := ValidateConfig(cfg)
	if !hasErrorContaining(result, "resetTimeoutMs") {
		t.Errorf("errors = %v, want breaker reset error", result.Errors)
	}
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes, cfg.Routes[0])
	cfg.Routes[0].Target.ServiceName = "ghost-svc"

	result := ValidateConfig(cfg)
	if len(result.Errors) < 2 {
		t.Errorf("errors = %v, want all violations collected, not just the first", result.Errors)
	}
}

func TestValidateMappingRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []ContextMappingRule
		wantErr string
	}{
		{
			name: "valid",
			rules: []ContextMappingRule{
				{ClaimPath: "sub", HeaderName: "x-user-id", Required: true},
				{ClaimPath: "roles", HeaderName: "x-user-roles", Transform: "csv"},
			},
		},
		{
			name: "duplicate header",
			rules: []ContextMappingRule{
				{ClaimPath: "sub", HeaderName: "x-user-id"},
				{ClaimPath: "email", HeaderName: "x-user-id"},
			},
			wantErr: "duplicate header name",
		},
		{
			name:    "malformed header",
			rules:   []ContextMappingRule{{ClaimPath: "sub", HeaderName: "X User ID"}},
			wantErr: "malformed header name",
		},
		{
			name:    "leading dot claim path",
			rules:   []ContextMappingRule{{ClaimPath: ".sub", HeaderName: "x-user-id"}},
			wantErr: "malformed claim path",
		},
		{
			name:    "double dot claim path",
			rules:   []ContextMappingRule{{ClaimPath: "org..id", HeaderName: "x-org-id"}},
			wantErr: "malformed claim path",
		},
		{
			name:    "unknown transform",
			rules:   []ContextMappingRule{{ClaimPath: "sub", HeaderName: "x-user-id", Transform: "base64"}},
			wantErr: "unknown transform",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateMappingRules(tt.rules)
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Errorf("errors = %v, want none", errs)
				}
				return
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e.Message, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %v, want one containing %q", errs, tt.wantErr)
			}
		})
	}
}
