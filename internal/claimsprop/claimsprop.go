// Package claimsprop turns verified identity claims into upstream request
// headers under a route's context mapping rules.
package claimsprop

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/variables"
)

// Injector applies a route's context mapping rules to an identity.
type Injector struct {
	rules    []config.ContextMappingRule
	injected atomic.Int64
}

// New creates an injector for a rule set. Rules are validated at config
// load; an injector assumes its rules are well formed.
func New(rules []config.ContextMappingRule) *Injector {
	return &Injector{rules: rules}
}

// Apply resolves each rule against the identity's claims and returns the
// headers to set on the upstream request. A required claim that cannot be
// resolved aborts with an error naming the claim; optional misses are
// skipped. A nil identity resolves no claims, so any required rule fails.
func (inj *Injector) Apply(id *variables.Identity) (map[string]string, error) {
	headers := make(map[string]string, len(inj.rules))

	var claims map[string]interface{}
	if id != nil {
		claims = id.Claims
	}

	for _, rule := range inj.rules {
		value, found := resolveClaim(claims, rule.ClaimPath)
		if !found {
			if rule.Required {
				return nil, errors.ErrUnauthorized.WithDetails(
					fmt.Sprintf("required claim %q is missing", rule.ClaimPath))
			}
			continue
		}
		rendered, ok := render(value, rule.Transform)
		if !ok {
			if rule.Required {
				return nil, errors.ErrUnauthorized.WithDetails(
					fmt.Sprintf("required claim %q has no usable value", rule.ClaimPath))
			}
			continue
		}
		headers[rule.HeaderName] = rendered
	}

	if len(headers) > 0 {
		inj.injected.Add(1)
	}
	return headers, nil
}

// Stats returns injection statistics.
func (inj *Injector) Stats() map[string]interface{} {
	return map[string]interface{}{
		"rules":    len(inj.rules),
		"injected": inj.injected.Load(),
	}
}

// resolveClaim walks a dot-separated path through nested claim objects.
// A missing or non-object intermediate resolves to not-found rather than
// an error.
func resolveClaim(claims map[string]interface{}, path string) (interface{}, bool) {
	if claims == nil {
		return nil, false
	}

	var current interface{} = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// render converts a claim value to a header value under the rule's
// transform: "string" (default) formats scalars, "json" serializes any
// value, "csv" joins array elements with commas.
func render(value interface{}, transform string) (string, bool) {
	if value == nil {
		return "", false
	}

	switch transform {
	case "json":
		raw, err := json.Marshal(value)
		if err != nil {
			return scalarString(value)
		}
		return string(raw), true
	case "csv":
		items, ok := value.([]interface{})
		if !ok {
			return scalarString(value)
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := scalarString(item)
			if !ok {
				continue
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	default:
		return scalarString(value)
	}
}

func scalarString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return fmt.Sprintf("%t", v), true
	case float64:
		// JSON numbers decode as float64; render integers without a
		// fractional part.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), true
		}
		return fmt.Sprintf("%g", v), true
	case nil:
		return "", false
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}
