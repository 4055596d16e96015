package auth

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/variables"
)

// Enforcer evaluates a route's auth policy against a request. Checks run in
// a fixed order so failures are deterministic: credential verification,
// identity cross-validation, then role and scope authorization.
type Enforcer struct {
	keys     *KeySetProvider
	keyMgr   *KeyManager
	identity *IdentityClient
	intro    *Introspector
	logger   *zap.Logger

	mu        sync.Mutex
	verifiers map[*config.JWTPolicy]*JWTVerifier
}

// NewEnforcer creates an enforcer. identity may be nil when no route uses
// identity cross-validation.
func NewEnforcer(keys *KeySetProvider, keyMgr *KeyManager, identity *IdentityClient, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		keys:      keys,
		keyMgr:    keyMgr,
		identity:  identity,
		intro:     NewIntrospector(5 * time.Second),
		logger:    logger,
		verifiers: make(map[*config.JWTPolicy]*JWTVerifier),
	}
}

// Enforce authenticates and authorizes the request under the given policy.
// Authentication failures return 401, authorization failures 403. A nil or
// disabled policy admits the request anonymously.
func (e *Enforcer) Enforce(r *http.Request, policy *config.AuthPolicy) (*variables.Identity, error) {
	if policy == nil || !policy.Enabled {
		return nil, nil
	}

	id, err := e.authenticate(r, policy)
	if err != nil {
		return nil, err
	}

	if err := e.authorize(id, policy); err != nil {
		return nil, err
	}
	return id, nil
}

// authenticate tries the configured credential methods. A bearer token is
// checked first; an API key is consulted only when no token is present, so
// a request carrying both fails on the token rather than silently falling
// back.
func (e *Enforcer) authenticate(r *http.Request, policy *config.AuthPolicy) (*variables.Identity, error) {
	token := ExtractBearerToken(r)

	if token != "" && policy.JWT != nil && policy.JWT.Enabled {
		verifier, err := e.verifierFor(policy.JWT)
		if err != nil {
			return nil, errors.Wrap(err, http.StatusInternalServerError, "internal", "auth misconfigured")
		}
		id, err := verifier.Verify(token)
		if err != nil {
			return nil, err
		}
		if policy.IdentityValidation && e.identity != nil {
			if err := e.identity.Validate(r.Context(), id, token); err != nil {
				return nil, err
			}
		}
		return id, nil
	}

	if token != "" && policy.OAuth2 != nil && policy.OAuth2.Enabled {
		return e.intro.Introspect(r.Context(), policy.OAuth2, token)
	}

	if policy.APIKey != nil && policy.APIKey.Enabled {
		rawKey := extractAPIKey(r, policy.APIKey)
		if rawKey != "" {
			return e.authenticateAPIKey(r, rawKey, policy.APIKey)
		}
	}

	return nil, errors.ErrUnauthorized.WithDetails("no credentials provided")
}

func (e *Enforcer) authenticateAPIKey(r *http.Request, rawKey string, policy *config.APIKeyPolicy) (*variables.Identity, error) {
	record, err := e.keyMgr.Validate(r.Context(), rawKey)
	if err != nil {
		if _, ok := errors.IsGatewayError(err); ok {
			return nil, err
		}
		return nil, errors.Wrap(err, http.StatusUnauthorized, "unauthorized", "API key validation unavailable")
	}

	for _, required := range policy.Scopes {
		if !record.HasScope(required) {
			return nil, errors.ErrForbidden.WithDetails(fmt.Sprintf("API key lacks scope %q", required))
		}
	}

	claims := map[string]interface{}{
		"key_id":   record.ID,
		"key_name": record.Name,
	}
	for k, v := range record.Metadata {
		claims[k] = v
	}
	return &variables.Identity{
		Subject:  record.ID,
		AuthType: "api_key",
		Scopes:   record.Scopes,
		TenantID: record.TenantID,
		Claims:   claims,
	}, nil
}

// authorize checks role and scope requirements. Roles are satisfied by any
// match; scopes must all be present.
func (e *Enforcer) authorize(id *variables.Identity, policy *config.AuthPolicy) error {
	if len(policy.RequiredRoles) > 0 {
		ok := false
		for _, role := range policy.RequiredRoles {
			if id.HasRole(role) {
				ok = true
				break
			}
		}
		if !ok {
			return errors.ErrForbidden.WithDetails(
				fmt.Sprintf("requires one of roles: %s", strings.Join(policy.RequiredRoles, ", ")))
		}
	}

	for _, scope := range policy.RequiredScopes {
		if !id.HasScope(scope) {
			return errors.ErrForbidden.WithDetails(fmt.Sprintf("missing required scope %q", scope))
		}
	}
	return nil
}

// maxCachedVerifiers bounds the verifier cache. Derived configurations
// clone their policy objects, so stale pointers accumulate as tenant
// configs are rebuilt.
const maxCachedVerifiers = 1024

// verifierFor returns the cached verifier for a policy, building it on
// first use. Policies are compared by pointer; a config reload swaps the
// policy objects and naturally invalidates the cache.
func (e *Enforcer) verifierFor(policy *config.JWTPolicy) (*JWTVerifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.verifiers[policy]; ok {
		return v, nil
	}
	v, err := NewJWTVerifier(policy, e.keys)
	if err != nil {
		return nil, err
	}
	if len(e.verifiers) >= maxCachedVerifiers {
		e.verifiers = make(map[*config.JWTPolicy]*JWTVerifier)
	}
	e.verifiers[policy] = v
	return v, nil
}

func extractAPIKey(r *http.Request, policy *config.APIKeyPolicy) string {
	name := policy.Name
	if name == "" {
		name = "x-api-key"
	}
	if policy.In == "query" {
		return r.URL.Query().Get(name)
	}
	return r.Header.Get(name)
}
