// Package variables holds per-request values shared between the gateway
// policy stages: the authenticated identity, the matched route, and the
// resolved tenant.
package variables

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Identity represents an authenticated caller.
type Identity struct {
	Subject  string
	AuthType string // "jwt", "api_key"
	Roles    []string
	Scopes   []string
	TenantID string
	Claims   map[string]interface{}
}

// HasRole reports whether the identity carries the given role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasScope reports whether the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Claim returns a claim value by exact name.
func (id *Identity) Claim(name string) (interface{}, bool) {
	if id.Claims == nil {
		return nil, false
	}
	v, ok := id.Claims[name]
	return v, ok
}

type contextKey int

const (
	identityKey contextKey = iota
	routeIDKey
	tenantIDKey
)

// WithIdentity attaches an authenticated identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity attached to the context, if any.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// IdentityFromRequest returns the identity attached to the request context.
func IdentityFromRequest(r *http.Request) *Identity {
	return IdentityFrom(r.Context())
}

// WithRouteID attaches the matched route ID to the context.
func WithRouteID(ctx context.Context, routeID string) context.Context {
	return context.WithValue(ctx, routeIDKey, routeID)
}

// RouteIDFrom returns the matched route ID, or "" when unmatched.
func RouteIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(routeIDKey).(string)
	return id
}

// ExtractClientIP returns the client address, preferring proxy headers
// over the socket address.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithTenantID attaches the resolved tenant ID to the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFrom returns the resolved tenant ID, or "" when none was detected.
func TenantIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}
