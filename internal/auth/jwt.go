// Package auth enforces route authentication policies: bearer-token
// verification, API key lookup, identity cross-validation, and role/scope
// authorization.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/variables"
)

// JWTVerifier validates bearer tokens against a route's JWT policy.
type JWTVerifier struct {
	policy  *config.JWTPolicy
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
}

// NewJWTVerifier creates a verifier for the given policy. The key source is
// chosen in order: remote key set (jwksUri or discoveryUrl), RSA public key
// PEM, HMAC secret.
func NewJWTVerifier(policy *config.JWTPolicy, keys *KeySetProvider) (*JWTVerifier, error) {
	v := &JWTVerifier{policy: policy}

	algorithms := policy.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(algorithms)}
	if tol := policy.ClockTolerance(); tol > 0 {
		opts = append(opts, jwt.WithLeeway(tol))
	}
	if policy.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(policy.Issuer))
	}
	v.parser = jwt.NewParser(opts...)

	switch {
	case policy.JWKSURI != "" || policy.DiscoveryURL != "":
		if keys == nil {
			return nil, fmt.Errorf("remote key set configured but no key set provider available")
		}
		v.keyFunc = keys.KeyFunc(policy)
	case policy.PublicKey != "":
		pub, err := parseRSAPublicKey(policy.PublicKey)
		if err != nil {
			return nil, err
		}
		v.keyFunc = func(*jwt.Token) (interface{}, error) { return pub, nil }
	case policy.Secret != "":
		secret := []byte(policy.Secret)
		v.keyFunc = func(*jwt.Token) (interface{}, error) { return secret, nil }
	default:
		return nil, fmt.Errorf("jwt policy has no key source")
	}

	return v, nil
}

// Verify parses and validates a bearer token and builds the caller identity
// from its claims.
func (v *JWTVerifier) Verify(tokenString string) (*variables.Identity, error) {
	token, err := v.parser.Parse(tokenString, v.keyFunc)
	if err != nil {
		return nil, errors.ErrUnauthorized.WithDetails(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, errors.ErrUnauthorized.WithDetails("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.ErrUnauthorized.WithDetails("invalid token claims")
	}

	if len(v.policy.Audience) > 0 {
		aud, _ := claims.GetAudience()
		if !containsAny(aud, v.policy.Audience) {
			return nil, errors.ErrUnauthorized.WithDetails("invalid token audience")
		}
	}

	return identityFromClaims(claims), nil
}

// identityFromClaims builds an identity from verified claims. Roles come
// from a "roles" array, scopes from the space-delimited "scope" claim, the
// tenant from "tenant_id".
func identityFromClaims(claims jwt.MapClaims) *variables.Identity {
	id := &variables.Identity{
		AuthType: "jwt",
		Claims:   map[string]interface{}(claims),
	}
	if sub, _ := claims.GetSubject(); sub != "" {
		id.Subject = sub
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		id.Scopes = strings.Fields(scope)
	}
	if tenant, ok := claims["tenant_id"].(string); ok {
		id.TenantID = tenant
	}
	return id
}

// ExtractBearerToken pulls the bearer token from the Authorization header,
// falling back to the x-id-token header some internal callers use.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:]
	}
	return r.Header.Get("x-id-token")
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an RSA key")
	}
	return rsaPub, nil
}

func containsAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
