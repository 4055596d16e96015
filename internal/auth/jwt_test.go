package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/suuupra/gateway/internal/config"
)

const testSecret = "test-secret"

func hs256Policy() *config.JWTPolicy {
	return &config.JWTPolicy{
		Enabled:    true,
		Secret:     testSecret,
		Algorithms: []string{"HS256"},
	}
}

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	v, err := NewJWTVerifier(hs256Policy(), nil)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token := signHS256(t, jwt.MapClaims{
		"sub":       "u1",
		"roles":     []interface{}{"admin", "editor"},
		"scope":     "read:orders write:orders",
		"tenant_id": "acme",
	})

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Subject != "u1" {
		t.Errorf("Subject = %q, want %q", id.Subject, "u1")
	}
	if id.AuthType != "jwt" {
		t.Errorf("AuthType = %q, want %q", id.AuthType, "jwt")
	}
	if len(id.Roles) != 2 || id.Roles[0] != "admin" {
		t.Errorf("Roles = %v, want [admin editor]", id.Roles)
	}
	if len(id.Scopes) != 2 || id.Scopes[1] != "write:orders" {
		t.Errorf("Scopes = %v, want [read:orders write:orders]", id.Scopes)
	}
	if id.TenantID != "acme" {
		t.Errorf("TenantID = %q, want %q", id.TenantID, "acme")
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v, err := NewJWTVerifier(hs256Policy(), nil)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Verify(token); err == nil {
		t.Error("Verify() error = nil for token signed with a different secret")
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v, _ := NewJWTVerifier(hs256Policy(), nil)
	token := signHS256(t, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := v.Verify(token); err == nil {
		t.Error("Verify() error = nil for expired token")
	}
}

func TestJWTVerifier_ClockTolerance(t *testing.T) {
	policy := hs256Policy()
	policy.ClockToleranceSeconds = 120
	v, _ := NewJWTVerifier(policy, nil)

	token := signHS256(t, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := v.Verify(token); err != nil {
		t.Errorf("Verify() error = %v for token within leeway", err)
	}
}

func TestJWTVerifier_Audience(t *testing.T) {
	policy := hs256Policy()
	policy.Audience = []string{"api.suuupra.io"}
	v, _ := NewJWTVerifier(policy, nil)

	good := signHS256(t, jwt.MapClaims{"sub": "u1", "aud": "api.suuupra.io"})
	if _, err := v.Verify(good); err != nil {
		t.Errorf("Verify() error = %v for matching audience", err)
	}

	bad := signHS256(t, jwt.MapClaims{"sub": "u1", "aud": "other.example.com"})
	if _, err := v.Verify(bad); err == nil {
		t.Error("Verify() error = nil for wrong audience")
	}
}

func TestJWTVerifier_Issuer(t *testing.T) {
	policy := hs256Policy()
	policy.Issuer = "https://auth.suuupra.io"
	v, _ := NewJWTVerifier(policy, nil)

	bad := signHS256(t, jwt.MapClaims{"sub": "u1", "iss": "https://evil.example.com"})
	if _, err := v.Verify(bad); err == nil {
		t.Error("Verify() error = nil for wrong issuer")
	}
}

func TestJWTVerifier_RejectsUnexpectedAlgorithm(t *testing.T) {
	policy := hs256Policy()
	policy.Algorithms = []string{"RS256"}
	v, err := NewJWTVerifier(policy, nil)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token := signHS256(t, jwt.MapClaims{"sub": "u1"})
	if _, err := v.Verify(token); err == nil {
		t.Error("Verify() error = nil for disallowed signing algorithm")
	}
}

func TestJWTVerifier_NoKeySource(t *testing.T) {
	if _, err := NewJWTVerifier(&config.JWTPolicy{Enabled: true}, nil); err == nil {
		t.Error("NewJWTVerifier() error = nil for policy with no key source")
	}
}
