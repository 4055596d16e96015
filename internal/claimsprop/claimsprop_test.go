package claimsprop

import (
	"strings"
	"testing"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/variables"
)

func identityWith(claims map[string]interface{}) *variables.Identity {
	return &variables.Identity{Subject: "u1", AuthType: "jwt", Claims: claims}
}

func TestInjector_RoundTrip(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "sub", HeaderName: "x-user-id", Required: true},
		{ClaimPath: "roles", HeaderName: "x-user-roles", Transform: "csv"},
	})

	headers, err := inj.Apply(identityWith(map[string]interface{}{
		"sub":   "u1",
		"roles": []interface{}{"admin", "editor"},
	}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(headers) != 2 {
		t.Errorf("len(headers) = %d, want 2", len(headers))
	}
	if got := headers["x-user-id"]; got != "u1" {
		t.Errorf("x-user-id = %q, want %q", got, "u1")
	}
	if got := headers["x-user-roles"]; got != "admin,editor" {
		t.Errorf("x-user-roles = %q, want %q", got, "admin,editor")
	}
}

func TestInjector_RequiredClaimMissing(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "sub", HeaderName: "x-user-id", Required: true},
	})

	_, err := inj.Apply(identityWith(map[string]interface{}{"email": "a@b.c"}))
	if err == nil {
		t.Fatal("Apply() error = nil, want error naming the missing claim")
	}
	if !strings.Contains(err.Error(), "sub") {
		t.Errorf("error %q does not name the missing claim %q", err.Error(), "sub")
	}
}

func TestInjector_OptionalClaimMissing(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "sub", HeaderName: "x-user-id"},
		{ClaimPath: "email", HeaderName: "x-user-email"},
	})

	headers, err := inj.Apply(identityWith(map[string]interface{}{"sub": "u1"}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := headers["x-user-email"]; ok {
		t.Error("x-user-email was set despite missing claim")
	}
	if got := headers["x-user-id"]; got != "u1" {
		t.Errorf("x-user-id = %q, want %q", got, "u1")
	}
}

func TestInjector_NestedClaimPath(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "org.id", HeaderName: "x-org-id"},
		{ClaimPath: "org.missing.deep", HeaderName: "x-never"},
	})

	headers, err := inj.Apply(identityWith(map[string]interface{}{
		"org": map[string]interface{}{"id": float64(42)},
	}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := headers["x-org-id"]; got != "42" {
		t.Errorf("x-org-id = %q, want %q", got, "42")
	}
	if _, ok := headers["x-never"]; ok {
		t.Error("x-never was set for a path with a missing intermediate")
	}
}

func TestInjector_JSONTransform(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "perms", HeaderName: "x-perms", Transform: "json"},
	})

	headers, err := inj.Apply(identityWith(map[string]interface{}{
		"perms": map[string]interface{}{"read": true},
	}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := headers["x-perms"]; got != `{"read":true}` {
		t.Errorf("x-perms = %q, want %q", got, `{"read":true}`)
	}
}

func TestInjector_CSVScalarFallback(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "sub", HeaderName: "x-user-id", Transform: "csv"},
	})

	headers, err := inj.Apply(identityWith(map[string]interface{}{"sub": "u1"}))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := headers["x-user-id"]; got != "u1" {
		t.Errorf("x-user-id = %q, want %q", got, "u1")
	}
}

func TestInjector_NilIdentity(t *testing.T) {
	inj := New([]config.ContextMappingRule{
		{ClaimPath: "sub", HeaderName: "x-user-id", Required: true},
	})

	if _, err := inj.Apply(nil); err == nil {
		t.Error("Apply(nil) error = nil, want required-claim failure")
	}

	optional := New([]config.ContextMappingRule{
		{ClaimPath: "sub", HeaderName: "x-user-id"},
	})
	headers, err := optional.Apply(nil)
	if err != nil {
		t.Fatalf("Apply(nil) error = %v", err)
	}
	if len(headers) != 0 {
		t.Errorf("len(headers) = %d, want 0", len(headers))
	}
}
