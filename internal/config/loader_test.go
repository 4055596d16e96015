package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
version: 1.2.0
routes:
  - id: orders
    matcher:
      pathPrefix: /orders
      methods: [GET]
    target:
      serviceName: orders-svc
    policy:
      rateLimit:
        enabled: true
        tokensPerInterval: 100
        intervalMs: 1000
services:
  - name: orders-svc
    discovery:
      type: static
      endpoints: ["http://localhost:9000"]
`

func TestLoader_ParseYAML(t *testing.T) {
	cfg, result, err := NewLoader().ParseYAML([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	if !result.Valid {
		t.Fatalf("Valid = false, errors: %v", result.Errors)
	}
	if cfg.Routes[0].Match.PathPrefix != "/orders" {
		t.Errorf("PathPrefix = %q, want %q", cfg.Routes[0].Match.PathPrefix, "/orders")
	}
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, result, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !result.Valid {
		t.Fatalf("Valid = false, errors: %v", result.Errors)
	}
	if cfg.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", cfg.Version, "1.2.0")
	}
}

func TestLoader_LoadMissingFile(t *testing.T) {
	if _, _, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Load() error = nil for missing file")
	}
}

func TestLoader_ExpandsEnvVars(t *testing.T) {
	t.Setenv("ORDERS_SERVICE", "orders-svc")

	doc := []byte(`{
  "version": "1.2.0",
  "routes": [{"id": "orders", "matcher": {"pathPrefix": "/orders"}, "target": {"serviceName": "${ORDERS_SERVICE}"}}],
  "services": [{"name": "orders-svc", "discovery": {"type": "static"}}]
}`)

	cfg, result, err := NewLoader().Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !result.Valid {
		t.Fatalf("Valid = false, errors: %v", result.Errors)
	}
	if got := cfg.Routes[0].Target.ServiceName; got != "orders-svc" {
		t.Errorf("ServiceName = %q, want %q", got, "orders-svc")
	}
}

func TestLoader_UnsetEnvVarLeftUntouched(t *testing.T) {
	l := NewLoader()
	got := l.expandEnvVars("${DEFINITELY_NOT_SET_12345}")
	if got != "${DEFINITELY_NOT_SET_12345}" {
		t.Errorf("expandEnvVars = %q, want the placeholder untouched", got)
	}
}

func TestLoader_AppliesDefaults(t *testing.T) {
	cfg, result, err := NewLoader().ParseYAML([]byte(minimalYAML))
	if err != nil || !result.Valid {
		t.Fatalf("ParseYAML() error = %v, errors: %v", err, result.Errors)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Server.Logging.Level, "info")
	}

	rl := cfg.Routes[0].Policy.RateLimit
	if rl.BurstMultiplier != 1 {
		t.Errorf("BurstMultiplier = %v, want 1", rl.BurstMultiplier)
	}
	if len(rl.Keys) != 2 || rl.Keys[0] != "ip" || rl.Keys[1] != "route" {
		t.Errorf("Keys = %v, want [ip route]", rl.Keys)
	}
}
