package schemaevolution

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/suuupra/gateway/internal/config"
)

func legacyDoc() map[string]interface{} {
	return map[string]interface{}{
		"version": "1.1.0",
		"server":  map[string]interface{}{"port": float64(8080)},
		"routes": []interface{}{
			map[string]interface{}{
				"id": "orders",
				"policy": map[string]interface{}{
					"rateLimit": map[string]interface{}{
						"enabled":    true,
						"requests":   float64(100),
						"intervalMs": float64(1000),
						"burst":      float64(150),
					},
				},
			},
		},
	}
}

func TestMigrate_AddsSectionsFor110(t *testing.T) {
	m := NewMigrator(nil)
	doc := map[string]interface{}{"version": "1.0.0"}

	result := m.Migrate(doc, config.Version100, config.Version110)
	if !result.Valid {
		t.Fatalf("Migrate() error = %q", result.Error)
	}
	if result.MigratedConfig["version"] != config.Version110 {
		t.Errorf("version = %v, want %s", result.MigratedConfig["version"], config.Version110)
	}
	if _, ok := result.MigratedConfig["features"]; !ok {
		t.Error("features section not added")
	}
	admin, ok := result.MigratedConfig["admin"].(map[string]interface{})
	if !ok || admin["enabled"] != false {
		t.Errorf("admin = %v, want {enabled:false}", result.MigratedConfig["admin"])
	}
}

func TestMigrate_NormalizesRateLimitFields(t *testing.T) {
	m := NewMigrator(nil)

	result := m.Migrate(legacyDoc(), config.Version110, config.Version120)
	if !result.Valid {
		t.Fatalf("Migrate() error = %q", result.Error)
	}
	if got := result.AppliedMigrations; len(got) != 1 || got[0] != "normalize-rate-limit-fields" {
		t.Errorf("AppliedMigrations = %v", got)
	}

	routes := result.MigratedConfig["routes"].([]interface{})
	rl := routes[0].(map[string]interface{})["policy"].(map[string]interface{})["rateLimit"].(map[string]interface{})

	if _, ok := rl["requests"]; ok {
		t.Error("legacy requests field survived migration")
	}
	if _, ok := rl["burst"]; ok {
		t.Error("legacy burst field survived migration")
	}
	if got := rl["tokensPerInterval"]; got != float64(100) {
		t.Errorf("tokensPerInterval = %v, want 100", got)
	}
	if got := rl["burstMultiplier"]; got != 1.5 {
		t.Errorf("burstMultiplier = %v, want 1.5", got)
	}
}

func TestMigrate_Deterministic(t *testing.T) {
	m := NewMigrator(nil)

	first := m.Migrate(legacyDoc(), config.Version110, config.Version120)
	second := m.Migrate(legacyDoc(), config.Version110, config.Version120)

	a, _ := json.Marshal(first.MigratedConfig)
	b, _ := json.Marshal(second.MigratedConfig)
	if string(a) != string(b) {
		t.Errorf("same input produced different output:\n%s\n%s", a, b)
	}
}

func TestMigrate_InputNotMutated(t *testing.T) {
	m := NewMigrator(nil)
	doc := legacyDoc()
	before, _ := json.Marshal(doc)

	m.Migrate(doc, config.Version110, config.Version120)

	after, _ := json.Marshal(doc)
	if string(before) != string(after) {
		t.Error("input document was mutated by migration")
	}
}

func TestMigrate_SameVersionNoOp(t *testing.T) {
	m := NewMigrator(nil)
	doc := legacyDoc()

	result := m.Migrate(doc, config.Version110, config.Version110)
	if !result.Valid {
		t.Fatalf("Migrate() error = %q", result.Error)
	}
	if len(result.AppliedMigrations) != 0 {
		t.Errorf("AppliedMigrations = %v, want none", result.AppliedMigrations)
	}
	if !reflect.DeepEqual(result.MigratedConfig, doc) {
		t.Error("no-op migration changed the document")
	}
}

func TestMigrate_RefusesMultiHop(t *testing.T) {
	m := NewMigrator(nil)

	result := m.Migrate(map[string]interface{}{"version": "1.0.0"}, config.Version100, config.Version120)
	if result.Valid {
		t.Fatal("Migrate() valid = true for a two-version hop")
	}
	if result.LastApplied != -1 {
		t.Errorf("LastApplied = %d, want -1", result.LastApplied)
	}
	if result.Error == "" {
		t.Error("multi-hop refusal carries no error message")
	}
}

func TestMigrate_LegacyBurstWithoutBase(t *testing.T) {
	m := NewMigrator(nil)
	doc := map[string]interface{}{
		"version": "1.1.0",
		"routes": []interface{}{
			map[string]interface{}{
				"id": "broken",
				"policy": map[string]interface{}{
					"rateLimit": map[string]interface{}{
						"enabled": true,
						"burst":   float64(50),
					},
				},
			},
		},
	}

	result := m.Migrate(doc, config.Version110, config.Version120)
	if result.Valid {
		t.Fatal("Migrate() valid = true for burst without a base allowance")
	}
	if result.Error == "" {
		t.Error("failed migration carries no error message")
	}
}

func TestCompatibleFrom(t *testing.T) {
	m := NewMigrator(nil)

	from := m.CompatibleFrom(config.Version120)
	if len(from) != 1 || from[0] != config.Version110 {
		t.Errorf("CompatibleFrom(1.2.0) = %v, want [1.1.0]", from)
	}
}
