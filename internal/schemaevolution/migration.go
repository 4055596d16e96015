package schemaevolution

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/config"
)

// Transform rewrites a configuration document for one version hop.
// Transforms are pure (input is never mutated) and safe to re-run against an
// already-migrated document.
type Transform func(doc map[string]interface{}) (map[string]interface{}, error)

// Migration is a named, versioned transform.
type Migration struct {
	Name  string
	From  string
	To    string
	Apply Transform
}

// Migrator upgrades configuration documents between adjacent schema
// versions. Migration is single-hop only: crossing more than one version gap
// requires sequential calls, so which versions count as compatible stays
// observable.
type Migrator struct {
	migrations []Migration
	logger     *zap.Logger
}

// NewMigrator creates a migrator with the built-in migration chain.
func NewMigrator(logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Migrator{logger: logger}
	m.Register(Migration{
		Name:  "add-features-and-admin-sections",
		From:  config.Version100,
		To:    config.Version110,
		Apply: addFeaturesAndAdminSections,
	})
	m.Register(Migration{
		Name:  "normalize-rate-limit-fields",
		From:  config.Version110,
		To:    config.Version120,
		Apply: normalizeRateLimitFields,
	})
	return m
}

// Register adds a migration. Multiple transforms may share a hop; they run
// in registration order.
func (m *Migrator) Register(mig Migration) {
	m.migrations = append(m.migrations, mig)
}

// CompatibleFrom returns the versions that can be migrated to the given
// target in a single hop.
func (m *Migrator) CompatibleFrom(to string) []string {
	var from []string
	seen := make(map[string]bool)
	for _, mig := range m.migrations {
		if mig.To == to && !seen[mig.From] {
			from = append(from, mig.From)
			seen[mig.From] = true
		}
	}
	return from
}

// Migrate upgrades a document from one version to another. The input
// document is never mutated; on failure the result carries the index of the
// last transform that completed.
func (m *Migrator) Migrate(doc map[string]interface{}, fromVersion, toVersion string) MigrationResult {
	result := MigrationResult{LastApplied: -1}

	if fromVersion == toVersion {
		result.Valid = true
		result.MigratedConfig = deepCopy(doc)
		return result
	}

	var hop []Migration
	for _, mig := range m.migrations {
		if mig.From == fromVersion && mig.To == toVersion {
			hop = append(hop, mig)
		}
	}
	if len(hop) == 0 {
		result.Error = fmt.Sprintf("no single-hop migration from %s to %s; migrate through intermediate versions sequentially", fromVersion, toVersion)
		return result
	}

	current := deepCopy(doc)
	for i, mig := range hop {
		next, err := mig.Apply(current)
		if err != nil {
			result.Error = fmt.Sprintf("migration %q failed: %v", mig.Name, err)
			m.logger.Warn("config migration failed",
				zap.String("migration", mig.Name),
				zap.String("from", fromVersion),
				zap.String("to", toVersion),
				zap.Error(err))
			return result
		}
		current = next
		result.LastApplied = i
		result.AppliedMigrations = append(result.AppliedMigrations, mig.Name)
	}

	current["version"] = toVersion
	result.Valid = true
	result.MigratedConfig = current
	return result
}

// deepCopy clones a document through a JSON round trip so transforms stay
// pure.
func deepCopy(doc map[string]interface{}) map[string]interface{} {
	data, err := json.Marshal(doc)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// addFeaturesAndAdminSections introduces the features and admin sections
// added in 1.1.0. Existing sections are left alone.
func addFeaturesAndAdminSections(doc map[string]interface{}) (map[string]interface{}, error) {
	out := deepCopy(doc)
	if _, ok := out["features"]; !ok {
		out["features"] = map[string]interface{}{}
	}
	if _, ok := out["admin"]; !ok {
		out["admin"] = map[string]interface{}{"enabled": false}
	}
	return out, nil
}

// normalizeRateLimitFields renames the legacy requests/burst rate-limit
// fields to the canonical tokensPerInterval/burstMultiplier spelling.
// Legacy burst was the absolute bucket capacity; the multiplier is derived
// from it. Documents already using the canonical fields pass through
// unchanged.
func normalizeRateLimitFields(doc map[string]interface{}) (map[string]interface{}, error) {
	out := deepCopy(doc)
	routes, ok := out["routes"].([]interface{})
	if !ok {
		return out, nil
	}
	for _, r := range routes {
		route, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		policy, ok := route["policy"].(map[string]interface{})
		if !ok {
			continue
		}
		rl, ok := policy["rateLimit"].(map[string]interface{})
		if !ok {
			continue
		}
		if requests, ok := rl["requests"].(float64); ok {
			if requests < 1 {
				return nil, fmt.Errorf("route %v: legacy rateLimit.requests must be >= 1, got %v", route["id"], requests)
			}
			rl["tokensPerInterval"] = requests
			delete(rl, "requests")
		}
		if burst, ok := rl["burst"].(float64); ok {
			base, _ := rl["tokensPerInterval"].(float64)
			if base <= 0 {
				return nil, fmt.Errorf("route %v: legacy rateLimit.burst without a base allowance", route["id"])
			}
			rl["burstMultiplier"] = burst / base
			delete(rl, "burst")
		}
	}
	return out, nil
}
