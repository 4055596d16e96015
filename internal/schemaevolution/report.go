package schemaevolution

import "time"

// Issue severity levels.
const (
	SeverityBreaking = "breaking"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Issue categories.
const (
	CategoryRoute     = "route"
	CategoryService   = "service"
	CategoryAuth      = "auth"
	CategoryRateLimit = "rate_limit"
)

// CompatibilityIssue describes a single change between two configuration
// revisions.
type CompatibilityIssue struct {
	Type     string `json:"type"`     // breaking, warning, info
	Category string `json:"category"` // route, service, auth, rate_limit
	Impact   string `json:"impact"`   // high, medium, low
	Subject  string `json:"subject"`  // route ID or service name affected
	Message  string `json:"message"`
}

// CompatibilityReport summarizes the delta between two configuration
// revisions. Compatible is true iff no issue is breaking; the caller decides
// whether warnings block a rollout.
type CompatibilityReport struct {
	OldVersion string               `json:"old_version"`
	NewVersion string               `json:"new_version"`
	Compatible bool                 `json:"compatible"`
	Issues     []CompatibilityIssue `json:"issues,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// MigrationResult reports the outcome of a migration attempt.
// LastApplied is the index of the last transform that completed, -1 when
// none ran, so a caller can decide how far to roll back.
type MigrationResult struct {
	Valid             bool                   `json:"valid"`
	MigratedConfig    map[string]interface{} `json:"migrated_config,omitempty"`
	AppliedMigrations []string               `json:"applied_migrations,omitempty"`
	LastApplied       int                    `json:"last_applied"`
	Error             string                 `json:"error,omitempty"`
}
