package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader reads configuration documents from the configuration source.
// The wire contract is JSON; YAML is accepted for operator convenience and
// converted before validation so both formats go through one pipeline.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and validates a configuration file. The format is inferred
// from the extension (.yaml/.yml vs anything else = JSON).
func (l *Loader) Load(path string) (*GatewayConfig, ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return l.ParseYAML(data)
	default:
		return l.Parse(data)
	}
}

// Parse validates a JSON configuration document after environment variable
// expansion. A non-nil config is returned only when the document is valid.
func (l *Loader) Parse(data []byte) (*GatewayConfig, ValidationResult, error) {
	expanded := l.expandEnvVars(string(data))
	cfg, result := ValidateDocument([]byte(expanded))
	if !result.Valid {
		return nil, result, nil
	}
	applyDefaults(cfg)
	return cfg, result, nil
}

// ParseYAML converts a YAML document to JSON and validates it.
func (l *Loader) ParseYAML(data []byte) (*GatewayConfig, ValidationResult, error) {
	expanded := l.expandEnvVars(string(data))
	jsonData, err := yaml.YAMLToJSON([]byte(expanded))
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("convert YAML to JSON: %w", err)
	}
	cfg, result := ValidateDocument(jsonData)
	if !result.Valid {
		return nil, result, nil
	}
	applyDefaults(cfg)
	return cfg, result, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left untouched so validation reports them in context.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *GatewayConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Logging.Level == "" {
		cfg.Server.Logging.Level = "info"
	}
	if cfg.Server.Logging.Format == "" {
		cfg.Server.Logging.Format = "json"
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		cfg.Admin.Address = ":9090"
	}
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		if route.Policy == nil {
			continue
		}
		if rl := route.Policy.RateLimit; rl != nil && rl.Enabled {
			if rl.BurstMultiplier == 0 {
				rl.BurstMultiplier = 1
			}
			if len(rl.Keys) == 0 {
				rl.Keys = []string{"ip", "route"}
			}
		}
		if ak := route.Policy.Auth; ak != nil && ak.APIKey != nil && ak.APIKey.Enabled {
			if ak.APIKey.In == "" {
				ak.APIKey.In = "header"
			}
			if ak.APIKey.Name == "" {
				ak.APIKey.Name = "x-api-key"
			}
		}
	}
}
