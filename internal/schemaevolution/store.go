package schemaevolution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/suuupra/gateway/internal/config"
)

// storedConfig wraps a config revision with metadata for persistence.
type storedConfig struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

// ConfigStore persists accepted configuration revisions on the filesystem so
// compatibility analysis has a previous revision to diff against.
type ConfigStore struct {
	dir         string
	maxVersions int
}

// NewConfigStore creates a new filesystem-backed revision store.
func NewConfigStore(dir string, maxVersions int) (*ConfigStore, error) {
	if maxVersions <= 0 {
		maxVersions = 10
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config store dir: %w", err)
	}
	return &ConfigStore{dir: dir, maxVersions: maxVersions}, nil
}

// Store saves a config revision under a given ID (typically the gateway or
// environment name). Older revisions beyond the retention limit are pruned.
func (s *ConfigStore) Store(configID string, cfg *config.GatewayConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	stored := storedConfig{
		Version:   cfg.Version,
		Timestamp: time.Now(),
		Data:      data,
	}

	filename := fmt.Sprintf("%s_%d.json", sanitizeID(configID), stored.Timestamp.UnixNano())
	path := filepath.Join(s.dir, filename)

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal stored config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return s.pruneOldRevisions(configID)
}

// GetPrevious returns the most recently stored revision for a given ID.
// A nil config with nil error means no revision exists yet.
func (s *ConfigStore) GetPrevious(configID string) (*config.GatewayConfig, string, error) {
	entries, err := s.getEntries(configID)
	if err != nil || len(entries) == 0 {
		return nil, "", err
	}

	// Most recent entry
	latest := entries[len(entries)-1]
	path := filepath.Join(s.dir, latest)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read config file: %w", err)
	}

	var stored storedConfig
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, "", fmt.Errorf("unmarshal stored config: %w", err)
	}

	var cfg config.GatewayConfig
	if err := json.Unmarshal(stored.Data, &cfg); err != nil {
		return nil, stored.Version, fmt.Errorf("decode stored config: %w", err)
	}

	return &cfg, stored.Version, nil
}

func (s *ConfigStore) getEntries(configID string) ([]string, error) {
	prefix := sanitizeID(configID) + "_"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var matching []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			matching = append(matching, e.Name())
		}
	}
	sort.Strings(matching)
	return matching, nil
}

func (s *ConfigStore) pruneOldRevisions(configID string) error {
	entries, err := s.getEntries(configID)
	if err != nil {
		return err
	}

	if len(entries) <= s.maxVersions {
		return nil
	}

	toRemove := entries[:len(entries)-s.maxVersions]
	for _, name := range toRemove {
		os.Remove(filepath.Join(s.dir, name))
	}
	return nil
}

func sanitizeID(id string) string {
	var sb strings.Builder
	for _, c := range id {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			sb.WriteRune(c)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
