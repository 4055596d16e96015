package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/kv"
)

// Raw keys carry a fixed prefix so malformed credentials are rejected
// before any store round trip.
const apiKeyPrefix = "gk_"

// Lookup failure modes. Expired keys are reported distinctly so callers can
// tell a rotation problem from a bad credential.
var (
	ErrKeyInvalid = errors.ErrUnauthorized.WithDetails("invalid API key")
	ErrKeyExpired = errors.ErrUnauthorized.WithDetails("expired API key")
)

// KeyRecord is the stored representation of an issued API key. The raw key
// is never stored; only its hash is.
type KeyRecord struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	KeyHash    string                 `json:"keyHash"`
	Scopes     []string               `json:"scopes,omitempty"`
	TenantID   string                 `json:"tenantId,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	ExpiresAt  *time.Time             `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time             `json:"lastUsedAt,omitempty"`
	IsActive   bool                   `json:"isActive"`
}

// HasScope reports whether the key grants the given scope.
func (r *KeyRecord) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// KeyManager issues, validates, and revokes API keys backed by the shared
// store. Records are indexed twice: by ID for management and by key hash
// for request-path lookup; an ID roster supports listing.
type KeyManager struct {
	store kv.Store
	now   func() time.Time

	// rosterMu serializes roster read-modify-write within this process.
	// Records themselves stay authoritative; the roster is a listing aid.
	rosterMu sync.Mutex
}

// NewKeyManager creates a key manager over the given store.
func NewKeyManager(store kv.Store) *KeyManager {
	return &KeyManager{store: store, now: time.Now}
}

// CreateKeyInput carries the attributes of a key to issue.
type CreateKeyInput struct {
	Name      string
	Scopes    []string
	TenantID  string
	Metadata  map[string]interface{}
	ExpiresAt *time.Time
}

// Create issues a new API key. The raw key is returned exactly once; it
// cannot be recovered later.
func (m *KeyManager) Create(ctx context.Context, in CreateKeyInput) (*KeyRecord, string, error) {
	rawBytes := make([]byte, 24)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, "", fmt.Errorf("generate key material: %w", err)
	}
	rawKey := apiKeyPrefix + hex.EncodeToString(rawBytes)

	record := &KeyRecord{
		ID:        uuid.NewString(),
		Name:      in.Name,
		KeyHash:   hashKey(rawKey),
		Scopes:    in.Scopes,
		TenantID:  in.TenantID,
		Metadata:  in.Metadata,
		CreatedAt: m.now().UTC(),
		ExpiresAt: in.ExpiresAt,
		IsActive:  true,
	}

	if err := m.put(ctx, record); err != nil {
		return nil, "", err
	}
	if err := m.store.Set(ctx, hashIndexKey(record.KeyHash), []byte(record.ID), 0); err != nil {
		return nil, "", fmt.Errorf("index key hash: %w", err)
	}
	if err := m.addToRoster(ctx, record.ID); err != nil {
		return nil, "", err
	}
	return record, rawKey, nil
}

// List returns every issued key record, revoked ones included.
func (m *KeyManager) List(ctx context.Context) ([]*KeyRecord, error) {
	ids, err := m.readRoster(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	raws, err := m.store.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read key records: %w", err)
	}

	records := make([]*KeyRecord, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		var record KeyRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("decode key record: %w", err)
		}
		records = append(records, &record)
	}
	return records, nil
}

func (m *KeyManager) addToRoster(ctx context.Context, id string) error {
	m.rosterMu.Lock()
	defer m.rosterMu.Unlock()

	ids, err := m.readRoster(ctx)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)

	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal key roster: %w", err)
	}
	if err := m.store.Set(ctx, rosterKey, raw, 0); err != nil {
		return fmt.Errorf("write key roster: %w", err)
	}
	return nil
}

func (m *KeyManager) readRoster(ctx context.Context) ([]string, error) {
	raw, found, err := m.store.Get(ctx, rosterKey)
	if err != nil {
		return nil, fmt.Errorf("read key roster: %w", err)
	}
	if !found {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode key roster: %w", err)
	}
	return ids, nil
}

// Validate resolves a raw key to its record. Unknown, revoked, and
// malformed keys all report invalid; only keys past their expiry report
// expired.
func (m *KeyManager) Validate(ctx context.Context, rawKey string) (*KeyRecord, error) {
	if !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return nil, ErrKeyInvalid
	}

	keyHash := hashKey(rawKey)
	idRaw, found, err := m.store.Get(ctx, hashIndexKey(keyHash))
	if err != nil {
		return nil, fmt.Errorf("lookup key hash: %w", err)
	}
	if !found {
		return nil, ErrKeyInvalid
	}

	record, err := m.Get(ctx, string(idRaw))
	if err != nil {
		return nil, err
	}
	if record == nil || !record.IsActive {
		return nil, ErrKeyInvalid
	}
	if subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(keyHash)) != 1 {
		return nil, ErrKeyInvalid
	}
	if record.ExpiresAt != nil && m.now().After(*record.ExpiresAt) {
		return nil, ErrKeyExpired
	}

	// Last-use tracking is advisory; a failed write never fails the request.
	used := m.now().UTC()
	record.LastUsedAt = &used
	_ = m.put(ctx, record)

	return record, nil
}

// Get returns a key record by ID, or nil when it does not exist.
func (m *KeyManager) Get(ctx context.Context, id string) (*KeyRecord, error) {
	raw, found, err := m.store.Get(ctx, recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("read key record: %w", err)
	}
	if !found {
		return nil, nil
	}
	var record KeyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode key record: %w", err)
	}
	return &record, nil
}

// Revoke deactivates a key. The hash index is removed so the raw key stops
// resolving immediately; the record stays for audit.
func (m *KeyManager) Revoke(ctx context.Context, id string) error {
	record, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.ErrNotFound.WithDetails("API key not found")
	}
	record.IsActive = false
	if err := m.put(ctx, record); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, hashIndexKey(record.KeyHash)); err != nil {
		return fmt.Errorf("remove key hash index: %w", err)
	}
	return nil
}

func (m *KeyManager) put(ctx context.Context, record *KeyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal key record: %w", err)
	}
	if err := m.store.Set(ctx, recordKey(record.ID), raw, 0); err != nil {
		return fmt.Errorf("write key record: %w", err)
	}
	return nil
}

func hashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

const rosterKey = "apikey:ids"

func recordKey(id string) string   { return "apikey:id:" + id }
func hashIndexKey(h string) string { return "apikey:hash:" + h }
