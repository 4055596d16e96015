package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/auth"
	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/schemaevolution"
)

const maxAdminBodyBytes = 4 << 20

// AdminServer exposes the management plane: configuration validation,
// migration, compatibility analysis, and API key lifecycle. It is meant to
// be bound to an internal listener, never the public one.
type AdminServer struct {
	loader    *config.Loader
	migrator  *schemaevolution.Migrator
	keyMgr    *auth.KeyManager
	revisions *schemaevolution.ConfigStore
	gateway   *Gateway
	logger    *zap.Logger
}

// NewAdminServer creates the admin server. revisions may be nil; the accept
// endpoint and stored-revision diffing then report the store as unavailable.
func NewAdminServer(migrator *schemaevolution.Migrator, keyMgr *auth.KeyManager, revisions *schemaevolution.ConfigStore, gw *Gateway, logger *zap.Logger) *AdminServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminServer{
		loader:    config.NewLoader(),
		migrator:  migrator,
		keyMgr:    keyMgr,
		revisions: revisions,
		gateway:   gw,
		logger:    logger,
	}
}

// Handler returns the admin HTTP handler.
func (s *AdminServer) Handler() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodPost, "/admin/config/validate", s.handleValidate)
	router.HandlerFunc(http.MethodPost, "/admin/config/migrate", s.handleMigrate)
	router.HandlerFunc(http.MethodPost, "/admin/config/compat", s.handleCompat)
	router.HandlerFunc(http.MethodPost, "/admin/config/accept", s.handleAccept)
	router.HandlerFunc(http.MethodPost, "/admin/apikeys", s.handleCreateKey)
	router.HandlerFunc(http.MethodGet, "/admin/apikeys", s.handleListKeys)
	router.Handle(http.MethodGet, "/admin/apikeys/:id", s.handleGetKey)
	router.Handle(http.MethodDelete, "/admin/apikeys/:id", s.handleRevokeKey)
	router.HandlerFunc(http.MethodGet, "/admin/stats", s.handleStats)
	return router
}

func (s *AdminServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBodyBytes))
	if err != nil {
		errors.ErrBadRequest.WithDetails("read request body").WriteJSON(w)
		return
	}

	_, result, err := s.loader.Parse(body)
	if err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type migrateRequest struct {
	Document map[string]interface{} `json:"document"`
	From     string                 `json:"from"`
	To       string                 `json:"to"`
}

func (s *AdminServer) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if req.Document == nil || req.From == "" || req.To == "" {
		errors.ErrBadRequest.WithDetails("document, from, and to are required").WriteJSON(w)
		return
	}

	result := s.migrator.Migrate(req.Document, req.From, req.To)
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

type compatRequest struct {
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new"`
	ConfigID string          `json:"configId,omitempty"`
}

// handleCompat diffs two configurations. When old is omitted the most
// recently accepted revision is used instead.
func (s *AdminServer) handleCompat(w http.ResponseWriter, r *http.Request) {
	var req compatRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	var oldCfg *config.GatewayConfig
	if len(req.Old) == 0 {
		prev, err := s.previousRevision(req.ConfigID)
		if err != nil {
			if gerr, ok := errors.IsGatewayError(err); ok {
				gerr.WriteJSON(w)
				return
			}
			s.logger.Error("read stored revision", zap.Error(err))
			errors.ErrInternalServer.WriteJSON(w)
			return
		}
		oldCfg = prev
	} else {
		parsed, oldResult, err := s.loader.Parse(req.Old)
		if err != nil || !oldResult.Valid {
			errors.ErrBadRequest.WithDetails("old configuration is invalid").WriteJSON(w)
			return
		}
		oldCfg = parsed
	}
	newCfg, newResult, err := s.loader.Parse(req.New)
	if err != nil || !newResult.Valid {
		errors.ErrBadRequest.WithDetails("new configuration is invalid").WriteJSON(w)
		return
	}

	report := schemaevolution.TestBackwardCompatibility(oldCfg, newCfg)
	writeJSON(w, http.StatusOK, report)
}

const defaultConfigID = "gateway"

func (s *AdminServer) previousRevision(configID string) (*config.GatewayConfig, error) {
	if s.revisions == nil {
		return nil, errors.ErrDependencyUnavailable.WithDetails("revision store not configured")
	}
	if configID == "" {
		configID = defaultConfigID
	}
	prev, _, err := s.revisions.GetPrevious(configID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, errors.ErrBadRequest.WithDetails("no accepted revision to compare against")
	}
	return prev, nil
}

type acceptRequest struct {
	Config   json.RawMessage `json:"config"`
	ConfigID string          `json:"configId,omitempty"`
	Force    bool            `json:"force,omitempty"`
}

type acceptResponse struct {
	Stored bool                                 `json:"stored"`
	Report *schemaevolution.CompatibilityReport `json:"report,omitempty"`
}

// handleAccept validates a candidate configuration, diffs it against the
// most recently accepted revision, and stores it. Breaking changes are
// refused unless forced.
func (s *AdminServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	if s.revisions == nil {
		errors.ErrDependencyUnavailable.WithDetails("revision store not configured").WriteJSON(w)
		return
	}

	var req acceptRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if len(req.Config) == 0 {
		errors.ErrBadRequest.WithDetails("config is required").WriteJSON(w)
		return
	}

	cfg, result, err := s.loader.Parse(req.Config)
	if err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if !result.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	configID := req.ConfigID
	if configID == "" {
		configID = defaultConfigID
	}

	prev, _, err := s.revisions.GetPrevious(configID)
	if err != nil {
		s.logger.Error("read stored revision", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}

	var report *schemaevolution.CompatibilityReport
	if prev != nil {
		report = schemaevolution.TestBackwardCompatibility(prev, cfg)
		if !report.Compatible && !req.Force {
			writeJSON(w, http.StatusConflict, acceptResponse{Stored: false, Report: report})
			return
		}
	}

	if err := s.revisions.Store(configID, cfg); err != nil {
		s.logger.Error("store config revision", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}

	s.logger.Info("config revision accepted",
		zap.String("configId", configID), zap.String("version", cfg.Version))
	writeJSON(w, http.StatusOK, acceptResponse{Stored: true, Report: report})
}

type createKeyRequest struct {
	Name      string                 `json:"name"`
	Scopes    []string               `json:"scopes,omitempty"`
	TenantID  string                 `json:"tenantId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
}

type createKeyResponse struct {
	Key    string          `json:"key"`
	Record *auth.KeyRecord `json:"record"`
}

func (s *AdminServer) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if req.Name == "" {
		errors.ErrBadRequest.WithDetails("name is required").WriteJSON(w)
		return
	}

	record, rawKey, err := s.keyMgr.Create(r.Context(), auth.CreateKeyInput{
		Name:      req.Name,
		Scopes:    req.Scopes,
		TenantID:  req.TenantID,
		Metadata:  req.Metadata,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.logger.Error("create api key", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}

	s.logger.Info("api key created", zap.String("id", record.ID), zap.String("name", record.Name))
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: rawKey, Record: record})
}

func (s *AdminServer) handleListKeys(w http.ResponseWriter, r *http.Request) {
	records, err := s.keyMgr.List(r.Context())
	if err != nil {
		s.logger.Error("list api keys", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}
	if records == nil {
		records = []*auth.KeyRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *AdminServer) handleGetKey(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	record, err := s.keyMgr.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		s.logger.Error("get api key", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}
	if record == nil {
		errors.ErrNotFound.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *AdminServer) handleRevokeKey(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.keyMgr.Revoke(r.Context(), ps.ByName("id"))
	if err != nil {
		if gerr, ok := errors.IsGatewayError(err); ok {
			gerr.WriteJSON(w)
			return
		}
		s.logger.Error("revoke api key", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Stats())
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
