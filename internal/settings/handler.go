// Package settings serves a read-only view of the state keepalived persists:
// the task handle, its foreground flag and the pending watchdog wake-up.
// Writes go through the keepalive routes so the supervisor sees them.
package settings

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/server"
	"github.com/HerbHall/keepalive/internal/services"
)

// Compile-time interface guard.
var _ server.RouteRegistrar = (*Handler)(nil)

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	settings services.SettingsRepository
	logger   *zap.Logger
}

// NewHandler creates a settings Handler.
func NewHandler(settings services.SettingsRepository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{settings: settings, logger: logger}
}

// RegisterRoutes registers settings routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/settings", h.handleList)
	mux.HandleFunc("GET /api/v1/settings/{key}", h.handleGet)
}

// handleList returns all settings, optionally filtered by ?prefix=.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	all, err := h.settings.GetAll(r.Context(), prefix)
	if err != nil {
		h.logger.Error("failed to list settings", zap.String("prefix", prefix), zap.Error(err))
		server.InternalError(w, "failed to list settings", r.URL.Path)
		return
	}
	if all == nil {
		all = []services.Setting{}
	}
	writeJSON(w, http.StatusOK, all)
}

// handleGet returns one setting.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	s, err := h.settings.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			server.NotFound(w, "setting "+key+" not found", r.URL.Path)
			return
		}
		h.logger.Error("failed to get setting", zap.String("key", key), zap.Error(err))
		server.InternalError(w, "failed to get setting", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
