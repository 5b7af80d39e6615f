package keepalive

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/server"
	"github.com/HerbHall/keepalive/pkg/plugin"
)

// registerRequest is the JSON body for POST /register. The field names
// match the bridge start command.
type registerRequest struct {
	Handle         string `json:"handle"`
	ForegroundMode *bool  `json:"is_foreground_mode"`
	Run            bool   `json:"run"`
}

type foregroundRequest struct {
	Value *bool `json:"value"`
}

type runResponse struct {
	Outcome Outcome `json:"outcome"`
	Status  Status  `json:"status"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "POST", Path: "/register", Handler: m.handleRegister},
		{Method: "POST", Path: "/run", Handler: m.handleRun},
		{Method: "POST", Path: "/stop", Handler: m.handleStop},
		{Method: "DELETE", Path: "/handle", Handler: m.handleUnregister},
		{Method: "PUT", Path: "/foreground", Handler: m.handleForeground},
	}
}

// handleStatus returns the supervisor snapshot.
func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.sup.Status())
}

// handleRegister stores a new task handle. With "run": true it also requests
// a run, like the bridge start command.
func (m *Module) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Handle == "" {
		server.BadRequest(w, "handle is required", r.URL.Path)
		return
	}
	foreground := true
	if req.ForegroundMode != nil {
		foreground = *req.ForegroundMode
	}

	h, err := m.sup.Register(r.Context(), req.Handle, foreground)
	if err != nil {
		m.logger.Warn("failed to register task handle", zap.Error(err))
		server.InternalError(w, "failed to register task handle", r.URL.Path)
		return
	}
	if req.Run {
		outcome := m.sup.RequestRun(r.Context())
		writeJSON(w, http.StatusOK, runResponse{Outcome: outcome, Status: m.sup.Status()})
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// handleRun requests a run. The outcome is reported; configuration errors
// are not HTTP errors since the watchdog keeps retrying.
func (m *Module) handleRun(w http.ResponseWriter, r *http.Request) {
	outcome := m.sup.RequestRun(r.Context())
	writeJSON(w, http.StatusOK, runResponse{Outcome: outcome, Status: m.sup.Status()})
}

// handleStop terminates the current execution. The watchdog brings it back
// unless the handle is also deleted.
func (m *Module) handleStop(w http.ResponseWriter, r *http.Request) {
	m.sup.Stop(r.Context())
	writeJSON(w, http.StatusOK, m.sup.Status())
}

// handleUnregister is a permanent stop: the handle is cleared and the
// current execution terminated.
func (m *Module) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := m.sup.Unregister(r.Context()); err != nil {
		m.logger.Warn("failed to clear task handle", zap.Error(err))
		server.InternalError(w, "failed to clear task handle", r.URL.Path)
		return
	}
	m.sup.Stop(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleForeground switches foreground mode for the registered handle.
func (m *Module) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		server.BadRequest(w, `body must be {"value": true|false}`, r.URL.Path)
		return
	}

	h, err := m.sup.SetForegroundMode(r.Context(), *req.Value)
	if err != nil {
		if errors.Is(err, ErrNoHandle) {
			server.NotFound(w, "no task handle registered", r.URL.Path)
			return
		}
		m.logger.Warn("failed to set foreground mode", zap.Error(err))
		server.InternalError(w, "failed to set foreground mode", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
