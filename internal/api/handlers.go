// Package api exposes the execution plane over HTTP: deploy, execute,
// subscribe, plus stats and health endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/executor"
	"github.com/divitsinghall/Vortex/internal/gateway"
	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/divitsinghall/Vortex/internal/pool"
	"github.com/divitsinghall/Vortex/internal/store"
	"github.com/google/uuid"
)

// Handler wires the HTTP surface to the execution plane.
type Handler struct {
	Store   store.Store
	Exec    *executor.Executor
	Gateway *gateway.Gateway
	Pool    *pool.Pool
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /functions", h.Deploy)
	mux.HandleFunc("GET /functions/{id}", h.GetFunction)
	mux.HandleFunc("POST /functions/{id}/execute", h.Execute)
	mux.HandleFunc("GET /functions/{id}/subscribe", h.Gateway.Subscribe)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /healthz", h.Health)
}

// Deploy handles POST /functions
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req domain.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewExecError(domain.ErrKindInvalidRequest, "invalid JSON body"))
		return
	}
	if req.Source == "" {
		writeError(w, domain.NewExecError(domain.ErrKindInvalidRequest, "empty source"))
		return
	}

	id := uuid.New().String()
	if err := h.Store.Save(r.Context(), id, req.Source); err != nil {
		logging.Op().Error("deploy: store save failed", "function", id, "error", err)
		writeError(w, domain.NewExecError(domain.ErrKindInternal, "store failure"))
		return
	}

	logging.Op().Info("function deployed", "function", id, "source_bytes", len(req.Source))
	writeJSON(w, http.StatusOK, domain.DeployResponse{FunctionID: id})
}

// GetFunction handles GET /functions/{id}
func (h *Handler) GetFunction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	source, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, domain.NewExecError(domain.ErrKindNotFound, "unknown function %q", id))
			return
		}
		logging.Op().Error("get function: store failed", "function", id, "error", err)
		writeError(w, domain.NewExecError(domain.ErrKindInternal, "store failure"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"function_id": id, "source": source})
}

// Execute handles POST /functions/{id}/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	source, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, domain.NewExecError(domain.ErrKindNotFound, "unknown function %q", id))
			return
		}
		logging.Op().Error("execute: store failed", "function", id, "error", err)
		writeError(w, domain.NewExecError(domain.ErrKindInternal, "store failure"))
		return
	}

	resp, err := h.Exec.Execute(r.Context(), id, source)
	if err != nil {
		if domain.KindOf(err) == domain.ErrKindAborted {
			// The caller is gone; there is nobody to respond to.
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Pool.Stats())
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForKind maps the closed error set to HTTP statuses.
func statusForKind(kind domain.ErrKind) int {
	switch kind {
	case domain.ErrKindInvalidRequest:
		return http.StatusBadRequest
	case domain.ErrKindNotFound:
		return http.StatusNotFound
	case domain.ErrKindCapacityExceeded:
		return http.StatusServiceUnavailable
	case domain.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	body := errorBody{Error: string(kind)}
	var ee *domain.ExecError
	if errors.As(err, &ee) {
		body.Detail = ee.Detail
	}
	writeJSON(w, statusForKind(kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
