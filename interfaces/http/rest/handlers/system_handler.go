package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves health, readiness and version.
type SystemHandler struct {
	store        Pinger
	version      string
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(store Pinger, version string, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *SystemHandler {
	return &SystemHandler{
		store:        store,
		version:      version,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// Health handles GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready by pinging the wish store.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.errorHandler.Handle(w, r, pkgerrors.NewUnavailableError("wish store", err))
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ready"})
}

// Version handles GET /version
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"version": h.version})
}
