package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/console/service"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

type SyncService interface {
	Request(ctx context.Context, requestedBy string) error
	History(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}

type SyncHandler struct {
	service SyncService
	auditor audit.Auditor
	logger  *zap.Logger
}

func NewSyncHandler(s SyncService, auditor audit.Auditor, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{service: s, auditor: auditor, logger: logger.Named("sync_handler")}
}

// Trigger POST /api/v1/sync
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	if err := h.service.Request(r.Context(), p.UserID); err != nil {
		if errors.Is(err, service.ErrSyncUnavailable) {
			h.logger.Warn("sync request not delivered", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "sync worker unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to request sync")
		return
	}

	h.auditor.Log(accessEvent(r, audit.ActionSyncRequested, ""))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Runs GET /api/v1/sync/runs?limit=N
func (h *SyncHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("sync history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load sync runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
