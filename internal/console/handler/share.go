package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/console/service"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

type ShareCreator interface {
	CreateLink(ctx context.Context, customerID string, days int) (*domain.ShareLink, error)
}

type ShareHandler struct {
	service ShareCreator
	auditor audit.Auditor
	logger  *zap.Logger
}

func NewShareHandler(s ShareCreator, auditor audit.Auditor, logger *zap.Logger) *ShareHandler {
	return &ShareHandler{service: s, auditor: auditor, logger: logger.Named("share_handler")}
}

type createShareRequest struct {
	CustomerID    string `json:"customer_id"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// Create POST /api/v1/share-links
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	link, err := h.service.CreateLink(r.Context(), req.CustomerID, req.ExpiresInDays)
	switch {
	case errors.Is(err, service.ErrInvalidCustomer), errors.Is(err, service.ErrInvalidExpiry):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer not found")
		return
	case err != nil:
		h.logger.Error("share link failed", zap.String("customer_id", req.CustomerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create share link")
		return
	}

	e := accessEvent(r, audit.ActionShareCreated, link.CustomerID)
	e.Details = map[string]any{"expires_in_days": link.ExpiresInDays}
	h.auditor.Log(e)

	writeJSON(w, http.StatusCreated, link)
}
