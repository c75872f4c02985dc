package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/console/service"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	Snapshot(ctx context.Context, scope service.Scope) (*domain.DashboardSnapshot, error)
	Customer(ctx context.Context, scope service.Scope, id string) (*domain.CustomerHealthRecord, error)
}

type ShareVerifier interface {
	Verify(token string) (*domain.ShareClaims, error)
}

type DashboardHandler struct {
	service DashboardService
	shares  ShareVerifier
	auditor audit.Auditor
	logger  *zap.Logger
}

func NewDashboardHandler(s DashboardService, shares ShareVerifier, auditor audit.Auditor, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{service: s, shares: shares, auditor: auditor, logger: logger.Named("dashboard_handler")}
}

// ListCustomers GET /api/v1/dashboard/customers
func (h *DashboardHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.writeSnapshot(w, r, service.Scope{CustomerID: p.CustomerID})
}

// GetCustomer GET /api/v1/dashboard/customers/{id}
func (h *DashboardHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := h.service.Customer(r.Context(), service.Scope{CustomerID: p.CustomerID}, id)
	if errors.Is(err, service.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		h.logger.Error("customer lookup failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load customer")
		return
	}

	h.auditor.Log(accessEvent(r, audit.ActionCustomerView, rec.CanonicalKey))
	writeJSON(w, http.StatusOK, rec)
}

// SharedDashboard GET /s/{token} — вход по share-ссылке без логина.
func (h *DashboardHandler) SharedDashboard(w http.ResponseWriter, r *http.Request) {
	claims, err := h.shares.Verify(chi.URLParam(r, "token"))
	if err != nil {
		h.logger.Warn("share link rejected", zap.Error(err))
		writeError(w, http.StatusForbidden, "invalid or expired share link")
		return
	}
	p := auth.Principal{Role: domain.RoleCustomer, CustomerID: claims.CustomerID, Shared: true}
	r = r.WithContext(auth.WithPrincipal(r.Context(), p))
	h.writeSnapshot(w, r, service.Scope{CustomerID: claims.CustomerID})
}

func (h *DashboardHandler) writeSnapshot(w http.ResponseWriter, r *http.Request, scope service.Scope) {
	snap, err := h.service.Snapshot(r.Context(), scope)
	if err != nil {
		h.logger.Error("dashboard snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute dashboard")
		return
	}

	h.auditor.Log(accessEvent(r, audit.ActionDashboardView, scope.CustomerID))
	writeJSON(w, http.StatusOK, snap)
}
