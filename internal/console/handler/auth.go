package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

type TokenIssuer interface {
	GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error)
}

type AuthHandler struct {
	service TokenIssuer
	auditor audit.Auditor
}

func NewAuthHandler(s TokenIssuer, auditor audit.Auditor) *AuthHandler {
	return &AuthHandler{service: s, auditor: auditor}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		e := accessEvent(r, audit.ActionLoginFailed, "")
		e.Actor = req.Username
		h.auditor.Log(e)
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	e := accessEvent(r, audit.ActionLogin, "")
	e.Actor = req.Username
	h.auditor.Log(e)
	writeJSON(w, http.StatusOK, resp)
}
