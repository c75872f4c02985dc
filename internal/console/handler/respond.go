package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// accessEvent заполняет событие аудита данными запроса.
func accessEvent(r *http.Request, action audit.Action, customerID string) audit.AccessEvent {
	e := audit.AccessEvent{
		TraceID:    engine.TraceID(r.Context()),
		Action:     action,
		CustomerID: customerID,
		RemoteAddr: r.RemoteAddr,
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		e.Actor = p.Actor()
		e.Role = string(p.Role)
	}
	return e
}
