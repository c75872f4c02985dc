package audit

import "time"

// Action: что сделал субъект.
type Action string

const (
	ActionLogin         Action = "LOGIN"
	ActionLoginFailed   Action = "LOGIN_FAILED"
	ActionDashboardView Action = "DASHBOARD_VIEW"
	ActionCustomerView  Action = "CUSTOMER_VIEW"
	ActionShareCreated  Action = "SHARE_LINK_CREATED"
	ActionSyncRequested Action = "SYNC_REQUESTED"
)

// AccessEvent: одна запись журнала доступа к данным клиентов.
type AccessEvent struct {
	ID         string         `json:"id"`                    // UUID события
	TraceID    string         `json:"trace_id"`              // Сквозной ID запроса
	Actor      string         `json:"actor"`                 // user id или share:<customer>
	Role       string         `json:"role"`                  // admin / customer
	Action     Action         `json:"action"`                //
	CustomerID string         `json:"customer_id,omitempty"` // Чьи данные смотрели
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
