package domain

import "time"

type SyncStatus string

const (
	SyncRunning SyncStatus = "RUNNING"
	SyncSuccess SyncStatus = "SUCCESS"
	SyncPartial SyncStatus = "PARTIAL" // Часть источников недоступна
	SyncFailed  SyncStatus = "FAILED"
)

// SyncRun: запись о прогоне синхронизации вышестоящих систем.
type SyncRun struct {
	ID           string     `json:"id"`
	Trigger      string     `json:"trigger"` // "schedule" или ID администратора
	Status       SyncStatus `json:"status"`
	PatchRows    int        `json:"patch_rows"`
	BackupRows   int        `json:"backup_rows"`
	SecurityRows int        `json:"security_rows"`
	OpsRows      int        `json:"ops_rows"` // Тикеты, сеть и проверки вместе
	Quarantined  int        `json:"quarantined_rows"`
	Error        *string    `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Snapshot: полный набор сырых записей за один прогон.
// nil-слайс означает, что источник не получен и его таблица не трогается.
type Snapshot struct {
	Patches  []RawPatchRecord
	Backups  []RawBackupRecord
	Security []RawSecurityRecord

	Tickets []RawTicketRecord
	Network []RawNetworkDeviceRecord
	Checks  []RawCheckRecord
}
