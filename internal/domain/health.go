package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const notAvailable = "N/A"

// Percent: значение 0..100 либо "нет данных".
// Отсутствие данных не равно 0%: N/A означает, что источник вообще не знает клиента.
type Percent struct {
	Value int
	Valid bool
}

func PercentOf(v int) Percent { return Percent{Value: v, Valid: true} }

// NoData: N/A.
var NoData = Percent{}

func (p Percent) String() string {
	if !p.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%d", p.Value)
}

func (p Percent) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return json.Marshal(notAvailable)
	}
	return json.Marshal(p.Value)
}

func (p *Percent) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*p = NoData
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != notAvailable {
			return fmt.Errorf("percent: unexpected string %q", s)
		}
		*p = NoData
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("percent: %w", err)
	}
	*p = PercentOf(v)
	return nil
}

type BackupStatus string

const (
	BackupGood     BackupStatus = "Good"
	BackupWarning  BackupStatus = "Warning"
	BackupCritical BackupStatus = "Critical"
	BackupNA       BackupStatus = notAvailable
)

type SecurityStatus string

const (
	SecurityProtected SecurityStatus = "Protected"
	SecurityAtRisk    SecurityStatus = "At Risk"
	SecurityNA        SecurityStatus = notAvailable
)

// PatchStat: свёртка patch-источника по одному каноническому ключу.
type PatchStat struct {
	Total     int
	Installed int
	Pending   int
	Devices   map[string]struct{}
}

// BackupStat: свёртка backup-источника.
type BackupStat struct {
	Total   int
	Success int
	Errors  int
	Devices map[string]struct{}
}

// SecurityStat: свёртка AV/EDR-источника.
// Флаги антивируса и EDR независимы: устройство может иметь оба.
type SecurityStat struct {
	Total            int
	Threats          int
	Devices          map[string]struct{}
	AntivirusDevices map[string]struct{}
	EDRDevices       map[string]struct{}
}

func (s *SecurityStat) HasAntivirus() bool { return s != nil && len(s.AntivirusDevices) > 0 }
func (s *SecurityStat) HasEDR() bool       { return s != nil && len(s.EDRDevices) > 0 }

// CustomerHealthRecord: итоговая запись для дашборда.
type CustomerHealthRecord struct {
	CanonicalKey       string         `json:"id"`
	DisplayName        string         `json:"name"`
	Devices            int            `json:"devices"`
	PatchCompliancePct Percent        `json:"patch_compliance"`
	BackupHealthPct    Percent        `json:"backup_health"`
	SecurityScorePct   Percent        `json:"security_score"`
	OverallHealthScore int            `json:"health_score"`
	CriticalThreats    int            `json:"critical_threats"`
	PatchingIssues     int            `json:"patching_issues"`
	BackupErrors       int            `json:"backup_errors"`
	AntivirusDevices   int            `json:"antivirus_devices"`
	EDRDevices         int            `json:"edr_devices"`
	BackupStatusLabel  BackupStatus   `json:"backup_status"`
	SecurityStatus     SecurityStatus `json:"security_status"`

	// nil, если ни тикетов, ни сети, ни проверок по клиенту нет
	Operations *OperationalStatus `json:"operations,omitempty"`
}

// OperationalStatus: helpdesk, сетевые устройства и проверки RMM. В оценку здоровья не входят.
type OperationalStatus struct {
	OpenTickets    int `json:"open_tickets"`
	UrgentTickets  int `json:"urgent_tickets"` // Открытые High/Critical
	NetworkDevices int `json:"network_devices"`
	NetworkOffline int `json:"network_offline"`
	NetworkWarning int `json:"network_warning"`
	FailingChecks  int `json:"failing_checks"`
}

// DashboardSnapshot: результат одного цикла обновления.
type DashboardSnapshot struct {
	Customers   []CustomerHealthRecord `json:"customers"`
	Summary     DashboardSummary       `json:"summary"`
	GeneratedAt time.Time              `json:"generated_at"`
	// Источники, которые не удалось получить в этом цикле
	Degraded []Source `json:"degraded_sources,omitempty"`
}

// DashboardSummary: сводка по видимым клиентам для верхних карточек дашборда.
type DashboardSummary struct {
	Customers            int     `json:"customers"`
	TotalDevices         int     `json:"total_devices"`
	AvgPatchCompliance   Percent `json:"avg_patch_compliance"`
	AvgBackupHealth      Percent `json:"avg_backup_health"`
	AvgSecurityScore     Percent `json:"avg_security_score"`
	AvgHealthScore       Percent `json:"avg_health_score"`
	TotalCriticalThreats int     `json:"total_critical_threats"`
	TotalPatchingIssues  int     `json:"total_patching_issues"`
	TotalBackupErrors    int     `json:"total_backup_errors"`
	Protected            int     `json:"protected"`
	AtRisk               int     `json:"at_risk"`
	BackupGood           int     `json:"backup_good"`
	BackupWarning        int     `json:"backup_warning"`
	BackupCritical       int     `json:"backup_critical"`
	TotalOpenTickets     int     `json:"total_open_tickets"`
	TotalUrgentTickets   int     `json:"total_urgent_tickets"`
	TotalNetworkOffline  int     `json:"total_network_offline"`
	TotalFailingChecks   int     `json:"total_failing_checks"`
}
