package domain

import "strings"

// PatchStatus: нормализованный статус патча из RMM.
type PatchStatus string

const (
	PatchInstalled      PatchStatus = "Installed"
	PatchInstalling     PatchStatus = "Installing"
	PatchRebootRequired PatchStatus = "RebootRequired"
	PatchPending        PatchStatus = "Pending"
	PatchFailed         PatchStatus = "Failed"
	PatchNotApplicable  PatchStatus = "NotApplicable"
	PatchUnknown        PatchStatus = "Unknown" // Учитывается только в total
)

// ParsePatchStatus принимает "Installed", "Reboot Required", "reboot_required" и т.п.
func ParsePatchStatus(raw string) PatchStatus {
	s := strings.ToLower(raw)
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	switch s {
	case "installed":
		return PatchInstalled
	case "installing":
		return PatchInstalling
	case "rebootrequired":
		return PatchRebootRequired
	case "pending":
		return PatchPending
	case "failed":
		return PatchFailed
	case "notapplicable", "na":
		return PatchNotApplicable
	default:
		return PatchUnknown
	}
}

// IsInstalled: патч считается установленным, в том числе если ждёт перезагрузки.
func (s PatchStatus) IsInstalled() bool {
	return s == PatchInstalled || s == PatchInstalling || s == PatchRebootRequired
}

// RawPatchRecord: строка patch_overview.
type RawPatchRecord struct {
	Client string      `json:"client"`
	Device string      `json:"device"`
	Status PatchStatus `json:"status"`
}

// RawBackupRecord: строка backups_overview.
type RawBackupRecord struct {
	PartnerName string `json:"partner_name"`
	DeviceName  string `json:"device_name"`
	TotalStatus string `json:"total_status"`
	Errors      int    `json:"errors"`
}

// RawSecurityRecord: агент антивируса/EDR или инцидент по сайту.
type RawSecurityRecord struct {
	Site               string `json:"site"`
	DeviceID           string `json:"device_id"`
	AntivirusInstalled bool   `json:"antivirus_installed"`
	EDRInstalled       bool   `json:"edr_installed"`
	IncidentStatus     string `json:"incident_status,omitempty"` // пусто — инцидента нет
	ThreatCount        int    `json:"threat_count"`
}

// RawTicketRecord: заявка helpdesk.
type RawTicketRecord struct {
	Customer string `json:"customer"`
	Branch   string `json:"branch"`
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// IsOpen: всё, что не Resolved/Closed, считается открытым.
func (t RawTicketRecord) IsOpen() bool {
	switch strings.ToLower(strings.TrimSpace(t.Status)) {
	case "resolved", "closed":
		return false
	}
	return true
}

func (t RawTicketRecord) IsUrgent() bool {
	switch strings.ToLower(strings.TrimSpace(t.Priority)) {
	case "high", "critical":
		return true
	}
	return false
}

// RawNetworkDeviceRecord: устройство сетевого контроллера (шлюз, свитч, точка доступа).
type RawNetworkDeviceRecord struct {
	Customer string `json:"customer"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"` // online | offline | warning
}

func (d RawNetworkDeviceRecord) IsOffline() bool {
	return strings.EqualFold(strings.TrimSpace(d.Status), "offline")
}

func (d RawNetworkDeviceRecord) IsWarning() bool {
	return strings.EqualFold(strings.TrimSpace(d.Status), "warning")
}

// RawCheckRecord: непройденная проверка RMM.
type RawCheckRecord struct {
	Client string `json:"client"`
	Device string `json:"device"`
	Check  string `json:"check_name"`
}

// Source: идентификатор вышестоящей системы.
type Source string

const (
	SourcePatch    Source = "patch"
	SourceBackup   Source = "backup"
	SourceSecurity Source = "security"

	SourceTickets Source = "tickets"
	SourceNetwork Source = "network"
	SourceChecks  Source = "checks"
)

// Sources фиксирует порядок обхода источников, по которым считается здоровье.
var Sources = []Source{SourcePatch, SourceBackup, SourceSecurity}

// OperationalSources дополняют запись клиента, но в оценку не входят.
var OperationalSources = []Source{SourceTickets, SourceNetwork, SourceChecks}
