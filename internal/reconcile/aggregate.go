package reconcile

import (
	"strings"
	"unicode/utf8"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

// Names собирает отображаемые имена по ключу. Побеждает самое длинное
// сырое имя ("Acme Corporation Pty Ltd" против "Acme"), при равной длине — первое.
type Names map[string]string

func (n Names) Observe(key, raw string) {
	if n == nil {
		return
	}
	raw = strings.TrimSpace(raw)
	cur, ok := n[key]
	if !ok || utf8.RuneCountInString(raw) > utf8.RuneCountInString(cur) {
		n[key] = raw
	}
}

func (n Names) Resolve(key string) string {
	if name, ok := n[key]; ok && name != "" {
		return name
	}
	return key
}

// PatchRollup: свёртка patch-источника. Skipped — строки без имени клиента.
type PatchRollup struct {
	Stats   map[string]*domain.PatchStat
	Skipped int
}

type BackupRollup struct {
	Stats   map[string]*domain.BackupStat
	Skipped int
}

type SecurityRollup struct {
	Stats   map[string]*domain.SecurityStat
	Skipped int
}

// AggregatePatches считает total/installed/pending и уникальные устройства по ключу.
func AggregatePatches(records []domain.RawPatchRecord, names Names) PatchRollup {
	out := PatchRollup{Stats: make(map[string]*domain.PatchStat)}
	for _, r := range records {
		key, ok := CanonicalKey(r.Client)
		if !ok {
			out.Skipped++
			continue
		}
		names.Observe(key, r.Client)

		st := out.Stats[key]
		if st == nil {
			st = &domain.PatchStat{Devices: make(map[string]struct{})}
			out.Stats[key] = st
		}
		st.Total++
		switch {
		case r.Status.IsInstalled():
			st.Installed++
		case r.Status == domain.PatchPending:
			st.Pending++
		}
		if d := strings.TrimSpace(r.Device); d != "" {
			st.Devices[d] = struct{}{}
		}
	}
	return out
}

// AggregateBackups: успехом считается total_status "success" или "completed" в любом регистре.
func AggregateBackups(records []domain.RawBackupRecord, names Names) BackupRollup {
	out := BackupRollup{Stats: make(map[string]*domain.BackupStat)}
	for _, r := range records {
		key, ok := CanonicalKey(r.PartnerName)
		if !ok {
			out.Skipped++
			continue
		}
		names.Observe(key, r.PartnerName)

		st := out.Stats[key]
		if st == nil {
			st = &domain.BackupStat{Devices: make(map[string]struct{})}
			out.Stats[key] = st
		}
		st.Total++
		if isBackupSuccess(r.TotalStatus) {
			st.Success++
		}
		if r.Errors > 0 {
			st.Errors += r.Errors
		}
		if d := strings.TrimSpace(r.DeviceName); d != "" {
			st.Devices[d] = struct{}{}
		}
	}
	return out
}

func isBackupSuccess(status string) bool {
	s := strings.TrimSpace(status)
	return strings.EqualFold(s, "success") || strings.EqualFold(s, "completed")
}

// AggregateSecurity считает агентов и неразрешённые угрозы.
// Строка с incident_status — это инцидент: угроза, пока статус не "resolved".
// Строка без инцидента добавляет свой threat_count (счётчик антивируса).
func AggregateSecurity(records []domain.RawSecurityRecord, names Names) SecurityRollup {
	out := SecurityRollup{Stats: make(map[string]*domain.SecurityStat)}
	for _, r := range records {
		key, ok := CanonicalKey(r.Site)
		if !ok {
			out.Skipped++
			continue
		}
		names.Observe(key, r.Site)

		st := out.Stats[key]
		if st == nil {
			st = &domain.SecurityStat{
				Devices:          make(map[string]struct{}),
				AntivirusDevices: make(map[string]struct{}),
				EDRDevices:       make(map[string]struct{}),
			}
			out.Stats[key] = st
		}
		st.Total++

		incident := strings.TrimSpace(r.IncidentStatus)
		switch {
		case incident != "":
			if !strings.EqualFold(incident, "resolved") {
				st.Threats++
			}
		case r.ThreatCount > 0:
			st.Threats += r.ThreatCount
		}

		d := strings.TrimSpace(r.DeviceID)
		if d == "" {
			continue
		}
		st.Devices[d] = struct{}{}
		if r.AntivirusInstalled {
			st.AntivirusDevices[d] = struct{}{}
		}
		if r.EDRInstalled {
			st.EDRDevices[d] = struct{}{}
		}
	}
	return out
}
