package reconcile

import (
	"sort"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

// Merge объединяет свёртки по ключу. Клиент, известный только одному
// источнику, тоже попадает в результат: недостающие компоненты становятся N/A.
func Merge(
	patch map[string]*domain.PatchStat,
	backup map[string]*domain.BackupStat,
	security map[string]*domain.SecurityStat,
	names Names,
) []domain.CustomerHealthRecord {
	keys := make(map[string]struct{}, len(patch)+len(backup)+len(security))
	for k := range patch {
		keys[k] = struct{}{}
	}
	for k := range backup {
		keys[k] = struct{}{}
	}
	for k := range security {
		keys[k] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	records := make([]domain.CustomerHealthRecord, 0, len(ordered))
	for _, key := range ordered {
		records = append(records, mergeOne(key, patch[key], backup[key], security[key], names))
	}
	return records
}

func mergeOne(key string, p *domain.PatchStat, b *domain.BackupStat, s *domain.SecurityStat, names Names) domain.CustomerHealthRecord {
	rec := domain.CustomerHealthRecord{
		CanonicalKey:       key,
		DisplayName:        names.Resolve(key),
		PatchCompliancePct: PatchCompliance(p),
		BackupHealthPct:    BackupHealth(b),
		SecurityScorePct:   SecurityScore(s),
	}

	// Источники по-разному видят один и тот же компьютер: берём максимум, а не сумму.
	if p != nil {
		rec.Devices = max(rec.Devices, len(p.Devices))
		rec.PatchingIssues = p.Pending
	}
	if b != nil {
		rec.Devices = max(rec.Devices, len(b.Devices))
		rec.BackupErrors = b.Errors
	}
	if s != nil {
		rec.Devices = max(rec.Devices, len(s.Devices))
		rec.CriticalThreats = s.Threats
		rec.AntivirusDevices = len(s.AntivirusDevices)
		rec.EDRDevices = len(s.EDRDevices)
	}

	rec.OverallHealthScore = Score(&rec)
	rec.BackupStatusLabel = BackupLabel(rec.BackupHealthPct)
	rec.SecurityStatus = SecurityLabel(rec.SecurityScorePct, rec.CriticalThreats)
	return rec
}
