package reconcile

import "github.com/xela07ax/msp-compliance-console/internal/domain"

// Result: записи плюс число строк, пропущенных каждым агрегатором.
type Result struct {
	Records []domain.CustomerHealthRecord
	Skipped map[domain.Source]int
	// Ключи операционных источников без записи о здоровье
	Unmatched int
}

// Compute: полный проход: нормализация, свёртки, слияние, оценка.
// Чистая функция без общего состояния; определена для любых входов.
func Compute(patch []domain.RawPatchRecord, backup []domain.RawBackupRecord, security []domain.RawSecurityRecord) Result {
	names := make(Names)

	// Порядок важен только для выбора имени при равной длине.
	p := AggregatePatches(patch, names)
	b := AggregateBackups(backup, names)
	s := AggregateSecurity(security, names)

	return Result{
		Records: Merge(p.Stats, b.Stats, s.Stats, names),
		Skipped: map[domain.Source]int{
			domain.SourcePatch:    p.Skipped,
			domain.SourceBackup:   b.Skipped,
			domain.SourceSecurity: s.Skipped,
		},
	}
}

// ComputeHealthRecords возвращает только записи; пустые входы дают пустой (не nil) список.
func ComputeHealthRecords(patch []domain.RawPatchRecord, backup []domain.RawBackupRecord, security []domain.RawSecurityRecord) []domain.CustomerHealthRecord {
	return Compute(patch, backup, security).Records
}

// ComputeSnapshot считает записи по трём источникам здоровья и дополняет их
// тикетами, сетью и проверками RMM. Оценка от операционных данных не зависит.
func ComputeSnapshot(s domain.Snapshot) Result {
	res := Compute(s.Patches, s.Backups, s.Security)

	ops := AggregateOperations(s.Tickets, s.Network, s.Checks)
	res.Unmatched = AttachOperations(res.Records, ops)
	for src, n := range ops.Skipped {
		res.Skipped[src] = n
	}
	return res
}
