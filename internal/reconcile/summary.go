package reconcile

import (
	"math"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

// Summarize сворачивает записи в сводку. Средние считаются только по клиентам,
// у которых компонент есть: "N/A" не превращается в ноль.
func Summarize(records []domain.CustomerHealthRecord) domain.DashboardSummary {
	sum := domain.DashboardSummary{Customers: len(records)}
	var patch, backup, security, health mean

	for _, r := range records {
		sum.TotalDevices += r.Devices
		sum.TotalCriticalThreats += r.CriticalThreats
		sum.TotalPatchingIssues += r.PatchingIssues
		sum.TotalBackupErrors += r.BackupErrors

		patch.add(r.PatchCompliancePct)
		backup.add(r.BackupHealthPct)
		security.add(r.SecurityScorePct)
		health.add(domain.PercentOf(r.OverallHealthScore))

		if ops := r.Operations; ops != nil {
			sum.TotalOpenTickets += ops.OpenTickets
			sum.TotalUrgentTickets += ops.UrgentTickets
			sum.TotalNetworkOffline += ops.NetworkOffline
			sum.TotalFailingChecks += ops.FailingChecks
		}

		switch r.SecurityStatus {
		case domain.SecurityProtected:
			sum.Protected++
		case domain.SecurityAtRisk:
			sum.AtRisk++
		}
		switch r.BackupStatusLabel {
		case domain.BackupGood:
			sum.BackupGood++
		case domain.BackupWarning:
			sum.BackupWarning++
		case domain.BackupCritical:
			sum.BackupCritical++
		}
	}

	sum.AvgPatchCompliance = patch.value()
	sum.AvgBackupHealth = backup.value()
	sum.AvgSecurityScore = security.value()
	sum.AvgHealthScore = health.value()
	return sum
}

type mean struct {
	total, n int
}

func (m *mean) add(p domain.Percent) {
	if p.Valid {
		m.total += p.Value
		m.n++
	}
}

func (m mean) value() domain.Percent {
	if m.n == 0 {
		return domain.NoData
	}
	return domain.PercentOf(int(math.Round(float64(m.total) / float64(m.n))))
}
