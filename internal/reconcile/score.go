package reconcile

import (
	"math"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

// NeutralHealthScore: оценка при полном отсутствии данных. Не 0, чтобы
// клиент без данных не выглядел критическим.
const NeutralHealthScore = 50

const threatPenalty = 10

// ratio округляет part/total*100 до целого; total == 0 даёт 0, а не N/A.
func ratio(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func PatchCompliance(st *domain.PatchStat) domain.Percent {
	if st == nil {
		return domain.NoData
	}
	return domain.PercentOf(ratio(st.Installed, st.Total))
}

func BackupHealth(st *domain.BackupStat) domain.Percent {
	if st == nil {
		return domain.NoData
	}
	return domain.PercentOf(ratio(st.Success, st.Total))
}

func SecurityScore(st *domain.SecurityStat) domain.Percent {
	if st == nil {
		return domain.NoData
	}
	if st.Threats == 0 {
		return domain.PercentOf(100)
	}
	return domain.PercentOf(max(0, 100-st.Threats*threatPenalty))
}

// Score: среднее по компонентам, для которых есть данные.
func Score(rec *domain.CustomerHealthRecord) int {
	if rec == nil {
		return NeutralHealthScore
	}
	sum, n := 0, 0
	for _, p := range []domain.Percent{rec.PatchCompliancePct, rec.BackupHealthPct, rec.SecurityScorePct} {
		if p.Valid {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return NeutralHealthScore
	}
	return int(math.Round(float64(sum) / float64(n)))
}

func BackupLabel(p domain.Percent) domain.BackupStatus {
	switch {
	case !p.Valid:
		return domain.BackupNA
	case p.Value >= 90:
		return domain.BackupGood
	case p.Value >= 70:
		return domain.BackupWarning
	default:
		return domain.BackupCritical
	}
}

func SecurityLabel(score domain.Percent, threats int) domain.SecurityStatus {
	switch {
	case !score.Valid:
		return domain.SecurityNA
	case threats == 0:
		return domain.SecurityProtected
	default:
		return domain.SecurityAtRisk
	}
}
