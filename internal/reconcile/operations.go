package reconcile

import "github.com/xela07ax/msp-compliance-console/internal/domain"

// OperationsRollup: тикеты, сеть и проверки по каноническому ключу.
type OperationsRollup struct {
	Stats   map[string]*domain.OperationalStatus
	Skipped map[domain.Source]int
}

type netDevice struct {
	offline bool
	warning bool
}

// AggregateOperations сворачивает операционные источники. Ключи считаются
// тем же Normalize, что и для patch/backup/security, но имена не участвуют
// в выборе отображаемого имени клиента.
func AggregateOperations(tickets []domain.RawTicketRecord, network []domain.RawNetworkDeviceRecord, checks []domain.RawCheckRecord) OperationsRollup {
	out := OperationsRollup{
		Stats:   make(map[string]*domain.OperationalStatus),
		Skipped: map[domain.Source]int{domain.SourceTickets: 0, domain.SourceNetwork: 0, domain.SourceChecks: 0},
	}
	stat := func(key string) *domain.OperationalStatus {
		st := out.Stats[key]
		if st == nil {
			st = &domain.OperationalStatus{}
			out.Stats[key] = st
		}
		return st
	}

	for _, t := range tickets {
		key, ok := CanonicalKey(t.Customer)
		if !ok {
			out.Skipped[domain.SourceTickets]++
			continue
		}
		st := stat(key)
		if t.IsOpen() {
			st.OpenTickets++
			if t.IsUrgent() {
				st.UrgentTickets++
			}
		}
	}

	// Одно устройство может прийти несколькими строками: плохое состояние побеждает
	devices := make(map[string]map[string]netDevice)
	for _, d := range network {
		key, ok := CanonicalKey(d.Customer)
		if !ok {
			out.Skipped[domain.SourceNetwork]++
			continue
		}
		stat(key)
		m := devices[key]
		if m == nil {
			m = make(map[string]netDevice)
			devices[key] = m
		}
		cur := m[d.Name]
		cur.offline = cur.offline || d.IsOffline()
		cur.warning = cur.warning || d.IsWarning()
		m[d.Name] = cur
	}
	for key, m := range devices {
		st := out.Stats[key]
		st.NetworkDevices = len(m)
		for _, d := range m {
			switch {
			case d.offline:
				st.NetworkOffline++
			case d.warning:
				st.NetworkWarning++
			}
		}
	}

	for _, c := range checks {
		key, ok := CanonicalKey(c.Client)
		if !ok {
			out.Skipped[domain.SourceChecks]++
			continue
		}
		stat(key).FailingChecks++
	}
	return out
}

// AttachOperations дописывает операционный статус к записям по ключу и
// возвращает число ключей, которых нет среди записей. Такие клиенты не
// добавляются: без patch/backup/security им нечего показать в оценке.
func AttachOperations(records []domain.CustomerHealthRecord, ops OperationsRollup) int {
	matched := 0
	for i := range records {
		st, ok := ops.Stats[records[i].CanonicalKey]
		if !ok {
			continue
		}
		cp := *st
		records[i].Operations = &cp
		matched++
	}
	return len(ops.Stats) - matched
}
