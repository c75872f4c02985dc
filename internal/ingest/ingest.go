// Package ingest: типизированная граница для строк из вышестоящих систем.
// Строки приходят слабо типизированным JSON; сюда попадает всё, что нужно
// привести к Raw*Record или отправить в карантин до бизнес-логики.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

var (
	ErrMissingName  = errors.New("missing customer name")
	ErrInvalidField = errors.New("invalid field")
)

// Row: одна строка ответа table/view API.
type Row = map[string]any

// Quarantined: отклонённая строка и причина.
type Quarantined struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Row    Row    `json:"row"`
}

// Report: итог разбора одного источника.
type Report struct {
	Source      domain.Source `json:"source"`
	Accepted    int           `json:"accepted"`
	Quarantined []Quarantined `json:"quarantined,omitempty"`
}

func (r *Report) reject(i int, row Row, err error) {
	r.Quarantined = append(r.Quarantined, Quarantined{Index: i, Reason: err.Error(), Row: row})
}

// Алиасы полей в разных выгрузках одного и того же источника.
var (
	patchClientKeys  = []string{"client", "customer"}
	patchDeviceKeys  = []string{"device", "device_name"}
	patchStatusKeys  = []string{"status"}
	backupNameKeys   = []string{"partner_name", "customer"}
	backupDeviceKeys = []string{"device_name", "computer_name"}
	backupStatusKeys = []string{"total_status", "status"}
	backupErrorKeys  = []string{"errors", "error_count"}
	secSiteKeys      = []string{"site", "customer"}
	secDeviceKeys    = []string{"endpoints", "device_name", "agent_id"}
	secAVKeys        = []string{"av_installed", "antivirus_installed"}
	secEDRKeys       = []string{"edr_installed", "s1_installed"}
	secIncidentKeys  = []string{"incident_status"}
	secThreatKeys    = []string{"threat_count", "active_threats"}

	ticketNameKeys     = []string{"customer", "client"}
	ticketBranchKeys   = []string{"branch", "site"}
	ticketSubjectKeys  = []string{"subject", "title"}
	ticketPriorityKeys = []string{"priority"}
	ticketStatusKeys   = []string{"status"}
	netNameKeys        = []string{"customer", "site"}
	netDeviceKeys      = []string{"name", "device_name"}
	netTypeKeys        = []string{"type", "device_type"}
	netStatusKeys      = []string{"status"}
	checkClientKeys    = []string{"client", "customer"}
	checkDeviceKeys    = []string{"device", "device_name"}
	checkNameKeys      = []string{"check_name", "check", "description"}
)

func DecodePatchRows(rows []Row) ([]domain.RawPatchRecord, Report) {
	rep := Report{Source: domain.SourcePatch}
	out := make([]domain.RawPatchRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodePatch(row)
		if err != nil {
			rep.reject(i, row, err)
			continue
		}
		out = append(out, rec)
	}
	rep.Accepted = len(out)
	return out, rep
}

func decodePatch(row Row) (domain.RawPatchRecord, error) {
	client, err := requiredName(row, patchClientKeys)
	if err != nil {
		return domain.RawPatchRecord{}, err
	}
	device, err := optionalString(row, patchDeviceKeys)
	if err != nil {
		return domain.RawPatchRecord{}, err
	}
	status, err := optionalString(row, patchStatusKeys)
	if err != nil {
		return domain.RawPatchRecord{}, err
	}
	return domain.RawPatchRecord{
		Client: client,
		Device: device,
		Status: domain.ParsePatchStatus(status),
	}, nil
}

func DecodeBackupRows(rows []Row) ([]domain.RawBackupRecord, Report) {
	rep := Report{Source: domain.SourceBackup}
	out := make([]domain.RawBackupRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeBackup(row)
		if err != nil {
			rep.reject(i, row, err)
			continue
		}
		out = append(out, rec)
	}
	rep.Accepted = len(out)
	return out, rep
}

func decodeBackup(row Row) (domain.RawBackupRecord, error) {
	name, err := requiredName(row, backupNameKeys)
	if err != nil {
		return domain.RawBackupRecord{}, err
	}
	device, err := optionalString(row, backupDeviceKeys)
	if err != nil {
		return domain.RawBackupRecord{}, err
	}
	status, err := optionalString(row, backupStatusKeys)
	if err != nil {
		return domain.RawBackupRecord{}, err
	}
	errCount, err := optionalInt(row, backupErrorKeys)
	if err != nil {
		return domain.RawBackupRecord{}, err
	}
	if errCount < 0 {
		return domain.RawBackupRecord{}, fmt.Errorf("%w: negative errors %d", ErrInvalidField, errCount)
	}
	return domain.RawBackupRecord{
		PartnerName: name,
		DeviceName:  device,
		TotalStatus: status,
		Errors:      errCount,
	}, nil
}

func DecodeSecurityRows(rows []Row) ([]domain.RawSecurityRecord, Report) {
	rep := Report{Source: domain.SourceSecurity}
	out := make([]domain.RawSecurityRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeSecurity(row)
		if err != nil {
			rep.reject(i, row, err)
			continue
		}
		out = append(out, rec)
	}
	rep.Accepted = len(out)
	return out, rep
}

func decodeSecurity(row Row) (domain.RawSecurityRecord, error) {
	var rec domain.RawSecurityRecord
	var err error

	if rec.Site, err = requiredName(row, secSiteKeys); err != nil {
		return rec, err
	}
	if rec.DeviceID, err = optionalString(row, secDeviceKeys); err != nil {
		return rec, err
	}
	if rec.AntivirusInstalled, err = optionalBool(row, secAVKeys); err != nil {
		return rec, err
	}
	if rec.EDRInstalled, err = optionalBool(row, secEDRKeys); err != nil {
		return rec, err
	}
	if rec.IncidentStatus, err = optionalString(row, secIncidentKeys); err != nil {
		return rec, err
	}
	if rec.ThreatCount, err = optionalInt(row, secThreatKeys); err != nil {
		return rec, err
	}
	if rec.ThreatCount < 0 {
		return rec, fmt.Errorf("%w: negative threat_count %d", ErrInvalidField, rec.ThreatCount)
	}
	return rec, nil
}

func DecodeTicketRows(rows []Row) ([]domain.RawTicketRecord, Report) {
	rep := Report{Source: domain.SourceTickets}
	out := make([]domain.RawTicketRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeTicket(row)
		if err != nil {
			rep.reject(i, row, err)
			continue
		}
		out = append(out, rec)
	}
	rep.Accepted = len(out)
	return out, rep
}

func decodeTicket(row Row) (domain.RawTicketRecord, error) {
	var rec domain.RawTicketRecord
	var err error

	if rec.Customer, err = requiredName(row, ticketNameKeys); err != nil {
		return rec, err
	}
	if rec.Branch, err = optionalString(row, ticketBranchKeys); err != nil {
		return rec, err
	}
	if rec.Subject, err = optionalString(row, ticketSubjectKeys); err != nil {
		return rec, err
	}
	if rec.Priority, err = optionalString(row, ticketPriorityKeys); err != nil {
		return rec, err
	}
	// Без статуса непонятно, открыта ли заявка
	if rec.Status, err = requiredString(row, ticketStatusKeys); err != nil {
		return rec, err
	}
	return rec, nil
}

func DecodeNetworkRows(rows []Row) ([]domain.RawNetworkDeviceRecord, Report) {
	rep := Report{Source: domain.SourceNetwork}
	out := make([]domain.RawNetworkDeviceRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeNetwork(row)
		if err != nil {
			rep.reject(i, row, err)
			continue
		}
		out = append(out, rec)
	}
	rep.Accepted = len(out)
	return out, rep
}

func decodeNetwork(row Row) (domain.RawNetworkDeviceRecord, error) {
	var rec domain.RawNetworkDeviceRecord
	var err error

	if rec.Customer, err = requiredName(row, netNameKeys); err != nil {
		return rec, err
	}
	// Устройства считаются по имени
	if rec.Name, err = requiredString(row, netDeviceKeys); err != nil {
		return rec, err
	}
	if rec.Type, err = optionalString(row, netTypeKeys); err != nil {
		return rec, err
	}
	if rec.Status, err = optionalString(row, netStatusKeys); err != nil {
		return rec, err
	}
	return rec, nil
}

func DecodeCheckRows(rows []Row) ([]domain.RawCheckRecord, Report) {
	rep := Report{Source: domain.SourceChecks}
	out := make([]domain.RawCheckRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeCheck(row)
		if err != nil {
			rep.reject(i, row, err)
			continue
		}
		out = append(out, rec)
	}
	rep.Accepted = len(out)
	return out, rep
}

func decodeCheck(row Row) (domain.RawCheckRecord, error) {
	var rec domain.RawCheckRecord
	var err error

	if rec.Client, err = requiredName(row, checkClientKeys); err != nil {
		return rec, err
	}
	if rec.Device, err = optionalString(row, checkDeviceKeys); err != nil {
		return rec, err
	}
	if rec.Check, err = optionalString(row, checkNameKeys); err != nil {
		return rec, err
	}
	return rec, nil
}

// lookup возвращает первое не-nil значение по списку алиасов.
func lookup(row Row, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

func requiredName(row Row, keys []string) (string, error) {
	k, v, ok := lookup(row, keys)
	if !ok {
		return "", fmt.Errorf("%w: none of %v present", ErrMissingName, keys)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidField, k, err)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrMissingName, k)
	}
	return s, nil
}

func requiredString(row Row, keys []string) (string, error) {
	s, err := optionalString(row, keys)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: none of %v present", ErrInvalidField, keys)
	}
	return s, nil
}

func optionalString(row Row, keys []string) (string, error) {
	k, v, ok := lookup(row, keys)
	if !ok {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidField, k, err)
	}
	return strings.TrimSpace(s), nil
}

func optionalInt(row Row, keys []string) (int, error) {
	k, v, ok := lookup(row, keys)
	if !ok {
		return 0, nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidField, k, err)
	}
	return n, nil
}

func optionalBool(row Row, keys []string) (bool, error) {
	k, v, ok := lookup(row, keys)
	if !ok {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidField, k, err)
	}
	return b, nil
}
