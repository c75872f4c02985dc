package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

func TestComputeEmptyInputs(t *testing.T) {
	records := ComputeHealthRecords(nil, nil, nil)
	require.NotNil(t, records)
	assert.Empty(t, records)

	records = ComputeHealthRecords([]domain.RawPatchRecord{}, []domain.RawBackupRecord{}, []domain.RawSecurityRecord{})
	require.NotNil(t, records)
	assert.Empty(t, records)
}

func TestComputePatchScenario(t *testing.T) {
	records := ComputeHealthRecords([]domain.RawPatchRecord{
		{Client: "Acme Pty Ltd", Status: domain.PatchInstalled},
		{Client: "ACME", Status: domain.PatchPending},
	}, nil, nil)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "acme", rec.CanonicalKey)
	assert.Equal(t, "Acme Pty Ltd", rec.DisplayName)
	assert.Equal(t, domain.PercentOf(50), rec.PatchCompliancePct)
	assert.Equal(t, 1, rec.PatchingIssues)
	assert.Equal(t, domain.NoData, rec.BackupHealthPct)
	assert.Equal(t, domain.NoData, rec.SecurityScorePct)
	assert.Equal(t, 50, rec.OverallHealthScore)
}

func TestComputeBackupOnlyScenario(t *testing.T) {
	records := ComputeHealthRecords(nil, []domain.RawBackupRecord{
		{PartnerName: "Acme", DeviceName: "D1", TotalStatus: "Success"},
	}, nil)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, domain.PercentOf(100), rec.BackupHealthPct)
	assert.False(t, rec.PatchCompliancePct.Valid)
	assert.False(t, rec.SecurityScorePct.Valid)
	assert.Equal(t, 100, rec.OverallHealthScore)
	assert.Equal(t, 1, rec.Devices)
	assert.Equal(t, domain.BackupGood, rec.BackupStatusLabel)
	assert.Equal(t, domain.SecurityNA, rec.SecurityStatus)
}

func TestComputeKeySetIsUnion(t *testing.T) {
	records := ComputeHealthRecords(
		[]domain.RawPatchRecord{{Client: "Gamma", Status: domain.PatchInstalled}},
		[]domain.RawBackupRecord{{PartnerName: "Alpha", TotalStatus: "Failed"}},
		[]domain.RawSecurityRecord{{Site: "Beta", DeviceID: "b1"}},
	)

	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.CanonicalKey)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, keys)

	alpha, beta, gamma := records[0], records[1], records[2]
	assert.Equal(t, domain.PercentOf(0), alpha.BackupHealthPct)
	assert.Equal(t, domain.BackupCritical, alpha.BackupStatusLabel)
	assert.Equal(t, 0, alpha.OverallHealthScore)

	assert.Equal(t, domain.PercentOf(100), beta.SecurityScorePct)
	assert.Equal(t, domain.SecurityProtected, beta.SecurityStatus)
	assert.Equal(t, domain.BackupNA, beta.BackupStatusLabel)

	assert.Equal(t, domain.PercentOf(100), gamma.PatchCompliancePct)
	assert.False(t, gamma.BackupHealthPct.Valid)
}

func TestComputeMergesAcrossSources(t *testing.T) {
	result := Compute(
		[]domain.RawPatchRecord{
			{Client: "ACME Pty Ltd", Device: "P1", Status: domain.PatchInstalled},
			{Client: "Acme", Device: "P2", Status: domain.PatchInstalled},
			{Client: "Acme", Device: "P3", Status: domain.PatchPending},
			{Client: "", Device: "P4", Status: domain.PatchPending},
		},
		[]domain.RawBackupRecord{
			{PartnerName: "Acme", DeviceName: "B1", TotalStatus: "Success"},
			{PartnerName: "Acme", DeviceName: "B2", TotalStatus: "Success"},
			{PartnerName: "Acme", DeviceName: "B3", TotalStatus: "Success"},
			{PartnerName: "Acme", DeviceName: "B4", TotalStatus: "Failed", Errors: 3},
			{PartnerName: "Acme", DeviceName: "B5", TotalStatus: "Completed"},
		},
		[]domain.RawSecurityRecord{
			{Site: "acme ltd", DeviceID: "S1", AntivirusInstalled: true, IncidentStatus: "Open"},
			{Site: "acme ltd", DeviceID: "S2", EDRInstalled: true},
		},
	)

	assert.Equal(t, 1, result.Skipped[domain.SourcePatch])
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	assert.Equal(t, "ACME Pty Ltd", rec.DisplayName)
	assert.Equal(t, 5, rec.Devices, "max across sources, not a sum")
	assert.Equal(t, domain.PercentOf(67), rec.PatchCompliancePct)
	assert.Equal(t, domain.PercentOf(80), rec.BackupHealthPct)
	assert.Equal(t, domain.PercentOf(90), rec.SecurityScorePct)
	assert.Equal(t, 79, rec.OverallHealthScore)
	assert.Equal(t, 1, rec.CriticalThreats)
	assert.Equal(t, 1, rec.PatchingIssues)
	assert.Equal(t, 3, rec.BackupErrors)
	assert.Equal(t, 1, rec.AntivirusDevices)
	assert.Equal(t, 1, rec.EDRDevices)
	assert.Equal(t, domain.BackupWarning, rec.BackupStatusLabel)
	assert.Equal(t, domain.SecurityAtRisk, rec.SecurityStatus)
}

func TestComputeIsIdempotent(t *testing.T) {
	patch := []domain.RawPatchRecord{
		{Client: "Beta", Device: "x", Status: domain.PatchFailed},
		{Client: "Acme", Device: "y", Status: domain.PatchInstalled},
	}
	security := []domain.RawSecurityRecord{{Site: "Beta", IncidentStatus: "Open"}}

	first := ComputeHealthRecords(patch, nil, security)
	second := ComputeHealthRecords(patch, nil, security)
	assert.Equal(t, first, second)
}

func TestHealthRecordJSON(t *testing.T) {
	records := ComputeHealthRecords(nil, []domain.RawBackupRecord{
		{PartnerName: "Acme", DeviceName: "D1", TotalStatus: "Success"},
	}, nil)
	require.Len(t, records, 1)

	raw, err := json.Marshal(records[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "N/A", decoded["patch_compliance"])
	assert.Equal(t, float64(100), decoded["backup_health"])
	assert.Equal(t, "N/A", decoded["security_status"])
	assert.Equal(t, "Good", decoded["backup_status"])
}
