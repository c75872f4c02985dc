package upstream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/ingest"
)

// Колонки, которые запрашиваем у каждого представления.
var (
	patchColumns    = []string{"client", "device", "status"}
	backupColumns   = []string{"partner_name", "device_name", "total_status", "errors"}
	securityColumns = []string{"site", "endpoints", "av_installed", "edr_installed", "incident_status", "threat_count"}
	ticketColumns   = []string{"customer", "branch", "subject", "priority", "status"}
	networkColumns  = []string{"customer", "name", "type", "status"}
	checkColumns    = []string{"client", "device", "check_name"}
)

// Sources отдаёт типизированные записи всех источников.
type Sources struct {
	patch    RowFetcher
	backup   RowFetcher
	security RowFetcher
	tickets  RowFetcher
	network  RowFetcher
	checks   RowFetcher
	views    infra.ViewsConfig
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func NewSources(cfg infra.UpstreamConfig, metrics *engine.Metrics, logger *zap.Logger) (*Sources, error) {
	client, err := NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	logger = logger.Named("upstream")
	return &Sources{
		patch:    NewReliabilityWrapper(string(domain.SourcePatch), client, cfg, metrics, logger),
		backup:   NewReliabilityWrapper(string(domain.SourceBackup), client, cfg, metrics, logger),
		security: NewReliabilityWrapper(string(domain.SourceSecurity), client, cfg, metrics, logger),
		tickets:  NewReliabilityWrapper(string(domain.SourceTickets), client, cfg, metrics, logger),
		network:  NewReliabilityWrapper(string(domain.SourceNetwork), client, cfg, metrics, logger),
		checks:   NewReliabilityWrapper(string(domain.SourceChecks), client, cfg, metrics, logger),
		views:    cfg.Views,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (s *Sources) FetchPatches(ctx context.Context) ([]domain.RawPatchRecord, error) {
	recs, _, err := s.FetchPatchesReport(ctx)
	return recs, err
}

func (s *Sources) FetchBackups(ctx context.Context) ([]domain.RawBackupRecord, error) {
	recs, _, err := s.FetchBackupsReport(ctx)
	return recs, err
}

func (s *Sources) FetchSecurity(ctx context.Context) ([]domain.RawSecurityRecord, error) {
	recs, _, err := s.FetchSecurityReport(ctx)
	return recs, err
}

func (s *Sources) FetchPatchesReport(ctx context.Context) ([]domain.RawPatchRecord, ingest.Report, error) {
	rows, err := s.fetch(ctx, domain.SourcePatch, s.patch, s.views.Patch, patchColumns)
	if err != nil {
		return nil, ingest.Report{Source: domain.SourcePatch}, err
	}
	recs, rep := ingest.DecodePatchRows(rows)
	s.observe(rep)
	return recs, rep, nil
}

func (s *Sources) FetchBackupsReport(ctx context.Context) ([]domain.RawBackupRecord, ingest.Report, error) {
	rows, err := s.fetch(ctx, domain.SourceBackup, s.backup, s.views.Backup, backupColumns)
	if err != nil {
		return nil, ingest.Report{Source: domain.SourceBackup}, err
	}
	recs, rep := ingest.DecodeBackupRows(rows)
	s.observe(rep)
	return recs, rep, nil
}

func (s *Sources) FetchSecurityReport(ctx context.Context) ([]domain.RawSecurityRecord, ingest.Report, error) {
	rows, err := s.fetch(ctx, domain.SourceSecurity, s.security, s.views.Security, securityColumns)
	if err != nil {
		return nil, ingest.Report{Source: domain.SourceSecurity}, err
	}
	recs, rep := ingest.DecodeSecurityRows(rows)
	s.observe(rep)
	return recs, rep, nil
}

func (s *Sources) FetchTickets(ctx context.Context) ([]domain.RawTicketRecord, error) {
	recs, _, err := s.FetchTicketsReport(ctx)
	return recs, err
}

func (s *Sources) FetchNetwork(ctx context.Context) ([]domain.RawNetworkDeviceRecord, error) {
	recs, _, err := s.FetchNetworkReport(ctx)
	return recs, err
}

func (s *Sources) FetchChecks(ctx context.Context) ([]domain.RawCheckRecord, error) {
	recs, _, err := s.FetchChecksReport(ctx)
	return recs, err
}

// Операционный источник с пустым именем представления отключён: пустой набор без ошибки.

func (s *Sources) FetchTicketsReport(ctx context.Context) ([]domain.RawTicketRecord, ingest.Report, error) {
	if s.views.Tickets == "" {
		return []domain.RawTicketRecord{}, ingest.Report{Source: domain.SourceTickets}, nil
	}
	rows, err := s.fetch(ctx, domain.SourceTickets, s.tickets, s.views.Tickets, ticketColumns)
	if err != nil {
		return nil, ingest.Report{Source: domain.SourceTickets}, err
	}
	recs, rep := ingest.DecodeTicketRows(rows)
	s.observe(rep)
	return recs, rep, nil
}

func (s *Sources) FetchNetworkReport(ctx context.Context) ([]domain.RawNetworkDeviceRecord, ingest.Report, error) {
	if s.views.Network == "" {
		return []domain.RawNetworkDeviceRecord{}, ingest.Report{Source: domain.SourceNetwork}, nil
	}
	rows, err := s.fetch(ctx, domain.SourceNetwork, s.network, s.views.Network, networkColumns)
	if err != nil {
		return nil, ingest.Report{Source: domain.SourceNetwork}, err
	}
	recs, rep := ingest.DecodeNetworkRows(rows)
	s.observe(rep)
	return recs, rep, nil
}

func (s *Sources) FetchChecksReport(ctx context.Context) ([]domain.RawCheckRecord, ingest.Report, error) {
	if s.views.Checks == "" {
		return []domain.RawCheckRecord{}, ingest.Report{Source: domain.SourceChecks}, nil
	}
	rows, err := s.fetch(ctx, domain.SourceChecks, s.checks, s.views.Checks, checkColumns)
	if err != nil {
		return nil, ingest.Report{Source: domain.SourceChecks}, err
	}
	recs, rep := ingest.DecodeCheckRows(rows)
	s.observe(rep)
	return recs, rep, nil
}

func (s *Sources) fetch(ctx context.Context, src domain.Source, f RowFetcher, view string, columns []string) ([]ingest.Row, error) {
	start := time.Now()
	rows, err := f.FetchRows(ctx, view, columns)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.FetchDuration.WithLabelValues(string(src), "error").Observe(elapsed.Seconds())
		s.metrics.FetchErrors.WithLabelValues(string(src), errorType(err)).Inc()
		s.logger.Error("source fetch failed",
			zap.String("source", string(src)),
			zap.String("view", view),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	s.metrics.FetchDuration.WithLabelValues(string(src), "ok").Observe(elapsed.Seconds())
	s.logger.Debug("source fetched",
		zap.String("source", string(src)),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", elapsed))
	return rows, nil
}

func (s *Sources) observe(rep ingest.Report) {
	s.metrics.RowsIngested.WithLabelValues(string(rep.Source)).Add(float64(rep.Accepted))
	if len(rep.Quarantined) == 0 {
		return
	}
	s.metrics.RowsQuarantined.WithLabelValues(string(rep.Source)).Add(float64(len(rep.Quarantined)))
	s.logger.Warn("rows quarantined",
		zap.String("source", string(rep.Source)),
		zap.Int("count", len(rep.Quarantined)),
		zap.String("first_reason", rep.Quarantined[0].Reason))
}
