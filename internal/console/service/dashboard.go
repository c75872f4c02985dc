package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/reconcile"
)

// RecordSource: откуда берутся сырые записи: снимок в Postgres или REST напрямую.
type RecordSource interface {
	FetchPatches(ctx context.Context) ([]domain.RawPatchRecord, error)
	FetchBackups(ctx context.Context) ([]domain.RawBackupRecord, error)
	FetchSecurity(ctx context.Context) ([]domain.RawSecurityRecord, error)

	// Операционные источники в оценку не входят
	FetchTickets(ctx context.Context) ([]domain.RawTicketRecord, error)
	FetchNetwork(ctx context.Context) ([]domain.RawNetworkDeviceRecord, error)
	FetchChecks(ctx context.Context) ([]domain.RawCheckRecord, error)
}

// DefaultBuildTimeout ограничивает один пересчёт дашборда.
const DefaultBuildTimeout = 30 * time.Second

// SnapshotCache хранит посчитанный список всех клиентов.
// Get возвращает nil, nil при промахе.
type SnapshotCache interface {
	Get(ctx context.Context) (*domain.DashboardSnapshot, error)
	Set(ctx context.Context, snap *domain.DashboardSnapshot) error
	Invalidate(ctx context.Context) error
}

// Scope: область видимости запроса. Пустой CustomerID = все клиенты.
type Scope struct {
	CustomerID string
}

func (s Scope) All() bool { return strings.TrimSpace(s.CustomerID) == "" }

type DashboardService struct {
	source       RecordSource
	cache        SnapshotCache
	metrics      *engine.Metrics
	logger       *zap.Logger
	flight       singleflight.Group
	now          func() time.Time
	buildTimeout time.Duration
	// Растёт на каждый Invalidate; пересчёт, начатый до сброса, в кэш не пишется
	gen atomic.Uint64
}

// NewDashboardService: cache может быть nil, тогда каждый запрос считает заново.
func NewDashboardService(source RecordSource, cache SnapshotCache, metrics *engine.Metrics, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		source:       source,
		cache:        cache,
		metrics:      metrics,
		logger:       logger.Named("dashboard"),
		now:          time.Now,
		buildTimeout: DefaultBuildTimeout,
	}
}

// WithBuildTimeout задаёт предел одного пересчёта; d <= 0 оставляет прежний.
func (s *DashboardService) WithBuildTimeout(d time.Duration) *DashboardService {
	if d > 0 {
		s.buildTimeout = d
	}
	return s
}

// Snapshot возвращает дашборд в пределах scope вместе со сводкой.
func (s *DashboardService) Snapshot(ctx context.Context, scope Scope) (*domain.DashboardSnapshot, error) {
	full, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	out := &domain.DashboardSnapshot{
		Customers:   full.Customers,
		GeneratedAt: full.GeneratedAt,
		Degraded:    full.Degraded,
	}
	if !scope.All() {
		out.Customers = ScopeRecords(full.Customers, scope.CustomerID)
	}
	out.Summary = reconcile.Summarize(out.Customers)
	return out, nil
}

// Customers: список записей в пределах scope.
func (s *DashboardService) Customers(ctx context.Context, scope Scope) ([]domain.CustomerHealthRecord, error) {
	snap, err := s.Snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}
	return snap.Customers, nil
}

// Customer: одна запись. Вне scope клиент неотличим от несуществующего.
func (s *DashboardService) Customer(ctx context.Context, scope Scope, id string) (*domain.CustomerHealthRecord, error) {
	records, err := s.Customers(ctx, scope)
	if err != nil {
		return nil, err
	}
	matched := ScopeRecords(records, id)
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
	}
	return &matched[0], nil
}

// Invalidate сбрасывает кэш; следующий запрос пересчитает дашборд.
func (s *DashboardService) Invalidate(ctx context.Context) error {
	s.gen.Add(1)
	s.flight.Forget("snapshot")
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("dashboard: invalidate cache: %w", err)
	}
	s.logger.Info("dashboard cache invalidated")
	return nil
}

// ListenRefresh сбрасывает кэш по сигналу синхронизатора. Блокирует до отмены ctx.
func (s *DashboardService) ListenRefresh(ctx context.Context, rdb *redis.Client) {
	engine.ListenSignalResilient(ctx, rdb, s.logger, infra.RedisChanDashboardRefresh,
		// Сигнал мог потеряться, пока подписки не было
		s.Invalidate,
		func(payload string) {
			s.logger.Debug("refresh signal", zap.String("run_id", payload))
			if err := s.Invalidate(ctx); err != nil {
				s.logger.Error("refresh invalidate failed", zap.Error(err))
			}
		})
}

func (s *DashboardService) all(ctx context.Context) (*domain.DashboardSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.metrics.CacheRequests.WithLabelValues("error").Inc()
			s.logger.Warn("dashboard cache read failed", zap.Error(err))
		case snap != nil:
			s.metrics.CacheRequests.WithLabelValues("hit").Inc()
			return snap, nil
		default:
			s.metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
	}

	// Параллельные промахи считают дашборд один раз
	v, err, _ := s.flight.Do("snapshot", func() (any, error) {
		gen := s.gen.Load()
		// Отмена одного запроса не рвёт общий пересчёт, но и висеть вечно он не может
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.buildTimeout)
		defer cancel()

		snap := s.build(bctx)
		switch {
		case s.cache == nil || len(snap.Degraded) > 0:
			// неполный снимок не кэшируется
		case s.gen.Load() != gen:
			s.logger.Debug("dashboard invalidated during build, result not cached")
		default:
			if err := s.cache.Set(bctx, snap); err != nil {
				s.logger.Warn("dashboard cache write failed", zap.Error(err))
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.DashboardSnapshot), nil
}

// build тянет все источники параллельно. Отказ источника не валит дашборд:
// источник считается пустым и попадает в Degraded.
func (s *DashboardService) build(ctx context.Context) *domain.DashboardSnapshot {
	var (
		snap domain.Snapshot
		ok   [6]bool
	)

	g, gctx := errgroup.WithContext(ctx)
	fetchInto(gctx, g, s, domain.SourcePatch, s.source.FetchPatches, &snap.Patches, &ok[0])
	fetchInto(gctx, g, s, domain.SourceBackup, s.source.FetchBackups, &snap.Backups, &ok[1])
	fetchInto(gctx, g, s, domain.SourceSecurity, s.source.FetchSecurity, &snap.Security, &ok[2])
	fetchInto(gctx, g, s, domain.SourceTickets, s.source.FetchTickets, &snap.Tickets, &ok[3])
	fetchInto(gctx, g, s, domain.SourceNetwork, s.source.FetchNetwork, &snap.Network, &ok[4])
	fetchInto(gctx, g, s, domain.SourceChecks, s.source.FetchChecks, &snap.Checks, &ok[5])
	_ = g.Wait()

	var degraded []domain.Source
	if !ok[0] {
		snap.Patches, degraded = nil, append(degraded, domain.SourcePatch)
	}
	if !ok[1] {
		snap.Backups, degraded = nil, append(degraded, domain.SourceBackup)
	}
	if !ok[2] {
		snap.Security, degraded = nil, append(degraded, domain.SourceSecurity)
	}
	if !ok[3] {
		snap.Tickets, degraded = nil, append(degraded, domain.SourceTickets)
	}
	if !ok[4] {
		snap.Network, degraded = nil, append(degraded, domain.SourceNetwork)
	}
	if !ok[5] {
		snap.Checks, degraded = nil, append(degraded, domain.SourceChecks)
	}

	start := time.Now()
	res := reconcile.ComputeSnapshot(snap)
	s.metrics.ComputeDuration.Observe(time.Since(start).Seconds())
	s.metrics.Customers.Set(float64(len(res.Records)))

	for src, n := range res.Skipped {
		if n == 0 {
			continue
		}
		s.metrics.RowsSkipped.WithLabelValues(string(src)).Add(float64(n))
		s.logger.Warn("rows without customer key skipped", zap.String("source", string(src)), zap.Int("count", n))
	}
	if res.Unmatched > 0 {
		s.logger.Debug("operational customers without health record", zap.Int("count", res.Unmatched))
	}

	s.logger.Info("dashboard computed",
		zap.Int("customers", len(res.Records)),
		zap.Int("patch_rows", len(snap.Patches)),
		zap.Int("backup_rows", len(snap.Backups)),
		zap.Int("security_rows", len(snap.Security)),
		zap.Int("ops_rows", len(snap.Tickets)+len(snap.Network)+len(snap.Checks)),
		zap.Any("degraded", degraded))

	return &domain.DashboardSnapshot{
		Customers:   res.Records,
		GeneratedAt: s.now().UTC(),
		Degraded:    degraded,
	}
}

func fetchInto[T any](ctx context.Context, g *errgroup.Group, s *DashboardService, src domain.Source,
	fetch func(context.Context) ([]T, error), dst *[]T, ok *bool) {
	g.Go(func() error {
		recs, err := fetch(ctx)
		*dst, *ok = recs, s.sourceResult(src, err)
		return nil
	})
}

func (s *DashboardService) sourceResult(src domain.Source, err error) bool {
	if err == nil {
		return true
	}
	s.metrics.FetchErrors.WithLabelValues(string(src), "dashboard").Inc()
	s.logger.Error("source unavailable, using empty dataset", zap.String("source", string(src)), zap.Error(err))
	return false
}

// ScopeRecords отбирает записи клиента по каноническому ключу, отображаемому имени
// или по нормализованному идентификатору.
func ScopeRecords(records []domain.CustomerHealthRecord, customerID string) []domain.CustomerHealthRecord {
	want := strings.TrimSpace(customerID)
	if want == "" {
		return []domain.CustomerHealthRecord{}
	}
	key, _ := reconcile.CanonicalKey(want)

	out := []domain.CustomerHealthRecord{}
	for _, r := range records {
		if r.CanonicalKey == want || r.DisplayName == want || (key != "" && r.CanonicalKey == key) {
			out = append(out, r)
		}
	}
	return out
}
