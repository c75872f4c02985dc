package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
)

type SyncHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}

// Publisher: минимальный срез redis.Client, нужный для сигнала синхронизатору.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// SyncService передаёт запросы синхронизации в msp-syncer через Redis Pub/Sub.
type SyncService struct {
	repo   SyncHistory
	pub    Publisher
	logger *zap.Logger
}

func NewSyncService(repo SyncHistory, pub Publisher, logger *zap.Logger) *SyncService {
	return &SyncService{repo: repo, pub: pub, logger: logger.Named("sync")}
}

// Request публикует запрос. Ошибка, если ни один синхронизатор не подписан.
func (s *SyncService) Request(ctx context.Context, requestedBy string) error {
	receivers, err := s.pub.Publish(ctx, infra.RedisChanSyncRequest, requestedBy).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: no syncer subscribed", ErrSyncUnavailable)
	}
	s.logger.Info("sync requested", zap.String("by", requestedBy), zap.Int64("receivers", receivers))
	return nil
}

func (s *SyncService) History(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	runs, err := s.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("sync history: %w", err)
	}
	if runs == nil {
		runs = []*domain.SyncRun{}
	}
	return runs, nil
}
