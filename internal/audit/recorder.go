package audit

/*
Recorder: асинхронный журнал доступа к данным клиентов.

- Log не блокирует обработчик: событие уходит в буферизированный канал,
  при переполнении отбрасывается с записью в zap и счётчиком.
- Воркер копит пачку и пишет её в хранилище по таймеру или по размеру.
- Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/engine"
)

const (
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

// Storage определяет, куда физически сохраняются события
type Storage interface {
	WriteBatch(ctx context.Context, events []AccessEvent) error
}

type Auditor interface {
	Log(event AccessEvent)
}

type Recorder struct {
	ch      chan AccessEvent
	repo    Storage
	metrics *engine.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex // Защищает закрытие канала от конкурентного Log
	closed bool
}

func NewRecorder(repo Storage, bufferSize int, metrics *engine.Metrics, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Recorder{
		ch:      make(chan AccessEvent, bufferSize),
		repo:    repo,
		metrics: metrics,
		logger:  logger.Named("audit"),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop запирает вход в канал и ждёт, пока воркер всё допишет.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.logger.Info("stopping recorder: flushing buffer")
	r.wg.Wait()
	r.logger.Info("recorder stopped gracefully")
}

func (r *Recorder) Log(event AccessEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("audit event dropped: recorder is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем запрос
	select {
	case r.ch <- event:
		r.metrics.AuditBufferFill.Set(float64(len(r.ch)))
	default:
		r.metrics.AuditDropped.Inc()
		r.logger.Error("audit_buffer_overflow",
			zap.String("actor", event.Actor),
			zap.String("action", string(event.Action)),
			zap.String("trace_id", event.TraceID))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]AccessEvent, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: к моменту финального flush контекст сервиса уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.repo.WriteBatch(ctx, batch); err != nil {
			r.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		r.metrics.AuditBufferFill.Set(float64(len(r.ch)))
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Nop: Auditor для тестов и режимов без БД.
type Nop struct{}

func (Nop) Log(AccessEvent) {}
