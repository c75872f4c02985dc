package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/ingest"
)

var ErrCircuitOpen = errors.New("upstream circuit open")

const defaultMaxRetryDelay = 30 * time.Second

// ReliabilityWrapper оборачивает RowFetcher лимитером, предохранителем и ретраями.
// Один экземпляр на источник: у каждого свой Circuit Breaker.
type ReliabilityWrapper struct {
	name        string
	next        RowFetcher
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	attempts    uint
	maxDelay    time.Duration
	callTimeout time.Duration
}

func NewReliabilityWrapper(name string, next RowFetcher, cfg infra.UpstreamConfig, metrics *engine.Metrics, logger *zap.Logger) *ReliabilityWrapper {
	failures := cfg.CBFailures
	if failures == 0 {
		failures = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-" + name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		// Размыкается на cb_failures-й подряд неудаче
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx — ошибка запроса, а не источника
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", cbName),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	maxDelay := cfg.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxRetryDelay
	}

	return &ReliabilityWrapper{
		name:        name,
		next:        next,
		cb:          cb,
		limiter:     rate.NewLimiter(limit, burst),
		attempts:    attempts,
		maxDelay:    maxDelay,
		callTimeout: cfg.Timeout,
	}
}

func (w *ReliabilityWrapper) FetchRows(ctx context.Context, view string, columns []string) ([]ingest.Row, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var rows []ingest.Row

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.LastErrorOnly(true),
			retry.MaxDelay(w.maxDelay),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, ErrRejected) && !errors.Is(err, ErrDecode)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Источник сам сказал, сколько ждать, но не дольше maxDelay
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return min(tErr.RetryAfter, w.maxDelay)
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx := ctx
			if w.callTimeout > 0 {
				var cancel context.CancelFunc
				tCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
				defer cancel()
			}

			var callErr error
			rows, callErr = w.next.FetchRows(tCtx, view, columns)
			return callErr
		})

		return rows, retryErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCircuitOpen, w.name, err)
		}
		return nil, err
	}
	return res.([]ingest.Row), nil
}
