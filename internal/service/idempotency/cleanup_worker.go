// Package idempotency удаляет сохранённые ответы с истёкшим сроком.
// Тот же воркер чистит in-memory отзывы токенов и доставленные сообщения outbox.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	// TargetIdempotency - имя основной цели очистки в метриках и логах.
	TargetIdempotency = "idempotency"
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oms_cleanup_runs_total",
		Help: "Cleanup runs grouped by target and result.",
	}, []string{"target", "result"})
	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oms_cleanup_deleted_total",
		Help: "Expired records deleted by the cleanup worker.",
	}, []string{"target"})
)

// Sweeper удаляет не более limit записей, истёкших к моменту before.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SweeperFunc позволяет передать функцию как Sweeper.
type SweeperFunc func(ctx context.Context, before time.Time, limit int) (int, error)

func (f SweeperFunc) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return f(ctx, before, limit)
}

// Retained сдвигает границу очистки на retention назад: запись удаляется,
// только когда с before прошло больше retention.
func Retained(sweeper Sweeper, retention time.Duration) Sweeper {
	return SweeperFunc(func(ctx context.Context, before time.Time, limit int) (int, error) {
		return sweeper.DeleteExpired(ctx, before.Add(-retention), limit)
	})
}

type target struct {
	name    string
	sweeper Sweeper
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт паузу между циклами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSweeper добавляет ещё одно хранилище под очистку.
func WithSweeper(name string, sweeper Sweeper) CleanupOption {
	return func(w *CleanupWorker) {
		if sweeper != nil {
			w.targets = append(w.targets, target{name: name, sweeper: sweeper})
		}
	}
}

// CleanupWorker периодически удаляет истёкшие записи из своих целей.
type CleanupWorker struct {
	targets   []target
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создаёт воркер, который чистит repo и цели из WithSweeper.
func NewCleanupWorker(repo Sweeper, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		logger:    log.WithField("component", "cleanup-worker"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if repo != nil {
		w.targets = append(w.targets, target{name: TargetIdempotency, sweeper: repo})
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run чистит цели сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) error {
	if len(w.targets) == 0 {
		w.logger.Warn("cleanup worker is disabled: nothing to sweep")
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweepAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweepAll(ctx context.Context) {
	before := w.now()
	for _, t := range w.targets {
		deleted, err := w.sweep(ctx, t, before)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			cleanupRunsTotal.WithLabelValues(t.name, "error").Inc()
			w.logger.WithError(err).WithField("target", t.name).Warn("cleanup run failed")
		default:
			cleanupRunsTotal.WithLabelValues(t.name, "ok").Inc()
			if deleted > 0 {
				w.logger.WithFields(log.Fields{"target": t.name, "deleted": deleted}).Info("expired records removed")
			}
		}
	}
}

// DeleteExpired проходит все цели и удаляет записи с ttl <= before.
// Нулевой before заменяется текущим временем воркера.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for _, t := range w.targets {
		deleted, err := w.sweep(ctx, t, before)
		total += deleted
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", t.name, err)
		}
	}
	return total, nil
}

// sweep удаляет порциями batchSize, пока порция заполнена целиком.
func (w *CleanupWorker) sweep(ctx context.Context, t target, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := t.sweeper.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		cleanupDeletedTotal.WithLabelValues(t.name).Add(float64(deleted))

		if deleted < w.batchSize {
			return total, nil
		}
	}
}
