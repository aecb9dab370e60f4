// Package mirror implements the synchronization provider: one Sync run
// copies every object under a prefix from a source to a target
// S3-compatible endpoint.
package mirror

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"syncd/internal/storage"

	"go.uber.org/zap"
)

// Metrics receives per-object outcomes from the mirror
type Metrics interface {
	IncCopied(bytes int64)
	IncSkipped()
	IncFailed()
}

// NopMetrics discards all observations
type NopMetrics struct{}

func (NopMetrics) IncCopied(int64) {}
func (NopMetrics) IncSkipped()     {}
func (NopMetrics) IncFailed()      {}

// Config contains mirror configuration
type Config struct {
	Bucket       string
	Prefix       string
	Concurrency  int
	Retries      int
	RetryBackoff time.Duration
	SkipExisting bool
}

// Mirror copies objects from a source to a target endpoint. It
// implements coordinator.Provider.
type Mirror struct {
	cfg     Config
	src     storage.Client
	dst     storage.Client
	metrics Metrics
	logger  *zap.Logger
}

// New creates a new mirror
func New(cfg Config, src, dst storage.Client, metrics Metrics, logger *zap.Logger) *Mirror {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Mirror{
		cfg:     cfg,
		src:     src,
		dst:     dst,
		metrics: metrics,
		logger:  logger,
	}
}

// Sync lists the source bucket and copies every object that is missing
// or different on the target. It returns nil only when all objects were
// copied or skipped.
func (m *Mirror) Sync(ctx context.Context) error {
	m.logger.Info("Starting mirror run",
		zap.String("bucket", m.cfg.Bucket),
		zap.String("prefix", m.cfg.Prefix),
		zap.Int("concurrency", m.cfg.Concurrency),
	)

	tasks := make(chan storage.ObjectInfo, m.cfg.Concurrency*2)

	var total, copied, skipped, failed atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Concurrency; i++ {
		wg.Add(1)
		go m.worker(ctx, i, tasks, &copied, &skipped, &failed, &wg)
	}

	listErr := m.enqueue(ctx, tasks, &total)
	close(tasks)
	wg.Wait()

	if listErr != nil {
		return fmt.Errorf("failed to list source objects: %w", listErr)
	}

	m.logger.Info("Mirror run finished",
		zap.Int64("total", total.Load()),
		zap.Int64("copied", copied.Load()),
		zap.Int64("skipped", skipped.Load()),
		zap.Int64("failed", failed.Load()),
	)

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d objects failed to copy", n, total.Load())
	}
	return nil
}

// enqueue streams the source listing into the task channel
func (m *Mirror) enqueue(ctx context.Context, tasks chan<- storage.ObjectInfo, total *atomic.Int64) error {
	objCh, errCh := m.src.ListObjects(ctx, m.cfg.Bucket, m.cfg.Prefix)

	for {
		select {
		case obj, ok := <-objCh:
			if !ok {
				// The lister closes both channels after a failure, so
				// by the time the object channel drains a listing
				// error may already be buffered. Check before
				// declaring the listing complete.
				if errCh != nil {
					select {
					case err := <-errCh:
						if err != nil {
							return err
						}
					default:
					}
				}
				return nil
			}
			total.Add(1)

			select {
			case tasks <- obj:
				m.logger.Debug("Enqueued object", zap.String("key", obj.Key))
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Mirror) worker(ctx context.Context, id int, tasks <-chan storage.ObjectInfo, copied, skipped, failed *atomic.Int64, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := m.logger.With(zap.Int("worker_id", id))

	c := &copier{
		cfg:     m.cfg,
		src:     m.src,
		dst:     m.dst,
		metrics: m.metrics,
		logger:  logger,
	}

	for {
		select {
		case obj, ok := <-tasks:
			if !ok {
				return
			}

			switch outcome, err := c.Process(ctx, obj); {
			case err != nil:
				failed.Add(1)
			case outcome == outcomeSkipped:
				skipped.Add(1)
			default:
				copied.Add(1)
			}

		case <-ctx.Done():
			return
		}
	}
}
