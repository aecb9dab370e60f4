package app

import (
	"context"
	"fmt"
	"time"

	"syncd/internal/config"
	"syncd/internal/coordinator"
	"syncd/internal/history"
	"syncd/internal/metrics"
	"syncd/internal/mirror"
	"syncd/internal/storage"

	"go.uber.org/zap"
)

// dryRunDelay is how long the simulated provider pretends to work
const dryRunDelay = 100 * time.Millisecond

// App wires the coordinator, its provider, the run journal and metrics
// into a runnable unit
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	coord   *coordinator.Coordinator
	store   history.Store
	metrics *metrics.Collector

	events       chan coordinator.State
	recorderDone chan struct{}
}

// New creates the application from configuration. In dry-run mode the
// provider is simulated and no S3 clients are built.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	collector := metrics.New()

	provider, err := buildProvider(cfg, logger, collector)
	if err != nil {
		return nil, err
	}

	return newApp(cfg, logger, provider, collector)
}

func buildProvider(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (coordinator.Provider, error) {
	if cfg.Sync.DryRun {
		return mirror.Simulated{Delay: dryRunDelay}, nil
	}

	srcClient, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Source.Endpoint,
		AccessKey: cfg.Source.AccessKey,
		SecretKey: cfg.Source.SecretKey,
		Secure:    cfg.Source.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	dstClient, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Target.Endpoint,
		AccessKey: cfg.Target.AccessKey,
		SecretKey: cfg.Target.SecretKey,
		Secure:    cfg.Target.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create target client: %w", err)
	}

	return mirror.New(mirror.Config{
		Bucket:       cfg.Sync.Bucket,
		Prefix:       cfg.Sync.Prefix,
		Concurrency:  cfg.Sync.Concurrency,
		Retries:      cfg.Sync.Retries,
		RetryBackoff: cfg.RetryBackoff(),
		SkipExisting: cfg.Sync.SkipExisting,
	}, srcClient, dstClient, collector, logger), nil
}

// newApp finishes construction with an explicit provider
func newApp(cfg *config.Config, logger *zap.Logger, provider coordinator.Provider, collector *metrics.Collector) (*App, error) {
	store, err := history.NewSQLiteStore(cfg.Sync.History)
	if err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}

	lastSync, err := store.LastSuccess()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to read last success: %w", err)
	}
	if !lastSync.IsZero() {
		logger.Info("Restored last successful sync", zap.Time("last_sync", lastSync))
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		metrics:      collector,
		events:       make(chan coordinator.State, 64),
		recorderDone: make(chan struct{}),
	}

	a.coord = coordinator.New(provider, logger,
		coordinator.WithTimeout(cfg.Timeout()),
		coordinator.WithLastSync(lastSync),
	)

	// The subscription callback runs under the coordinator lock, so it
	// only hands the state off; the recorder goroutine does the slow
	// journal and metrics work.
	a.coord.Subscribe(func(s coordinator.State) {
		select {
		case a.events <- s:
		default:
			logger.Warn("Transition recorder backlogged, dropping event",
				zap.String("phase", string(s.Phase)))
		}
	})
	go a.recorder()

	return a, nil
}

// recorder drains coordinator transitions into metrics and the run
// journal
func (a *App) recorder() {
	defer close(a.recorderDone)

	var runStart time.Time
	for s := range a.events {
		switch s.Phase {
		case coordinator.PhaseRunning:
			runStart = time.Now()
			a.metrics.RunStarted()

		case coordinator.PhaseSucceeded:
			finished := s.LastSync
			if finished.IsZero() {
				finished = time.Now()
			}
			started, duration := runBounds(runStart, finished)
			a.metrics.RunSucceeded(duration, finished)
			a.saveRun(&history.RunRecord{
				StartedAt:  started,
				FinishedAt: finished,
				Status:     history.RunSucceeded,
			})
			runStart = time.Time{}

		case coordinator.PhaseFailed:
			finished := time.Now()
			started, duration := runBounds(runStart, finished)
			a.metrics.RunFailed(duration)
			a.saveRun(&history.RunRecord{
				StartedAt:  started,
				FinishedAt: finished,
				Status:     history.RunFailed,
				Error:      s.ErrorMessage,
			})
			runStart = time.Time{}
		}
	}
}

// runBounds reconciles a terminal event with the recorded run start. A
// zero start means the running event was dropped from a backlogged
// queue; the run then collapses to its finish time instead of
// journaling a bogus start and duration.
func runBounds(start, finished time.Time) (time.Time, time.Duration) {
	if start.IsZero() {
		return finished, 0
	}
	return start, finished.Sub(start)
}

func (a *App) saveRun(record *history.RunRecord) {
	if err := a.store.SaveRun(record); err != nil {
		a.logger.Error("Failed to record sync run",
			zap.String("status", string(record.Status)),
			zap.Error(err))
	}
}

// Run executes the application. With a zero interval it performs a
// single sync and returns its outcome; otherwise it keeps requesting
// syncs every interval until the context is cancelled. Requests that
// land while a run is still in flight are dropped by the coordinator.
func (a *App) Run(ctx context.Context) error {
	if addr := a.cfg.Sync.MetricsAddr; addr != "" {
		go func() {
			if err := a.metrics.StartServer(addr); err != nil {
				a.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if a.cfg.Interval() == 0 {
		return a.runOnce(ctx)
	}
	return a.watch(ctx)
}

func (a *App) runOnce(ctx context.Context) error {
	terminal := make(chan coordinator.State, 1)
	sub := a.coord.Subscribe(func(s coordinator.State) {
		if s.Phase == coordinator.PhaseSucceeded || s.Phase == coordinator.PhaseFailed {
			select {
			case terminal <- s:
			default:
			}
		}
	})
	defer sub.Cancel()

	if err := a.coord.RequestSync(ctx); err != nil {
		return err
	}

	select {
	case s := <-terminal:
		if s.Phase == coordinator.PhaseFailed {
			return fmt.Errorf("sync failed: %s", s.ErrorMessage)
		}
		a.logger.Info("Sync completed", zap.Time("last_sync", s.LastSync))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) watch(ctx context.Context) error {
	interval := a.cfg.Interval()
	a.logger.Info("Watching", zap.Duration("interval", interval))

	if err := a.coord.RequestSync(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.coord.RequestSync(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			a.logger.Info("Watch stopped")
			return nil
		}
	}
}

// Close releases the coordinator, drains the recorder and closes the
// run journal
func (a *App) Close() error {
	a.coord.Close()
	close(a.events)
	<-a.recorderDone
	return a.store.Close()
}
