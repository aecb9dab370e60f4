package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by RequestSync after Close
var ErrClosed = errors.New("coordinator is closed")

// Coordinator serializes synchronization attempts and publishes every
// state transition to subscribers. At most one provider invocation is
// in flight at a time; requests arriving while a run is in progress are
// dropped. All methods are safe for concurrent use.
type Coordinator struct {
	provider Provider
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	state  State
	closed bool
	subs   []*Subscription
	nextID int
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	id int
	fn func(State)
	c  *Coordinator
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithTimeout bounds each provider invocation. When the provider does
// not return within d, the run transitions to PhaseFailed. Zero means
// no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLastSync seeds the last successful sync time, typically restored
// from persistent storage at startup. LastSync stays monotonic: a run
// completing before t leaves it untouched.
func WithLastSync(t time.Time) Option {
	return func(c *Coordinator) { c.state.LastSync = t }
}

// New creates a coordinator in the idle phase. The provider is the only
// collaborator and is injected explicitly; there is no ambient lookup.
func New(provider Provider, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider: provider,
		logger:   logger,
		now:      time.Now,
		state:    State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestSync starts a synchronization run. If a run is already in
// flight the request is dropped silently and nil is returned. After
// Close it returns ErrClosed. The provider runs asynchronously; its
// outcome is observed through State and Subscribe, never as a returned
// error.
func (c *Coordinator) RequestSync(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Phase == PhaseRunning {
		c.mu.Unlock()
		c.logger.Debug("Sync request dropped, run already in flight")
		return nil
	}
	c.setStateLocked(State{Phase: PhaseRunning, LastSync: c.state.LastSync})
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

func (c *Coordinator) run(ctx context.Context) {
	start := c.now()
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := c.invoke(runCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if err != nil {
		c.logger.Warn("Sync run failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		c.setStateLocked(State{
			Phase:        PhaseFailed,
			ErrorMessage: err.Error(),
			LastSync:     c.state.LastSync,
		})
		return
	}

	last := c.state.LastSync
	if finished := c.now(); finished.After(last) {
		last = finished
	}
	c.logger.Info("Sync run succeeded",
		zap.Duration("duration", time.Since(start)),
	)
	c.setStateLocked(State{Phase: PhaseSucceeded, LastSync: last})
}

// invoke calls the provider, converting a panic into an error so that
// no failure of any kind escapes the coordinator.
func (c *Coordinator) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync provider panicked: %v", r)
		}
	}()
	return c.provider.Sync(ctx)
}

// State returns the latest published state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to be invoked with every subsequent state, in
// transition order. All subscribers observe the same sequence. fn runs
// synchronously while the coordinator lock is held and must not call
// back into the coordinator or block.
func (c *Coordinator) Subscribe(fn func(State)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	sub := &Subscription{id: c.nextID, fn: fn, c: c}
	if c.closed {
		// Nothing will ever be delivered; the handle stays valid so
		// Cancel remains safe to call.
		return sub
	}
	c.subs = append(c.subs, sub)
	return sub
}

// Cancel stops further notifications to this subscriber. Safe to call
// more than once and after the coordinator is closed.
func (s *Subscription) Cancel() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	for i, sub := range s.c.subs {
		if sub.id == s.id {
			s.c.subs = append(s.c.subs[:i], s.c.subs[i+1:]...)
			return
		}
	}
}

// setStateLocked replaces the current state and notifies subscribers in
// registration order. Caller must hold c.mu.
func (c *Coordinator) setStateLocked(next State) {
	c.state = next
	for _, sub := range c.subs {
		sub.fn(next)
	}
}

// Close releases the coordinator. After Close no notifications are
// delivered, RequestSync fails with ErrClosed, and a run still in
// flight publishes nothing when it finishes. Idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.subs = nil
	return nil
}
