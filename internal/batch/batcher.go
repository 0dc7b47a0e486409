// Package batch accumulates actions and ships them to a sink in bulk.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/johnwards/hubsync/internal/domain"
)

const (
	// DefaultThreshold is the pending size above which a flush starts.
	DefaultThreshold = 2000
	// DefaultMaxInFlight bounds concurrent flushes; Push blocks beyond it.
	DefaultMaxInFlight = 4
)

// Sink receives flushed batches.
type Sink interface {
	Ingest(ctx context.Context, d *domain.Domain, actions []domain.Action) error
}

// Stats counts what went through a Batcher.
type Stats struct {
	Pushed  int64
	Flushed int64
	Batches int64
	Failed  int64
}

// Batcher buffers actions for one domain and flushes them to a Sink once
// more than the threshold are pending. A Batcher serves one account run:
// push from any number of goroutines, then call Drain once.
type Batcher struct {
	ctx       context.Context
	sink      Sink
	domain    *domain.Domain
	threshold int
	logger    *slog.Logger

	mu      sync.Mutex
	pending []domain.Action

	flushes errgroup.Group

	pushed  atomic.Int64
	flushed atomic.Int64
	batches atomic.Int64
	failed  atomic.Int64
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithThreshold sets the flush threshold.
func WithThreshold(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithMaxInFlight bounds the number of concurrent flushes.
func WithMaxInFlight(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.flushes.SetLimit(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) { b.logger = l }
}

// New creates a Batcher. ctx is used for every sink call, including the
// ones started in the background.
func New(ctx context.Context, sink Sink, d *domain.Domain, opts ...Option) *Batcher {
	b := &Batcher{
		ctx:       ctx,
		sink:      sink,
		domain:    d,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	b.flushes.SetLimit(DefaultMaxInFlight)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends an action. When more than the threshold are pending, the
// pending list is snapshotted, cleared and flushed in the background.
func (b *Batcher) Push(a domain.Action) {
	b.pushed.Add(1)

	b.mu.Lock()
	b.pending = append(b.pending, a)
	if len(b.pending) <= b.threshold {
		b.mu.Unlock()
		return
	}
	snapshot := snapshotOf(b.pending)
	b.pending = nil
	b.mu.Unlock()

	b.flushes.Go(func() error {
		return b.flush(snapshot)
	})
}

// Len returns the number of actions waiting for a flush.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns the counters so far.
func (b *Batcher) Stats() Stats {
	return Stats{
		Pushed:  b.pushed.Load(),
		Flushed: b.flushed.Load(),
		Batches: b.batches.Load(),
		Failed:  b.failed.Load(),
	}
}

// Drain waits for in-flight flushes and then flushes whatever is still
// pending. It returns the background flush error, if any, joined with the
// error of the final flush.
func (b *Batcher) Drain() error {
	bgErr := b.flushes.Wait()

	b.mu.Lock()
	rest := b.pending
	b.pending = nil
	b.mu.Unlock()

	var restErr error
	if len(rest) > 0 {
		restErr = b.flush(rest)
	}
	return errors.Join(bgErr, restErr)
}

func (b *Batcher) flush(actions []domain.Action) error {
	b.logger.Info("inserting actions",
		"apiKey", b.domain.APIKey,
		"count", len(actions),
	)
	if err := b.sink.Ingest(b.ctx, b.domain, actions); err != nil {
		b.failed.Add(int64(len(actions)))
		b.logger.Error("flush actions failed",
			"apiKey", b.domain.APIKey,
			"count", len(actions),
			"error", err,
		)
		return fmt.Errorf("flush %d actions: %w", len(actions), err)
	}
	b.batches.Add(1)
	b.flushed.Add(int64(len(actions)))
	return nil
}

// snapshotOf deep-copies actions so the batch being sent shares nothing
// with the live accumulator.
func snapshotOf(actions []domain.Action) []domain.Action {
	out := make([]domain.Action, len(actions))
	for i, a := range actions {
		out[i] = a.Clone()
	}
	return out
}
