package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnwards/hubsync/internal/credentials"
	"github.com/johnwards/hubsync/internal/crm"
	"github.com/johnwards/hubsync/internal/domain"
)

const (
	DefaultMaxRetries   = 4
	DefaultRetryBackoff = 5 * time.Second
	MaxRetryBackoff     = 10 * time.Minute
)

// Searcher runs one CRM search request.
type Searcher interface {
	Search(ctx context.Context, objectType string, req *domain.SearchRequest) (*domain.SearchResult, error)
}

// Refresher is the part of the credential manager the fetcher needs.
type Refresher interface {
	Expired() bool
	Refresh(ctx context.Context) (credentials.Credential, error)
}

// Fetcher runs searches with retry, exponential backoff and token refresh.
type Fetcher struct {
	searcher   Searcher
	creds      Refresher
	maxRetries int
	backoff    time.Duration
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithMaxRetries sets how many attempts a search gets.
func WithMaxRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay. Attempt n waits base * 2^n.
func WithRetryBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d >= 0 {
			f.backoff = d
		}
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher. creds may be nil when tokens never expire.
func NewFetcher(s Searcher, creds Refresher, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		searcher:   s,
		creds:      creds,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs req against the search endpoint of objectType. After each
// failed attempt the token is refreshed when it has expired or was rejected,
// then the fetcher waits before trying again. When every attempt failed it
// returns *FetchExhausted wrapping the last error.
func (f *Fetcher) Fetch(ctx context.Context, objectType domain.EntityType, req *domain.SearchRequest) (*domain.SearchResult, []*domain.Object, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		result, err := f.searcher.Search(ctx, string(objectType), req)
		if err == nil {
			if result == nil {
				result = &domain.SearchResult{}
			}
			return result, result.Results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		f.logger.Warn(fmt.Sprintf("retry-%d-%s", attempt, objectType), "error", err)

		if f.creds != nil && (f.creds.Expired() || crm.IsUnauthorized(err)) {
			if _, rerr := f.creds.Refresh(ctx); rerr != nil {
				f.logger.Error("refresh access token failed", "objectType", objectType, "error", rerr)
			}
		}

		if attempt == f.maxRetries {
			break
		}
		if err := f.sleep(ctx, f.wait(attempt)); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, &FetchExhausted{ObjectType: objectType, Attempts: f.maxRetries, Err: lastErr}
}

// wait returns backoff * 2^attempt, capped at MaxRetryBackoff.
func (f *Fetcher) wait(attempt int) time.Duration {
	d := f.backoff
	for range attempt {
		if d >= MaxRetryBackoff/2 {
			return MaxRetryBackoff
		}
		d *= 2
	}
	return min(d, MaxRetryBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
