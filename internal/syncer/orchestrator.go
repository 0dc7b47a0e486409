// Package syncer pulls companies, contacts and meetings modified since the
// last run from every connected HubSpot account and turns them into actions.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johnwards/hubsync/internal/batch"
	"github.com/johnwards/hubsync/internal/credentials"
	"github.com/johnwards/hubsync/internal/crm"
	"github.com/johnwards/hubsync/internal/domain"
)

// DomainStore loads and saves the domain record.
type DomainStore interface {
	Load(ctx context.Context) (*domain.Domain, error)
	Save(ctx context.Context, d *domain.Domain) error
}

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Credentials    credentials.Config
	APIBaseURL     string
	HTTPClient     *http.Client
	RateLimit      float64
	MaxRetries     int
	RetryBackoff   time.Duration
	FlushThreshold int
	MaxInFlight    int
	Logger         *slog.Logger
	Now            func() time.Time
	Sleep          func(context.Context, time.Duration) error
}

// AccountResult is the outcome of one account.
type AccountResult struct {
	HubID      string
	Drivers    []DriverResult
	Errors     map[domain.EntityType]error
	RefreshErr error
	DrainErr   error
	SaveErr    error
	Flushed    int64
}

// Driver returns the result of the driver for t.
func (r AccountResult) Driver(t domain.EntityType) (DriverResult, bool) {
	for _, d := range r.Drivers {
		if d.Type == t {
			return d, true
		}
	}
	return DriverResult{}, false
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Accounts []AccountResult
}

// Orchestrator runs one sync pass over every account of the domain.
type Orchestrator struct {
	domains DomainStore
	sink    batch.Sink
	opts    Options
	logger  *slog.Logger
}

// New creates an Orchestrator.
func New(domains DomainStore, sink batch.Sink, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = batch.DefaultThreshold
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = batch.DefaultMaxInFlight
	}
	return &Orchestrator{domains: domains, sink: sink, opts: opts, logger: opts.Logger}
}

// Run loads the domain and syncs its accounts one after another. Failures
// inside an account are logged and recorded in the report; only a failure
// to load the domain aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	logger := o.logger.With("runId", report.RunID)
	logger.Info("start pulling data from HubSpot")

	d, err := o.domains.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load domain: %w", err)
	}
	logger = logger.With("apiKey", d.APIKey)

	for _, account := range d.Accounts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		result := o.syncAccount(ctx, logger.With("hubId", account.HubID), d, account)
		report.Accounts = append(report.Accounts, result)
	}

	logger.Info("finish pulling data from HubSpot", "accounts", len(report.Accounts))
	return report, nil
}

func (o *Orchestrator) syncAccount(ctx context.Context, logger *slog.Logger, d *domain.Domain, account *domain.Account) AccountResult {
	logger.Info("start processing account")
	result := AccountResult{HubID: account.HubID, Errors: make(map[domain.EntityType]error)}

	creds := credentials.NewManager(o.opts.Credentials, account, credentials.WithClock(o.opts.Now))
	if _, err := creds.Refresh(ctx); err != nil {
		result.RefreshErr = err
		logger.Error("refresh access token failed", "operation", "refreshAccessToken", "error", err)
	}

	client := crm.New(o.opts.APIBaseURL, creds,
		crm.WithHTTPClient(o.opts.HTTPClient),
		crm.WithRateLimit(o.opts.RateLimit, max(1, int(o.opts.RateLimit))),
	)
	fetchOpts := []FetcherOption{
		WithMaxRetries(o.opts.MaxRetries),
		WithRetryBackoff(o.opts.RetryBackoff),
		WithFetchLogger(logger),
	}
	if o.opts.Sleep != nil {
		fetchOpts = append(fetchOpts, WithSleep(o.opts.Sleep))
	}
	fetcher := NewFetcher(client, creds, fetchOpts...)
	resolver := NewResolver(client)

	batcher := batch.New(ctx, o.sink, d,
		batch.WithThreshold(o.opts.FlushThreshold),
		batch.WithMaxInFlight(o.opts.MaxInFlight),
		batch.WithLogger(logger),
	)

	entities := []struct {
		operation string
		entity    Entity
	}{
		{"processMeetings", Meetings(resolver, client, logger)},
		{"processContacts", Contacts(resolver, logger)},
		{"processCompanies", Companies()},
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, e := range entities {
		driver := NewDriver(e.entity, fetcher, account, batcher,
			WithDriverClock(o.opts.Now),
			WithDriverLogger(logger),
		)
		wg.Go(func() {
			res, err := driver.Run(ctx)
			mu.Lock()
			defer mu.Unlock()
			result.Drivers = append(result.Drivers, res)
			if err != nil {
				result.Errors[e.entity.Type()] = err
				logger.Error("process failed", "operation", e.operation, "error", err)
				return
			}
			logger.Info("process finished", "operation", e.operation,
				"pages", res.Pages, "records", res.Records, "actions", res.Actions)
		})
	}
	wg.Wait()

	if err := batcher.Drain(); err != nil {
		result.DrainErr = err
		logger.Error("drain queue failed", "operation", "drainQueue", "error", err)
	} else {
		logger.Info("drain queue")
	}
	result.Flushed = batcher.Stats().Flushed

	if err := o.domains.Save(ctx, d); err != nil {
		result.SaveErr = &PersistenceError{HubID: account.HubID, Err: err}
		logger.Error("save domain failed", "operation", "saveDomain", "error", result.SaveErr)
	}

	logger.Info("finish processing account")
	return result
}
