package syncer_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwards/hubsync/internal/credentials"
	"github.com/johnwards/hubsync/internal/crm"
	"github.com/johnwards/hubsync/internal/domain"
	"github.com/johnwards/hubsync/internal/syncer"
)

type stubSearcher struct {
	errs  []error
	calls int
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ *domain.SearchRequest) (*domain.SearchResult, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return &domain.SearchResult{Results: []*domain.Object{{ID: "1"}}}, nil
}

type stubRefresher struct {
	expired  bool
	refreshes int
	err      error
}

func (s *stubRefresher) Expired() bool { return s.expired }

func (s *stubRefresher) Refresh(context.Context) (credentials.Credential, error) {
	s.refreshes++
	if s.err != nil {
		return credentials.Credential{}, s.err
	}
	s.expired = false
	return credentials.Credential{AccessToken: "new"}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestFetchSucceedsAfterRetries(t *testing.T) {
	boom := errors.New("boom")
	search := &stubSearcher{errs: []error{boom, boom}}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, &stubRefresher{}, syncer.WithSleep(sleeps.sleep))

	result, records, err := f.Fetch(context.Background(), domain.Companies, &domain.SearchRequest{})
	require.NoError(t, err)

	assert.NotNil(t, result)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, search.calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, sleeps.waits)
}

func TestFetchExhausted(t *testing.T) {
	boom := errors.New("boom")
	search := &stubSearcher{errs: []error{boom, boom, boom, boom, boom}}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, nil, syncer.WithSleep(sleeps.sleep))

	_, _, err := f.Fetch(context.Background(), domain.Contacts, &domain.SearchRequest{})

	var exhausted *syncer.FetchExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, domain.Contacts, exhausted.ObjectType)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, search.calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, sleeps.waits)
}

func TestFetchBackoffIsCapped(t *testing.T) {
	boom := errors.New("boom")
	search := &stubSearcher{errs: make([]error, 40)}
	for i := range search.errs {
		search.errs[i] = boom
	}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, nil,
		syncer.WithSleep(sleeps.sleep),
		syncer.WithMaxRetries(40),
	)

	_, _, err := f.Fetch(context.Background(), domain.Contacts, &domain.SearchRequest{})
	require.Error(t, err)

	require.Len(t, sleeps.waits, 39)
	for i, d := range sleeps.waits {
		assert.Positive(t, d, "wait %d", i)
		assert.LessOrEqual(t, d, syncer.MaxRetryBackoff, "wait %d", i)
	}
	assert.Equal(t, syncer.MaxRetryBackoff, sleeps.waits[38])
}

type emptySearcher struct{}

func (emptySearcher) Search(context.Context, string, *domain.SearchRequest) (*domain.SearchResult, error) {
	return nil, nil
}

func TestFetchNilResult(t *testing.T) {
	f := syncer.NewFetcher(emptySearcher{}, nil, syncer.WithSleep((&sleepRecorder{}).sleep))

	result, records, err := f.Fetch(context.Background(), domain.Companies, &domain.SearchRequest{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, records)
	assert.Empty(t, result.NextAfter())
}

func TestFetchCustomRetries(t *testing.T) {
	boom := errors.New("boom")
	search := &stubSearcher{errs: []error{boom, boom, boom}}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, nil,
		syncer.WithSleep(sleeps.sleep),
		syncer.WithMaxRetries(2),
		syncer.WithRetryBackoff(time.Millisecond),
	)

	_, _, err := f.Fetch(context.Background(), domain.Meetings, &domain.SearchRequest{})

	var exhausted *syncer.FetchExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, search.calls)
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, sleeps.waits)
}

func TestFetchRefreshesExpiredToken(t *testing.T) {
	search := &stubSearcher{errs: []error{errors.New("boom")}}
	creds := &stubRefresher{expired: true}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, creds, syncer.WithSleep(sleeps.sleep))

	_, _, err := f.Fetch(context.Background(), domain.Companies, &domain.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, creds.refreshes)
}

func TestFetchRefreshesOnUnauthorized(t *testing.T) {
	search := &stubSearcher{errs: []error{&crm.APIError{StatusCode: http.StatusUnauthorized}}}
	creds := &stubRefresher{}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, creds, syncer.WithSleep(sleeps.sleep))

	_, _, err := f.Fetch(context.Background(), domain.Companies, &domain.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, creds.refreshes)
}

func TestFetchSkipsRefreshForValidToken(t *testing.T) {
	search := &stubSearcher{errs: []error{&crm.APIError{StatusCode: http.StatusInternalServerError}}}
	creds := &stubRefresher{}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, creds, syncer.WithSleep(sleeps.sleep))

	_, _, err := f.Fetch(context.Background(), domain.Companies, &domain.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, creds.refreshes)
}

func TestFetchContinuesWhenRefreshFails(t *testing.T) {
	boom := errors.New("boom")
	search := &stubSearcher{errs: []error{boom, boom}}
	creds := &stubRefresher{expired: true, err: errors.New("invalid_grant")}
	sleeps := &sleepRecorder{}
	f := syncer.NewFetcher(search, creds, syncer.WithSleep(sleeps.sleep))

	_, _, err := f.Fetch(context.Background(), domain.Companies, &domain.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, creds.refreshes)
	assert.Equal(t, 3, search.calls)
}

func TestFetchStopsOnCancel(t *testing.T) {
	boom := errors.New("boom")
	search := &stubSearcher{errs: []error{boom, boom, boom, boom}}
	f := syncer.NewFetcher(search, nil, syncer.WithRetryBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, err := f.Fetch(ctx, domain.Companies, &domain.SearchRequest{})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, search.calls)
}
