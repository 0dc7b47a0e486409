package syncer_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwards/hubsync/internal/crm"
	"github.com/johnwards/hubsync/internal/domain"
	"github.com/johnwards/hubsync/internal/syncer"
	"github.com/johnwards/hubsync/internal/testhelpers"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

type actionRecorder struct {
	mu      sync.Mutex
	actions []domain.Action
}

func (r *actionRecorder) Push(a domain.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

func (r *actionRecorder) all() []domain.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Action(nil), r.actions...)
}

func noSleep(context.Context, time.Duration) error { return nil }

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newDriver(e syncer.Entity, s syncer.Searcher, acct *domain.Account, rec *actionRecorder, now time.Time) *syncer.Driver {
	f := syncer.NewFetcher(s, nil, syncer.WithSleep(noSleep))
	return syncer.NewDriver(e, f, acct, rec, syncer.WithDriverClock(clockAt(now)))
}

func accountAt(watermark time.Time) *domain.Account {
	acct := &domain.Account{HubID: "1"}
	for _, t := range domain.EntityTypes {
		acct.LastPulledDates.Set(t, watermark)
	}
	return acct
}

func TestDriverCompanies(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))

	created := testhelpers.NewObject("A", t0.Add(time.Hour), t0.Add(2*time.Hour),
		map[string]string{"domain": "a.example", "industry": "SOFTWARE"})
	updated := testhelpers.NewObject("B", t0.Add(-24*time.Hour), t0.Add(time.Hour),
		map[string]string{"domain": "b.example"})
	noProps := testhelpers.NewObject("C", t0.Add(time.Hour), t0.Add(time.Hour), nil)
	future := testhelpers.NewObject("D", t0.Add(time.Hour), t0.Add(5*time.Hour),
		map[string]string{"domain": "d.example"})
	stale := testhelpers.NewObject("E", t0.Add(-48*time.Hour), t0.Add(-time.Hour),
		map[string]string{"domain": "e.example"})
	fake.Add("companies", created, updated, noProps, future, stale)

	acct := accountAt(t0)
	rec := &actionRecorder{}
	now := t0.Add(3 * time.Hour)

	res, err := newDriver(syncer.Companies(), client, acct, rec, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 2, res.Actions)
	assert.True(t, acct.LastPulledDates.Companies.Equal(now))
	assert.True(t, acct.LastPulledDates.Contacts.Equal(t0), "other watermarks untouched")

	actions := rec.all()
	require.Len(t, actions, 2)

	assert.Equal(t, "Company Updated", actions[0].Name)
	assert.True(t, actions[0].Date.Equal(t0.Add(time.Hour).Add(-2*time.Second)))
	assert.Equal(t, domain.CompanyBag, actions[0].Bag)
	assert.Equal(t, "B", actions[0].Properties["company_id"].Str())
	assert.NotContains(t, actions[0].Properties, "company_industry")

	assert.Equal(t, "Company Created", actions[1].Name)
	assert.True(t, actions[1].Date.Equal(t0.Add(time.Hour).Add(-2*time.Second)))
	assert.Equal(t, "a.example", actions[1].Properties["company_domain"].Str())
	assert.Equal(t, "SOFTWARE", actions[1].Properties["company_industry"].Str())
	assert.Equal(t, 0, actions[1].IncludeInAnalytics)
	assert.Empty(t, actions[1].Identity)

	searches := fake.Searches("companies")
	require.Len(t, searches, 1)
	req := searches[0]
	assert.Equal(t, syncer.PageSize, req.Limit)
	assert.Equal(t, []domain.Sort{{PropertyName: "hs_lastmodifieddate", Direction: "ASCENDING"}}, req.Sorts)
	require.Len(t, req.FilterGroups, 1)
	assert.Equal(t, []domain.Filter{
		{PropertyName: "hs_lastmodifieddate", Operator: "GTE", Value: strconv.FormatInt(t0.UnixMilli(), 10)},
		{PropertyName: "hs_lastmodifieddate", Operator: "LTE", Value: strconv.FormatInt(now.UnixMilli(), 10)},
	}, req.FilterGroups[0].Filters)
	assert.Contains(t, req.Properties, "numberofemployees")
}

func TestDriverKeepsWatermarkAheadOfClock(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))

	ahead := t0.Add(5 * time.Hour)
	acct := accountAt(ahead)
	res, err := newDriver(syncer.Companies(), client, acct, &actionRecorder{}, t0.Add(3*time.Hour)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, acct.LastPulledDates.Companies.Equal(ahead), "watermark must not move backwards")
	assert.True(t, res.Watermark.Equal(ahead))
}

func TestDriverNeverPulledStartsAtEpoch(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))
	fake.Add("companies", testhelpers.NewObject("A", t0, t0, map[string]string{"name": "A"}))

	acct := &domain.Account{HubID: "1"}
	rec := &actionRecorder{}
	_, err := newDriver(syncer.Companies(), client, acct, rec, t0.Add(time.Hour)).Run(context.Background())
	require.NoError(t, err)

	searches := fake.Searches("companies")
	require.Len(t, searches, 1)
	assert.Equal(t, "0", searches[0].FilterGroups[0].Filters[0].Value)

	actions := rec.all()
	require.Len(t, actions, 1)
	assert.Equal(t, "Company Created", actions[0].Name)
}

func TestDriverRerunIsIdempotent(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))
	for i := range 5 {
		fake.Add("companies", testhelpers.NewObject(fmt.Sprint(i), t0, t0.Add(time.Duration(i+1)*time.Minute),
			map[string]string{"name": "c"}))
	}

	acct := accountAt(t0.Add(-time.Hour))
	first := &actionRecorder{}
	_, err := newDriver(syncer.Companies(), client, acct, first, t0.Add(time.Hour)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.all(), 5)

	second := &actionRecorder{}
	_, err = newDriver(syncer.Companies(), client, acct, second, t0.Add(2*time.Hour)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.all())
	assert.True(t, acct.LastPulledDates.Companies.Equal(t0.Add(2*time.Hour)))
}

func TestDriverPagesThroughResults(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))
	for i := range 250 {
		fake.Add("companies", testhelpers.NewObject(fmt.Sprintf("%03d", i), t0, t0.Add(time.Duration(i+1)*time.Second),
			map[string]string{"name": "c"}))
	}

	acct := accountAt(t0.Add(-time.Hour))
	rec := &actionRecorder{}
	res, err := newDriver(syncer.Companies(), client, acct, rec, t0.Add(time.Hour)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 250, res.Actions)

	var afters []string
	for _, s := range fake.Searches("companies") {
		afters = append(afters, s.After)
	}
	assert.Equal(t, []string{"", "100", "200"}, afters)
}

func TestDriverContacts(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))

	ada := testhelpers.NewObject("1", t0.Add(time.Hour), t0.Add(time.Hour), map[string]string{
		"email":               "ada@example.com",
		"firstname":           "Ada",
		"lastname":            "Lovelace",
		"jobtitle":            "Engineer",
		"hubspotscore":        "42.7",
		"hs_lead_status":      "OPEN",
		"hs_analytics_source": "ORGANIC_SEARCH",
	})
	bob := testhelpers.NewObject("2", t0.Add(-time.Hour), t0.Add(2*time.Hour), map[string]string{
		"email":        "bob@example.com",
		"lastname":     "Smith",
		"jobtitle":     "",
		"hubspotscore": "n/a",
	})
	bob.Properties["jobtitle"] = nil
	noEmail := testhelpers.NewObject("3", t0.Add(time.Hour), t0.Add(time.Hour), map[string]string{"firstname": "Eve"})
	fake.Add("contacts", ada, bob, noEmail)
	fake.Associate("contacts", "1", "companies", "100", "101")

	acct := accountAt(t0)
	rec := &actionRecorder{}
	resolver := syncer.NewResolver(client)
	_, err := newDriver(syncer.Contacts(resolver, nil), client, acct, rec, t0.Add(3*time.Hour)).Run(context.Background())
	require.NoError(t, err)

	actions := rec.all()
	require.Len(t, actions, 2)

	a := actions[0]
	assert.Equal(t, "Contact Created", a.Name)
	assert.Equal(t, "ada@example.com", a.Identity)
	assert.Equal(t, domain.UserBag, a.Bag)
	assert.Equal(t, "100", a.Properties["company_id"].Str())
	assert.Equal(t, "Ada Lovelace", a.Properties["contact_name"].Str())
	assert.Equal(t, "Engineer", a.Properties["contact_title"].Str())
	assert.Equal(t, "ORGANIC_SEARCH", a.Properties["contact_source"].Str())
	assert.Equal(t, "OPEN", a.Properties["contact_status"].Str())
	assert.Equal(t, float64(42), a.Properties["contact_score"].Num())

	b := actions[1]
	assert.Equal(t, "Contact Updated", b.Name)
	assert.True(t, b.Date.Equal(t0.Add(2*time.Hour).Add(-2*time.Second)))
	assert.Equal(t, "Smith", b.Properties["contact_name"].Str())
	assert.Equal(t, float64(0), b.Properties["contact_score"].Num())
	assert.NotContains(t, b.Properties, "company_id")
	assert.NotContains(t, b.Properties, "contact_title")
	assert.NotContains(t, b.Properties, "contact_source")

	assert.Equal(t, 1, fake.Calls(testhelpers.OpAssociations("CONTACTS", "COMPANIES")))
	assert.Equal(t, "lastmodifieddate", fake.Searches("contacts")[0].Sorts[0].PropertyName)
}

func TestDriverMeetings(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))

	m1 := testhelpers.NewObject("m1", t0.Add(time.Hour), t0.Add(time.Hour), map[string]string{
		"title":           "Kickoff",
		"meetingDate":     "2024-05-01",
		"meetingDuration": "1800000",
	})
	m2 := testhelpers.NewObject("m2", t0.Add(time.Hour), t0.Add(time.Hour), map[string]string{"title": "Orphan"})
	m3 := testhelpers.NewObject("m3", t0.Add(time.Hour), t0.Add(time.Hour), map[string]string{"title": "No email"})
	m4 := testhelpers.NewObject("m4", t0.Add(-time.Hour), t0.Add(2*time.Hour), map[string]string{
		"hs_meeting_title":      "Review",
		"hs_meeting_start_time": "2024-05-01T10:00:00Z",
		"hs_meeting_end_time":   "2024-05-01T10:45:00Z",
	})
	fake.Add("meetings", m1, m2, m3, m4)
	fake.Add("contacts",
		testhelpers.NewObject("c1", t0, t0, map[string]string{"email": "ada@example.com", "firstname": "Ada"}),
		testhelpers.NewObject("c2", t0, t0, map[string]string{"firstname": "Nomail"}),
	)
	fake.Associate("meetings", "m1", "contacts", "c1")
	fake.Associate("meetings", "m3", "contacts", "c2")
	fake.Associate("meetings", "m4", "contacts", "c1")

	acct := accountAt(t0)
	rec := &actionRecorder{}
	resolver := syncer.NewResolver(client)
	_, err := newDriver(syncer.Meetings(resolver, client, nil), client, acct, rec, t0.Add(3*time.Hour)).Run(context.Background())
	require.NoError(t, err)

	actions := rec.all()
	require.Len(t, actions, 2)

	kickoff := actions[0]
	assert.Equal(t, "Meeting Created", kickoff.Name)
	assert.Equal(t, "ada@example.com", kickoff.Identity)
	assert.Equal(t, "ada@example.com", kickoff.ContactEmail)
	assert.Equal(t, domain.MeetingBag, kickoff.Bag)
	assert.Equal(t, "c1", kickoff.Properties["contact_id"].Str())
	assert.Equal(t, "Ada", kickoff.Properties["contact_name"].Str())
	assert.Equal(t, "Kickoff", kickoff.Properties["meeting_title"].Str())
	assert.Equal(t, "2024-05-01", kickoff.Properties["meeting_date"].Str())
	assert.Equal(t, "1800000", kickoff.Properties["meeting_duration"].Str())

	review := actions[1]
	assert.Equal(t, "Meeting Updated", review.Name)
	assert.Equal(t, "Review", review.Properties["meeting_title"].Str())
	assert.Equal(t, "2024-05-01T10:00:00Z", review.Properties["meeting_date"].Str())
	assert.Equal(t, float64(45*time.Minute/time.Millisecond), review.Properties["meeting_duration"].Num())

	assert.Equal(t, 1, fake.Calls(testhelpers.OpBatchRead("contacts")), "contacts are read once per page")
}

func TestDriverAssociationFailureKeepsWatermark(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))
	fake.Add("contacts", testhelpers.NewObject("1", t0.Add(time.Hour), t0.Add(time.Hour),
		map[string]string{"email": "ada@example.com"}))
	fake.Fail(testhelpers.OpAssociations("CONTACTS", "COMPANIES"), -1, 500)

	acct := accountAt(t0)
	rec := &actionRecorder{}
	_, err := newDriver(syncer.Contacts(syncer.NewResolver(client), nil), client, acct, rec, t0.Add(3*time.Hour)).Run(context.Background())

	var assocErr *syncer.AssociationFetchError
	require.ErrorAs(t, err, &assocErr)
	assert.Empty(t, rec.all())
	assert.True(t, acct.LastPulledDates.Contacts.Equal(t0))
}

func TestDriverMeetingContactReadFailure(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))
	fake.Add("meetings", testhelpers.NewObject("m1", t0.Add(time.Hour), t0.Add(time.Hour), map[string]string{"title": "x"}))
	fake.Associate("meetings", "m1", "contacts", "c1")
	fake.Fail(testhelpers.OpBatchRead("contacts"), -1, 500)

	acct := accountAt(t0)
	_, err := newDriver(syncer.Meetings(syncer.NewResolver(client), client, nil), client, acct, &actionRecorder{}, t0.Add(3*time.Hour)).
		Run(context.Background())

	var assocErr *syncer.AssociationFetchError
	require.ErrorAs(t, err, &assocErr)
	assert.True(t, acct.LastPulledDates.Meetings.Equal(t0))
}

// pager serves scripted pages and records the requests it got.
type pager struct {
	pages    []*domain.SearchResult
	requests []domain.SearchRequest
}

func (p *pager) Search(_ context.Context, _ string, req *domain.SearchRequest) (*domain.SearchResult, error) {
	p.requests = append(p.requests, *req)
	i := len(p.requests) - 1
	if i >= len(p.pages) {
		return &domain.SearchResult{}, nil
	}
	return p.pages[i], nil
}

func resultPage(nextAfter string, records ...*domain.Object) *domain.SearchResult {
	res := &domain.SearchResult{Results: records}
	if nextAfter != "" {
		res.Paging = &domain.SearchPaging{Next: domain.SearchPagingNext{After: nextAfter}}
	}
	return res
}

func TestDriverRollsOverAtPageCeiling(t *testing.T) {
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)
	p := &pager{pages: []*domain.SearchResult{
		resultPage("9800", testhelpers.NewObject("1", t0, t0.Add(30*time.Minute), map[string]string{})),
		resultPage("9900", testhelpers.NewObject("2", t0, t1, map[string]string{})),
		resultPage("", testhelpers.NewObject("3", t0, t2, map[string]string{})),
	}}

	acct := accountAt(t0.Add(-time.Hour))
	rec := &actionRecorder{}
	res, err := newDriver(syncer.Companies(), p, acct, rec, t0.Add(3*time.Hour)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	require.Len(t, p.requests, 3)
	assert.Equal(t, "", p.requests[0].After)
	assert.Equal(t, "9800", p.requests[1].After)
	assert.Equal(t, "", p.requests[2].After, "offset cleared on rollover")
	assert.Equal(t, strconv.FormatInt(t1.UnixMilli(), 10), p.requests[2].FilterGroups[0].Filters[0].Value)
	assert.Equal(t, p.requests[0].FilterGroups[0].Filters[1], p.requests[2].FilterGroups[0].Filters[1],
		"upper bound fixed for the whole run")
	assert.Len(t, rec.all(), 3)
}

func TestDriverStalledRollover(t *testing.T) {
	lower := t0.Add(-time.Hour)
	p := &pager{pages: []*domain.SearchResult{
		resultPage("9900", testhelpers.NewObject("1", lower, lower, map[string]string{})),
	}}

	acct := accountAt(lower)
	_, err := newDriver(syncer.Companies(), p, acct, &actionRecorder{}, t0).Run(context.Background())

	require.ErrorIs(t, err, syncer.ErrCursorStalled)
	assert.True(t, acct.LastPulledDates.Companies.Equal(lower))
}

func TestDriverEmptyPageEndsLoop(t *testing.T) {
	p := &pager{pages: []*domain.SearchResult{resultPage("100")}}

	acct := accountAt(t0.Add(-time.Hour))
	res, err := newDriver(syncer.Companies(), p, acct, &actionRecorder{}, t0).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pages)
	assert.True(t, acct.LastPulledDates.Companies.Equal(t0))
}

func TestDriverFetchExhaustedKeepsWatermark(t *testing.T) {
	fake := testhelpers.NewFakeHubSpot(t)
	client := crm.New(fake.URL(), staticToken("tok"))
	fake.Fail(testhelpers.OpSearch("companies"), -1, 500)

	acct := accountAt(t0)
	_, err := newDriver(syncer.Companies(), client, acct, &actionRecorder{}, t0.Add(time.Hour)).Run(context.Background())

	var exhausted *syncer.FetchExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, syncer.DefaultMaxRetries, fake.Calls(testhelpers.OpSearch("companies")))
	assert.True(t, acct.LastPulledDates.Companies.Equal(t0))
}
