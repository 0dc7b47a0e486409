package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/johnwards/hubsync/internal/domain"
)

const (
	// PageSize is the number of records requested per search page.
	PageSize = 100
	// ActionSkew is subtracted from every action date.
	ActionSkew = 2 * time.Second
)

// Draft is an action before classification: the record it came from plus
// the identity and property bag built by the entity. ContactEmail is only set
// for meetings.
type Draft struct {
	Record       *domain.Object
	Identity     string
	ContactEmail string
	Bag          domain.Bag
	Properties   domain.Properties
}

// Entity describes how one CRM object type is searched and turned into
// actions.
type Entity interface {
	Type() domain.EntityType
	// Label is the prefix of action names, e.g. "Contact".
	Label() string
	// ModificationProperty is the property the search window filters and
	// sorts on.
	ModificationProperty() string
	Properties() []string
	// Drafts converts one page of records, skipping records that cannot
	// produce an action.
	Drafts(ctx context.Context, page []*domain.Object) ([]Draft, error)
}

// Pusher receives the actions a driver emits.
type Pusher interface {
	Push(domain.Action)
}

// DriverResult summarizes one driver run.
type DriverResult struct {
	Type      domain.EntityType
	Pages     int
	Records   int
	Actions   int
	Watermark time.Time
}

// Driver pages through the records of one entity type modified since the
// account's watermark and pushes an action per record.
type Driver struct {
	entity  Entity
	fetcher *Fetcher
	account *domain.Account
	actions Pusher
	now     func() time.Time
	logger  *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverClock overrides the clock that sets the window upper bound.
func WithDriverClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// WithDriverLogger sets the logger.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a Driver for one entity of one account.
func NewDriver(e Entity, f *Fetcher, account *domain.Account, actions Pusher, opts ...DriverOption) *Driver {
	d := &Driver{
		entity:  e,
		fetcher: f,
		account: account,
		actions: actions,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run syncs the window [watermark, now]. On success the account's watermark
// for the entity is set to the later of its old value and now; on failure it
// is left untouched.
func (d *Driver) Run(ctx context.Context) (DriverResult, error) {
	objectType := d.entity.Type()
	lower := d.account.LastPulledDates.Get(objectType)
	now := d.now().Truncate(time.Millisecond)

	res := DriverResult{Type: objectType}
	cursor := NewCursor(lower)
	for {
		req := searchRequest(d.entity, cursor, now)
		result, records, err := d.fetcher.Fetch(ctx, objectType, req)
		if err != nil {
			return res, err
		}
		res.Pages++
		res.Records += len(records)
		d.logger.Debug("fetch batch", "objectType", objectType, "count", len(records), "after", cursor.After)

		drafts, err := d.entity.Drafts(ctx, records)
		if err != nil {
			return res, err
		}
		for _, draft := range drafts {
			d.actions.Push(classify(d.entity.Label(), draft, lower))
			res.Actions++
		}

		var more bool
		cursor, more, err = cursor.Advance(result.NextAfter(), records)
		if err != nil {
			return res, fmt.Errorf("%s: %w", objectType, err)
		}
		if !more {
			break
		}
	}

	// A clock behind the stored watermark must not move it backwards.
	watermark := now
	if lower.After(now) {
		watermark = lower
	}
	d.account.LastPulledDates.Set(objectType, watermark)
	res.Watermark = watermark
	return res, nil
}

// classify names the action Created when the record was created after the
// window's lower bound and Updated otherwise.
func classify(label string, draft Draft, lower time.Time) domain.Action {
	name, ts := label+" Updated", draft.Record.UpdatedAt
	if draft.Record.CreatedAt.After(lower) {
		name, ts = label+" Created", draft.Record.CreatedAt
	}
	return domain.Action{
		Name:       name,
		Date:       ts.Add(-ActionSkew),
		Identity:     draft.Identity,
		ContactEmail: draft.ContactEmail,
		Bag:          draft.Bag,
		Properties:   draft.Properties,
	}
}

func searchRequest(e Entity, c Cursor, now time.Time) *domain.SearchRequest {
	prop := e.ModificationProperty()
	return &domain.SearchRequest{
		FilterGroups: []domain.FilterGroup{{
			Filters: []domain.Filter{
				{PropertyName: prop, Operator: domain.OperatorGTE, Value: epochMillis(c.LastModifiedDate)},
				{PropertyName: prop, Operator: domain.OperatorLTE, Value: epochMillis(now)},
			},
		}},
		Sorts:      []domain.Sort{{PropertyName: prop, Direction: domain.SortAscending}},
		Properties: e.Properties(),
		Limit:      PageSize,
		After:      c.After,
	}
}

func epochMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
