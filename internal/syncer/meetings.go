package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnwards/hubsync/internal/domain"
)

var meetingProperties = []string{
	"hs_meeting_title",
	"hs_meeting_start_time",
	"hs_meeting_end_time",
	"title",
	"meetingDate",
	"meetingDuration",
}

var meetingContactProperties = []string{"email", "firstname", "lastname"}

// ObjectReader batch-reads records by id.
type ObjectReader interface {
	BatchRead(ctx context.Context, objectType string, req *domain.BatchReadRequest) (*domain.BatchResult, error)
}

type meetings struct {
	resolver *Resolver
	contacts ObjectReader
	logger   *slog.Logger
}

// Meetings is the meeting entity. Each meeting is joined with its first
// associated contact, and meetings without a contact email are skipped.
func Meetings(r *Resolver, contacts ObjectReader, logger *slog.Logger) Entity {
	if logger == nil {
		logger = slog.Default()
	}
	return &meetings{resolver: r, contacts: contacts, logger: logger}
}

func (*meetings) Type() domain.EntityType      { return domain.Meetings }
func (*meetings) Label() string                { return "Meeting" }
func (*meetings) ModificationProperty() string { return "hs_lastmodifieddate" }
func (*meetings) Properties() []string         { return meetingProperties }

func (m *meetings) Drafts(ctx context.Context, page []*domain.Object) ([]Draft, error) {
	contactOf, unresolved, err := m.resolver.Resolve(ctx, "MEETINGS", "CONTACTS", recordIDs(page))
	if err != nil {
		return nil, err
	}
	if len(unresolved) > 0 {
		m.logger.Debug("meetings without contact", "count", len(unresolved))
	}

	byID, err := m.readContacts(ctx, page, contactOf)
	if err != nil {
		return nil, err
	}

	drafts := make([]Draft, 0, len(page))
	for _, meeting := range page {
		if meeting.Properties == nil {
			continue
		}
		contact := byID[contactOf[meeting.ID]]
		email, ok := contact.Property("email")
		if !ok || email == "" {
			continue
		}
		name := fullName(contact)

		props := domain.Properties{
			"contact_id":       domain.String(contact.ID),
			"contact_name":     domain.OptionalString(name, name != ""),
			"meeting_title":    firstValue(meeting, "title", "hs_meeting_title"),
			"meeting_date":     firstValue(meeting, "meetingDate", "hs_meeting_start_time"),
			"meeting_duration": meetingDuration(meeting),
		}
		drafts = append(drafts, Draft{
			Record:       meeting,
			Identity:     email,
			ContactEmail: email,
			Bag:          domain.MeetingBag,
			Properties:   props.Compact(),
		})
	}
	return drafts, nil
}

// readContacts batch-reads the distinct contacts the page's meetings point
// at, keyed by contact id.
func (m *meetings) readContacts(ctx context.Context, page []*domain.Object, contactOf domain.AssociationIndex) (map[string]*domain.Object, error) {
	seen := make(map[string]bool, len(contactOf))
	var inputs []domain.ObjectRef
	for _, meeting := range page {
		id, ok := contactOf[meeting.ID]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		inputs = append(inputs, domain.ObjectRef{ID: id})
	}

	byID := make(map[string]*domain.Object, len(inputs))
	if len(inputs) == 0 {
		return byID, nil
	}

	result, err := m.contacts.BatchRead(ctx, string(domain.Contacts), &domain.BatchReadRequest{
		Properties: meetingContactProperties,
		Inputs:     inputs,
	})
	if err != nil {
		return nil, &AssociationFetchError{
			From: "MEETINGS",
			To:   "CONTACTS",
			Err:  fmt.Errorf("read contacts: %w", err),
		}
	}
	for _, contact := range result.Results {
		byID[contact.ID] = contact
	}
	return byID, nil
}

// firstValue returns the first present property among names.
func firstValue(obj *domain.Object, names ...string) domain.Value {
	for _, name := range names {
		if v := obj.Value(name); !v.Absent() {
			return v
		}
	}
	return domain.Value{}
}

// meetingDuration prefers the legacy meetingDuration property and falls
// back to end minus start, in milliseconds.
func meetingDuration(meeting *domain.Object) domain.Value {
	if v := meeting.Value("meetingDuration"); !v.Absent() {
		return v
	}
	start, ok1 := meeting.Property("hs_meeting_start_time")
	end, ok2 := meeting.Property("hs_meeting_end_time")
	if !ok1 || !ok2 {
		return domain.Value{}
	}
	s, err1 := time.Parse(time.RFC3339, start)
	e, err2 := time.Parse(time.RFC3339, end)
	if err1 != nil || err2 != nil || e.Before(s) {
		return domain.Value{}
	}
	return domain.Number(float64(e.Sub(s).Milliseconds()))
}
