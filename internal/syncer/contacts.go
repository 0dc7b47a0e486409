package syncer

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/johnwards/hubsync/internal/domain"
)

var contactProperties = []string{
	"firstname",
	"lastname",
	"jobtitle",
	"email",
	"hubspotscore",
	"hs_lead_status",
	"hs_analytics_source",
	"hs_latest_source",
}

type contacts struct {
	resolver *Resolver
	logger   *slog.Logger
}

// Contacts is the contact entity. Each contact is joined with its first
// associated company.
func Contacts(r *Resolver, logger *slog.Logger) Entity {
	if logger == nil {
		logger = slog.Default()
	}
	return &contacts{resolver: r, logger: logger}
}

func (*contacts) Type() domain.EntityType      { return domain.Contacts }
func (*contacts) Label() string                { return "Contact" }
func (*contacts) ModificationProperty() string { return "lastmodifieddate" }
func (*contacts) Properties() []string         { return contactProperties }

func (c *contacts) Drafts(ctx context.Context, page []*domain.Object) ([]Draft, error) {
	companyOf, unresolved, err := c.resolver.Resolve(ctx, "CONTACTS", "COMPANIES", recordIDs(page))
	if err != nil {
		return nil, err
	}
	if len(unresolved) > 0 {
		c.logger.Debug("contacts without company", "count", len(unresolved))
	}

	drafts := make([]Draft, 0, len(page))
	for _, contact := range page {
		email, ok := contact.Property("email")
		if !ok || email == "" {
			continue
		}
		companyID, hasCompany := companyOf[contact.ID]
		score, _ := contact.Property("hubspotscore")

		props := domain.Properties{
			"company_id":     domain.OptionalString(companyID, hasCompany),
			"contact_name":   domain.String(fullName(contact)),
			"contact_title":  contact.Value("jobtitle"),
			"contact_source": contact.Value("hs_analytics_source"),
			"contact_status": contact.Value("hs_lead_status"),
			"contact_score":  domain.Number(float64(leadingInt(score))),
		}
		drafts = append(drafts, Draft{
			Record:     contact,
			Identity:   email,
			Bag:        domain.UserBag,
			Properties: props.Compact(),
		})
	}
	return drafts, nil
}

func recordIDs(page []*domain.Object) []string {
	ids := make([]string, 0, len(page))
	for _, r := range page {
		ids = append(ids, r.ID)
	}
	return ids
}

func fullName(contact *domain.Object) string {
	first, _ := contact.Property("firstname")
	last, _ := contact.Property("lastname")
	return strings.TrimSpace(first + " " + last)
}

// leadingInt parses the integer prefix of s, so "12.5" and "12 pts" are 12.
// Anything without a leading integer is 0.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
