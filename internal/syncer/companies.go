package syncer

import (
	"context"

	"github.com/johnwards/hubsync/internal/domain"
)

var companyProperties = []string{
	"name",
	"domain",
	"country",
	"industry",
	"description",
	"annualrevenue",
	"numberofemployees",
	"hs_lead_status",
}

type companies struct{}

// Companies is the company entity. It needs no associations.
func Companies() Entity { return companies{} }

func (companies) Type() domain.EntityType      { return domain.Companies }
func (companies) Label() string                { return "Company" }
func (companies) ModificationProperty() string { return "hs_lastmodifieddate" }
func (companies) Properties() []string         { return companyProperties }

func (companies) Drafts(_ context.Context, page []*domain.Object) ([]Draft, error) {
	drafts := make([]Draft, 0, len(page))
	for _, company := range page {
		if company.Properties == nil {
			continue
		}
		drafts = append(drafts, Draft{
			Record: company,
			Bag:    domain.CompanyBag,
			Properties: domain.Properties{
				"company_id":       domain.String(company.ID),
				"company_domain":   company.Value("domain"),
				"company_industry": company.Value("industry"),
			}.Compact(),
		})
	}
	return drafts, nil
}
