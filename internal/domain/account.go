package domain

import "time"

// EntityType names one of the CRM object types the sync pulls.
type EntityType string

const (
	Companies EntityType = "companies"
	Contacts  EntityType = "contacts"
	Meetings  EntityType = "meetings"
)

// EntityTypes lists every synced type in a stable order.
var EntityTypes = []EntityType{Companies, Contacts, Meetings}

// LastPulledDates holds one watermark per entity type. Each field is written
// by exactly one driver, so concurrent drivers never touch the same field.
type LastPulledDates struct {
	Companies time.Time `json:"companies"`
	Contacts  time.Time `json:"contacts"`
	Meetings  time.Time `json:"meetings"`
}

func (d *LastPulledDates) field(t EntityType) *time.Time {
	switch t {
	case Companies:
		return &d.Companies
	case Contacts:
		return &d.Contacts
	case Meetings:
		return &d.Meetings
	}
	return nil
}

// Get returns the watermark for t. Unknown types read as the zero time.
func (d *LastPulledDates) Get(t EntityType) time.Time {
	if f := d.field(t); f != nil {
		return *f
	}
	return time.Time{}
}

// Set stores the watermark for t. Unknown types are ignored.
func (d *LastPulledDates) Set(t EntityType, v time.Time) {
	if f := d.field(t); f != nil {
		*f = v
	}
}

// Account is one connected HubSpot portal.
type Account struct {
	HubID           string          `json:"hubId"`
	AccessToken     string          `json:"accessToken"`
	RefreshToken    string          `json:"refreshToken"`
	LastPulledDates LastPulledDates `json:"lastPulledDates"`
}

// Domain is the tenant record that owns the HubSpot accounts.
type Domain struct {
	ID       int64      `json:"id"`
	APIKey   string     `json:"apiKey"`
	Accounts []*Account `json:"accounts"`
}

// Account returns the account with the given hub id, or nil.
func (d *Domain) Account(hubID string) *Account {
	for _, a := range d.Accounts {
		if a.HubID == hubID {
			return a
		}
	}
	return nil
}
