package domain

import (
	"encoding/json"
	"time"
)

// Bag names the property bag an Action carries.
type Bag string

const (
	CompanyBag Bag = "companyProperties"
	UserBag    Bag = "userProperties"
	MeetingBag Bag = "meetingProperties"
)

// Action is the normalized event sent to the sink for one CRM record.
type Action struct {
	Name               string
	Date               time.Time
	IncludeInAnalytics int
	Identity           string
	ContactEmail       string
	Bag                Bag
	Properties         Properties
}

// Clone returns a deep copy of a.
func (a Action) Clone() Action {
	a.Properties = a.Properties.Clone()
	return a
}

// MarshalJSON renders the wire shape expected by the sink:
//
//	{"actionName":"Contact Created","actionDate":1700000000000,
//	 "includeInAnalytics":0,"identity":"a@b.c","userProperties":{...}}
//
// Meeting actions also carry the attendee's address as "contact_email".
func (a Action) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"actionName":         a.Name,
		"actionDate":         a.Date.UnixMilli(),
		"includeInAnalytics": a.IncludeInAnalytics,
	}
	if a.Identity != "" {
		m["identity"] = a.Identity
	}
	if a.ContactEmail != "" {
		m["contact_email"] = a.ContactEmail
	}
	if a.Bag != "" {
		props := a.Properties
		if props == nil {
			props = Properties{}
		}
		m[string(a.Bag)] = props
	}
	return json.Marshal(m)
}
