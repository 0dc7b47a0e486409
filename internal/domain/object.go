package domain

import "time"

// Object is a CRM record as returned by the search and batch read endpoints.
// Properties the portal has no value for come back as JSON null and are kept
// as nil entries so callers can tell "absent" from "empty".
type Object struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	Archived   bool               `json:"archived"`
}

// Property returns the value of a property and whether it is present.
func (o *Object) Property(name string) (string, bool) {
	if o == nil || o.Properties == nil {
		return "", false
	}
	v, ok := o.Properties[name]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Value wraps a property as a tagged Value, Absent when missing.
func (o *Object) Value(name string) Value {
	return OptionalString(o.Property(name))
}

// ObjectRef identifies an object in batch requests and responses.
type ObjectRef struct {
	ID string `json:"id"`
}

// BatchReadRequest is the body of POST /crm/v3/objects/{objectType}/batch/read.
type BatchReadRequest struct {
	Properties            []string    `json:"properties"`
	PropertiesWithHistory []string    `json:"propertiesWithHistory"`
	Inputs                []ObjectRef `json:"inputs"`
}

// BatchResult wraps the result of a batch read.
type BatchResult struct {
	Status      string    `json:"status"`
	Results     []*Object `json:"results"`
	StartedAt   string    `json:"startedAt,omitempty"`
	CompletedAt string    `json:"completedAt,omitempty"`
	NumErrors   int       `json:"numErrors,omitempty"`
}
