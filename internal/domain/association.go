package domain

// AssociationBatchRequest is the body of
// POST /crm/v3/associations/{fromObjectType}/{toObjectType}/batch/read.
type AssociationBatchRequest struct {
	Inputs []ObjectRef `json:"inputs"`
}

// AssociationBatchResponse holds one result per input that has associations.
type AssociationBatchResponse struct {
	Status  string                   `json:"status,omitempty"`
	Results []AssociationBatchResult `json:"results"`
}

// AssociationBatchResult maps a source object to its associated targets. From
// is nil when the provider returned an entry without a source side.
type AssociationBatchResult struct {
	From *ObjectRef          `json:"from,omitempty"`
	To   []AssociationTarget `json:"to"`
}

// AssociationTarget is one associated object.
type AssociationTarget struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// AssociationIndex maps a source object id to a single associated object id.
type AssociationIndex map[string]string
