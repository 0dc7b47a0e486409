package syncer

import (
	"context"

	"github.com/johnwards/hubsync/internal/domain"
)

// AssociationReader reads associations for a batch of ids.
type AssociationReader interface {
	BatchReadAssociations(ctx context.Context, fromType, toType string, ids []string) ([]domain.AssociationBatchResult, error)
}

// Resolver maps records to a single associated record of another type.
type Resolver struct {
	reader AssociationReader
}

// NewResolver creates a Resolver.
func NewResolver(r AssociationReader) *Resolver {
	return &Resolver{reader: r}
}

// Resolve looks up the associations of ids from fromType to toType in one
// call. Each source keeps its first target. Results without a from side or
// without targets are dropped. The ids that got no association are returned
// as unresolved, in input order.
func (r *Resolver) Resolve(ctx context.Context, fromType, toType string, ids []string) (domain.AssociationIndex, []string, error) {
	index := make(domain.AssociationIndex)
	if len(ids) == 0 {
		return index, nil, nil
	}

	results, err := r.reader.BatchReadAssociations(ctx, fromType, toType, ids)
	if err != nil {
		return nil, nil, &AssociationFetchError{From: fromType, To: toType, Err: err}
	}

	for _, res := range results {
		if res.From == nil || len(res.To) == 0 {
			continue
		}
		if _, seen := index[res.From.ID]; seen {
			continue
		}
		index[res.From.ID] = res.To[0].ID
	}

	var unresolved []string
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			unresolved = append(unresolved, id)
		}
	}
	return index, unresolved, nil
}
