package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/johnwards/hubsync/internal/domain"
)

// BatchReadAssociations runs
// POST /crm/v3/associations/{fromObjectType}/{toObjectType}/batch/read for ids.
func (c *Client) BatchReadAssociations(ctx context.Context, fromType, toType string, ids []string) ([]domain.AssociationBatchResult, error) {
	body := domain.AssociationBatchRequest{Inputs: make([]domain.ObjectRef, 0, len(ids))}
	for _, id := range ids {
		body.Inputs = append(body.Inputs, domain.ObjectRef{ID: id})
	}

	var resp domain.AssociationBatchResponse
	path := fmt.Sprintf("/crm/v3/associations/%s/%s/batch/read", url.PathEscape(fromType), url.PathEscape(toType))
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}
