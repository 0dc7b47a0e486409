package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/johnwards/hubsync/internal/domain"
)

// Search runs POST /crm/v3/objects/{objectType}/search.
func (c *Client) Search(ctx context.Context, objectType string, req *domain.SearchRequest) (*domain.SearchResult, error) {
	var result domain.SearchResult
	path := fmt.Sprintf("/crm/v3/objects/%s/search", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchRead runs POST /crm/v3/objects/{objectType}/batch/read.
func (c *Client) BatchRead(ctx context.Context, objectType string, req *domain.BatchReadRequest) (*domain.BatchResult, error) {
	if req.PropertiesWithHistory == nil {
		req.PropertiesWithHistory = []string{}
	}
	var result domain.BatchResult
	path := fmt.Sprintf("/crm/v3/objects/%s/batch/read", url.PathEscape(objectType))
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
