// Package sink delivers batches of actions to the event pipeline.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/johnwards/hubsync/internal/domain"
)

// APIKeyHeader carries the domain api key on every request.
const APIKeyHeader = "X-Api-Key"

// StatusError is a non-2xx response from the ingest endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingest: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ingest: status %d: %s", e.StatusCode, e.Body)
}

// HTTP posts each batch as one JSON array.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP sink posting to url. A nil client gets a 30s
// timeout.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{url: url, client: client}
}

// Ingest sends actions in a single request.
func (h *HTTP) Ingest(ctx context.Context, d *domain.Domain, actions []domain.Action) error {
	body, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, d.APIKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post actions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
