package crm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HubSpot error categories seen by the sync.
const (
	CategoryValidationError = "VALIDATION_ERROR"
	CategoryObjectNotFound  = "OBJECT_NOT_FOUND"
	CategoryRateLimits      = "RATE_LIMITS"
	CategoryExpiredToken    = "EXPIRED_AUTHENTICATION"
)

// APIError is a non-2xx response from HubSpot.
type APIError struct {
	StatusCode    int    `json:"-"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Category      string `json:"category"`
	SubCategory   string `json:"subCategory,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Category != "" {
		return fmt.Sprintf("hubspot %d %s: %s", e.StatusCode, e.Category, msg)
	}
	return fmt.Sprintf("hubspot %d: %s", e.StatusCode, msg)
}

// IsUnauthorized reports whether err is a 401 from HubSpot.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a 429 from HubSpot.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil {
			apiErr.Message = string(body)
		}
	}
	return apiErr
}
