package automailer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by the SDK.
var (
	// ErrNoEligibleRecipients is returned by Flow when a sheet has no one to mail.
	ErrNoEligibleRecipients = errors.New("automailer: no eligible recipients found")

	// ErrInvalidState is returned when a Flow step is called out of order.
	ErrInvalidState = errors.New("automailer: operation not allowed in current state")
)

// APIError represents an error response from the automailer API.
type APIError struct {
	StatusCode     int      `json:"-"`
	Code           string   `json:"code"`
	Message        string   `json:"error"`
	Details        string   `json:"details,omitempty"`
	MissingColumns []string `json:"missingColumns,omitempty"`

	raw string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("automailer: API error %d [%s]: %s: %s", e.StatusCode, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("automailer: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, raw: string(body)}
	if err := json.Unmarshal(body, apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Code == "" {
			apiErr.Code = "unknown"
		}
		return apiErr
	}

	apiErr.Code = "unknown"
	apiErr.Message = string(body)
	return apiErr
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
