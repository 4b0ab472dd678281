package httptransport

import (
	"errors"
	"fmt"
)

var (
	// ErrBaseURLRequired is returned when a Client is built without a server URL.
	ErrBaseURLRequired = errors.New("offsync http: base url is required")
	// ErrTransportRequired is returned when a Handler is built without a transport.
	ErrTransportRequired = errors.New("offsync http: transport is required")
)

// HTTPError is a non-2xx answer from the server.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("offsync http: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("offsync http: %d: %s", e.StatusCode, e.Message)
}

// errorBody is the JSON error payload written by Handler.
type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}
