package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrWaitTimeout is returned when a run does not reach a terminal state within
// the polling bound.
var ErrWaitTimeout = errors.New("timed out waiting for result")

// APIError is a platform failure carrying an HTTP status and an error code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("platform error %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("platform error %d: %s", e.Status, msg)
}

// AsAPIError unwraps err into an *APIError when it is one.
func AsAPIError(err error) (*APIError, bool) {
	var target *APIError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

func mapStatusError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
		if len(parsed.Error) > 0 {
			var nested struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			var text string
			if json.Unmarshal(parsed.Error, &nested) == nil {
				if nested.Code != "" {
					apiErr.Code = nested.Code
				}
				if nested.Message != "" {
					apiErr.Message = nested.Message
				}
			} else if json.Unmarshal(parsed.Error, &text) == nil && apiErr.Message == "" {
				apiErr.Message = text
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Code == "" {
		apiErr.Code = defaultCode(status)
	}
	return apiErr
}

func defaultCode(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "service_unavailable"
	case http.StatusNotFound:
		return "not_found"
	}
	if status >= 500 {
		return "server_error"
	}
	return "bad_request"
}
