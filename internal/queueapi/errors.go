package queueapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnexpectedResponse marks a successful exchange whose body matched no known contract.
var ErrUnexpectedResponse = errors.New("unexpected response shape")

// APIError is a non-2xx answer from the queue service. It carries no
// interpretation beyond the status and the best message the body offered.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message *string         `json:"message"`
}

type validationItem struct {
	Msg string `json:"msg"`
}

// extractMessage pulls a human message out of the known error payloads:
// {detail: string}, {detail: [{msg}]}, {message: string} or a bare body.
func extractMessage(status int, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return http.StatusText(status)
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Detail) > 0 && string(parsed.Detail) != "null" {
			return detailMessage(parsed.Detail)
		}
		if parsed.Message != nil {
			return *parsed.Message
		}
	}

	var text string
	if err := json.Unmarshal(body, &text); err == nil {
		return text
	}
	if body[0] == '{' || body[0] == '[' {
		return string(body)
	}
	return strings.TrimSpace(string(body))
}

func detailMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var items []validationItem
	if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
		return items[0].Msg
	}
	return string(raw)
}
