package gotrue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a non-2xx answer from the auth endpoints. It unwraps to the
// sentinel the caller classified it as (invalid credentials, invalid refresh
// token, invalid token or backend unavailable).
type APIError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		return fmt.Sprintf("auth backend status %d", e.Status)
	}
	return fmt.Sprintf("auth backend status %d: %s", e.Status, msg)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// errorBody covers both the OAuth style and the newer error payloads.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Code = firstNonEmpty(eb.ErrorCode, eb.Error)
	apiErr.Message = firstNonEmpty(eb.ErrorDescription, eb.Msg, eb.Message)
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
