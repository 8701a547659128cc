package hub

import (
	"fmt"
	"net/http"
)

// APIError is the hub's JSON error shape, carried for every non-2xx
// response so callers can branch on the status and code.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("hub: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("hub: %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether the hub rejected the caller's credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
