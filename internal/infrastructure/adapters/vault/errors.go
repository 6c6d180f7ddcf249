package vault

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a gateway error body
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("vault API error [%d]: %s (code: %s)", e.StatusCode, e.Message, e.Code)
}

func (e *ErrorResponse) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsNotFound reports whether err is a gateway 404
func IsNotFound(err error) bool {
	var er *ErrorResponse
	return errors.As(err, &er) && er.IsNotFound()
}
