// Package errors provides standardized error types for the domain layer.
// Pre-persistence failures (validation, liquidity) are returned to the caller
// untouched; post-persistence failures (consensus, settlement) are recorded on
// the transaction and surfaced with the same types.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrServiceUnavailable indicates the service is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrLiquidity indicates no active pool or not enough destination liquidity
	ErrLiquidity = errors.New("insufficient liquidity")

	// ErrConsensus indicates the validator quorum was not reached in time
	ErrConsensus = errors.New("validator consensus not reached")

	// ErrSettlement indicates the settlement provider failed or timed out
	ErrSettlement = errors.New("settlement failed")
)

// Failure reason codes stored on failed or cancelled transactions
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeLiquidity     = "LIQUIDITY_ERROR"
	CodeConsensus     = "CONSENSUS_ERROR"
	CodeSettlement    = "SETTLEMENT_ERROR"
	CodeUserCancelled = "USER_CANCELLED"
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// IsRetryable returns true if the error is retryable
func (e *DomainError) IsRetryable() bool {
	return e.Retryable
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// ConflictError creates a conflict error
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    "CONFLICT",
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// ServiceUnavailableError creates a service unavailable error
func ServiceUnavailableError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   fmt.Sprintf("%s service is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// LiquidityError creates a liquidity error carrying the amount that could be
// bridged right now and how long the caller should expect to wait for more.
func LiquidityError(message string, suggested decimal.Decimal, wait time.Duration) *DomainError {
	return &DomainError{
		Err:     ErrLiquidity,
		Code:    CodeLiquidity,
		Message: message,
		Details: map[string]interface{}{
			"suggested_amount": suggested.String(),
			"estimated_wait":   wait.String(),
		},
		Retryable: true,
	}
}

// ConsensusError creates a consensus error for a round that closed below quorum
func ConsensusError(required, actual int) *DomainError {
	return &DomainError{
		Err:     ErrConsensus,
		Code:    CodeConsensus,
		Message: fmt.Sprintf("validator consensus not reached: %d of %d signatures", actual, required),
		Details: map[string]interface{}{
			"required_validators": required,
			"actual_validators":   actual,
		},
	}
}

// SettlementError creates a settlement error for the given provider
func SettlementError(provider string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrSettlement,
		Code:    CodeSettlement,
		Message: fmt.Sprintf("settlement via %s failed", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
	if err != nil {
		de.Message = fmt.Sprintf("settlement via %s failed: %v", provider, err)
		de.Details["cause"] = err.Error()
	}
	return de
}

// Error helpers for common patterns

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidInput checks if an error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsLiquidity checks if an error is a liquidity error
func IsLiquidity(err error) bool {
	return errors.Is(err, ErrLiquidity)
}

// IsConsensus checks if an error is a consensus error
func IsConsensus(err error) bool {
	return errors.Is(err, ErrConsensus)
}

// IsSettlement checks if an error is a settlement error
func IsSettlement(err error) bool {
	return errors.Is(err, ErrSettlement)
}

// IsServiceUnavailable checks if an error is a service unavailable error
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
