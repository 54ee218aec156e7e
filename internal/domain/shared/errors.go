package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrMalformedRecord     = NewDomainError("MALFORMED_RECORD", "Record failed structural parsing")
	ErrValidationFailed    = NewDomainError("VALIDATION_FAILED", "Record failed domain validation")
	ErrReferentialGap      = NewDomainError("REFERENTIAL_GAP", "Record references an unknown entity")
	ErrTransientSource     = NewDomainError("TRANSIENT_SOURCE", "Source temporarily unavailable")
	ErrTerminalSource      = NewDomainError("TERMINAL_SOURCE", "Source failed after exhausting retries")
	ErrLoadConflict        = NewDomainError("LOAD_CONFLICT", "Concurrent write conflict at sink")
	ErrQualityGateFailure  = NewDomainError("QUALITY_GATE_FAILURE", "Batch blocked by quality gate")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrLeaseHeld           = NewDomainError("LEASE_HELD", "Another run already holds the pipeline lease")
)
