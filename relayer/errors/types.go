package errors

import (
	"fmt"
	"strings"
)

// Kind represents the category of a relayer failure
type Kind string

const (
	// KindValidation indicates malformed input or a violated business precondition
	KindValidation Kind = "VALIDATION"

	// KindNotFound indicates the target account does not exist on the ledger
	KindNotFound Kind = "NOT_FOUND"

	// KindDecode indicates account bytes that do not match the expected layout
	KindDecode Kind = "DECODE"

	// KindOverload indicates local capacity was exhausted
	KindOverload Kind = "OVERLOAD"

	// KindTransient indicates a network or ledger hiccup that may succeed later
	KindTransient Kind = "TRANSIENT"

	// KindProgram indicates the remote program rejected the operation
	KindProgram Kind = "PROGRAM"

	// KindWrapper indicates the relayer could not build the transaction
	KindWrapper Kind = "WRAPPER"

	// KindAlreadyDone indicates a one-shot operation already took effect
	KindAlreadyDone Kind = "ALREADY_DONE"

	// KindConfig indicates invalid or missing configuration
	KindConfig Kind = "CONFIG"

	// KindInternal indicates a bug or an unclassified failure
	KindInternal Kind = "INTERNAL"
)

// Reasons carried alongside a Kind. The set is open; these are the ones the
// relayer produces itself.
const (
	ReasonInvalidInput                = "InvalidInput"
	ReasonTooSmall                    = "TooSmall"
	ReasonBadDiscriminator            = "BadDiscriminator"
	ReasonBadVectorLength             = "BadVectorLength"
	ReasonBadFlag                     = "BadFlag"
	ReasonInsufficientContractBalance = "InsufficientContractBalance"
	ReasonTooManyParticipants         = "TooManyParticipantsForSingleTransaction"
	ReasonEmptyWinners                = "EmptyWinners"
	ReasonEmptySubscribers            = "EmptySubscribers"
	ReasonAlreadyInitialized          = "AlreadyInitialized"
	ReasonAlreadySubscribed           = "AlreadySubscribed"
	ReasonUnauthorized                = "Unauthorized"
	ReasonInvalidStatus               = "InvalidStatus"
	ReasonAlreadyPaid                 = "AlreadyPaid"
	ReasonTransactionTooLarge         = "TransactionTooLarge"
	ReasonBlockhashExpired            = "BlockhashExpired"
	ReasonRentUnavailable             = "RentFloorUnavailable"
	ReasonUnhealthy                   = "Unhealthy"
	ReasonQueueFull                   = "QueueFull"
	ReasonCanceled                    = "Canceled"
)

// Severity represents the severity level of an error
type Severity string

const (
	// SeverityCritical indicates critical errors that require immediate attention
	SeverityCritical Severity = "CRITICAL"

	// SeverityHigh indicates high priority errors
	SeverityHigh Severity = "HIGH"

	// SeverityMedium indicates medium priority errors
	SeverityMedium Severity = "MEDIUM"

	// SeverityLow indicates low priority errors
	SeverityLow Severity = "LOW"

	// SeverityInfo indicates informational errors
	SeverityInfo Severity = "INFO"
)

// Diagnostics carries what a simulation or the landed transaction told us
// about a rejection.
type Diagnostics struct {
	Logs           []string `json:"logs,omitempty"`
	UnitsConsumed  *uint64  `json:"units_consumed,omitempty"`
	SimulatedError string   `json:"simulated_error,omitempty"`
}

// Error is the single error type surfaced by every relayer operation
type Error struct {
	Kind        Kind                   `json:"kind"`
	Reason      string                 `json:"reason,omitempty"`
	Message     string                 `json:"message"`
	Severity    Severity               `json:"severity"`
	Code        *uint32                `json:"code,omitempty"`
	Diagnostics *Diagnostics           `json:"diagnostics,omitempty"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// New creates a new Error
func New(kind Kind, reason, message string, cause error) *Error {
	return &Error{
		Kind:     kind,
		Reason:   reason,
		Message:  message,
		Severity: determineSeverity(kind),
		Cause:    cause,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(":")
		b.WriteString(e.Reason)
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Code != nil {
		fmt.Fprintf(&b, " (code %d)", *e.Code)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDiagnostics attaches simulation output
func (e *Error) WithDiagnostics(d *Diagnostics) *Error {
	e.Diagnostics = d
	return e
}

// Retryable reports whether the same request may succeed if sent again later
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindOverload:
		return true
	default:
		return false
	}
}

func determineSeverity(kind Kind) Severity {
	switch kind {
	case KindInternal:
		return SeverityCritical
	case KindDecode, KindConfig:
		return SeverityHigh
	case KindTransient, KindOverload, KindProgram, KindWrapper:
		return SeverityMedium
	case KindValidation, KindNotFound:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// Validation creates a validation error
func Validation(reason, message string) *Error {
	return New(KindValidation, reason, message, nil)
}

// Validationf creates a validation error with a formatted message
func Validationf(reason, format string, args ...interface{}) *Error {
	return New(KindValidation, reason, fmt.Sprintf(format, args...), nil)
}

// NotFound creates a not-found error
func NotFound(message string) *Error {
	return New(KindNotFound, "", message, nil)
}

// Decode creates a decode error
func Decode(reason, message string) *Error {
	return New(KindDecode, reason, message, nil)
}

// Overload creates an overload error
func Overload(message string) *Error {
	return New(KindOverload, ReasonQueueFull, message, nil)
}

// Transient creates a transient error
func Transient(reason, message string, cause error) *Error {
	return New(KindTransient, reason, message, cause)
}

// Program creates a program rejection error. code is nil when no numeric
// code could be recovered.
func Program(code *uint32, reason, message string, cause error) *Error {
	e := New(KindProgram, reason, message, cause)
	e.Code = code
	return e
}

// Wrapper creates a transaction-construction error
func Wrapper(reason, message string, cause error) *Error {
	return New(KindWrapper, reason, message, cause)
}

// AlreadyDone creates an already-done error
func AlreadyDone(reason, message string) *Error {
	return New(KindAlreadyDone, reason, message, nil)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return New(KindConfig, "", message, cause)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return New(KindInternal, "", message, cause)
}
