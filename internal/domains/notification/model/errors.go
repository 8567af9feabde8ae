package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ================================================
// DOMAIN-SPECIFIC ERRORS
// ================================================

// Request / validation errors
var (
	ErrInvalidNotificationType = errors.New("invalid notification type")
	ErrInvalidChannel          = errors.New("invalid notification channel")
	ErrInvalidJSONB            = errors.New("invalid JSONB data")
	ErrOverloaded              = errors.New("delivery queue is full")
	ErrPipelineClosed          = errors.New("delivery pipeline is shut down")
)

// Preference errors
var (
	ErrPreferenceNotFound = errors.New("notification preference not found")
	ErrInvalidFrequency   = errors.New("invalid delivery frequency")
	ErrInvalidQuietHours  = errors.New("invalid quiet hours window")
)

// Template errors
var (
	ErrTemplateNotFound = errors.New("notification template not found")
	ErrTemplateInactive = errors.New("notification template is not active")
	ErrEmptyBodyText    = errors.New("template body text must not be empty")
)

// Delivery errors
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrRecordNotFound       = errors.New("delivery record not found")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrIdentityBlocked      = errors.New("identity temporarily blocked")
	ErrCircuitOpen          = errors.New("mail circuit breaker is open")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrUnknownUser          = errors.New("unknown user")
	ErrMaxRetriesExceeded   = errors.New("maximum retry attempts exceeded")
	ErrDeadLetterNotFound   = errors.New("dead letter record not found")
	ErrDeadLetterNotRetry   = errors.New("dead letter record is not retryable")
	ErrTerminalState        = errors.New("delivery record is in a terminal state")
	ErrIllegalTransition    = errors.New("illegal delivery state transition")
)

// ================================================
// MISSING VARIABLES ERROR
// ================================================

// MissingVariablesError reports template placeholders that were not
// supplied. Non-retryable.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing required variables: %s", strings.Join(e.Names, ", "))
}

// ================================================
// TRANSPORT ERROR CLASSIFICATION
// ================================================

// TransportError wraps an outbound send failure with its retry class.
type TransportError struct {
	Code      string
	Message   string
	Temporary bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransientTransportError marks a failure as retryable (network,
// timeout, 5xx-class response).
func NewTransientTransportError(code, message string, err error) *TransportError {
	return &TransportError{Code: code, Message: message, Temporary: true, Err: err}
}

// NewPermanentTransportError marks a failure as non-retryable (invalid
// recipient, 4xx-class response other than 429).
func NewPermanentTransportError(code, message string, err error) *TransportError {
	return &TransportError{Code: code, Message: message, Temporary: false, Err: err}
}

// IsRetryable classifies an error per the pipeline retry policy:
// transient transport failures, transport timeouts, and circuit-open
// rejections re-enter the queue; everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return false
}

// ================================================
// ERROR CODES (for API responses and record reasons)
// ================================================

const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeOverloaded       = "OVERLOADED"
	ErrCodeTemplateNotFound = "TEMPLATE_NOT_FOUND"
	ErrCodeMissingVariables = "MISSING_VARIABLES"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeDeliveryFailed   = "DELIVERY_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ================================================
// CUSTOM ERROR TYPE (for richer errors)
// ================================================

type NotificationError struct {
	Code    string
	Message string
	Err     error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// NewNotificationError creates a new notification error
func NewNotificationError(code, message string, err error) *NotificationError {
	return &NotificationError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
