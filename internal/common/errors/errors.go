package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	// Subscription status source
	ErrCodeSubscriptionNotActive         ErrorCode = "SUBSCRIPTION_NOT_ACTIVE"
	ErrCodeSubscriptionStatusUnavailable ErrorCode = "SUBSCRIPTION_STATUS_UNAVAILABLE"
	ErrCodeSubscriptionStatusFailed      ErrorCode = "SUBSCRIPTION_STATUS_FAILED"

	// Receipt credential exchange
	ErrCodeReceiptNothingToRedeem     ErrorCode = "RECEIPT_NOTHING_TO_REDEEM"
	ErrCodeReceiptRequestInvalid      ErrorCode = "RECEIPT_REQUEST_INVALID"
	ErrCodeReceiptAuthMismatch        ErrorCode = "RECEIPT_SUBSCRIBER_AUTH_MISMATCH"
	ErrCodeReceiptSubscriberNotFound  ErrorCode = "RECEIPT_SUBSCRIBER_NOT_FOUND"
	ErrCodeReceiptAlreadyRedeemed     ErrorCode = "RECEIPT_ALREADY_REDEEMED"
	ErrCodeReceiptServerError         ErrorCode = "RECEIPT_SERVER_ERROR"
	ErrCodeReceiptExchangeUnavailable ErrorCode = "RECEIPT_EXCHANGE_UNAVAILABLE"

	// Local crypto / validation
	ErrCodeZKVerificationFailed     ErrorCode = "ZK_VERIFICATION_FAILED"
	ErrCodeZKUnavailable            ErrorCode = "ZK_UNAVAILABLE"
	ErrCodeReceiptCredentialInvalid ErrorCode = "RECEIPT_CREDENTIAL_INVALID"

	// Job state
	ErrCodeReceiptStateCorrupt     ErrorCode = "RECEIPT_STATE_CORRUPT"
	ErrCodeReceiptStateUnavailable ErrorCode = "RECEIPT_STATE_UNAVAILABLE"
	ErrCodeReceiptLifespanExceeded ErrorCode = "RECEIPT_LIFESPAN_EXCEEDED"
	ErrCodeReceiptRetriesExhausted ErrorCode = "RECEIPT_RETRIES_EXHAUSTED"
	ErrCodeInvalidJobInput         ErrorCode = "INVALID_JOB_INPUT"
	ErrCodeLockUnavailable         ErrorCode = "LOCK_UNAVAILABLE"

	// Workflow engine
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeEngineRejected    ErrorCode = "ENGINE_REJECTED"
)

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

func newError(code ErrorCode, message string, retryable bool, cause error) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func NewSubscriptionNotActiveError() *StandardError {
	return newError(ErrCodeSubscriptionNotActive, "Subscription is not active yet", true, nil)
}

func NewSubscriptionStatusUnavailableError(err error) *StandardError {
	return newError(ErrCodeSubscriptionStatusUnavailable, "Subscription status could not be fetched", true, err)
}

func NewSubscriptionStatusFailedError(status int, err error) *StandardError {
	return newError(ErrCodeSubscriptionStatusFailed, "Unrecoverable error fetching current subscription", false, err).
		WithMetadata("status", status)
}

func NewNothingToRedeemError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptNothingToRedeem, "No receipts available to exchange", false, err).
		WithMetadata("status", status)
}

func NewReceiptRequestInvalidError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptRequestInvalid, "Receipt credential request failed to validate", false, err).
		WithMetadata("status", status)
}

func NewReceiptAuthMismatchError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptAuthMismatch, "Subscriber id password mismatch or account auth was present", false, err).
		WithMetadata("status", status)
}

func NewReceiptSubscriberNotFoundError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptSubscriberNotFound, "Subscriber id not found or malformed", false, err).
		WithMetadata("status", status)
}

func NewReceiptAlreadyRedeemedError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptAlreadyRedeemed, "Latest paid receipt already redeemed with a different request credential", false, err).
		WithMetadata("status", status)
}

func NewReceiptServerError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptServerError, "Receipt credential server failure response", true, err).
		WithMetadata("status", status)
}

func NewReceiptExchangeUnavailableError(status int, err error) *StandardError {
	return newError(ErrCodeReceiptExchangeUnavailable, "Receipt credential exchange had no definitive answer", true, err).
		WithMetadata("status", status)
}

func NewZKVerificationFailedError(step string, err error) *StandardError {
	return newError(ErrCodeZKVerificationFailed, "Zero-knowledge verification failure", true, err).
		WithMetadata("step", step)
}

func NewZKUnavailableError(step string, err error) *StandardError {
	return newError(ErrCodeZKUnavailable, "Zero-knowledge operations unavailable", true, err).
		WithMetadata("step", step)
}

func NewReceiptCredentialInvalidError(details string) *StandardError {
	e := newError(ErrCodeReceiptCredentialInvalid, "Could not validate receipt credential", false, nil)
	e.Details = details
	return e
}

func NewReceiptStateCorruptError(err error) *StandardError {
	return newError(ErrCodeReceiptStateCorrupt, "Persisted receipt request state could not be restored", false, err)
}

func NewReceiptStateUnavailableError(err error) *StandardError {
	return newError(ErrCodeReceiptStateUnavailable, "Receipt request state store unavailable", true, err)
}

func NewReceiptLifespanExceededError(createdAt time.Time, lifespan time.Duration) *StandardError {
	e := newError(ErrCodeReceiptLifespanExceeded, "Receipt request job outlived its lifespan", false, nil)
	e.Details = fmt.Sprintf("createdAt: %s, lifespan: %s", createdAt.UTC().Format(time.RFC3339), lifespan)
	return e
}

func NewReceiptRetriesExhaustedError(last error) *StandardError {
	return newError(ErrCodeReceiptRetriesExhausted, "Receipt request job ran out of attempts", false, last)
}

func NewInvalidJobInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidJobInput, "Job variables failed validation", false, nil)
	e.Details = details
	return e
}

func NewLockUnavailableError(name string, err error) *StandardError {
	return newError(ErrCodeLockUnavailable, "Workflow lock could not be acquired", true, err).
		WithMetadata("lock", name)
}

func NewEngineUnavailableError(operation string, err error) *StandardError {
	return newError(ErrCodeEngineUnavailable, "Workflow engine unavailable", true, err).
		WithMetadata("operation", operation)
}

func NewEngineRejectedError(operation string, err error) *StandardError {
	return newError(ErrCodeEngineRejected, "Workflow engine rejected the command", false, err).
		WithMetadata("operation", operation)
}

// CodeOf returns the code of the first StandardError in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// Normalize wraps arbitrary errors into a non-retryable StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "SUBSCRIPTION"):
		return "SUBSCRIPTION"
	case strings.HasPrefix(codeStr, "ZK"):
		return "CRYPTO"
	case code == ErrCodeReceiptCredentialInvalid:
		return "VALIDATION"
	case strings.HasPrefix(codeStr, "RECEIPT_STATE") || code == ErrCodeLockUnavailable:
		return "STATE"
	case code == ErrCodeReceiptLifespanExceeded || code == ErrCodeReceiptRetriesExhausted:
		return "SUBSTRATE"
	case strings.HasPrefix(codeStr, "RECEIPT"):
		return "EXCHANGE"
	case strings.HasPrefix(codeStr, "ENGINE"):
		return "ENGINE"
	case strings.Contains(codeStr, "INPUT"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
