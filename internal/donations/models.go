package donations

import (
	"encoding/json"
	"fmt"
)

// ServiceResponse carries exactly one of Result, ApplicationError or
// ExecutionError. Status is the HTTP status when a response was received.
type ServiceResponse[T any] struct {
	Status           int
	Result           *T
	ApplicationError error
	ExecutionError   error
}

func success[T any](status int, result *T) ServiceResponse[T] {
	return ServiceResponse[T]{Status: status, Result: result}
}

func applicationError[T any](status int, err error) ServiceResponse[T] {
	return ServiceResponse[T]{Status: status, ApplicationError: err}
}

func executionError[T any](status int, err error) ServiceResponse[T] {
	return ServiceResponse[T]{Status: status, ExecutionError: err}
}

// StatusError is a definitive non-success answer from the service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("donations service responded %d", e.Status)
	}
	return fmt.Sprintf("donations service responded %d: %s", e.Status, e.Body)
}

// Subscription is the current recurring subscription of a subscriber.
type Subscription struct {
	Level              int64       `json:"level"`
	Currency           string      `json:"currency"`
	Amount             json.Number `json:"amount"`
	EndOfCurrentPeriod int64       `json:"endOfCurrentPeriod"`
	Active             bool        `json:"active"`
	BillingCycleAnchor int64       `json:"billingCycleAnchor"`
	CancelAtPeriodEnd  bool        `json:"cancelAtPeriodEnd"`
	Status             string      `json:"status"`
}

func (s *Subscription) IsActive() bool {
	return s != nil && s.Active
}

// ActiveSubscription wraps the subscription, which is nil when the subscriber has none.
type ActiveSubscription struct {
	Subscription *Subscription `json:"subscription"`
}

// IsActive reports whether a subscription exists and is active.
func (a *ActiveSubscription) IsActive() bool {
	return a != nil && a.Subscription.IsActive()
}

type receiptCredentialRequest struct {
	ReceiptCredentialRequest string `json:"receiptCredentialRequest"`
}

type receiptCredentialResponseJSON struct {
	ReceiptCredentialResponse string `json:"receiptCredentialResponse"`
}

// ReceiptCredentialResponse is the server's answer to a receipt credential request.
type ReceiptCredentialResponse struct {
	Response []byte
}
