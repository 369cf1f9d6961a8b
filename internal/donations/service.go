// Package donations is the client for the subscription status and receipt
// credential endpoints of the donations service.
package donations

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"unicode/utf8"

	commonhttp "receipt-workers/internal/common/http"
	"receipt-workers/internal/common/logger"
	"receipt-workers/internal/models"
)

type Service struct {
	client *commonhttp.Client
	logger logger.Logger
}

func NewService(client *commonhttp.Client, log logger.Logger) *Service {
	return &Service{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "donations"}),
	}
}

// GetSubscription fetches the current subscription of id.
//
// Transport failures, 5xx and 429 are execution errors; any other non-2xx
// status is an application error.
func (s *Service) GetSubscription(ctx context.Context, id models.SubscriberID) ServiceResponse[ActiveSubscription] {
	resp, err := s.client.DoJSON(ctx, http.MethodGet, subscriptionPath(id), nil)
	if err != nil {
		return executionError[ActiveSubscription](0, err)
	}

	if !resp.Successful() {
		return classify[ActiveSubscription](resp)
	}

	var out ActiveSubscription
	if resp.StatusCode != http.StatusNoContent && len(resp.Body) > 0 {
		if err := resp.DecodeJSON(&out); err != nil {
			return executionError[ActiveSubscription](resp.StatusCode, fmt.Errorf("decode subscription: %w", err))
		}
	}
	return success(resp.StatusCode, &out)
}

// SubmitReceiptCredentialRequest exchanges request for a receipt credential response.
//
// A 204 means the server has no paid receipt to exchange and is reported as an
// application error carrying the status.
func (s *Service) SubmitReceiptCredentialRequest(ctx context.Context, id models.SubscriberID, request []byte) ServiceResponse[ReceiptCredentialResponse] {
	body := receiptCredentialRequest{
		ReceiptCredentialRequest: base64.StdEncoding.EncodeToString(request),
	}

	resp, err := s.client.DoJSON(ctx, http.MethodPost, subscriptionPath(id)+"/receipt_credentials", body)
	if err != nil {
		return executionError[ReceiptCredentialResponse](0, err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return applicationError[ReceiptCredentialResponse](resp.StatusCode, &StatusError{Status: resp.StatusCode})
	}
	if !resp.Successful() {
		return classify[ReceiptCredentialResponse](resp)
	}

	var out receiptCredentialResponseJSON
	if err := resp.DecodeJSON(&out); err != nil {
		return executionError[ReceiptCredentialResponse](resp.StatusCode, fmt.Errorf("decode receipt credential response: %w", err))
	}
	raw, err := base64.StdEncoding.DecodeString(out.ReceiptCredentialResponse)
	if err != nil {
		return executionError[ReceiptCredentialResponse](resp.StatusCode, fmt.Errorf("decode receipt credential response: %w", err))
	}

	s.logger.Debug("receipt credential response received", map[string]interface{}{
		"status": resp.StatusCode,
		"bytes":  len(raw),
	})
	return success(resp.StatusCode, &ReceiptCredentialResponse{Response: raw})
}

func classify[T any](resp *commonhttp.Response) ServiceResponse[T] {
	statusErr := &StatusError{Status: resp.StatusCode, Body: truncate(string(resp.Body), 256)}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return executionError[T](resp.StatusCode, statusErr)
	}
	return applicationError[T](resp.StatusCode, statusErr)
}

func subscriptionPath(id models.SubscriberID) string {
	return "/v1/subscription/" + id.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
