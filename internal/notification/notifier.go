// Package notification raises the "verification failed" alert when a receipt
// request ends without a redeemable credential.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	commonaws "receipt-workers/internal/common/aws"
	"receipt-workers/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

const EventVerificationFailed = "subscription.receipt.verification_failed"

// Notice describes a terminal receipt request failure.
type Notice struct {
	SubscriberRef      string    `json:"subscriberRef"`
	JobKey             int64     `json:"jobKey"`
	ProcessInstanceKey int64     `json:"processInstanceKey"`
	Code               string    `json:"code"`
	Message            string    `json:"message"`
	OccurredAt         time.Time `json:"occurredAt"`
}

type Notifier interface {
	NotifyVerificationFailed(ctx context.Context, notice Notice) error
}

// SNSNotifier publishes the notice as JSON to a topic.
type SNSNotifier struct {
	client   commonaws.Publisher
	topicARN string
}

func NewSNSNotifier(client commonaws.Publisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) NotifyVerificationFailed(ctx context.Context, notice Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String("Receipt verification failed"),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(EventVerificationFailed)},
			"code":  {DataType: aws.String("String"), StringValue: aws.String(notice.Code)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// SESNotifier emails the notice to an operator address.
type SESNotifier struct {
	client commonaws.EmailSender
	from   string
	to     string
}

func NewSESNotifier(client commonaws.EmailSender, from, to string) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to}
}

func (n *SESNotifier) NotifyVerificationFailed(ctx context.Context, notice Notice) error {
	subject := fmt.Sprintf("Receipt verification failed [%s]", notice.Code)

	var b strings.Builder
	fmt.Fprintf(&b, "A subscription receipt request ended without a redeemable credential.\n\n")
	fmt.Fprintf(&b, "Subscriber: %s\n", notice.SubscriberRef)
	fmt.Fprintf(&b, "Job: %d (process instance %d)\n", notice.JobKey, notice.ProcessInstanceKey)
	fmt.Fprintf(&b, "Code: %s\n", notice.Code)
	fmt.Fprintf(&b, "Message: %s\n", notice.Message)
	fmt.Fprintf(&b, "At: %s\n", notice.OccurredAt.UTC().Format(time.RFC3339))

	_, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(b.String())},
			},
		},
		Source: aws.String(n.from),
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// Multi notifies every channel and joins their errors.
type Multi []Notifier

func (m Multi) NotifyVerificationFailed(ctx context.Context, notice Notice) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyVerificationFailed(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs. Used when no channel is configured.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) NotifyVerificationFailed(_ context.Context, notice Notice) error {
	n.logger.Warn("receipt verification failed", map[string]interface{}{
		"event":         EventVerificationFailed,
		"subscriberRef": notice.SubscriberRef,
		"jobKey":        notice.JobKey,
		"code":          notice.Code,
		"message":       notice.Message,
	})
	return nil
}
