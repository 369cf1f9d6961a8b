package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"receipt-workers/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSNSService struct {
	input *sns.PublishInput
	err   error
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.input = params
	return &sns.PublishOutput{}, m.err
}

type MockSESService struct {
	input *ses.SendEmailInput
	err   error
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = params
	return &ses.SendEmailOutput{}, m.err
}

func testNotice() Notice {
	return Notice{
		SubscriberRef:      "a1b2c3d4e5f60718",
		JobKey:             42,
		ProcessInstanceKey: 420,
		Code:               "RECEIPT_CREDENTIAL_INVALID",
		Message:            "Could not validate receipt credential",
		OccurredAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSNSNotifier(t *testing.T) {
	client := &MockSNSService{}
	n := NewSNSNotifier(client, "arn:aws:sns:us-east-1:123456789012:receipts")

	require.NoError(t, n.NotifyVerificationFailed(context.Background(), testNotice()))
	require.NotNil(t, client.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:receipts", *client.input.TopicArn)
	assert.Equal(t, EventVerificationFailed, *client.input.MessageAttributes["event"].StringValue)

	var decoded Notice
	require.NoError(t, json.Unmarshal([]byte(*client.input.Message), &decoded))
	assert.Equal(t, int64(42), decoded.JobKey)
	assert.Equal(t, "RECEIPT_CREDENTIAL_INVALID", decoded.Code)
	assert.True(t, testNotice().OccurredAt.Equal(decoded.OccurredAt))
}

func TestSESNotifier(t *testing.T) {
	client := &MockSESService{}
	n := NewSESNotifier(client, "noreply@example.com", "ops@example.com")

	require.NoError(t, n.NotifyVerificationFailed(context.Background(), testNotice()))
	require.NotNil(t, client.input)
	assert.Equal(t, []string{"ops@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "noreply@example.com", *client.input.Source)
	assert.Contains(t, *client.input.Message.Subject.Data, "RECEIPT_CREDENTIAL_INVALID")
	assert.Contains(t, *client.input.Message.Body.Text.Data, "a1b2c3d4e5f60718")
}

func TestMulti_NotifiesAllAndJoinsErrors(t *testing.T) {
	failing := &MockSNSService{err: errors.New("throttled")}
	email := &MockSESService{}
	m := Multi{
		NewSNSNotifier(failing, "arn"),
		NewSESNotifier(email, "a@example.com", "b@example.com"),
		NewLogNotifier(logger.NewTestLogger(t)),
	}

	err := m.NotifyVerificationFailed(context.Background(), testNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.NotNil(t, email.input, "later channels still run after a failure")
}
