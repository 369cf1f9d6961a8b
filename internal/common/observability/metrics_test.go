package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoop_IsSafeToUse(t *testing.T) {
	o := NewNoop()

	ctx, span := o.StartSpan(context.Background(), "receipt.attempt", attribute.String("step", "submit"))
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	o.RecordJobProcessed(ctx, "receipt-request-response", "success")
	o.RecordJobDuration(ctx, "receipt-request-response", time.Second, "success")
	o.Shutdown()
}
