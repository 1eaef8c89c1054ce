package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
)

type meterContextKey struct{}

// WithMeter returns a context carrying the provided meter.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterContextKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the meter stored in ctx or a new one.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter, ok := ctx.Value(meterContextKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}

// CountInvoiceTransition records one invoice reaching status.
func CountInvoiceTransition(ctx context.Context, status string) {
	MeterFromContext(ctx).Count("invoice.transition", 1, sentry.WithAttributes(attribute.String("invoice.status", status)))
}

// CountGatewayFailure records one failed payment gateway call.
func CountGatewayFailure(ctx context.Context, reason string) {
	MeterFromContext(ctx).Count("gateway.poll.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
}

// CountFulfillment records the outcome of one fulfillment attempt.
func CountFulfillment(ctx context.Context, outcome string) {
	MeterFromContext(ctx).Count("fulfillment.attempt", 1, sentry.WithAttributes(attribute.String("outcome", outcome)))
}

// CountPollerEvent records a poller lifecycle event such as launch or panic.
func CountPollerEvent(ctx context.Context, event string) {
	MeterFromContext(ctx).Count("poller.event", 1, sentry.WithAttributes(attribute.String("event", event)))
}
