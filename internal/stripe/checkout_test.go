package stripe

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/gitshopapp/preorder/internal/models"
)

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status stripeapi.CheckoutSessionStatus
		want   models.GatewayStatus
	}{
		{name: "open", status: stripeapi.CheckoutSessionStatusOpen, want: models.GatewayPending},
		{name: "complete", status: stripeapi.CheckoutSessionStatusComplete, want: models.GatewayCompleted},
		{name: "expired", status: stripeapi.CheckoutSessionStatusExpired, want: models.GatewayExpired},
		{name: "empty", status: "", want: models.GatewayPending},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := sessionStatus(tc.status); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount string
		cents  int64
	}{
		{amount: "12.34", cents: 1234},
		{amount: "0.5", cents: 50},
		{amount: "10", cents: 1000},
		{amount: "1.005", cents: 101},
	}

	for _, tc := range tests {
		if got := toMinorUnits(decimal.RequireFromString(tc.amount)); got != tc.cents {
			t.Fatalf("toMinorUnits(%s): expected %d, got %d", tc.amount, tc.cents, got)
		}
	}

	if got := fromMinorUnits(1234); !got.Equal(decimal.RequireFromString("12.34")) {
		t.Fatalf("expected 12.34, got %s", got)
	}
}

func TestSelectMethod_RejectsNonCard(t *testing.T) {
	t.Parallel()

	g := NewGateway("sk_test_123", "https://example.com/ok", "https://example.com/cancel")
	if _, err := g.SelectMethod(context.Background(), "cs_test", "BITCOIN"); err == nil {
		t.Fatal("expected error for non-card method")
	}
}

func TestCreateCheckout_RejectsNonPositiveTotal(t *testing.T) {
	t.Parallel()

	g := NewGateway("sk_test_123", "https://example.com/ok", "https://example.com/cancel")
	if _, _, err := g.CreateCheckout(context.Background(), CheckoutParams{InvoiceID: "inv", Total: decimal.Zero}); err == nil {
		t.Fatal("expected error for zero total")
	}
}
