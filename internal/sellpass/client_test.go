package sellpass

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		ShopID:        "shop1",
		ProductID:     "prod1",
		APIKey:        "api-key",
		BaseURL:       server.URL + "/self",
		PublicBaseURL: server.URL,
	}, WithHTTPClient(server.Client()))
}

func TestLookupCustomer_MatchesEmailAndSumsBalances(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/self/shop1/customers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("email"); got != "buyer@example.com" {
			t.Errorf("expected lowercase email query, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer api-key" {
			t.Errorf("unexpected authorization %q", got)
		}
		_, _ = io.WriteString(w, `{"data":[
			{"id":11,"customer":{"email":"other@example.com"}},
			{"id":42,"customer":{"email":"buyer@example.com"},
			 "customerForShopAccount":{"balances":[{"realBalance":10.5,"manualBalance":"2.25"}]}}
		]}`)
	})

	customer, err := client.LookupCustomer(context.Background(), "Buyer@Example.com")
	if err != nil {
		t.Fatalf("LookupCustomer returned error: %v", err)
	}
	if customer.ID != "42" {
		t.Fatalf("expected customer id 42, got %q", customer.ID)
	}
	if !customer.Balance().Equal(decimal.RequireFromString("12.75")) {
		t.Fatalf("expected balance 12.75, got %s", customer.Balance())
	}
}

func TestLookupCustomer_NotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	})

	_, err := client.LookupCustomer(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestDeductBalance_PostsNumericAmount(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/self/shop1/customers/42/balance/remove" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.Number
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["amount"].String() != "19.99" {
			t.Errorf("expected amount 19.99, got %v", body)
		}
		_, _ = io.WriteString(w, `{"data":null}`)
	})

	if err := client.DeductBalance(context.Background(), "42", decimal.RequireFromString("19.99")); err != nil {
		t.Fatalf("DeductBalance returned error: %v", err)
	}
}

func TestDeductBalance_APIErrorCarriesMessage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":["Insufficient balance"]}`)
	})

	err := client.DeductBalance(context.Background(), "42", decimal.NewFromInt(5))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Insufficient balance" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestDeductBalance_RejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	if err := client.DeductBalance(context.Background(), "42", decimal.Zero); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestListVariants(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/self/shop1/v2/products/prod1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"data":{"product":{"variants":[
			{"id":7,"title":"gold pack","priceDetails":{"amount":4.5},"asSerials":{"stock":0,"minAmount":1,"maxAmount":10}},
			{"id":"8","title":"","priceDetails":{}}
		]}}}`)
	})

	variants, err := client.ListVariants(context.Background())
	if err != nil {
		t.Fatalf("ListVariants returned error: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[0].ID != "7" || variants[0].Title != "GOLD PACK" || variants[0].MaxAmount != 10 {
		t.Fatalf("unexpected first variant %+v", variants[0])
	}
	if !variants[0].Price.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("expected price 4.5, got %s", variants[0].Price)
	}
	if variants[1].Title != "UNKNOWN VARIANT" || !variants[1].Price.IsZero() {
		t.Fatalf("unexpected second variant %+v", variants[1])
	}
}

func TestCreateTopupAndGateway(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shop1/customers/dashboard/balance/topup":
			if got := r.Header.Get("Authorization"); got != "Bearer customer-token" {
				t.Errorf("expected customer token, got %q", got)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["amount"] != "25.00" || body["gateway"] != float64(10) {
				t.Errorf("unexpected top-up body %v", body)
			}
			_, _ = io.WriteString(w, `{"data":"sp_inv_1"}`)
		case "/self/shop1/invoices/sp_inv_1":
			_, _ = io.WriteString(w, `{"data":{"forHoodpayInfo":{"externalUrl":"https://pay.example/hp_9","externalPaymentId":"hp_9"}}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	invoiceID, err := client.CreateTopup(context.Background(), "customer-token", decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("CreateTopup returned error: %v", err)
	}
	if invoiceID != "sp_inv_1" {
		t.Fatalf("expected sp_inv_1, got %q", invoiceID)
	}

	ref, err := client.GetInvoiceGateway(context.Background(), invoiceID)
	if err != nil {
		t.Fatalf("GetInvoiceGateway returned error: %v", err)
	}
	if ref.PaymentID != "hp_9" || ref.URL != "https://pay.example/hp_9" {
		t.Fatalf("unexpected gateway ref %+v", ref)
	}
}

func TestGetInvoiceGateway_Missing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	})

	_, err := client.GetInvoiceGateway(context.Background(), "sp_inv_2")
	if !errors.Is(err, ErrNoGateway) {
		t.Fatalf("expected ErrNoGateway, got %v", err)
	}
}

func TestVariantAllowsQuantity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		variant  Variant
		quantity int
		want     bool
	}{
		{name: "zero quantity", variant: Variant{}, quantity: 0, want: false},
		{name: "unbounded", variant: Variant{}, quantity: 100, want: true},
		{name: "below min", variant: Variant{MinAmount: 2}, quantity: 1, want: false},
		{name: "above max", variant: Variant{MaxAmount: 5}, quantity: 6, want: false},
		{name: "inside range", variant: Variant{MinAmount: 2, MaxAmount: 5}, quantity: 5, want: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.variant.AllowsQuantity(tc.quantity); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
