package sellpass

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCustomerNotFound = errors.New("sellpass customer not found")
	ErrVariantNotFound  = errors.New("sellpass variant not found")
	ErrNoGateway        = errors.New("sellpass invoice has no gateway reference")
)

// APIError is a non-200 response from Sellpass.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sellpass %s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}

type Customer struct {
	ID            string
	Email         string
	RealBalance   decimal.Decimal
	ManualBalance decimal.Decimal
}

// Balance is the spendable total of the customer's shop balances.
func (c Customer) Balance() decimal.Decimal {
	return c.RealBalance.Add(c.ManualBalance)
}

type Variant struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	MinAmount int             `json:"min_amount"`
	MaxAmount int             `json:"max_amount"`
}

// AllowsQuantity reports whether quantity is inside the variant's order limits.
// A zero bound is unlimited.
func (v Variant) AllowsQuantity(quantity int) bool {
	if quantity <= 0 {
		return false
	}
	if v.MinAmount > 0 && quantity < v.MinAmount {
		return false
	}
	if v.MaxAmount > 0 && quantity > v.MaxAmount {
		return false
	}
	return true
}

// GatewayRef points at the hosted payment page behind a Sellpass invoice.
type GatewayRef struct {
	PaymentID string
	URL       string
}

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*f = flexID(n.String())
	return nil
}

type envelope[T any] struct {
	Data   T        `json:"data"`
	Errors []string `json:"errors"`
}

type customerEntry struct {
	ID       flexID `json:"id"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	CustomerForShopAccount struct {
		Balances []struct {
			RealBalance   decimal.NullDecimal `json:"realBalance"`
			ManualBalance decimal.NullDecimal `json:"manualBalance"`
		} `json:"balances"`
	} `json:"customerForShopAccount"`
}

func (e customerEntry) toCustomer() Customer {
	customer := Customer{ID: string(e.ID), Email: e.Customer.Email}
	if balances := e.CustomerForShopAccount.Balances; len(balances) > 0 {
		if balances[0].RealBalance.Valid {
			customer.RealBalance = balances[0].RealBalance.Decimal
		}
		if balances[0].ManualBalance.Valid {
			customer.ManualBalance = balances[0].ManualBalance.Decimal
		}
	}
	return customer
}

type productPayload struct {
	Product struct {
		Variants []struct {
			ID           flexID `json:"id"`
			Title        string `json:"title"`
			PriceDetails struct {
				Amount decimal.NullDecimal `json:"amount"`
			} `json:"priceDetails"`
			AsSerials struct {
				Stock     int `json:"stock"`
				MinAmount int `json:"minAmount"`
				MaxAmount int `json:"maxAmount"`
			} `json:"asSerials"`
		} `json:"variants"`
	} `json:"product"`
}

func (p productPayload) toVariants() []Variant {
	variants := make([]Variant, 0, len(p.Product.Variants))
	for _, raw := range p.Product.Variants {
		title := strings.ToUpper(strings.TrimSpace(raw.Title))
		if title == "" {
			title = "UNKNOWN VARIANT"
		}
		variant := Variant{
			ID:        string(raw.ID),
			Title:     title,
			Stock:     raw.AsSerials.Stock,
			MinAmount: raw.AsSerials.MinAmount,
			MaxAmount: raw.AsSerials.MaxAmount,
		}
		if raw.PriceDetails.Amount.Valid {
			variant.Price = raw.PriceDetails.Amount.Decimal
		}
		variants = append(variants, variant)
	}
	return variants
}

type invoicePayload struct {
	ForHoodpayInfo struct {
		ExternalURL       string `json:"externalUrl"`
		ExternalPaymentID flexID `json:"externalPaymentId"`
	} `json:"forHoodpayInfo"`
}
