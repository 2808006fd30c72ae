package ports

import (
	"context"

	"lightning-pos/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateConverter converts fiat amounts into crypto-native units using a
// time-cached exchange rate with a hard-coded fallback.
type RateConverter interface {
	GetRate(ctx context.Context, asset domain.Asset) (domain.RateResult, error)
	Convert(ctx context.Context, fiatAmount decimal.Decimal, asset domain.Asset) (domain.Conversion, error)
}

// InvoiceService creates payment requests with the external processor.
// Upstream failures degrade to a flagged synthetic invoice rather than an
// error, so callers always receive a renderable result.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, fiatAmount decimal.Decimal, description string) (*domain.Invoice, error)
}

// CreateCheckoutRequest holds validated input for starting a checkout.
type CreateCheckoutRequest struct {
	Amount      decimal.Decimal
	Description string
	Asset       domain.Asset
	Address     string // required for address-based assets
}

// CheckoutView is a point-in-time snapshot of a checkout and its session.
type CheckoutView struct {
	ID              uuid.UUID          `json:"id"`
	Asset           domain.Asset       `json:"asset"`
	Invoice         domain.Invoice     `json:"invoice"`
	Payload         string             `json:"payload"`
	LastUpdate      domain.StatusUpdate `json:"last_update"`
	CanRetry        bool               `json:"can_retry"`
	SecondsToExpiry int64              `json:"seconds_to_expiry"`
}

// CheckoutService owns one monitored payment session per checkout.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*CheckoutView, error)
	GetCheckout(id uuid.UUID) (*CheckoutView, error)
	CancelCheckout(id uuid.UUID) error
	RetryCheckout(id uuid.UUID) (*CheckoutView, error)
}
