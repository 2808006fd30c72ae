package ports

import (
	"context"
	"time"

	"lightning-pos/internal/core/domain"

	"github.com/shopspring/decimal"
)

// CreateInvoiceRequest is the processor invoice-creation payload.
type CreateInvoiceRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CorrelationID string
}

// ProcessorInvoice is the processor's invoice-creation response.
type ProcessorInvoice struct {
	InvoiceID   string
	State       domain.InvoiceState
	Created     time.Time
	Description string
}

// InvoiceQuote is the processor's renderable payment string for an invoice.
type InvoiceQuote struct {
	PaymentRequest string
	Expiration     time.Time
	SourceAmount   decimal.Decimal
	TargetAmount   decimal.Decimal
}

// TickerEntry is one exchange-rate pair from the processor ticker.
type TickerEntry struct {
	SourceCurrency string
	TargetCurrency string
	Amount         decimal.Decimal
}

// ProcessorClient is the HTTP surface of the external payment processor.
// Implementations classify failures via pkg/apperror: NET_001 transport,
// NET_002 rate limited, NET_003 malformed response.
type ProcessorClient interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProcessorInvoice, error)
	GetQuote(ctx context.Context, invoiceID string) (*InvoiceQuote, error)
	GetInvoiceStatus(ctx context.Context, invoiceID string) (domain.InvoiceState, error)
	GetTicker(ctx context.Context) ([]TickerEntry, error)
}
