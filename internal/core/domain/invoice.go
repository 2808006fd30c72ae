package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceState is the processor-reported lifecycle state of an invoice.
type InvoiceState string

const (
	InvoiceStateUnpaid    InvoiceState = "UNPAID"
	InvoiceStatePaid      InvoiceState = "PAID"
	InvoiceStateCancelled InvoiceState = "CANCELLED"
	InvoiceStateExpired   InvoiceState = "EXPIRED"
)

// Invoice is a processor-issued payment request for a fixed fiat amount.
type Invoice struct {
	InvoiceID      string          `json:"invoice_id"`
	PaymentRequest string          `json:"payment_request"`
	ExpiresAt      time.Time       `json:"expires_at"`
	FiatAmount     decimal.Decimal `json:"fiat_amount"`
	NativeAmount   decimal.Decimal `json:"native_amount"`
	RateUsed       decimal.Decimal `json:"rate_used"`
	Description    string          `json:"description"`
	// Degraded marks a synthetic fallback invoice produced when the
	// processor was unreachable. The monitor caps polling against it.
	Degraded bool `json:"degraded"`
}
