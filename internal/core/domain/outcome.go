package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentOutcome is the archived record of a session's terminal state.
type PaymentOutcome struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	State         PaymentState    `json:"state"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
