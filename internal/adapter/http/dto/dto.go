package dto

import (
	"time"

	"lightning-pos/internal/core/ports"

	"github.com/shopspring/decimal"
)

// CreateCheckoutRequest is the request body for starting a checkout.
// Amount is a decimal string in the configured fiat currency.
type CreateCheckoutRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description" binding:"max=200"`
	Asset       string          `json:"asset" binding:"required"`
	Address     string          `json:"address,omitempty" binding:"max=128"`
}

// InvoiceResponse describes the invoice behind a checkout.
type InvoiceResponse struct {
	InvoiceID      string `json:"invoice_id"`
	PaymentRequest string `json:"payment_request"`
	ExpiresAt      string `json:"expires_at"`
	FiatAmount     string `json:"fiat_amount"`
	NativeAmount   string `json:"native_amount"`
	RateUsed       string `json:"rate_used"`
	Description    string `json:"description,omitempty"`
	Degraded       bool   `json:"degraded"`
}

// CheckoutResponse is the response body for checkout state.
type CheckoutResponse struct {
	ID              string          `json:"id"`
	Asset           string          `json:"asset"`
	Payload         string          `json:"payload"`
	Invoice         InvoiceResponse `json:"invoice"`
	State           string          `json:"state"`
	Message         string          `json:"message,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	ErrorDetail     string          `json:"error_detail,omitempty"`
	CanRetry        bool            `json:"can_retry"`
	SecondsToExpiry int64           `json:"seconds_to_expiry"`
}

// OutcomeResponse is one archived terminal payment outcome.
type OutcomeResponse struct {
	ID            string  `json:"id"`
	InvoiceID     string  `json:"invoice_id"`
	State         string  `json:"state"`
	TransactionID *string `json:"transaction_id,omitempty"`
	Detail        string  `json:"detail,omitempty"`
	FiatAmount    string  `json:"fiat_amount"`
	CreatedAt     string  `json:"created_at"`
}

// ToCheckoutResponse converts a checkout view to its DTO.
func ToCheckoutResponse(view *ports.CheckoutView) CheckoutResponse {
	return CheckoutResponse{
		ID:      view.ID.String(),
		Asset:   string(view.Asset),
		Payload: view.Payload,
		Invoice: InvoiceResponse{
			InvoiceID:      view.Invoice.InvoiceID,
			PaymentRequest: view.Invoice.PaymentRequest,
			ExpiresAt:      view.Invoice.ExpiresAt.UTC().Format(time.RFC3339),
			FiatAmount:     view.Invoice.FiatAmount.String(),
			NativeAmount:   view.Invoice.NativeAmount.StringFixed(8),
			RateUsed:       view.Invoice.RateUsed.String(),
			Description:    view.Invoice.Description,
			Degraded:       view.Invoice.Degraded,
		},
		State:           string(view.LastUpdate.State),
		Message:         view.LastUpdate.Message,
		TransactionID:   view.LastUpdate.TransactionID,
		ErrorDetail:     view.LastUpdate.ErrorDetail,
		CanRetry:        view.CanRetry,
		SecondsToExpiry: view.SecondsToExpiry,
	}
}
