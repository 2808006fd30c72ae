package handler

import (
	"strconv"
	"time"

	"lightning-pos/internal/adapter/http/dto"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"
	"lightning-pos/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultOutcomeLimit = 50

// OutcomeHandler exposes the archived payment history.
type OutcomeHandler struct {
	archive ports.SessionArchive
}

// NewOutcomeHandler creates a new OutcomeHandler.
func NewOutcomeHandler(archive ports.SessionArchive) *OutcomeHandler {
	return &OutcomeHandler{archive: archive}
}

// ListOutcomes handles GET /api/v1/outcomes.
func (h *OutcomeHandler) ListOutcomes(c *gin.Context) {
	limit := defaultOutcomeLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			response.Error(c, apperror.Validation("limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}

	outcomes, err := h.archive.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.OutcomeResponse, 0, len(outcomes))
	for i := range outcomes {
		items = append(items, toOutcomeResponse(&outcomes[i]))
	}
	response.OK(c, items)
}

// GetOutcome handles GET /api/v1/outcomes/:invoice_id.
func (h *OutcomeHandler) GetOutcome(c *gin.Context) {
	invoiceID := c.Param("invoice_id")

	outcome, err := h.archive.GetOutcome(c.Request.Context(), invoiceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome == nil {
		response.Error(c, apperror.ErrNotFound("Payment outcome"))
		return
	}

	response.OK(c, toOutcomeResponse(outcome))
}

func toOutcomeResponse(outcome *domain.PaymentOutcome) dto.OutcomeResponse {
	return dto.OutcomeResponse{
		ID:            outcome.ID.String(),
		InvoiceID:     outcome.InvoiceID,
		State:         string(outcome.State),
		TransactionID: outcome.TransactionID,
		Detail:        outcome.Detail,
		FiatAmount:    outcome.FiatAmount.String(),
		CreatedAt:     outcome.CreatedAt.UTC().Format(time.RFC3339),
	}
}
