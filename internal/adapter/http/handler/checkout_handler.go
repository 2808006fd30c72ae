package handler

import (
	"lightning-pos/internal/adapter/http/dto"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"
	"lightning-pos/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CheckoutHandler handles checkout endpoints.
type CheckoutHandler struct {
	checkoutSvc ports.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutSvc ports.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutSvc: checkoutSvc}
}

// CreateCheckout handles POST /api/v1/checkouts.
func (h *CheckoutHandler) CreateCheckout(c *gin.Context) {
	var req dto.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	view, err := h.checkoutSvc.CreateCheckout(c.Request.Context(), ports.CreateCheckoutRequest{
		Amount:      req.Amount,
		Description: req.Description,
		Asset:       domain.Asset(req.Asset),
		Address:     req.Address,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToCheckoutResponse(view))
}

// GetCheckout handles GET /api/v1/checkouts/:id.
func (h *CheckoutHandler) GetCheckout(c *gin.Context) {
	id, err := parseCheckoutID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	view, err := h.checkoutSvc.GetCheckout(id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToCheckoutResponse(view))
}

// RetryCheckout handles POST /api/v1/checkouts/:id/retry.
func (h *CheckoutHandler) RetryCheckout(c *gin.Context) {
	id, err := parseCheckoutID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	view, err := h.checkoutSvc.RetryCheckout(id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToCheckoutResponse(view))
}

// CancelCheckout handles DELETE /api/v1/checkouts/:id.
func (h *CheckoutHandler) CancelCheckout(c *gin.Context) {
	id, err := parseCheckoutID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.checkoutSvc.CancelCheckout(id); err != nil {
		response.Error(c, err)
		return
	}

	view, err := h.checkoutSvc.GetCheckout(id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToCheckoutResponse(view))
}

func parseCheckoutID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid checkout id")
	}
	return id, nil
}
