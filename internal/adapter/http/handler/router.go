package handler

import (
	"lightning-pos/internal/adapter/http/middleware"
	"lightning-pos/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	CheckoutSvc    ports.CheckoutService
	Archive        ports.SessionArchive // nil = outcome history disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep, verifies PostgreSQL + Redis when configured)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	checkoutHandler := NewCheckoutHandler(deps.CheckoutSvc)
	checkouts := v1.Group("/checkouts")
	{
		checkouts.POST("", checkoutHandler.CreateCheckout)
		checkouts.GET("/:id", checkoutHandler.GetCheckout)
		checkouts.POST("/:id/retry", checkoutHandler.RetryCheckout)
		checkouts.DELETE("/:id", checkoutHandler.CancelCheckout)
	}

	if deps.Archive != nil {
		outcomeHandler := NewOutcomeHandler(deps.Archive)
		outcomes := v1.Group("/outcomes")
		{
			outcomes.GET("", outcomeHandler.ListOutcomes)
			outcomes.GET("/:invoice_id", outcomeHandler.GetOutcome)
		}
	}

	return r
}
