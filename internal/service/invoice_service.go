package service

import (
	"context"
	"time"

	"lightning-pos/config"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// invoiceService creates lightning invoices with the external processor.
// Amount validation errors are returned to the caller; processor failures
// degrade into a synthetic flagged invoice so the terminal always has
// something to render while connectivity recovers.
type invoiceService struct {
	processor      ports.ProcessorClient
	converter      ports.RateConverter
	cfg            config.RatesConfig
	sessionTimeout time.Duration
	log            zerolog.Logger
	now            func() time.Time
}

// NewInvoiceService creates an InvoiceService backed by the processor.
func NewInvoiceService(processor ports.ProcessorClient, converter ports.RateConverter, cfg config.RatesConfig, sessionTimeout time.Duration, log zerolog.Logger) ports.InvoiceService {
	return &invoiceService{
		processor:      processor,
		converter:      converter,
		cfg:            cfg,
		sessionTimeout: sessionTimeout,
		log:            log.With().Str("component", "invoice_service").Logger(),
		now:            time.Now,
	}
}

func (s *invoiceService) CreateInvoice(ctx context.Context, fiatAmount decimal.Decimal, description string) (*domain.Invoice, error) {
	if err := s.validateAmount(fiatAmount); err != nil {
		return nil, err
	}

	conversion, err := s.converter.Convert(ctx, fiatAmount, domain.AssetLightning)
	if err != nil {
		if apperror.HasCode(err, "AMT_001") || apperror.HasCode(err, "AMT_002") {
			return nil, err
		}
		s.log.Warn().Err(err).Msg("conversion failed, issuing fallback invoice")
		return s.fallbackInvoice(fiatAmount, description), nil
	}

	invoice, err := s.processor.CreateInvoice(ctx, ports.CreateInvoiceRequest{
		Amount:        conversion.NativeAmount,
		Currency:      string(domain.AssetBitcoin),
		Description:   description,
		CorrelationID: uuid.New().String(),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("invoice creation failed, issuing fallback invoice")
		return s.fallbackInvoice(fiatAmount, description), nil
	}

	quote, err := s.processor.GetQuote(ctx, invoice.InvoiceID)
	if err != nil {
		s.log.Warn().Err(err).Str("invoice_id", invoice.InvoiceID).
			Msg("quote retrieval failed, issuing fallback invoice")
		return s.fallbackInvoice(fiatAmount, description), nil
	}

	return &domain.Invoice{
		InvoiceID:      invoice.InvoiceID,
		PaymentRequest: quote.PaymentRequest,
		ExpiresAt:      quote.Expiration,
		FiatAmount:     fiatAmount,
		NativeAmount:   conversion.NativeAmount,
		RateUsed:       conversion.Rate,
		Description:    description,
		Degraded:       false,
	}, nil
}

func (s *invoiceService) validateAmount(fiatAmount decimal.Decimal) error {
	if fiatAmount.Sign() <= 0 {
		return apperror.ErrInvalidAmount("amount must be positive")
	}
	min := decimal.NewFromFloat(s.cfg.MinAmount)
	max := decimal.NewFromFloat(s.cfg.MaxAmount)
	if fiatAmount.LessThan(min) || fiatAmount.GreaterThan(max) {
		return apperror.ErrInvalidAmount(
			"amount must be between " + min.String() + " and " + max.String() + " " + s.cfg.Currency)
	}
	return nil
}

// fallbackInvoice is a locally generated stand-in issued when the processor
// is unreachable. It cannot be paid; the monitor treats it as degraded and
// re-attempts real invoice creation on each heartbeat.
func (s *invoiceService) fallbackInvoice(fiatAmount decimal.Decimal, description string) *domain.Invoice {
	id := "fallback-" + uuid.New().String()
	return &domain.Invoice{
		InvoiceID:      id,
		PaymentRequest: id,
		ExpiresAt:      s.now().Add(s.sessionTimeout),
		FiatAmount:     fiatAmount,
		Description:    description,
		Degraded:       true,
	}
}
