package service

import (
	"context"
	"sync"
	"time"

	"lightning-pos/config"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// checkout pairs one invoice with its monitoring session. lastUpdate is
// written by monitor callbacks and read by view snapshots.
type checkout struct {
	id          uuid.UUID
	asset       domain.Asset
	address     string
	description string
	monitor     *PaymentMonitor

	mu         sync.RWMutex
	invoice    *domain.Invoice
	payload    string
	lastUpdate domain.StatusUpdate
}

// CheckoutManager implements ports.CheckoutService over an in-memory
// registry, one PaymentMonitor per checkout.
type CheckoutManager struct {
	processor  ports.ProcessorClient
	invoices   ports.InvoiceService
	archive    ports.SessionArchive
	monitorCfg config.MonitorConfig
	log        zerolog.Logger

	mu        sync.RWMutex
	checkouts map[uuid.UUID]*checkout
}

// NewCheckoutManager creates the checkout registry. archive may be nil.
func NewCheckoutManager(processor ports.ProcessorClient, invoices ports.InvoiceService, archive ports.SessionArchive, monitorCfg config.MonitorConfig, log zerolog.Logger) *CheckoutManager {
	return &CheckoutManager{
		processor:  processor,
		invoices:   invoices,
		archive:    archive,
		monitorCfg: monitorCfg,
		log:        log.With().Str("component", "checkout_manager").Logger(),
		checkouts:  make(map[uuid.UUID]*checkout),
	}
}

func (s *CheckoutManager) CreateCheckout(ctx context.Context, req ports.CreateCheckoutRequest) (*ports.CheckoutView, error) {
	if !req.Asset.Valid() {
		return nil, apperror.Validation("unsupported asset " + string(req.Asset))
	}
	if req.Asset.AddressBased() && req.Address == "" {
		return nil, apperror.Validation("address is required for " + string(req.Asset))
	}

	invoice, err := s.invoices.CreateInvoice(ctx, req.Amount, req.Description)
	if err != nil {
		return nil, err
	}

	c := &checkout{
		id:          uuid.New(),
		asset:       req.Asset,
		address:     req.Address,
		description: req.Description,
		invoice:     invoice,
	}
	payload, err := s.composePayload(c, invoice)
	if err != nil {
		return nil, err
	}
	c.payload = payload

	c.monitor = NewPaymentMonitor(s.processor, s.invoices, s.archive, s.monitorCfg, MonitorCallbacks{
		OnUpdate: func(update domain.StatusUpdate) {
			c.mu.Lock()
			c.lastUpdate = update
			c.mu.Unlock()
		},
		OnInvoice: func(recovered *domain.Invoice) {
			payload, err := s.composePayload(c, recovered)
			if err != nil {
				s.log.Error().Err(err).Str("checkout_id", c.id.String()).
					Msg("failed to compose payload for recovered invoice")
				return
			}
			c.mu.Lock()
			c.invoice = recovered
			c.payload = payload
			c.mu.Unlock()
		},
	}, s.log)

	if err := c.monitor.Start(invoice, StartOptions{
		Degraded:    invoice.Degraded,
		FiatAmount:  req.Amount,
		Description: req.Description,
	}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.checkouts[c.id] = c
	s.mu.Unlock()

	s.log.Info().Str("checkout_id", c.id.String()).Str("invoice_id", invoice.InvoiceID).
		Str("asset", string(req.Asset)).Bool("degraded", invoice.Degraded).
		Msg("checkout created")
	return s.view(c), nil
}

func (s *CheckoutManager) GetCheckout(id uuid.UUID) (*ports.CheckoutView, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.view(c), nil
}

func (s *CheckoutManager) CancelCheckout(id uuid.UUID) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	return c.monitor.Cancel()
}

// RetryCheckout issues a fresh invoice and a fresh monitoring session for a
// checkout whose session failed or expired.
func (s *CheckoutManager) RetryCheckout(id uuid.UUID) (*ports.CheckoutView, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	session := c.monitor.Snapshot()
	if session == nil || !canRetry(session.State) {
		return nil, apperror.ErrCannotRetry()
	}

	c.mu.RLock()
	fiat := c.invoice.FiatAmount
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.monitorCfg.RequestTimeout)
	defer cancel()
	invoice, err := s.invoices.CreateInvoice(ctx, fiat, c.description)
	if err != nil {
		return nil, err
	}
	payload, err := s.composePayload(c, invoice)
	if err != nil {
		return nil, err
	}

	if err := c.monitor.Start(invoice, StartOptions{
		Degraded:    invoice.Degraded,
		FiatAmount:  fiat,
		Description: c.description,
	}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.invoice = invoice
	c.payload = payload
	c.mu.Unlock()

	s.log.Info().Str("checkout_id", c.id.String()).Str("invoice_id", invoice.InvoiceID).
		Msg("checkout retried")
	return s.view(c), nil
}

// Close stops every monitor's timers. Used on shutdown.
func (s *CheckoutManager) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.checkouts {
		c.monitor.Close()
	}
}

func (s *CheckoutManager) lookup(id uuid.UUID) (*checkout, error) {
	s.mu.RLock()
	c, ok := s.checkouts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperror.ErrNotFound("Checkout")
	}
	return c, nil
}

// composePayload derives the QR payload for the checkout's asset. Degraded
// invoices carry a synthetic payment request used as-is until the session
// recovers.
func (s *CheckoutManager) composePayload(c *checkout, invoice *domain.Invoice) (string, error) {
	if invoice.Degraded || !c.asset.AddressBased() {
		return ComposePaymentRequest(domain.AssetLightning, invoice.PaymentRequest, invoice.NativeAmount)
	}
	return ComposePaymentRequest(c.asset, c.address, invoice.NativeAmount)
}

func (s *CheckoutManager) view(c *checkout) *ports.CheckoutView {
	session := c.monitor.Snapshot()

	c.mu.RLock()
	invoice := *c.invoice
	payload := c.payload
	lastUpdate := c.lastUpdate
	c.mu.RUnlock()

	view := &ports.CheckoutView{
		ID:         c.id,
		Asset:      c.asset,
		Invoice:    invoice,
		Payload:    payload,
		LastUpdate: lastUpdate,
	}
	if session != nil {
		view.CanRetry = canRetry(session.State)
		if remaining := time.Until(session.ExpiresAt); remaining > 0 && !session.State.IsTerminal() {
			view.SecondsToExpiry = int64(remaining / time.Second)
		}
	}
	return view
}

// canRetry reports whether a terminal state permits a fresh session.
// Completed and cancelled checkouts stay closed.
func canRetry(state domain.PaymentState) bool {
	return state == domain.PaymentStateFailed || state == domain.PaymentStateExpired
}
