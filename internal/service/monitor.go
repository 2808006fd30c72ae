package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"lightning-pos/config"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports"
	"lightning-pos/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MonitorCallbacks are invoked outside the monitor lock, in the order the
// transitions occurred. OnUpdate fires on every transition; OnCompleted
// exactly once on successful payment; OnFailed on failure or expiry, never
// on cancellation. OnInvoice fires when a degraded session obtains a real
// invoice. All fields are optional.
type MonitorCallbacks struct {
	OnUpdate    func(domain.StatusUpdate)
	OnCompleted func(domain.StatusUpdate)
	OnFailed    func(domain.StatusUpdate)
	OnInvoice   func(*domain.Invoice)
}

// StartOptions carry the session context the monitor needs beyond the
// invoice itself.
type StartOptions struct {
	// Degraded starts the session against a fallback invoice. The monitor
	// re-attempts real invoice creation instead of polling status, capped
	// at MaxRetries attempts.
	Degraded bool
	// FiatAmount and Description reproduce the original invoice request
	// when a degraded session recovers.
	FiatAmount  decimal.Decimal
	Description string
}

// PaymentMonitor drives one payment session through its state machine by
// polling the processor on a heartbeat with exponential backoff on errors.
// A generation counter invalidates timer callbacks scheduled before a
// cancel or restart, so a stale timer can never touch a newer session.
type PaymentMonitor struct {
	processor ports.ProcessorClient
	invoices  ports.InvoiceService
	archive   ports.SessionArchive // optional, nil to skip archiving
	cfg       config.MonitorConfig
	callbacks MonitorCallbacks
	log       zerolog.Logger

	mu            sync.Mutex
	generation    uint64
	session       *domain.PaymentSession
	invoice       *domain.Invoice
	opts          StartOptions
	degradedPolls int
	pollTimer     *time.Timer
	expiryTimer   *time.Timer

	now func() time.Time
}

// NewPaymentMonitor creates a monitor for a single checkout. archive may be
// nil when no session archive is configured.
func NewPaymentMonitor(processor ports.ProcessorClient, invoices ports.InvoiceService, archive ports.SessionArchive, cfg config.MonitorConfig, callbacks MonitorCallbacks, log zerolog.Logger) *PaymentMonitor {
	return &PaymentMonitor{
		processor: processor,
		invoices:  invoices,
		archive:   archive,
		cfg:       cfg,
		callbacks: callbacks,
		log:       log.With().Str("component", "payment_monitor").Logger(),
		now:       time.Now,
	}
}

// Start begins monitoring the invoice. It fails with PAY_004 while an
// earlier session is still active; a terminal session is replaced, which is
// how retry reuses the monitor.
func (m *PaymentMonitor) Start(invoice *domain.Invoice, opts StartOptions) error {
	m.mu.Lock()

	if m.session != nil && !m.session.State.IsTerminal() {
		m.mu.Unlock()
		return apperror.ErrSessionActive()
	}

	m.stopTimersLocked()
	m.generation++
	gen := m.generation

	m.invoice = invoice
	m.opts = opts
	m.degradedPolls = 0
	m.session = domain.NewPaymentSession(invoice.InvoiceID, invoice.ExpiresAt, m.cfg.HeartbeatInterval, opts.Degraded)

	update := m.statusLocked("awaiting payment")
	m.schedulePollLocked(gen, m.session.PollInterval)
	m.scheduleExpiryLocked(gen)
	m.mu.Unlock()

	m.emit(update, false, false)
	return nil
}

// Restart tears down the active session and starts a new one for a fresh
// invoice as one atomic sequence. The replaced session, if not yet terminal,
// is cancelled without a failure callback.
func (m *PaymentMonitor) Restart(invoice *domain.Invoice, opts StartOptions) error {
	m.mu.Lock()

	var cancelled *domain.StatusUpdate
	var outcome *domain.PaymentOutcome
	if m.session != nil && !m.session.State.IsTerminal() {
		if err := m.session.Transition(domain.PaymentStateCancelled); err != nil {
			m.mu.Unlock()
			return apperror.InternalError(err)
		}
		update := m.statusLocked("monitoring cancelled")
		cancelled = &update
		outcome = m.outcomeLocked("replaced by a new session")
	}

	m.stopTimersLocked()
	m.generation++
	gen := m.generation

	m.invoice = invoice
	m.opts = opts
	m.degradedPolls = 0
	m.session = domain.NewPaymentSession(invoice.InvoiceID, invoice.ExpiresAt, m.cfg.HeartbeatInterval, opts.Degraded)

	update := m.statusLocked("awaiting payment")
	m.schedulePollLocked(gen, m.session.PollInterval)
	m.scheduleExpiryLocked(gen)
	m.mu.Unlock()

	m.archiveOutcome(outcome)
	if cancelled != nil {
		m.emit(*cancelled, false, false)
	}
	m.emit(update, false, false)
	return nil
}

// Cancel stops monitoring and moves the session to cancelled. Cancelling a
// session already in a terminal state is a no-op.
func (m *PaymentMonitor) Cancel() error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return apperror.ErrNotFound("Payment session")
	}
	if m.session.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}

	m.stopTimersLocked()
	m.generation++
	if err := m.session.Transition(domain.PaymentStateCancelled); err != nil {
		m.mu.Unlock()
		return apperror.InternalError(err)
	}
	update := m.statusLocked("monitoring cancelled")
	outcome := m.outcomeLocked("")
	m.mu.Unlock()

	m.archiveOutcome(outcome)
	m.emit(update, false, false)
	return nil
}

// Close releases the monitor's timers without a state transition. Safe to
// call more than once.
func (m *PaymentMonitor) Close() {
	m.mu.Lock()
	m.generation++
	m.stopTimersLocked()
	m.mu.Unlock()
}

// Snapshot returns a copy of the current session, or nil before Start.
func (m *PaymentMonitor) Snapshot() *domain.PaymentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	snapshot := *m.session
	return &snapshot
}

// Invoice returns the invoice currently being monitored. A degraded session
// that recovers swaps in the real invoice.
func (m *PaymentMonitor) Invoice() *domain.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoice
}

// poll performs one heartbeat. Stale generations and terminal sessions are
// ignored, which makes late timer callbacks harmless.
func (m *PaymentMonitor) poll(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.session == nil || m.session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}

	if m.session.Degraded {
		m.pollDegradedLocked(gen)
		return
	}

	invoiceID := m.session.InvoiceID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	state, err := m.processor.GetInvoiceStatus(ctx, invoiceID)
	cancel()

	m.mu.Lock()
	if gen != m.generation || m.session == nil || m.session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.handlePollErrorLocked(gen, err)
		return
	}
	m.handleInvoiceStateLocked(gen, state)
}

// pollDegradedLocked re-attempts real invoice creation for a fallback
// session. Called with the lock held; releases it.
func (m *PaymentMonitor) pollDegradedLocked(gen uint64) {
	m.degradedPolls++
	if m.degradedPolls > m.cfg.MaxRetries {
		m.failLocked("payment processor unreachable")
		return
	}
	attempt := m.degradedPolls
	fiat, description := m.opts.FiatAmount, m.opts.Description
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	invoice, err := m.invoices.CreateInvoice(ctx, fiat, description)
	cancel()

	m.mu.Lock()
	if gen != m.generation || m.session == nil || m.session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	if err != nil || invoice.Degraded {
		interval := m.backoffInterval(attempt-1, false)
		m.session.PollInterval = interval
		m.schedulePollLocked(gen, interval)
		m.mu.Unlock()
		return
	}

	// Recovered: swap in the real invoice and resume normal polling.
	m.invoice = invoice
	m.session.InvoiceID = invoice.InvoiceID
	m.session.ExpiresAt = invoice.ExpiresAt
	m.session.Degraded = false
	m.session.PollInterval = m.cfg.HeartbeatInterval
	m.degradedPolls = 0
	update := m.statusLocked("invoice ready")
	m.schedulePollLocked(gen, m.session.PollInterval)
	m.scheduleExpiryLocked(gen)
	m.mu.Unlock()

	if m.callbacks.OnInvoice != nil {
		m.callbacks.OnInvoice(invoice)
	}
	m.emit(update, false, false)
}

// handlePollErrorLocked applies exponential backoff and fails the session
// once consecutive errors exceed MaxRetries. Called with the lock held;
// releases it.
func (m *PaymentMonitor) handlePollErrorLocked(gen uint64, err error) {
	interval := m.backoffInterval(m.session.RetryCount, apperror.IsRateLimited(err))
	m.session.RetryCount++
	if m.session.RetryCount > m.cfg.MaxRetries {
		m.log.Warn().Err(err).Str("invoice_id", m.session.InvoiceID).
			Int("retries", m.session.RetryCount-1).Msg("poll retries exhausted")
		m.failLocked("payment status unavailable: " + err.Error())
		return
	}

	m.log.Debug().Err(err).Str("invoice_id", m.session.InvoiceID).
		Dur("backoff", interval).Msg("poll failed, backing off")
	m.session.PollInterval = interval
	m.schedulePollLocked(gen, interval)
	m.mu.Unlock()
}

// handleInvoiceStateLocked maps a processor invoice state onto the session.
// Called with the lock held; releases it.
func (m *PaymentMonitor) handleInvoiceStateLocked(gen uint64, state domain.InvoiceState) {
	// A successful poll resets the error budget.
	m.session.RetryCount = 0
	m.session.PollInterval = m.cfg.HeartbeatInterval

	switch state {
	case domain.InvoiceStatePaid:
		m.completeLocked()
	case domain.InvoiceStateExpired:
		m.expireLocked()
	case domain.InvoiceStateCancelled:
		m.cancelUpstreamLocked()
	default:
		m.schedulePollLocked(gen, m.session.PollInterval)
		m.mu.Unlock()
	}
}

// expire handles the session deadline timer.
func (m *PaymentMonitor) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.session == nil || m.session.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.expireLocked()
}

// completeLocked finishes the session successfully. Called with the lock
// held; releases it.
func (m *PaymentMonitor) completeLocked() {
	m.stopTimersLocked()
	m.generation++
	if err := m.session.Transition(domain.PaymentStateCompleted); err != nil {
		m.mu.Unlock()
		return
	}
	m.session.Completed = true
	m.session.ResultTransactionID = newTransactionID(m.session.InvoiceID, m.now())
	update := m.statusLocked("payment received")
	update.TransactionID = m.session.ResultTransactionID
	outcome := m.outcomeLocked("")
	m.mu.Unlock()

	m.archiveOutcome(outcome)
	m.emit(update, true, false)
}

// expireLocked moves the session to expired. Called with the lock held;
// releases it.
func (m *PaymentMonitor) expireLocked() {
	m.stopTimersLocked()
	m.generation++
	if err := m.session.Transition(domain.PaymentStateExpired); err != nil {
		m.mu.Unlock()
		return
	}
	update := m.statusLocked("payment request expired")
	outcome := m.outcomeLocked("expired before payment")
	m.mu.Unlock()

	m.archiveOutcome(outcome)
	m.emit(update, false, true)
}

// cancelUpstreamLocked moves the session to cancelled after the processor
// reported the invoice cancelled. No failure callback, same as a local
// cancel. Called with the lock held; releases it.
func (m *PaymentMonitor) cancelUpstreamLocked() {
	m.stopTimersLocked()
	m.generation++
	if err := m.session.Transition(domain.PaymentStateCancelled); err != nil {
		m.mu.Unlock()
		return
	}
	update := m.statusLocked("invoice cancelled by processor")
	outcome := m.outcomeLocked("cancelled by processor")
	m.mu.Unlock()

	m.archiveOutcome(outcome)
	m.emit(update, false, false)
}

// failLocked moves the session to failed. Called with the lock held;
// releases it.
func (m *PaymentMonitor) failLocked(detail string) {
	m.stopTimersLocked()
	m.generation++
	if err := m.session.Transition(domain.PaymentStateFailed); err != nil {
		m.mu.Unlock()
		return
	}
	update := m.statusLocked("payment failed")
	update.ErrorDetail = detail
	outcome := m.outcomeLocked(detail)
	m.mu.Unlock()

	m.archiveOutcome(outcome)
	m.emit(update, false, true)
}

// backoffInterval computes the next poll delay for the given consecutive
// error count. Rate-limit responses start from a longer base.
func (m *PaymentMonitor) backoffInterval(errorCount int, rateLimited bool) time.Duration {
	base := m.cfg.BackoffBase
	if rateLimited {
		base = m.cfg.RateLimitBackoffBase
	}
	interval := base
	for i := 0; i < errorCount; i++ {
		interval *= 2
		if interval >= m.cfg.BackoffCap {
			return m.cfg.BackoffCap
		}
	}
	if interval > m.cfg.BackoffCap {
		return m.cfg.BackoffCap
	}
	return interval
}

func (m *PaymentMonitor) schedulePollLocked(gen uint64, interval time.Duration) {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
	}
	m.pollTimer = time.AfterFunc(interval, func() { m.poll(gen) })
}

func (m *PaymentMonitor) scheduleExpiryLocked(gen uint64) {
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
	}
	until := time.Until(m.session.ExpiresAt)
	if until < 0 {
		until = 0
	}
	m.expiryTimer = time.AfterFunc(until, func() { m.expire(gen) })
}

func (m *PaymentMonitor) stopTimersLocked() {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
}

func (m *PaymentMonitor) statusLocked(message string) domain.StatusUpdate {
	return domain.StatusUpdate{
		State:     m.session.State,
		Message:   message,
		Timestamp: m.now().UTC(),
		InvoiceID: m.session.InvoiceID,
	}
}

func (m *PaymentMonitor) outcomeLocked(detail string) *domain.PaymentOutcome {
	outcome := &domain.PaymentOutcome{
		ID:         uuid.New(),
		InvoiceID:  m.session.InvoiceID,
		State:      m.session.State,
		Detail:     detail,
		FiatAmount: m.opts.FiatAmount,
		CreatedAt:  m.now().UTC(),
	}
	if m.session.ResultTransactionID != "" {
		txID := m.session.ResultTransactionID
		outcome.TransactionID = &txID
	}
	return outcome
}

// emit invokes callbacks outside the lock.
func (m *PaymentMonitor) emit(update domain.StatusUpdate, completed, failed bool) {
	if m.callbacks.OnUpdate != nil {
		m.callbacks.OnUpdate(update)
	}
	if completed && m.callbacks.OnCompleted != nil {
		m.callbacks.OnCompleted(update)
	}
	if failed && m.callbacks.OnFailed != nil {
		m.callbacks.OnFailed(update)
	}
}

// archiveOutcome persists a terminal outcome without blocking the state
// machine. Failures are logged and dropped.
func (m *PaymentMonitor) archiveOutcome(outcome *domain.PaymentOutcome) {
	if m.archive == nil || outcome == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.archive.ArchiveOutcome(ctx, outcome); err != nil {
			m.log.Warn().Err(err).Str("invoice_id", outcome.InvoiceID).
				Msg("failed to archive payment outcome")
		}
	}()
}

// newTransactionID derives a locally unique receipt identifier for a
// completed payment.
func newTransactionID(invoiceID string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", invoiceID, now.UnixMilli(), strings.SplitN(uuid.New().String(), "-", 2)[0])
}
