package service

import (
	"sync/atomic"
	"testing"
	"time"

	"lightning-pos/config"
	"lightning-pos/internal/core/domain"
	"lightning-pos/internal/core/ports/mocks"
	"lightning-pos/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		HeartbeatInterval:    10 * time.Millisecond,
		MaxRetries:           3,
		SessionTimeout:       15 * time.Minute,
		BackoffBase:          time.Millisecond,
		RateLimitBackoffBase: 2 * time.Millisecond,
		BackoffCap:           5 * time.Millisecond,
		RequestTimeout:       100 * time.Millisecond,
	}
}

func testInvoice(expiresIn time.Duration) *domain.Invoice {
	return &domain.Invoice{
		InvoiceID:      "inv-1",
		PaymentRequest: "lnbc1...",
		ExpiresAt:      time.Now().Add(expiresIn),
		FiatAmount:     decimal.RequireFromString("2.50"),
	}
}

type monitorFixture struct {
	monitor   *PaymentMonitor
	processor *mocks.MockProcessorClient
	invoices  *mocks.MockInvoiceService
	updates   chan domain.StatusUpdate
	completed chan domain.StatusUpdate
	failed    chan domain.StatusUpdate
}

func newMonitorFixture(t *testing.T, cfg config.MonitorConfig) *monitorFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &monitorFixture{
		processor: mocks.NewMockProcessorClient(ctrl),
		invoices:  mocks.NewMockInvoiceService(ctrl),
		updates:   make(chan domain.StatusUpdate, 32),
		completed: make(chan domain.StatusUpdate, 4),
		failed:    make(chan domain.StatusUpdate, 4),
	}
	callbacks := MonitorCallbacks{
		OnUpdate:    func(u domain.StatusUpdate) { f.updates <- u },
		OnCompleted: func(u domain.StatusUpdate) { f.completed <- u },
		OnFailed:    func(u domain.StatusUpdate) { f.failed <- u },
	}
	f.monitor = NewPaymentMonitor(f.processor, f.invoices, nil, cfg, callbacks, zerolog.Nop())
	t.Cleanup(f.monitor.Close)
	return f
}

func waitForUpdate(t *testing.T, ch chan domain.StatusUpdate, state domain.PaymentState) domain.StatusUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case update := <-ch:
			if update.State == state {
				return update
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", state)
		}
	}
}

func TestMonitor_StartEmitsWaiting(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateUnpaid, nil).AnyTimes()

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))

	update := waitForUpdate(t, f.updates, domain.PaymentStateWaiting)
	assert.Equal(t, "inv-1", update.InvoiceID)

	session := f.monitor.Snapshot()
	require.NotNil(t, session)
	assert.Equal(t, domain.PaymentStateWaiting, session.State)
}

func TestMonitor_CompletesExactlyOnce(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())

	var completions int32
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStatePaid, nil).Times(1)

	f.monitor.callbacks.OnCompleted = func(u domain.StatusUpdate) {
		atomic.AddInt32(&completions, 1)
		f.completed <- u
	}

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))

	update := waitForUpdate(t, f.completed, domain.PaymentStateCompleted)
	assert.NotEmpty(t, update.TransactionID)
	assert.Contains(t, update.TransactionID, "inv-1-")

	// Give any stray timer a chance to misfire.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))

	session := f.monitor.Snapshot()
	assert.Equal(t, domain.PaymentStateCompleted, session.State)
	assert.True(t, session.Completed)
	assert.NotEmpty(t, session.ResultTransactionID)
}

func TestMonitor_FailsAfterRetryExhaustion(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxRetries = 1
	f := newMonitorFixture(t, cfg)

	// With MaxRetries=1 the session survives one error and fails on the
	// second consecutive one.
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceState(""), apperror.ErrTransport(assert.AnError)).Times(2)

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))

	update := waitForUpdate(t, f.failed, domain.PaymentStateFailed)
	assert.Contains(t, update.ErrorDetail, "payment status unavailable")
}

func TestMonitor_SuccessfulPollResetsErrorBudget(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxRetries = 1
	f := newMonitorFixture(t, cfg)

	gomock.InOrder(
		f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
			Return(domain.InvoiceState(""), apperror.ErrTransport(assert.AnError)),
		f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
			Return(domain.InvoiceStateUnpaid, nil),
		f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
			Return(domain.InvoiceState(""), apperror.ErrTransport(assert.AnError)),
		f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
			Return(domain.InvoiceStatePaid, nil),
	)

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))

	// The intervening success resets the budget, so two non-consecutive
	// errors never exhaust MaxRetries=1.
	waitForUpdate(t, f.completed, domain.PaymentStateCompleted)
}

func TestMonitor_ExpiresAtDeadline(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateUnpaid, nil).AnyTimes()

	require.NoError(t, f.monitor.Start(testInvoice(50*time.Millisecond), StartOptions{}))

	update := waitForUpdate(t, f.failed, domain.PaymentStateExpired)
	assert.Equal(t, "inv-1", update.InvoiceID)

	session := f.monitor.Snapshot()
	assert.Equal(t, domain.PaymentStateExpired, session.State)
	assert.False(t, session.Completed)
}

func TestMonitor_ProcessorReportsExpired(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateExpired, nil).Times(1)

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))
	waitForUpdate(t, f.failed, domain.PaymentStateExpired)
}

func TestMonitor_CancelIsIdempotent(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateUnpaid, nil).AnyTimes()

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))
	waitForUpdate(t, f.updates, domain.PaymentStateWaiting)

	require.NoError(t, f.monitor.Cancel())
	waitForUpdate(t, f.updates, domain.PaymentStateCancelled)

	// A second cancel is a no-op and fires no further callbacks.
	require.NoError(t, f.monitor.Cancel())
	select {
	case update := <-f.updates:
		t.Fatalf("unexpected update after repeated cancel: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}

	// Cancellation is not a failure.
	select {
	case <-f.failed:
		t.Fatal("cancellation must not invoke the failure callback")
	default:
	}
}

func TestMonitor_UpstreamCancellation(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateCancelled, nil).Times(1)

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))
	waitForUpdate(t, f.updates, domain.PaymentStateCancelled)

	select {
	case <-f.failed:
		t.Fatal("upstream cancellation must not invoke the failure callback")
	default:
	}
	session := f.monitor.Snapshot()
	assert.Equal(t, domain.PaymentStateCancelled, session.State)
}

func TestMonitor_RestartReplacesActiveSession(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateUnpaid, nil).AnyTimes()
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-2").
		Return(domain.InvoiceStatePaid, nil).Times(1)

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))
	waitForUpdate(t, f.updates, domain.PaymentStateWaiting)

	fresh := testInvoice(time.Minute)
	fresh.InvoiceID = "inv-2"
	require.NoError(t, f.monitor.Restart(fresh, StartOptions{}))

	// The replaced session is cancelled, then the new one takes over.
	cancelled := waitForUpdate(t, f.updates, domain.PaymentStateCancelled)
	assert.Equal(t, "inv-1", cancelled.InvoiceID)

	waitForUpdate(t, f.completed, domain.PaymentStateCompleted)
	assert.Equal(t, "inv-2", f.monitor.Snapshot().InvoiceID)
}

func TestMonitor_CancelBeforeStart(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	err := f.monitor.Cancel()
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, "PAY_005"))
}

func TestMonitor_RejectsConcurrentStart(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateUnpaid, nil).AnyTimes()

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))

	err := f.monitor.Start(testInvoice(time.Minute), StartOptions{})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, "PAY_004"))
}

func TestMonitor_RestartAfterTerminal(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStateUnpaid, nil).AnyTimes()
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-2").
		Return(domain.InvoiceStatePaid, nil).Times(1)

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))
	require.NoError(t, f.monitor.Cancel())
	waitForUpdate(t, f.updates, domain.PaymentStateCancelled)

	fresh := testInvoice(time.Minute)
	fresh.InvoiceID = "inv-2"
	require.NoError(t, f.monitor.Start(fresh, StartOptions{}))

	waitForUpdate(t, f.completed, domain.PaymentStateCompleted)
}

func TestMonitor_StalePollIsNoOp(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.HeartbeatInterval = time.Hour
	f := newMonitorFixture(t, cfg)
	// No GetInvoiceStatus expectation: a stale poll reaching the
	// processor would fail the controller.

	require.NoError(t, f.monitor.Start(testInvoice(time.Minute), StartOptions{}))
	f.monitor.mu.Lock()
	gen := f.monitor.generation
	f.monitor.mu.Unlock()
	require.NoError(t, f.monitor.Cancel())
	waitForUpdate(t, f.updates, domain.PaymentStateCancelled)

	f.monitor.poll(gen)
}

func TestMonitor_DegradedRecovery(t *testing.T) {
	f := newMonitorFixture(t, testMonitorConfig())

	fallback := testInvoice(time.Minute)
	fallback.InvoiceID = "fallback-abc"
	fallback.PaymentRequest = "fallback-abc"
	fallback.Degraded = true

	real := testInvoice(time.Minute)
	real.InvoiceID = "inv-real"

	fiat := decimal.RequireFromString("2.50")
	f.invoices.EXPECT().CreateInvoice(gomock.Any(), fiat, "coffee").Return(real, nil).Times(1)
	f.processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-real").
		Return(domain.InvoiceStatePaid, nil).Times(1)

	invoices := make(chan *domain.Invoice, 1)
	f.monitor.callbacks.OnInvoice = func(inv *domain.Invoice) { invoices <- inv }

	require.NoError(t, f.monitor.Start(fallback, StartOptions{
		Degraded:    true,
		FiatAmount:  fiat,
		Description: "coffee",
	}))

	select {
	case inv := <-invoices:
		assert.Equal(t, "inv-real", inv.InvoiceID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovered invoice")
	}

	waitForUpdate(t, f.completed, domain.PaymentStateCompleted)
	session := f.monitor.Snapshot()
	assert.False(t, session.Degraded)
	assert.Equal(t, "inv-real", session.InvoiceID)
}

func TestMonitor_DegradedExhaustion(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxRetries = 2
	f := newMonitorFixture(t, cfg)

	fallback := testInvoice(time.Minute)
	fallback.InvoiceID = "fallback-abc"
	fallback.Degraded = true

	stillDown := testInvoice(time.Minute)
	stillDown.InvoiceID = "fallback-def"
	stillDown.Degraded = true

	fiat := decimal.RequireFromString("2.50")
	f.invoices.EXPECT().CreateInvoice(gomock.Any(), fiat, "").Return(stillDown, nil).Times(2)

	require.NoError(t, f.monitor.Start(fallback, StartOptions{Degraded: true, FiatAmount: fiat}))

	update := waitForUpdate(t, f.failed, domain.PaymentStateFailed)
	assert.Contains(t, update.ErrorDetail, "unreachable")
}

func TestMonitor_BackoffIntervals(t *testing.T) {
	cfg := config.MonitorConfig{
		BackoffBase:          4 * time.Second,
		RateLimitBackoffBase: 15 * time.Second,
		BackoffCap:           60 * time.Second,
	}
	m := &PaymentMonitor{cfg: cfg}

	tests := []struct {
		errorCount  int
		rateLimited bool
		want        time.Duration
	}{
		{0, false, 4 * time.Second},
		{1, false, 8 * time.Second},
		{2, false, 16 * time.Second},
		{3, false, 32 * time.Second},
		{4, false, 60 * time.Second},
		{10, false, 60 * time.Second},
		{0, true, 15 * time.Second},
		{1, true, 30 * time.Second},
		{2, true, 60 * time.Second},
		{10, true, 60 * time.Second},
	}
	for _, tt := range tests {
		got := m.backoffInterval(tt.errorCount, tt.rateLimited)
		assert.Equal(t, tt.want, got, "errorCount=%d rateLimited=%v", tt.errorCount, tt.rateLimited)
	}
}

func TestMonitor_ArchivesTerminalOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	archive := mocks.NewMockSessionArchive(ctrl)
	processor := mocks.NewMockProcessorClient(ctrl)
	invoices := mocks.NewMockInvoiceService(ctrl)

	archived := make(chan *domain.PaymentOutcome, 1)
	archive.EXPECT().ArchiveOutcome(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, outcome *domain.PaymentOutcome) error {
			archived <- outcome
			return nil
		}).Times(1)
	processor.EXPECT().GetInvoiceStatus(gomock.Any(), "inv-1").
		Return(domain.InvoiceStatePaid, nil).Times(1)

	completed := make(chan domain.StatusUpdate, 1)
	m := NewPaymentMonitor(processor, invoices, archive, testMonitorConfig(), MonitorCallbacks{
		OnCompleted: func(u domain.StatusUpdate) { completed <- u },
	}, zerolog.Nop())
	t.Cleanup(m.Close)

	fiat := decimal.RequireFromString("2.50")
	require.NoError(t, m.Start(testInvoice(time.Minute), StartOptions{FiatAmount: fiat}))
	waitForUpdate(t, completed, domain.PaymentStateCompleted)

	select {
	case outcome := <-archived:
		assert.Equal(t, "inv-1", outcome.InvoiceID)
		assert.Equal(t, domain.PaymentStateCompleted, outcome.State)
		require.NotNil(t, outcome.TransactionID)
		assert.True(t, outcome.FiatAmount.Equal(fiat))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for archived outcome")
	}
}
