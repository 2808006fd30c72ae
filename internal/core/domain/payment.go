package domain

import (
	"fmt"
	"time"
)

// PaymentState is the lifecycle state of a monitored payment session.
type PaymentState string

const (
	PaymentStateIdle         PaymentState = "idle"
	PaymentStateInitializing PaymentState = "initializing"
	PaymentStateWaiting      PaymentState = "waiting"
	PaymentStateConfirming   PaymentState = "confirming"
	PaymentStateCompleted    PaymentState = "completed"
	PaymentStateFailed       PaymentState = "failed"
	PaymentStateExpired      PaymentState = "expired"
	PaymentStateCancelled    PaymentState = "cancelled"
)

// IsTerminal reports whether no further transition is permitted.
func (s PaymentState) IsTerminal() bool {
	switch s {
	case PaymentStateCompleted, PaymentStateFailed, PaymentStateExpired, PaymentStateCancelled:
		return true
	}
	return false
}

// validTransitions is the forward-only transition table. Terminal states
// have no outgoing edges.
var validTransitions = map[PaymentState][]PaymentState{
	PaymentStateIdle:         {PaymentStateInitializing, PaymentStateWaiting, PaymentStateCancelled},
	PaymentStateInitializing: {PaymentStateWaiting, PaymentStateFailed, PaymentStateCancelled},
	PaymentStateWaiting:      {PaymentStateConfirming, PaymentStateCompleted, PaymentStateFailed, PaymentStateExpired, PaymentStateCancelled},
	PaymentStateConfirming:   {PaymentStateCompleted, PaymentStateFailed, PaymentStateExpired, PaymentStateCancelled},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s PaymentState) CanTransitionTo(next PaymentState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentSession is the in-memory unit of monitoring for one invoice.
// All fields are owned by the monitor and mutated under its lock.
type PaymentSession struct {
	InvoiceID           string
	ExpiresAt           time.Time
	State               PaymentState
	RetryCount          int
	PollInterval        time.Duration
	Completed           bool
	ResultTransactionID string
	Degraded            bool
	StartedAt           time.Time
}

// NewPaymentSession creates a session in the waiting state with the
// configured heartbeat poll interval.
func NewPaymentSession(invoiceID string, expiresAt time.Time, heartbeat time.Duration, degraded bool) *PaymentSession {
	return &PaymentSession{
		InvoiceID:    invoiceID,
		ExpiresAt:    expiresAt,
		State:        PaymentStateWaiting,
		PollInterval: heartbeat,
		Degraded:     degraded,
		StartedAt:    time.Now().UTC(),
	}
}

// Transition moves the session forward through the transition table.
// Transitions out of a terminal state are rejected.
func (p *PaymentSession) Transition(next PaymentState) error {
	if !p.State.CanTransitionTo(next) {
		return fmt.Errorf("invalid payment state transition %s -> %s", p.State, next)
	}
	p.State = next
	return nil
}

// StatusUpdate is an immutable value emitted on every state transition.
type StatusUpdate struct {
	State         PaymentState `json:"state"`
	Message       string       `json:"message"`
	Timestamp     time.Time    `json:"timestamp"`
	InvoiceID     string       `json:"invoice_id"`
	TransactionID string       `json:"transaction_id,omitempty"`
	ErrorDetail   string       `json:"error_detail,omitempty"`
}
