package ports

import (
	"context"
	"time"

	"lightning-pos/internal/core/domain"
)

// RateCache is a shared snapshot cache so multiple instances issue at most
// one ticker fetch per asset per TTL window. Nil-safe to omit.
type RateCache interface {
	// Get returns the cached snapshot, or nil, nil on a miss.
	Get(ctx context.Context, asset domain.Asset) (*domain.ExchangeRateSnapshot, error)
	Set(ctx context.Context, asset domain.Asset, snapshot domain.ExchangeRateSnapshot, ttl time.Duration) error
}

// SessionArchive persists terminal payment outcomes for audit. Writes are
// best-effort: the monitor never blocks a state transition on the archive.
type SessionArchive interface {
	ArchiveOutcome(ctx context.Context, outcome *domain.PaymentOutcome) error
	GetOutcome(ctx context.Context, invoiceID string) (*domain.PaymentOutcome, error)
	ListRecent(ctx context.Context, limit int) ([]domain.PaymentOutcome, error)
}
