package postgres

import (
	"context"
	"errors"
	"fmt"

	"lightning-pos/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// OutcomeRepo implements ports.SessionArchive.
type OutcomeRepo struct {
	pool Pool
}

// NewOutcomeRepo creates a new OutcomeRepo.
func NewOutcomeRepo(pool Pool) *OutcomeRepo {
	return &OutcomeRepo{pool: pool}
}

// ArchiveOutcome inserts a terminal payment outcome.
func (r *OutcomeRepo) ArchiveOutcome(ctx context.Context, outcome *domain.PaymentOutcome) error {
	query := `INSERT INTO payment_outcomes (id, invoice_id, state, transaction_id, detail, fiat_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		outcome.ID, outcome.InvoiceID, string(outcome.State),
		outcome.TransactionID, outcome.Detail, outcome.FiatAmount, outcome.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment outcome: %w", err)
	}
	return nil
}

// GetOutcome fetches the archived outcome for an invoice.
// Returns nil, nil when no outcome has been archived.
func (r *OutcomeRepo) GetOutcome(ctx context.Context, invoiceID string) (*domain.PaymentOutcome, error) {
	query := `SELECT id, invoice_id, state, transaction_id, detail, fiat_amount, created_at
		FROM payment_outcomes WHERE invoice_id = $1 ORDER BY created_at DESC LIMIT 1`

	outcome := &domain.PaymentOutcome{}
	err := r.pool.QueryRow(ctx, query, invoiceID).Scan(
		&outcome.ID, &outcome.InvoiceID, &outcome.State,
		&outcome.TransactionID, &outcome.Detail, &outcome.FiatAmount, &outcome.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment outcome: %w", err)
	}
	return outcome, nil
}

// ListRecent returns the most recent archived outcomes.
func (r *OutcomeRepo) ListRecent(ctx context.Context, limit int) ([]domain.PaymentOutcome, error) {
	query := `SELECT id, invoice_id, state, transaction_id, detail, fiat_amount, created_at
		FROM payment_outcomes ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list payment outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.PaymentOutcome
	for rows.Next() {
		var o domain.PaymentOutcome
		if err := rows.Scan(&o.ID, &o.InvoiceID, &o.State, &o.TransactionID, &o.Detail, &o.FiatAmount, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment outcomes: %w", err)
	}
	return outcomes, nil
}
