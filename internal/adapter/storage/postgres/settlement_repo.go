package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SettlementRepo implements ports.SettlementRepository.
type SettlementRepo struct {
	pool Pool
}

// NewSettlementRepo creates a new SettlementRepo.
func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// Create inserts the batch and links its transactions within tx.
func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	query := `INSERT INTO settlements (id, reference, outlet_id, amount, status, settlement_date,
		failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		s.ID, s.Reference, s.OutletID, s.Amount, string(s.Status), s.SettlementDate,
		s.FailureReason, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return wrapWrite("insert settlement", err)
	}

	for _, txID := range s.TransactionIDs {
		_, err := tx.Exec(ctx, `INSERT INTO settlement_items (settlement_id, transaction_id) VALUES ($1, $2)`, s.ID, txID)
		if err != nil {
			return wrapWrite("insert settlement item", err)
		}
	}
	return nil
}

// UpdateStatus moves a batch to status. Transition rules are enforced by the caller.
func (r *SettlementRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SettlementStatus, settlementDate *time.Time, failureReason string) error {
	query := `UPDATE settlements SET status = $1, settlement_date = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, string(status), settlementDate, failureReason, id)
	if err != nil {
		return fmt.Errorf("update settlement status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement not found: %s", id)
	}
	return nil
}

// GetByID fetches a settlement and its linked transaction ids.
func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	query := `SELECT id, reference, outlet_id, amount, status, settlement_date, failure_reason, created_at, updated_at,
		ARRAY(SELECT transaction_id FROM settlement_items WHERE settlement_id = s.id ORDER BY transaction_id)
		FROM settlements s WHERE id = $1`

	s, err := scanSettlement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	return s, nil
}

// ListByOutlet returns the outlet's settlements, newest first.
func (r *SettlementRepo) ListByOutlet(ctx context.Context, outletID uuid.UUID) ([]domain.Settlement, error) {
	query := `SELECT id, reference, outlet_id, amount, status, settlement_date, failure_reason, created_at, updated_at,
		ARRAY(SELECT transaction_id FROM settlement_items WHERE settlement_id = s.id ORDER BY transaction_id)
		FROM settlements s WHERE outlet_id = $1 ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, outletID)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement row: %w", err)
		}
		settlements = append(settlements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement rows: %w", err)
	}
	return settlements, nil
}

// ItemsTotal sums the amounts of the transactions linked to the batch.
func (r *SettlementRepo) ItemsTotal(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(t.amount), 0) FROM settlement_items si
		JOIN transactions t ON t.id = si.transaction_id
		WHERE si.settlement_id = $1`

	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, id).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("settlement items total: %w", err)
	}
	return total, nil
}

func scanSettlement(row pgx.Row) (*domain.Settlement, error) {
	s := &domain.Settlement{}
	err := row.Scan(
		&s.ID, &s.Reference, &s.OutletID, &s.Amount, &s.Status, &s.SettlementDate,
		&s.FailureReason, &s.CreatedAt, &s.UpdatedAt, &s.TransactionIDs,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
