package postgres

import (
	"context"
	"errors"
	"fmt"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutletRepo implements ports.OutletRepository.
type OutletRepo struct {
	pool Pool
}

// NewOutletRepo creates a new OutletRepo.
func NewOutletRepo(pool Pool) *OutletRepo {
	return &OutletRepo{pool: pool}
}

// Create inserts a new outlet.
func (r *OutletRepo) Create(ctx context.Context, o *domain.Outlet) error {
	query := `INSERT INTO outlets (id, name, business_type, address, tax_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.Name, string(o.BusinessType), o.Address, o.TaxID, o.Active, o.CreatedAt,
	)
	if err != nil {
		return wrapWrite("insert outlet", err)
	}
	return nil
}

// GetByID fetches an outlet by UUID.
func (r *OutletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Outlet, error) {
	query := `SELECT id, name, business_type, address, tax_id, active, created_at
		FROM outlets WHERE id = $1`

	return scanOutlet(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an outlet and locks its row until tx ends.
func (r *OutletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Outlet, error) {
	query := `SELECT id, name, business_type, address, tax_id, active, created_at
		FROM outlets WHERE id = $1 FOR UPDATE`

	return scanOutlet(tx.QueryRow(ctx, query, id))
}

// List returns outlets ordered by creation time.
func (r *OutletRepo) List(ctx context.Context, activeOnly bool) ([]domain.Outlet, error) {
	query := `SELECT id, name, business_type, address, tax_id, active, created_at
		FROM outlets WHERE NOT $1 OR active ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list outlets: %w", err)
	}
	defer rows.Close()

	var outlets []domain.Outlet
	for rows.Next() {
		var o domain.Outlet
		if err := rows.Scan(&o.ID, &o.Name, &o.BusinessType, &o.Address, &o.TaxID, &o.Active, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outlet row: %w", err)
		}
		outlets = append(outlets, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outlet rows: %w", err)
	}
	return outlets, nil
}

// Count returns the number of registered outlets.
func (r *OutletRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outlets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outlets: %w", err)
	}
	return n, nil
}

func scanOutlet(row pgx.Row) (*domain.Outlet, error) {
	o := &domain.Outlet{}
	err := row.Scan(&o.ID, &o.Name, &o.BusinessType, &o.Address, &o.TaxID, &o.Active, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan outlet: %w", err)
	}
	return o, nil
}
