package postgres

import (
	"context"
	"errors"
	"fmt"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// OperatorRepo implements ports.OperatorRepository.
type OperatorRepo struct {
	pool Pool
}

// NewOperatorRepo creates a new OperatorRepo.
func NewOperatorRepo(pool Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

// Create inserts a new operator. A taken username returns ports.ErrDuplicate.
func (r *OperatorRepo) Create(ctx context.Context, o *domain.Operator) error {
	query := `INSERT INTO operators (id, username, password_hash, role, outlet_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.Username, o.PasswordHash, string(o.Role), o.OutletID, o.Active, o.CreatedAt,
	)
	if err != nil {
		return wrapWrite("insert operator", err)
	}
	return nil
}

// GetByUsername fetches an operator by username.
func (r *OperatorRepo) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `SELECT id, username, password_hash, role, outlet_id, active, created_at
		FROM operators WHERE username = $1`

	o := &domain.Operator{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&o.ID, &o.Username, &o.PasswordHash, &o.Role, &o.OutletID, &o.Active, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get operator by username: %w", err)
	}
	return o, nil
}
