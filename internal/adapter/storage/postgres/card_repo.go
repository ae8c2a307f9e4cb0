package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const cardColumns = `id, card_id, secure_key, balance, active, is_blocked, block_reason,
	daily_limit, transaction_limit, activation_date, expiry_date, last_used, metadata,
	created_at, updated_at`

// CardRepo implements ports.CardRepository.
type CardRepo struct {
	pool Pool
}

// NewCardRepo creates a new CardRepo.
func NewCardRepo(pool Pool) *CardRepo {
	return &CardRepo{pool: pool}
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	c := &domain.Card{}
	err := row.Scan(
		&c.ID, &c.CardID, &c.SecureKey, &c.Balance, &c.Active, &c.IsBlocked, &c.BlockReason,
		&c.DailyLimit, &c.TransactionLimit, &c.ActivationDate, &c.ExpiryDate, &c.LastUsed, &c.Metadata,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return c, nil
}

// Create inserts a new card. Unique collisions on card_id or secure_key return ports.ErrDuplicate.
func (r *CardRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.Card) error {
	query := `INSERT INTO cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := querier(r.pool, tx).Exec(ctx, query,
		c.ID, c.CardID, c.SecureKey, c.Balance, c.Active, c.IsBlocked, c.BlockReason,
		c.DailyLimit, c.TransactionLimit, c.ActivationDate, c.ExpiryDate, c.LastUsed, metadata,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return wrapWrite("insert card", err)
	}
	return nil
}

func (r *CardRepo) getOne(ctx context.Context, q Querier, op, query string, arg any) (*domain.Card, error) {
	c, err := scanCard(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// GetByID fetches a card by its internal UUID.
func (r *CardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	return r.getOne(ctx, r.pool, "get card by id",
		`SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
}

// GetByCardID fetches a card by its external 8-character id.
func (r *CardRepo) GetByCardID(ctx context.Context, cardID string) (*domain.Card, error) {
	return r.getOne(ctx, r.pool, "get card by card_id",
		`SELECT `+cardColumns+` FROM cards WHERE card_id = $1`, cardID)
}

// GetBySecureKey fetches a card by its bearer secure key.
func (r *CardRepo) GetBySecureKey(ctx context.Context, secureKey string) (*domain.Card, error) {
	return r.getOne(ctx, r.pool, "get card by secure key",
		`SELECT `+cardColumns+` FROM cards WHERE secure_key = $1`, secureKey)
}

// GetByIDForUpdate fetches a card with pessimistic locking.
// This MUST be called within a transaction.
func (r *CardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Card, error) {
	return r.getOne(ctx, tx, "get card for update",
		`SELECT `+cardColumns+` FROM cards WHERE id = $1 FOR UPDATE`, id)
}

// UpdateBalance writes a card's balance and last_used within a transaction.
func (r *CardRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance decimal.Decimal, lastUsed time.Time) error {
	query := `UPDATE cards SET balance = $1, last_used = $2, updated_at = NOW() WHERE id = $3`

	tag, err := tx.Exec(ctx, query, balance, lastUsed, id)
	if err != nil {
		return fmt.Errorf("update card balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("card not found: %s", id)
	}
	return nil
}

// UpdateStatus sets the active and blocked flags of a card.
func (r *CardRepo) UpdateStatus(ctx context.Context, id uuid.UUID, active, blocked bool, blockReason string) error {
	query := `UPDATE cards SET active = $1, is_blocked = $2, block_reason = $3, updated_at = NOW() WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, active, blocked, blockReason, id)
	if err != nil {
		return fmt.Errorf("update card status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("card not found: %s", id)
	}
	return nil
}

// Stats returns registry-wide card counts and the outstanding float.
func (r *CardRepo) Stats(ctx context.Context) (*ports.CardStats, error) {
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE active AND NOT is_blocked),
		COALESCE(SUM(balance), 0)
		FROM cards`

	s := &ports.CardStats{}
	if err := r.pool.QueryRow(ctx, query).Scan(&s.Total, &s.Active, &s.OutstandingFloat); err != nil {
		return nil, fmt.Errorf("card stats: %w", err)
	}
	return s, nil
}
