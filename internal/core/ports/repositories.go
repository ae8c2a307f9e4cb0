package ports

import (
	"context"
	"errors"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

// ErrDuplicate is returned by Create methods when a unique constraint rejects the row.
var ErrDuplicate = errors.New("duplicate key")

// Lookups return (nil, nil) when the row does not exist.
// Methods accepting pgx.Tx run inside the caller's transaction; ForUpdate
// variants take a row lock held until that transaction ends.

// CardRepository defines persistence operations for cards.
type CardRepository interface {
	Create(ctx context.Context, tx pgx.Tx, card *domain.Card) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error)
	GetByCardID(ctx context.Context, cardID string) (*domain.Card, error)
	GetBySecureKey(ctx context.Context, secureKey string) (*domain.Card, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Card, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance decimal.Decimal, lastUsed time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, active, blocked bool, blockReason string) error
	Stats(ctx context.Context) (*CardStats, error)
}

// CardStats holds registry-wide aggregates for analytics.
type CardStats struct {
	Total            int64
	Active           int64
	OutstandingFloat decimal.Decimal // sum of all balances
}

// TransactionRepository defines persistence operations for ledger entries.
// There is no update method: entries are written once with their final status.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	// IsSettled reports whether the payment belongs to a non-failed settlement.
	IsSettled(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	// Corrections returns refunds and reversals referencing the payment, seen from tx.
	Corrections(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]domain.Transaction, error)
	// ListCorrections is Corrections outside a transaction, batched for read views.
	ListCorrections(ctx context.Context, paymentIDs []uuid.UUID) ([]domain.Transaction, error)
	// SumDebitsSince totals completed debits of the card created at or after since.
	SumDebitsSince(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, since time.Time) (decimal.Decimal, error)
	// List returns up to limit entries after the cursor in created_at DESC, id DESC order.
	List(ctx context.Context, filter domain.TransactionFilter, after *domain.Cursor, limit int) ([]domain.Transaction, error)
	// ListUnsettledForUpdate locks and returns the outlet's completed payments that are
	// neither linked to a non-failed settlement nor corrected by a non-failed refund/reversal.
	ListUnsettledForUpdate(ctx context.Context, tx pgx.Tx, outletID uuid.UUID) ([]domain.Transaction, error)
	// UnsettledTotal is the unlocked sum of what ListUnsettledForUpdate would return.
	UnsettledTotal(ctx context.Context, outletID uuid.UUID) (decimal.Decimal, error)
	// AggregateOutlet totals the outlet's completed payments created at or after since (nil = all time).
	AggregateOutlet(ctx context.Context, outletID uuid.UUID, since *time.Time) (*domain.OutletAggregate, error)
	Totals(ctx context.Context) (*TransactionTotals, error)
	DailyPaymentTotals(ctx context.Context, since time.Time) ([]domain.DailyTotal, error)
}

// TransactionTotals holds ledger-wide aggregates for analytics.
type TransactionTotals struct {
	Count         int64
	PaymentAmount decimal.Decimal // completed payments
}

// OutletRepository defines persistence operations for outlets.
type OutletRepository interface {
	Create(ctx context.Context, outlet *domain.Outlet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Outlet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Outlet, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Outlet, error)
	Count(ctx context.Context) (int64, error)
}

// SettlementRepository defines persistence operations for settlement batches and their items.
type SettlementRepository interface {
	// Create inserts the batch and one settlement_items row per transaction id.
	Create(ctx context.Context, tx pgx.Tx, settlement *domain.Settlement) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SettlementStatus, settlementDate *time.Time, failureReason string) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	ListByOutlet(ctx context.Context, outletID uuid.UUID) ([]domain.Settlement, error)
	// ItemsTotal sums the amounts of the transactions linked to the batch.
	ItemsTotal(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
}

// IdempotencyRepository defines persistence for idempotency logs (authoritative copy).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	List(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

// OperatorRepository persists login accounts.
type OperatorRepository interface {
	Create(ctx context.Context, operator *domain.Operator) error
	GetByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
