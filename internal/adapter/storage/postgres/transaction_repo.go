package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const transactionColumns = `t.id, t.type, t.card_id, t.amount, t.status, t.outlet_id, t.reference_id,
	t.idempotency_key, t.description, t.metadata, t.failure_reason, t.created_at`

// liveCorrection matches a non-failed refund or reversal of the payment aliased t.
const liveCorrection = `SELECT 1 FROM transactions c
	WHERE c.reference_id = t.id AND c.status <> 'failed'`

// inLiveSettlement matches membership of t in a settlement that has not failed.
const inLiveSettlement = `SELECT 1 FROM settlement_items si
	JOIN settlements s ON s.id = si.settlement_id
	WHERE si.transaction_id = t.id AND s.status <> 'failed'`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new ledger entry within a database transaction.
// A second live correction of the same payment is rejected by a partial unique index
// and surfaces as ports.ErrDuplicate.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, type, card_id, amount, status, outlet_id, reference_id,
		idempotency_key, description, metadata, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := tx.Exec(ctx, query,
		t.ID, string(t.Type), t.CardID, t.Amount, string(t.Status), t.OutletID, t.ReferenceID,
		t.IdempotencyKey, t.Description, metadata, t.FailureReason, t.CreatedAt,
	)
	if err != nil {
		return wrapWrite("insert transaction", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = $1`

	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction and locks its row until tx ends.
// Concurrent corrections of the same payment serialize on this lock.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = $1 FOR UPDATE`

	return r.scanTransaction(tx.QueryRow(ctx, query, id))
}

// IsSettled reports whether the payment belongs to a settlement that has not failed.
func (r *TransactionRepo) IsSettled(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM settlement_items si
		JOIN settlements s ON s.id = si.settlement_id
		WHERE si.transaction_id = $1 AND s.status <> 'failed')`

	var settled bool
	if err := querier(r.pool, tx).QueryRow(ctx, query, id).Scan(&settled); err != nil {
		return false, fmt.Errorf("check settled: %w", err)
	}
	return settled, nil
}

// Corrections returns every refund and reversal referencing the payment.
func (r *TransactionRepo) Corrections(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.reference_id = $1 ORDER BY t.created_at, t.id`

	return r.queryTransactions(ctx, querier(r.pool, tx), "list corrections", query, paymentID)
}

// ListCorrections returns the refunds and reversals referencing any of the payments.
func (r *TransactionRepo) ListCorrections(ctx context.Context, paymentIDs []uuid.UUID) ([]domain.Transaction, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.reference_id = ANY($1) ORDER BY t.created_at, t.id`

	return r.queryTransactions(ctx, r.pool, "list corrections batch", query, paymentIDs)
}

// SumDebitsSince totals the card's completed debits created at or after since.
func (r *TransactionRepo) SumDebitsSince(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE card_id = $1 AND type IN ('payment', 'settlement') AND status = 'completed' AND created_at >= $2`

	var total decimal.Decimal
	if err := querier(r.pool, tx).QueryRow(ctx, query, cardID, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum debits: %w", err)
	}
	return total, nil
}

// List fetches up to limit entries after the cursor, newest first.
// Filtering by the derived refunded/reversed statuses selects completed payments
// carrying a live correction of that type.
func (r *TransactionRepo) List(ctx context.Context, filter domain.TransactionFilter, after *domain.Cursor, limit int) ([]domain.Transaction, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.CardID != nil {
		conditions = append(conditions, fmt.Sprintf("t.card_id = $%d", argIdx))
		args = append(args, *filter.CardID)
		argIdx++
	}
	if filter.OutletID != nil {
		conditions = append(conditions, fmt.Sprintf("t.outlet_id = $%d", argIdx))
		args = append(args, *filter.OutletID)
		argIdx++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("t.created_at >= $%d", argIdx))
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("t.created_at < $%d", argIdx))
		args = append(args, *filter.To)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("t.type = $%d", argIdx))
		args = append(args, string(filter.Type))
		argIdx++
	}
	switch filter.Status {
	case "":
	case domain.TransactionStatusRefunded, domain.TransactionStatusReversed:
		correction := domain.TransactionTypeRefund
		if filter.Status == domain.TransactionStatusReversed {
			correction = domain.TransactionTypeReversal
		}
		conditions = append(conditions,
			"t.type = 'payment' AND t.status = 'completed'",
			fmt.Sprintf("EXISTS(%s AND c.type = $%d)", liveCorrection, argIdx))
		args = append(args, string(correction))
		argIdx++
	default:
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if after != nil {
		conditions = append(conditions, fmt.Sprintf("(t.created_at, t.id) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, after.CreatedAt, after.ID)
		argIdx += 2
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions t %s
		ORDER BY t.created_at DESC, t.id DESC LIMIT $%d`, transactionColumns, where, argIdx)
	args = append(args, limit)

	return r.queryTransactions(ctx, r.pool, "list transactions", query, args...)
}

// ListUnsettledForUpdate locks and returns the outlet's settleable payments, oldest first.
func (r *TransactionRepo) ListUnsettledForUpdate(ctx context.Context, tx pgx.Tx, outletID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.outlet_id = $1 AND t.type = 'payment' AND t.status = 'completed'
		AND NOT EXISTS(` + inLiveSettlement + `)
		AND NOT EXISTS(` + liveCorrection + `)
		ORDER BY t.created_at, t.id
		FOR UPDATE OF t`

	return r.queryTransactions(ctx, tx, "list unsettled", query, outletID)
}

// UnsettledTotal sums the outlet's settleable payments without locking them.
func (r *TransactionRepo) UnsettledTotal(ctx context.Context, outletID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(t.amount), 0) FROM transactions t
		WHERE t.outlet_id = $1 AND t.type = 'payment' AND t.status = 'completed'
		AND NOT EXISTS(` + inLiveSettlement + `)
		AND NOT EXISTS(` + liveCorrection + `)`

	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, outletID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("unsettled total: %w", err)
	}
	return total, nil
}

// AggregateOutlet totals the outlet's uncorrected completed payments created at or after since.
func (r *TransactionRepo) AggregateOutlet(ctx context.Context, outletID uuid.UUID, since *time.Time) (*domain.OutletAggregate, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(t.amount), 0), MAX(t.created_at) FROM transactions t
		WHERE t.outlet_id = $1 AND t.type = 'payment' AND t.status = 'completed'
		AND NOT EXISTS(` + liveCorrection + `)
		AND ($2::timestamptz IS NULL OR t.created_at >= $2)`

	agg := &domain.OutletAggregate{}
	if err := r.pool.QueryRow(ctx, query, outletID, since).Scan(&agg.Count, &agg.Total, &agg.LastTransactionDate); err != nil {
		return nil, fmt.Errorf("aggregate outlet: %w", err)
	}
	return agg, nil
}

// Totals returns ledger-wide entry count and completed payment volume.
func (r *TransactionRepo) Totals(ctx context.Context) (*ports.TransactionTotals, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(amount) FILTER (WHERE type = 'payment' AND status = 'completed'), 0)
		FROM transactions`

	totals := &ports.TransactionTotals{}
	if err := r.pool.QueryRow(ctx, query).Scan(&totals.Count, &totals.PaymentAmount); err != nil {
		return nil, fmt.Errorf("transaction totals: %w", err)
	}
	return totals, nil
}

// DailyPaymentTotals groups completed payments by UTC day starting at since.
// Days without payments are absent.
func (r *TransactionRepo) DailyPaymentTotals(ctx context.Context, since time.Time) ([]domain.DailyTotal, error) {
	query := `SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE type = 'payment' AND status = 'completed' AND created_at >= $1
		GROUP BY day ORDER BY day`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("daily payment totals: %w", err)
	}
	defer rows.Close()

	var days []domain.DailyTotal
	for rows.Next() {
		var d domain.DailyTotal
		if err := rows.Scan(&d.Date, &d.Count, &d.Amount); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily totals: %w", err)
	}
	return days, nil
}

func (r *TransactionRepo) queryTransactions(ctx context.Context, q Querier, op, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.Type, &t.CardID, &t.Amount, &t.Status, &t.OutletID, &t.ReferenceID,
		&t.IdempotencyKey, &t.Description, &t.Metadata, &t.FailureReason, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
