package memory

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	store *Store
}

// NewTransactionRepo creates a memory ledger repository.
func NewTransactionRepo(store *Store) *TransactionRepo {
	return &TransactionRepo{store: store}
}

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	clash := mt.transactions(func(existing *domain.Transaction) bool {
		if existing.ID == t.ID {
			return true
		}
		// At most one live correction per payment.
		return t.ReferenceID != nil && t.Status != domain.TransactionStatusFailed &&
			existing.ReferenceID != nil && *existing.ReferenceID == *t.ReferenceID &&
			existing.Status != domain.TransactionStatusFailed
	})
	if len(clash) > 0 {
		return fmt.Errorf("insert transaction: %w", ports.ErrDuplicate)
	}

	stored := copyTransaction(t)
	mt.txns = append(mt.txns, &stored)
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if t, ok := r.store.transactions[id]; ok {
		out := copyTransaction(t)
		return &out, nil
	}
	return nil, nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, fmt.Errorf("get transaction for update: %w", err)
	}
	found := mt.transactions(func(t *domain.Transaction) bool { return t.ID == id })
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (r *TransactionRepo) IsSettled(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	if tx == nil {
		return r.store.isSettled(id), nil
	}
	mt, err := asMemTx(tx)
	if err != nil {
		return false, fmt.Errorf("check settled: %w", err)
	}
	return mt.isSettled(id), nil
}

func (r *TransactionRepo) Corrections(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]domain.Transaction, error) {
	keep := func(t *domain.Transaction) bool { return t.ReferenceID != nil && *t.ReferenceID == paymentID }
	var out []domain.Transaction
	if tx == nil {
		out = r.committed(keep)
	} else {
		mt, err := asMemTx(tx)
		if err != nil {
			return nil, fmt.Errorf("list corrections: %w", err)
		}
		out = mt.transactions(keep)
	}
	sortAscending(out)
	return out, nil
}

func (r *TransactionRepo) ListCorrections(ctx context.Context, paymentIDs []uuid.UUID) ([]domain.Transaction, error) {
	wanted := make(map[uuid.UUID]bool, len(paymentIDs))
	for _, id := range paymentIDs {
		wanted[id] = true
	}
	out := r.committed(func(t *domain.Transaction) bool {
		return t.ReferenceID != nil && wanted[*t.ReferenceID]
	})
	sortAscending(out)
	return out, nil
}

func (r *TransactionRepo) SumDebitsSince(ctx context.Context, tx pgx.Tx, cardID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	keep := func(t *domain.Transaction) bool {
		return t.CardID == cardID && t.Type.IsDebit() && t.Status == domain.TransactionStatusCompleted &&
			!t.CreatedAt.Before(since)
	}
	var matched []domain.Transaction
	if tx == nil {
		matched = r.committed(keep)
	} else {
		mt, err := asMemTx(tx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum debits: %w", err)
		}
		matched = mt.transactions(keep)
	}
	return domain.SumAmounts(matched), nil
}

func (r *TransactionRepo) List(ctx context.Context, filter domain.TransactionFilter, after *domain.Cursor, limit int) ([]domain.Transaction, error) {
	r.store.mu.RLock()
	var out []domain.Transaction
	for _, t := range r.store.transactions {
		if !r.matchesLocked(t, filter) {
			continue
		}
		if after != nil && !after.Before(t) {
			continue
		}
		out = append(out, copyTransaction(t))
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matchesLocked must be called with the read lock held.
func (r *TransactionRepo) matchesLocked(t *domain.Transaction, f domain.TransactionFilter) bool {
	switch {
	case f.CardID != nil && t.CardID != *f.CardID:
		return false
	case f.OutletID != nil && (t.OutletID == nil || *t.OutletID != *f.OutletID):
		return false
	case f.From != nil && t.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !t.CreatedAt.Before(*f.To):
		return false
	case f.Type != "" && t.Type != f.Type:
		return false
	}
	switch f.Status {
	case "":
		return true
	case domain.TransactionStatusRefunded, domain.TransactionStatusReversed:
		if !t.IsCorrectable() {
			return false
		}
		var corrections []domain.Transaction
		for _, c := range r.store.transactions {
			if c.ReferenceID != nil && *c.ReferenceID == t.ID {
				corrections = append(corrections, *c)
			}
		}
		return domain.ResolveStatus(t, corrections) == f.Status
	default:
		return t.Status == f.Status
	}
}

func (r *TransactionRepo) ListUnsettledForUpdate(ctx context.Context, tx pgx.Tx, outletID uuid.UUID) ([]domain.Transaction, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, fmt.Errorf("list unsettled: %w", err)
	}
	all := mt.transactions(func(*domain.Transaction) bool { return true })
	out := unsettled(all, outletID, mt.isSettled)
	sortAscending(out)
	return out, nil
}

func (r *TransactionRepo) UnsettledTotal(ctx context.Context, outletID uuid.UUID) (decimal.Decimal, error) {
	all := r.committed(func(*domain.Transaction) bool { return true })
	return domain.SumAmounts(unsettled(all, outletID, r.store.isSettled)), nil
}

func (r *TransactionRepo) AggregateOutlet(ctx context.Context, outletID uuid.UUID, since *time.Time) (*domain.OutletAggregate, error) {
	all := r.committed(func(*domain.Transaction) bool { return true })
	corrected := correctedPayments(all)

	agg := &domain.OutletAggregate{Total: decimal.Zero}
	for i := range all {
		t := &all[i]
		if !isOutletPayment(t, outletID) || corrected[t.ID] {
			continue
		}
		if since != nil && t.CreatedAt.Before(*since) {
			continue
		}
		agg.Count++
		agg.Total = agg.Total.Add(t.Amount)
		if agg.LastTransactionDate == nil || t.CreatedAt.After(*agg.LastTransactionDate) {
			at := t.CreatedAt
			agg.LastTransactionDate = &at
		}
	}
	return agg, nil
}

func (r *TransactionRepo) Totals(ctx context.Context) (*ports.TransactionTotals, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	totals := &ports.TransactionTotals{PaymentAmount: decimal.Zero}
	for _, t := range r.store.transactions {
		totals.Count++
		if t.Type == domain.TransactionTypePayment && t.Status == domain.TransactionStatusCompleted {
			totals.PaymentAmount = totals.PaymentAmount.Add(t.Amount)
		}
	}
	return totals, nil
}

func (r *TransactionRepo) DailyPaymentTotals(ctx context.Context, since time.Time) ([]domain.DailyTotal, error) {
	byDay := make(map[string]*domain.DailyTotal)
	for _, t := range r.committed(func(t *domain.Transaction) bool {
		return t.Type == domain.TransactionTypePayment && t.Status == domain.TransactionStatusCompleted &&
			!t.CreatedAt.Before(since)
	}) {
		key := domain.DateKey(t.CreatedAt)
		d, ok := byDay[key]
		if !ok {
			d = &domain.DailyTotal{Date: key, Amount: decimal.Zero}
			byDay[key] = d
		}
		d.Count++
		d.Amount = d.Amount.Add(t.Amount)
	}

	days := make([]domain.DailyTotal, 0, len(byDay))
	for _, d := range byDay {
		days = append(days, *d)
	}
	slices.SortFunc(days, func(a, b domain.DailyTotal) int { return cmp.Compare(a.Date, b.Date) })
	return days, nil
}

func (r *TransactionRepo) committed(keep func(*domain.Transaction) bool) []domain.Transaction {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range r.store.transactions {
		if keep(t) {
			out = append(out, copyTransaction(t))
		}
	}
	return out
}

func isOutletPayment(t *domain.Transaction, outletID uuid.UUID) bool {
	return t.Type == domain.TransactionTypePayment && t.Status == domain.TransactionStatusCompleted &&
		t.OutletID != nil && *t.OutletID == outletID
}

// correctedPayments returns the ids of payments with a live refund or reversal.
func correctedPayments(all []domain.Transaction) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, t := range all {
		if t.ReferenceID != nil && t.Status != domain.TransactionStatusFailed {
			out[*t.ReferenceID] = true
		}
	}
	return out
}

func unsettled(all []domain.Transaction, outletID uuid.UUID, settled func(uuid.UUID) bool) []domain.Transaction {
	corrected := correctedPayments(all)
	var out []domain.Transaction
	for i := range all {
		t := &all[i]
		if isOutletPayment(t, outletID) && !corrected[t.ID] && !settled(t.ID) {
			out = append(out, *t)
		}
	}
	return out
}

func sortAscending(txns []domain.Transaction) {
	slices.SortFunc(txns, func(a, b domain.Transaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}
