package memory

import (
	"bytes"
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

// SettlementRepo implements ports.SettlementRepository.
type SettlementRepo struct {
	store *Store
}

// NewSettlementRepo creates a memory settlement repository.
func NewSettlementRepo(store *Store) *SettlementRepo {
	return &SettlementRepo{store: store}
}

func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}

	r.store.mu.RLock()
	_, taken := r.store.settlements[s.ID]
	for _, existing := range r.store.settlements {
		taken = taken || existing.Reference == s.Reference
	}
	r.store.mu.RUnlock()
	for _, staged := range mt.settlements {
		taken = taken || staged.ID == s.ID || staged.Reference == s.Reference
	}
	if taken {
		return fmt.Errorf("insert settlement: %w", ports.ErrDuplicate)
	}

	mt.settlements = append(mt.settlements, copySettlement(s))
	return nil
}

func (r *SettlementRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SettlementStatus, settlementDate *time.Time, failureReason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.settlements[id]
	if !ok {
		return fmt.Errorf("settlement not found: %s", id)
	}
	updated := copySettlement(s)
	updated.Status = status
	updated.SettlementDate = settlementDate
	updated.FailureReason = failureReason
	updated.UpdatedAt = time.Now().UTC()
	r.store.settlements[id] = updated
	return nil
}

func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if s, ok := r.store.settlements[id]; ok {
		return copySettlement(s), nil
	}
	return nil, nil
}

func (r *SettlementRepo) ListByOutlet(ctx context.Context, outletID uuid.UUID) ([]domain.Settlement, error) {
	r.store.mu.RLock()
	var out []domain.Settlement
	for _, s := range r.store.settlements {
		if s.OutletID == outletID {
			out = append(out, *copySettlement(s))
		}
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Settlement) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	return out, nil
}

func (r *SettlementRepo) ItemsTotal(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.settlements[id]
	if !ok {
		return decimal.Zero, nil
	}
	total := decimal.Zero
	for _, txID := range s.TransactionIDs {
		if t, ok := r.store.transactions[txID]; ok {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}
