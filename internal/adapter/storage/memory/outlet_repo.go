package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutletRepo implements ports.OutletRepository.
type OutletRepo struct {
	store *Store
}

// NewOutletRepo creates a memory outlet repository.
func NewOutletRepo(store *Store) *OutletRepo {
	return &OutletRepo{store: store}
}

func (r *OutletRepo) Create(ctx context.Context, o *domain.Outlet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.outlets[o.ID]; ok {
		return fmt.Errorf("insert outlet: %w", ports.ErrDuplicate)
	}
	stored := *o
	r.store.outlets[o.ID] = &stored
	return nil
}

func (r *OutletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Outlet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if o, ok := r.store.outlets[id]; ok {
		out := *o
		return &out, nil
	}
	return nil, nil
}

func (r *OutletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Outlet, error) {
	if _, err := asMemTx(tx); err != nil {
		return nil, fmt.Errorf("get outlet for update: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *OutletRepo) List(ctx context.Context, activeOnly bool) ([]domain.Outlet, error) {
	r.store.mu.RLock()
	var out []domain.Outlet
	for _, o := range r.store.outlets {
		if activeOnly && !o.Active {
			continue
		}
		out = append(out, *o)
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Outlet) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (r *OutletRepo) Count(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.outlets)), nil
}
