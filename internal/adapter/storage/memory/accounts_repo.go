package memory

import (
	"context"
	"fmt"
	"slices"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	store *Store
}

// NewIdempotencyRepo creates a memory idempotency log.
func NewIdempotencyRepo(store *Store) *IdempotencyRepo {
	return &IdempotencyRepo{store: store}
}

func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("insert idempotency log: %w", err)
	}
	r.store.mu.RLock()
	_, taken := r.store.idempotency[log.Key]
	r.store.mu.RUnlock()
	for _, staged := range mt.idempotency {
		taken = taken || staged.Key == log.Key
	}
	if taken {
		return fmt.Errorf("insert idempotency log: %w", ports.ErrDuplicate)
	}
	stored := *log
	mt.idempotency = append(mt.idempotency, &stored)
	return nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if l, ok := r.store.idempotency[key]; ok {
		out := *l
		return &out, nil
	}
	return nil, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo creates a memory audit trail.
func NewAuditRepo(store *Store) *AuditRepo {
	return &AuditRepo{store: store}
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audit = append(r.store.audit, *log)
	return nil
}

// List returns the newest entries first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	r.store.mu.RLock()
	out := slices.Clone(r.store.audit)
	r.store.mu.RUnlock()

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OperatorRepo implements ports.OperatorRepository.
type OperatorRepo struct {
	store *Store
}

// NewOperatorRepo creates a memory operator directory.
func NewOperatorRepo(store *Store) *OperatorRepo {
	return &OperatorRepo{store: store}
}

func (r *OperatorRepo) Create(ctx context.Context, o *domain.Operator) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.operators[o.Username]; ok {
		return fmt.Errorf("insert operator: %w", ports.ErrDuplicate)
	}
	stored := *o
	r.store.operators[o.Username] = &stored
	return nil
}

func (r *OperatorRepo) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if o, ok := r.store.operators[username]; ok {
		out := *o
		return &out, nil
	}
	return nil, nil
}
