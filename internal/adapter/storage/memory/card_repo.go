package memory

import (
	"context"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CardRepo implements ports.CardRepository.
type CardRepo struct {
	store *Store
}

// NewCardRepo creates a memory card repository.
func NewCardRepo(store *Store) *CardRepo {
	return &CardRepo{store: store}
}

func (r *CardRepo) Create(ctx context.Context, tx pgx.Tx, card *domain.Card) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}

	r.store.mu.RLock()
	_, idTaken := r.store.cards[card.ID]
	_, cardIDTaken := r.store.cardByCardID[card.CardID]
	_, keyTaken := r.store.cardByKey[card.SecureKey]
	r.store.mu.RUnlock()
	for _, staged := range mt.cards {
		idTaken = idTaken || staged.ID == card.ID
		cardIDTaken = cardIDTaken || staged.CardID == card.CardID
		keyTaken = keyTaken || staged.SecureKey == card.SecureKey
	}
	if idTaken || cardIDTaken || keyTaken {
		return fmt.Errorf("insert card: %w", ports.ErrDuplicate)
	}

	mt.cards = append(mt.cards, copyCard(card))
	return nil
}

func (r *CardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if c, ok := r.store.cards[id]; ok {
		return copyCard(c), nil
	}
	return nil, nil
}

func (r *CardRepo) GetByCardID(ctx context.Context, cardID string) (*domain.Card, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if id, ok := r.store.cardByCardID[cardID]; ok {
		return copyCard(r.store.cards[id]), nil
	}
	return nil, nil
}

func (r *CardRepo) GetBySecureKey(ctx context.Context, secureKey string) (*domain.Card, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if id, ok := r.store.cardByKey[secureKey]; ok {
		return copyCard(r.store.cards[id]), nil
	}
	return nil, nil
}

// GetByIDForUpdate reads through the transaction. The store-wide writer slot
// already excludes other writers, so no row lock is needed.
func (r *CardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Card, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, fmt.Errorf("get card for update: %w", err)
	}
	return mt.card(id), nil
}

func (r *CardRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance decimal.Decimal, lastUsed time.Time) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("update card balance: %w", err)
	}
	if mt.card(id) == nil {
		return fmt.Errorf("card not found: %s", id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("update card balance: balance would go negative")
	}
	mt.balances[id] = balanceUpdate{balance: balance, lastUsed: lastUsed}
	return nil
}

func (r *CardRepo) UpdateStatus(ctx context.Context, id uuid.UUID, active, blocked bool, blockReason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.cards[id]
	if !ok {
		return fmt.Errorf("card not found: %s", id)
	}
	updated := *c
	updated.Active = active
	updated.IsBlocked = blocked
	updated.BlockReason = blockReason
	updated.UpdatedAt = time.Now().UTC()
	r.store.cards[id] = &updated
	return nil
}

func (r *CardRepo) Stats(ctx context.Context) (*ports.CardStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	stats := &ports.CardStats{OutstandingFloat: decimal.Zero}
	for _, c := range r.store.cards {
		stats.Total++
		if c.Active && !c.IsBlocked {
			stats.Active++
		}
		stats.OutstandingFloat = stats.OutstandingFloat.Add(c.Balance)
	}
	return stats, nil
}
