// Package memory is a process-local storage backend with the same contracts as
// the PostgreSQL adapter. Write transactions are serialized store-wide and their
// changes stay invisible to other readers until Commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Store holds committed state for every memory repository.
type Store struct {
	writer chan struct{} // one open write transaction at a time

	mu           sync.RWMutex
	cards        map[uuid.UUID]*domain.Card
	cardByCardID map[string]uuid.UUID
	cardByKey    map[string]uuid.UUID
	transactions map[uuid.UUID]*domain.Transaction
	outlets      map[uuid.UUID]*domain.Outlet
	settlements  map[uuid.UUID]*domain.Settlement
	settledBy    map[uuid.UUID][]uuid.UUID // transaction id -> settlement ids
	idempotency  map[string]*domain.IdempotencyLog
	audit        []domain.AuditLog
	operators    map[string]*domain.Operator

	failMu      sync.Mutex
	failCommits int
	failErr     error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		writer:       make(chan struct{}, 1),
		cards:        make(map[uuid.UUID]*domain.Card),
		cardByCardID: make(map[string]uuid.UUID),
		cardByKey:    make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		outlets:      make(map[uuid.UUID]*domain.Outlet),
		settlements:  make(map[uuid.UUID]*domain.Settlement),
		settledBy:    make(map[uuid.UUID][]uuid.UUID),
		idempotency:  make(map[string]*domain.IdempotencyLog),
		operators:    make(map[string]*domain.Operator),
	}
}

// FailNextCommits makes the next n commits fail with err and roll back.
func (s *Store) FailNextCommits(n int, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failCommits = n
	s.failErr = err
}

func (s *Store) takeCommitFailure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failCommits == 0 {
		return nil
	}
	s.failCommits--
	return s.failErr
}

// Begin opens a write transaction, waiting for the previous one to finish.
// It implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("begin transaction: %w", ctx.Err())
	}
	return &memTx{
		store:    s,
		balances: make(map[uuid.UUID]balanceUpdate),
	}, nil
}

type balanceUpdate struct {
	balance  decimal.Decimal
	lastUsed time.Time
}

// memTx stages writes until Commit. Only Commit and Rollback are implemented;
// the embedded interface is nil and panics if anything else is called.
type memTx struct {
	pgx.Tx

	store       *Store
	closed      bool
	cards       []*domain.Card
	balances    map[uuid.UUID]balanceUpdate
	txns        []*domain.Transaction
	settlements []*domain.Settlement
	idempotency []*domain.IdempotencyLog
}

var errNotMemoryTx = errors.New("memory: transaction was not opened by this store")

func asMemTx(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt == nil {
		return nil, errNotMemoryTx
	}
	if mt.closed {
		return nil, pgx.ErrTxClosed
	}
	return mt, nil
}

// Commit publishes the staged writes atomically.
func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	defer t.finish()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := t.store.takeCommitFailure(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range t.cards {
		s.cards[c.ID] = c
		s.cardByCardID[c.CardID] = c.ID
		s.cardByKey[c.SecureKey] = c.ID
	}
	for id, u := range t.balances {
		c := s.cards[id]
		updated := *c
		updated.Balance = u.balance
		lastUsed := u.lastUsed
		updated.LastUsed = &lastUsed
		updated.UpdatedAt = time.Now().UTC()
		s.cards[id] = &updated
	}
	for _, txn := range t.txns {
		s.transactions[txn.ID] = txn
	}
	for _, st := range t.settlements {
		s.settlements[st.ID] = st
		for _, id := range st.TransactionIDs {
			s.settledBy[id] = append(s.settledBy[id], st.ID)
		}
	}
	for _, l := range t.idempotency {
		s.idempotency[l.Key] = l
	}
	return nil
}

// Rollback discards the staged writes. It is a no-op after Commit.
func (t *memTx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.closed = true
	<-t.store.writer
}

// card returns the card as seen from inside the transaction.
func (t *memTx) card(id uuid.UUID) *domain.Card {
	var c *domain.Card
	for _, staged := range t.cards {
		if staged.ID == id {
			c = staged
		}
	}
	if c == nil {
		t.store.mu.RLock()
		c = t.store.cards[id]
		t.store.mu.RUnlock()
	}
	if c == nil {
		return nil
	}
	out := copyCard(c)
	if u, ok := t.balances[id]; ok {
		out.Balance = u.balance
		lastUsed := u.lastUsed
		out.LastUsed = &lastUsed
	}
	return out
}

// transactions returns committed and staged entries matching keep.
func (t *memTx) transactions(keep func(*domain.Transaction) bool) []domain.Transaction {
	var out []domain.Transaction
	t.store.mu.RLock()
	for _, txn := range t.store.transactions {
		if keep(txn) {
			out = append(out, copyTransaction(txn))
		}
	}
	t.store.mu.RUnlock()
	for _, txn := range t.txns {
		if keep(txn) {
			out = append(out, copyTransaction(txn))
		}
	}
	return out
}

// isSettled reports live settlement membership, including batches staged in t.
func (t *memTx) isSettled(id uuid.UUID) bool {
	if t.store.isSettled(id) {
		return true
	}
	for _, st := range t.settlements {
		if st.Status == domain.SettlementStatusFailed {
			continue
		}
		for _, member := range st.TransactionIDs {
			if member == id {
				return true
			}
		}
	}
	return false
}

func (s *Store) isSettled(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sid := range s.settledBy[id] {
		if st := s.settlements[sid]; st != nil && st.Status != domain.SettlementStatusFailed {
			return true
		}
	}
	return false
}

func copyCard(c *domain.Card) *domain.Card {
	out := *c
	out.Metadata = copyMetadata(c.Metadata)
	return &out
}

func copyTransaction(t *domain.Transaction) domain.Transaction {
	out := *t
	out.Metadata = copyMetadata(t.Metadata)
	return out
}

func copySettlement(s *domain.Settlement) *domain.Settlement {
	out := *s
	out.TransactionIDs = append([]uuid.UUID(nil), s.TransactionIDs...)
	return &out
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
