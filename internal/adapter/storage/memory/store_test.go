package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedCard(t *testing.T, s *Store, balance string) *domain.Card {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Card{
		ID:             uuid.New(),
		CardID:         uuid.NewString()[:8],
		SecureKey:      uuid.NewString(),
		Balance:        dec(balance),
		Active:         true,
		ActivationDate: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, NewCardRepo(s).Create(context.Background(), tx, c))
	require.NoError(t, tx.Commit(context.Background()))
	return c
}

func payment(cardID, outletID uuid.UUID, amount string, at time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Type:      domain.TransactionTypePayment,
		CardID:    cardID,
		Amount:    dec(amount),
		Status:    domain.TransactionStatusCompleted,
		OutletID:  &outletID,
		CreatedAt: at,
	}
}

func TestStore_StagedWritesInvisibleUntilCommit(t *testing.T) {
	s := NewStore()
	cards := NewCardRepo(s)
	ctx := context.Background()
	c := seedCard(t, s, "100.00")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, cards.UpdateBalance(ctx, tx, c.ID, dec("70.00"), time.Now()))

	inside, err := cards.GetByIDForUpdate(ctx, tx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "70", inside.Balance.String())

	outside, err := cards.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", outside.Balance.String())

	require.NoError(t, tx.Commit(ctx))
	after, err := cards.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "70", after.Balance.String())
	assert.NotNil(t, after.LastUsed)
}

func TestStore_RollbackDiscards(t *testing.T) {
	s := NewStore()
	cards := NewCardRepo(s)
	ctx := context.Background()
	c := seedCard(t, s, "100.00")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, cards.UpdateBalance(ctx, tx, c.ID, dec("0"), time.Now()))
	require.NoError(t, tx.Rollback(ctx))
	assert.Error(t, tx.Commit(ctx), "closed transactions cannot commit")

	got, err := cards.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())
}

func TestStore_FailNextCommits(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("disk on fire")
	s.FailNextCommits(1, boom)

	c := &domain.Card{ID: uuid.New(), CardID: "AAAA0000", SecureKey: "k"}
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, NewCardRepo(s).Create(ctx, tx, c))
	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, boom)

	got, err := NewCardRepo(s).GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// The writer slot was released and the next commit succeeds.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, NewCardRepo(s).Create(ctx, tx, c))
	require.NoError(t, tx.Commit(ctx))
}

func TestStore_BeginHonorsContext(t *testing.T) {
	s := NewStore()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCardRepo_DuplicateIdentifiers(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	existing := seedCard(t, s, "0")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	clash := &domain.Card{ID: uuid.New(), CardID: existing.CardID, SecureKey: "fresh"}
	err = NewCardRepo(s).Create(ctx, tx, clash)
	assert.ErrorIs(t, err, ports.ErrDuplicate)
}

func TestTransactionRepo_OneLiveCorrection(t *testing.T) {
	s := NewStore()
	repo := NewTransactionRepo(s)
	ctx := context.Background()
	c := seedCard(t, s, "100")
	pay := payment(c.ID, uuid.New(), "30", time.Now())

	refund := func(status domain.TransactionStatus) *domain.Transaction {
		return &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeRefund, CardID: c.ID,
			Amount: dec("30"), Status: status, ReferenceID: &pay.ID, CreatedAt: time.Now()}
	}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, tx, pay))
	require.NoError(t, repo.Create(ctx, tx, refund(domain.TransactionStatusFailed)))
	require.NoError(t, repo.Create(ctx, tx, refund(domain.TransactionStatusCompleted)))
	assert.ErrorIs(t, repo.Create(ctx, tx, refund(domain.TransactionStatusCompleted)), ports.ErrDuplicate)
	require.NoError(t, tx.Commit(ctx))

	corrections, err := repo.Corrections(ctx, nil, pay.ID)
	require.NoError(t, err)
	assert.Len(t, corrections, 2)
}

func TestTransactionRepo_ListKeysetOrder(t *testing.T) {
	s := NewStore()
	repo := NewTransactionRepo(s)
	ctx := context.Background()
	c := seedCard(t, s, "100")
	outlet := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, tx, payment(c.ID, outlet, "1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, tx.Commit(ctx))

	filter := domain.TransactionFilter{CardID: &c.ID}
	page1, err := repo.List(ctx, filter, nil, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))

	last := page1[1]
	page2, err := repo.List(ctx, filter, &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, 10)
	require.NoError(t, err)
	assert.Len(t, page2, 3)
	assert.True(t, page2[0].CreatedAt.Before(last.CreatedAt))
}

func TestTransactionRepo_UnsettledExcludesCorrectedAndSettled(t *testing.T) {
	s := NewStore()
	txRepo := NewTransactionRepo(s)
	stRepo := NewSettlementRepo(s)
	ctx := context.Background()
	c := seedCard(t, s, "100")
	outlet := uuid.New()
	now := time.Now().UTC()

	p1 := payment(c.ID, outlet, "30", now)
	p2 := payment(c.ID, outlet, "20", now.Add(time.Second))
	p3 := payment(c.ID, outlet, "5", now.Add(2*time.Second))
	reversal := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeReversal, CardID: c.ID,
		Amount: dec("5"), Status: domain.TransactionStatusCompleted, ReferenceID: &p3.ID, CreatedAt: now}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, txn := range []*domain.Transaction{p1, p2, p3, reversal} {
		require.NoError(t, txRepo.Create(ctx, tx, txn))
	}
	require.NoError(t, tx.Commit(ctx))

	total, err := txRepo.UnsettledTotal(ctx, outlet)
	require.NoError(t, err)
	assert.Equal(t, "50", total.String())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	pending, err := txRepo.ListUnsettledForUpdate(ctx, tx, outlet)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, p1.ID, pending[0].ID)

	batch := &domain.Settlement{ID: uuid.New(), Reference: "STL-1", OutletID: outlet, Amount: dec("30"),
		Status: domain.SettlementStatusPending, TransactionIDs: []uuid.UUID{p1.ID}, CreatedAt: now}
	require.NoError(t, stRepo.Create(ctx, tx, batch))
	settled, err := txRepo.IsSettled(ctx, tx, p1.ID)
	require.NoError(t, err)
	assert.True(t, settled, "staged batch is visible inside its transaction")
	require.NoError(t, tx.Commit(ctx))

	total, err = txRepo.UnsettledTotal(ctx, outlet)
	require.NoError(t, err)
	assert.Equal(t, "20", total.String())

	// A failed batch releases its members.
	require.NoError(t, stRepo.UpdateStatus(ctx, batch.ID, domain.SettlementStatusFailed, nil, "bank down"))
	total, err = txRepo.UnsettledTotal(ctx, outlet)
	require.NoError(t, err)
	assert.Equal(t, "50", total.String())

	itemsTotal, err := stRepo.ItemsTotal(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "30", itemsTotal.String())

	agg, err := txRepo.AggregateOutlet(ctx, outlet, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.Count)
	assert.Equal(t, "50", agg.Total.String())
}

func TestTransactionRepo_DerivedStatusFilter(t *testing.T) {
	s := NewStore()
	repo := NewTransactionRepo(s)
	ctx := context.Background()
	c := seedCard(t, s, "100")
	pay := payment(c.ID, uuid.New(), "30", time.Now())
	other := payment(c.ID, uuid.New(), "10", time.Now())
	refund := &domain.Transaction{ID: uuid.New(), Type: domain.TransactionTypeRefund, CardID: c.ID,
		Amount: dec("30"), Status: domain.TransactionStatusCompleted, ReferenceID: &pay.ID, CreatedAt: time.Now()}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, txn := range []*domain.Transaction{pay, other, refund} {
		require.NoError(t, repo.Create(ctx, tx, txn))
	}
	require.NoError(t, tx.Commit(ctx))

	refunded, err := repo.List(ctx, domain.TransactionFilter{Status: domain.TransactionStatusRefunded}, nil, 10)
	require.NoError(t, err)
	require.Len(t, refunded, 1)
	assert.Equal(t, pay.ID, refunded[0].ID)
}

func TestKeyedLocker(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "card:1", time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "card:1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ports.ErrLockTimeout)

	other, err := l.Acquire(ctx, "card:2", 20*time.Millisecond)
	require.NoError(t, err)
	other()

	release()
	release() // idempotent
	assert.Equal(t, 0, l.size())

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := l.Acquire(ctx, "card:hot", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			counter++
			mu.Unlock()
			rel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}

func TestSummaryCache(t *testing.T) {
	c := NewSummaryCache()
	id := uuid.New()
	got, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(context.Background(), &domain.OutletSummary{OutletID: id, TotalTransactions: 3}))
	got, err = c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalTransactions)
}
