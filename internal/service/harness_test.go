package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"prepaid-card-ledger/internal/adapter/storage/memory"
	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// mockTx implements pgx.Tx for mock-based tests.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// ledgerHarness wires every service against the memory backend.
type ledgerHarness struct {
	store   *memory.Store
	cards   *memory.CardRepo
	txns    *memory.TransactionRepo
	outlets *memory.OutletRepo
	locker  *memory.KeyedLocker
	events  *recordingPublisher
	audit   *AuditServiceImpl

	cardSvc       *CardServiceImpl
	ledger        *LedgerServiceImpl
	coordinator   *Coordinator
	settlementSvc *SettlementServiceImpl
	summarySvc    *SummaryServiceImpl
	outletSvc     *OutletServiceImpl

	admin *domain.Principal
}

func newLedgerHarness(t *testing.T) *ledgerHarness {
	t.Helper()
	log := newTestLogger()

	store := memory.NewStore()
	h := &ledgerHarness{
		store:   store,
		cards:   memory.NewCardRepo(store),
		txns:    memory.NewTransactionRepo(store),
		outlets: memory.NewOutletRepo(store),
		locker:  memory.NewKeyedLocker(),
		events:  &recordingPublisher{},
		audit:   NewAuditService(memory.NewAuditRepo(store), log),
		admin:   &domain.Principal{Subject: "admin-1", Role: domain.RoleAdmin},
	}
	t.Cleanup(h.audit.Wait)

	settlements := memory.NewSettlementRepo(store)
	h.ledger = NewLedgerService(h.txns, h.cards, log)
	h.summarySvc = NewSummaryService(h.txns, h.outlets, memory.NewSummaryCache(), 2, 16, log)
	h.cardSvc = NewCardService(h.cards, h.ledger, store, h.locker, h.events, h.audit,
		CardDefaults{LockTimeout: 5 * time.Second}, log)
	h.coordinator = NewCoordinator(CoordinatorDeps{
		Cards:      h.cards,
		Txns:       h.txns,
		Outlets:    h.outlets,
		IdempRepo:  memory.NewIdempotencyRepo(store),
		Ledger:     h.ledger,
		Locker:     h.locker,
		Transactor: store,
		Summary:    h.summarySvc,
		Events:     h.events,
		Audit:      h.audit,
	}, CoordinatorConfig{
		LockTimeout:    5 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   time.Millisecond,
		IdempotencyTTL: time.Hour,
	}, log)
	h.settlementSvc = NewSettlementService(h.txns, h.outlets, settlements, store, h.locker,
		h.events, h.audit, 5*time.Second, log)
	h.outletSvc = NewOutletService(h.outlets, h.txns, h.summarySvc, h.audit, time.Minute, log)
	return h
}

func (h *ledgerHarness) issue(t *testing.T, balance string) *domain.Card {
	t.Helper()
	card, err := h.cardSvc.Issue(context.Background(), h.admin, ports.IssueCardRequest{InitialBalance: dec(balance)})
	require.NoError(t, err)
	return card
}

func (h *ledgerHarness) outlet(t *testing.T) *domain.Outlet {
	t.Helper()
	o, err := h.outletSvc.Register(context.Background(), h.admin, ports.RegisterOutletRequest{
		Name:         "Campus Cafe",
		BusinessType: domain.BusinessTypeCafe,
	})
	require.NoError(t, err)
	return o
}

func (h *ledgerHarness) pay(ctx context.Context, card *domain.Card, outletID uuid.UUID, amount string) (*ports.MutationResult, error) {
	return h.coordinator.Pay(ctx, h.admin, ports.PaymentRequest{
		SecureKey: card.SecureKey,
		Amount:    dec(amount),
		OutletID:  outletID,
	})
}

func (h *ledgerHarness) balance(t *testing.T, card *domain.Card) decimal.Decimal {
	t.Helper()
	stored, err := h.cards.GetByID(context.Background(), card.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored.Balance
}

func (h *ledgerHarness) requireConsistent(t *testing.T, card *domain.Card) *domain.ReconciliationReport {
	t.Helper()
	report, err := h.ledger.Replay(context.Background(), h.admin, card.CardID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "stored %s, ledger %s", report.StoredBalance, report.LedgerBalance)
	return report
}

func outletPrincipal(id uuid.UUID) *domain.Principal {
	return &domain.Principal{Subject: "outlet-op", Role: domain.RoleOutlet, OutletID: &id}
}
