package ports

import (
	"context"
	"errors"
	"iter"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

// ErrLockTimeout is returned by Locker.Acquire when the wait bound elapses.
var ErrLockTimeout = errors.New("lock wait timed out")

// --- Infrastructure Ports ---

// Locker provides keyed mutual exclusion with a bounded wait.
type Locker interface {
	// Acquire blocks until key is held, wait elapses (ErrLockTimeout) or ctx ends.
	// The returned release must be called exactly once.
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(principal *domain.Principal) (string, time.Time, error)
	Validate(tokenString string) (*domain.Principal, error)
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached value or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SummaryCache stores outlet summaries. Get returns nil, nil on a miss.
type SummaryCache interface {
	Get(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error)
	Set(ctx context.Context, summary *domain.OutletSummary) error
}

// EventPublisher delivers ledger events. Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
}

// --- Service Ports (Business Logic) ---

// CardService is the card registry.
type CardService interface {
	Issue(ctx context.Context, actor *domain.Principal, req IssueCardRequest) (*domain.Card, error)
	Lookup(ctx context.Context, secureKey string) (*domain.Card, error)
	Get(ctx context.Context, actor *domain.Principal, cardID string) (*domain.Card, error)
	SetActive(ctx context.Context, actor *domain.Principal, cardID string, active bool) (*domain.Card, error)
	Block(ctx context.Context, actor *domain.Principal, cardID string, reason string) (*domain.Card, error)
	Unblock(ctx context.Context, actor *domain.Principal, cardID string) (*domain.Card, error)
}

// IssueCardRequest holds validated input for card issuance. Nil limits take the configured defaults.
type IssueCardRequest struct {
	InitialBalance   decimal.Decimal
	DailyLimit       *decimal.Decimal
	TransactionLimit *decimal.Decimal
	ExpiryDate       *time.Time
	Metadata         map[string]string
	IPAddress        string
}

// LedgerService is the transaction ledger.
type LedgerService interface {
	// Append validates and writes entry inside tx. It never touches balances.
	Append(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error
	// Query lazily yields matching entries newest first. Each range starts over.
	Query(ctx context.Context, filter domain.TransactionFilter) iter.Seq2[domain.Transaction, error]
	History(ctx context.Context, actor *domain.Principal, req HistoryRequest) (*HistoryPage, error)
	Get(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.TransactionView, error)
	Replay(ctx context.Context, actor *domain.Principal, cardID string) (*domain.ReconciliationReport, error)
}

// HistoryRequest selects a page of ledger history.
// Customers must present SecureKey; outlets are pinned to their own outlet.
type HistoryRequest struct {
	CardID    string
	SecureKey string
	OutletID  *uuid.UUID
	From      *time.Time
	To        *time.Time
	Type      domain.TransactionType
	Status    domain.TransactionStatus
	Cursor    string
	Limit     int
}

// HistoryPage is one page of history plus the cursor of the next page ("" when exhausted).
type HistoryPage struct {
	Items      []domain.TransactionView
	NextCursor string
}

// BalanceCoordinator is the only entry point that changes card balances.
type BalanceCoordinator interface {
	Pay(ctx context.Context, actor *domain.Principal, req PaymentRequest) (*MutationResult, error)
	TopUp(ctx context.Context, actor *domain.Principal, req TopUpRequest) (*MutationResult, error)
	Refund(ctx context.Context, actor *domain.Principal, req RefundRequest) (*MutationResult, error)
	Reverse(ctx context.Context, actor *domain.Principal, req ReverseRequest) (*MutationResult, error)
	CashOut(ctx context.Context, actor *domain.Principal, req CashOutRequest) (*MutationResult, error)
}

// PaymentRequest holds validated input for a card payment.
type PaymentRequest struct {
	SecureKey      string
	Amount         decimal.Decimal
	OutletID       uuid.UUID
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
	IPAddress      string
}

// TopUpRequest credits a card identified by SecureKey or, for administrators, CardID.
type TopUpRequest struct {
	SecureKey      string
	CardID         string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
	IPAddress      string
}

// RefundRequest credits back a completed payment. Amount nil = full refund; larger amounts are capped.
type RefundRequest struct {
	TransactionID  uuid.UUID
	Amount         *decimal.Decimal
	Reason         string
	IdempotencyKey string
	IPAddress      string
}

// ReverseRequest undoes a completed payment in full.
type ReverseRequest struct {
	TransactionID uuid.UUID
	Reason        string
	IPAddress     string
}

// CashOutRequest pays out a card balance. Amount nil = the whole balance.
type CashOutRequest struct {
	CardID    string
	Amount    *decimal.Decimal
	Reason    string
	IPAddress string
}

// MutationResult is the outcome of a balance change.
type MutationResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	CardID      string              `json:"card_id"`
	Balance     decimal.Decimal     `json:"balance"`
	Replayed    bool                `json:"replayed"` // served from the idempotency log
}

// SettlementService is the settlement engine.
type SettlementService interface {
	SettleOutlet(ctx context.Context, actor *domain.Principal, outletID uuid.UUID) (*domain.SettlementResult, error)
	Get(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.Settlement, error)
	List(ctx context.Context, actor *domain.Principal, outletID uuid.UUID) ([]domain.Settlement, error)
}

// SummaryService maintains the outlet summary projection.
type SummaryService interface {
	Refresh(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error)
	Get(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error)
	// Invalidate schedules a refresh without blocking the caller.
	Invalidate(outletID uuid.UUID)
	Rebuild(ctx context.Context) error
}

// OutletService manages outlets and their dashboard views.
type OutletService interface {
	Register(ctx context.Context, actor *domain.Principal, req RegisterOutletRequest) (*domain.Outlet, error)
	Get(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.Outlet, error)
	List(ctx context.Context, actor *domain.Principal) ([]domain.Outlet, error)
	Summary(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.OutletSummary, error)
	Today(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.OutletToday, error)
}

// RegisterOutletRequest holds validated input for outlet registration.
type RegisterOutletRequest struct {
	Name         string
	BusinessType domain.BusinessType
	Address      string
	TaxID        string
	IPAddress    string
}

// AnalyticsService builds the administrator dashboard.
type AnalyticsService interface {
	System(ctx context.Context, actor *domain.Principal) (*domain.SystemAnalytics, error)
}

// AuthService authenticates operators and manages their accounts.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
	CreateOperator(ctx context.Context, actor *domain.Principal, req CreateOperatorRequest) (*domain.Operator, error)
	// Bootstrap creates the first administrator if no operator has that username yet.
	Bootstrap(ctx context.Context, username, password string) error
}

// CreateOperatorRequest holds input for operator creation.
type CreateOperatorRequest struct {
	Username string
	Password string
	Role     domain.Role
	OutletID *uuid.UUID
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
	List(ctx context.Context, actor *domain.Principal, limit int) ([]domain.AuditLog, error)
}
