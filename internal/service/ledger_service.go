package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	queryPageSize       = 200
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	txRepo   ports.TransactionRepository
	cardRepo ports.CardRepository
	pageSize int
	log      zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(txRepo ports.TransactionRepository, cardRepo ports.CardRepository, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		txRepo:   txRepo,
		cardRepo: cardRepo,
		pageSize: queryPageSize,
		log:      log,
	}
}

// Append validates entry and writes it inside tx.
// Storage errors are returned unwrapped so the caller can retry them.
func (s *LedgerServiceImpl) Append(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error {
	if !entry.Type.Valid() {
		return apperror.Validation(fmt.Sprintf("unknown transaction type %q", entry.Type))
	}
	if !domain.ValidAmount(entry.Amount) {
		return apperror.ErrInvalidAmount()
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = domain.TransactionStatusCompleted
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if entry.Type.IsCorrection() {
		if entry.ReferenceID == nil {
			return apperror.ErrInvalidReference()
		}
		// Failed corrections are written for the record only.
		if entry.Status != domain.TransactionStatusFailed {
			if err := s.checkCorrectable(ctx, tx, entry); err != nil {
				return err
			}
		}
	} else if entry.ReferenceID != nil {
		return apperror.Validation("only refunds and reversals may reference a transaction")
	}

	if err := s.txRepo.Create(ctx, tx, entry); err != nil {
		if entry.Type.IsCorrection() && errors.Is(err, ports.ErrDuplicate) {
			return apperror.ErrAlreadyRefunded()
		}
		return err
	}
	return nil
}

func (s *LedgerServiceImpl) checkCorrectable(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error {
	ref, err := s.txRepo.GetByIDForUpdate(ctx, tx, *entry.ReferenceID)
	if err != nil {
		return err
	}
	if ref == nil || !ref.IsCorrectable() || ref.CardID != entry.CardID {
		return apperror.ErrInvalidReference()
	}
	if entry.Amount.GreaterThan(ref.Amount) {
		return apperror.ErrInvalidAmount()
	}

	corrections, err := s.txRepo.Corrections(ctx, tx, ref.ID)
	if err != nil {
		return err
	}
	if domain.ResolveStatus(ref, corrections) != domain.TransactionStatusCompleted {
		return apperror.ErrAlreadyRefunded()
	}

	settled, err := s.txRepo.IsSettled(ctx, tx, ref.ID)
	if err != nil {
		return err
	}
	if settled {
		return apperror.ErrInvalidReference()
	}
	return nil
}

// Query yields matching entries newest first, fetching one keyset page at a time.
func (s *LedgerServiceImpl) Query(ctx context.Context, filter domain.TransactionFilter) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		var after *domain.Cursor
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			page, err := s.txRepo.List(ctx, filter, after, s.pageSize)
			if err != nil {
				yield(domain.Transaction{}, fmt.Errorf("list transactions: %w", err))
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// History returns one page of the ledger as the actor is allowed to see it.
func (s *LedgerServiceImpl) History(ctx context.Context, actor *domain.Principal, req ports.HistoryRequest) (*ports.HistoryPage, error) {
	filter, err := s.historyFilter(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var after *domain.Cursor
	if req.Cursor != "" {
		after, err = domain.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, apperror.Validation("invalid cursor")
		}
	}

	txns, err := s.txRepo.List(ctx, filter, after, limit+1)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list transactions: %w", err))
	}

	page := &ports.HistoryPage{}
	if len(txns) > limit {
		txns = txns[:limit]
		last := txns[limit-1]
		page.NextCursor = domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}

	page.Items, err = s.views(ctx, txns)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *LedgerServiceImpl) historyFilter(ctx context.Context, actor *domain.Principal, req ports.HistoryRequest) (domain.TransactionFilter, error) {
	filter := domain.TransactionFilter{
		From:   req.From,
		To:     req.To,
		Type:   req.Type,
		Status: req.Status,
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, apperror.Validation("invalid transaction type")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, apperror.Validation("invalid transaction status")
	}

	if actor == nil {
		return filter, apperror.ErrForbidden()
	}

	switch actor.Role {
	case domain.RoleCustomer:
		if req.SecureKey == "" {
			return filter, apperror.Validation("secure_key is required")
		}
		card, err := s.cardRepo.GetBySecureKey(ctx, req.SecureKey)
		if err != nil {
			return filter, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
		}
		if card == nil {
			return filter, apperror.ErrNotFound("Card")
		}
		if req.CardID != "" && req.CardID != card.CardID {
			return filter, apperror.ErrForbidden()
		}
		filter.CardID = &card.ID
		filter.OutletID = req.OutletID

	case domain.RoleOutlet:
		if req.OutletID != nil && (actor.OutletID == nil || *req.OutletID != *actor.OutletID) {
			return filter, apperror.ErrForbidden()
		}
		filter.OutletID = actor.OutletID

	default:
		filter.OutletID = req.OutletID
	}

	if !actor.Authorize(domain.PermViewHistory, filter.OutletID) {
		return filter, apperror.ErrForbidden()
	}

	if req.CardID != "" && filter.CardID == nil {
		card, err := s.cardRepo.GetByCardID(ctx, req.CardID)
		if err != nil {
			return filter, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
		}
		if card == nil {
			return filter, apperror.ErrNotFound("Card")
		}
		filter.CardID = &card.ID
	}
	return filter, nil
}

// Get returns a single entry with its resolved status.
func (s *LedgerServiceImpl) Get(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.TransactionView, error) {
	t, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find transaction: %w", err))
	}
	if t == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}

	if !actor.IsAdmin() {
		// Outlets see entries booked at their outlet; customers go through History.
		if actor == nil || actor.Role != domain.RoleOutlet || t.OutletID == nil ||
			!actor.Authorize(domain.PermViewHistory, t.OutletID) {
			return nil, apperror.ErrForbidden()
		}
	}

	views, err := s.views(ctx, []domain.Transaction{*t})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Replay recomputes the card balance from its completed entries.
func (s *LedgerServiceImpl) Replay(ctx context.Context, actor *domain.Principal, cardID string) (*domain.ReconciliationReport, error) {
	if !actor.Authorize(domain.PermReconcile, nil) {
		return nil, apperror.ErrForbidden()
	}

	card, err := s.cardRepo.GetByCardID(ctx, cardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}

	report := &domain.ReconciliationReport{
		CardID:        card.CardID,
		StoredBalance: card.Balance,
		LedgerBalance: decimal.Zero,
	}
	for t, err := range s.Query(ctx, domain.TransactionFilter{CardID: &card.ID}) {
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		switch t.Status {
		case domain.TransactionStatusCompleted:
			report.CompletedCount++
		case domain.TransactionStatusFailed:
			report.FailedCount++
		default:
			report.PendingCount++
		}
		report.LedgerBalance = report.LedgerBalance.Add(t.SignedAmount())
	}

	report.Drift = report.StoredBalance.Sub(report.LedgerBalance)
	report.Consistent = report.Drift.IsZero()
	report.ReconciledAt = time.Now().UTC()

	if !report.Consistent {
		s.log.Error().
			Str("card_id", card.CardID).
			Str("stored", report.StoredBalance.StringFixed(2)).
			Str("ledger", report.LedgerBalance.StringFixed(2)).
			Msg("card balance drifted from ledger")
	}
	return report, nil
}

// views resolves derived statuses for a batch of entries with one corrections lookup.
func (s *LedgerServiceImpl) views(ctx context.Context, txns []domain.Transaction) ([]domain.TransactionView, error) {
	var paymentIDs []uuid.UUID
	for i := range txns {
		if txns[i].IsCorrectable() {
			paymentIDs = append(paymentIDs, txns[i].ID)
		}
	}

	byPayment := make(map[uuid.UUID][]domain.Transaction)
	if len(paymentIDs) > 0 {
		corrections, err := s.txRepo.ListCorrections(ctx, paymentIDs)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("list corrections: %w", err))
		}
		for _, c := range corrections {
			if c.ReferenceID != nil {
				byPayment[*c.ReferenceID] = append(byPayment[*c.ReferenceID], c)
			}
		}
	}

	views := make([]domain.TransactionView, len(txns))
	for i := range txns {
		views[i] = domain.TransactionView{
			Transaction:    txns[i],
			ResolvedStatus: domain.ResolveStatus(&txns[i], byPayment[txns[i].ID]),
		}
	}
	return views, nil
}
