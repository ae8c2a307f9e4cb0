package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxIssueAttempts bounds identifier regeneration after unique collisions.
const maxIssueAttempts = 5

// CardDefaults apply to cards issued without explicit limits or expiry.
type CardDefaults struct {
	DailyLimit       decimal.Decimal
	TransactionLimit decimal.Decimal
	Validity         time.Duration // zero: no expiry
	LockTimeout      time.Duration
}

// CardServiceImpl implements ports.CardService.
type CardServiceImpl struct {
	cardRepo   ports.CardRepository
	ledger     ports.LedgerService
	transactor ports.DBTransactor
	locker     ports.Locker
	events     ports.EventPublisher
	audit      ports.AuditService
	defaults   CardDefaults
	log        zerolog.Logger
}

// NewCardService creates a new CardServiceImpl.
func NewCardService(
	cardRepo ports.CardRepository,
	ledger ports.LedgerService,
	transactor ports.DBTransactor,
	locker ports.Locker,
	events ports.EventPublisher,
	audit ports.AuditService,
	defaults CardDefaults,
	log zerolog.Logger,
) *CardServiceImpl {
	return &CardServiceImpl{
		cardRepo:   cardRepo,
		ledger:     ledger,
		transactor: transactor,
		locker:     locker,
		events:     events,
		audit:      audit,
		defaults:   defaults,
		log:        log,
	}
}

// Issue creates a card. A positive initial balance is booked as a recharge in
// the same database transaction as the card row.
func (s *CardServiceImpl) Issue(ctx context.Context, actor *domain.Principal, req ports.IssueCardRequest) (*domain.Card, error) {
	if !actor.Authorize(domain.PermIssueCard, nil) {
		return nil, apperror.ErrForbidden()
	}
	if req.InitialBalance.IsNegative() || (req.InitialBalance.IsPositive() && !domain.ValidAmount(req.InitialBalance)) {
		return nil, apperror.ErrInvalidAmount()
	}

	now := time.Now().UTC()
	dailyLimit := s.defaults.DailyLimit
	if req.DailyLimit != nil {
		dailyLimit = *req.DailyLimit
	}
	txLimit := s.defaults.TransactionLimit
	if req.TransactionLimit != nil {
		txLimit = *req.TransactionLimit
	}
	if dailyLimit.IsNegative() || txLimit.IsNegative() {
		return nil, apperror.Validation("limits must not be negative")
	}

	expiry := req.ExpiryDate
	if expiry == nil && s.defaults.Validity > 0 {
		e := now.Add(s.defaults.Validity)
		expiry = &e
	}
	if expiry != nil && !expiry.After(now) {
		return nil, apperror.Validation("expiry_date must be in the future")
	}

	var lastErr error
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		cardID, secureKey, err := domain.NewCardIdentifiers()
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("generate card identifiers: %w", err))
		}

		card := &domain.Card{
			ID:               uuid.New(),
			CardID:           cardID,
			SecureKey:        secureKey,
			Balance:          req.InitialBalance,
			Active:           true,
			DailyLimit:       dailyLimit,
			TransactionLimit: txLimit,
			ActivationDate:   now,
			ExpiryDate:       expiry,
			Metadata:         req.Metadata,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		err = s.create(ctx, card)
		if err == nil {
			s.afterIssue(ctx, actor, card, req.IPAddress)
			return card, nil
		}
		if !errors.Is(err, ports.ErrDuplicate) {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				return nil, appErr
			}
			return nil, apperror.ErrDatabaseError(err)
		}

		lastErr = err
		s.log.Warn().Int("attempt", attempt).Msg("card identifier collision, regenerating")
	}

	return nil, apperror.ErrCardKeyCollision(lastErr)
}

func (s *CardServiceImpl) create(ctx context.Context, card *domain.Card) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.cardRepo.Create(ctx, dbTx, card); err != nil {
		return err
	}

	if card.Balance.IsPositive() {
		err := s.ledger.Append(ctx, dbTx, &domain.Transaction{
			Type:        domain.TransactionTypeRecharge,
			CardID:      card.ID,
			Amount:      card.Balance,
			Status:      domain.TransactionStatusCompleted,
			Description: "initial balance",
			CreatedAt:   card.CreatedAt,
		})
		if err != nil {
			return err
		}
	}

	return dbTx.Commit(ctx)
}

func (s *CardServiceImpl) afterIssue(ctx context.Context, actor *domain.Principal, card *domain.Card, ip string) {
	s.publish(ctx, domain.EventCardIssued, card)
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        subject(actor),
		Action:       domain.AuditActionIssueCard,
		ResourceType: "card",
		ResourceID:   card.CardID,
		Details:      fmt.Sprintf(`{"initial_balance":%q}`, card.Balance.StringFixed(2)),
		IPAddress:    ip,
		CreatedAt:    card.CreatedAt,
	})
	s.log.Info().
		Str("card_id", card.CardID).
		Str("initial_balance", card.Balance.StringFixed(2)).
		Msg("card issued")
}

// Lookup resolves a card by its secure key.
func (s *CardServiceImpl) Lookup(ctx context.Context, secureKey string) (*domain.Card, error) {
	if secureKey == "" {
		return nil, apperror.ErrNotFound("Card")
	}
	card, err := s.cardRepo.GetBySecureKey(ctx, secureKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	return card, nil
}

// Get resolves a card by its external id. Customers look cards up by secure key instead.
func (s *CardServiceImpl) Get(ctx context.Context, actor *domain.Principal, cardID string) (*domain.Card, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	return s.byCardID(ctx, cardID)
}

// SetActive activates or deactivates a card.
func (s *CardServiceImpl) SetActive(ctx context.Context, actor *domain.Principal, cardID string, active bool) (*domain.Card, error) {
	action := domain.AuditActionDeactivateCard
	if active {
		action = domain.AuditActionActivateCard
	}
	return s.changeStatus(ctx, actor, cardID, action, func(c *domain.Card) {
		c.Active = active
	})
}

// Block stops a card from moving money until it is unblocked.
func (s *CardServiceImpl) Block(ctx context.Context, actor *domain.Principal, cardID string, reason string) (*domain.Card, error) {
	if reason == "" {
		reason = "blocked by administrator"
	}
	return s.changeStatus(ctx, actor, cardID, domain.AuditActionBlockCard, func(c *domain.Card) {
		c.IsBlocked = true
		c.BlockReason = reason
	})
}

// Unblock lifts a block.
func (s *CardServiceImpl) Unblock(ctx context.Context, actor *domain.Principal, cardID string) (*domain.Card, error) {
	return s.changeStatus(ctx, actor, cardID, domain.AuditActionUnblockCard, func(c *domain.Card) {
		c.IsBlocked = false
		c.BlockReason = ""
	})
}

// changeStatus applies change under the card lock so it cannot interleave with a balance mutation.
func (s *CardServiceImpl) changeStatus(ctx context.Context, actor *domain.Principal, cardID string, action domain.AuditAction, change func(*domain.Card)) (*domain.Card, error) {
	if !actor.Authorize(domain.PermManageCard, nil) {
		return nil, apperror.ErrForbidden()
	}

	card, err := s.byCardID(ctx, cardID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, cardLockKey(card.ID), s.defaults.LockTimeout)
	if err != nil {
		return nil, lockError(ctx, err)
	}
	defer release()

	card, err = s.cardRepo.GetByID(ctx, card.ID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("reload card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}

	change(card)
	if err := s.cardRepo.UpdateStatus(ctx, card.ID, card.Active, card.IsBlocked, card.BlockReason); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update card status: %w", err))
	}
	card.UpdatedAt = time.Now().UTC()

	s.publish(ctx, domain.EventCardStatusChanged, card)
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        subject(actor),
		Action:       action,
		ResourceType: "card",
		ResourceID:   card.CardID,
		CreatedAt:    card.UpdatedAt,
	})
	s.log.Info().
		Str("card_id", card.CardID).
		Bool("active", card.Active).
		Bool("blocked", card.IsBlocked).
		Msg("card status changed")
	return card, nil
}

func (s *CardServiceImpl) byCardID(ctx context.Context, cardID string) (*domain.Card, error) {
	card, err := s.cardRepo.GetByCardID(ctx, cardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	return card, nil
}

func (s *CardServiceImpl) publish(ctx context.Context, eventType string, card *domain.Card) {
	if err := s.events.Publish(ctx, domain.NewLedgerEvent(eventType, card)); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Str("card_id", card.CardID).Msg("failed to publish card event")
	}
}
