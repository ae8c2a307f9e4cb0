package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CoordinatorConfig tunes locking and retries of the balance mutation path.
type CoordinatorConfig struct {
	LockTimeout    time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	IdempotencyTTL time.Duration
}

// CoordinatorDeps groups the collaborators of the Coordinator.
// IdempotencyCache may be nil when Redis is disabled.
type CoordinatorDeps struct {
	Cards      ports.CardRepository
	Txns       ports.TransactionRepository
	Outlets    ports.OutletRepository
	IdempRepo  ports.IdempotencyRepository
	IdempCache ports.IdempotencyCache
	Ledger     ports.LedgerService
	Locker     ports.Locker
	Transactor ports.DBTransactor
	Summary    ports.SummaryService
	Events     ports.EventPublisher
	Audit      ports.AuditService
}

// Coordinator implements ports.BalanceCoordinator. Every balance change runs
// under the card's lock inside one database transaction that also appends the
// ledger entry.
type Coordinator struct {
	CoordinatorDeps
	cfg CoordinatorConfig
	now func() time.Time
	log zerolog.Logger
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Coordinator{
		CoordinatorDeps: deps,
		cfg:             cfg,
		now:             func() time.Time { return time.Now().UTC() },
		log:             log,
	}
}

// mutation describes one balance change. prepare runs under the row lock with
// the fresh card and returns the final amount, or a business error to decline.
type mutation struct {
	op          domain.TransactionType
	actor       *domain.Principal
	cardID      uuid.UUID
	amount      decimal.Decimal // requested; zero when decided by prepare
	outletID    *uuid.UUID
	referenceID *uuid.UUID
	idempKey    string
	description string
	metadata    map[string]string
	action      domain.AuditAction
	ip          string
	prepare     func(ctx context.Context, tx pgx.Tx, card *domain.Card) (decimal.Decimal, error)
}

// Pay debits a card for a purchase at an outlet.
func (c *Coordinator) Pay(ctx context.Context, actor *domain.Principal, req ports.PaymentRequest) (*ports.MutationResult, error) {
	if !actor.Authorize(domain.PermPay, &req.OutletID) {
		return nil, apperror.ErrForbidden()
	}

	card, err := c.cardBySecureKey(ctx, req.SecureKey)
	if err != nil {
		return nil, err
	}
	if reason := card.UnavailableReason(c.now()); reason != "" {
		return nil, apperror.ErrCardUnavailable(reason)
	}
	if !domain.ValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount()
	}

	outlet, err := c.Outlets.GetByID(ctx, req.OutletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find outlet: %w", err))
	}
	if outlet == nil || !outlet.Active {
		return nil, apperror.ErrNotFound("Outlet")
	}

	return c.execute(ctx, &mutation{
		op:          domain.TransactionTypePayment,
		actor:       actor,
		cardID:      card.ID,
		amount:      req.Amount,
		outletID:    &outlet.ID,
		idempKey:    idempotencyKey(domain.TransactionTypePayment, card.CardID, req.IdempotencyKey),
		description: req.Description,
		metadata:    req.Metadata,
		action:      domain.AuditActionPayment,
		ip:          req.IPAddress,
		prepare: func(ctx context.Context, tx pgx.Tx, card *domain.Card) (decimal.Decimal, error) {
			now := c.now()
			if reason := card.UnavailableReason(now); reason != "" {
				return decimal.Zero, apperror.ErrCardUnavailable(reason)
			}
			if card.State(req.Amount, now) == domain.CardStateInsufficientFunds {
				return decimal.Zero, apperror.ErrInsufficientBalance()
			}
			if card.ExceedsTransactionLimit(req.Amount) {
				return decimal.Zero, apperror.ErrLimitExceeded("Transaction")
			}
			if card.DailyLimit.IsPositive() {
				spent, err := c.Txns.SumDebitsSince(ctx, tx, card.ID, domain.StartOfDay(now))
				if err != nil {
					return decimal.Zero, fmt.Errorf("sum daily debits: %w", err)
				}
				if card.ExceedsDailyLimit(spent, req.Amount) {
					return decimal.Zero, apperror.ErrLimitExceeded("Daily")
				}
			}
			return req.Amount, nil
		},
	})
}

// TopUp credits a card. Customers present the secure key; administrators may use the card id.
func (c *Coordinator) TopUp(ctx context.Context, actor *domain.Principal, req ports.TopUpRequest) (*ports.MutationResult, error) {
	if !actor.Authorize(domain.PermTopUp, nil) {
		return nil, apperror.ErrForbidden()
	}

	var card *domain.Card
	var err error
	switch {
	case req.SecureKey != "":
		card, err = c.cardBySecureKey(ctx, req.SecureKey)
	case req.CardID != "" && actor.IsAdmin():
		card, err = c.cardByCardID(ctx, req.CardID)
	default:
		return nil, apperror.Validation("secure_key is required")
	}
	if err != nil {
		return nil, err
	}
	if reason := card.UnavailableReason(c.now()); reason != "" {
		return nil, apperror.ErrCardUnavailable(reason)
	}
	if !domain.ValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount()
	}

	return c.execute(ctx, &mutation{
		op:          domain.TransactionTypeRecharge,
		actor:       actor,
		cardID:      card.ID,
		amount:      req.Amount,
		idempKey:    idempotencyKey(domain.TransactionTypeRecharge, card.CardID, req.IdempotencyKey),
		description: req.Description,
		action:      domain.AuditActionTopUp,
		ip:          req.IPAddress,
		prepare: func(_ context.Context, _ pgx.Tx, card *domain.Card) (decimal.Decimal, error) {
			if reason := card.UnavailableReason(c.now()); reason != "" {
				return decimal.Zero, apperror.ErrCardUnavailable(reason)
			}
			return req.Amount, nil
		},
	})
}

// Refund credits back all or part of a completed payment. Amounts above the
// original are capped at the original.
func (c *Coordinator) Refund(ctx context.Context, actor *domain.Principal, req ports.RefundRequest) (*ports.MutationResult, error) {
	payment, err := c.payment(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !actor.Authorize(domain.PermRefund, payment.OutletID) {
		return nil, apperror.ErrForbidden()
	}
	if !payment.IsCorrectable() {
		return nil, apperror.ErrInvalidReference()
	}

	amount := payment.Amount
	if req.Amount != nil {
		if !domain.ValidAmount(*req.Amount) {
			return nil, apperror.ErrInvalidAmount()
		}
		amount = decimal.Min(*req.Amount, payment.Amount)
	}

	return c.execute(ctx, &mutation{
		op:          domain.TransactionTypeRefund,
		actor:       actor,
		cardID:      payment.CardID,
		amount:      amount,
		outletID:    payment.OutletID,
		referenceID: &payment.ID,
		idempKey:    idempotencyKey(domain.TransactionTypeRefund, payment.ID.String(), req.IdempotencyKey),
		description: req.Reason,
		action:      domain.AuditActionRefund,
		ip:          req.IPAddress,
		prepare: func(context.Context, pgx.Tx, *domain.Card) (decimal.Decimal, error) {
			return amount, nil
		},
	})
}

// Reverse undoes a completed payment in full. Administrators only.
func (c *Coordinator) Reverse(ctx context.Context, actor *domain.Principal, req ports.ReverseRequest) (*ports.MutationResult, error) {
	if !actor.Authorize(domain.PermReverse, nil) {
		return nil, apperror.ErrForbidden()
	}
	payment, err := c.payment(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !payment.IsCorrectable() {
		return nil, apperror.ErrInvalidReference()
	}

	return c.execute(ctx, &mutation{
		op:          domain.TransactionTypeReversal,
		actor:       actor,
		cardID:      payment.CardID,
		amount:      payment.Amount,
		outletID:    payment.OutletID,
		referenceID: &payment.ID,
		description: req.Reason,
		action:      domain.AuditActionReversal,
		ip:          req.IPAddress,
		prepare: func(context.Context, pgx.Tx, *domain.Card) (decimal.Decimal, error) {
			return payment.Amount, nil
		},
	})
}

// CashOut pays out a card balance, the whole balance when no amount is given.
// It works on blocked and inactive cards so a closed card can be emptied.
func (c *Coordinator) CashOut(ctx context.Context, actor *domain.Principal, req ports.CashOutRequest) (*ports.MutationResult, error) {
	if !actor.Authorize(domain.PermCashOut, nil) {
		return nil, apperror.ErrForbidden()
	}
	card, err := c.cardByCardID(ctx, req.CardID)
	if err != nil {
		return nil, err
	}

	requested := decimal.Zero
	if req.Amount != nil {
		if !domain.ValidAmount(*req.Amount) {
			return nil, apperror.ErrInvalidAmount()
		}
		requested = *req.Amount
	}

	return c.execute(ctx, &mutation{
		op:          domain.TransactionTypeSettlement,
		actor:       actor,
		cardID:      card.ID,
		amount:      requested,
		description: req.Reason,
		action:      domain.AuditActionCashOut,
		ip:          req.IPAddress,
		prepare: func(_ context.Context, _ pgx.Tx, card *domain.Card) (decimal.Decimal, error) {
			amount := requested
			if amount.IsZero() {
				amount = card.Balance
			}
			if !amount.IsPositive() || card.Balance.LessThan(amount) {
				return decimal.Zero, apperror.ErrInsufficientBalance()
			}
			return amount, nil
		},
	})
}

// execute runs m under the card lock, retrying storage failures with backoff.
func (c *Coordinator) execute(ctx context.Context, m *mutation) (*ports.MutationResult, error) {
	if m.idempKey != "" {
		if res, err := c.cachedResult(ctx, m); res != nil || err != nil {
			return res, err
		}
	}

	release, err := c.Locker.Acquire(ctx, cardLockKey(m.cardID), c.cfg.LockTimeout)
	if err != nil {
		return nil, lockError(ctx, err)
	}
	defer release()

	// The cache may lag; the log is authoritative once the lock is held.
	if m.idempKey != "" {
		if res, err := c.loggedResult(ctx, m); res != nil || err != nil {
			return res, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.apply(ctx, m)
		if err == nil {
			c.afterCommit(ctx, m, res)
			return res, nil
		}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			if isDecline(appErr.Kind) && m.amount.IsPositive() {
				c.recordFailed(ctx, m, m.amount, appErr.Message)
			}
			return nil, appErr
		}
		if ctx.Err() != nil {
			return nil, apperror.ErrCanceled(ctx.Err())
		}

		lastErr = err
		c.log.Warn().Err(err).
			Str("op", string(m.op)).
			Str("card_id", m.cardID.String()).
			Int("attempt", attempt).
			Msg("balance mutation failed, retrying")

		if attempt < c.cfg.MaxAttempts {
			if err := sleepCtx(ctx, c.cfg.RetryBackoff<<(attempt-1)); err != nil {
				return nil, apperror.ErrCanceled(err)
			}
		}
	}

	if m.amount.IsPositive() {
		c.recordFailed(ctx, m, m.amount, "storage failure: "+lastErr.Error())
	}
	c.log.Error().Err(lastErr).
		Str("op", string(m.op)).
		Str("card_id", m.cardID.String()).
		Int("attempts", c.cfg.MaxAttempts).
		Msg("balance mutation abandoned")
	return nil, apperror.ErrStorageFailure(lastErr)
}

// apply performs one attempt in its own database transaction.
func (c *Coordinator) apply(ctx context.Context, m *mutation) (*ports.MutationResult, error) {
	dbTx, err := c.Transactor.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := c.Cards.GetByIDForUpdate(ctx, dbTx, m.cardID)
	if err != nil {
		return nil, fmt.Errorf("lock card: %w", err)
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}

	amount, err := m.prepare(ctx, dbTx, card)
	if err != nil {
		return nil, err
	}

	newBalance := card.Balance.Add(amount)
	if m.op.IsDebit() {
		newBalance = card.Balance.Sub(amount)
	}
	if newBalance.IsNegative() {
		return nil, apperror.ErrInsufficientBalance()
	}

	now := c.now()
	entry := &domain.Transaction{
		ID:          uuid.New(),
		Type:        m.op,
		CardID:      card.ID,
		Amount:      amount,
		Status:      domain.TransactionStatusCompleted,
		OutletID:    m.outletID,
		ReferenceID: m.referenceID,
		Description: m.description,
		Metadata:    m.metadata,
		CreatedAt:   now,
	}
	if m.idempKey != "" {
		key := m.idempKey
		entry.IdempotencyKey = &key
	}

	if err := c.Ledger.Append(ctx, dbTx, entry); err != nil {
		return nil, err
	}
	if err := c.Cards.UpdateBalance(ctx, dbTx, card.ID, newBalance, now); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if m.idempKey != "" {
		log := &domain.IdempotencyLog{Key: m.idempKey, TransactionID: entry.ID, CreatedAt: now}
		if err := c.IdempRepo.Create(ctx, dbTx, log); err != nil {
			return nil, fmt.Errorf("save idempotency log: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &ports.MutationResult{
		Transaction: entry,
		CardID:      card.CardID,
		Balance:     newBalance,
	}, nil
}

// recordFailed writes a failed entry for the record. It never changes the balance.
func (c *Coordinator) recordFailed(ctx context.Context, m *mutation, amount decimal.Decimal, reason string) {
	ctx = context.WithoutCancel(ctx)

	entry := &domain.Transaction{
		ID:            uuid.New(),
		Type:          m.op,
		CardID:        m.cardID,
		Amount:        amount,
		Status:        domain.TransactionStatusFailed,
		OutletID:      m.outletID,
		ReferenceID:   m.referenceID,
		Description:   m.description,
		Metadata:      m.metadata,
		FailureReason: reason,
		CreatedAt:     c.now(),
	}

	err := func() error {
		dbTx, err := c.Transactor.Begin(ctx)
		if err != nil {
			return err
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck
		if err := c.Ledger.Append(ctx, dbTx, entry); err != nil {
			return err
		}
		return dbTx.Commit(ctx)
	}()
	if err != nil {
		c.log.Error().Err(err).
			Str("op", string(m.op)).
			Str("card_id", m.cardID.String()).
			Msg("failed to record failed transaction")
		return
	}

	c.publish(ctx, domain.EventTransactionFailed, entry)
	c.log.Info().
		Str("tx_id", entry.ID.String()).
		Str("op", string(m.op)).
		Str("amount", amount.StringFixed(2)).
		Str("reason", reason).
		Msg("transaction declined")
}

func (c *Coordinator) afterCommit(ctx context.Context, m *mutation, res *ports.MutationResult) {
	entry := res.Transaction

	if m.idempKey != "" && c.IdempCache != nil {
		if raw, err := json.Marshal(res); err == nil {
			if err := c.IdempCache.Set(ctx, m.idempKey, raw, c.cfg.IdempotencyTTL); err != nil {
				c.log.Warn().Err(err).Str("key", m.idempKey).Msg("failed to cache idempotency result in Redis")
			}
		}
	}

	if entry.OutletID != nil && c.Summary != nil {
		c.Summary.Invalidate(*entry.OutletID)
	}
	c.publish(ctx, domain.EventTransactionCompleted, entry)

	if c.Audit != nil {
		c.Audit.Log(ctx, &domain.AuditLog{
			ID:           uuid.New(),
			Actor:        subject(m.actor),
			Action:       m.action,
			ResourceType: "transaction",
			ResourceID:   entry.ID.String(),
			IPAddress:    m.ip,
			CreatedAt:    entry.CreatedAt,
		})
	}

	c.log.Info().
		Str("tx_id", entry.ID.String()).
		Str("type", string(entry.Type)).
		Str("card_id", res.CardID).
		Str("amount", entry.Amount.StringFixed(2)).
		Str("balance", res.Balance.StringFixed(2)).
		Msg("transaction completed")
}

func (c *Coordinator) publish(ctx context.Context, eventType string, entry *domain.Transaction) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, domain.NewLedgerEvent(eventType, entry)); err != nil {
		c.log.Warn().Err(err).Str("event", eventType).Str("tx_id", entry.ID.String()).Msg("failed to publish ledger event")
	}
}

// cachedResult is the Redis fast path. A broken cache only costs a DB lookup.
func (c *Coordinator) cachedResult(ctx context.Context, m *mutation) (*ports.MutationResult, error) {
	if c.IdempCache == nil {
		return nil, nil
	}
	raw, err := c.IdempCache.Get(ctx, m.idempKey)
	if err != nil {
		c.log.Warn().Err(err).Str("key", m.idempKey).Msg("idempotency cache lookup failed")
		return nil, nil
	}
	if raw == nil {
		return nil, nil
	}

	var res ports.MutationResult
	if err := json.Unmarshal(raw, &res); err != nil || res.Transaction == nil {
		return nil, nil
	}
	if err := checkSameRequest(m, res.Transaction); err != nil {
		return nil, err
	}
	res.Replayed = true
	return &res, nil
}

// loggedResult replays from the idempotency log.
func (c *Coordinator) loggedResult(ctx context.Context, m *mutation) (*ports.MutationResult, error) {
	log, err := c.IdempRepo.Get(ctx, m.idempKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check idempotency: %w", err))
	}
	if log == nil {
		return nil, nil
	}

	entry, err := c.Txns.GetByID(ctx, log.TransactionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find transaction: %w", err))
	}
	if entry == nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency log %s points at missing transaction", m.idempKey))
	}
	if err := checkSameRequest(m, entry); err != nil {
		return nil, err
	}

	card, err := c.Cards.GetByID(ctx, entry.CardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}

	return &ports.MutationResult{
		Transaction: entry,
		CardID:      card.CardID,
		Balance:     card.Balance,
		Replayed:    true,
	}, nil
}

func checkSameRequest(m *mutation, entry *domain.Transaction) error {
	if entry.Type != m.op || (m.amount.IsPositive() && !entry.Amount.Equal(m.amount)) {
		return apperror.ErrDuplicateTransaction()
	}
	return nil
}

func (c *Coordinator) cardBySecureKey(ctx context.Context, secureKey string) (*domain.Card, error) {
	card, err := c.Cards.GetBySecureKey(ctx, secureKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	return card, nil
}

func (c *Coordinator) cardByCardID(ctx context.Context, cardID string) (*domain.Card, error) {
	card, err := c.Cards.GetByCardID(ctx, cardID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	return card, nil
}

func (c *Coordinator) payment(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := c.Txns.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find transaction: %w", err))
	}
	if t == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}
	return t, nil
}

func idempotencyKey(op domain.TransactionType, scope, clientKey string) string {
	if clientKey == "" {
		return ""
	}
	return domain.BuildIdempotencyKey(op, scope, clientKey)
}

func cardLockKey(id uuid.UUID) string { return "card:" + id.String() }

func outletLockKey(id uuid.UUID) string { return "outlet:" + id.String() }

// isDecline reports whether a business rejection leaves a failed entry behind.
func isDecline(kind apperror.Kind) bool {
	return kind == apperror.KindInsufficientBalance || kind == apperror.KindLimitExceeded
}

func lockError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ports.ErrLockTimeout):
		return apperror.ErrBusy(err)
	case ctx.Err() != nil:
		return apperror.ErrCanceled(ctx.Err())
	default:
		return apperror.ErrStorageFailure(fmt.Errorf("acquire lock: %w", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func subject(p *domain.Principal) string {
	if p == nil {
		return ""
	}
	return p.Subject
}
