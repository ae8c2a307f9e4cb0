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
)

// SettlementServiceImpl implements ports.SettlementService.
//
// A run claims the outlet's eligible payments into a pending batch in one
// database transaction, then walks the batch through processing to completed.
// Claimed payments stay linked unless the batch ends up failed.
type SettlementServiceImpl struct {
	txRepo         ports.TransactionRepository
	outletRepo     ports.OutletRepository
	settlementRepo ports.SettlementRepository
	transactor     ports.DBTransactor
	locker         ports.Locker
	events         ports.EventPublisher
	audit          ports.AuditService
	lockTimeout    time.Duration
	log            zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	txRepo ports.TransactionRepository,
	outletRepo ports.OutletRepository,
	settlementRepo ports.SettlementRepository,
	transactor ports.DBTransactor,
	locker ports.Locker,
	events ports.EventPublisher,
	audit ports.AuditService,
	lockTimeout time.Duration,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		txRepo:         txRepo,
		outletRepo:     outletRepo,
		settlementRepo: settlementRepo,
		transactor:     transactor,
		locker:         locker,
		events:         events,
		audit:          audit,
		lockTimeout:    lockTimeout,
		log:            log,
	}
}

// SettleOutlet batches every unsettled completed payment of the outlet.
func (s *SettlementServiceImpl) SettleOutlet(ctx context.Context, actor *domain.Principal, outletID uuid.UUID) (*domain.SettlementResult, error) {
	if !actor.Authorize(domain.PermSettle, &outletID) {
		return nil, apperror.ErrForbidden()
	}

	outlet, err := s.outletRepo.GetByID(ctx, outletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find outlet: %w", err))
	}
	if outlet == nil {
		return nil, apperror.ErrNotFound("Outlet")
	}

	release, err := s.locker.Acquire(ctx, outletLockKey(outletID), s.lockTimeout)
	if err != nil {
		return nil, lockError(ctx, err)
	}
	defer release()

	settlement, err := s.claim(ctx, outletID)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		if ctx.Err() != nil {
			return nil, apperror.ErrCanceled(ctx.Err())
		}
		return nil, apperror.ErrStorageFailure(err)
	}
	if settlement == nil {
		s.log.Debug().Str("outlet_id", outletID.String()).Msg("no pending transactions to settle")
		return &domain.SettlementResult{NoPendingTransactions: true}, nil
	}

	if err := s.finalize(ctx, settlement); err != nil {
		s.fail(ctx, settlement, err)
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.ErrStorageFailure(err)
	}

	s.publish(ctx, domain.EventSettlementCompleted, settlement)
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        subject(actor),
		Action:       domain.AuditActionSettle,
		ResourceType: "settlement",
		ResourceID:   settlement.ID.String(),
		Details:      fmt.Sprintf(`{"reference":%q,"amount":%q}`, settlement.Reference, settlement.Amount.StringFixed(2)),
		CreatedAt:    time.Now().UTC(),
	})
	s.log.Info().
		Str("settlement_id", settlement.ID.String()).
		Str("reference", settlement.Reference).
		Str("outlet_id", outletID.String()).
		Str("amount", settlement.Amount.StringFixed(2)).
		Int("transactions", len(settlement.TransactionIDs)).
		Msg("outlet settled")

	return &domain.SettlementResult{Settlement: settlement}, nil
}

// claim locks the outlet's eligible payments and links them to a new pending batch.
// It returns nil when nothing is eligible.
func (s *SettlementServiceImpl) claim(ctx context.Context, outletID uuid.UUID) (*domain.Settlement, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	outlet, err := s.outletRepo.GetByIDForUpdate(ctx, dbTx, outletID)
	if err != nil {
		return nil, fmt.Errorf("lock outlet: %w", err)
	}
	if outlet == nil {
		return nil, apperror.ErrNotFound("Outlet")
	}

	payments, err := s.txRepo.ListUnsettledForUpdate(ctx, dbTx, outletID)
	if err != nil {
		return nil, fmt.Errorf("list unsettled payments: %w", err)
	}
	if len(payments) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ids := make([]uuid.UUID, len(payments))
	for i := range payments {
		ids[i] = payments[i].ID
	}
	settlement := &domain.Settlement{
		ID:             uuid.New(),
		Reference:      domain.NewSettlementReference(now),
		OutletID:       outletID,
		Amount:         domain.SumAmounts(payments),
		Status:         domain.SettlementStatusPending,
		TransactionIDs: ids,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.settlementRepo.Create(ctx, dbTx, settlement); err != nil {
		return nil, fmt.Errorf("create settlement: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}
	return settlement, nil
}

// finalize moves a claimed batch to completed once its items add up.
func (s *SettlementServiceImpl) finalize(ctx context.Context, settlement *domain.Settlement) error {
	if err := s.transition(ctx, settlement, domain.SettlementStatusProcessing, nil, ""); err != nil {
		return err
	}

	total, err := s.settlementRepo.ItemsTotal(ctx, settlement.ID)
	if err != nil {
		return fmt.Errorf("sum settlement items: %w", err)
	}
	if !total.Equal(settlement.Amount) {
		s.log.Error().
			Str("settlement_id", settlement.ID.String()).
			Str("amount", settlement.Amount.StringFixed(2)).
			Str("items_total", total.StringFixed(2)).
			Msg("settlement amount mismatch")
		return apperror.ErrSettlementMismatch()
	}

	now := time.Now().UTC()
	return s.transition(ctx, settlement, domain.SettlementStatusCompleted, &now, "")
}

// fail marks the batch failed, releasing its payments for the next run.
// It outlives ctx so a canceled request does not strand a processing batch.
func (s *SettlementServiceImpl) fail(ctx context.Context, settlement *domain.Settlement, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.transition(ctx, settlement, domain.SettlementStatusFailed, nil, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("settlement_id", settlement.ID.String()).Msg("failed to mark settlement failed")
		return
	}
	s.publish(ctx, domain.EventSettlementFailed, settlement)
	s.log.Warn().Err(cause).
		Str("settlement_id", settlement.ID.String()).
		Str("outlet_id", settlement.OutletID.String()).
		Msg("settlement failed")
}

func (s *SettlementServiceImpl) transition(ctx context.Context, settlement *domain.Settlement, next domain.SettlementStatus, date *time.Time, reason string) error {
	if !settlement.Status.CanTransition(next) {
		return apperror.ErrInvalidSettlementTransition(string(settlement.Status), string(next))
	}
	if err := s.settlementRepo.UpdateStatus(ctx, settlement.ID, next, date, reason); err != nil {
		return fmt.Errorf("update settlement status: %w", err)
	}
	settlement.Status = next
	settlement.SettlementDate = date
	settlement.FailureReason = reason
	settlement.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns one settlement batch.
func (s *SettlementServiceImpl) Get(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.Settlement, error) {
	settlement, err := s.settlementRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find settlement: %w", err))
	}
	if settlement == nil {
		return nil, apperror.ErrNotFound("Settlement")
	}
	if !actor.Authorize(domain.PermViewSettlement, &settlement.OutletID) {
		return nil, apperror.ErrForbidden()
	}
	return settlement, nil
}

// List returns the outlet's settlement batches, newest first.
func (s *SettlementServiceImpl) List(ctx context.Context, actor *domain.Principal, outletID uuid.UUID) ([]domain.Settlement, error) {
	if !actor.Authorize(domain.PermViewSettlement, &outletID) {
		return nil, apperror.ErrForbidden()
	}
	settlements, err := s.settlementRepo.ListByOutlet(ctx, outletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list settlements: %w", err))
	}
	return settlements, nil
}

func (s *SettlementServiceImpl) publish(ctx context.Context, eventType string, settlement *domain.Settlement) {
	if err := s.events.Publish(ctx, domain.NewLedgerEvent(eventType, settlement)); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Str("settlement_id", settlement.ID.String()).Msg("failed to publish settlement event")
	}
}

// Scheduler settles every active outlet on a fixed interval.
type Scheduler struct {
	settlements ports.SettlementService
	outlets     ports.OutletRepository
	interval    time.Duration
	log         zerolog.Logger
}

// NewScheduler creates a settlement scheduler. A zero interval disables Run.
func NewScheduler(settlements ports.SettlementService, outlets ports.OutletRepository, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		settlements: settlements,
		outlets:     outlets,
		interval:    interval,
		log:         log,
	}
}

// Run blocks, settling on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("settlement scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("settlement scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("settlement run failed")
			}
		}
	}
}

// RunOnce settles every active outlet and returns how many batches completed.
// A failing outlet is logged and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	outlets, err := s.outlets.List(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list outlets: %w", err)
	}

	settled := 0
	system := domain.SystemPrincipal()
	for _, o := range outlets {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		res, err := s.settlements.SettleOutlet(ctx, system, o.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("outlet_id", o.ID.String()).Msg("scheduled settlement failed")
			continue
		}
		if res.Settlement != nil {
			settled++
		}
	}
	return settled, nil
}
