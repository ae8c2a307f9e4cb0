package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutletServiceImpl implements ports.OutletService.
type OutletServiceImpl struct {
	outletRepo ports.OutletRepository
	txRepo     ports.TransactionRepository
	summary    ports.SummaryService
	audit      ports.AuditService
	staleAfter time.Duration
	log        zerolog.Logger
}

// NewOutletService creates a new OutletServiceImpl. Cached summaries older
// than staleAfter are recomputed on read.
func NewOutletService(
	outletRepo ports.OutletRepository,
	txRepo ports.TransactionRepository,
	summary ports.SummaryService,
	audit ports.AuditService,
	staleAfter time.Duration,
	log zerolog.Logger,
) *OutletServiceImpl {
	return &OutletServiceImpl{
		outletRepo: outletRepo,
		txRepo:     txRepo,
		summary:    summary,
		audit:      audit,
		staleAfter: staleAfter,
		log:        log,
	}
}

// Register creates an active outlet.
func (s *OutletServiceImpl) Register(ctx context.Context, actor *domain.Principal, req ports.RegisterOutletRequest) (*domain.Outlet, error) {
	if !actor.Authorize(domain.PermManageOutlet, nil) {
		return nil, apperror.ErrForbidden()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.Validation("name is required")
	}
	if !req.BusinessType.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unsupported business type %q", req.BusinessType))
	}

	outlet := &domain.Outlet{
		ID:           uuid.New(),
		Name:         name,
		BusinessType: req.BusinessType,
		Address:      req.Address,
		TaxID:        req.TaxID,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.outletRepo.Create(ctx, outlet); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create outlet: %w", err))
	}

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        subject(actor),
		Action:       domain.AuditActionCreateOutlet,
		ResourceType: "outlet",
		ResourceID:   outlet.ID.String(),
		IPAddress:    req.IPAddress,
		CreatedAt:    outlet.CreatedAt,
	})
	s.log.Info().Str("outlet_id", outlet.ID.String()).Str("name", outlet.Name).Msg("outlet registered")
	return outlet, nil
}

// Get returns one outlet.
func (s *OutletServiceImpl) Get(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.Outlet, error) {
	if !actor.Authorize(domain.PermViewOutlet, &id) {
		return nil, apperror.ErrForbidden()
	}
	return s.outlet(ctx, id)
}

// List returns every outlet to administrators and its own outlet to an outlet operator.
func (s *OutletServiceImpl) List(ctx context.Context, actor *domain.Principal) ([]domain.Outlet, error) {
	if actor != nil && actor.Role == domain.RoleOutlet && actor.OutletID != nil {
		o, err := s.Get(ctx, actor, *actor.OutletID)
		if err != nil {
			return nil, err
		}
		return []domain.Outlet{*o}, nil
	}
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}

	outlets, err := s.outletRepo.List(ctx, false)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list outlets: %w", err))
	}
	return outlets, nil
}

// Summary returns the outlet summary, recomputing it when missing or stale.
func (s *OutletServiceImpl) Summary(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.OutletSummary, error) {
	if !actor.Authorize(domain.PermViewSummary, &id) {
		return nil, apperror.ErrForbidden()
	}

	summary, err := s.summary.Get(ctx, id)
	switch {
	case apperror.IsKind(err, apperror.KindNotFound):
		return s.summary.Refresh(ctx, id)
	case err != nil:
		// The projection is rebuildable; fall back to the ledger.
		s.log.Warn().Err(err).Str("outlet_id", id.String()).Msg("summary cache unavailable")
		return s.summary.Refresh(ctx, id)
	case summary.IsStale(time.Now(), s.staleAfter):
		return s.summary.Refresh(ctx, id)
	}
	return summary, nil
}

// Today reports the current UTC day's completed payments and the amount awaiting settlement.
func (s *OutletServiceImpl) Today(ctx context.Context, actor *domain.Principal, id uuid.UUID) (*domain.OutletToday, error) {
	if !actor.Authorize(domain.PermViewOutlet, &id) {
		return nil, apperror.ErrForbidden()
	}
	if _, err := s.outlet(ctx, id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	since := domain.StartOfDay(now)
	agg, err := s.txRepo.AggregateOutlet(ctx, id, &since)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("aggregate outlet: %w", err))
	}
	pending, err := s.txRepo.UnsettledTotal(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("unsettled total: %w", err))
	}

	return &domain.OutletToday{
		OutletID:          id,
		Date:              domain.DateKey(now),
		TransactionCount:  agg.Count,
		Revenue:           agg.Total,
		PendingSettlement: pending,
	}, nil
}

func (s *OutletServiceImpl) outlet(ctx context.Context, id uuid.UUID) (*domain.Outlet, error) {
	o, err := s.outletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find outlet: %w", err))
	}
	if o == nil {
		return nil, apperror.ErrNotFound("Outlet")
	}
	return o, nil
}
