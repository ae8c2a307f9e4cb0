package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SummaryServiceImpl implements ports.SummaryService. Invalidations are
// deduplicated per outlet and drained by a fixed pool of workers.
type SummaryServiceImpl struct {
	txRepo     ports.TransactionRepository
	outletRepo ports.OutletRepository
	cache      ports.SummaryCache
	workers    int
	log        zerolog.Logger

	queue   chan uuid.UUID
	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

// NewSummaryService creates a new SummaryServiceImpl. Call Start to run its workers.
func NewSummaryService(
	txRepo ports.TransactionRepository,
	outletRepo ports.OutletRepository,
	cache ports.SummaryCache,
	workers, queueSize int,
	log zerolog.Logger,
) *SummaryServiceImpl {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &SummaryServiceImpl{
		txRepo:     txRepo,
		outletRepo: outletRepo,
		cache:      cache,
		workers:    workers,
		log:        log,
		queue:      make(chan uuid.UUID, queueSize),
		pending:    make(map[uuid.UUID]struct{}),
	}
}

// Start launches the refresh workers. They exit when ctx is done; Wait blocks until they have.
func (s *SummaryServiceImpl) Start(ctx context.Context) {
	for range s.workers {
		s.wg.Add(1)
		go s.work(ctx)
	}
}

// Wait blocks until every worker has exited.
func (s *SummaryServiceImpl) Wait() {
	s.wg.Wait()
}

func (s *SummaryServiceImpl) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			// Cleared first so an invalidation during the refresh queues another one.
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()

			if _, err := s.Refresh(ctx, id); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("outlet_id", id.String()).Msg("summary refresh failed")
			}
		}
	}
}

// Invalidate queues a refresh of the outlet summary. It never blocks: when the
// queue is full the refresh is dropped and the summary is rebuilt on its next stale read.
func (s *SummaryServiceImpl) Invalidate(outletID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[outletID]; ok {
		return
	}
	select {
	case s.queue <- outletID:
		s.pending[outletID] = struct{}{}
	default:
		s.log.Warn().Str("outlet_id", outletID.String()).Msg("summary queue full, refresh dropped")
	}
}

// Refresh recomputes the summary from the ledger and overwrites the cached copy.
func (s *SummaryServiceImpl) Refresh(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error) {
	outlet, err := s.outletRepo.GetByID(ctx, outletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find outlet: %w", err))
	}
	if outlet == nil {
		return nil, apperror.ErrNotFound("Outlet")
	}

	agg, err := s.txRepo.AggregateOutlet(ctx, outletID, nil)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("aggregate outlet: %w", err))
	}

	summary := &domain.OutletSummary{
		OutletID:            outletID,
		TotalTransactions:   agg.Count,
		TotalAmount:         agg.Total,
		LastTransactionDate: agg.LastTransactionDate,
		LastUpdated:         time.Now().UTC(),
	}
	if err := s.cache.Set(ctx, summary); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("store summary: %w", err))
	}

	s.log.Debug().
		Str("outlet_id", outletID.String()).
		Int64("total_transactions", summary.TotalTransactions).
		Msg("summary refreshed")
	return summary, nil
}

// Get returns the cached summary as is.
func (s *SummaryServiceImpl) Get(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error) {
	summary, err := s.cache.Get(ctx, outletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load summary: %w", err))
	}
	if summary == nil {
		return nil, apperror.ErrNotFound("Summary")
	}
	return summary, nil
}

// Rebuild refreshes every outlet, continuing past individual failures.
func (s *SummaryServiceImpl) Rebuild(ctx context.Context) error {
	outlets, err := s.outletRepo.List(ctx, false)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("list outlets: %w", err))
	}

	var errs []error
	for _, o := range outlets {
		if _, err := s.Refresh(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("outlet %s: %w", o.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.log.Info().Int("outlets", len(outlets)).Msg("summaries rebuilt")
	return nil
}
