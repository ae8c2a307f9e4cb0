package service

import (
	"context"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// trendDays is the length of the daily payment trend, today included.
const trendDays = 7

// AnalyticsServiceImpl implements ports.AnalyticsService.
type AnalyticsServiceImpl struct {
	cardRepo   ports.CardRepository
	txRepo     ports.TransactionRepository
	outletRepo ports.OutletRepository
	now        func() time.Time
}

// NewAnalyticsService creates a new AnalyticsServiceImpl.
func NewAnalyticsService(cardRepo ports.CardRepository, txRepo ports.TransactionRepository, outletRepo ports.OutletRepository) *AnalyticsServiceImpl {
	return &AnalyticsServiceImpl{
		cardRepo:   cardRepo,
		txRepo:     txRepo,
		outletRepo: outletRepo,
		now:        time.Now,
	}
}

// System builds the administrator dashboard.
func (s *AnalyticsServiceImpl) System(ctx context.Context, actor *domain.Principal) (*domain.SystemAnalytics, error) {
	if !actor.Authorize(domain.PermViewAnalytics, nil) {
		return nil, apperror.ErrForbidden()
	}

	outlets, err := s.outletRepo.Count(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("count outlets: %w", err))
	}
	cards, err := s.cardRepo.Stats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("card stats: %w", err))
	}
	totals, err := s.txRepo.Totals(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("transaction totals: %w", err))
	}

	today := domain.StartOfDay(s.now())
	since := today.AddDate(0, 0, -(trendDays - 1))
	daily, err := s.txRepo.DailyPaymentTotals(ctx, since)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("daily totals: %w", err))
	}

	return &domain.SystemAnalytics{
		TotalOutlets:      outlets,
		TotalCards:        cards.Total,
		ActiveCards:       cards.Active,
		TotalTransactions: totals.Count,
		TotalPayments:     totals.PaymentAmount,
		OutstandingFloat:  cards.OutstandingFloat,
		Trend:             fillTrend(since, daily),
	}, nil
}

// fillTrend returns one entry per day from since, zero for days without payments.
func fillTrend(since time.Time, daily []domain.DailyTotal) []domain.DailyTotal {
	byDate := make(map[string]domain.DailyTotal, len(daily))
	for _, d := range daily {
		byDate[d.Date] = d
	}

	trend := make([]domain.DailyTotal, trendDays)
	for i := range trend {
		key := domain.DateKey(since.AddDate(0, 0, i))
		if d, ok := byDate[key]; ok {
			trend[i] = d
			continue
		}
		trend[i] = domain.DailyTotal{Date: key, Amount: decimal.Zero}
	}
	return trend
}
