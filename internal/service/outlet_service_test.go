package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/internal/core/ports/mocks"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestOutletService_Register(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	o, err := h.outletSvc.Register(ctx, h.admin, ports.RegisterOutletRequest{
		Name:         "  Library Kiosk ",
		BusinessType: domain.BusinessTypeRetail,
		TaxID:        "TX-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "Library Kiosk", o.Name)
	assert.True(t, o.Active)

	stored, err := h.outlets.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "TX-9", stored.TaxID)
}

func TestOutletService_RegisterRejects(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	_, err := h.outletSvc.Register(ctx, h.admin, ports.RegisterOutletRequest{Name: " ", BusinessType: domain.BusinessTypeCafe})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, err = h.outletSvc.Register(ctx, h.admin, ports.RegisterOutletRequest{Name: "Bar", BusinessType: "casino"})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	other := uuid.New()
	_, err = h.outletSvc.Register(ctx, outletPrincipal(other), ports.RegisterOutletRequest{Name: "Bar", BusinessType: domain.BusinessTypeCafe})
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))
}

func TestOutletService_ListScopedToOwnOutlet(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	mine := h.outlet(t)
	h.outlet(t)

	all, err := h.outletSvc.List(ctx, h.admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := h.outletSvc.List(ctx, outletPrincipal(mine.ID))
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	_, err = h.outletSvc.List(ctx, &domain.Principal{Subject: "kiosk", Role: domain.RoleCustomer})
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))
}

func TestOutletService_GetOtherOutletForbidden(t *testing.T) {
	h := newLedgerHarness(t)
	mine := h.outlet(t)
	theirs := h.outlet(t)

	_, err := h.outletSvc.Get(context.Background(), outletPrincipal(mine.ID), theirs.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	_, err = h.outletSvc.Get(context.Background(), h.admin, uuid.New())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestOutletService_SummaryBuildsFromLedger(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100")
	o := h.outlet(t)

	_, err := h.pay(ctx, card, o.ID, "12.50")
	require.NoError(t, err)
	_, err = h.pay(ctx, card, o.ID, "7.50")
	require.NoError(t, err)

	summary, err := h.outletSvc.Summary(ctx, outletPrincipal(o.ID), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalTransactions)
	assert.True(t, summary.TotalAmount.Equal(dec("20")))
	assert.NotNil(t, summary.LastTransactionDate)
}

func TestOutletService_SummaryFallsBackWhenCacheFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	summarySvc := mocks.NewMockSummaryService(ctrl)
	id := uuid.New()
	fresh := &domain.OutletSummary{OutletID: id, LastUpdated: time.Now()}

	summarySvc.EXPECT().Get(gomock.Any(), id).Return(nil, apperror.InternalError(errors.New("redis down")))
	summarySvc.EXPECT().Refresh(gomock.Any(), id).Return(fresh, nil)

	svc := NewOutletService(mocks.NewMockOutletRepository(ctrl), mocks.NewMockTransactionRepository(ctrl),
		summarySvc, mocks.NewMockAuditService(ctrl), time.Minute, newTestLogger())
	got, err := svc.Summary(context.Background(), &domain.Principal{Subject: "root", Role: domain.RoleAdmin}, id)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func TestOutletService_SummaryRefreshesWhenStale(t *testing.T) {
	ctrl := gomock.NewController(t)
	summarySvc := mocks.NewMockSummaryService(ctrl)
	id := uuid.New()
	stale := &domain.OutletSummary{OutletID: id, LastUpdated: time.Now().Add(-time.Hour)}
	fresh := &domain.OutletSummary{OutletID: id, LastUpdated: time.Now()}

	summarySvc.EXPECT().Get(gomock.Any(), id).Return(stale, nil)
	summarySvc.EXPECT().Refresh(gomock.Any(), id).Return(fresh, nil)

	svc := NewOutletService(mocks.NewMockOutletRepository(ctrl), mocks.NewMockTransactionRepository(ctrl),
		summarySvc, mocks.NewMockAuditService(ctrl), time.Minute, newTestLogger())
	got, err := svc.Summary(context.Background(), &domain.Principal{Subject: "root", Role: domain.RoleAdmin}, id)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func TestOutletService_Today(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100")
	o := h.outlet(t)

	first, err := h.pay(ctx, card, o.ID, "30")
	require.NoError(t, err)
	_, err = h.pay(ctx, card, o.ID, "20")
	require.NoError(t, err)

	// A reversed payment drops out of both revenue and the pending amount.
	_, err = h.coordinator.Reverse(ctx, h.admin, ports.ReverseRequest{TransactionID: first.Transaction.ID})
	require.NoError(t, err)

	today, err := h.outletSvc.Today(ctx, outletPrincipal(o.ID), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DateKey(time.Now().UTC()), today.Date)
	assert.Equal(t, int64(1), today.TransactionCount)
	assert.True(t, today.Revenue.Equal(dec("20")))
	assert.True(t, today.PendingSettlement.Equal(dec("20")))

	_, err = h.settlementSvc.SettleOutlet(ctx, h.admin, o.ID)
	require.NoError(t, err)

	today, err = h.outletSvc.Today(ctx, h.admin, o.ID)
	require.NoError(t, err)
	assert.True(t, today.Revenue.Equal(dec("20")))
	assert.True(t, today.PendingSettlement.IsZero())
}

func TestAnalyticsService_System(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100")
	h.issue(t, "40")
	o := h.outlet(t)

	_, err := h.pay(ctx, card, o.ID, "25")
	require.NoError(t, err)

	svc := NewAnalyticsService(h.cards, h.txns, h.outlets)
	got, err := svc.System(ctx, h.admin)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.TotalOutlets)
	assert.Equal(t, int64(2), got.TotalCards)
	assert.Equal(t, int64(2), got.ActiveCards)
	assert.True(t, got.TotalPayments.Equal(dec("25")))
	assert.True(t, got.OutstandingFloat.Equal(dec("115")))
	require.Len(t, got.Trend, trendDays)
	last := got.Trend[trendDays-1]
	assert.Equal(t, domain.DateKey(time.Now()), last.Date)
	assert.True(t, last.Amount.Equal(dec("25")))
	assert.True(t, got.Trend[0].Amount.IsZero())

	_, err = svc.System(ctx, outletPrincipal(o.ID))
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))
}

func TestFillTrend_ZeroFillsMissingDays(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trend := fillTrend(since, []domain.DailyTotal{{Date: "2026-03-03", Count: 2, Amount: dec("9")}})

	require.Len(t, trend, trendDays)
	assert.Equal(t, "2026-03-01", trend[0].Date)
	assert.Equal(t, "2026-03-07", trend[6].Date)
	assert.Equal(t, int64(2), trend[2].Count)
	assert.True(t, trend[1].Amount.IsZero())
}
