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

func TestSettleOutlet_BatchesPendingPayments(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	outlet := h.outlet(t)

	p1, err := h.pay(ctx, card, outlet.ID, "30.00")
	require.NoError(t, err)
	p2, err := h.pay(ctx, card, outlet.ID, "20.00")
	require.NoError(t, err)

	res, err := h.settlementSvc.SettleOutlet(ctx, outletPrincipal(outlet.ID), outlet.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.False(t, res.NoPendingTransactions)
	assert.True(t, res.Settlement.Amount.Equal(dec("50.00")))
	assert.Equal(t, domain.SettlementStatusCompleted, res.Settlement.Status)
	assert.NotNil(t, res.Settlement.SettlementDate)
	assert.NotEmpty(t, res.Settlement.Reference)
	assert.ElementsMatch(t, []uuid.UUID{p1.Transaction.ID, p2.Transaction.ID}, res.Settlement.TransactionIDs)
	assert.Equal(t, 1, h.events.count(domain.EventSettlementCompleted))

	again, err := h.settlementSvc.SettleOutlet(ctx, h.admin, outlet.ID)
	require.NoError(t, err)
	assert.True(t, again.NoPendingTransactions)
	assert.Nil(t, again.Settlement)

	stored, err := h.settlementSvc.Get(ctx, outletPrincipal(outlet.ID), res.Settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCompleted, stored.Status)

	list, err := h.settlementSvc.List(ctx, h.admin, outlet.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSettleOutlet_ExcludesCorrectedPayments(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	outlet := h.outlet(t)

	kept, err := h.pay(ctx, card, outlet.ID, "15.00")
	require.NoError(t, err)
	refunded, err := h.pay(ctx, card, outlet.ID, "40.00")
	require.NoError(t, err)
	_, err = h.coordinator.Refund(ctx, h.admin, ports.RefundRequest{TransactionID: refunded.Transaction.ID})
	require.NoError(t, err)

	res, err := h.settlementSvc.SettleOutlet(ctx, h.admin, outlet.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.True(t, res.Settlement.Amount.Equal(dec("15.00")))
	assert.Equal(t, []uuid.UUID{kept.Transaction.ID}, res.Settlement.TransactionIDs)
}

func TestSettleOutlet_OtherOutletsUntouched(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	a := h.outlet(t)
	b := h.outlet(t)

	_, err := h.pay(ctx, card, a.ID, "10.00")
	require.NoError(t, err)
	_, err = h.pay(ctx, card, b.ID, "5.00")
	require.NoError(t, err)

	res, err := h.settlementSvc.SettleOutlet(ctx, h.admin, a.ID)
	require.NoError(t, err)
	assert.True(t, res.Settlement.Amount.Equal(dec("10.00")))

	today, err := h.outletSvc.Today(ctx, h.admin, b.ID)
	require.NoError(t, err)
	assert.True(t, today.PendingSettlement.Equal(dec("5.00")))

	today, err = h.outletSvc.Today(ctx, h.admin, a.ID)
	require.NoError(t, err)
	assert.True(t, today.PendingSettlement.IsZero())
	assert.True(t, today.Revenue.Equal(dec("10.00")))
}

func TestSettleOutlet_Authorization(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	a := h.outlet(t)
	b := h.outlet(t)

	_, err := h.settlementSvc.SettleOutlet(ctx, outletPrincipal(b.ID), a.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	_, err = h.settlementSvc.SettleOutlet(ctx, h.admin, uuid.New())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	_, err = h.settlementSvc.List(ctx, &domain.Principal{Role: domain.RoleCustomer}, a.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	_, err = h.settlementSvc.Get(ctx, h.admin, uuid.New())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestSettleOutlet_BusyWhileOutletLocked(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	outlet := h.outlet(t)
	h.settlementSvc.lockTimeout = 20 * time.Millisecond

	release, err := h.locker.Acquire(ctx, outletLockKey(outlet.ID), time.Second)
	require.NoError(t, err)
	defer release()

	_, err = h.settlementSvc.SettleOutlet(ctx, h.admin, outlet.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindBusy))
}

type settlementMocks struct {
	txns        *mocks.MockTransactionRepository
	outlets     *mocks.MockOutletRepository
	settlements *mocks.MockSettlementRepository
	transactor  *mocks.MockDBTransactor
	locker      *mocks.MockLocker
	events      *mocks.MockEventPublisher
	audit       *mocks.MockAuditService
}

func setupSettlementService(t *testing.T) (*SettlementServiceImpl, *settlementMocks) {
	ctrl := gomock.NewController(t)
	m := &settlementMocks{
		txns:        mocks.NewMockTransactionRepository(ctrl),
		outlets:     mocks.NewMockOutletRepository(ctrl),
		settlements: mocks.NewMockSettlementRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		locker:      mocks.NewMockLocker(ctrl),
		events:      mocks.NewMockEventPublisher(ctrl),
		audit:       mocks.NewMockAuditService(ctrl),
	}
	svc := NewSettlementService(m.txns, m.outlets, m.settlements, m.transactor, m.locker,
		m.events, m.audit, time.Second, newTestLogger())
	return svc, m
}

func TestSettleOutlet_MismatchMarksBatchFailed(t *testing.T) {
	svc, m := setupSettlementService(t)
	ctx := context.Background()
	tx := &mockTx{}
	outletID := uuid.New()
	outlet := &domain.Outlet{ID: outletID, Active: true}
	payments := []domain.Transaction{
		{ID: uuid.New(), Type: domain.TransactionTypePayment, Amount: dec("30.00"), Status: domain.TransactionStatusCompleted},
		{ID: uuid.New(), Type: domain.TransactionTypePayment, Amount: dec("20.00"), Status: domain.TransactionStatusCompleted},
	}

	m.outlets.EXPECT().GetByID(ctx, outletID).Return(outlet, nil)
	m.locker.EXPECT().Acquire(ctx, outletLockKey(outletID), time.Second).Return(func() {}, nil)
	m.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	m.outlets.EXPECT().GetByIDForUpdate(ctx, tx, outletID).Return(outlet, nil)
	m.txns.EXPECT().ListUnsettledForUpdate(ctx, tx, outletID).Return(payments, nil)
	m.settlements.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	var settlementID uuid.UUID
	gomock.InOrder(
		m.settlements.EXPECT().UpdateStatus(ctx, gomock.Any(), domain.SettlementStatusProcessing, nil, "").
			DoAndReturn(func(_ context.Context, id uuid.UUID, _ domain.SettlementStatus, _ *time.Time, _ string) error {
				settlementID = id
				return nil
			}),
		m.settlements.EXPECT().ItemsTotal(ctx, gomock.Any()).Return(dec("45.00"), nil),
		m.settlements.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), domain.SettlementStatusFailed, nil, gomock.Any()).Return(nil),
	)
	m.events.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e domain.LedgerEvent) error {
			assert.Equal(t, domain.EventSettlementFailed, e.Type)
			return nil
		})

	_, err := svc.SettleOutlet(ctx, domain.SystemPrincipal(), outletID)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "STL_002", appErr.Code)
	assert.NotEqual(t, uuid.Nil, settlementID)
}

func TestSettleOutlet_NothingPending(t *testing.T) {
	svc, m := setupSettlementService(t)
	ctx := context.Background()
	tx := &mockTx{}
	outletID := uuid.New()
	outlet := &domain.Outlet{ID: outletID, Active: true}

	m.outlets.EXPECT().GetByID(ctx, outletID).Return(outlet, nil)
	m.locker.EXPECT().Acquire(ctx, outletLockKey(outletID), time.Second).Return(func() {}, nil)
	m.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	m.outlets.EXPECT().GetByIDForUpdate(ctx, tx, outletID).Return(outlet, nil)
	m.txns.EXPECT().ListUnsettledForUpdate(ctx, tx, outletID).Return(nil, nil)

	res, err := svc.SettleOutlet(ctx, domain.SystemPrincipal(), outletID)
	require.NoError(t, err)
	assert.True(t, res.NoPendingTransactions)
}

func TestSettleOutlet_ClaimStorageFailure(t *testing.T) {
	svc, m := setupSettlementService(t)
	ctx := context.Background()
	outletID := uuid.New()

	m.outlets.EXPECT().GetByID(ctx, outletID).Return(&domain.Outlet{ID: outletID, Active: true}, nil)
	m.locker.EXPECT().Acquire(ctx, outletLockKey(outletID), time.Second).Return(func() {}, nil)
	m.transactor.EXPECT().Begin(ctx).Return(nil, errors.New("connection refused"))

	_, err := svc.SettleOutlet(ctx, domain.SystemPrincipal(), outletID)
	assert.True(t, apperror.IsKind(err, apperror.KindStorageFailure))
}

func TestScheduler_RunOnceContinuesPastFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	settlements := mocks.NewMockSettlementService(ctrl)
	outlets := mocks.NewMockOutletRepository(ctrl)
	ctx := context.Background()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	outlets.EXPECT().List(ctx, true).Return([]domain.Outlet{{ID: a}, {ID: b}, {ID: c}}, nil)
	settlements.EXPECT().SettleOutlet(ctx, gomock.Any(), a).Return(&domain.SettlementResult{Settlement: &domain.Settlement{ID: uuid.New()}}, nil)
	settlements.EXPECT().SettleOutlet(ctx, gomock.Any(), b).Return(nil, apperror.ErrSettlementMismatch())
	settlements.EXPECT().SettleOutlet(ctx, gomock.Any(), c).Return(&domain.SettlementResult{NoPendingTransactions: true}, nil)

	n, err := NewScheduler(settlements, outlets, time.Hour, newTestLogger()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScheduler_RunOnceListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	outlets := mocks.NewMockOutletRepository(ctrl)
	ctx := context.Background()

	outlets.EXPECT().List(ctx, true).Return(nil, errors.New("db down"))

	_, err := NewScheduler(mocks.NewMockSettlementService(ctrl), outlets, time.Hour, newTestLogger()).RunOnce(ctx)
	assert.Error(t, err)
}

func TestScheduler_ZeroIntervalReturns(t *testing.T) {
	ctrl := gomock.NewController(t)
	done := make(chan struct{})
	go func() {
		NewScheduler(mocks.NewMockSettlementService(ctrl), mocks.NewMockOutletRepository(ctrl), 0, newTestLogger()).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a zero interval")
	}
}

func TestScheduler_RunSettlesOnTick(t *testing.T) {
	h := newLedgerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	card := h.issue(t, "50.00")
	outlet := h.outlet(t)
	_, err := h.pay(ctx, card, outlet.ID, "12.00")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		NewScheduler(h.settlementSvc, h.outlets, 10*time.Millisecond, newTestLogger()).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		today, err := h.outletSvc.Today(context.Background(), h.admin, outlet.ID)
		return err == nil && today.PendingSettlement.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
