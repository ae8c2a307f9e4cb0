package service

import (
	"context"
	"errors"
	"testing"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/internal/core/ports/mocks"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupLedgerService(t *testing.T) (*LedgerServiceImpl, *mocks.MockTransactionRepository, *mocks.MockCardRepository) {
	ctrl := gomock.NewController(t)
	txRepo := mocks.NewMockTransactionRepository(ctrl)
	cardRepo := mocks.NewMockCardRepository(ctrl)
	return NewLedgerService(txRepo, cardRepo, newTestLogger()), txRepo, cardRepo
}

func TestLedgerAppend_FillsDefaults(t *testing.T) {
	svc, txRepo, _ := setupLedgerService(t)
	ctx := context.Background()
	tx := &mockTx{}

	entry := &domain.Transaction{Type: domain.TransactionTypeRecharge, CardID: uuid.New(), Amount: dec("10.00")}
	txRepo.EXPECT().Create(ctx, tx, entry).Return(nil)

	require.NoError(t, svc.Append(ctx, tx, entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, domain.TransactionStatusCompleted, entry.Status)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestLedgerAppend_Rejects(t *testing.T) {
	ref := uuid.New()
	tests := []struct {
		name  string
		entry domain.Transaction
		kind  apperror.Kind
	}{
		{"unknown type", domain.Transaction{Type: "bonus", Amount: dec("1")}, apperror.KindValidation},
		{"zero amount", domain.Transaction{Type: domain.TransactionTypePayment, Amount: dec("0")}, apperror.KindInvalidAmount},
		{"sub-cent amount", domain.Transaction{Type: domain.TransactionTypePayment, Amount: dec("0.001")}, apperror.KindInvalidAmount},
		{"refund without reference", domain.Transaction{Type: domain.TransactionTypeRefund, Amount: dec("1")}, apperror.KindInvalidReference},
		{"payment with reference", domain.Transaction{Type: domain.TransactionTypePayment, Amount: dec("1"), ReferenceID: &ref}, apperror.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := setupLedgerService(t)
			entry := tt.entry
			err := svc.Append(context.Background(), &mockTx{}, &entry)
			assert.True(t, apperror.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestLedgerAppend_CorrectionChecks(t *testing.T) {
	cardID := uuid.New()
	payment := &domain.Transaction{
		ID:     uuid.New(),
		Type:   domain.TransactionTypePayment,
		CardID: cardID,
		Amount: dec("30.00"),
		Status: domain.TransactionStatusCompleted,
	}

	tests := []struct {
		name   string
		amount string
		card   uuid.UUID
		setup  func(txRepo *mocks.MockTransactionRepository)
		kind   apperror.Kind
	}{
		{
			name: "missing reference", amount: "10", card: cardID,
			setup: func(r *mocks.MockTransactionRepository) {
				r.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), payment.ID).Return(nil, nil)
			},
			kind: apperror.KindInvalidReference,
		},
		{
			name: "different card", amount: "10", card: uuid.New(),
			setup: func(r *mocks.MockTransactionRepository) {
				r.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), payment.ID).Return(payment, nil)
			},
			kind: apperror.KindInvalidReference,
		},
		{
			name: "above original", amount: "30.01", card: cardID,
			setup: func(r *mocks.MockTransactionRepository) {
				r.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), payment.ID).Return(payment, nil)
			},
			kind: apperror.KindInvalidAmount,
		},
		{
			name: "already refunded", amount: "10", card: cardID,
			setup: func(r *mocks.MockTransactionRepository) {
				r.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), payment.ID).Return(payment, nil)
				r.EXPECT().Corrections(gomock.Any(), gomock.Any(), payment.ID).Return([]domain.Transaction{{
					Type: domain.TransactionTypeRefund, Status: domain.TransactionStatusCompleted, ReferenceID: &payment.ID,
				}}, nil)
			},
			kind: apperror.KindAlreadyRefunded,
		},
		{
			name: "settled", amount: "10", card: cardID,
			setup: func(r *mocks.MockTransactionRepository) {
				r.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), payment.ID).Return(payment, nil)
				r.EXPECT().Corrections(gomock.Any(), gomock.Any(), payment.ID).Return(nil, nil)
				r.EXPECT().IsSettled(gomock.Any(), gomock.Any(), payment.ID).Return(true, nil)
			},
			kind: apperror.KindInvalidReference,
		},
		{
			name: "unique index race", amount: "10", card: cardID,
			setup: func(r *mocks.MockTransactionRepository) {
				r.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), payment.ID).Return(payment, nil)
				r.EXPECT().Corrections(gomock.Any(), gomock.Any(), payment.ID).Return(nil, nil)
				r.EXPECT().IsSettled(gomock.Any(), gomock.Any(), payment.ID).Return(false, nil)
				r.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(ports.ErrDuplicate)
			},
			kind: apperror.KindAlreadyRefunded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, txRepo, _ := setupLedgerService(t)
			tt.setup(txRepo)
			err := svc.Append(context.Background(), &mockTx{}, &domain.Transaction{
				Type:        domain.TransactionTypeRefund,
				CardID:      tt.card,
				Amount:      dec(tt.amount),
				ReferenceID: &payment.ID,
			})
			assert.True(t, apperror.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestLedgerAppend_FailedCorrectionSkipsChecks(t *testing.T) {
	svc, txRepo, _ := setupLedgerService(t)
	ref := uuid.New()

	txRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	err := svc.Append(context.Background(), &mockTx{}, &domain.Transaction{
		Type:        domain.TransactionTypeRefund,
		Amount:      dec("5"),
		Status:      domain.TransactionStatusFailed,
		ReferenceID: &ref,
	})
	require.NoError(t, err)
}

func TestLedgerAppend_StorageErrorUnwrapped(t *testing.T) {
	svc, txRepo, _ := setupLedgerService(t)
	boom := errors.New("serialization failure")

	txRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(boom)

	err := svc.Append(context.Background(), &mockTx{}, &domain.Transaction{Type: domain.TransactionTypePayment, Amount: dec("5")})
	assert.ErrorIs(t, err, boom)
	var appErr *apperror.AppError
	assert.False(t, errors.As(err, &appErr), "storage errors stay retryable")
}

func TestLedgerHistory_PagesNewestFirst(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	outlet := h.outlet(t)
	for _, amount := range []string{"1.00", "2.00", "3.00", "4.00"} {
		_, err := h.pay(ctx, card, outlet.ID, amount)
		require.NoError(t, err)
	}

	var seen []domain.TransactionView
	cursor := ""
	for range 10 {
		page, err := h.ledger.History(ctx, h.admin, ports.HistoryRequest{CardID: card.CardID, Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		seen = append(seen, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, seen, 5) // initial recharge + 4 payments
	assert.Equal(t, domain.TransactionTypeRecharge, seen[4].Type)
	for i := 1; i < len(seen); i++ {
		assert.False(t, seen[i].CreatedAt.After(seen[i-1].CreatedAt), "entries are newest first")
	}

	_, err := h.ledger.History(ctx, h.admin, ports.HistoryRequest{CardID: card.CardID, Cursor: "not-a-cursor"})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestLedgerHistory_Scoping(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	other := h.issue(t, "100.00")
	a := h.outlet(t)
	b := h.outlet(t)

	_, err := h.pay(ctx, card, a.ID, "5.00")
	require.NoError(t, err)
	_, err = h.pay(ctx, card, b.ID, "6.00")
	require.NoError(t, err)
	_, err = h.pay(ctx, other, a.ID, "7.00")
	require.NoError(t, err)

	customer := &domain.Principal{Role: domain.RoleCustomer}

	t.Run("customer sees own card", func(t *testing.T) {
		page, err := h.ledger.History(ctx, customer, ports.HistoryRequest{SecureKey: card.SecureKey})
		require.NoError(t, err)
		assert.Len(t, page.Items, 3)
		for _, v := range page.Items {
			assert.Equal(t, card.ID, v.CardID)
		}
	})

	t.Run("customer needs secure key", func(t *testing.T) {
		_, err := h.ledger.History(ctx, customer, ports.HistoryRequest{CardID: card.CardID})
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	})

	t.Run("customer cannot pair key with another card", func(t *testing.T) {
		_, err := h.ledger.History(ctx, customer, ports.HistoryRequest{SecureKey: card.SecureKey, CardID: other.CardID})
		assert.True(t, apperror.IsKind(err, apperror.KindForbidden))
	})

	t.Run("outlet pinned to itself", func(t *testing.T) {
		page, err := h.ledger.History(ctx, outletPrincipal(a.ID), ports.HistoryRequest{})
		require.NoError(t, err)
		assert.Len(t, page.Items, 2)
		for _, v := range page.Items {
			assert.Equal(t, a.ID, *v.OutletID)
		}

		_, err = h.ledger.History(ctx, outletPrincipal(a.ID), ports.HistoryRequest{OutletID: &b.ID})
		assert.True(t, apperror.IsKind(err, apperror.KindForbidden))
	})

	t.Run("admin filters by outlet and type", func(t *testing.T) {
		page, err := h.ledger.History(ctx, h.admin, ports.HistoryRequest{OutletID: &b.ID, Type: domain.TransactionTypePayment})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.True(t, page.Items[0].Amount.Equal(dec("6.00")))
	})

	t.Run("unknown card", func(t *testing.T) {
		_, err := h.ledger.History(ctx, h.admin, ports.HistoryRequest{CardID: "FFFFFFFF"})
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
	})

	t.Run("invalid filters", func(t *testing.T) {
		_, err := h.ledger.History(ctx, h.admin, ports.HistoryRequest{Type: "bonus"})
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		_, err = h.ledger.History(ctx, h.admin, ports.HistoryRequest{Status: "lost"})
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	})
}

func TestLedgerGet_Authorization(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	a := h.outlet(t)
	b := h.outlet(t)

	paid, err := h.pay(ctx, card, a.ID, "5.00")
	require.NoError(t, err)

	_, err = h.ledger.Get(ctx, outletPrincipal(a.ID), paid.Transaction.ID)
	require.NoError(t, err)

	_, err = h.ledger.Get(ctx, outletPrincipal(b.ID), paid.Transaction.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	_, err = h.ledger.Get(ctx, &domain.Principal{Role: domain.RoleCustomer}, paid.Transaction.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	_, err = h.ledger.Get(ctx, h.admin, uuid.New())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestLedgerQuery_WalksEveryPage(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	card := h.issue(t, "100.00")
	outlet := h.outlet(t)
	for range 6 {
		_, err := h.pay(ctx, card, outlet.ID, "1.00")
		require.NoError(t, err)
	}
	h.ledger.pageSize = 2

	n := 0
	for _, err := range h.ledger.Query(ctx, domain.TransactionFilter{CardID: &card.ID}) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 7, n)

	// Breaking early stops the walk.
	n = 0
	for range h.ledger.Query(ctx, domain.TransactionFilter{CardID: &card.ID}) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestLedgerReplay_DetectsDrift(t *testing.T) {
	svc, txRepo, cardRepo := setupLedgerService(t)
	ctx := context.Background()
	card := &domain.Card{ID: uuid.New(), CardID: "ABCD1234", Balance: dec("80.00")}

	cardRepo.EXPECT().GetByCardID(ctx, "ABCD1234").Return(card, nil)
	txRepo.EXPECT().List(ctx, gomock.Any(), nil, queryPageSize).Return([]domain.Transaction{
		{Type: domain.TransactionTypePayment, Amount: dec("30.00"), Status: domain.TransactionStatusCompleted},
		{Type: domain.TransactionTypePayment, Amount: dec("500.00"), Status: domain.TransactionStatusFailed},
		{Type: domain.TransactionTypeRecharge, Amount: dec("100.00"), Status: domain.TransactionStatusCompleted},
	}, nil)

	report, err := svc.Replay(ctx, domain.SystemPrincipal(), "ABCD1234")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.True(t, report.LedgerBalance.Equal(dec("70.00")))
	assert.True(t, report.Drift.Equal(dec("10.00")))
	assert.Equal(t, 2, report.CompletedCount)
	assert.Equal(t, 1, report.FailedCount)
}

func TestLedgerReplay_Forbidden(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	_, err := svc.Replay(context.Background(), outletPrincipal(uuid.New()), "ABCD1234")
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))
}
