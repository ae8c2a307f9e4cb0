package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCard_UnavailableReason(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		card Card
		want string
	}{
		{"usable", Card{Active: true}, ""},
		{"inactive", Card{Active: false}, "card is inactive"},
		{"blocked wins over inactive", Card{Active: false, IsBlocked: true}, "card is blocked"},
		{"expired", Card{Active: true, ExpiryDate: &past}, "card has expired"},
		{"not yet expired", Card{Active: true, ExpiryDate: &future}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.card.UnavailableReason(now))
			assert.Equal(t, tt.want == "", tt.card.IsUsable(now))
		})
	}
}

func TestCard_State(t *testing.T) {
	now := time.Now()
	card := Card{Active: true, Balance: dec("100.00")}

	assert.Equal(t, CardStateAvailable, card.State(dec("100.00"), now))
	assert.Equal(t, CardStateInsufficientFunds, card.State(dec("100.01"), now))

	card.IsBlocked = true
	assert.Equal(t, CardStateBlocked, card.State(dec("1"), now))
}

func TestCard_Limits(t *testing.T) {
	unlimited := Card{}
	assert.False(t, unlimited.ExceedsTransactionLimit(dec("1000000")))
	assert.False(t, unlimited.ExceedsDailyLimit(dec("999999"), dec("1")))

	limited := Card{TransactionLimit: dec("50"), DailyLimit: dec("100")}
	assert.False(t, limited.ExceedsTransactionLimit(dec("50")))
	assert.True(t, limited.ExceedsTransactionLimit(dec("50.01")))
	assert.False(t, limited.ExceedsDailyLimit(dec("70"), dec("30")))
	assert.True(t, limited.ExceedsDailyLimit(dec("70"), dec("30.01")))
}

func TestNewCardIdentifiers(t *testing.T) {
	cardID, key, err := NewCardIdentifiers()
	require.NoError(t, err)

	assert.Len(t, cardID, 8)
	assert.Equal(t, strings.ToUpper(cardID), cardID)
	assert.Len(t, key, 32)

	_, otherKey, err := NewCardIdentifiers()
	require.NoError(t, err)
	assert.NotEqual(t, key, otherKey)
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"30.00", true},
		{"0.01", true},
		{"1", true},
		{"0", false},
		{"-5", false},
		{"1.005", false},
		{"10.100", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAmount(dec(tt.in)))
		})
	}
}

func TestTransactionType_Direction(t *testing.T) {
	assert.True(t, TransactionTypePayment.IsDebit())
	assert.True(t, TransactionTypeSettlement.IsDebit())
	assert.True(t, TransactionTypeRecharge.IsCredit())
	assert.True(t, TransactionTypeRefund.IsCredit())
	assert.True(t, TransactionTypeReversal.IsCredit())
	assert.True(t, TransactionTypeRefund.IsCorrection())
	assert.False(t, TransactionTypePayment.IsCorrection())
	assert.False(t, TransactionType("bonus").Valid())
}

func TestTransaction_SignedAmount(t *testing.T) {
	pay := Transaction{Type: TransactionTypePayment, Amount: dec("30"), Status: TransactionStatusCompleted}
	top := Transaction{Type: TransactionTypeRecharge, Amount: dec("10"), Status: TransactionStatusCompleted}
	failed := Transaction{Type: TransactionTypePayment, Amount: dec("150"), Status: TransactionStatusFailed}

	assert.True(t, pay.SignedAmount().Equal(dec("-30")))
	assert.True(t, top.SignedAmount().Equal(dec("10")))
	assert.True(t, failed.SignedAmount().IsZero())
}

func TestResolveStatus(t *testing.T) {
	pay := Transaction{ID: uuid.New(), Type: TransactionTypePayment, Status: TransactionStatusCompleted}
	ref := pay.ID

	tests := []struct {
		name        string
		corrections []Transaction
		want        TransactionStatus
	}{
		{"no corrections", nil, TransactionStatusCompleted},
		{"refunded", []Transaction{{Type: TransactionTypeRefund, Status: TransactionStatusCompleted, ReferenceID: &ref}}, TransactionStatusRefunded},
		{"reversed", []Transaction{{Type: TransactionTypeReversal, Status: TransactionStatusCompleted, ReferenceID: &ref}}, TransactionStatusReversed},
		{"failed refund ignored", []Transaction{{Type: TransactionTypeRefund, Status: TransactionStatusFailed, ReferenceID: &ref}}, TransactionStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveStatus(&pay, tt.corrections))
		})
	}

	topup := Transaction{Type: TransactionTypeRecharge, Status: TransactionStatusCompleted}
	assert.Equal(t, TransactionStatusCompleted, ResolveStatus(&topup, nil))
}

func TestCursor_RoundTripAndOrdering(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 123456789, time.UTC)
	c := Cursor{CreatedAt: at, ID: uuid.MustParse("00000000-0000-0000-0000-000000000005")}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(at))
	assert.Equal(t, c.ID, decoded.ID)

	older := &Transaction{CreatedAt: at.Add(-time.Second), ID: uuid.New()}
	sameTimeLowerID := &Transaction{CreatedAt: at, ID: uuid.MustParse("00000000-0000-0000-0000-000000000004")}
	sameTimeHigherID := &Transaction{CreatedAt: at, ID: uuid.MustParse("00000000-0000-0000-0000-000000000006")}
	assert.True(t, c.Before(older))
	assert.True(t, c.Before(sameTimeLowerID))
	assert.False(t, c.Before(sameTimeHigherID))

	_, err = DecodeCursor("not-a-cursor")
	assert.Error(t, err)
}

func TestSettlementStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SettlementStatus
		want     bool
	}{
		{SettlementStatusPending, SettlementStatusProcessing, true},
		{SettlementStatusPending, SettlementStatusFailed, true},
		{SettlementStatusPending, SettlementStatusCompleted, false},
		{SettlementStatusProcessing, SettlementStatusCompleted, true},
		{SettlementStatusProcessing, SettlementStatusFailed, true},
		{SettlementStatusCompleted, SettlementStatusFailed, false},
		{SettlementStatusFailed, SettlementStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPrincipal_Authorize(t *testing.T) {
	own := uuid.New()
	other := uuid.New()
	admin := &Principal{Role: RoleAdmin}
	outlet := &Principal{Role: RoleOutlet, OutletID: &own}
	customer := &Principal{Role: RoleCustomer}

	assert.True(t, admin.Authorize(PermIssueCard, nil))
	assert.True(t, admin.Authorize(PermSettle, &other))

	assert.True(t, outlet.Authorize(PermPay, &own))
	assert.False(t, outlet.Authorize(PermPay, &other))
	assert.True(t, outlet.Authorize(PermSettle, &own))
	assert.False(t, outlet.Authorize(PermIssueCard, nil))
	assert.False(t, outlet.Authorize(PermReverse, &own))

	assert.True(t, customer.Authorize(PermTopUp, nil))
	assert.False(t, customer.Authorize(PermPay, &own))

	var nobody *Principal
	assert.False(t, nobody.Authorize(PermViewCard, nil))
	assert.False(t, (&Principal{Role: RoleOutlet}).Authorize(PermPay, &own))
}

func TestOutletSummary_IsStale(t *testing.T) {
	now := time.Now()
	s := OutletSummary{LastUpdated: now.Add(-10 * time.Minute)}
	assert.True(t, s.IsStale(now, 5*time.Minute))
	assert.False(t, s.IsStale(now, 15*time.Minute))
}

func TestBusinessType_Valid(t *testing.T) {
	assert.True(t, BusinessTypeCafe.Valid())
	assert.False(t, BusinessType("casino").Valid())
}

func TestNewSettlementReference(t *testing.T) {
	ref := NewSettlementReference(time.Now())
	assert.True(t, strings.HasPrefix(ref, "STL-"))
	assert.Len(t, ref, 4+26)
}

func TestSumAmounts(t *testing.T) {
	txs := []Transaction{{Amount: dec("30.00")}, {Amount: dec("20.00")}}
	assert.True(t, SumAmounts(txs).Equal(dec("50")))
}
