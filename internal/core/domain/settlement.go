package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus represents the lifecycle state of a settlement batch.
type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "pending"
	SettlementStatusProcessing SettlementStatus = "processing"
	SettlementStatusCompleted  SettlementStatus = "completed"
	SettlementStatusFailed     SettlementStatus = "failed"
)

// CanTransition reports whether a batch may move from s to next.
// pending -> processing -> completed | failed; pending may also fail directly.
func (s SettlementStatus) CanTransition(next SettlementStatus) bool {
	switch s {
	case SettlementStatusPending:
		return next == SettlementStatusProcessing || next == SettlementStatusFailed
	case SettlementStatusProcessing:
		return next == SettlementStatusCompleted || next == SettlementStatusFailed
	default:
		return false
	}
}

// IsTerminal returns true once the batch can no longer change.
func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementStatusCompleted || s == SettlementStatusFailed
}

// Settlement is a payout batch of an outlet's completed payments.
// Membership in a non-failed batch is what marks a payment as settled.
type Settlement struct {
	ID             uuid.UUID        `json:"id"`
	Reference      string           `json:"reference"`
	OutletID       uuid.UUID        `json:"outlet_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Status         SettlementStatus `json:"status"`
	TransactionIDs []uuid.UUID      `json:"transaction_ids"`
	SettlementDate *time.Time       `json:"settlement_date,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SettlementResult is the outcome of one settlement run for an outlet.
// NoPendingTransactions is informational: nothing was eligible and no batch was created.
type SettlementResult struct {
	Settlement            *Settlement `json:"settlement,omitempty"`
	NoPendingTransactions bool        `json:"no_pending_transactions"`
}

// SumAmounts totals the amounts of txs.
func SumAmounts(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for i := range txs {
		total = total.Add(txs[i].Amount)
	}
	return total
}
