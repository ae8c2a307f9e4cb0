package domain

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeRecharge   TransactionType = "recharge"
	TransactionTypeSettlement TransactionType = "settlement" // card cash-out
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeReversal   TransactionType = "reversal"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeRecharge, TransactionTypeSettlement,
		TransactionTypeRefund, TransactionTypeReversal:
		return true
	}
	return false
}

// IsDebit reports whether the type takes money off the card.
func (t TransactionType) IsDebit() bool {
	return t == TransactionTypePayment || t == TransactionTypeSettlement
}

// IsCredit reports whether the type adds money to the card.
func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeRecharge || t == TransactionTypeRefund || t == TransactionTypeReversal
}

// IsCorrection reports whether the type compensates an earlier payment.
func (t TransactionType) IsCorrection() bool {
	return t == TransactionTypeRefund || t == TransactionTypeReversal
}

// TransactionStatus represents the lifecycle state of a transaction.
// Only pending, completed and failed are stored; refunded and reversed are
// derived on read from the corrections that reference a payment.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusReversed, TransactionStatusRefunded:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry for money movement.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	Type           TransactionType   `json:"type"`
	CardID         uuid.UUID         `json:"card_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Status         TransactionStatus `json:"status"`
	OutletID       *uuid.UUID        `json:"outlet_id,omitempty"`
	ReferenceID    *uuid.UUID        `json:"reference_id,omitempty"`
	IdempotencyKey *string           `json:"-"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending
}

// IsCorrectable returns true if a refund or reversal may reference this transaction.
func (t *Transaction) IsCorrectable() bool {
	return t.Type == TransactionTypePayment && t.Status == TransactionStatusCompleted
}

// SignedAmount returns the balance delta of a completed entry, zero otherwise.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Status != TransactionStatusCompleted {
		return decimal.Zero
	}
	if t.Type.IsDebit() {
		return t.Amount.Neg()
	}
	return t.Amount
}

// ResolveStatus derives the read-side status of t from the corrections referencing it.
func ResolveStatus(t *Transaction, corrections []Transaction) TransactionStatus {
	if !t.IsCorrectable() {
		return t.Status
	}
	for _, c := range corrections {
		if c.Status == TransactionStatusFailed || c.ReferenceID == nil || *c.ReferenceID != t.ID {
			continue
		}
		if c.Type == TransactionTypeReversal {
			return TransactionStatusReversed
		}
		if c.Type == TransactionTypeRefund {
			return TransactionStatusRefunded
		}
	}
	return t.Status
}

// TransactionView is a transaction as presented to callers, with its resolved status.
type TransactionView struct {
	Transaction
	ResolvedStatus TransactionStatus `json:"resolved_status"`
}

// TransactionFilter narrows a ledger query. Zero fields match everything.
type TransactionFilter struct {
	CardID   *uuid.UUID
	OutletID *uuid.UUID
	From     *time.Time // inclusive
	To       *time.Time // exclusive
	Type     TransactionType
	Status   TransactionStatus
}

// Cursor is a keyset position in created_at DESC, id DESC order.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// ReconciliationReport compares a card's stored balance with its ledger.
type ReconciliationReport struct {
	CardID         string          `json:"card_id"`
	StoredBalance  decimal.Decimal `json:"stored_balance"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
	Drift          decimal.Decimal `json:"drift"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
	PendingCount   int             `json:"pending_count"`
	Consistent     bool            `json:"consistent"`
	ReconciledAt   time.Time       `json:"reconciled_at"`
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Cursor.Encode.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decoding cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing cursor time: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing cursor id: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: uid}, nil
}

// Before reports whether t sorts after the cursor position in created_at DESC, id DESC order.
func (c Cursor) Before(t *Transaction) bool {
	if t.CreatedAt.Equal(c.CreatedAt) {
		return bytes.Compare(t.ID[:], c.ID[:]) < 0
	}
	return t.CreatedAt.Before(c.CreatedAt)
}
