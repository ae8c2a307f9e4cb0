package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Ledger event types published after commit.
const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventSettlementCompleted  = "settlement.completed"
	EventSettlementFailed     = "settlement.failed"
	EventCardIssued           = "card.issued"
	EventCardStatusChanged    = "card.status_changed"
)

// LedgerEvent is the envelope for ledger notifications.
type LedgerEvent struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewLedgerEvent creates an event with a time-ordered id.
func NewLedgerEvent(eventType string, payload interface{}) LedgerEvent {
	now := time.Now().UTC()
	return LedgerEvent{
		ID:         NewULID(now),
		Type:       eventType,
		OccurredAt: now,
		Payload:    payload,
	}
}

// NewULID returns a lexicographically sortable id for t.
func NewULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// NewSettlementReference returns the external reference of a settlement batch.
func NewSettlementReference(t time.Time) string {
	return "STL-" + NewULID(t)
}
