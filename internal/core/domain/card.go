package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CardState is the per-operation evaluation of a card, never persisted.
type CardState string

const (
	CardStateAvailable         CardState = "available"
	CardStateInsufficientFunds CardState = "insufficient_funds"
	CardStateBlocked           CardState = "blocked"
)

const (
	cardIDBytes    = 4  // 8 hex chars
	secureKeyBytes = 16 // 32 hex chars
)

// Card is a stored-value account. Balance only changes through a recorded Transaction.
type Card struct {
	ID               uuid.UUID         `json:"id"`
	CardID           string            `json:"card_id"`
	SecureKey        string            `json:"-"` // bearer capability, returned only on issuance
	Balance          decimal.Decimal   `json:"balance"`
	Active           bool              `json:"active"`
	IsBlocked        bool              `json:"is_blocked"`
	BlockReason      string            `json:"block_reason,omitempty"`
	DailyLimit       decimal.Decimal   `json:"daily_limit"`       // zero means unlimited
	TransactionLimit decimal.Decimal   `json:"transaction_limit"` // zero means unlimited
	ActivationDate   time.Time         `json:"activation_date"`
	ExpiryDate       *time.Time        `json:"expiry_date,omitempty"`
	LastUsed         *time.Time        `json:"last_used,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsExpired reports whether the card's expiry date has passed at now.
func (c *Card) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && !now.Before(*c.ExpiryDate)
}

// UnavailableReason returns why the card cannot move money, or "" if it can.
func (c *Card) UnavailableReason(now time.Time) string {
	switch {
	case c.IsBlocked:
		return "card is blocked"
	case !c.Active:
		return "card is inactive"
	case c.IsExpired(now):
		return "card has expired"
	default:
		return ""
	}
}

// IsUsable reports whether the card may be paid with or topped up.
func (c *Card) IsUsable(now time.Time) bool {
	return c.UnavailableReason(now) == ""
}

// State evaluates the card against a prospective debit of amount.
func (c *Card) State(amount decimal.Decimal, now time.Time) CardState {
	if !c.IsUsable(now) {
		return CardStateBlocked
	}
	if c.Balance.LessThan(amount) {
		return CardStateInsufficientFunds
	}
	return CardStateAvailable
}

// ExceedsTransactionLimit reports whether a single debit of amount is above the per-transaction limit.
func (c *Card) ExceedsTransactionLimit(amount decimal.Decimal) bool {
	return c.TransactionLimit.IsPositive() && amount.GreaterThan(c.TransactionLimit)
}

// ExceedsDailyLimit reports whether spentToday plus amount is above the daily limit.
func (c *Card) ExceedsDailyLimit(spentToday, amount decimal.Decimal) bool {
	return c.DailyLimit.IsPositive() && spentToday.Add(amount).GreaterThan(c.DailyLimit)
}

// NewCardIdentifiers generates a fresh external card id and secure key.
// Uniqueness is enforced by storage; callers retry on collision.
func NewCardIdentifiers() (cardID, secureKey string, err error) {
	id := make([]byte, cardIDBytes)
	if _, err = rand.Read(id); err != nil {
		return "", "", err
	}
	key := make([]byte, secureKeyBytes)
	if _, err = rand.Read(key); err != nil {
		return "", "", err
	}
	return strings.ToUpper(hex.EncodeToString(id)), hex.EncodeToString(key), nil
}

// StartOfDay returns midnight UTC of t's day. Daily limits reset at this boundary.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
