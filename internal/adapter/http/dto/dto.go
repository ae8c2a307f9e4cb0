package dto

import (
	"encoding/json"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// Amounts travel as json.Number so both 12.5 and "12.50" decode without
// passing through float64. The money tag only checks the syntax; range and
// precision rules belong to the services.

// --- Auth DTOs ---

type LoginRequest struct {
	Username string `json:"username" binding:"required,min=1,max=50,safe_id"`
	Password string `json:"password" binding:"required,min=1,max=128"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type CreateOperatorRequest struct {
	Username string     `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password string     `json:"password" binding:"required,min=8,max=128"`
	Role     string     `json:"role" binding:"required,oneof=admin outlet customer"`
	OutletID *uuid.UUID `json:"outlet_id"`
}

// --- Card DTOs ---

type IssueCardRequest struct {
	InitialBalance   json.Number       `json:"initial_balance" binding:"omitempty,money"`
	DailyLimit       *json.Number      `json:"daily_limit" binding:"omitempty,money"`
	TransactionLimit *json.Number      `json:"transaction_limit" binding:"omitempty,money"`
	ExpiryDate       *time.Time        `json:"expiry_date"`
	Metadata         map[string]string `json:"metadata" binding:"omitempty,max=20"`
}

// IssuedCardResponse is the only response that carries the secure key.
type IssuedCardResponse struct {
	*domain.Card
	SecureKey string `json:"secure_key"`
}

type BlockCardRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=255"`
}

// --- Money movement DTOs ---

type TopUpRequest struct {
	SecureKey   string      `json:"secure_key" binding:"required_without=CardID,max=64"`
	CardID      string      `json:"card_id" binding:"omitempty,max=32,safe_id"`
	Amount      json.Number `json:"amount" binding:"required,money"`
	Description string      `json:"description" binding:"omitempty,max=255"`
}

type PaymentRequest struct {
	SecureKey   string            `json:"secure_key" binding:"required,max=64"`
	Amount      json.Number       `json:"amount" binding:"required,money"`
	OutletID    uuid.UUID         `json:"outlet_id" binding:"required"`
	Description string            `json:"description" binding:"omitempty,max=255"`
	Metadata    map[string]string `json:"metadata" binding:"omitempty,max=20"`
}

type RefundRequest struct {
	Amount *json.Number `json:"amount" binding:"omitempty,money"`
	Reason string       `json:"reason" binding:"omitempty,max=255"`
}

type ReverseRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=255"`
}

type CashOutRequest struct {
	Amount *json.Number `json:"amount" binding:"omitempty,money"`
	Reason string       `json:"reason" binding:"omitempty,max=255"`
}

// HistoryQuery is bound from the query string of GET /transactions.
type HistoryQuery struct {
	CardID    string     `form:"card_id" binding:"omitempty,max=32,safe_id"`
	SecureKey string     `form:"secure_key" binding:"omitempty,max=64"`
	OutletID  string     `form:"outlet_id" binding:"omitempty,uuid"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Type      string     `form:"type" binding:"omitempty,oneof=payment recharge settlement refund reversal"`
	Status    string     `form:"status" binding:"omitempty,oneof=pending completed failed refunded reversed"`
	Cursor    string     `form:"cursor" binding:"omitempty,max=256"`
	Limit     int        `form:"limit" binding:"omitempty,min=1,max=100"`
}

// --- Outlet DTOs ---

type RegisterOutletRequest struct {
	Name         string `json:"name" binding:"required,min=1,max=100"`
	BusinessType string `json:"business_type" binding:"required,max=32"`
	Address      string `json:"address" binding:"omitempty,max=255"`
	TaxID        string `json:"tax_id" binding:"omitempty,max=64,safe_id"`
}
