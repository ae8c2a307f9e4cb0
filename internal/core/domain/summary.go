package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutletSummary is a rebuildable projection of an outlet's completed payments.
// It is never consulted for money decisions.
type OutletSummary struct {
	OutletID            uuid.UUID       `json:"outlet_id"`
	TotalTransactions   int64           `json:"total_transactions"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	LastTransactionDate *time.Time      `json:"last_transaction_date,omitempty"`
	LastUpdated         time.Time       `json:"last_updated"`
}

// IsStale reports whether the summary is older than maxAge at now.
func (s *OutletSummary) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdated) > maxAge
}

// OutletAggregate is the raw ledger aggregation a summary is built from.
type OutletAggregate struct {
	Count               int64
	Total               decimal.Decimal
	LastTransactionDate *time.Time
}

// OutletToday is the outlet's view of the current UTC day.
type OutletToday struct {
	OutletID          uuid.UUID       `json:"outlet_id"`
	Date              string          `json:"date"`
	TransactionCount  int64           `json:"transaction_count"`
	Revenue           decimal.Decimal `json:"revenue"`
	PendingSettlement decimal.Decimal `json:"pending_settlement"`
}

// DailyTotal is one day of the analytics trend.
type DailyTotal struct {
	Date   string          `json:"date"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// SystemAnalytics is the administrator dashboard aggregate.
type SystemAnalytics struct {
	TotalOutlets      int64           `json:"total_outlets"`
	TotalCards        int64           `json:"total_cards"`
	ActiveCards       int64           `json:"active_cards"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalPayments     decimal.Decimal `json:"total_payments"`
	OutstandingFloat  decimal.Decimal `json:"outstanding_float"`
	Trend             []DailyTotal    `json:"trend"`
}

// DateKey formats t's UTC day as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
