package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// SummaryCache implements ports.SummaryCache as one Redis hash per outlet.
type SummaryCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewSummaryCache creates a new Redis-backed outlet summary cache.
func NewSummaryCache(client goredis.UniversalClient) *SummaryCache {
	return &SummaryCache{
		client: client,
		prefix: keyPrefix + "summary:",
	}
}

// Get returns the cached summary or nil, nil on a miss.
func (c *SummaryCache) Get(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error) {
	fields, err := c.client.HGetAll(ctx, c.prefix+outletID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis summary get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	s := &domain.OutletSummary{OutletID: outletID}
	if s.TotalTransactions, err = strconv.ParseInt(fields["total_transactions"], 10, 64); err != nil {
		return nil, fmt.Errorf("redis summary total_transactions: %w", err)
	}
	if s.TotalAmount, err = decimal.NewFromString(fields["total_amount"]); err != nil {
		return nil, fmt.Errorf("redis summary total_amount: %w", err)
	}
	if s.LastUpdated, err = time.Parse(time.RFC3339Nano, fields["last_updated"]); err != nil {
		return nil, fmt.Errorf("redis summary last_updated: %w", err)
	}
	if raw := fields["last_transaction_date"]; raw != "" {
		last, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("redis summary last_transaction_date: %w", err)
		}
		s.LastTransactionDate = &last
	}
	return s, nil
}

// Set overwrites the outlet's hash in one MULTI.
func (c *SummaryCache) Set(ctx context.Context, s *domain.OutletSummary) error {
	last := ""
	if s.LastTransactionDate != nil {
		last = s.LastTransactionDate.UTC().Format(time.RFC3339Nano)
	}
	key := c.prefix + s.OutletID.String()

	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"total_transactions", strconv.FormatInt(s.TotalTransactions, 10),
			"total_amount", s.TotalAmount.StringFixed(domain.MoneyScale),
			"last_transaction_date", last,
			"last_updated", s.LastUpdated.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis summary set: %w", err)
	}
	return nil
}
