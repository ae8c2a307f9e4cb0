package memory

import (
	"context"
	"sync"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// SummaryCache implements ports.SummaryCache in process memory.
type SummaryCache struct {
	mu        sync.RWMutex
	summaries map[uuid.UUID]domain.OutletSummary
}

// NewSummaryCache creates an empty summary cache.
func NewSummaryCache() *SummaryCache {
	return &SummaryCache{summaries: make(map[uuid.UUID]domain.OutletSummary)}
}

func (c *SummaryCache) Get(ctx context.Context, outletID uuid.UUID) (*domain.OutletSummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.summaries[outletID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *SummaryCache) Set(ctx context.Context, s *domain.OutletSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries[s.OutletID] = *s
	return nil
}
