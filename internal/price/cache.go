package price

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/metrics"
)

// Cached wraps a Source with an in-process cache. The spot price expires
// after ttl; historical daily prices never change and are kept forever.
type Cached struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu         sync.RWMutex
	current    decimal.Decimal
	expiresAt  time.Time
	historical map[string]decimal.Decimal
}

// NewCached creates a caching wrapper around src.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{
		src:        src,
		ttl:        ttl,
		now:        time.Now,
		historical: make(map[string]decimal.Decimal),
	}
}

func (c *Cached) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	c.mu.RLock()
	p, exp := c.current, c.expiresAt
	c.mu.RUnlock()
	if !p.IsZero() && c.now().Before(exp) {
		return p, nil
	}

	p, err := c.src.CurrentPrice(ctx)
	if err != nil {
		metrics.PriceFetchErrors.Inc()
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.current = p
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()
	return p, nil
}

func (c *Cached) HistoricalPrice(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	key := day.UTC().Format(time.DateOnly)

	c.mu.RLock()
	p, ok := c.historical[key]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := c.src.HistoricalPrice(ctx, day)
	if err != nil {
		metrics.PriceFetchErrors.Inc()
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.historical[key] = p
	c.mu.Unlock()
	return p, nil
}
