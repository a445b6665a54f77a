package exchange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/movetrader/movebot/internal/models"
)

// DefaultCatalogTTL bounds how stale a cached product list may get. MOVE
// listings change on settlement boundaries, not per-request, so a short
// TTL removes most catalog round-trips without risking stale strikes.
const DefaultCatalogTTL = 30 * time.Second

// ContractLister is the slice of Exchange the catalog cache needs.
type ContractLister interface {
	ListContracts(ctx context.Context, category string) ([]models.Contract, error)
}

// Catalog caches product lists per category. Concurrent executions asking
// for the same category share one upstream fetch instead of stampeding the
// venue.
type Catalog struct {
	source ContractLister
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]catalogEntry
}

type catalogEntry struct {
	contracts []models.Contract
	fetchedAt time.Time
}

// NewCatalog wraps source with a TTL cache. A non-positive ttl uses
// DefaultCatalogTTL.
func NewCatalog(source ContractLister, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]catalogEntry),
	}
}

var _ ContractLister = (*Catalog)(nil)

// ListContracts returns the cached list for category, fetching through the
// underlying source when the entry is missing or expired. Callers receive
// a copy and may reorder it freely.
func (c *Catalog) ListContracts(ctx context.Context, category string) ([]models.Contract, error) {
	c.mu.Lock()
	entry, ok := c.entries[category]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		cached := entry.contracts
		c.mu.Unlock()
		return copyContracts(cached), nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(category, func() (any, error) {
		contracts, err := c.source.ListContracts(ctx, category)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[category] = catalogEntry{contracts: contracts, fetchedAt: c.now()}
		c.mu.Unlock()
		return contracts, nil
	})
	if err != nil {
		return nil, err
	}
	return copyContracts(v.([]models.Contract)), nil
}

// Invalidate drops the cached entry for category, forcing the next call to
// refetch. Used after settlement events.
func (c *Catalog) Invalidate(category string) {
	c.mu.Lock()
	delete(c.entries, category)
	c.mu.Unlock()
}

func copyContracts(src []models.Contract) []models.Contract {
	out := make([]models.Contract, len(src))
	copy(out, src)
	return out
}
