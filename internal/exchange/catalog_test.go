package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/movetrader/movebot/internal/models"
)

type countingLister struct {
	mu        sync.Mutex
	calls     int
	contracts []models.Contract
	err       error
}

func (c *countingLister) ListContracts(context.Context, string) ([]models.Contract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.contracts, c.err
}

func (c *countingLister) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCatalog_CachesWithinTTL(t *testing.T) {
	lister := &countingLister{contracts: []models.Contract{{ID: 1, Symbol: "MV-BTC"}}}
	catalog := NewCatalog(lister, time.Minute)

	for i := 0; i < 3; i++ {
		contracts, err := catalog.ListContracts(context.Background(), models.CategoryMove)
		if err != nil {
			t.Fatalf("ListContracts failed: %v", err)
		}
		if len(contracts) != 1 || contracts[0].ID != 1 {
			t.Fatalf("unexpected contracts: %+v", contracts)
		}
	}
	if got := lister.callCount(); got != 1 {
		t.Errorf("upstream fetched %d times within TTL, want 1", got)
	}
}

func TestCatalog_ExpiryForcesRefetch(t *testing.T) {
	lister := &countingLister{contracts: []models.Contract{{ID: 1}}}
	catalog := NewCatalog(lister, time.Minute)

	current := time.Unix(1700000000, 0)
	catalog.now = func() time.Time { return current }

	if _, err := catalog.ListContracts(context.Background(), models.CategoryMove); err != nil {
		t.Fatalf("ListContracts failed: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := catalog.ListContracts(context.Background(), models.CategoryMove); err != nil {
		t.Fatalf("ListContracts failed: %v", err)
	}
	if got := lister.callCount(); got != 2 {
		t.Errorf("upstream fetched %d times across TTL expiry, want 2", got)
	}
}

func TestCatalog_InvalidateDropsEntry(t *testing.T) {
	lister := &countingLister{contracts: []models.Contract{{ID: 1}}}
	catalog := NewCatalog(lister, time.Minute)

	if _, err := catalog.ListContracts(context.Background(), models.CategoryMove); err != nil {
		t.Fatalf("ListContracts failed: %v", err)
	}
	catalog.Invalidate(models.CategoryMove)
	if _, err := catalog.ListContracts(context.Background(), models.CategoryMove); err != nil {
		t.Fatalf("ListContracts failed: %v", err)
	}
	if got := lister.callCount(); got != 2 {
		t.Errorf("upstream fetched %d times around Invalidate, want 2", got)
	}
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	lister := &countingLister{contracts: []models.Contract{{ID: 1, Symbol: "MV-BTC"}}}
	catalog := NewCatalog(lister, time.Minute)

	first, err := catalog.ListContracts(context.Background(), models.CategoryMove)
	if err != nil {
		t.Fatalf("ListContracts failed: %v", err)
	}
	first[0].Symbol = "mutated"

	second, err := catalog.ListContracts(context.Background(), models.CategoryMove)
	if err != nil {
		t.Fatalf("ListContracts failed: %v", err)
	}
	if second[0].Symbol != "MV-BTC" {
		t.Errorf("cache entry mutated through returned slice: %q", second[0].Symbol)
	}
}

func TestCatalog_ErrorsAreNotCached(t *testing.T) {
	lister := &countingLister{err: errors.New("venue down")}
	catalog := NewCatalog(lister, time.Minute)

	if _, err := catalog.ListContracts(context.Background(), models.CategoryMove); err == nil {
		t.Fatal("expected error passthrough")
	}

	lister.mu.Lock()
	lister.err = nil
	lister.contracts = []models.Contract{{ID: 7}}
	lister.mu.Unlock()

	contracts, err := catalog.ListContracts(context.Background(), models.CategoryMove)
	if err != nil {
		t.Fatalf("ListContracts failed after recovery: %v", err)
	}
	if len(contracts) != 1 || contracts[0].ID != 7 {
		t.Errorf("unexpected contracts after recovery: %+v", contracts)
	}
	if got := lister.callCount(); got != 2 {
		t.Errorf("upstream fetched %d times, want 2 (errors bypass cache)", got)
	}
}
