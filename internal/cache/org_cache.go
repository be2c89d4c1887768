package cache

import (
	"sync"

	"github.com/mealpass/token-service/internal/models"
)

// OrgCache keeps organization rows in memory. Org config changes rarely and
// every ensure call needs it, so a plain map with no eviction is enough.
type OrgCache struct {
	mu    sync.RWMutex
	store map[string]*models.Organization
}

func NewOrgCache() *OrgCache {
	return &OrgCache{
		store: make(map[string]*models.Organization),
	}
}

func (c *OrgCache) Get(id string) (*models.Organization, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	org, ok := c.store[id]
	return org, ok
}

func (c *OrgCache) Set(id string, org *models.Organization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[id] = org
}

func (c *OrgCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, id)
}
