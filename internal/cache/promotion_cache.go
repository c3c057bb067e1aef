package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mostralo/promotion-service/internal/models"
)

// PromotionCache keeps coupon-code lookups warm for a short TTL. Entries are
// keyed by store and lowercased code, so lookups stay case-insensitive.
type PromotionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
}

type entry struct {
	promo     models.Promotion
	expiresAt time.Time
}

func NewPromotionCache(ttl time.Duration) *PromotionCache {
	return &PromotionCache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

func key(storeID uuid.UUID, code string) string {
	return storeID.String() + ":" + strings.ToLower(strings.TrimSpace(code))
}

func (c *PromotionCache) Get(storeID uuid.UUID, code string) (*models.Promotion, bool) {
	c.mu.RLock()
	e, ok := c.entries[key(storeID, code)]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	promo := e.promo
	return &promo, true
}

func (c *PromotionCache) Set(storeID uuid.UUID, code string, promo models.Promotion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(storeID, code)] = entry{
		promo:     promo,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops a cached coupon, used when an admin edits a promotion.
func (c *PromotionCache) Invalidate(storeID uuid.UUID, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(storeID, code))
}
