package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
)

const (
	dashboardPrefix = "dashboard:"
	adminKey        = dashboardPrefix + "admin"
)

// DashboardCache кеш сводок по деньгам с TTL и сбросом по событиям.
type DashboardCache struct {
	cache *gocache.Cache
}

func NewDashboardCache(ttl time.Duration) *DashboardCache {
	return &DashboardCache{cache: gocache.New(ttl, 2*ttl)}
}

func UserKey(role string, userID uuid.UUID) string {
	return dashboardPrefix + role + ":" + userID.String()
}

func AdminKey() string {
	return adminKey
}

// GetOrSet возвращает значение из кеша или вычисляет и сохраняет его.
func (c *DashboardCache) GetOrSet(key string, fn func() (interface{}, error)) (interface{}, error) {
	if value, found := c.cache.Get(key); found {
		return value, nil
	}
	value, err := fn()
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, value)
	return value, nil
}

// InvalidateUser сбрасывает сводки пользователя во всех ролях и сводку администратора.
func (c *DashboardCache) InvalidateUser(userID uuid.UUID) {
	suffix := ":" + userID.String()
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, dashboardPrefix) && strings.HasSuffix(key, suffix) {
			c.cache.Delete(key)
		}
	}
	c.cache.Delete(adminKey)
}

func (c *DashboardCache) Flush() {
	c.cache.Flush()
}

// Invalidator подписчик шины: денежные события сбрасывают сводки участников.
func (c *DashboardCache) Invalidator() events.Handler {
	return func(ctx context.Context, e events.Event) error {
		if !e.IsMoney() {
			return nil
		}
		for _, userID := range e.Participants {
			c.InvalidateUser(userID)
		}
		c.cache.Delete(adminKey)
		return nil
	}
}
