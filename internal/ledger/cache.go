package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/evently/bookings-core/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache is the read-through cache-aside layer in front of the Capacity
// Ledger (SPEC_FULL §4.2 "reads may be served from a short-TTL cache"),
// grounded on the teacher's GetEventCapacity/SetEventCapacity shape in
// infrastructure/redis/redis.go, generalized from a bare int to the full
// EventAvailability row.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

type cachedAvailability struct {
	EventID       uuid.UUID `json:"event_id"`
	EventName     string    `json:"event_name"`
	TotalCapacity int       `json:"total_capacity"`
	Available     int       `json:"available"`
	Reserved      int       `json:"reserved"`
	Confirmed     int       `json:"confirmed"`
	Price         string    `json:"price"`
	Version       int       `json:"version"`
	LastUpdated   time.Time `json:"last_updated"`
	CreatedAt     time.Time `json:"created_at"`
}

func cacheKey(eventID uuid.UUID) string {
	return "availability:event:" + eventID.String()
}

func (c *Cache) Get(ctx context.Context, eventID uuid.UUID) (domain.EventAvailability, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EventAvailability{}, false, nil
		}
		return domain.EventAvailability{}, false, err
	}

	var c2 cachedAvailability
	if err := json.Unmarshal(raw, &c2); err != nil {
		return domain.EventAvailability{}, false, err
	}
	price, err := decimal.NewFromString(c2.Price)
	if err != nil {
		return domain.EventAvailability{}, false, err
	}
	return domain.EventAvailability{
		EventID:       c2.EventID,
		EventName:     c2.EventName,
		TotalCapacity: c2.TotalCapacity,
		Available:     c2.Available,
		Reserved:      c2.Reserved,
		Confirmed:     c2.Confirmed,
		Price:         price,
		Version:       c2.Version,
		LastUpdated:   c2.LastUpdated,
		CreatedAt:     c2.CreatedAt,
	}, true, nil
}

func (c *Cache) Set(ctx context.Context, a domain.EventAvailability) error {
	payload, err := json.Marshal(cachedAvailability{
		EventID: a.EventID, EventName: a.EventName, TotalCapacity: a.TotalCapacity,
		Available: a.Available, Reserved: a.Reserved, Confirmed: a.Confirmed,
		Price: a.Price.String(), Version: a.Version, LastUpdated: a.LastUpdated, CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(a.EventID), payload, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, eventID uuid.UUID) error {
	return c.client.Del(ctx, cacheKey(eventID)).Err()
}
