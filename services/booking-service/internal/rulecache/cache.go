// Package rulecache keeps the active blocked-time rules of recently queried
// salons in memory for the availability read path. The booking guard reads
// the database directly and never goes through it.
package rulecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/availability"
	"github.com/glamdesk/salonbook/services/booking-service/internal/metrics"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/segmentio/kafka-go"
)

// TopicBlockedTimeChanged is published by the salon service whenever a
// blocked-time rule is created, changed or deleted.
const TopicBlockedTimeChanged = "salon.blocked_time.changed.v1"

// Cache is an availability.BlockedTimeSource backed by an expirable LRU of
// per-salon rule sets.
type Cache struct {
	src   availability.BlockedTimeSource
	rules *expirable.LRU[string, []model.BlockedTime]
}

func New(src availability.BlockedTimeSource, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		src:   src,
		rules: expirable.NewLRU[string, []model.BlockedTime](size, nil, ttl),
	}
}

func (c *Cache) ListBlockedTimes(ctx context.Context, salonID string, filter model.BlockedTimeFilter) ([]model.BlockedTime, error) {
	all, ok := c.rules.Get(salonID)
	metrics.IncRuleCache(ok)
	if !ok {
		var err error
		all, err = c.src.ListBlockedTimes(ctx, salonID, model.BlockedTimeFilter{})
		if err != nil {
			return nil, err
		}
		c.rules.Add(salonID, all)
	}

	out := make([]model.BlockedTime, 0, len(all))
	for _, b := range all {
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Cache) Invalidate(salonID string) {
	c.rules.Remove(salonID)
}

func (c *Cache) Purge() {
	c.rules.Purge()
}

func (c *Cache) Len() int {
	return c.rules.Len()
}

type blockedTimeChanged struct {
	SalonID       string `json:"salon_id"`
	BlockedTimeID string `json:"blocked_time_id"`
}

// HandleChanged is the consumer handler for TopicBlockedTimeChanged. A
// payload without a salon id drops the whole cache.
func (c *Cache) HandleChanged(_ context.Context, msg kafka.Message) error {
	var evt blockedTimeChanged
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		c.Purge()
		return fmt.Errorf("decode %s: %w", msg.Topic, err)
	}
	if evt.SalonID == "" {
		c.Purge()
		return nil
	}
	c.Invalidate(evt.SalonID)
	return nil
}
