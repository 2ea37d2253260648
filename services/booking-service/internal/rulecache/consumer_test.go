package rulecache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glamdesk/salonbook/services/booking-service/internal/consumer"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/rulecache"
	"github.com/glamdesk/salonbook/services/booking-service/internal/storage"
)

type idleReader struct{}

func (idleReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (idleReader) Close() error { return nil }

func TestCache_EveryKeyedChangeEventInvalidates(t *testing.T) {
	day := model.Date{Year: 2026, Month: 3, Day: 2}
	m := storage.NewMemory()
	m.SetSalonTimezone("sal-1", time.UTC)
	cache := rulecache.New(m, 16, time.Hour)
	c := consumer.New(slog.New(slog.NewTextHandler(io.Discard, nil)), idleReader{}, m, cache.HandleChanged)
	ctx := context.Background()
	filter := model.BlockedTimeFilter{StaffID: "stf-1", Window: day.Window(time.UTC)}

	block := func(hour int) {
		t.Helper()
		_, err := m.PutBlockedTime(model.BlockedTime{
			SalonID:  "sal-1",
			Scope:    model.StaffScope{StaffID: "stf-1"},
			Start:    day.At(time.UTC, hour*60),
			End:      day.At(time.UTC, hour*60+60),
			IsActive: true,
		})
		require.NoError(t, err)
	}

	for i, hour := range []int{9, 14} {
		block(hour)
		// Producers key by salon and may not set an event id header.
		c.Handle(ctx, kafka.Message{
			Topic:  rulecache.TopicBlockedTimeChanged,
			Offset: int64(i),
			Key:    []byte("sal-1"),
			Value:  []byte(`{"salon_id":"sal-1"}`),
		})
		got, err := cache.ListBlockedTimes(ctx, "sal-1", filter)
		require.NoError(t, err)
		assert.Len(t, got, i+1, "after change event %d", i+1)
	}
}
