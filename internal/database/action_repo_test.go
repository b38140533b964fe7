package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/replybot/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func TestActionStoreRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewActionStore(newTestDB(t)).WithClock(clock.Now)

	processed, err := store.HasProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, processed)

	meta := models.NewMetadata().String(models.MetaThreadID, "t-1")
	require.NoError(t, store.Record(ctx, "m-1", models.ActionLabeled, meta))

	clock.Advance(time.Minute)
	meta2 := models.NewMetadata().String(models.MetaReason, "second")
	require.NoError(t, store.Record(ctx, "m-1", models.ActionReplied, meta2))

	processed, err = store.HasProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, processed)

	rec, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionReplied, rec.Action)
	assert.Equal(t, "second", rec.Metadata[models.MetaReason])
	assert.NotContains(t, rec.Metadata, models.MetaThreadID)
	assert.True(t, rec.ActedAt.Equal(clock.Now()))

	counts, err := store.CountByAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.Action]int{models.ActionReplied: 1}, counts)
}

func TestActionStoreRejectsUnknownAction(t *testing.T) {
	store := NewActionStore(newTestDB(t))
	err := store.Record(context.Background(), "m-1", models.Action("bogus"), nil)
	assert.Error(t, err)
}

func TestActionStoreGetNotFound(t *testing.T) {
	store := NewActionStore(newTestDB(t))
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActionStoreMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewActionStore(newTestDB(t))

	meta := models.NewMetadata().
		String(models.MetaClassification, "ORDER_STATUS").
		Bool(models.MetaQuietHours, false).
		Int(models.MetaDurationMS, 1250)
	require.NoError(t, store.Record(ctx, "m-1", models.ActionQuietAck, meta))

	rec, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, meta, rec.Metadata)
}

func TestActionStoreRecentReplyCooldown(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewActionStore(newTestDB(t)).WithClock(clock.Now)

	recent, err := store.RecentReply(ctx, "t-1", 24)
	require.NoError(t, err)
	assert.False(t, recent, "no reply recorded yet")

	require.NoError(t, store.RecordReply(ctx, "t-1"))

	recent, err = store.RecentReply(ctx, "t-1", 24)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = store.RecentReply(ctx, "t-1", 0)
	require.NoError(t, err)
	assert.False(t, recent, "zero cooldown disables the check")

	clock.Advance(23*time.Hour + 59*time.Minute)
	recent, err = store.RecentReply(ctx, "t-1", 24)
	require.NoError(t, err)
	assert.True(t, recent)

	clock.Advance(time.Minute)
	recent, err = store.RecentReply(ctx, "t-1", 24)
	require.NoError(t, err)
	assert.False(t, recent, "cooldown elapsed exactly")

	recent, err = store.RecentReply(ctx, "t-2", 24)
	require.NoError(t, err)
	assert.False(t, recent, "cooldown is per thread")
}

func TestActionStoreRecentOrdering(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewActionStore(newTestDB(t)).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, fmt.Sprintf("m-%d", i), models.ActionLabeled, nil))
		clock.Advance(time.Second)
	}

	recs, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m-2", recs[0].MessageID)
	assert.Equal(t, "m-1", recs[1].MessageID)
}

func TestActionStoreConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	store := NewActionStore(newTestDB(t))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Record(ctx, fmt.Sprintf("m-%d", i%5), models.ActionLabeled, nil)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := store.CountByAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[models.ActionLabeled])
}
