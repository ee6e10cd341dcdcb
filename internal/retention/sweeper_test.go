package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/storage"
)

type stubCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *stubCache) GetVisitor(ctx context.Context, id string) (*models.Visitor, bool) {
	return nil, false
}

func (c *stubCache) SetVisitor(ctx context.Context, visitor *models.Visitor) {}

func (c *stubCache) DeleteVisitor(ctx context.Context, id string) {
	c.mu.Lock()
	c.deleted = append(c.deleted, id)
	c.mu.Unlock()
}

func (c *stubCache) TouchLastSeen(ctx context.Context, id string, seen time.Time) {}

func seedExpiredVisitor(t *testing.T, store *storage.MemoryStorage, id string, retention time.Time) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateVisitor(context.Background(), &models.Visitor{
		ID:            id,
		CompanyID:     "company-1",
		Status:        models.StatusAnonymous,
		Visits:        1,
		FirstSeen:     now,
		LastSeen:      now,
		IsActive:      true,
		RetentionDate: &retention,
	}))
}

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	cache := &stubCache{}
	sweeper := NewSweeper(store, cache, "0 3 * * *", logging.NewDefaultLogger())

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	seedExpiredVisitor(t, store, "v-expired", past)
	seedExpiredVisitor(t, store, "v-pending", future)

	require.NoError(t, store.AppendActivities(ctx, "v-expired", []models.Activity{
		{ID: "a-1", VisitorID: "v-expired", Type: "page_view", Timestamp: past},
	}))

	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The expired visitor and its history are gone everywhere.
	_, err = store.GetVisitor(ctx, "v-expired")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	acts, err := store.GetActivities(ctx, "v-expired", 0)
	require.NoError(t, err)
	assert.Empty(t, acts)
	assert.Contains(t, cache.deleted, "v-expired")

	// The unexpired visitor is untouched.
	_, err = store.GetVisitor(ctx, "v-pending")
	assert.NoError(t, err)
}

func TestSweeper_SweepOnce_Empty(t *testing.T) {
	sweeper := NewSweeper(storage.NewMemoryStorage(), &stubCache{}, "0 3 * * *", logging.NewDefaultLogger())

	removed, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweeper_StartStop(t *testing.T) {
	sweeper := NewSweeper(storage.NewMemoryStorage(), &stubCache{}, "@every 1h", logging.NewDefaultLogger())

	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	sweeper := NewSweeper(storage.NewMemoryStorage(), &stubCache{}, "not a schedule", logging.NewDefaultLogger())
	assert.Error(t, sweeper.Start())
}
