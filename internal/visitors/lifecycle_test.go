package visitors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/storage"
)

type lifecycleFixture struct {
	store     *storage.MemoryStorage
	cache     *fakeCache
	flusher   *Flusher
	lifecycle *Lifecycle
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	f := &lifecycleFixture{
		store: storage.NewMemoryStorage(),
		cache: newFakeCache(),
	}
	logger := logging.NewDefaultLogger()
	f.flusher = NewFlusher(f.store, nil, time.Hour, 100, logger)
	f.lifecycle = NewLifecycle(f.store, f.cache, f.flusher, 30*24*time.Hour, logger)
	return f
}

func TestLifecycle_CreateVisitor(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a company", func(t *testing.T) {
		f := newLifecycleFixture(t)
		_, err := f.lifecycle.CreateVisitor(ctx, "", models.VisitorMetadata{}, true)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("initial state", func(t *testing.T) {
		f := newLifecycleFixture(t)

		visitor, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{
			IPAddress: "203.0.113.77",
		}, true)
		require.NoError(t, err)
		assert.NotEmpty(t, visitor.ID)
		assert.Equal(t, models.StatusAnonymous, visitor.Status)
		assert.Equal(t, 1, visitor.Visits)
		assert.Zero(t, visitor.TotalTimeSpent)
		assert.True(t, visitor.IsActive)
		assert.Nil(t, visitor.Enriched)
		assert.Equal(t, visitor.FirstSeen, visitor.LastSeen)
		assert.Nil(t, visitor.RetentionDate)

		// With consent the IP is stored unmasked.
		assert.Equal(t, "203.0.113.77", visitor.Metadata.IPAddress)

		stored, err := f.store.GetVisitor(ctx, visitor.ID)
		require.NoError(t, err)
		assert.Equal(t, visitor.ID, stored.ID)

		cached, ok := f.cache.GetVisitor(ctx, visitor.ID)
		require.True(t, ok)
		assert.Equal(t, visitor.ID, cached.ID)
	})

	t.Run("without consent metadata is anonymized", func(t *testing.T) {
		f := newLifecycleFixture(t)

		visitor, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{
			IPAddress: "203.0.113.77",
			CustomParams: map[string]string{
				"authToken": "x",
				"name":      "Bob",
			},
		}, false)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.0", visitor.Metadata.IPAddress)
		assert.NotContains(t, visitor.Metadata.CustomParams, "authToken")
		assert.Equal(t, "Bob", visitor.Metadata.CustomParams["name"])
		require.NotNil(t, visitor.RetentionDate)
		assert.True(t, visitor.RetentionDate.After(time.Now()))

		// The masked form is what reached the store.
		stored, err := f.store.GetVisitor(ctx, visitor.ID)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.0", stored.Metadata.IPAddress)
	})

	t.Run("client info derived from user agent", func(t *testing.T) {
		f := newLifecycleFixture(t)

		visitor, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		}, true)
		require.NoError(t, err)
		assert.Equal(t, "Chrome", visitor.Metadata.Browser)
		assert.Equal(t, "desktop", visitor.Metadata.Device)
		assert.NotEmpty(t, visitor.Metadata.OS)
	})
}

func TestLifecycle_IdentifyVisitor(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an email", func(t *testing.T) {
		f := newLifecycleFixture(t)
		_, err := f.lifecycle.IdentifyVisitor(ctx, "v-1", "", nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("identifies without enrichment", func(t *testing.T) {
		f := newLifecycleFixture(t)
		created, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{}, true)
		require.NoError(t, err)

		visitor, err := f.lifecycle.IdentifyVisitor(ctx, created.ID, "a@b.com", nil)
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", visitor.Email)
		assert.Equal(t, models.StatusIdentified, visitor.Status)
		assert.Nil(t, visitor.Enriched)
	})

	t.Run("caller-supplied enrichment sets enriched status", func(t *testing.T) {
		f := newLifecycleFixture(t)
		created, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{}, true)
		require.NoError(t, err)

		visitor, err := f.lifecycle.IdentifyVisitor(ctx, created.ID, "a@b.com",
			&models.EnrichedData{Company: "Acme"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusEnriched, visitor.Status)
		require.NotNil(t, visitor.Enriched)
		assert.Equal(t, "Acme", visitor.Enriched.Company)
		assert.NotNil(t, visitor.LastEnriched)
	})
}

func TestLifecycle_TrackActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("validates input", func(t *testing.T) {
		f := newLifecycleFixture(t)
		err := f.lifecycle.TrackActivity(ctx, "", models.Activity{Type: "page_view"})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

		err = f.lifecycle.TrackActivity(ctx, "v-1", models.Activity{})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("queues without touching the store", func(t *testing.T) {
		f := newLifecycleFixture(t)
		created, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{}, true)
		require.NoError(t, err)

		require.NoError(t, f.lifecycle.TrackActivity(ctx, created.ID, models.Activity{Type: "page_view"}))
		require.NoError(t, f.lifecycle.TrackActivity(ctx, created.ID, models.Activity{Type: "click"}))

		assert.Equal(t, 2, f.flusher.QueuedCount(created.ID))

		// Nothing durable yet.
		stored, err := f.store.GetActivities(ctx, created.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, stored)

		// But the freshness marker is updated immediately.
		f.cache.mu.Lock()
		_, touched := f.cache.lastSeen[created.ID]
		f.cache.mu.Unlock()
		assert.True(t, touched)
	})

	t.Run("fills id and timestamp", func(t *testing.T) {
		f := newLifecycleFixture(t)
		created, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{}, true)
		require.NoError(t, err)

		require.NoError(t, f.lifecycle.TrackActivity(ctx, created.ID, models.Activity{Type: "page_view"}))
		f.flusher.FlushOnce(ctx)

		stored, err := f.store.GetActivities(ctx, created.ID, 0)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.NotEmpty(t, stored[0].ID)
		assert.Equal(t, created.ID, stored[0].VisitorID)
		assert.False(t, stored[0].Timestamp.IsZero())
	})
}

func TestLifecycle_GetVisitor(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	created, err := f.lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{}, true)
	require.NoError(t, err)

	t.Run("cache miss reads through and repopulates", func(t *testing.T) {
		f.cache.DeleteVisitor(ctx, created.ID)

		visitor, err := f.lifecycle.GetVisitor(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, visitor.ID)

		_, ok := f.cache.GetVisitor(ctx, created.ID)
		assert.True(t, ok)
	})

	t.Run("unknown visitor", func(t *testing.T) {
		_, err := f.lifecycle.GetVisitor(ctx, "ghost")
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})
}

func TestLifecycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	lifecycle := NewLifecycle(f.store, f.cache, NewFlusher(f.store, nil, time.Hour, 100, logging.NewDefaultLogger()),
		30*24*time.Hour, logging.NewDefaultLogger())

	created, err := lifecycle.CreateVisitor(ctx, "company-1", models.VisitorMetadata{}, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnonymous, created.Status)
	assert.Equal(t, 1, created.Visits)

	identified, err := f.resolver.IdentifyVisitor(ctx, created.ID,
		models.IdentificationData{Email: "a@b.com", GDPRConsent: true},
		models.IdentifyOptions{SkipEnrichment: true, ForceCacheRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdentified, identified.Status)
	assert.Equal(t, "a@b.com", identified.Email)

	enriched, err := f.resolver.EnrichVisitor(ctx, identified)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnriched, enriched.Status)
	assert.Equal(t, "Acme", enriched.Enriched.Company)
}
