package visitors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/common/utils"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/ratelimit"
	"visitor-tracker/internal/storage"
)

// fakeCache is an in-process Cache for tests.
type fakeCache struct {
	mu       sync.Mutex
	visitors map[string]*models.Visitor
	lastSeen map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		visitors: make(map[string]*models.Visitor),
		lastSeen: make(map[string]time.Time),
	}
}

func (c *fakeCache) GetVisitor(ctx context.Context, id string) (*models.Visitor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.visitors[id]
	if !ok {
		return nil, false
	}
	clone := *v
	return &clone, true
}

func (c *fakeCache) SetVisitor(ctx context.Context, visitor *models.Visitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *visitor
	c.visitors[visitor.ID] = &clone
}

func (c *fakeCache) DeleteVisitor(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.visitors, id)
}

func (c *fakeCache) TouchLastSeen(ctx context.Context, id string, seen time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen[id] = seen
}

// fakeEnricher counts calls and returns a scripted result.
type fakeEnricher struct {
	mu     sync.Mutex
	calls  int
	result *models.EnrichedData
	err    error
}

func (e *fakeEnricher) Enrich(ctx context.Context, email string) (*models.EnrichedData, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func (e *fakeEnricher) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// countingBackend is an in-memory increment-with-expiry primitive.
type countingBackend struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newCountingBackend() *countingBackend {
	return &countingBackend{counts: make(map[string]int64)}
}

func (b *countingBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[key]++
	return b.counts[key], nil
}

func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

type resolverFixture struct {
	store    *storage.MemoryStorage
	cache    *fakeCache
	enricher *fakeEnricher
	backend  *countingBackend
	resolver *Resolver
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	f := &resolverFixture{
		store:    storage.NewMemoryStorage(),
		cache:    newFakeCache(),
		enricher: &fakeEnricher{result: &models.EnrichedData{Company: "Acme"}},
		backend:  newCountingBackend(),
	}
	limiter := ratelimit.NewLimiter(f.backend, &ratelimit.Config{
		Window:  time.Minute,
		Enabled: true,
	})
	f.resolver = NewResolver(f.store, f.cache, limiter, f.enricher, logging.NewDefaultLogger())
	f.resolver.SetRetryConfig(fastRetry())
	return f
}

func (f *resolverFixture) seedVisitor(t *testing.T, id string) *models.Visitor {
	t.Helper()
	now := time.Now().UTC()
	visitor := &models.Visitor{
		ID:          id,
		CompanyID:   "company-1",
		Status:      models.StatusAnonymous,
		Visits:      1,
		FirstSeen:   now,
		LastSeen:    now,
		IsActive:    true,
		GDPRConsent: true,
	}
	require.NoError(t, f.store.CreateVisitor(context.Background(), visitor))
	return visitor
}

func consented(email string) models.IdentificationData {
	return models.IdentificationData{Email: email, GDPRConsent: true}
}

func TestResolver_IdentifyVisitor(t *testing.T) {
	ctx := context.Background()

	t.Run("missing consent always fails", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		_, err := f.resolver.IdentifyVisitor(ctx, "v-1",
			models.IdentificationData{Email: "a@b.com"}, models.IdentifyOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConsent))
		assert.Equal(t, 0, f.enricher.callCount())
	})

	t.Run("invalid email fails validation", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		_, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("not-an-email"), models.IdentifyOptions{})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("invalid phone fails validation", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		data := consented("a@b.com")
		data.Phone = "call me maybe"
		_, err := f.resolver.IdentifyVisitor(ctx, "v-1", data, models.IdentifyOptions{})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("unknown visitor fails not found", func(t *testing.T) {
		f := newResolverFixture(t)

		_, err := f.resolver.IdentifyVisitor(ctx, "ghost", consented("a@b.com"), models.IdentifyOptions{})
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})

	t.Run("identification enriches and caches", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		visitor, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), models.IdentifyOptions{})
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", visitor.Email)
		assert.Equal(t, models.StatusEnriched, visitor.Status)
		require.NotNil(t, visitor.Enriched)
		assert.Equal(t, "Acme", visitor.Enriched.Company)
		assert.NotNil(t, visitor.LastEnriched)

		cached, ok := f.cache.GetVisitor(ctx, "v-1")
		require.True(t, ok)
		assert.Equal(t, models.StatusEnriched, cached.Status)
	})

	t.Run("skip enrichment leaves visitor identified", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		visitor, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"),
			models.IdentifyOptions{SkipEnrichment: true})
		require.NoError(t, err)
		assert.Equal(t, models.StatusIdentified, visitor.Status)
		assert.Nil(t, visitor.Enriched)
		assert.Equal(t, 0, f.enricher.callCount())
	})

	t.Run("enrichment failure is swallowed", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")
		f.enricher.err = errors.AllProvidersFailedError(2)

		visitor, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), models.IdentifyOptions{})
		require.NoError(t, err)
		assert.Equal(t, models.StatusIdentified, visitor.Status)
		assert.Nil(t, visitor.Enriched)
		// The retry policy ran to exhaustion before giving up.
		assert.Equal(t, 3, f.enricher.callCount())
	})

	t.Run("cache hit short circuits and skips enrichment", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		first, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), models.IdentifyOptions{})
		require.NoError(t, err)

		// Second call returns the cached snapshot untouched; the new
		// identification data is intentionally not applied.
		second, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("other@b.com"), models.IdentifyOptions{})
		require.NoError(t, err)
		assert.Equal(t, first.Email, second.Email)
		assert.Equal(t, 1, f.enricher.callCount())
	})

	t.Run("force refresh applies new data", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		_, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), models.IdentifyOptions{})
		require.NoError(t, err)

		visitor, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("new@b.com"),
			models.IdentifyOptions{ForceCacheRefresh: true, SkipEnrichment: true})
		require.NoError(t, err)
		assert.Equal(t, "new@b.com", visitor.Email)
	})

	t.Run("status never regresses", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		enrichedVisitor, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), models.IdentifyOptions{})
		require.NoError(t, err)
		require.Equal(t, models.StatusEnriched, enrichedVisitor.Status)

		visitor, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("new@b.com"),
			models.IdentifyOptions{ForceCacheRefresh: true, SkipEnrichment: true})
		require.NoError(t, err)
		assert.Equal(t, "new@b.com", visitor.Email)
		assert.Equal(t, models.StatusEnriched, visitor.Status)
	})

	t.Run("low priority quota exhausts first", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")

		opts := models.IdentifyOptions{Priority: "low", SkipEnrichment: true, ForceCacheRefresh: true}
		for i := 0; i < 20; i++ {
			_, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), opts)
			require.NoError(t, err)
		}

		_, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), opts)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	})

	t.Run("rate limit keyed per visitor", func(t *testing.T) {
		f := newResolverFixture(t)
		f.seedVisitor(t, "v-1")
		f.seedVisitor(t, "v-2")

		opts := models.IdentifyOptions{Priority: "low", SkipEnrichment: true, ForceCacheRefresh: true}
		for i := 0; i < 20; i++ {
			_, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), opts)
			require.NoError(t, err)
		}
		_, err := f.resolver.IdentifyVisitor(ctx, "v-1", consented("a@b.com"), opts)
		require.Error(t, err)

		_, err = f.resolver.IdentifyVisitor(ctx, "v-2", consented("a@b.com"), opts)
		assert.NoError(t, err)
	})
}

func TestResolver_EnrichVisitor(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an email", func(t *testing.T) {
		f := newResolverFixture(t)
		visitor := f.seedVisitor(t, "v-1")

		_, err := f.resolver.EnrichVisitor(ctx, visitor)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("failure leaves the stored visitor untouched", func(t *testing.T) {
		f := newResolverFixture(t)
		visitor := f.seedVisitor(t, "v-1")
		visitor.Email = "a@b.com"
		f.enricher.err = errors.AllProvidersFailedError(2)

		_, err := f.resolver.EnrichVisitor(ctx, visitor)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeEnrichment))

		stored, err := f.store.GetVisitor(ctx, "v-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusAnonymous, stored.Status)
		assert.Nil(t, stored.Enriched)
	})

	t.Run("success persists enrichment", func(t *testing.T) {
		f := newResolverFixture(t)
		visitor := f.seedVisitor(t, "v-1")
		visitor.Email = "a@b.com"

		enriched, err := f.resolver.EnrichVisitor(ctx, visitor)
		require.NoError(t, err)
		assert.Equal(t, models.StatusEnriched, enriched.Status)
		require.NotNil(t, enriched.Enriched)
		assert.Equal(t, "Acme", enriched.Enriched.Company)
		assert.NotNil(t, enriched.LastEnriched)

		stored, err := f.store.GetVisitor(ctx, "v-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusEnriched, stored.Status)
	})
}
