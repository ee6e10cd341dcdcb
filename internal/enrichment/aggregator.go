package enrichment

import (
	"context"
	"sort"
	"sync"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/models"
)

// Aggregator fans an enrichment request out to every configured provider
// and assembles the responses into a single enriched record.
type Aggregator struct {
	providers []*Provider
	logger    logging.Logger
}

func NewAggregator(providers []*Provider, logger logging.Logger) *Aggregator {
	return &Aggregator{
		providers: providers,
		logger:    logger,
	}
}

// ProviderCount reports how many providers are configured.
func (a *Aggregator) ProviderCount() int {
	return len(a.providers)
}

type providerResult struct {
	name     string
	priority int
	fields   map[string]interface{}
}

// Enrich queries all providers concurrently and waits for every one to
// settle. A provider failure never aborts the batch; only zero successes
// fail the call. Successful responses are overlaid in ascending priority
// order, so on conflicting keys the response applied last wins.
func (a *Aggregator) Enrich(ctx context.Context, email string) (*models.EnrichedData, error) {
	if len(a.providers) == 0 {
		return nil, errors.AllProvidersFailedError(0)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []providerResult
	)

	for _, provider := range a.providers {
		wg.Add(1)
		go func(p *Provider) {
			defer wg.Done()

			fields, err := p.Lookup(ctx, email)
			if err != nil {
				a.logger.Warn("enrichment provider failed",
					logging.String("provider", p.Name()),
					logging.Err(err))
				return
			}

			mu.Lock()
			results = append(results, providerResult{
				name:     p.Name(),
				priority: p.Priority(),
				fields:   fields,
			})
			mu.Unlock()
		}(provider)
	}

	wg.Wait()

	if len(results) == 0 {
		return nil, errors.AllProvidersFailedError(len(a.providers))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].priority < results[j].priority
	})

	merged := make(map[string]interface{})
	for _, result := range results {
		for key, value := range normalizeFields(result.name, result.fields) {
			merged[key] = value
		}
	}

	a.logger.Info("enrichment merged",
		logging.Int("providers_succeeded", len(results)),
		logging.Int("providers_total", len(a.providers)),
		logging.Int("fields", len(merged)))

	return extractCanonical(merged), nil
}
