package visitors

import (
	"context"
	"regexp"
	"time"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/common/utils"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/ratelimit"
	"visitor-tracker/internal/storage"
)

// Enricher resolves an email address into canonical enriched data.
type Enricher interface {
	Enrich(ctx context.Context, email string) (*models.EnrichedData, error)
}

// Identification quotas per rate-limit window, selected by request priority.
const (
	quotaHigh   = 100
	quotaNormal = 50
	quotaLow    = 20
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\s\-().]{5,18}$`)
)

// Resolver orchestrates visitor identification: consent and format checks,
// rate limiting, cache short-circuit, store mutation, and best-effort
// enrichment.
type Resolver struct {
	store    storage.Storage
	cache    Cache
	limiter  *ratelimit.Limiter
	enricher Enricher
	retry    utils.RetryConfig
	logger   logging.Logger
}

func NewResolver(store storage.Storage, cache Cache, limiter *ratelimit.Limiter, enricher Enricher, logger logging.Logger) *Resolver {
	return &Resolver{
		store:    store,
		cache:    cache,
		limiter:  limiter,
		enricher: enricher,
		retry:    utils.EnrichmentRetryConfig(),
		logger:   logger,
	}
}

// SetRetryConfig overrides the enrichment retry policy. Tests use this to
// avoid real backoff delays.
func (r *Resolver) SetRetryConfig(config utils.RetryConfig) {
	r.retry = config
}

// RateLimitWindow exposes the limiter window so callers can populate
// Retry-After headers.
func (r *Resolver) RateLimitWindow() time.Duration {
	return r.limiter.Window()
}

// IdentifyVisitor attaches contact identity to a visitor and enriches it
// when possible.
//
// A cache hit short-circuits the call and returns the cached snapshot
// unchanged, without applying the supplied identification data. Callers
// that need the data applied must set ForceCacheRefresh.
func (r *Resolver) IdentifyVisitor(ctx context.Context, visitorID string, data models.IdentificationData, opts models.IdentifyOptions) (*models.Visitor, error) {
	if !data.GDPRConsent {
		return nil, errors.ConsentRequiredError("identify visitor")
	}
	if err := validateIdentification(data); err != nil {
		return nil, err
	}

	if _, err := r.limiter.CheckLimit(ctx, visitorID, quotaForPriority(opts.Priority)); err != nil {
		return nil, err
	}

	if !opts.ForceCacheRefresh {
		if cached, ok := r.cache.GetVisitor(ctx, visitorID); ok {
			return cached, nil
		}
	}

	visitor, err := r.store.GetVisitor(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := visitor.Status.Advance(models.StatusIdentified)
	update := storage.VisitorUpdate{
		Status:   &status,
		LastSeen: &now,
	}
	if data.Email != "" {
		update.Email = &data.Email
	}
	if data.Name != "" {
		update.Name = &data.Name
	}
	if data.Phone != "" {
		update.Phone = &data.Phone
	}

	visitor, err = r.store.UpdateVisitor(ctx, visitorID, update)
	if err != nil {
		return nil, err
	}

	if !opts.SkipEnrichment && visitor.Email != "" {
		if enriched := r.enrichWithRetry(ctx, visitor.Email); enriched != nil {
			enrichedAt := time.Now().UTC()
			enrichedStatus := visitor.Status.Advance(models.StatusEnriched)
			updated, err := r.store.UpdateVisitor(ctx, visitorID, storage.VisitorUpdate{
				Status:       &enrichedStatus,
				Enriched:     enriched,
				LastEnriched: &enrichedAt,
			})
			if err != nil {
				// The visitor is identified and returned as such; the
				// enrichment result is lost until the next attempt.
				r.logger.Error("failed to persist enrichment result", err,
					logging.String("visitor_id", visitorID))
			} else {
				visitor = updated
			}
		}
	}

	r.cache.SetVisitor(ctx, visitor)

	return visitor, nil
}

// enrichWithRetry runs the provider fan-out under the resolver's retry
// policy. Failures are logged and swallowed; enrichment never fails an
// identification.
func (r *Resolver) enrichWithRetry(ctx context.Context, email string) *models.EnrichedData {
	var enriched *models.EnrichedData

	err := utils.RetryWithBackoff(ctx, r.retry, func() error {
		result, err := r.enricher.Enrich(ctx, email)
		if err != nil {
			return err
		}
		enriched = result
		return nil
	})
	if err != nil {
		r.logger.Warn("enrichment failed, returning identified visitor",
			logging.Err(err))
		return nil
	}

	return enriched
}

// EnrichVisitor runs enrichment for an already identified visitor and
// persists the result. Unlike the identification path the failure is
// surfaced, and the stored visitor stays untouched.
func (r *Resolver) EnrichVisitor(ctx context.Context, visitor *models.Visitor) (*models.Visitor, error) {
	if visitor == nil || visitor.Email == "" {
		return nil, errors.ValidationError("visitor email is required for enrichment")
	}

	enriched, err := r.enricher.Enrich(ctx, visitor.Email)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := visitor.Status.Advance(models.StatusEnriched)
	updated, err := r.store.UpdateVisitor(ctx, visitor.ID, storage.VisitorUpdate{
		Status:       &status,
		Enriched:     enriched,
		LastEnriched: &now,
	})
	if err != nil {
		return nil, err
	}
	r.cache.SetVisitor(ctx, updated)

	return updated, nil
}

func quotaForPriority(priority string) int {
	switch priority {
	case "high":
		return quotaHigh
	case "low":
		return quotaLow
	default:
		return quotaNormal
	}
}

func validateIdentification(data models.IdentificationData) error {
	if data.Email != "" && !emailPattern.MatchString(data.Email) {
		return errors.ValidationError("invalid email format").WithContext("email", data.Email)
	}
	if data.Phone != "" && !phonePattern.MatchString(data.Phone) {
		return errors.ValidationError("invalid phone format").WithContext("phone", data.Phone)
	}
	return nil
}
