package visitors

import (
	"context"
	"time"

	"github.com/mssola/useragent"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/common/utils"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/storage"
)

// Lifecycle manages visitor creation, direct identification, and activity
// intake. Identification that needs rate limiting and enrichment goes
// through the Resolver instead.
type Lifecycle struct {
	store     storage.Storage
	cache     Cache
	flusher   *Flusher
	retention time.Duration
	logger    logging.Logger
}

func NewLifecycle(store storage.Storage, cache Cache, flusher *Flusher, retention time.Duration, logger logging.Logger) *Lifecycle {
	return &Lifecycle{
		store:     store,
		cache:     cache,
		flusher:   flusher,
		retention: retention,
		logger:    logger,
	}
}

// CreateVisitor registers a first page view. Without GDPR consent the
// metadata is anonymized before anything is persisted and a retention
// deadline is stamped so the sweeper can erase the record later.
func (l *Lifecycle) CreateVisitor(ctx context.Context, companyID string, metadata models.VisitorMetadata, gdprConsent bool) (*models.Visitor, error) {
	if companyID == "" {
		return nil, errors.ValidationError("company id is required")
	}

	id, err := utils.GenerateUUID()
	if err != nil {
		return nil, errors.InternalError("failed to generate visitor id", err)
	}

	now := time.Now().UTC()
	fillClientInfo(&metadata)

	visitor := &models.Visitor{
		ID:          id,
		CompanyID:   companyID,
		Status:      models.StatusAnonymous,
		Metadata:    metadata,
		Visits:      1,
		FirstSeen:   now,
		LastSeen:    now,
		IsActive:    true,
		GDPRConsent: gdprConsent,
	}

	if !gdprConsent {
		anonymizeMetadata(&visitor.Metadata)
		retentionDate := now.Add(l.retention)
		visitor.RetentionDate = &retentionDate
	}

	if err := l.store.CreateVisitor(ctx, visitor); err != nil {
		return nil, err
	}
	l.cache.SetVisitor(ctx, visitor)

	l.logger.Info("visitor created",
		logging.String("visitor_id", visitor.ID),
		logging.String("company_id", companyID),
		logging.Bool("gdpr_consent", gdprConsent))

	return visitor, nil
}

// IdentifyVisitor is the direct identification path for callers that
// already hold contact data, and optionally enrichment results. It skips
// rate limiting and provider fan-out.
func (l *Lifecycle) IdentifyVisitor(ctx context.Context, visitorID, email string, enriched *models.EnrichedData) (*models.Visitor, error) {
	if email == "" {
		return nil, errors.ValidationError("email is required")
	}

	visitor, err := l.GetVisitor(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := visitor.Status.Advance(models.StatusIdentified)
	update := storage.VisitorUpdate{
		Email:    &email,
		Status:   &status,
		LastSeen: &now,
	}
	if enriched != nil {
		status = visitor.Status.Advance(models.StatusEnriched)
		update.Status = &status
		update.Enriched = enriched
		update.LastEnriched = &now
	}

	updated, err := l.store.UpdateVisitor(ctx, visitorID, update)
	if err != nil {
		return nil, err
	}
	l.cache.SetVisitor(ctx, updated)

	return updated, nil
}

// TrackActivity queues a behavioral event for the batch flusher and
// returns once queued. Durable persistence is eventual; only the cached
// lastSeen marker is updated synchronously so reads stay fresh.
func (l *Lifecycle) TrackActivity(ctx context.Context, visitorID string, activity models.Activity) error {
	if visitorID == "" {
		return errors.ValidationError("visitor id is required")
	}
	if activity.Type == "" {
		return errors.ValidationError("activity type is required")
	}

	if activity.ID == "" {
		activity.ID = utils.GenerateActivityID(visitorID)
	}
	activity.VisitorID = visitorID
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}

	l.flusher.Push(visitorID, activity)
	l.cache.TouchLastSeen(ctx, visitorID, activity.Timestamp)

	return nil
}

// GetVisitor reads through the cache to the durable store.
func (l *Lifecycle) GetVisitor(ctx context.Context, visitorID string) (*models.Visitor, error) {
	if cached, ok := l.cache.GetVisitor(ctx, visitorID); ok {
		return cached, nil
	}

	visitor, err := l.store.GetVisitor(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	l.cache.SetVisitor(ctx, visitor)

	return visitor, nil
}

// fillClientInfo derives device, browser, and OS from the user agent
// string when the caller did not supply them.
func fillClientInfo(metadata *models.VisitorMetadata) {
	if metadata.UserAgent == "" {
		return
	}
	if metadata.Device != "" && metadata.Browser != "" && metadata.OS != "" {
		return
	}

	ua := useragent.New(metadata.UserAgent)
	if metadata.Browser == "" {
		name, _ := ua.Browser()
		metadata.Browser = name
	}
	if metadata.OS == "" {
		metadata.OS = ua.OS()
	}
	if metadata.Device == "" {
		switch {
		case ua.Bot():
			metadata.Device = "bot"
		case ua.Mobile():
			metadata.Device = "mobile"
		default:
			metadata.Device = "desktop"
		}
	}
}
