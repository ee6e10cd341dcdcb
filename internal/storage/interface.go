package storage

import (
	"context"
	"time"

	"visitor-tracker/internal/models"
)

// Storage is the durable visitor store. Adapters exist for Postgres,
// SQLite, and an in-memory implementation used by tests.
//
// Reads return the stored representation or a not-found error; the cache
// layer sits in front of this interface and is never consulted by it.
type Storage interface {
	// GetVisitor retrieves a visitor by ID
	GetVisitor(ctx context.Context, id string) (*models.Visitor, error)

	// CreateVisitor persists a new visitor record
	CreateVisitor(ctx context.Context, visitor *models.Visitor) error

	// UpdateVisitor applies a partial update and returns the stored result
	UpdateVisitor(ctx context.Context, id string, update VisitorUpdate) (*models.Visitor, error)

	// AppendActivities durably appends a batch of activities for a visitor.
	// Appends are idempotent at the store: re-appending an activity ID
	// already present is a no-op, which makes flush retries safe.
	AppendActivities(ctx context.Context, visitorID string, activities []models.Activity) error

	// GetActivities returns the durable activities for a visitor, oldest first
	GetActivities(ctx context.Context, visitorID string, limit int) ([]models.Activity, error)

	// DeleteVisitor removes a visitor record
	DeleteVisitor(ctx context.Context, id string) error

	// DeleteActivities removes all durable activities for a visitor
	DeleteActivities(ctx context.Context, visitorID string) error

	// ListExpired returns visitors whose retention date has passed
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Visitor, error)

	Health() error
	Close() error
}

// VisitorUpdate is a partial visitor mutation. Nil fields are left
// untouched by the adapter.
type VisitorUpdate struct {
	Email          *string
	Name           *string
	Phone          *string
	Status         *models.VisitorStatus
	Metadata       *models.VisitorMetadata
	Enriched       *models.EnrichedData
	Visits         *int
	TotalTimeSpent *int64
	LastSeen       *time.Time
	LastEnriched   *time.Time
	IsActive       *bool
	Tags           *[]string
	GDPRConsent    *bool
	RetentionDate  *time.Time
}

// Apply merges the update into a visitor snapshot in memory. All adapters
// load-modify-store with this helper so partial-update semantics cannot
// drift between backends.
func (u VisitorUpdate) Apply(v *models.Visitor) {
	if u.Email != nil {
		v.Email = *u.Email
	}
	if u.Name != nil {
		v.Name = *u.Name
	}
	if u.Phone != nil {
		v.Phone = *u.Phone
	}
	if u.Status != nil {
		v.Status = *u.Status
	}
	if u.Metadata != nil {
		v.Metadata = *u.Metadata
	}
	if u.Enriched != nil {
		v.Enriched = u.Enriched
	}
	if u.Visits != nil {
		v.Visits = *u.Visits
	}
	if u.TotalTimeSpent != nil {
		v.TotalTimeSpent = *u.TotalTimeSpent
	}
	if u.LastSeen != nil {
		v.LastSeen = *u.LastSeen
	}
	if u.LastEnriched != nil {
		v.LastEnriched = u.LastEnriched
	}
	if u.IsActive != nil {
		v.IsActive = *u.IsActive
	}
	if u.Tags != nil {
		v.Tags = *u.Tags
	}
	if u.GDPRConsent != nil {
		v.GDPRConsent = *u.GDPRConsent
	}
	if u.RetentionDate != nil {
		v.RetentionDate = u.RetentionDate
	}
}
