package storage

import (
	"context"
	"sync"
	"time"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/models"
)

// MemoryStorage is an in-memory Storage implementation. It backs unit
// tests and local development without a database.
type MemoryStorage struct {
	mu         sync.RWMutex
	visitors   map[string]*models.Visitor
	activities map[string][]models.Activity
	seenIDs    map[string]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		visitors:   make(map[string]*models.Visitor),
		activities: make(map[string][]models.Activity),
		seenIDs:    make(map[string]struct{}),
	}
}

func (s *MemoryStorage) GetVisitor(ctx context.Context, id string) (*models.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visitor, ok := s.visitors[id]
	if !ok {
		return nil, errors.NotFoundError("visitor").WithContext("id", id)
	}

	return cloneVisitor(visitor), nil
}

func (s *MemoryStorage) CreateVisitor(ctx context.Context, visitor *models.Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.visitors[visitor.ID]; exists {
		return errors.ValidationError("visitor already exists").WithContext("id", visitor.ID)
	}

	s.visitors[visitor.ID] = cloneVisitor(visitor)
	return nil
}

func (s *MemoryStorage) UpdateVisitor(ctx context.Context, id string, update VisitorUpdate) (*models.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visitor, ok := s.visitors[id]
	if !ok {
		return nil, errors.NotFoundError("visitor").WithContext("id", id)
	}

	update.Apply(visitor)
	return cloneVisitor(visitor), nil
}

func (s *MemoryStorage) AppendActivities(ctx context.Context, visitorID string, activities []models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.visitors[visitorID]; !ok {
		return errors.NotFoundError("visitor").WithContext("id", visitorID)
	}

	for _, act := range activities {
		// Idempotent append: a retried flush may resend IDs that already
		// landed.
		if _, seen := s.seenIDs[act.ID]; seen {
			continue
		}
		s.seenIDs[act.ID] = struct{}{}
		s.activities[visitorID] = append(s.activities[visitorID], act)
	}

	return nil
}

func (s *MemoryStorage) GetActivities(ctx context.Context, visitorID string, limit int) ([]models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acts := s.activities[visitorID]
	if limit > 0 && len(acts) > limit {
		acts = acts[:limit]
	}

	out := make([]models.Activity, len(acts))
	copy(out, acts)
	return out, nil
}

func (s *MemoryStorage) DeleteVisitor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.visitors[id]; !ok {
		return errors.NotFoundError("visitor").WithContext("id", id)
	}

	delete(s.visitors, id)
	return nil
}

func (s *MemoryStorage) DeleteActivities(ctx context.Context, visitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, act := range s.activities[visitorID] {
		delete(s.seenIDs, act.ID)
	}
	delete(s.activities, visitorID)
	return nil
}

func (s *MemoryStorage) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*models.Visitor
	for _, visitor := range s.visitors {
		if visitor.RetentionDate != nil && visitor.RetentionDate.Before(now) {
			expired = append(expired, cloneVisitor(visitor))
			if limit > 0 && len(expired) >= limit {
				break
			}
		}
	}

	return expired, nil
}

func (s *MemoryStorage) Health() error {
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// cloneVisitor deep-copies a visitor so callers cannot mutate stored state.
func cloneVisitor(v *models.Visitor) *models.Visitor {
	out := *v

	if v.Metadata.PreviousPages != nil {
		out.Metadata.PreviousPages = append([]string(nil), v.Metadata.PreviousPages...)
	}
	if v.Metadata.CustomParams != nil {
		out.Metadata.CustomParams = make(map[string]string, len(v.Metadata.CustomParams))
		for k, val := range v.Metadata.CustomParams {
			out.Metadata.CustomParams[k] = val
		}
	}
	if v.Metadata.Location != nil {
		loc := *v.Metadata.Location
		out.Metadata.Location = &loc
	}
	if v.Tags != nil {
		out.Tags = append([]string(nil), v.Tags...)
	}
	if v.Enriched != nil {
		enriched := *v.Enriched
		if v.Enriched.Technologies != nil {
			enriched.Technologies = append([]string(nil), v.Enriched.Technologies...)
		}
		if v.Enriched.SocialProfiles != nil {
			enriched.SocialProfiles = make(map[string]string, len(v.Enriched.SocialProfiles))
			for k, val := range v.Enriched.SocialProfiles {
				enriched.SocialProfiles[k] = val
			}
		}
		if v.Enriched.CustomFields != nil {
			enriched.CustomFields = make(map[string]interface{}, len(v.Enriched.CustomFields))
			for k, val := range v.Enriched.CustomFields {
				enriched.CustomFields[k] = val
			}
		}
		out.Enriched = &enriched
	}
	if v.LastEnriched != nil {
		t := *v.LastEnriched
		out.LastEnriched = &t
	}
	if v.RetentionDate != nil {
		t := *v.RetentionDate
		out.RetentionDate = &t
	}

	return &out
}
