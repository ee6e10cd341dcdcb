package models

import (
	"time"
)

// VisitorStatus tracks how far a visitor has progressed through the
// identity-resolution pipeline. Transitions are one-directional:
// ANONYMOUS -> IDENTIFIED -> ENRICHED.
type VisitorStatus string

const (
	StatusAnonymous  VisitorStatus = "ANONYMOUS"
	StatusIdentified VisitorStatus = "IDENTIFIED"
	StatusEnriched   VisitorStatus = "ENRICHED"
)

// rank orders statuses so a status never regresses when merged.
func (s VisitorStatus) rank() int {
	switch s {
	case StatusIdentified:
		return 1
	case StatusEnriched:
		return 2
	default:
		return 0
	}
}

// Advance returns the further-along of the two statuses.
func (s VisitorStatus) Advance(next VisitorStatus) VisitorStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// Visitor represents a tracked web session subject, progressing from
// anonymous to identified to enriched.
type Visitor struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"company_id"`
	Email          string          `json:"email,omitempty"`
	Name           string          `json:"name,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Status         VisitorStatus   `json:"status"`
	Metadata       VisitorMetadata `json:"metadata"`
	Enriched       *EnrichedData   `json:"enriched_data,omitempty"`
	Visits         int             `json:"visits"`
	TotalTimeSpent int64           `json:"total_time_spent"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
	LastEnriched   *time.Time      `json:"last_enriched,omitempty"`
	IsActive       bool            `json:"is_active"`
	Tags           []string        `json:"tags,omitempty"`
	GDPRConsent    bool            `json:"gdpr_consent"`
	RetentionDate  *time.Time      `json:"retention_date,omitempty"`
}

// VisitorMetadata captures the browsing context a visitor was seen in.
type VisitorMetadata struct {
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Referrer      string            `json:"referrer,omitempty"`
	CurrentPage   string            `json:"current_page,omitempty"`
	PreviousPages []string          `json:"previous_pages,omitempty"`
	CustomParams  map[string]string `json:"custom_params,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	Device        string            `json:"device,omitempty"`
	Browser       string            `json:"browser,omitempty"`
	OS            string            `json:"os,omitempty"`
}

// Location is a coarse geo attribution for a visitor.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// EnrichedData is the canonical shape assembled from one or more
// enrichment provider responses. Ownership is exclusive to the visitor.
type EnrichedData struct {
	Company        string                 `json:"company,omitempty"`
	Title          string                 `json:"title,omitempty"`
	Industry       string                 `json:"industry,omitempty"`
	Size           string                 `json:"size,omitempty"`
	Revenue        string                 `json:"revenue,omitempty"`
	Website        string                 `json:"website,omitempty"`
	Technologies   []string               `json:"technologies,omitempty"`
	LinkedInURL    string                 `json:"linkedin_url,omitempty"`
	SocialProfiles map[string]string      `json:"social_profiles,omitempty"`
	CustomFields   map[string]interface{} `json:"custom_fields,omitempty"`
}

// Activity is a single behavioral event. Activities live in an in-memory
// queue until the batch flusher appends them durably; they are never
// mutated after creation.
type Activity struct {
	ID            string                 `json:"id"`
	VisitorID     string                 `json:"visitor_id"`
	Type          string                 `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
	GDPRCompliant bool                   `json:"gdpr_compliant"`
}

// IdentificationData carries the contact fields supplied when a caller
// de-anonymizes a visitor.
type IdentificationData struct {
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	GDPRConsent bool   `json:"gdpr_consent"`
}

// IdentifyOptions tunes a single identifyVisitor call.
type IdentifyOptions struct {
	SkipEnrichment    bool   `json:"skip_enrichment"`
	ForceCacheRefresh bool   `json:"force_cache_refresh"`
	Priority          string `json:"priority,omitempty"` // high, normal, low
}
