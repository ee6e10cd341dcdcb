package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/models"
)

type createVisitorRequest struct {
	CompanyID   string                 `json:"company_id"`
	Metadata    models.VisitorMetadata `json:"metadata"`
	GDPRConsent bool                   `json:"gdpr_consent"`
}

func (h *Handlers) HandleCreateVisitor(w http.ResponseWriter, r *http.Request) {
	var req createVisitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, errors.ValidationError("invalid request body"), 0)
		return
	}

	// Fall back to transport headers when the tracking script did not
	// capture client details itself.
	if req.Metadata.UserAgent == "" {
		req.Metadata.UserAgent = r.UserAgent()
	}
	if req.Metadata.Referrer == "" {
		req.Metadata.Referrer = r.Referer()
	}

	visitor, err := h.lifecycle.CreateVisitor(r.Context(), req.CompanyID, req.Metadata, req.GDPRConsent)
	if err != nil {
		h.respondError(w, r, err, 0)
		return
	}

	h.respondJSON(w, http.StatusCreated, visitor)
}

func (h *Handlers) HandleGetVisitor(w http.ResponseWriter, r *http.Request) {
	visitor, err := h.lifecycle.GetVisitor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err, 0)
		return
	}

	h.respondJSON(w, http.StatusOK, visitor)
}

type identifyVisitorRequest struct {
	models.IdentificationData
	Options models.IdentifyOptions `json:"options"`
}

func (h *Handlers) HandleIdentifyVisitor(w http.ResponseWriter, r *http.Request) {
	var req identifyVisitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, errors.ValidationError("invalid request body"), 0)
		return
	}

	visitor, err := h.resolver.IdentifyVisitor(r.Context(), mux.Vars(r)["id"], req.IdentificationData, req.Options)
	if err != nil {
		h.respondError(w, r, err, h.resolver.RateLimitWindow())
		return
	}

	h.respondJSON(w, http.StatusOK, visitor)
}

func (h *Handlers) HandleTrackActivity(w http.ResponseWriter, r *http.Request) {
	var activity models.Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		h.respondError(w, r, errors.ValidationError("invalid request body"), 0)
		return
	}

	visitorID := mux.Vars(r)["id"]
	if err := h.lifecycle.TrackActivity(r.Context(), visitorID, activity); err != nil {
		h.respondError(w, r, err, 0)
		return
	}

	// Durable persistence is deferred to the batch flusher.
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handlers) HandleListActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondError(w, r, errors.ValidationError("limit must be a positive number"), 0)
			return
		}
		limit = parsed
	}

	visitorID := mux.Vars(r)["id"]
	if _, err := h.lifecycle.GetVisitor(r.Context(), visitorID); err != nil {
		h.respondError(w, r, err, 0)
		return
	}

	activities, err := h.storage.GetActivities(r.Context(), visitorID, limit)
	if err != nil {
		h.respondError(w, r, err, 0)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}

	h.respondJSON(w, http.StatusOK, activities)
}

func (h *Handlers) HandleEnrichVisitor(w http.ResponseWriter, r *http.Request) {
	visitor, err := h.lifecycle.GetVisitor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err, 0)
		return
	}

	enriched, err := h.resolver.EnrichVisitor(r.Context(), visitor)
	if err != nil {
		h.respondError(w, r, err, 0)
		return
	}

	h.respondJSON(w, http.StatusOK, enriched)
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]string{
		"status":  "healthy",
		"storage": "up",
		"redis":   "up",
	}

	if err := h.storage.Health(); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "degraded"
		health["storage"] = "down"
	}
	if err := h.redis.Health(); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "degraded"
		health["redis"] = "down"
	}

	h.respondJSON(w, status, health)
}
