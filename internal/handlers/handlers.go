// Package handlers exposes the visitor pipeline over HTTP.
package handlers

import (
	"github.com/gorilla/mux"

	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/redis"
	"visitor-tracker/internal/storage"
	"visitor-tracker/internal/visitors"
)

type Handlers struct {
	lifecycle *visitors.Lifecycle
	resolver  *visitors.Resolver
	storage   storage.Storage
	redis     *redis.Client
	logger    logging.Logger
}

func New(lifecycle *visitors.Lifecycle, resolver *visitors.Resolver, store storage.Storage, redisClient *redis.Client, logger logging.Logger) *Handlers {
	return &Handlers{
		lifecycle: lifecycle,
		resolver:  resolver,
		storage:   store,
		redis:     redisClient,
		logger:    logger,
	}
}

// RegisterRoutes wires all endpoints onto the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/visitors", h.HandleCreateVisitor).Methods("POST")
	api.HandleFunc("/visitors/{id}", h.HandleGetVisitor).Methods("GET")
	api.HandleFunc("/visitors/{id}/identify", h.HandleIdentifyVisitor).Methods("POST")
	api.HandleFunc("/visitors/{id}/activities", h.HandleTrackActivity).Methods("POST")
	api.HandleFunc("/visitors/{id}/activities", h.HandleListActivities).Methods("GET")
	api.HandleFunc("/visitors/{id}/enrich", h.HandleEnrichVisitor).Methods("POST")

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
