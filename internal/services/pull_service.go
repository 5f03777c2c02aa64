package services

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bankfeeds/backend/internal/bucket"
	"github.com/bankfeeds/backend/internal/providers"
)

// PullService exposes on-demand provider pulls over HTTP. The scheduled
// polling loop uses the same scheduler; this surface exists for manual
// backfills and connection testing.
type PullService struct {
	scheduler *bucket.Scheduler
	registry  *providers.Registry
	validator *ValidationHelper
}

// NewPullService wires the provider pull surface.
func NewPullService(scheduler *bucket.Scheduler, registry *providers.Registry) *PullService {
	return &PullService{
		scheduler: scheduler,
		registry:  registry,
		validator: NewValidationHelper(),
	}
}

// PullRequest describes one connection to pull right now.
type PullRequest struct {
	ConnectionID  string            `json:"connection_id" validate:"required"`
	JournalID     int64             `json:"journal_id" validate:"required,gt=0"`
	AccountID     string            `json:"account_id" validate:"required"`
	AccountNumber string            `json:"account_number"`
	Currency      string            `json:"currency" validate:"omitempty,len=3"`
	BaseURL       string            `json:"base_url" validate:"omitempty,url"`
	Credentials   map[string]string `json:"credentials" validate:"required"`
}

// Pull runs one immediate pull for the service named in the URL.
func (s *PullService) Pull(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	log.Printf("[PROVIDER] manual pull for %s from IP: %s", service, r.RemoteAddr)

	if _, err := s.registry.Get(service); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req PullRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	conn := providers.Connection{
		ID:            req.ConnectionID,
		Service:       service,
		JournalID:     req.JournalID,
		AccountID:     req.AccountID,
		AccountNumber: req.AccountNumber,
		Currency:      req.Currency,
		BaseURL:       req.BaseURL,
		Credentials:   req.Credentials,
	}

	result, err := s.scheduler.PullOne(r.Context(), conn, time.Now())
	if err != nil {
		if errors.Is(err, providers.ErrUnknownService) {
			SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
			return
		}
		if providers.IsTransient(err) {
			log.Printf("[PROVIDER] transient failure for %s connection %s: %v", service, conn.ID, err)
			SendErrorResponse(w, err.Error(), http.StatusBadGateway, nil)
			return
		}
		log.Printf("[PROVIDER] pull failed for %s connection %s: %v", service, conn.ID, err)
		SendErrorResponse(w, "Pull failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Services lists the supported provider service names.
func (s *PullService) Services(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"services": s.registry.Services()})
}
