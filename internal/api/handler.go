package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minutecast/minutecast/internal/coordinator"
	"github.com/minutecast/minutecast/internal/domain"
	"github.com/minutecast/minutecast/internal/tracker"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Engine is the distribution surface the API exposes.
type Engine interface {
	Submit(ctx context.Context, doc domain.Document, recipients []domain.Recipient, opts domain.JobOptions) (uuid.UUID, error)
	Status(jobID uuid.UUID) (domain.Job, error)
	Cancel(jobID uuid.UUID) error
}

// AttemptLister serves the per-job attempt audit trail.
type AttemptLister interface {
	ListAttempts(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.SendAttempt, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	engine   Engine
	attempts AttemptLister // optional, nil = attempts endpoint disabled
	db       HealthChecker // optional, nil = simple health only
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// WithAttemptLister enables the attempt history endpoint.
func (h *Handler) WithAttemptLister(lister AttemptLister) *Handler {
	h.attempts = lister
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// Router builds the HTTP routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.health)
	r.Route("/distributions", func(r chi.Router) {
		r.Post("/", h.createDistribution)
		r.Get("/{id}", h.getDistribution)
		r.Delete("/{id}", h.cancelDistribution)
		r.Get("/{id}/attempts", h.listAttempts)
	})
	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createDistribution(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateDistribution(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc := domain.Document{
		MinutesID: uuid.MustParse(req.MinutesID),
		MeetingID: uuid.MustParse(req.MeetingID),
		Subject:   req.Subject,
		HTMLBody:  req.HTMLBody,
		TextBody:  req.TextBody,
	}

	recipients := make([]domain.Recipient, len(req.Recipients))
	for i, rec := range req.Recipients {
		recipients[i] = domain.Recipient{
			ContactAddress:    rec.ContactAddress,
			ChannelPreference: domain.ChannelPreference(rec.Channel),
		}
	}

	opts := domain.JobOptions{
		MaxRetries: req.MaxRetries,
		Priority:   domain.Priority(req.Priority),
	}

	jobID, err := h.engine.Submit(r.Context(), doc, recipients, opts)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("api: create distribution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create distribution")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateDistributionResponse{JobID: jobID.String()})
}

func (h *Handler) getDistribution(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.engine.Status(jobID)
	if err != nil {
		if errors.Is(err, tracker.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "distribution not found")
			return
		}
		log.Printf("api: get distribution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get distribution")
		return
	}

	writeJSON(w, http.StatusOK, toDistributionResponse(job))
}

func (h *Handler) cancelDistribution(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.engine.Cancel(jobID); err != nil {
		switch {
		case errors.Is(err, tracker.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "distribution not found")
		case errors.Is(err, coordinator.ErrJobTerminal):
			writeError(w, http.StatusConflict, "distribution already finished")
		default:
			log.Printf("api: cancel distribution error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel distribution")
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, http.StatusNotFound, "attempt history not available")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	attempts, err := h.attempts.ListAttempts(r.Context(), jobID, limit, offset)
	if err != nil {
		log.Printf("api: list attempts error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	resp := ListAttemptsResponse{Attempts: make([]AttemptResponse, len(attempts))}
	for i, a := range attempts {
		resp.Attempts[i] = AttemptResponse{
			ID:          a.ID.String(),
			RecipientID: a.RecipientID.String(),
			Channel:     string(a.Channel),
			Attempt:     a.Attempt,
			Outcome:     string(a.Outcome),
			Error:       a.Error,
			StartedAt:   formatTime(a.StartedAt),
			DurationMS:  a.Duration.Milliseconds(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func toDistributionResponse(job domain.Job) DistributionResponse {
	resp := DistributionResponse{
		JobID:      job.ID.String(),
		MinutesID:  job.MinutesID.String(),
		MeetingID:  job.MeetingID.String(),
		Status:     string(job.Status),
		Priority:   string(job.Priority),
		RetryCount: job.RetryCount,
		LastError:  job.LastError,
		Recipients: make([]RecipientResponse, len(job.Recipients)),
		CreatedAt:  formatTime(job.CreatedAt),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = formatTime(*job.CompletedAt)
	}
	for i, rec := range job.Recipients {
		r := RecipientResponse{
			ID:             rec.ID.String(),
			ContactAddress: rec.ContactAddress,
			Channel:        string(rec.ChannelPreference),
			Status:         string(rec.DeliveryStatus),
			RetryCount:     rec.RetryCount,
			LastError:      rec.LastError,
		}
		if rec.DeliveredAt != nil {
			r.DeliveredAt = formatTime(*rec.DeliveredAt)
		}
		resp.Recipients[i] = r
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
