// Package api exposes the orchestration core over HTTP: sends, template
// management and previews, journey enrollments, and event ingestion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/journey"
	"github.com/tailhq/courier/internal/orchestrator"
	"github.com/tailhq/courier/internal/store"
	"github.com/tailhq/courier/internal/template"
)

// Sender dispatches messages.
type Sender interface {
	SendMessage(ctx context.Context, req *orchestrator.SendRequest) (*orchestrator.SendResult, error)
}

// TemplateStore manages and renders templates.
type TemplateStore interface {
	Create(ctx context.Context, tpl *template.Template) (*template.Template, error)
	Get(ctx context.Context, id uuid.UUID) (*template.Template, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Render(ctx context.Context, id uuid.UUID, ch channel.Channel, vars map[string]any, variantID string) (*template.RenderedContent, error)
}

// Enroller manages journey enrollments and event dispatch.
type Enroller interface {
	EnrollUser(ctx context.Context, userID, journeyID uuid.UUID, enrollCtx map[string]any, relatedEntityID *uuid.UUID) (uuid.UUID, error)
	HandleUserEvent(ctx context.Context, ev *journey.Event) error
}

// JourneyWriter persists and reads journey definitions.
type JourneyWriter interface {
	CreateJourney(ctx context.Context, j *store.Journey) error
	GetJourney(ctx context.Context, id uuid.UUID) (*store.Journey, error)
}

// MessageReader reads message and inbox state.
type MessageReader interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error)
	ListInboxByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*store.InboxItem, error)
}

// EnrollmentReader reads enrollment state.
type EnrollmentReader interface {
	GetEnrollment(ctx context.Context, id uuid.UUID) (*store.Enrollment, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	sender      Sender
	templates   TemplateStore
	enroller    Enroller
	journeys    JourneyWriter
	messages    MessageReader
	enrollments EnrollmentReader
}

// NewHandler creates a new API handler
func NewHandler(
	logger *zap.Logger,
	sender Sender,
	templates TemplateStore,
	enroller Enroller,
	journeys JourneyWriter,
	messages MessageReader,
	enrollments EnrollmentReader,
) *Handler {
	return &Handler{
		logger:      logger,
		sender:      sender,
		templates:   templates,
		enroller:    enroller,
		journeys:    journeys,
		messages:    messages,
		enrollments: enrollments,
	}
}

// Routes mounts the handler's endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/messages", h.SendMessage)
	r.Get("/v1/messages/{id}", h.GetMessage)
	r.Get("/v1/users/{id}/inbox", h.ListInbox)
	r.Post("/v1/templates", h.CreateTemplate)
	r.Get("/v1/templates/{id}", h.GetTemplate)
	r.Patch("/v1/templates/{id}/active", h.SetTemplateActive)
	r.Post("/v1/templates/{id}/render", h.RenderTemplate)
	r.Post("/v1/journeys", h.CreateJourney)
	r.Get("/v1/journeys/{id}", h.GetJourney)
	r.Post("/v1/journeys/{id}/enrollments", h.EnrollUser)
	r.Get("/v1/enrollments/{id}", h.GetEnrollment)
	r.Post("/v1/events", h.IngestEvent)
}

// SendMessage handles POST /v1/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := h.sender.SendMessage(r.Context(), &req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("send request handled",
		zap.String("message_id", result.MessageID.String()),
		zap.String("status", result.Status),
		zap.String("channel", string(result.Channel)),
	)

	h.writeJSON(w, http.StatusCreated, result)
}

// GetMessage handles GET /v1/messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	msg, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, msg)
}

// ListInbox handles GET /v1/users/{id}/inbox?limit=20&offset=0
func (h *Handler) ListInbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	limit, offset := paginationParams(r)
	items, err := h.messages.ListInboxByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list inbox",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list inbox", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl template.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	created, err := h.templates.Create(r.Context(), &tpl)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// GetTemplate handles GET /v1/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	tpl, err := h.templates.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, tpl)
}

// SetTemplateActive handles PATCH /v1/templates/{id}/active
func (h *Handler) SetTemplateActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Active == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing active flag", "active is required")
		return
	}

	if err := h.templates.SetActive(r.Context(), id, *req.Active); err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RenderRequest is the preview request body.
type RenderRequest struct {
	Channel   channel.Channel `json:"channel"`
	Variables map[string]any  `json:"variables,omitempty"`
	VariantID string          `json:"variant_id,omitempty"`
}

// RenderTemplate handles POST /v1/templates/{id}/render
func (h *Handler) RenderTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if !req.Channel.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"channel must be one of: push, email, whatsapp, sms, inbox")
		return
	}

	rendered, err := h.templates.Render(r.Context(), id, req.Channel, req.Variables, req.VariantID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rendered)
}

// CreateJourney handles POST /v1/journeys
func (h *Handler) CreateJourney(w http.ResponseWriter, r *http.Request) {
	var j store.Journey
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if detail := validateJourney(&j); detail != "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid journey definition", detail)
		return
	}

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	for i := range j.Steps {
		if j.Steps[i].ID == uuid.Nil {
			j.Steps[i].ID = uuid.New()
		}
		j.Steps[i].Order = i
	}
	j.Active = true

	if err := h.journeys.CreateJourney(r.Context(), &j); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("journey created",
		zap.String("journey_id", j.ID.String()),
		zap.String("name", j.Name),
		zap.Int("steps", len(j.Steps)),
	)

	h.writeJSON(w, http.StatusCreated, j)
}

// GetJourney handles GET /v1/journeys/{id}
func (h *Handler) GetJourney(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	j, err := h.journeys.GetJourney(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// validateJourney checks a journey definition before persistence.
// Returns an empty string when the definition is acceptable.
func validateJourney(j *store.Journey) string {
	if j.Name == "" {
		return "name is required"
	}
	if !j.Trigger.Type.Valid() {
		return "trigger type must be one of: event, inactivity, date_offset"
	}
	if j.Trigger.Type == store.TriggerEvent && j.Trigger.EventType == "" {
		return "event triggers require event_type"
	}
	if j.Trigger.Type == store.TriggerInactivity && j.Trigger.InactivityDays <= 0 {
		return "inactivity triggers require positive inactivity_days"
	}
	for i, step := range j.Steps {
		if !step.Action.Type.Valid() {
			return "step " + strconv.Itoa(i) + " has an unknown action type"
		}
		if step.Action.Type == store.ActionSendMessage && step.Action.TemplateID == nil {
			return "step " + strconv.Itoa(i) + " sends a message but has no template_id"
		}
		if step.Action.Type == store.ActionWebhook && step.Action.WebhookURL == "" {
			return "step " + strconv.Itoa(i) + " calls a webhook but has no webhook_url"
		}
	}
	return ""
}

// EnrollRequest is the enrollment request body.
type EnrollRequest struct {
	UserID          uuid.UUID      `json:"user_id"`
	Context         map[string]any `json:"context,omitempty"`
	RelatedEntityID *uuid.UUID     `json:"related_entity_id,omitempty"`
}

// EnrollUser handles POST /v1/journeys/{id}/enrollments
func (h *Handler) EnrollUser(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id is required")
		return
	}

	enrollmentID, err := h.enroller.EnrollUser(r.Context(), req.UserID, journeyID, req.Context, req.RelatedEntityID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"enrollment_id": enrollmentID.String(),
	})
}

// GetEnrollment handles GET /v1/enrollments/{id}
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	enr, err := h.enrollments.GetEnrollment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, enr)
}

// IngestEvent handles POST /v1/events, the HTTP alternative to the SQS
// event stream.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev journey.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if ev.UserID == uuid.Nil || ev.EventType == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"user_id and event_type are required")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := h.enroller.HandleUserEvent(r.Context(), &ev); err != nil {
		h.logger.Error("event handling failed",
			zap.Error(err),
			zap.String("event_type", ev.EventType),
		)
		h.writeError(w, http.StatusInternalServerError, "event_error", "Failed to process event", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound),
		errors.Is(err, journey.ErrNotFound),
		errors.Is(err, store.ErrMessageNotFound),
		errors.Is(err, store.ErrJourneyNotFound),
		errors.Is(err, store.ErrEnrollmentNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", err.Error())

	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, template.ErrValidation),
		errors.Is(err, template.ErrMissingVariable),
		errors.Is(err, template.ErrTypeMismatch),
		errors.Is(err, template.ErrValidationFailed),
		errors.Is(err, template.ErrUnsupportedChannel):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request", err.Error())

	case errors.Is(err, template.ErrInactive),
		errors.Is(err, journey.ErrInactive),
		errors.Is(err, journey.ErrAlreadyEnrolled),
		errors.Is(err, journey.ErrCooldownActive),
		errors.Is(err, orchestrator.ErrChannelDisabled):
		h.writeError(w, http.StatusConflict, "conflict", "Request conflicts with current state", err.Error())

	case errors.Is(err, orchestrator.ErrQuietHours),
		errors.Is(err, orchestrator.ErrFrequencyLimit):
		h.writeError(w, http.StatusTooManyRequests, "constraint_violation", "Delivery constraint blocked the send", err.Error())

	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
