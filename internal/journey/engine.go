// Package journey advances users through multi-step communication
// journeys: durable enrollments, a scheduler-driven tick that executes
// due steps, and event-driven enrollment and exit.
package journey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/metrics"
	"github.com/tailhq/courier/internal/orchestrator"
	"github.com/tailhq/courier/internal/store"
)

// Sentinel errors for the enrollment contract. Callers match with
// errors.Is.
var (
	ErrNotFound        = errors.New("journey not found")
	ErrInactive        = errors.New("journey is inactive")
	ErrAlreadyEnrolled = errors.New("user already enrolled in journey")
	ErrCooldownActive  = errors.New("re-entry cooldown has not elapsed")
)

// Conversion events end a journey early when exit-on-conversion is set.
var conversionEvents = map[string]bool{
	"order.completed":      true,
	"subscription.created": true,
	"appointment.booked":   true,
}

// Event is an inbound domain event.
type Event struct {
	UserID          uuid.UUID      `json:"user_id"`
	EventType       string         `json:"event_type"`
	EventData       map[string]any `json:"event_data,omitempty"`
	RelatedEntityID *uuid.UUID     `json:"related_entity_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// JourneyStore is the journey definition surface the engine consumes.
type JourneyStore interface {
	GetJourney(ctx context.Context, id uuid.UUID) (*store.Journey, error)
	ListActiveByTriggerEvent(ctx context.Context, eventType string) ([]*store.Journey, error)
	ListActive(ctx context.Context) ([]*store.Journey, error)
}

// EnrollmentStore persists enrollment state.
type EnrollmentStore interface {
	CreateEnrollment(ctx context.Context, e *store.Enrollment) error
	GetEnrollment(ctx context.Context, id uuid.UUID) (*store.Enrollment, error)
	GetLatestByUserAndJourney(ctx context.Context, userID, journeyID uuid.UUID) (*store.Enrollment, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*store.Enrollment, error)
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*store.Enrollment, error)
	UpdateEnrollment(ctx context.Context, e *store.Enrollment) error
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
}

// Sender dispatches journey messages through the orchestrator.
type Sender interface {
	SendMessage(ctx context.Context, req *orchestrator.SendRequest) (*orchestrator.SendResult, error)
}

// CRMClient applies property and tag mutations to the external user
// profile store. Implementations must be idempotent: a retried tick may
// repeat a call.
type CRMClient interface {
	UpdateProperty(ctx context.Context, userID uuid.UUID, property string, value any) error
	AddTag(ctx context.Context, userID uuid.UUID, tag string) error
	RemoveTag(ctx context.Context, userID uuid.UUID, tag string) error
}

// ActivitySource tracks when each user was last active. Every inbound
// event touches it; inactivity-triggered journeys read from it.
type ActivitySource interface {
	Touch(ctx context.Context, userID uuid.UUID, at time.Time) error
	LastActiveAt(ctx context.Context, userID uuid.UUID) (time.Time, error)
	InactiveSince(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

const (
	defaultClaimLimit = 100
	defaultLease      = 5 * time.Minute
)

// Engine runs journeys: enrollment eligibility, the scheduler tick, and
// event-driven transitions.
type Engine struct {
	journeys    JourneyStore
	enrollments EnrollmentStore
	sender      Sender
	crm         CRMClient
	activity    ActivitySource
	httpClient  *http.Client
	logger      *zap.Logger

	claimLimit int
	lease      time.Duration

	nowFunc func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCRM wires the CRM client for property and tag actions.
func WithCRM(crm CRMClient) Option {
	return func(e *Engine) { e.crm = crm }
}

// WithActivitySource wires the activity source for inactivity triggers.
func WithActivitySource(src ActivitySource) Option {
	return func(e *Engine) { e.activity = src }
}

// WithClaimLimit caps how many enrollments one tick claims.
func WithClaimLimit(n int) Option {
	return func(e *Engine) { e.claimLimit = n }
}

// WithLease sets the processing lease duration per claimed enrollment.
func WithLease(d time.Duration) Option {
	return func(e *Engine) { e.lease = d }
}

// NewEngine creates a journey engine.
func NewEngine(
	journeys JourneyStore,
	enrollments EnrollmentStore,
	sender Sender,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		journeys:    journeys,
		enrollments: enrollments,
		sender:      sender,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		claimLimit:  defaultClaimLimit,
		lease:       defaultLease,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.nowFunc()
}

// EnrollUser enrolls a user into a journey at its first step. Eligibility:
// the journey must exist and be active; without re-entry any prior
// enrollment blocks a new one; with re-entry the cooldown (from the
// prior enrollment's creation) is the only gate, whether or not the
// prior enrollment is still running.
func (e *Engine) EnrollUser(
	ctx context.Context,
	userID, journeyID uuid.UUID,
	enrollCtx map[string]any,
	relatedEntityID *uuid.UUID,
) (uuid.UUID, error) {
	j, err := e.journeys.GetJourney(ctx, journeyID)
	if err != nil {
		if errors.Is(err, store.ErrJourneyNotFound) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrNotFound, journeyID)
		}
		return uuid.Nil, err
	}
	if !j.Active {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInactive, journeyID)
	}

	prior, err := e.enrollments.GetLatestByUserAndJourney(ctx, userID, journeyID)
	if err != nil {
		return uuid.Nil, err
	}
	if prior != nil {
		if !j.Settings.AllowReEntry {
			if prior.Status == store.EnrollmentActive {
				return uuid.Nil, fmt.Errorf("%w: enrollment %s is active", ErrAlreadyEnrolled, prior.ID)
			}
			return uuid.Nil, fmt.Errorf("%w: journey does not allow re-entry", ErrAlreadyEnrolled)
		}
		cooldown := time.Duration(j.Settings.CooldownDays) * 24 * time.Hour
		if cooldown > 0 && e.now().Sub(prior.CreatedAt) < cooldown {
			return uuid.Nil, fmt.Errorf("%w: until %s", ErrCooldownActive, prior.CreatedAt.Add(cooldown).Format(time.RFC3339))
		}
	}

	now := e.now()
	enr := &store.Enrollment{
		ID:              uuid.New(),
		JourneyID:       journeyID,
		UserID:          userID,
		RelatedEntityID: relatedEntityID,
		Status:          store.EnrollmentActive,
		Context:         enrollCtx,
		EnrolledAt:      now,
	}

	if len(j.Steps) == 0 {
		// Nothing to run; the enrollment completes on arrival.
		enr.Status = store.EnrollmentCompleted
		enr.CompletedAt = &now
	} else {
		first := j.Steps[0]
		next := now.Add(first.Delay.Duration())
		enr.CurrentStepID = &first.ID
		enr.NextExecutionAt = &next
	}

	if err := e.enrollments.CreateEnrollment(ctx, enr); err != nil {
		return uuid.Nil, err
	}

	metrics.RecordEnrollment(enr.Status)
	e.logger.Info("user enrolled in journey",
		zap.String("enrollment_id", enr.ID.String()),
		zap.String("journey_id", journeyID.String()),
		zap.String("user_id", userID.String()),
	)

	return enr.ID, nil
}

// ProcessScheduledJourneys claims due enrollments and executes each one's
// current step. Failures are isolated per enrollment: the claim is
// released and the enrollment stays active for the next tick. Returns
// how many enrollments were processed.
func (e *Engine) ProcessScheduledJourneys(ctx context.Context) (int, error) {
	claimed, err := e.enrollments.ClaimDue(ctx, e.claimLimit, e.lease)
	if err != nil {
		return 0, fmt.Errorf("claim due enrollments: %w", err)
	}

	for _, enr := range claimed {
		if err := e.processEnrollment(ctx, enr); err != nil {
			e.logger.Error("enrollment step failed",
				zap.Error(err),
				zap.String("enrollment_id", enr.ID.String()),
				zap.String("journey_id", enr.JourneyID.String()),
			)
			if relErr := e.enrollments.ReleaseClaim(ctx, enr.ID); relErr != nil {
				e.logger.Error("failed to release enrollment claim",
					zap.Error(relErr),
					zap.String("enrollment_id", enr.ID.String()),
				)
			}
		}
	}

	return len(claimed), nil
}

// processEnrollment executes the enrollment's due step and advances it.
// The durable update at the end is what releases the lease: the next
// step cannot start before this one's completion is recorded.
func (e *Engine) processEnrollment(ctx context.Context, enr *store.Enrollment) error {
	j, err := e.journeys.GetJourney(ctx, enr.JourneyID)
	if err != nil {
		return fmt.Errorf("load journey: %w", err)
	}
	if !j.Active {
		return e.exitEnrollment(ctx, enr, store.ExitReasonManual)
	}

	if enr.CurrentStepID == nil {
		return e.completeEnrollment(ctx, enr)
	}
	step, idx := j.StepByID(*enr.CurrentStepID)
	if step == nil {
		return e.completeEnrollment(ctx, enr)
	}

	if conditionsMet(step.Conditions, enr.Context) {
		if err := e.executeAction(ctx, j, enr, step); err != nil {
			metrics.RecordJourneyStep(string(step.Action.Type), "error")
			return fmt.Errorf("execute step %s: %w", step.ID, err)
		}
		metrics.RecordJourneyStep(string(step.Action.Type), "executed")
	} else {
		metrics.RecordJourneyStep(string(step.Action.Type), "skipped")
		e.logger.Debug("step conditions not met, skipping",
			zap.String("enrollment_id", enr.ID.String()),
			zap.String("step_id", step.ID.String()),
		)
	}

	enr.CompletedStepIDs = append(enr.CompletedStepIDs, step.ID)

	// The next delay is anchored to when this step was due, not to the
	// tick that happened to run it, so a late tick does not push every
	// following step later.
	base := e.now()
	if enr.NextExecutionAt != nil {
		base = *enr.NextExecutionAt
	}

	if idx+1 >= len(j.Steps) {
		return e.completeEnrollment(ctx, enr)
	}

	next := j.Steps[idx+1]
	nextAt := base.Add(next.Delay.Duration())
	enr.CurrentStepID = &next.ID
	enr.NextExecutionAt = &nextAt

	return e.enrollments.UpdateEnrollment(ctx, enr)
}

func (e *Engine) completeEnrollment(ctx context.Context, enr *store.Enrollment) error {
	now := e.now()
	enr.Status = store.EnrollmentCompleted
	enr.CurrentStepID = nil
	enr.NextExecutionAt = nil
	enr.CompletedAt = &now

	if err := e.enrollments.UpdateEnrollment(ctx, enr); err != nil {
		return err
	}

	metrics.RecordEnrollment(store.EnrollmentCompleted)
	e.logger.Info("enrollment completed",
		zap.String("enrollment_id", enr.ID.String()),
		zap.String("journey_id", enr.JourneyID.String()),
	)
	return nil
}

func (e *Engine) exitEnrollment(ctx context.Context, enr *store.Enrollment, reason string) error {
	now := e.now()
	enr.Status = store.EnrollmentExited
	enr.NextExecutionAt = nil
	enr.ExitReason = &reason
	enr.ExitedAt = &now

	if err := e.enrollments.UpdateEnrollment(ctx, enr); err != nil {
		return err
	}

	metrics.RecordEnrollment(store.EnrollmentExited)
	e.logger.Info("enrollment exited",
		zap.String("enrollment_id", enr.ID.String()),
		zap.String("journey_id", enr.JourneyID.String()),
		zap.String("reason", reason),
	)
	return nil
}

// executeAction runs one step action. The switch is exhaustive over the
// closed ActionType set.
func (e *Engine) executeAction(ctx context.Context, j *store.Journey, enr *store.Enrollment, step *store.JourneyStep) error {
	action := step.Action

	switch action.Type {
	case store.ActionSendMessage:
		return e.sendStepMessage(ctx, j, enr, step)

	case store.ActionWait:
		return nil

	case store.ActionUpdateProperty:
		if e.crm == nil {
			return fmt.Errorf("no CRM client configured for update_property")
		}
		return e.crm.UpdateProperty(ctx, enr.UserID, action.Property, action.Value)

	case store.ActionAddTag:
		if e.crm == nil {
			return fmt.Errorf("no CRM client configured for add_tag")
		}
		return e.crm.AddTag(ctx, enr.UserID, action.Tag)

	case store.ActionRemoveTag:
		if e.crm == nil {
			return fmt.Errorf("no CRM client configured for remove_tag")
		}
		return e.crm.RemoveTag(ctx, enr.UserID, action.Tag)

	case store.ActionWebhook:
		return e.callWebhook(ctx, enr, step)

	default:
		return fmt.Errorf("unknown action type: %q", action.Type)
	}
}

// sendStepMessage delegates to the orchestrator with the enrollment
// context merged into the variable bag. The resulting message id is
// recorded on the enrollment.
func (e *Engine) sendStepMessage(ctx context.Context, j *store.Journey, enr *store.Enrollment, step *store.JourneyStep) error {
	if step.Action.TemplateID == nil {
		return fmt.Errorf("send_message step %s has no template", step.ID)
	}

	vars := make(map[string]any, len(enr.Context)+len(step.Action.Variables)+2)
	for k, v := range enr.Context {
		vars[k] = v
	}
	for k, v := range step.Action.Variables {
		vars[k] = v
	}
	vars["journey_id"] = j.ID.String()
	vars["enrollment_id"] = enr.ID.String()

	result, err := e.sender.SendMessage(ctx, &orchestrator.SendRequest{
		UserID:          enr.UserID,
		TemplateID:      *step.Action.TemplateID,
		RelatedEntityID: enr.RelatedEntityID,
		Priority:        step.Action.Priority,
		Variables:       vars,
	})
	if err != nil {
		return err
	}

	enr.SentMessageIDs = append(enr.SentMessageIDs, result.MessageID)
	return nil
}

type webhookPayload struct {
	UserID       uuid.UUID      `json:"user_id"`
	JourneyID    uuid.UUID      `json:"journey_id"`
	EnrollmentID uuid.UUID      `json:"enrollment_id"`
	StepID       uuid.UUID      `json:"step_id"`
	Context      map[string]any `json:"context,omitempty"`
}

func (e *Engine) callWebhook(ctx context.Context, enr *store.Enrollment, step *store.JourneyStep) error {
	if step.Action.WebhookURL == "" {
		return fmt.Errorf("webhook step %s has no url", step.ID)
	}

	body, err := json.Marshal(webhookPayload{
		UserID:       enr.UserID,
		JourneyID:    enr.JourneyID,
		EnrollmentID: enr.ID,
		StepID:       step.ID,
		Context:      enr.Context,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, step.Action.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// HandleUserEvent reacts to a domain event: exits the user's active
// enrollments whose journey lists the event as an exit event or, for
// conversion events, has exit-on-conversion set; then attempts to enroll
// the user into active journeys triggered by this event type.
func (e *Engine) HandleUserEvent(ctx context.Context, ev *Event) error {
	if e.activity != nil {
		at := ev.Timestamp
		if at.IsZero() {
			at = e.now()
		}
		if err := e.activity.Touch(ctx, ev.UserID, at); err != nil {
			e.logger.Warn("failed to record user activity",
				zap.Error(err),
				zap.String("user_id", ev.UserID.String()),
			)
		}
	}

	active, err := e.enrollments.ListActiveByUser(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("list active enrollments: %w", err)
	}

	for _, enr := range active {
		j, err := e.journeys.GetJourney(ctx, enr.JourneyID)
		if err != nil {
			e.logger.Error("failed to load journey for event",
				zap.Error(err),
				zap.String("enrollment_id", enr.ID.String()),
			)
			continue
		}

		reason := exitReasonFor(j, ev.EventType)
		if reason == "" {
			continue
		}
		if err := e.exitEnrollment(ctx, enr, reason); err != nil {
			e.logger.Error("failed to exit enrollment",
				zap.Error(err),
				zap.String("enrollment_id", enr.ID.String()),
			)
		}
	}

	triggered, err := e.journeys.ListActiveByTriggerEvent(ctx, ev.EventType)
	if err != nil {
		return fmt.Errorf("list triggered journeys: %w", err)
	}

	for _, j := range triggered {
		_, err := e.EnrollUser(ctx, ev.UserID, j.ID, ev.EventData, ev.RelatedEntityID)
		if err != nil {
			if errors.Is(err, ErrAlreadyEnrolled) || errors.Is(err, ErrCooldownActive) {
				e.logger.Debug("event enrollment not eligible",
					zap.String("journey_id", j.ID.String()),
					zap.String("user_id", ev.UserID.String()),
					zap.String("reason", err.Error()),
				)
				continue
			}
			e.logger.Error("event enrollment failed",
				zap.Error(err),
				zap.String("journey_id", j.ID.String()),
				zap.String("user_id", ev.UserID.String()),
			)
		}
	}

	return nil
}

func exitReasonFor(j *store.Journey, eventType string) string {
	for _, exit := range j.Settings.ExitEvents {
		if exit == eventType {
			return store.ExitReasonEvent
		}
	}
	if j.Settings.ExitOnConversion && conversionEvents[eventType] {
		return store.ExitReasonConverted
	}
	return ""
}

// ProcessInactivityJourneys scans for dormant users and enrolls them
// into active inactivity-triggered journeys. Runs on the scheduler tick;
// enrollment eligibility rules keep repeat scans from double-enrolling.
// Returns how many enrollments were created. A nil activity source makes
// this a no-op.
func (e *Engine) ProcessInactivityJourneys(ctx context.Context) (int, error) {
	if e.activity == nil {
		return 0, nil
	}

	journeys, err := e.journeys.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active journeys: %w", err)
	}

	enrolled := 0
	for _, j := range journeys {
		if j.Trigger.Type != store.TriggerInactivity {
			continue
		}

		cutoff := e.now().Add(-time.Duration(j.Trigger.InactivityDays) * 24 * time.Hour)
		candidates, err := e.activity.InactiveSince(ctx, cutoff)
		if err != nil {
			e.logger.Error("inactivity scan failed",
				zap.Error(err),
				zap.String("journey_id", j.ID.String()),
			)
			continue
		}

		for _, userID := range candidates {
			// A touch may land between the scan and the enroll.
			ok, err := e.InactivityEligible(ctx, j, userID)
			if err != nil || !ok {
				continue
			}
			if _, err := e.EnrollUser(ctx, userID, j.ID, nil, nil); err != nil {
				if errors.Is(err, ErrAlreadyEnrolled) || errors.Is(err, ErrCooldownActive) {
					continue
				}
				e.logger.Error("inactivity enrollment failed",
					zap.Error(err),
					zap.String("journey_id", j.ID.String()),
					zap.String("user_id", userID.String()),
				)
				continue
			}
			enrolled++
		}
	}

	return enrolled, nil
}

// InactivityEligible reports whether a user qualifies for an
// inactivity-triggered journey: at least the trigger's threshold of days
// since last activity. Without an activity source the answer is no.
func (e *Engine) InactivityEligible(ctx context.Context, j *store.Journey, userID uuid.UUID) (bool, error) {
	if j.Trigger.Type != store.TriggerInactivity {
		return false, nil
	}
	if e.activity == nil {
		return false, fmt.Errorf("no activity source configured")
	}

	lastActive, err := e.activity.LastActiveAt(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("last activity lookup: %w", err)
	}

	days := int(e.now().Sub(lastActive).Hours() / 24)
	return days >= j.Trigger.InactivityDays, nil
}
