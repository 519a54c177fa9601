// Package store persists the orchestration core's entities in Postgres.
// Layout follows one repository per entity over a shared pgx pool.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tailhq/courier/internal/channel"
)

// Not-found sentinels. Repositories wrap these so callers can map them
// with errors.Is.
var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrJourneyNotFound    = errors.New("journey not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
)

// Message statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusQueued  = "queued"
)

// Message is one send attempt. Immutable once sent except for status
// transitions.
type Message struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	RelatedEntityID   *uuid.UUID       `json:"related_entity_id,omitempty"`
	TemplateID        uuid.UUID        `json:"template_id"`
	Channel           channel.Channel  `json:"channel"`
	Priority          channel.Priority `json:"priority"`
	Payload           json.RawMessage  `json:"payload"`
	Variables         json.RawMessage  `json:"variables,omitempty"`
	VariantID         string           `json:"variant_id,omitempty"`
	Status            string           `json:"status"`
	Attempt           int              `json:"attempt"`
	MaxRetries        int              `json:"max_retries"`
	ScheduledAt       *time.Time       `json:"scheduled_at,omitempty"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	EstimatedDelivery *time.Time       `json:"estimated_delivery,omitempty"`
	ErrorMessage      *string          `json:"error_message,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// InboxItem is the in-app copy of a message. Written unconditionally on
// every send so the user never loses content, whatever the primary
// channel's outcome.
type InboxItem struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	MessageID uuid.UUID       `json:"message_id"`
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body"`
	CTAs      json.RawMessage `json:"ctas,omitempty"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// TriggerType discriminates how a journey starts.
type TriggerType string

const (
	TriggerEvent      TriggerType = "event"
	TriggerInactivity TriggerType = "inactivity"
	TriggerDateOffset TriggerType = "date_offset"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerEvent, TriggerInactivity, TriggerDateOffset:
		return true
	}
	return false
}

// Trigger describes what enrolls users into a journey.
type Trigger struct {
	Type           TriggerType `json:"type"`
	EventType      string      `json:"event_type,omitempty"`
	InactivityDays int         `json:"inactivity_days,omitempty"`
	DateField      string      `json:"date_field,omitempty"`
	OffsetDays     int         `json:"offset_days,omitempty"`
}

// ActionType is the closed set of things a journey step can do. The
// engine matches it exhaustively; adding a type is a compile-visible
// change, not a silent no-op.
type ActionType string

const (
	ActionSendMessage    ActionType = "send_message"
	ActionWait           ActionType = "wait"
	ActionUpdateProperty ActionType = "update_property"
	ActionAddTag         ActionType = "add_tag"
	ActionRemoveTag      ActionType = "remove_tag"
	ActionWebhook        ActionType = "webhook"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionSendMessage, ActionWait, ActionUpdateProperty, ActionAddTag, ActionRemoveTag, ActionWebhook:
		return true
	}
	return false
}

// StepDelay is how long to wait before a step runs, measured from the
// previous step's completion (enrollment time for the first step).
type StepDelay struct {
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
}

// Duration composes the delay components.
func (d StepDelay) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
}

// StepAction carries the action type plus its type-specific fields.
type StepAction struct {
	Type       ActionType       `json:"type"`
	TemplateID *uuid.UUID       `json:"template_id,omitempty"`
	Priority   channel.Priority `json:"priority,omitempty"`
	Variables  map[string]any   `json:"variables,omitempty"`
	Property   string           `json:"property,omitempty"`
	Value      any              `json:"value,omitempty"`
	Tag        string           `json:"tag,omitempty"`
	WebhookURL string           `json:"webhook_url,omitempty"`
}

// Condition gates a step's execution against the enrollment context.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// JourneyStep is one ordered step of a journey definition.
type JourneyStep struct {
	ID         uuid.UUID   `json:"id"`
	Order      int         `json:"order"`
	Delay      StepDelay   `json:"delay"`
	Action     StepAction  `json:"action"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// JourneySettings tunes how enrollments behave.
type JourneySettings struct {
	Timezone          string   `json:"timezone,omitempty"`
	MaxMessagesPerDay int      `json:"max_messages_per_day,omitempty"`
	RespectQuietHours bool     `json:"respect_quiet_hours"`
	ExitOnConversion  bool     `json:"exit_on_conversion"`
	ExitEvents        []string `json:"exit_events,omitempty"`
	AllowReEntry      bool     `json:"allow_re_entry"`
	CooldownDays      int      `json:"cooldown_days,omitempty"`
}

// Journey is an immutable campaign definition: trigger + ordered steps +
// settings.
type Journey struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Trigger     Trigger         `json:"trigger"`
	Steps       []JourneyStep   `json:"steps"`
	Settings    JourneySettings `json:"settings"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StepByID finds a step in the definition.
func (j *Journey) StepByID(id uuid.UUID) (*JourneyStep, int) {
	for i := range j.Steps {
		if j.Steps[i].ID == id {
			return &j.Steps[i], i
		}
	}
	return nil, -1
}

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentExited    = "exited"
)

// Exit reasons recorded on terminal enrollments.
const (
	ExitReasonConverted = "converted"
	ExitReasonEvent     = "exit_event"
	ExitReasonManual    = "manual"
)

// Enrollment is one user's live progress through one journey instance.
// Never deleted; terminal states preserve the audit history.
type Enrollment struct {
	ID               uuid.UUID      `json:"id"`
	JourneyID        uuid.UUID      `json:"journey_id"`
	UserID           uuid.UUID      `json:"user_id"`
	RelatedEntityID  *uuid.UUID     `json:"related_entity_id,omitempty"`
	Status           string         `json:"status"`
	CurrentStepID    *uuid.UUID     `json:"current_step_id,omitempty"`
	NextExecutionAt  *time.Time     `json:"next_execution_at,omitempty"`
	CompletedStepIDs []uuid.UUID    `json:"completed_step_ids,omitempty"`
	SentMessageIDs   []uuid.UUID    `json:"sent_message_ids,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	ClaimedUntil     *time.Time     `json:"claimed_until,omitempty"`
	ExitReason       *string        `json:"exit_reason,omitempty"`
	EnrolledAt       time.Time      `json:"enrolled_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ExitedAt         *time.Time     `json:"exited_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
