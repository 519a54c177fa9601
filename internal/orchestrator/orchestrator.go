// Package orchestrator decides how a message reaches a user: which
// channel carries it, whether delivery constraints allow it, and what
// happens when the transport fails. Every send also lands in the user's
// in-app inbox, so the content is never lost to a transport outage.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/analytics"
	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/metrics"
	"github.com/tailhq/courier/internal/preference"
	"github.com/tailhq/courier/internal/provider"
	"github.com/tailhq/courier/internal/store"
	"github.com/tailhq/courier/internal/template"
)

// Sentinel errors for the send contract. Callers match with errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid send request")
	ErrQuietHours      = errors.New("send blocked by quiet hours")
	ErrFrequencyLimit  = errors.New("send blocked by frequency limit")
	ErrChannelDisabled = errors.New("requested channel not available for user")
)

// TemplateStore is the template surface the orchestrator consumes.
type TemplateStore interface {
	Get(ctx context.Context, id uuid.UUID) (*template.Template, error)
	Render(ctx context.Context, id uuid.UUID, ch channel.Channel, vars map[string]any, variantID string) (*template.RenderedContent, error)
}

// MessageStore persists messages and their status transitions.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, attempt int, errorMsg *string, estimatedDelivery *time.Time) error
	ClaimDueQueued(ctx context.Context, limit int) ([]*store.Message, error)
}

// SendCounter tracks recent sends per user and channel for frequency
// caps and anti-spam scoring.
type SendCounter interface {
	Record(ctx context.Context, userID uuid.UUID, ch channel.Channel, at time.Time) error
	CountToday(ctx context.Context, userID uuid.UUID, ch channel.Channel) (int, error)
	CountThisWeek(ctx context.Context, userID uuid.UUID, ch channel.Channel) (int, error)
}

// Analytics receives send outcome events.
type Analytics interface {
	RecordSend(ctx context.Context, ev analytics.Event)
}

// SendRequest asks for one message to be delivered to one user.
// Channel is optional: when nil, channel selection scores the
// candidates. ScheduleAt defers delivery to the scheduler.
type SendRequest struct {
	UserID          uuid.UUID        `json:"user_id"`
	TemplateID      uuid.UUID        `json:"template_id"`
	RelatedEntityID *uuid.UUID       `json:"related_entity_id,omitempty"`
	Channel         *channel.Channel `json:"channel,omitempty"`
	Priority        channel.Priority `json:"priority,omitempty"`
	Variables       map[string]any   `json:"variables,omitempty"`
	ScheduleAt      *time.Time       `json:"schedule_at,omitempty"`
	VariantID       string           `json:"variant_id,omitempty"`
}

// SendResult reports how a send request ended up.
type SendResult struct {
	MessageID         uuid.UUID       `json:"message_id"`
	Status            string          `json:"status"`
	Channel           channel.Channel `json:"channel"`
	VariantID         string          `json:"variant_id,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
}

// Orchestrator coordinates template rendering, channel selection,
// constraint checks, delivery, and fallback.
type Orchestrator struct {
	templates TemplateStore
	messages  MessageStore
	prefs     preference.Service
	registry  *channel.Registry
	sendLog   SendCounter
	analytics Analytics
	logger    *zap.Logger

	// nowFunc is swapped in tests for deterministic quiet-hour and
	// weekend decisions.
	nowFunc func() time.Time
}

// New creates an orchestrator.
func New(
	templates TemplateStore,
	messages MessageStore,
	prefs preference.Service,
	registry *channel.Registry,
	sendLog SendCounter,
	an Analytics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		templates: templates,
		messages:  messages,
		prefs:     prefs,
		registry:  registry,
		sendLog:   sendLog,
		analytics: an,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	return o.nowFunc()
}

// SendMessage runs the full orchestration sequence for one request:
// validate, load template and preferences, resolve the channel, enforce
// constraints, render, persist, and deliver with inbox backup and
// channel fallback.
func (o *Orchestrator) SendMessage(ctx context.Context, req *SendRequest) (*SendResult, error) {
	start := o.now()

	priority, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	tpl, err := o.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, fmt.Errorf("template %s: %w", tpl.ID, template.ErrInactive)
	}

	prefs := o.loadPreferences(ctx, req.UserID)

	if req.Channel != nil && !o.availableFor(tpl, prefs, *req.Channel, priority) {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, *req.Channel)
	}

	ch := o.resolveChannel(ctx, tpl, prefs, req.Channel, priority)

	if priority != channel.PriorityCritical {
		if err := o.checkConstraints(ctx, prefs, ch); err != nil {
			return nil, err
		}
	}

	variantID := req.VariantID
	if variantID == "" {
		variantID = template.PickVariant(tpl, req.UserID)
	}

	rendered, err := o.templates.Render(ctx, tpl.ID, ch, req.Variables, variantID)
	if err != nil {
		return nil, err
	}

	msg, err := o.createMessage(ctx, req, tpl, ch, priority, rendered, prefs, variantID)
	if err != nil {
		return nil, err
	}

	if msg.Status == store.StatusQueued {
		metrics.RecordMessageQueued(string(ch))
		o.logger.Info("message queued",
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", string(ch)),
			zap.Time("scheduled_at", *msg.ScheduledAt),
		)
		return &SendResult{
			MessageID: msg.ID,
			Status:    store.StatusQueued,
			Channel:   ch,
			VariantID: variantID,
		}, nil
	}

	result, err := o.deliver(ctx, tpl, prefs, msg, rendered, req.Variables, variantID)
	if err != nil {
		return nil, err
	}

	metrics.RecordSendDuration(string(result.Channel), o.now().Sub(start))
	return result, nil
}

func (o *Orchestrator) validate(req *SendRequest) (channel.Priority, error) {
	if req == nil {
		return "", fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.UserID == uuid.Nil {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if req.TemplateID == uuid.Nil {
		return "", fmt.Errorf("%w: template_id is required", ErrInvalidRequest)
	}
	if req.Channel != nil && !req.Channel.Valid() {
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, *req.Channel)
	}

	priority, err := channel.ParsePriority(string(req.Priority))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return priority, nil
}

// loadPreferences fetches the user's preference snapshot. When the
// preference service is down we fall back to the restrictive snapshot
// rather than failing the send: the inbox stays reachable.
func (o *Orchestrator) loadPreferences(ctx context.Context, userID uuid.UUID) *preference.Preferences {
	prefs, err := o.prefs.GetUserPreferences(ctx, userID)
	if err != nil {
		o.logger.Warn("preference lookup failed, using restrictive defaults",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return preference.Restrictive(userID)
	}
	return prefs
}

// checkConstraints enforces quiet hours and frequency caps on the
// resolved channel. Critical sends bypass this entirely.
func (o *Orchestrator) checkConstraints(ctx context.Context, prefs *preference.Preferences, ch channel.Channel) error {
	if prefs.QuietHours != nil && !prefs.QuietHours.AllowCritical && ch.Interruptive() {
		if o.inQuietHours(prefs, o.now()) {
			metrics.RecordConstraintRejection("quiet_hours")
			return fmt.Errorf("%w: channel %s", ErrQuietHours, ch)
		}
	}

	limit, window := prefs.Caps.CapFor(ch)
	if limit <= 0 {
		return nil
	}

	var (
		count int
		err   error
	)
	if window == preference.WindowDay {
		count, err = o.sendLog.CountToday(ctx, prefs.UserID, ch)
	} else {
		count, err = o.sendLog.CountThisWeek(ctx, prefs.UserID, ch)
	}
	if err != nil {
		// Counting failures never block a send.
		o.logger.Warn("send count lookup failed",
			zap.Error(err),
			zap.String("user_id", prefs.UserID.String()),
			zap.String("channel", string(ch)),
		)
		return nil
	}
	if count >= limit {
		metrics.RecordConstraintRejection("frequency_limit")
		return fmt.Errorf("%w: channel %s at %d/%d", ErrFrequencyLimit, ch, count, limit)
	}
	return nil
}

// createMessage persists the message record. Requests scheduled in the
// future are stored as queued with the rendered payload; the scheduler
// delivers them when due. The variable bag and variant id are stored
// alongside the payload so a deferred delivery can re-render for the
// inbox copy and fallback channels.
func (o *Orchestrator) createMessage(
	ctx context.Context,
	req *SendRequest,
	tpl *template.Template,
	ch channel.Channel,
	priority channel.Priority,
	rendered *template.RenderedContent,
	prefs *preference.Preferences,
	variantID string,
) (*store.Message, error) {
	payload := o.buildPayload(uuid.New(), req.UserID, ch, rendered, prefs)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	msg := &store.Message{
		ID:              payload.MessageID,
		UserID:          req.UserID,
		RelatedEntityID: req.RelatedEntityID,
		TemplateID:      tpl.ID,
		Channel:         ch,
		Priority:        priority,
		Payload:         raw,
		VariantID:       variantID,
		Status:          store.StatusPending,
		Attempt:         0,
		MaxRetries:      tpl.MaxRetries,
	}
	if len(req.Variables) > 0 {
		vars, err := json.Marshal(req.Variables)
		if err != nil {
			return nil, fmt.Errorf("marshal variables: %w", err)
		}
		msg.Variables = vars
	}

	if req.ScheduleAt != nil && req.ScheduleAt.After(o.now()) {
		msg.Status = store.StatusQueued
		msg.ScheduledAt = req.ScheduleAt
	}

	if err := o.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// buildPayload assembles the provider payload, copying the user's
// contact addresses into metadata so transports can route the message.
func (o *Orchestrator) buildPayload(
	msgID, userID uuid.UUID,
	ch channel.Channel,
	rendered *template.RenderedContent,
	prefs *preference.Preferences,
) *channel.Payload {
	metadata := make(map[string]string, 4)
	if prefs.Contact.Email != "" {
		metadata[provider.MetadataEmail] = prefs.Contact.Email
	}
	if prefs.Contact.Phone != "" {
		metadata[provider.MetadataPhone] = prefs.Contact.Phone
	}
	if prefs.Contact.DeviceToken != "" {
		metadata[provider.MetadataDeviceToken] = prefs.Contact.DeviceToken
	}
	if prefs.Contact.WhatsAppPhone != "" {
		metadata[provider.MetadataWhatsAppPhone] = prefs.Contact.WhatsAppPhone
	}

	return &channel.Payload{
		MessageID: msgID,
		UserID:    userID,
		Channel:   ch,
		Title:     rendered.Title,
		Subject:   rendered.Subject,
		Body:      rendered.Body,
		HTML:      rendered.HTML,
		CTAs:      rendered.CTAs,
		Metadata:  metadata,
	}
}

// deliver writes the inbox backup, attempts the primary channel, and
// walks the fallback chain on failure. Every fallback attempt gets its
// own message record so the audit trail shows each hop.
func (o *Orchestrator) deliver(
	ctx context.Context,
	tpl *template.Template,
	prefs *preference.Preferences,
	msg *store.Message,
	rendered *template.RenderedContent,
	vars map[string]any,
	variantID string,
) (*SendResult, error) {
	o.writeInboxBackup(ctx, tpl, prefs, msg, rendered, vars, variantID)

	result := o.attempt(ctx, msg, rendered, prefs, variantID, 1)
	if result.Success {
		return o.finishSent(ctx, msg, variantID, result), nil
	}

	lastMsg, lastErr := msg, result.ProviderError
	attempts := 1
	for _, fb := range o.fallbackChain(tpl, prefs, msg.Channel) {
		if attempts > tpl.MaxRetries {
			break
		}
		attempts++

		fbRendered, err := o.templates.Render(ctx, tpl.ID, fb, vars, variantID)
		if err != nil {
			o.logger.Warn("fallback render failed",
				zap.Error(err),
				zap.String("channel", string(fb)),
			)
			continue
		}

		fbMsg := &store.Message{
			ID:              uuid.New(),
			UserID:          msg.UserID,
			RelatedEntityID: msg.RelatedEntityID,
			TemplateID:      msg.TemplateID,
			Channel:         fb,
			Priority:        msg.Priority,
			Variables:       msg.Variables,
			VariantID:       variantID,
			Status:          store.StatusPending,
			Attempt:         attempts - 1,
			MaxRetries:      msg.MaxRetries,
		}
		payload := o.buildPayload(fbMsg.ID, msg.UserID, fb, fbRendered, prefs)
		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		fbMsg.Payload = raw
		if err := o.messages.CreateMessage(ctx, fbMsg); err != nil {
			o.logger.Error("failed to persist fallback message", zap.Error(err))
			continue
		}

		metrics.RecordFallback(string(msg.Channel), string(fb))
		o.logger.Info("attempting fallback channel",
			zap.String("message_id", fbMsg.ID.String()),
			zap.String("from", string(msg.Channel)),
			zap.String("to", string(fb)),
			zap.Int("attempt", attempts),
		)

		fbResult := o.attempt(ctx, fbMsg, fbRendered, prefs, variantID, attempts)
		if fbResult.Success {
			return o.finishSent(ctx, fbMsg, variantID, fbResult), nil
		}
		lastMsg, lastErr = fbMsg, fbResult.ProviderError
	}

	o.logger.Warn("all delivery attempts failed, inbox copy remains",
		zap.String("message_id", msg.ID.String()),
		zap.String("user_id", msg.UserID.String()),
		zap.String("last_error", lastErr),
	)

	return &SendResult{
		MessageID: lastMsg.ID,
		Status:    store.StatusFailed,
		Channel:   lastMsg.Channel,
		VariantID: variantID,
	}, nil
}

// attempt runs one provider delivery and records the outcome on the
// message row.
func (o *Orchestrator) attempt(
	ctx context.Context,
	msg *store.Message,
	rendered *template.RenderedContent,
	prefs *preference.Preferences,
	variantID string,
	attemptNo int,
) *channel.Result {
	prov, ok := o.registry.Get(msg.Channel)
	if !ok {
		errMsg := fmt.Sprintf("no provider for channel %s", msg.Channel)
		o.recordFailure(ctx, msg, attemptNo, errMsg, variantID)
		return &channel.Result{Success: false, ProviderError: errMsg}
	}

	payload := o.buildPayload(msg.ID, msg.UserID, msg.Channel, rendered, prefs)
	result, err := prov.Deliver(ctx, payload)
	if err != nil {
		o.recordFailure(ctx, msg, attemptNo, err.Error(), variantID)
		return &channel.Result{Success: false, ProviderError: err.Error()}
	}
	if !result.Success {
		o.recordFailure(ctx, msg, attemptNo, result.ProviderError, variantID)
		return result
	}

	if err := o.messages.UpdateMessageStatus(ctx, msg.ID, store.StatusSent, attemptNo, nil, result.EstimatedDelivery); err != nil {
		o.logger.Error("failed to mark message sent",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}
	return result
}

func (o *Orchestrator) recordFailure(ctx context.Context, msg *store.Message, attemptNo int, errMsg, variantID string) {
	if err := o.messages.UpdateMessageStatus(ctx, msg.ID, store.StatusFailed, attemptNo, &errMsg, nil); err != nil {
		o.logger.Error("failed to mark message failed",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}

	metrics.RecordMessageSent(string(msg.Channel), store.StatusFailed)
	o.analytics.RecordSend(ctx, analytics.Event{
		MessageID:  msg.ID.String(),
		UserID:     msg.UserID.String(),
		TemplateID: msg.TemplateID.String(),
		Channel:    string(msg.Channel),
		Priority:   string(msg.Priority),
		Status:     store.StatusFailed,
		VariantID:  variantID,
		Error:      errMsg,
		OccurredAt: o.now(),
	})
}

// finishSent records the send log entry, analytics event, and metrics
// for a successful delivery.
func (o *Orchestrator) finishSent(ctx context.Context, msg *store.Message, variantID string, result *channel.Result) *SendResult {
	if err := o.sendLog.Record(ctx, msg.UserID, msg.Channel, o.now()); err != nil {
		o.logger.Warn("failed to record send log entry",
			zap.Error(err),
			zap.String("user_id", msg.UserID.String()),
		)
	}

	metrics.RecordMessageSent(string(msg.Channel), store.StatusSent)
	o.analytics.RecordSend(ctx, analytics.Event{
		MessageID:  msg.ID.String(),
		UserID:     msg.UserID.String(),
		TemplateID: msg.TemplateID.String(),
		Channel:    string(msg.Channel),
		Priority:   string(msg.Priority),
		Status:     store.StatusSent,
		VariantID:  variantID,
		OccurredAt: o.now(),
	})

	o.logger.Info("message sent",
		zap.String("message_id", msg.ID.String()),
		zap.String("user_id", msg.UserID.String()),
		zap.String("channel", string(msg.Channel)),
	)

	return &SendResult{
		MessageID:         msg.ID,
		Status:            store.StatusSent,
		Channel:           msg.Channel,
		VariantID:         variantID,
		EstimatedDelivery: result.EstimatedDelivery,
	}
}

// writeInboxBackup writes the in-app copy of every send. When the
// template has a dedicated inbox block that block is used; otherwise the
// primary channel's rendering is reused. A primary send already on the
// inbox channel needs no copy.
func (o *Orchestrator) writeInboxBackup(
	ctx context.Context,
	tpl *template.Template,
	prefs *preference.Preferences,
	msg *store.Message,
	rendered *template.RenderedContent,
	vars map[string]any,
	variantID string,
) {
	if msg.Channel == channel.Inbox {
		return
	}

	inboxContent := rendered
	if _, ok := tpl.Content[channel.Inbox]; ok {
		if r, err := o.templates.Render(ctx, tpl.ID, channel.Inbox, vars, variantID); err == nil {
			inboxContent = r
		}
	}

	prov, ok := o.registry.Get(channel.Inbox)
	if !ok {
		return
	}
	payload := o.buildPayload(msg.ID, msg.UserID, channel.Inbox, inboxContent, prefs)
	if _, err := prov.Deliver(ctx, payload); err != nil {
		o.logger.Error("failed to write inbox backup",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}
}

// fallbackChain orders the channels to try after the primary fails: the
// template's declared fallback first, then remaining supported and
// consented channels in tie-break order. The inbox is excluded; its
// copy is already written.
func (o *Orchestrator) fallbackChain(tpl *template.Template, prefs *preference.Preferences, primary channel.Channel) []channel.Channel {
	var chain []channel.Channel
	seen := map[channel.Channel]bool{primary: true, channel.Inbox: true}

	add := func(ch channel.Channel) {
		if seen[ch] {
			return
		}
		seen[ch] = true
		if o.registry.Available(ch) && tpl.Supports(ch) && prefs.Allows(ch, tpl.Category) {
			chain = append(chain, ch)
		}
	}

	if tpl.FallbackChannel != nil {
		add(*tpl.FallbackChannel)
	}
	for _, ch := range channel.All() {
		add(ch)
	}
	return chain
}

// DeliverQueued claims due scheduled messages and delivers them.
// Constraints were checked at enqueue time; the stored payload is
// delivered as rendered, and the stored variable bag feeds any inbox or
// fallback re-rendering. Returns how many messages were processed.
func (o *Orchestrator) DeliverQueued(ctx context.Context, limit int) (int, error) {
	msgs, err := o.messages.ClaimDueQueued(ctx, limit)
	if err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		var payload channel.Payload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			errMsg := fmt.Sprintf("corrupt payload: %v", err)
			o.recordFailure(ctx, msg, msg.Attempt+1, errMsg, msg.VariantID)
			continue
		}

		var vars map[string]any
		if len(msg.Variables) > 0 {
			if err := json.Unmarshal(msg.Variables, &vars); err != nil {
				errMsg := fmt.Sprintf("corrupt variables: %v", err)
				o.recordFailure(ctx, msg, msg.Attempt+1, errMsg, msg.VariantID)
				continue
			}
		}

		rendered := &template.RenderedContent{
			TemplateID: msg.TemplateID,
			Channel:    msg.Channel,
			VariantID:  msg.VariantID,
			Title:      payload.Title,
			Subject:    payload.Subject,
			Body:       payload.Body,
			HTML:       payload.HTML,
			CTAs:       payload.CTAs,
		}

		tpl, err := o.templates.Get(ctx, msg.TemplateID)
		if err != nil {
			errMsg := fmt.Sprintf("template lookup: %v", err)
			o.recordFailure(ctx, msg, msg.Attempt+1, errMsg, msg.VariantID)
			continue
		}
		prefs := o.loadPreferences(ctx, msg.UserID)

		if _, err := o.deliver(ctx, tpl, prefs, msg, rendered, vars, msg.VariantID); err != nil {
			o.logger.Error("queued delivery failed",
				zap.Error(err),
				zap.String("message_id", msg.ID.String()),
			)
		}
	}

	return len(msgs), nil
}
