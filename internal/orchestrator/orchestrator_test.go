package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/analytics"
	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/preference"
	"github.com/tailhq/courier/internal/store"
	"github.com/tailhq/courier/internal/template"
)

type fakeTemplateRepo struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*template.Template
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{templates: make(map[uuid.UUID]*template.Template)}
}

func (r *fakeTemplateRepo) CreateTemplate(ctx context.Context, tpl *template.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.ID] = tpl
	return nil
}

func (r *fakeTemplateRepo) GetTemplate(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}
	return tpl, nil
}

func (r *fakeTemplateRepo) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}
	tpl.Active = active
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*store.Message
	statuses map[uuid.UUID]string
	queued   []*store.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		messages: make(map[uuid.UUID]*store.Message),
		statuses: make(map[uuid.UUID]string),
	}
}

func (s *fakeMessageStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	s.statuses[msg.ID] = msg.Status
	if msg.Status == store.StatusQueued {
		s.queued = append(s.queued, msg)
	}
	return nil
}

func (s *fakeMessageStore) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	return msg, nil
}

func (s *fakeMessageStore) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, attempt int, errorMsg *string, estimatedDelivery *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message not found: %s", id)
	}
	s.statuses[id] = status
	s.messages[id].Status = status
	s.messages[id].Attempt = attempt
	return nil
}

func (s *fakeMessageStore) ClaimDueQueued(ctx context.Context, limit int) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued
	s.queued = nil
	for _, m := range out {
		m.Status = store.StatusPending
	}
	return out, nil
}

func (s *fakeMessageStore) countByStatus(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.statuses {
		if st == status {
			n++
		}
	}
	return n
}

type fakePrefService struct {
	prefs *preference.Preferences
	err   error
}

func (s *fakePrefService) GetUserPreferences(ctx context.Context, userID uuid.UUID) (*preference.Preferences, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.prefs, nil
}

type fakeSendCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeSendCounter() *fakeSendCounter {
	return &fakeSendCounter{counts: make(map[string]int)}
}

func (c *fakeSendCounter) key(userID uuid.UUID, ch channel.Channel) string {
	return userID.String() + ":" + string(ch)
}

func (c *fakeSendCounter) Record(ctx context.Context, userID uuid.UUID, ch channel.Channel, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[c.key(userID, ch)]++
	return nil
}

func (c *fakeSendCounter) CountToday(ctx context.Context, userID uuid.UUID, ch channel.Channel) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[c.key(userID, ch)], nil
}

func (c *fakeSendCounter) CountThisWeek(ctx context.Context, userID uuid.UUID, ch channel.Channel) (int, error) {
	return c.CountToday(ctx, userID, ch)
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (a *fakeAnalytics) RecordSend(ctx context.Context, ev analytics.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

type fakeProvider struct {
	mu        sync.Mutex
	ch        channel.Channel
	fail      bool
	delivered []*channel.Payload
}

func (p *fakeProvider) Channel() channel.Channel { return p.ch }

func (p *fakeProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return &channel.Result{Success: false, ProviderError: "transport unavailable"}, nil
	}
	p.delivered = append(p.delivered, payload)
	eta := time.Now().Add(time.Minute)
	return &channel.Result{Success: true, EstimatedDelivery: &eta}, nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delivered)
}

type fixture struct {
	orch      *Orchestrator
	templates *template.Store
	messages  *fakeMessageStore
	counter   *fakeSendCounter
	events    *fakeAnalytics
	push      *fakeProvider
	email     *fakeProvider
	sms       *fakeProvider
	inbox     *fakeProvider
	userID    uuid.UUID
}

func allConsent() preference.Consent {
	return preference.Consent{
		Enabled:       true,
		Transactional: true,
		Marketing:     true,
		Caring:        true,
		Reminders:     true,
	}
}

func openPreferences(userID uuid.UUID) *preference.Preferences {
	return &preference.Preferences{
		UserID: userID,
		Consent: map[channel.Channel]preference.Consent{
			channel.Push:     allConsent(),
			channel.Email:    allConsent(),
			channel.SMS:      allConsent(),
			channel.WhatsApp: allConsent(),
		},
		PreferredChannels: []channel.Channel{channel.Push, channel.Email},
		Contact: preference.Contact{
			Email:       "user@example.com",
			Phone:       "+15551234567",
			DeviceToken: "device-token-1",
		},
	}
}

func newFixture(t *testing.T, prefs *preference.Preferences) *fixture {
	t.Helper()

	logger := zap.NewNop()
	userID := uuid.New()
	if prefs == nil {
		prefs = openPreferences(userID)
	} else {
		userID = prefs.UserID
	}

	repo := newFakeTemplateRepo()
	renderer := template.NewRenderer("en", "USD")
	tplStore := template.NewStore(repo, renderer, logger)

	push := &fakeProvider{ch: channel.Push}
	email := &fakeProvider{ch: channel.Email}
	sms := &fakeProvider{ch: channel.SMS}
	inbox := &fakeProvider{ch: channel.Inbox}

	registry, err := channel.NewRegistry(logger, push, email, sms, inbox)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	messages := newFakeMessageStore()
	counter := newFakeSendCounter()
	events := &fakeAnalytics{}

	orch := New(tplStore, messages, &fakePrefService{prefs: prefs}, registry, counter, events, logger)

	return &fixture{
		orch:      orch,
		templates: tplStore,
		messages:  messages,
		counter:   counter,
		events:    events,
		push:      push,
		email:     email,
		sms:       sms,
		inbox:     inbox,
		userID:    userID,
	}
}

func (f *fixture) createTemplate(t *testing.T, mutate func(*template.Template)) *template.Template {
	t.Helper()

	tpl := &template.Template{
		Name:     "order-update",
		Category: template.CategoryTransactional,
		Channels: []channel.Channel{channel.Push, channel.Email, channel.SMS, channel.Inbox},
		Content: map[channel.Channel]template.ContentBlock{
			channel.Push:  {Title: "Order update", Body: "Hi {name}, your order shipped."},
			channel.Email: {Subject: "Your order shipped", Body: "Hi {name}, your order is on the way."},
			channel.SMS:   {Body: "Order shipped, {name}."},
			channel.Inbox: {Title: "Order shipped", Body: "Hi {name}, track your order in the app."},
		},
		Variables: []template.Variable{
			{Name: "name", Type: template.TypeString, Required: true},
		},
	}
	if mutate != nil {
		mutate(tpl)
	}

	created, err := f.templates.Create(context.Background(), tpl)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return created
}

func TestSendMessageExplicitChannel(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	ch := channel.Email
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if result.Status != store.StatusSent {
		t.Errorf("status = %q, want %q", result.Status, store.StatusSent)
	}
	if result.Channel != channel.Email {
		t.Errorf("channel = %q, want %q", result.Channel, channel.Email)
	}
	if f.email.count() != 1 {
		t.Errorf("email deliveries = %d, want 1", f.email.count())
	}

	payload := f.email.delivered[0]
	if payload.Body != "Hi Ada, your order is on the way." {
		t.Errorf("rendered body = %q", payload.Body)
	}
	if payload.Metadata["email"] != "user@example.com" {
		t.Errorf("email metadata = %q", payload.Metadata["email"])
	}
}

func TestSendMessageAlwaysWritesInboxCopy(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	ch := channel.Push
	_, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if f.inbox.count() != 1 {
		t.Fatalf("inbox deliveries = %d, want 1", f.inbox.count())
	}
	if got := f.inbox.delivered[0].Body; got != "Hi Ada, track your order in the app." {
		t.Errorf("inbox body = %q, want the dedicated inbox block", got)
	}
}

func TestSendMessageInboxPrimarySkipsDuplicateCopy(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	ch := channel.Inbox
	_, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if f.inbox.count() != 1 {
		t.Errorf("inbox deliveries = %d, want exactly 1", f.inbox.count())
	}
}

func TestSendMessageFallbackChain(t *testing.T) {
	f := newFixture(t, nil)
	fallback := channel.SMS
	tpl := f.createTemplate(t, func(tpl *template.Template) {
		tpl.FallbackChannel = &fallback
		tpl.MaxRetries = 3
	})

	f.push.fail = true

	ch := channel.Push
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if result.Status != store.StatusSent {
		t.Fatalf("status = %q, want sent via fallback", result.Status)
	}
	if result.Channel != channel.SMS {
		t.Errorf("channel = %q, want declared fallback %q", result.Channel, channel.SMS)
	}
	if f.sms.count() != 1 {
		t.Errorf("sms deliveries = %d, want 1", f.sms.count())
	}
	if f.messages.countByStatus(store.StatusFailed) != 1 {
		t.Errorf("failed messages = %d, want 1 for the primary attempt", f.messages.countByStatus(store.StatusFailed))
	}
}

func TestSendMessageAllChannelsFail(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, func(tpl *template.Template) {
		tpl.MaxRetries = 5
	})

	f.push.fail = true
	f.email.fail = true
	f.sms.fail = true

	ch := channel.Push
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if result.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", result.Status)
	}
	// The inbox copy is written regardless.
	if f.inbox.count() != 1 {
		t.Errorf("inbox deliveries = %d, want 1", f.inbox.count())
	}
}

func TestSendMessageQuietHours(t *testing.T) {
	prefs := openPreferences(uuid.New())
	prefs.QuietHours = &preference.QuietHours{
		Start:    "22:00",
		End:      "08:00",
		Timezone: "UTC",
	}
	f := newFixture(t, prefs)
	tpl := f.createTemplate(t, nil)

	// 23:30 UTC is inside the overnight window.
	f.orch.nowFunc = func() time.Time {
		return time.Date(2026, time.March, 4, 23, 30, 0, 0, time.UTC)
	}

	ch := channel.Push
	_, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if !errors.Is(err, ErrQuietHours) {
		t.Fatalf("err = %v, want ErrQuietHours", err)
	}

	// Critical priority bypasses the window.
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Priority:   channel.PriorityCritical,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("critical SendMessage: %v", err)
	}
	if result.Status != store.StatusSent {
		t.Errorf("critical status = %q, want sent", result.Status)
	}
}

func TestSendMessageQuietHoursAllowsNonInterruptive(t *testing.T) {
	prefs := openPreferences(uuid.New())
	prefs.QuietHours = &preference.QuietHours{
		Start:    "22:00",
		End:      "08:00",
		Timezone: "UTC",
	}
	f := newFixture(t, prefs)
	tpl := f.createTemplate(t, nil)

	f.orch.nowFunc = func() time.Time {
		return time.Date(2026, time.March, 5, 2, 0, 0, 0, time.UTC)
	}

	ch := channel.Email
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Channel != channel.Email {
		t.Errorf("channel = %q, want email", result.Channel)
	}
}

func TestSendMessageFrequencyLimit(t *testing.T) {
	prefs := openPreferences(uuid.New())
	prefs.Caps = preference.FrequencyCaps{MaxPushPerDay: 2}
	f := newFixture(t, prefs)
	tpl := f.createTemplate(t, nil)

	ctx := context.Background()
	ch := channel.Push

	for i := 0; i < 2; i++ {
		if _, err := f.orch.SendMessage(ctx, &SendRequest{
			UserID:     f.userID,
			TemplateID: tpl.ID,
			Channel:    &ch,
			Variables:  map[string]any{"name": "Ada"},
		}); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	_, err := f.orch.SendMessage(ctx, &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if !errors.Is(err, ErrFrequencyLimit) {
		t.Fatalf("err = %v, want ErrFrequencyLimit", err)
	}

	// Critical bypasses the cap.
	if _, err := f.orch.SendMessage(ctx, &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Priority:   channel.PriorityCritical,
		Variables:  map[string]any{"name": "Ada"},
	}); err != nil {
		t.Fatalf("critical send over cap: %v", err)
	}
}

func TestSendMessageChannelDisabled(t *testing.T) {
	prefs := openPreferences(uuid.New())
	prefs.Consent[channel.SMS] = preference.Consent{Enabled: false}
	f := newFixture(t, prefs)
	tpl := f.createTemplate(t, nil)

	ch := channel.SMS
	_, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	})
	if !errors.Is(err, ErrChannelDisabled) {
		t.Fatalf("err = %v, want ErrChannelDisabled", err)
	}
}

func TestSendMessageScoredSelectionPrefersRankedChannel(t *testing.T) {
	prefs := openPreferences(uuid.New())
	prefs.PreferredChannels = []channel.Channel{channel.Email, channel.Push}
	f := newFixture(t, prefs)
	tpl := f.createTemplate(t, nil)

	// A weekday so the weekend adjustments stay out of the picture.
	f.orch.nowFunc = func() time.Time {
		return time.Date(2026, time.March, 4, 14, 0, 0, 0, time.UTC)
	}

	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Channel != channel.Email {
		t.Errorf("channel = %q, want top-ranked email", result.Channel)
	}
}

func TestSendMessageCriticalFastPath(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Priority:   channel.PriorityCritical,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Channel != channel.Push {
		t.Errorf("channel = %q, want push first on the critical path", result.Channel)
	}
}

func TestSendMessageRestrictiveFallbackOnPreferenceOutage(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	f.orch.prefs = &fakePrefService{err: errors.New("preference service down")}

	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Channel != channel.Inbox {
		t.Errorf("channel = %q, want inbox under restrictive defaults", result.Channel)
	}
	if result.Status != store.StatusSent {
		t.Errorf("status = %q, want sent", result.Status)
	}
}

func TestSendMessageScheduled(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	ch := channel.Email
	later := time.Now().Add(time.Hour)
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		ScheduleAt: &later,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if result.Status != store.StatusQueued {
		t.Fatalf("status = %q, want queued", result.Status)
	}
	if f.email.count() != 0 {
		t.Errorf("email deliveries = %d, want 0 before the schedule", f.email.count())
	}

	processed, err := f.orch.DeliverQueued(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeliverQueued: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if f.email.count() != 1 {
		t.Errorf("email deliveries = %d, want 1 after drain", f.email.count())
	}
	if f.email.delivered[0].Body != "Hi Ada, your order is on the way." {
		t.Errorf("queued body = %q, want the pre-rendered content", f.email.delivered[0].Body)
	}
}

func TestDeliverQueuedFallsBackWithStoredVariables(t *testing.T) {
	f := newFixture(t, nil)
	fallback := channel.Email
	tpl := f.createTemplate(t, func(tpl *template.Template) {
		tpl.FallbackChannel = &fallback
		tpl.MaxRetries = 2
	})

	ch := channel.Push
	later := time.Now().Add(time.Hour)
	result, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		ScheduleAt: &later,
		Variables:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Status != store.StatusQueued {
		t.Fatalf("status = %q, want queued", result.Status)
	}

	// Push goes down before the drain.
	f.push.fail = true

	processed, err := f.orch.DeliverQueued(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeliverQueued: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	if f.email.count() != 1 {
		t.Fatalf("fallback email deliveries = %d, want 1", f.email.count())
	}
	if got := f.email.delivered[0].Body; got != "Hi Ada, your order is on the way." {
		t.Errorf("fallback body = %q, want the stored variables substituted", got)
	}
	if f.inbox.count() != 1 {
		t.Fatalf("inbox deliveries = %d, want 1", f.inbox.count())
	}
	if got := f.inbox.delivered[0].Body; got != "Hi Ada, track your order in the app." {
		t.Errorf("inbox body = %q, want the stored variables substituted", got)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	cases := []struct {
		name string
		req  *SendRequest
	}{
		{"missing user", &SendRequest{TemplateID: tpl.ID}},
		{"missing template", &SendRequest{UserID: f.userID}},
		{"bad priority", &SendRequest{UserID: f.userID, TemplateID: tpl.ID, Priority: "urgent"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.SendMessage(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestSendMessageInactiveTemplate(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)
	tpl.Active = false

	_, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Variables:  map[string]any{"name": "Ada"},
	})
	if !errors.Is(err, template.ErrInactive) {
		t.Fatalf("err = %v, want ErrInactive", err)
	}
}

func TestSendMessageRecordsSendLog(t *testing.T) {
	f := newFixture(t, nil)
	tpl := f.createTemplate(t, nil)

	ch := channel.Push
	if _, err := f.orch.SendMessage(context.Background(), &SendRequest{
		UserID:     f.userID,
		TemplateID: tpl.ID,
		Channel:    &ch,
		Variables:  map[string]any{"name": "Ada"},
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	count, err := f.counter.CountToday(context.Background(), f.userID, channel.Push)
	if err != nil {
		t.Fatalf("CountToday: %v", err)
	}
	if count != 1 {
		t.Errorf("send log count = %d, want 1", count)
	}

	if len(f.events.events) != 1 {
		t.Fatalf("analytics events = %d, want 1", len(f.events.events))
	}
	if f.events.events[0].Status != store.StatusSent {
		t.Errorf("analytics status = %q, want sent", f.events.events[0].Status)
	}
}
