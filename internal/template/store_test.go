package template

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

type fakeRepo struct {
	templates map[uuid.UUID]*Template
	err       error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{templates: make(map[uuid.UUID]*Template)}
}

func (f *fakeRepo) CreateTemplate(ctx context.Context, tpl *Template) error {
	if f.err != nil {
		return f.err
	}
	f.templates[tpl.ID] = tpl
	return nil
}

func (f *fakeRepo) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	tpl, ok := f.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tpl, nil
}

func (f *fakeRepo) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	if f.err != nil {
		return f.err
	}
	tpl, ok := f.templates[id]
	if !ok {
		return ErrNotFound
	}
	tpl.Active = active
	tpl.Version++
	return nil
}

func newTestStore(repo *fakeRepo) *Store {
	return NewStore(repo, NewRenderer("en", "USD"), zap.NewNop())
}

func validTemplate() *Template {
	return &Template{
		Name:     "order-shipped",
		Category: CategoryTransactional,
		Channels: []channel.Channel{channel.Push, channel.Email, channel.Inbox},
		Content: map[channel.Channel]ContentBlock{
			channel.Push:  {Title: "Shipped", Body: "Order {order_id} shipped."},
			channel.Email: {Subject: "Order {order_id} shipped", Body: "Hi {name}, order {order_id} shipped."},
			channel.Inbox: {Body: "Order {order_id} shipped."},
		},
		Variables: []Variable{
			{Name: "order_id", Type: TypeString, Required: true},
			{Name: "name", Type: TypeString},
		},
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(repo)

	created, err := s.Create(context.Background(), validTemplate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if created.ID == uuid.Nil {
		t.Error("id should be assigned")
	}
	if created.Version != 1 {
		t.Errorf("version = %d, want 1", created.Version)
	}
	if !created.Active {
		t.Error("new template should be active")
	}
	if created.MaxRetries != 2 {
		t.Errorf("max retries = %d, want default 2", created.MaxRetries)
	}
	if _, ok := repo.templates[created.ID]; !ok {
		t.Error("template not persisted")
	}
}

func TestCreateValidation(t *testing.T) {
	sms := channel.SMS

	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{"empty name", func(tpl *Template) { tpl.Name = "" }},
		{"bad category", func(tpl *Template) { tpl.Category = "spam" }},
		{"no channels", func(tpl *Template) { tpl.Channels = nil }},
		{"unknown channel", func(tpl *Template) { tpl.Channels = append(tpl.Channels, "fax") }},
		{"missing content block", func(tpl *Template) { delete(tpl.Content, channel.Push) }},
		{"empty body", func(tpl *Template) {
			tpl.Content[channel.Push] = ContentBlock{Title: "Shipped"}
		}},
		{"cta without text", func(tpl *Template) {
			block := tpl.Content[channel.Push]
			block.CTAs = []channel.CTA{{URL: "https://example.com"}}
			tpl.Content[channel.Push] = block
		}},
		{"variable without name", func(tpl *Template) {
			tpl.Variables = append(tpl.Variables, Variable{Type: TypeString})
		}},
		{"variable with bad type", func(tpl *Template) {
			tpl.Variables = append(tpl.Variables, Variable{Name: "x", Type: "blob"})
		}},
		{"variable with bad pattern", func(tpl *Template) {
			tpl.Variables = append(tpl.Variables, Variable{
				Name: "x", Type: TypeString, Rules: &Rules{Pattern: "("},
			})
		}},
		{"fallback not in channels", func(tpl *Template) { tpl.FallbackChannel = &sms }},
		{"variant weights not 100", func(tpl *Template) {
			tpl.Variants = []Variant{{ID: "a", Weight: 60}, {ID: "b", Weight: 60}}
		}},
		{"duplicate variant id", func(tpl *Template) {
			tpl.Variants = []Variant{{ID: "a", Weight: 50}, {ID: "a", Weight: 50}}
		}},
		{"variant with zero weight", func(tpl *Template) {
			tpl.Variants = []Variant{{ID: "a", Weight: 0}, {ID: "b", Weight: 100}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(newFakeRepo())
			tpl := validTemplate()
			tt.mutate(tpl)

			_, err := s.Create(context.Background(), tpl)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateAcceptsValidFallbackAndVariants(t *testing.T) {
	s := newTestStore(newFakeRepo())
	tpl := validTemplate()
	email := channel.Email
	tpl.FallbackChannel = &email
	tpl.Variants = []Variant{
		{ID: "control", Weight: 50},
		{ID: "friendly", Weight: 50, Content: map[channel.Channel]ContentBlock{
			channel.Push: {Title: "Woohoo!", Body: "Your order {order_id} is coming!"},
		}},
	}

	if _, err := s.Create(context.Background(), tpl); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestRender(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(repo)
	tpl, err := s.Create(context.Background(), validTemplate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rendered, err := s.Render(context.Background(), tpl.ID, channel.Email,
		map[string]any{"order_id": "A-42", "name": "Ada"}, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.Subject != "Order A-42 shipped" {
		t.Errorf("subject = %q", rendered.Subject)
	}
	if rendered.Body != "Hi Ada, order A-42 shipped." {
		t.Errorf("body = %q", rendered.Body)
	}
	if rendered.Channel != channel.Email {
		t.Errorf("channel = %s", rendered.Channel)
	}
}

func TestRenderVariantOverride(t *testing.T) {
	s := newTestStore(newFakeRepo())
	tpl := validTemplate()
	tpl.Variants = []Variant{
		{ID: "control", Weight: 50},
		{ID: "friendly", Weight: 50, Content: map[channel.Channel]ContentBlock{
			channel.Push: {Title: "Woohoo!", Body: "Order {order_id} is coming!"},
		}},
	}
	created, err := s.Create(context.Background(), tpl)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	vars := map[string]any{"order_id": "A-42"}

	// Variant defines a push override.
	rendered, err := s.Render(context.Background(), created.ID, channel.Push, vars, "friendly")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rendered.Body != "Order A-42 is coming!" {
		t.Errorf("variant body = %q", rendered.Body)
	}
	if rendered.VariantID != "friendly" {
		t.Errorf("variant id = %q", rendered.VariantID)
	}

	// No override for email: falls through to the base block.
	rendered, err = s.Render(context.Background(), created.ID, channel.Email, map[string]any{"order_id": "A-42", "name": "Ada"}, "friendly")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rendered.Body != "Hi Ada, order A-42 shipped." {
		t.Errorf("fallthrough body = %q", rendered.Body)
	}
}

func TestRenderErrors(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(repo)
	tpl, err := s.Create(context.Background(), validTemplate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	vars := map[string]any{"order_id": "A-42"}

	t.Run("unsupported channel", func(t *testing.T) {
		_, err := s.Render(context.Background(), tpl.ID, channel.SMS, vars, "")
		if !errors.Is(err, ErrUnsupportedChannel) {
			t.Errorf("err = %v, want ErrUnsupportedChannel", err)
		}
	})

	t.Run("missing required variable", func(t *testing.T) {
		_, err := s.Render(context.Background(), tpl.ID, channel.Push, map[string]any{}, "")
		if !errors.Is(err, ErrMissingVariable) {
			t.Errorf("err = %v, want ErrMissingVariable", err)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := s.Render(context.Background(), tpl.ID, channel.Push, map[string]any{"order_id": 42}, "")
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("err = %v, want ErrTypeMismatch", err)
		}
	})

	t.Run("inactive template", func(t *testing.T) {
		repo.templates[tpl.ID].Active = false
		defer func() { repo.templates[tpl.ID].Active = true }()

		_, err := s.Render(context.Background(), tpl.ID, channel.Push, vars, "")
		if !errors.Is(err, ErrInactive) {
			t.Errorf("err = %v, want ErrInactive", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Render(context.Background(), uuid.New(), channel.Push, vars, "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestRenderVariableRules(t *testing.T) {
	s := newTestStore(newFakeRepo())
	tpl := validTemplate()
	minLen := 2
	tpl.Variables = append(tpl.Variables, Variable{
		Name: "plan", Type: TypeString,
		Rules: &Rules{MinLength: &minLen, Enum: []string{"basic", "pro"}},
	})
	created, err := s.Create(context.Background(), tpl)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	base := map[string]any{"order_id": "A-42"}

	_, err = s.Render(context.Background(), created.ID, channel.Push,
		map[string]any{"order_id": "A-42", "plan": "x"}, "")
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("short value: err = %v, want ErrValidationFailed", err)
	}

	_, err = s.Render(context.Background(), created.ID, channel.Push,
		map[string]any{"order_id": "A-42", "plan": "enterprise"}, "")
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("enum miss: err = %v, want ErrValidationFailed", err)
	}

	if _, err := s.Render(context.Background(), created.ID, channel.Push, base, ""); err != nil {
		t.Errorf("optional variable absent: %v", err)
	}
}

func TestPickVariantDeterministic(t *testing.T) {
	tpl := validTemplate()
	tpl.ID = uuid.New()
	tpl.Variants = []Variant{
		{ID: "a", Weight: 50},
		{ID: "b", Weight: 50},
	}

	userID := uuid.New()
	first := PickVariant(tpl, userID)
	for i := 0; i < 10; i++ {
		if got := PickVariant(tpl, userID); got != first {
			t.Fatalf("assignment not stable: %q then %q", first, got)
		}
	}
}

func TestPickVariantDistribution(t *testing.T) {
	tpl := validTemplate()
	tpl.ID = uuid.New()
	tpl.Variants = []Variant{
		{ID: "a", Weight: 50},
		{ID: "b", Weight: 50},
	}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[PickVariant(tpl, uuid.New())]++
	}

	for _, id := range []string{"a", "b"} {
		if counts[id] < 350 || counts[id] > 650 {
			t.Errorf("variant %q got %d of 1000 assignments, want roughly half", id, counts[id])
		}
	}
}

func TestPickVariantNoVariants(t *testing.T) {
	tpl := validTemplate()
	tpl.ID = uuid.New()

	if got := PickVariant(tpl, uuid.New()); got != "" {
		t.Errorf("PickVariant = %q, want empty", got)
	}
}

func TestSetActive(t *testing.T) {
	repo := newFakeRepo()
	s := newTestStore(repo)
	ctx := context.Background()

	tpl, err := s.Create(ctx, validTemplate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.SetActive(ctx, tpl.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	_, err = s.Render(ctx, tpl.ID, channel.Push, map[string]any{"order_id": "A-42"}, "")
	if !errors.Is(err, ErrInactive) {
		t.Errorf("Render after deactivation = %v, want ErrInactive", err)
	}

	if err := s.SetActive(ctx, uuid.New(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetActive on unknown id = %v, want ErrNotFound", err)
	}
}
