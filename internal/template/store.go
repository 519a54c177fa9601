package template

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// Repository defines the persistence operations the store needs.
type Repository interface {
	CreateTemplate(ctx context.Context, tpl *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Store validates, persists, and renders templates.
type Store struct {
	repo     Repository
	renderer *Renderer
	logger   *zap.Logger
}

// NewStore creates a template store.
func NewStore(repo Repository, renderer *Renderer, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		renderer: renderer,
		logger:   logger,
	}
}

// Create validates a template definition and stores it at version 1.
func (s *Store) Create(ctx context.Context, tpl *Template) (*Template, error) {
	if err := validate(tpl); err != nil {
		return nil, err
	}

	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	tpl.Version = 1
	tpl.Active = true
	if tpl.MaxRetries <= 0 {
		tpl.MaxRetries = 2
	}

	if err := s.repo.CreateTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("persist template: %w", err)
	}

	s.logger.Info("template created",
		zap.String("template_id", tpl.ID.String()),
		zap.String("name", tpl.Name),
		zap.String("category", string(tpl.Category)),
		zap.Int("channels", len(tpl.Channels)),
	)

	return tpl, nil
}

// Get loads a template by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

// SetActive flips a template's active flag. Inactive templates reject
// rendering and sending but stay readable for historical messages.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetTemplateActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("template active flag updated",
		zap.String("template_id", id.String()),
		zap.Bool("active", active),
	)
	return nil
}

// Render resolves a template's content block for a channel and substitutes
// the variable bag. Declared variables are checked before rendering:
// required ones must be present, supplied ones must match their type and
// rules. Undeclared placeholders are left verbatim.
func (s *Store) Render(ctx context.Context, id uuid.UUID, ch channel.Channel, vars map[string]any, variantID string) (*RenderedContent, error) {
	tpl, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, fmt.Errorf("template %s: %w", id, ErrInactive)
	}

	block, ok := tpl.ContentFor(ch, variantID)
	if !ok {
		return nil, fmt.Errorf("template %s channel %s: %w", id, ch, ErrUnsupportedChannel)
	}

	if err := checkVariables(tpl.Variables, vars); err != nil {
		return nil, err
	}

	rendered := s.renderer.RenderBlock(block, vars)
	return &RenderedContent{
		TemplateID: tpl.ID,
		Channel:    ch,
		VariantID:  variantID,
		Title:      rendered.Title,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
		HTML:       rendered.HTML,
		CTAs:       rendered.CTAs,
	}, nil
}

// SelectVariant deterministically maps a user onto one of the template's
// weighted variants. The same user always lands in the same bucket for a
// given template, so repeated sends show a consistent experience.
func (s *Store) SelectVariant(ctx context.Context, id uuid.UUID, userID uuid.UUID) (string, error) {
	tpl, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return "", err
	}
	return PickVariant(tpl, userID), nil
}

// PickVariant hashes the user into a 0-99 bucket and walks the cumulative
// variant weights. Returns "" when the template has no variants.
func PickVariant(tpl *Template, userID uuid.UUID) string {
	if len(tpl.Variants) == 0 {
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(userID.String()))
	h.Write([]byte(":"))
	h.Write([]byte(tpl.ID.String()))
	bucket := int(h.Sum32() % 100)

	cumulative := 0
	for _, v := range tpl.Variants {
		cumulative += v.Weight
		if bucket < cumulative {
			return v.ID
		}
	}
	// Weights sum to 100 by the create invariant; this is unreachable
	// unless the stored row predates validation.
	return tpl.Variants[len(tpl.Variants)-1].ID
}

func validate(tpl *Template) error {
	if tpl.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !tpl.Category.Valid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, tpl.Category)
	}
	if len(tpl.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}

	for _, ch := range tpl.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, ch)
		}
		block, ok := tpl.Content[ch]
		if !ok {
			return fmt.Errorf("%w: channel %s has no content block", ErrValidation, ch)
		}
		if block.Body == "" {
			return fmt.Errorf("%w: channel %s content has empty body", ErrValidation, ch)
		}
		for i, cta := range block.CTAs {
			if cta.Text == "" {
				return fmt.Errorf("%w: channel %s cta %d has no text", ErrValidation, ch, i)
			}
		}
	}

	for _, v := range tpl.Variables {
		if v.Name == "" {
			return fmt.Errorf("%w: variable with empty name", ErrValidation)
		}
		if !v.Type.Valid() {
			return fmt.Errorf("%w: variable %s has invalid type %q", ErrValidation, v.Name, v.Type)
		}
		if v.Rules != nil && v.Rules.Pattern != "" {
			if _, err := regexp.Compile(v.Rules.Pattern); err != nil {
				return fmt.Errorf("%w: variable %s has invalid pattern: %v", ErrValidation, v.Name, err)
			}
		}
	}

	if tpl.FallbackChannel != nil && !tpl.Supports(*tpl.FallbackChannel) {
		return fmt.Errorf("%w: fallback channel %s not in channels", ErrValidation, *tpl.FallbackChannel)
	}

	if len(tpl.Variants) > 0 {
		total := 0
		seen := make(map[string]bool, len(tpl.Variants))
		for _, v := range tpl.Variants {
			if v.ID == "" {
				return fmt.Errorf("%w: variant with empty id", ErrValidation)
			}
			if seen[v.ID] {
				return fmt.Errorf("%w: duplicate variant id %q", ErrValidation, v.ID)
			}
			seen[v.ID] = true
			if v.Weight <= 0 {
				return fmt.Errorf("%w: variant %s has non-positive weight", ErrValidation, v.ID)
			}
			total += v.Weight
		}
		if total != 100 {
			return fmt.Errorf("%w: variant weights sum to %d, want 100", ErrValidation, total)
		}
	}

	return nil
}

func checkVariables(declared []Variable, vars map[string]any) error {
	for _, decl := range declared {
		val, present := vars[decl.Name]
		if !present || val == nil {
			if decl.Required {
				return fmt.Errorf("%w: %s", ErrMissingVariable, decl.Name)
			}
			continue
		}
		if err := checkType(decl, val); err != nil {
			return err
		}
		if decl.Rules != nil {
			if err := checkRules(decl, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkType(decl Variable, val any) error {
	ok := false
	switch decl.Type {
	case TypeString:
		_, ok = val.(string)
	case TypeNumber:
		_, ok = asNumberStrict(val)
	case TypeBoolean:
		_, ok = val.(bool)
	case TypeDate:
		_, ok = asTime(val)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a %s", ErrTypeMismatch, decl.Name, decl.Type)
	}
	return nil
}

func checkRules(decl Variable, val any) error {
	rules := decl.Rules
	if str, isStr := val.(string); isStr {
		if rules.MinLength != nil && len(str) < *rules.MinLength {
			return fmt.Errorf("%w: %s shorter than %d", ErrValidationFailed, decl.Name, *rules.MinLength)
		}
		if rules.MaxLength != nil && len(str) > *rules.MaxLength {
			return fmt.Errorf("%w: %s longer than %d", ErrValidationFailed, decl.Name, *rules.MaxLength)
		}
		if rules.Pattern != "" {
			re, err := regexp.Compile(rules.Pattern)
			if err == nil && !re.MatchString(str) {
				return fmt.Errorf("%w: %s does not match pattern", ErrValidationFailed, decl.Name)
			}
		}
		if len(rules.Enum) > 0 {
			found := false
			for _, allowed := range rules.Enum {
				if str == allowed {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %s not in enum", ErrValidationFailed, decl.Name)
			}
		}
	}
	return nil
}

// asNumberStrict rejects numeric strings; type checking is stricter than
// rendering.
func asNumberStrict(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}
