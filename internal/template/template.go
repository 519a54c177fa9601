// Package template holds versioned multi-channel message templates and
// renders them against a variable bag. Rendering is a pure function of
// (template version, channel, variant, variables).
package template

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tailhq/courier/internal/channel"
)

// Sentinel errors for the template contract. Callers match with errors.Is.
var (
	ErrValidation         = errors.New("template validation failed")
	ErrNotFound           = errors.New("template not found")
	ErrInactive           = errors.New("template is inactive")
	ErrUnsupportedChannel = errors.New("channel not supported by template")
	ErrMissingVariable    = errors.New("required variable missing")
	ErrTypeMismatch       = errors.New("variable type mismatch")
	ErrValidationFailed   = errors.New("variable validation failed")
)

// Category classifies what kind of communication a template carries.
// Delivery consent is checked against the matching per-channel flag.
type Category string

const (
	CategoryTransactional Category = "transactional"
	CategoryMarketing     Category = "marketing"
	CategoryCaring        Category = "caring"
	CategoryReminder      Category = "reminder"
	CategoryJourney       Category = "journey"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTransactional, CategoryMarketing, CategoryCaring, CategoryReminder, CategoryJourney:
		return true
	}
	return false
}

// VariableType is the declared type of a template variable.
type VariableType string

const (
	TypeString  VariableType = "string"
	TypeNumber  VariableType = "number"
	TypeBoolean VariableType = "boolean"
	TypeDate    VariableType = "date"
)

// Valid reports whether t is a known variable type.
func (t VariableType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate:
		return true
	}
	return false
}

// Rules constrains the values a variable may take.
type Rules struct {
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// Variable declares a named input to a template.
type Variable struct {
	Name     string       `json:"name"`
	Type     VariableType `json:"type"`
	Required bool         `json:"required"`
	Rules    *Rules       `json:"rules,omitempty"`
}

// ContentBlock is the per-channel content of a template.
type ContentBlock struct {
	Title   string        `json:"title,omitempty"`
	Subject string        `json:"subject,omitempty"`
	Body    string        `json:"body"`
	HTML    string        `json:"html,omitempty"`
	CTAs    []channel.CTA `json:"ctas,omitempty"`
}

// Variant is a weighted A/B variant. Its content blocks override the
// template's for the channels it defines; other channels fall through.
type Variant struct {
	ID      string                           `json:"id"`
	Name    string                           `json:"name,omitempty"`
	Weight  int                              `json:"weight"`
	Content map[channel.Channel]ContentBlock `json:"content,omitempty"`
}

// Template is a versioned multi-channel message definition.
type Template struct {
	ID              uuid.UUID                        `json:"id"`
	Name            string                           `json:"name"`
	Description     string                           `json:"description,omitempty"`
	Category        Category                         `json:"category"`
	Channels        []channel.Channel                `json:"channels"`
	Content         map[channel.Channel]ContentBlock `json:"content"`
	Variables       []Variable                       `json:"variables,omitempty"`
	FallbackChannel *channel.Channel                 `json:"fallback_channel,omitempty"`
	Variants        []Variant                        `json:"variants,omitempty"`
	MaxRetries      int                              `json:"max_retries"`
	Active          bool                             `json:"active"`
	Version         int                              `json:"version"`
	CreatedAt       time.Time                        `json:"created_at"`
	UpdatedAt       time.Time                        `json:"updated_at"`
}

// Supports reports whether the template lists ch among its channels.
func (t *Template) Supports(ch channel.Channel) bool {
	for _, c := range t.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// ContentFor resolves the content block for a channel, preferring the
// variant's override when the variant defines one.
func (t *Template) ContentFor(ch channel.Channel, variantID string) (ContentBlock, bool) {
	if variantID != "" {
		for _, v := range t.Variants {
			if v.ID != variantID {
				continue
			}
			if block, ok := v.Content[ch]; ok {
				return block, true
			}
			break
		}
	}
	block, ok := t.Content[ch]
	return block, ok
}

// RenderedContent is the output of rendering one channel's content block.
type RenderedContent struct {
	TemplateID uuid.UUID       `json:"template_id"`
	Channel    channel.Channel `json:"channel"`
	VariantID  string          `json:"variant_id,omitempty"`
	Title      string          `json:"title,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Body       string          `json:"body"`
	HTML       string          `json:"html,omitempty"`
	CTAs       []channel.CTA   `json:"ctas,omitempty"`
}
