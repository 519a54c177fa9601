// Package channel defines the delivery channels the orchestrator can route
// messages through, the payload handed to transport providers, and the
// provider registry.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery medium.
type Channel string

const (
	Push     Channel = "push"
	Email    Channel = "email"
	WhatsApp Channel = "whatsapp"
	SMS      Channel = "sms"
	Inbox    Channel = "inbox"
)

// All returns every channel in tie-break order: when two channels score
// equally during selection, the earlier one wins.
func All() []Channel {
	return []Channel{Push, Email, WhatsApp, SMS, Inbox}
}

// Parse converts a string into a Channel.
func Parse(s string) (Channel, error) {
	switch Channel(s) {
	case Push, Email, WhatsApp, SMS, Inbox:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

// Valid reports whether c is one of the five known channels.
func (c Channel) Valid() bool {
	switch c {
	case Push, Email, WhatsApp, SMS, Inbox:
		return true
	}
	return false
}

// Interruptive reports whether the channel actively interrupts the user.
// Interruptive channels are suppressed during quiet hours.
func (c Channel) Interruptive() bool {
	return c == Push || c == WhatsApp || c == SMS
}

// Priority classifies how urgent a message is.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority converts a string into a Priority, defaulting to medium
// when empty.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority: %q", s)
}

// CTA is a call-to-action button attached to a message.
type CTA struct {
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Action string `json:"action,omitempty"`
}

// Payload is the fully rendered content handed to a transport provider.
type Payload struct {
	MessageID uuid.UUID         `json:"message_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Channel   Channel           `json:"channel"`
	Title     string            `json:"title,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	HTML      string            `json:"html,omitempty"`
	CTAs      []CTA             `json:"ctas,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Result is what a provider reports back after a delivery attempt.
// A transport-level failure is expressed as Success=false with
// ProviderError set; the error return is reserved for malformed input.
type Result struct {
	Success           bool       `json:"success"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	ProviderError     string     `json:"provider_error,omitempty"`
}

// Provider delivers payloads on a single channel.
type Provider interface {
	Channel() Channel
	Deliver(ctx context.Context, payload *Payload) (*Result, error)
}
