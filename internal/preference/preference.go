// Package preference models the per-user channel preference snapshot the
// orchestrator reads before every send. The snapshot is owned and mutated
// by the external preference service; this core only reads it. Missing or
// partial data defaults to the most restrictive interpretation: the
// channel is treated as disabled.
package preference

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/template"
)

// Consent holds the per-channel opt-in flags.
type Consent struct {
	Enabled       bool `json:"enabled"`
	Transactional bool `json:"transactional"`
	Marketing     bool `json:"marketing"`
	Caring        bool `json:"caring"`
	Reminders     bool `json:"reminders"`
}

// QuietHours is a daily window during which interruptive channels are
// suppressed. Start and End are "HH:MM" in the window's timezone; a window
// may span midnight (start 22:00, end 08:00).
type QuietHours struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	Timezone      string `json:"timezone"`
	AllowCritical bool   `json:"allow_critical"`
}

// Contains reports whether t falls inside the quiet window.
func (q QuietHours) Contains(t time.Time) (bool, error) {
	if q.Start == "" || q.End == "" {
		return false, nil
	}

	loc := time.UTC
	if q.Timezone != "" {
		l, err := time.LoadLocation(q.Timezone)
		if err != nil {
			return false, fmt.Errorf("load timezone %q: %w", q.Timezone, err)
		}
		loc = l
	}

	start, err := minutesOfDay(q.Start)
	if err != nil {
		return false, err
	}
	end, err := minutesOfDay(q.End)
	if err != nil {
		return false, err
	}

	local := t.In(loc)
	now := local.Hour()*60 + local.Minute()

	if start == end {
		return false, nil
	}
	if start < end {
		return now >= start && now < end, nil
	}
	// Overnight window.
	return now >= start || now < end, nil
}

func minutesOfDay(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", hhmm, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day out of range: %q", hhmm)
	}
	return h*60 + m, nil
}

// FrequencyCaps bounds how many messages a user receives per channel.
// Push and email are capped per day; the low-volume channels per week.
// A zero value means the deployment default applies.
type FrequencyCaps struct {
	MaxPushPerDay      int `json:"max_push_per_day"`
	MaxEmailPerDay     int `json:"max_email_per_day"`
	MaxWhatsAppPerWeek int `json:"max_whatsapp_per_week"`
	MaxSMSPerWeek      int `json:"max_sms_per_week"`
}

const (
	defaultPushPerDay      = 5
	defaultEmailPerDay     = 3
	defaultWhatsAppPerWeek = 3
	defaultSMSPerWeek      = 2
)

// CapWindow is the period a frequency cap is measured over.
type CapWindow int

const (
	WindowDay CapWindow = iota
	WindowWeek
)

// CapFor returns the effective limit and window for a channel. Channels
// without caps (inbox) return limit 0.
func (f FrequencyCaps) CapFor(ch channel.Channel) (int, CapWindow) {
	switch ch {
	case channel.Push:
		return orDefault(f.MaxPushPerDay, defaultPushPerDay), WindowDay
	case channel.Email:
		return orDefault(f.MaxEmailPerDay, defaultEmailPerDay), WindowDay
	case channel.WhatsApp:
		return orDefault(f.MaxWhatsAppPerWeek, defaultWhatsAppPerWeek), WindowWeek
	case channel.SMS:
		return orDefault(f.MaxSMSPerWeek, defaultSMSPerWeek), WindowWeek
	}
	return 0, WindowDay
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Stats are rolling per-channel delivery statistics, all in [0,1].
type Stats struct {
	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	EngagementScore float64 `json:"engagement_score"`
}

// Contact holds the delivery addresses the profile side of the
// preference service knows for the user.
type Contact struct {
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	DeviceToken   string `json:"device_token,omitempty"`
	WhatsAppPhone string `json:"whatsapp_phone,omitempty"`
}

// Preferences is an immutable per-decision snapshot of a user's channel
// preferences.
type Preferences struct {
	UserID            uuid.UUID                   `json:"user_id"`
	Consent           map[channel.Channel]Consent `json:"consent"`
	PreferredChannels []channel.Channel           `json:"preferred_channels"`
	QuietHours        *QuietHours                 `json:"quiet_hours,omitempty"`
	Caps              FrequencyCaps               `json:"caps"`
	Stats             map[channel.Channel]Stats   `json:"stats,omitempty"`
	Contact           Contact                     `json:"contact"`
}

// Restrictive returns the snapshot used when the preference service is
// unreachable or returns partial data: every channel disabled. The inbox
// does not consult consent, so a restrictive snapshot still leaves the
// user reachable there.
func Restrictive(userID uuid.UUID) *Preferences {
	return &Preferences{
		UserID:  userID,
		Consent: map[channel.Channel]Consent{},
	}
}

// ConsentFor returns the consent flags for a channel; absent channels are
// disabled.
func (p *Preferences) ConsentFor(ch channel.Channel) Consent {
	if p == nil || p.Consent == nil {
		return Consent{}
	}
	return p.Consent[ch]
}

// Allows reports whether the user consented to receive the given template
// category on the channel. Journey messages ride on the marketing flag:
// they are campaign content.
func (p *Preferences) Allows(ch channel.Channel, category template.Category) bool {
	c := p.ConsentFor(ch)
	if !c.Enabled {
		return false
	}
	switch category {
	case template.CategoryTransactional:
		return c.Transactional
	case template.CategoryMarketing, template.CategoryJourney:
		return c.Marketing
	case template.CategoryCaring:
		return c.Caring
	case template.CategoryReminder:
		return c.Reminders
	}
	return false
}

// StatsFor returns the rolling stats for a channel, zero when unknown.
func (p *Preferences) StatsFor(ch channel.Channel) Stats {
	if p == nil || p.Stats == nil {
		return Stats{}
	}
	return p.Stats[ch]
}

// Rank returns the position of ch in the user's ranked preferred-channel
// list, or -1 when unranked.
func (p *Preferences) Rank(ch channel.Channel) int {
	for i, c := range p.PreferredChannels {
		if c == ch {
			return i
		}
	}
	return -1
}
