package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/preference"
	"github.com/tailhq/courier/internal/template"
)

// Scoring weights for channel selection. Each signal contributes
// independently; the highest-scoring available channel wins.
const (
	rankWeight = 10

	perfEngagementWeight = 50
	perfDeliveryWeight   = 20
	perfOpenWeight       = 15
	perfClickWeight      = 15

	affinityBonus = 20

	antiSpamThreshold = 2
	antiSpamPenalty   = 20
)

// criticalOrder is the fast path for critical sends: first available
// channel wins, no scoring pass.
var criticalOrder = []channel.Channel{channel.Push, channel.SMS, channel.Inbox}

// resolveChannel picks the delivery channel for a send. An explicitly
// requested channel is honored only when it is template-supported and
// consented; otherwise the scoring pass decides.
func (o *Orchestrator) resolveChannel(
	ctx context.Context,
	tpl *template.Template,
	prefs *preference.Preferences,
	explicit *channel.Channel,
	priority channel.Priority,
) channel.Channel {
	if explicit != nil && o.availableFor(tpl, prefs, *explicit, priority) {
		return *explicit
	}

	if priority == channel.PriorityCritical {
		for _, ch := range criticalOrder {
			if o.availableFor(tpl, prefs, ch, priority) {
				return ch
			}
		}
		return channel.Inbox
	}

	now := o.now()
	inQuiet := o.inQuietHours(prefs, now)

	best := channel.Inbox
	bestScore := -1
	for _, ch := range channel.All() {
		if !o.availableFor(tpl, prefs, ch, priority) {
			continue
		}
		score := o.scoreChannel(ctx, tpl, prefs, ch, priority, now, inQuiet)
		if score > bestScore {
			best = ch
			bestScore = score
		}
	}
	if bestScore < 0 {
		// Nothing available; the inbox is the unconditional fallback.
		return channel.Inbox
	}

	o.logger.Debug("channel resolved",
		zap.String("user_id", prefs.UserID.String()),
		zap.String("channel", string(best)),
		zap.Int("score", bestScore),
	)

	return best
}

// availableFor reports whether a channel can carry this send at all:
// registered provider, template support, and consent. The inbox is
// always available. Critical sends additionally require transactional
// consent on outward channels.
func (o *Orchestrator) availableFor(tpl *template.Template, prefs *preference.Preferences, ch channel.Channel, priority channel.Priority) bool {
	if ch == channel.Inbox {
		return true
	}
	if !o.registry.Available(ch) || !tpl.Supports(ch) {
		return false
	}
	if priority == channel.PriorityCritical {
		consent := prefs.ConsentFor(ch)
		return consent.Enabled && consent.Transactional
	}
	return prefs.Allows(ch, tpl.Category)
}

func (o *Orchestrator) scoreChannel(
	ctx context.Context,
	tpl *template.Template,
	prefs *preference.Preferences,
	ch channel.Channel,
	priority channel.Priority,
	now time.Time,
	inQuiet bool,
) int {
	score := 0

	// Preference rank: earlier in the ranked list scores higher.
	if rank := prefs.Rank(ch); rank >= 0 {
		score += (len(prefs.PreferredChannels) - rank) * rankWeight
	}

	// Historical performance.
	stats := prefs.StatsFor(ch)
	score += int(stats.EngagementScore*perfEngagementWeight +
		stats.DeliveryRate*perfDeliveryWeight +
		stats.OpenRate*perfOpenWeight +
		stats.ClickRate*perfClickWeight)

	// Template affinity.
	if _, ok := tpl.Content[ch]; ok {
		score += affinityBonus
	}

	score += priorityBonus(ch, priority)

	if inQuiet {
		score += quietHoursAdjustment(ch)
	}

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		switch ch {
		case channel.Email:
			score -= 10
		case channel.Push:
			score += 5
		}
	}

	// Anti-spam: a channel already used heavily today loses ground.
	if count, err := o.sendLog.CountToday(ctx, prefs.UserID, ch); err == nil && count > antiSpamThreshold {
		score -= antiSpamPenalty
	}

	if score < 0 {
		score = 0
	}
	return score
}

func priorityBonus(ch channel.Channel, priority channel.Priority) int {
	switch priority {
	case channel.PriorityCritical:
		switch ch {
		case channel.Push:
			return 30
		case channel.Inbox:
			return 25
		}
	case channel.PriorityHigh:
		switch ch {
		case channel.Push:
			return 20
		case channel.Email:
			return 15
		}
	case channel.PriorityMedium:
		switch ch {
		case channel.Email:
			return 10
		case channel.Inbox:
			return 5
		}
	case channel.PriorityLow:
		if ch == channel.Inbox {
			return 15
		}
	}
	return 0
}

func quietHoursAdjustment(ch channel.Channel) int {
	switch ch {
	case channel.Push:
		return -40
	case channel.WhatsApp:
		return -35
	case channel.SMS:
		return -30
	case channel.Email:
		return 10
	case channel.Inbox:
		return 15
	}
	return 0
}

// inQuietHours evaluates the user's quiet window at the given time.
// Unparseable windows count as quiet: the restrictive reading.
func (o *Orchestrator) inQuietHours(prefs *preference.Preferences, now time.Time) bool {
	if prefs.QuietHours == nil {
		return false
	}
	in, err := prefs.QuietHours.Contains(now)
	if err != nil {
		o.logger.Warn("failed to evaluate quiet hours",
			zap.Error(err),
			zap.String("user_id", prefs.UserID.String()),
		)
		return true
	}
	return in
}
