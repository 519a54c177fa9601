package channel

import (
	"fmt"

	"go.uber.org/zap"
)

// Registry maps channels to their transport providers. The inbox provider
// must always be registered: it is the unconditional fallback and the
// system of record for every message.
type Registry struct {
	providers map[Channel]Provider
	logger    *zap.Logger
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(logger *zap.Logger, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[Channel]Provider, len(providers)),
		logger:    logger,
	}

	for _, p := range providers {
		ch := p.Channel()
		if !ch.Valid() {
			return nil, fmt.Errorf("provider registered for unknown channel: %q", ch)
		}
		if _, dup := r.providers[ch]; dup {
			return nil, fmt.Errorf("duplicate provider for channel: %s", ch)
		}
		r.providers[ch] = p
	}

	if _, ok := r.providers[Inbox]; !ok {
		return nil, fmt.Errorf("inbox provider is required")
	}

	logger.Info("channel registry initialized",
		zap.Int("providers", len(r.providers)),
	)

	return r, nil
}

// Get returns the provider for a channel, if one is registered.
func (r *Registry) Get(ch Channel) (Provider, bool) {
	p, ok := r.providers[ch]
	return p, ok
}

// Available reports whether a provider is registered for the channel.
func (r *Registry) Available(ch Channel) bool {
	_, ok := r.providers[ch]
	return ok
}
