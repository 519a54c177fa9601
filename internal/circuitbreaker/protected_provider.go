package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// ProtectedProvider wraps a channel provider with a circuit breaker. An
// open circuit surfaces as an unsuccessful delivery result, which feeds
// the orchestrator's fallback chain like any other transport failure.
type ProtectedProvider struct {
	provider channel.Provider
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedProvider wraps a provider with circuit breaker protection.
func NewProtectedProvider(provider channel.Provider, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedProvider {
	return &ProtectedProvider{
		provider: provider,
		breaker:  breaker,
		logger:   logger,
	}
}

// Channel delegates to the underlying provider.
func (p *ProtectedProvider) Channel() channel.Channel {
	return p.provider.Channel()
}

// Deliver attempts a delivery through the circuit breaker.
func (p *ProtectedProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("message_id", payload.MessageID.String()),
			zap.String("channel", string(p.provider.Channel())),
			zap.String("state", p.breaker.GetState().String()),
		)
		return &channel.Result{
			Success:       false,
			ProviderError: ErrCircuitOpen.Error(),
		}, nil
	}

	result, err := p.provider.Deliver(ctx, payload)
	if err != nil || !result.Success {
		p.breaker.RecordFailure()
		return result, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedProvider) Breaker() *CircuitBreaker {
	return p.breaker
}
