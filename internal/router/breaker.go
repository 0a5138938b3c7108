package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// newBreaker builds the per-provider circuit breaker. Client-side failures
// (bad key, bad request, caller cancellation) do not count against the
// provider.
func newBreaker(p models.Provider, maxFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker[*models.InvokeResponse] {
	return gobreaker.NewCircuitBreaker[*models.InvokeResponse](gobreaker.Settings{
		Name:        "llm:" + string(p),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientSide(err)
		},
	})
}

func clientSide(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		return pe.StatusCode != http.StatusTooManyRequests
	}
	return false
}
