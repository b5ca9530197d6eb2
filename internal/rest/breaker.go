// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// BreakerClient wraps Client with a circuit breaker so a flapping tracking
// server cannot turn the baseline poller into a retry storm. The breaker
// uses real time for its recovery window; unit tests exercise the wrapped
// Client directly.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewBreakerClient creates a snapshot API client with circuit breaker
// protection. The circuit opens after a 60% failure rate over at least 5
// requests and probes again after 1 minute.
func NewBreakerClient(baseURL, token string) *BreakerClient {
	cbName := "tracking-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{
		client: NewClient(baseURL, token),
		cb:     cb,
		name:   cbName,
	}
}

// Devices fetches the device list with circuit breaker protection.
func (bc *BreakerClient) Devices(ctx context.Context) ([]models.Device, error) {
	return execute(bc, func() (any, error) {
		return bc.client.Devices(ctx)
	}, castSlice[models.Device])
}

// Positions fetches the latest positions with circuit breaker protection.
func (bc *BreakerClient) Positions(ctx context.Context) ([]models.Position, error) {
	return execute(bc, func() (any, error) {
		return bc.client.Positions(ctx)
	}, castSlice[models.Position])
}

// execute runs one call through the breaker and converts the untyped result.
func execute[T any](bc *BreakerClient, fn func() (any, error), cast func(any) ([]T, error)) ([]T, error) {
	result, err := bc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Err(err).Str("breaker", bc.name).Msg("snapshot request rejected by circuit breaker")
		}
		return nil, err
	}
	return cast(result)
}

// castSlice recovers the typed slice from the breaker's untyped result.
func castSlice[T any](result any) ([]T, error) {
	typed, ok := result.([]T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
