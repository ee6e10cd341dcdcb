// Package circuitbreaker provides circuit breaker functionality using Sony's gobreaker
package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the maximum number of requests allowed in half-open state
	MaxConcurrentRequests int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// ProviderConfig is tuned for enrichment provider calls, which should fail
// fast so a dead provider does not slow every identification.
var ProviderConfig = Config{
	MaxFailures:           3,
	Timeout:               30 * time.Second,
	MaxConcurrentRequests: 2,
}

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the service has recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker wraps Sony's gobreaker behind a small interface
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New creates a new circuit breaker
func New(name string, config Config, logger logging.Logger) *CircuitBreaker {
	if config.MaxFailures <= 0 || config.Timeout <= 0 || config.MaxConcurrentRequests <= 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute, // Rolling window for statistics
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			// Client errors do not indicate provider health; don't let
			// them trip the breaker.
			if appErr, ok := err.(*errors.AppError); ok {
				switch appErr.Type {
				case errors.ErrTypeValidation, errors.ErrTypeNotFound:
					return true
				}
			}

			return false
		},
	}

	return &CircuitBreaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs the given function within the circuit breaker
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState {
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' is open", c.name), err)
	}
	if err == gobreaker.ErrTooManyRequests {
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' has too many requests", c.name), err)
	}

	return err
}

// State returns the current state of the circuit breaker
func (c *CircuitBreaker) State() State {
	switch c.breaker.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsOpen returns true if the circuit breaker is open
func (c *CircuitBreaker) IsOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}
