package errors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy configures bounded retries with exponential backoff and jitter
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the fraction of each delay that is randomised, in [0,1]
	Jitter float64
	// Classifier decides whether an error is worth another attempt
	Classifier func(error) bool

	logger zerolog.Logger
}

// DefaultRetryPolicy returns default retry configuration
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.5,
		Classifier:  IsTransient,
		logger:      zerolog.Nop(),
	}
}

// WithClassifier returns a copy of the policy using fn to classify errors
func (p *RetryPolicy) WithClassifier(fn func(error) bool) *RetryPolicy {
	cp := *p
	cp.Classifier = fn
	return &cp
}

// WithLogger returns a copy of the policy that logs retries to logger
func (p *RetryPolicy) WithLogger(logger zerolog.Logger) *RetryPolicy {
	cp := *p
	cp.logger = logger.With().Str("component", "retry").Logger()
	return &cp
}

// Backoff returns the delay before the attempt following attempt (1-based)
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay = delay - spread + rand.Float64()*spread
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done.
func (p *RetryPolicy) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.Classifier
	if classify == nil {
		classify = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return abandoned(operation, err, lastErr)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.Debug().
					Str("operation", operation).
					Int("attempts", attempt).
					Msg("operation succeeded after retries")
			}
			return nil
		}
		lastErr = err

		if !classify(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		p.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return abandoned(operation, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	var e *Error
	if errors.As(lastErr, &e) {
		return lastErr
	}
	return Transient("", fmt.Sprintf("%s failed after %d attempts", operation, attempts), lastErr).
		WithContext("attempts", attempts)
}

func abandoned(operation string, ctxErr, lastErr error) error {
	cause := ctxErr
	if lastErr != nil {
		cause = fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}
	return Transient(ReasonCanceled, operation+" abandoned", cause)
}
