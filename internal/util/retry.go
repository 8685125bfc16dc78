package util

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent wraps errors that Retry must not retry.
var ErrPermanent = errors.New("permanent error")

// Retry calls fn up to maxAttempts times, doubling the delay after each
// failure starting at baseDelay. Errors wrapping ErrPermanent stop the loop
// immediately. The last error is returned when every attempt fails.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	_, err := RetryValue(ctx, maxAttempts, baseDelay, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is Retry for functions that produce a value.
func RetryValue[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrPermanent) || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, err
}
