package transcribe

import (
	"context"
	"fmt"
	"time"
)

// httpError distinguishes retryable (429/5xx/network) failures from ones
// that should fail fast (other 4xx).
type httpError struct {
	transient bool
	status    int
	err       error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

// withRetry runs fn up to opts.MaxRetries times with exponential backoff
// (base × 2^attempt), retrying only on transient failures.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		he, ok := err.(*httpError)
		if !ok || !he.transient {
			return err
		}

		if attempt == c.opts.MaxRetries-1 {
			break
		}

		delay := c.opts.RetryBase * time.Duration(1<<uint(attempt))
		c.log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying transcription request")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", c.opts.MaxRetries, lastErr)
}
