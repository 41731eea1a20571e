// Package perr defines the pipeline's error taxonomy as sentinel values
// checked with errors.Is, so callers can branch on retryability without
// string matching.
package perr

import "errors"

var (
	// ErrTransient covers network 429/5xx, an encoder not yet loaded, or a
	// filesystem interruption. Retried with exponential backoff.
	ErrTransient = errors.New("transient error")

	// ErrConfiguration covers a missing API key, bearer token, or
	// directory. The affected stage is skipped; counters increment.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataQuality covers audio too short, an unreadable WAV, or a
	// too-noisy cluster. Terminal but non-fatal.
	ErrDataQuality = errors.New("data quality error")

	// ErrFatal covers a transcription service error, an exhausted poll
	// timeout, or an orphaned clip past its age limit.
	ErrFatal = errors.New("fatal error")

	// ErrNotReady is returned by the embedding client while its encoder
	// is unloaded and within its retry cooldown.
	ErrNotReady = errors.New("encoder not ready")

	// ErrTooShort is returned when a requested audio span doesn't meet
	// the minimum duration for embedding extraction.
	ErrTooShort = errors.New("audio span too short")
)
