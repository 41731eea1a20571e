package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/perr"
)

// loaderState is a result cache with negative TTL: a successful load is
// cached indefinitely, a failed load is cached for retryAfter and then
// re-attempted by the next caller.
type loaderState struct {
	mu            sync.Mutex
	loaded        bool
	lastAttemptAt time.Time
	retryAfter    time.Duration
}

func (s *loaderState) ready(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return true
	}
	return now.Sub(s.lastAttemptAt) >= s.retryAfter
}

// Client wraps an Encoder with the lazy-load/cooldown/serialized-attempt
// contract and audio slicing used by the identifier.
type Client struct {
	encoder    Encoder
	state      loaderState
	minSpan    float64
	log        zerolog.Logger
}

// NewClient builds an embedding client. retryAfter is the cooldown window
// after a failed load (default 300s per the environment contract).
func NewClient(enc Encoder, retryAfter time.Duration, log zerolog.Logger) *Client {
	return &Client{
		encoder: enc,
		state:   loaderState{retryAfter: retryAfter},
		minSpan: 1.0,
		log:     log.With().Str("component", "embedding").Logger(),
	}
}

// Ready reports whether the encoder is currently usable without attempting
// a load; used by the retry loop's warm-up check.
func (c *Client) Ready() bool {
	return c.state.ready(time.Now())
}

// Extract extracts a single embedding from [start, end) of the WAV at
// audioPath. Returns ErrNotReady if the encoder is in its cooldown window,
// and ErrTooShort if the span is below the minimum duration.
func (c *Client) Extract(ctx context.Context, audioPath string, start, end float64) (model.Embedding, error) {
	if end-start < c.minSpan {
		return nil, fmt.Errorf("extract: %w", perr.ErrTooShort)
	}

	c.state.mu.Lock()
	if !c.state.loaded {
		if time.Since(c.state.lastAttemptAt) < c.state.retryAfter {
			c.state.mu.Unlock()
			return nil, fmt.Errorf("extract: %w", perr.ErrNotReady)
		}
		c.state.lastAttemptAt = time.Now()
	}
	c.state.mu.Unlock()

	vec, err := c.encoder.EncodeWAV(ctx, audioPath, start, end)
	if err != nil {
		c.log.Warn().Err(err).Str("path", audioPath).Msg("encoder call failed")
		return nil, fmt.Errorf("extract: %w: %v", perr.ErrNotReady, err)
	}

	c.state.mu.Lock()
	c.state.loaded = true
	c.state.mu.Unlock()

	return vec.Normalized(), nil
}

// TimeRange is a [Start, End) span in seconds used to slice audio for
// embedding extraction.
type TimeRange struct {
	Start, End float64
}

func (r TimeRange) duration() float64 { return r.End - r.Start }

// ExtractMulti picks the N longest ranges meeting minDur, embeds each, and
// returns the L2-normalized mean. A single qualifying range short-circuits
// to that range's embedding.
func (c *Client) ExtractMulti(ctx context.Context, audioPath string, ranges []TimeRange, max int, minDur float64) (model.Embedding, error) {
	qualifying := make([]TimeRange, 0, len(ranges))
	for _, r := range ranges {
		if r.duration() >= minDur {
			qualifying = append(qualifying, r)
		}
	}
	if len(qualifying) == 0 {
		return nil, fmt.Errorf("extract_multi: %w", perr.ErrTooShort)
	}

	sort.Slice(qualifying, func(i, j int) bool {
		return qualifying[i].duration() > qualifying[j].duration()
	})
	if len(qualifying) > max {
		qualifying = qualifying[:max]
	}

	if len(qualifying) == 1 {
		return c.Extract(ctx, audioPath, qualifying[0].Start, qualifying[0].End)
	}

	vecs := make([]model.Embedding, 0, len(qualifying))
	for _, r := range qualifying {
		v, err := c.Extract(ctx, audioPath, r.Start, r.End)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, v)
	}
	return model.Mean(vecs).Normalized(), nil
}
