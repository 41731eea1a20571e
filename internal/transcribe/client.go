// Package transcribe wraps the external cloud transcription service:
// upload, submit, and poll, each retried with exponential backoff, plus
// normalization of the service's wire format into the internal segment
// shape.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
)

// Options configures the client against the AssemblyAI-shaped wire contract
// (§6 transcription service wire contract).
type Options struct {
	APIKey       string
	BaseURL      string
	MaxSpeakers  int
	CostPerHour  float64
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxRetries   int
	RetryBase    time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.assemblyai.com/v2"
	}
	if o.MaxSpeakers == 0 {
		o.MaxSpeakers = 6
	}
	if o.CostPerHour == 0 {
		o.CostPerHour = 0.17
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollTimeout == 0 {
		o.PollTimeout = 1800 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase == 0 {
		o.RetryBase = 5 * time.Second
	}
	return o
}

// Client drives a clip through upload → submit → poll and owns the
// thread-safe active-jobs map the retry loop and health endpoint read.
type Client struct {
	opts   Options
	http   *http.Client
	log    zerolog.Logger

	mu     sync.RWMutex
	active map[string]struct{}
}

// New builds a transcription client.
func New(opts Options, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.PollTimeout + 30*time.Second},
		log:    log.With().Str("component", "transcribe").Logger(),
		active: make(map[string]struct{}),
	}
}

// ListActive returns a snapshot of clip stems currently in flight.
func (c *Client) ListActive() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.active))
	for k := range c.active {
		out = append(out, k)
	}
	return out
}

func (c *Client) markActive(stem string) {
	c.mu.Lock()
	c.active[stem] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) markDone(stem string) {
	c.mu.Lock()
	delete(c.active, stem)
	c.mu.Unlock()
}

// Result is the normalized outcome of a full upload/submit/poll cycle.
type Result struct {
	Segments []model.Segment
	Language string
	Duration float64
	CostUSD  float64
	Model    string
}

// Run uploads audioData, submits it for transcription, polls to completion,
// and returns the normalized result. stem identifies the clip in the
// active-jobs map for the duration of the call.
func (c *Client) Run(ctx context.Context, stem string, audioData []byte) (*Result, error) {
	c.markActive(stem)
	defer c.markDone(stem)

	uploadURL, err := c.upload(ctx, audioData)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	id, err := c.submit(ctx, uploadURL)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	raw, err := c.poll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	return normalize(raw, c.opts.CostPerHour), nil
}

func (c *Client) upload(ctx context.Context, data []byte) (string, error) {
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/upload", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		req.Header.Set("Content-Type", "application/octet-stream")
		return c.doJSON(req, &out)
	})
	return out.UploadURL, err
}

func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"audio_url":          audioURL,
		"speech_models":      []string{"best"},
		"speaker_labels":     true,
		"speakers_expected":  nil,
		"language_detection": true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit body: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	err = c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/transcript", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return c.doJSON(req, &out)
	})
	return out.ID, err
}

type rawTranscript struct {
	Status         string  `json:"status"`
	Error          string  `json:"error"`
	AudioDuration  float64 `json:"audio_duration"`
	Confidence     float64 `json:"confidence"`
	LanguageCode   string  `json:"language_code"`
	Utterances     []rawUtterance `json:"utterances"`
	Words          []rawWord      `json:"words"`
}

type rawUtterance struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	Start   float64   `json:"start"` // milliseconds
	End     float64   `json:"end"`   // milliseconds
	Words   []rawWord `json:"words"`
}

type rawWord struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

func (c *Client) poll(ctx context.Context, id string) (*rawTranscript, error) {
	deadline := time.Now().Add(c.opts.PollTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("poll timeout after %s", c.opts.PollTimeout)
		}

		var out rawTranscript
		err := c.withRetry(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/transcript/"+id, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
			return c.doJSON(req, &out)
		})
		if err != nil {
			return nil, err
		}

		switch out.Status {
		case "completed":
			return &out, nil
		case "error":
			return nil, fmt.Errorf("transcription service error: %s", out.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.PollInterval):
		}
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &httpError{transient: true, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return &httpError{transient: true, status: resp.StatusCode, err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &httpError{transient: false, status: resp.StatusCode, err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
