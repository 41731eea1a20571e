package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/snarg/voxpipe/internal/model"
)

// HTTPEncoder calls a sidecar inference service over HTTP: POST a JSON body
// naming the audio path and the [start, end) span, decode a JSON vector
// back. The sidecar reads the audio itself; no samples are uploaded.
type HTTPEncoder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEncoder builds an Encoder backed by a sidecar speaker-embedding
// service listening at baseURL.
func NewHTTPEncoder(baseURL string, timeout time.Duration) *HTTPEncoder {
	return &HTTPEncoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type encodeRequest struct {
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type encodeResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (e *HTTPEncoder) EncodeWAV(ctx context.Context, path string, start, end float64) (model.Embedding, error) {
	body, err := json.Marshal(encodeRequest{Path: path, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("marshal encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build encode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encoder returned status %d", resp.StatusCode)
	}

	var out encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode encode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("encoder error: %s", out.Error)
	}
	return model.Embedding(out.Embedding), nil
}
