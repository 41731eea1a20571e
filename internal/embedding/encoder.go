// Package embedding wraps a speaker-encoder model behind a result cache
// with negative TTL: the underlying encoder loads lazily, failures are
// cached for a cooldown window, and load attempts are serialized.
package embedding

import (
	"context"

	"github.com/snarg/voxpipe/internal/model"
)

// Encoder is the pluggable seam over the out-of-scope embedding model.
// Production builds point this at a sidecar HTTP inference service; tests
// use a deterministic stub.
type Encoder interface {
	// EncodeWAV extracts a speaker embedding from [start, end) seconds of
	// the WAV file at path.
	EncodeWAV(ctx context.Context, path string, start, end float64) (model.Embedding, error)
}
