package embedding

import (
	"context"
	"hash/fnv"

	"github.com/snarg/voxpipe/internal/model"
)

// StubEncoder derives a deterministic pseudo-embedding from the path and
// time range, for tests and local development where no inference sidecar
// is available.
type StubEncoder struct {
	Dims int
}

// NewStubEncoder builds a deterministic Encoder with the given embedding
// dimensionality.
func NewStubEncoder(dims int) *StubEncoder {
	if dims <= 0 {
		dims = 192
	}
	return &StubEncoder{Dims: dims}
}

func (s *StubEncoder) EncodeWAV(_ context.Context, path string, start, end float64) (model.Embedding, error) {
	h := fnv.New64a()
	h.Write([]byte(path))
	seed := h.Sum64()

	vec := make(model.Embedding, s.Dims)
	state := seed ^ uint64(start*1000) ^ uint64(end*1000)<<1
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(state>>40)%2000-1000) / 1000.0
	}
	return vec.Normalized(), nil
}
