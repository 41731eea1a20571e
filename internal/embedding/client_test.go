package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ExtractNormalizesAndRespectsMinSpan(t *testing.T) {
	c := NewClient(NewStubEncoder(8), 300*time.Second, zerolog.Nop())

	_, err := c.Extract(context.Background(), "clip.wav", 0, 0.5)
	require.ErrorContains(t, err, "too short")

	vec, err := c.Extract(context.Background(), "clip.wav", 0, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vec.Norm(), 0.01)
}

func TestClient_ExtractMultiPicksLongestRanges(t *testing.T) {
	c := NewClient(NewStubEncoder(8), 300*time.Second, zerolog.Nop())

	ranges := []TimeRange{
		{Start: 0, End: 1.2},
		{Start: 2, End: 5},
		{Start: 6, End: 6.5}, // below minDur, excluded
	}

	vec, err := c.ExtractMulti(context.Background(), "clip.wav", ranges, 3, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vec.Norm(), 0.01)
}

func TestClient_ExtractMultiAllTooShort(t *testing.T) {
	c := NewClient(NewStubEncoder(8), 300*time.Second, zerolog.Nop())

	_, err := c.ExtractMulti(context.Background(), "clip.wav", []TimeRange{{Start: 0, End: 0.4}}, 3, 1.0)
	require.Error(t, err)
}
