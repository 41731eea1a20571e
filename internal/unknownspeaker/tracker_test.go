package unknownspeaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(seed float32, dims int) model.Embedding {
	v := make(model.Embedding, dims)
	for i := range v {
		v[i] = seed + float32(i)*0.0005
	}
	return v.Normalized()
}

func TestTracker_FindClusterWithinRadius(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), Options{}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.AddSample("cluster-1", vec(1, 16), "hello", "clip1.wav", time.Now()))

	id, found, err := tr.FindCluster(vec(1.001, 16), 0.20)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cluster-1", id)

	// vec() output points almost along (1,1,...,1) for every seed; an
	// alternating-sign vector is orthogonal to it (cosine distance ~1).
	far := make(model.Embedding, 16)
	for i := range far {
		far[i] = float32(1 - 2*(i%2))
	}
	_, found, err = tr.FindCluster(far.Normalized(), 0.20)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTracker_PromotesAfterMinSamples(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), Options{MinSamples: 3, MaxVariance: 1000}, zerolog.Nop())
	require.NoError(t, err)

	base := vec(2, 16)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.AddSample("cluster-2", base, "hi", "clip.wav", time.Now().Add(time.Duration(i)*time.Second)))
	}

	c, err := tr.LoadCandidate("cluster-2")
	require.NoError(t, err)
	assert.Equal(t, "pending_review", c.Status)
	assert.Equal(t, 3, c.NumSamples)
}

func TestTracker_ApproveCreatesProfile(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), Options{MinSamples: 2, MaxVariance: 1000}, zerolog.Nop())
	require.NoError(t, err)

	base := vec(3, 16)
	require.NoError(t, tr.AddSample("cluster-3", base, "hi", "clip.wav", time.Now()))
	require.NoError(t, tr.AddSample("cluster-3", base, "hi again", "clip2.wav", time.Now()))

	store, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	p, err := tr.Approve("cluster-3", "alice", store)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)
}

func TestTracker_PruneRemovesStaleSmallClusters(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), Options{PruneMinSamples: 3, PruneMaxAgeDays: 30}, zerolog.Nop())
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -60)
	require.NoError(t, tr.AddSample("stale", vec(4, 8), "hi", "clip.wav", old))

	require.NoError(t, tr.Prune())

	_, found, err := tr.FindCluster(vec(4, 8), 0.20)
	require.NoError(t, err)
	assert.False(t, found)
}
