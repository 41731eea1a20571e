package profile

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVec(seed float32, dims int) model.Embedding {
	v := make(model.Embedding, dims)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v.Normalized()
}

func TestStore_CreateOrUpdate(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	p, err := s.CreateOrUpdate("Fred", []model.Embedding{newVec(1, 8), newVec(1.1, 8), newVec(5, 8)}, "manual-label")
	require.NoError(t, err)
	assert.Equal(t, "fred", p.Name)
	assert.GreaterOrEqual(t, p.Threshold, 0.20)
	assert.LessOrEqual(t, p.Threshold, 0.50)

	loaded, err := s.Load(true)
	require.NoError(t, err)
	require.Contains(t, loaded, "fred")
	assert.Equal(t, p.NumSamples, loaded["fred"].NumSamples)
}

func TestStore_CreateOrUpdateDedupesNearIdentical(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	v := newVec(2, 16)
	p, err := s.CreateOrUpdate("alice", []model.Embedding{v, v}, "auto-enrollment")
	require.NoError(t, err)
	assert.Equal(t, 1, p.NumSamples)
}

func TestStore_LoadEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	profiles, err := s.Load(false)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}
