package identify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/profile"
	"github.com/snarg/voxpipe/internal/unknownspeaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier_DisabledMarksCompleteNoSpeakerID(t *testing.T) {
	embed := embedding.NewClient(embedding.NewStubEncoder(8), time.Minute, zerolog.Nop())
	profiles, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	tracker, err := unknownspeaker.NewTracker(t.TempDir(), unknownspeaker.Options{}, zerolog.Nop())
	require.NoError(t, err)

	id := New(embed, profiles, tracker, Options{Enabled: false}, zerolog.Nop())
	tr := &model.Transcript{Segments: []model.Segment{{Speaker: "SPEAKER_00", Start: 0, End: 5, Text: "hi"}}}

	require.NoError(t, id.Identify(context.Background(), "clip.wav", tr))
	assert.Equal(t, model.StatusCompleteNoSpeakerID, tr.PipelineStatus)
}

func TestIdentifier_MatchesEnrolledProfile(t *testing.T) {
	embed := embedding.NewClient(embedding.NewStubEncoder(8), time.Minute, zerolog.Nop())
	profiles, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	tracker, err := unknownspeaker.NewTracker(t.TempDir(), unknownspeaker.Options{}, zerolog.Nop())
	require.NoError(t, err)

	// Enroll the exact embedding the stub encoder will produce for this clip/range.
	vec, err := embed.Extract(context.Background(), "clip.wav", 0, 5)
	require.NoError(t, err)
	_, err = profiles.CreateOrUpdate("fred", []model.Embedding{vec}, "manual-label")
	require.NoError(t, err)

	id := New(embed, profiles, tracker, Options{Enabled: true}, zerolog.Nop())
	tr := &model.Transcript{Segments: []model.Segment{{Speaker: "SPEAKER_00", Start: 0, End: 5, Text: "hi"}}}

	require.NoError(t, id.Identify(context.Background(), "clip.wav", tr))
	assert.Equal(t, model.StatusComplete, tr.PipelineStatus)
	assert.Contains(t, tr.SpeakerID.Identified, "SPEAKER_00")
	assert.Equal(t, "fred", tr.Segments[0].SpeakerName)
}

func TestIdentifier_EncoderNotReadyMarksFailed(t *testing.T) {
	embed := embedding.NewClient(&alwaysFailEncoder{}, time.Hour, zerolog.Nop())
	profiles, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	tracker, err := unknownspeaker.NewTracker(t.TempDir(), unknownspeaker.Options{}, zerolog.Nop())
	require.NoError(t, err)

	id := New(embed, profiles, tracker, Options{Enabled: true}, zerolog.Nop())
	tr := &model.Transcript{Segments: []model.Segment{{Speaker: "SPEAKER_00", Start: 0, End: 5, Text: "hi"}}}

	err = id.Identify(context.Background(), "clip.wav", tr)
	require.Error(t, err)
	assert.Equal(t, model.StatusSpeakerIDFailed, tr.PipelineStatus)
}

type alwaysFailEncoder struct{}

func (alwaysFailEncoder) EncodeWAV(context.Context, string, float64, float64) (model.Embedding, error) {
	return nil, assertErr
}

var assertErr = &staticErr{"encoder unavailable"}

type staticErr struct{ s string }

func (e *staticErr) Error() string { return e.s }
