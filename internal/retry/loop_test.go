package retry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/identify"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/profile"
	"github.com/snarg/voxpipe/internal/unknownspeaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noActive struct{}

func (noActive) ListActive() []string { return nil }

func TestLoop_MaxRetriesExceededMarksCompleteNoSpeakerID(t *testing.T) {
	doneDir := t.TempDir()
	embed := embedding.NewClient(embedding.NewStubEncoder(8), time.Minute, zerolog.Nop())
	// Force ready.
	_, _ = embed.Extract(context.Background(), "warmup.wav", 0, 2)

	profiles, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	tracker, err := unknownspeaker.NewTracker(t.TempDir(), unknownspeaker.Options{}, zerolog.Nop())
	require.NoError(t, err)
	id := identify.New(embed, profiles, tracker, identify.Options{Enabled: true}, zerolog.Nop())

	tr := model.Transcript{
		Stem:                "clip1",
		PipelineStatus:      model.StatusSpeakerIDFailed,
		SpeakerIDRetryCount: 10,
	}
	data, _ := json.Marshal(tr)
	require.NoError(t, os.WriteFile(filepath.Join(doneDir, "clip1.json"), data, 0o644))

	l := New(embed, id, noActive{}, tracker, Options{DoneDir: doneDir, MaxRetries: 10}, zerolog.Nop())
	l.runCycle(context.Background(), false)

	out, err := os.ReadFile(filepath.Join(doneDir, "clip1.json"))
	require.NoError(t, err)
	var got model.Transcript
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, model.StatusCompleteNoSpeakerID, got.PipelineStatus)
	assert.Equal(t, "max_retries_exceeded", got.SpeakerIDError)
}

func TestLoop_SkipsActiveClips(t *testing.T) {
	doneDir := t.TempDir()
	embed := embedding.NewClient(embedding.NewStubEncoder(8), time.Minute, zerolog.Nop())
	_, _ = embed.Extract(context.Background(), "warmup.wav", 0, 2)

	profiles, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	tracker, err := unknownspeaker.NewTracker(t.TempDir(), unknownspeaker.Options{}, zerolog.Nop())
	require.NoError(t, err)
	id := identify.New(embed, profiles, tracker, identify.Options{Enabled: true}, zerolog.Nop())

	tr := model.Transcript{Stem: "clip2", PipelineStatus: model.StatusTranscribed}
	data, _ := json.Marshal(tr)
	path := filepath.Join(doneDir, "clip2.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	active := activeOnly{"clip2"}
	l := New(embed, id, active, tracker, Options{DoneDir: doneDir, MaxRetries: 10}, zerolog.Nop())
	l.runCycle(context.Background(), false)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	var got model.Transcript
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, model.StatusTranscribed, got.PipelineStatus) // untouched: it was "active"
}

type activeOnly []string

func (a activeOnly) ListActive() []string { return a }
