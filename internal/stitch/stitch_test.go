package stitch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, dir, name string, tr model.Transcript) {
	t.Helper()
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestStitcher_GroupsWithinGapAndSplitsBeyond(t *testing.T) {
	root := t.TempDir()
	dayDir := filepath.Join(root, "2026", "01", "15")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))

	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	writeTranscript(t, dayDir, "09-00-00.json", model.Transcript{
		Stem: "a", ArrivedAt: base, DurationSeconds: 10,
		Segments: []model.Segment{{Text: "hi there", SpeakerName: "alice"}},
	})
	writeTranscript(t, dayDir, "09-00-30.json", model.Transcript{
		Stem: "b", ArrivedAt: base.Add(30 * time.Second), DurationSeconds: 10,
		Segments: []model.Segment{{Text: "hello back", SpeakerName: "alice"}},
	})
	writeTranscript(t, dayDir, "09-10-00.json", model.Transcript{
		Stem: "c", ArrivedAt: base.Add(10 * time.Minute), DurationSeconds: 10,
		Segments: []model.Segment{{Text: "much later", SpeakerName: "bob"}},
	})

	s := New(root, Options{}, zerolog.Nop())
	require.NoError(t, s.StitchDay(2026, 1, 15))

	idxData, err := os.ReadFile(filepath.Join(dayDir, "conversations.json"))
	require.NoError(t, err)
	var idx conversationIndex
	require.NoError(t, json.Unmarshal(idxData, &idx))

	require.Len(t, idx.Conversations, 2)
	assert.Equal(t, 2, idx.Conversations[0].Count)
	assert.Equal(t, 1, idx.Conversations[1].Count)
	assert.Equal(t, "2026-01-15", idx.Date)

	var a model.Transcript
	raw, err := os.ReadFile(filepath.Join(dayDir, "09-00-00.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.NotEmpty(t, a.ConversationID)
}

func TestStitcher_ExtendsGapForSharedSpeaker(t *testing.T) {
	root := t.TempDir()
	dayDir := filepath.Join(root, "2026", "02", "01")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	writeTranscript(t, dayDir, "09-00-00.json", model.Transcript{
		Stem: "a", ArrivedAt: base, DurationSeconds: 5,
		Segments: []model.Segment{{Text: "x", SpeakerName: "alice"}},
	})
	writeTranscript(t, dayDir, "09-04-00.json", model.Transcript{
		Stem: "b", ArrivedAt: base.Add(4 * time.Minute), DurationSeconds: 5,
		Segments: []model.Segment{{Text: "y", SpeakerName: "alice"}},
	})

	s := New(root, Options{}, zerolog.Nop())
	require.NoError(t, s.StitchDay(2026, 2, 1))

	idxData, err := os.ReadFile(filepath.Join(dayDir, "conversations.json"))
	require.NoError(t, err)
	var idx conversationIndex
	require.NoError(t, json.Unmarshal(idxData, &idx))
	require.Len(t, idx.Conversations, 1, "shared speaker should extend gap past default 120s")
}

func TestStitcher_IncrementalSkipsFullyStitchedDays(t *testing.T) {
	root := t.TempDir()
	dayDir := filepath.Join(root, "2026", "03", "01")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))
	writeTranscript(t, dayDir, "10-00-00.json", model.Transcript{
		Stem: "a", ArrivedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ConversationID: "conv-20260301-100000",
	})

	s := New(root, Options{}, zerolog.Nop())
	n, err := s.StitchIncremental()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
