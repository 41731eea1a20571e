package worker

import (
	"encoding/binary"
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

// writeSilentWAV writes a minimal valid PCM16 mono WAV of the given duration.
func writeSilentWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	sampleRate := 8000
	numSamples := int(seconds * float64(sampleRate))
	data := make([]byte, numSamples*2)

	buf := make([]byte, 0, 44+len(data))
	buf = append(buf, []byte("RIFF")...)
	buf = appendU32(buf, uint32(36+len(data)))
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = appendU32(buf, 16)
	buf = appendU16(buf, 1) // PCM
	buf = appendU16(buf, 1) // mono
	buf = appendU32(buf, uint32(sampleRate))
	buf = appendU32(buf, uint32(sampleRate*2))
	buf = appendU16(buf, 2)
	buf = appendU16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = appendU32(buf, uint32(len(data)))
	buf = append(buf, data...)

	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func appendU32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendU16(b []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(b, tmp...)
}

func TestPool_SkipsTooShortClip(t *testing.T) {
	doneDir := t.TempDir()
	audioDir := t.TempDir()
	clip := filepath.Join(audioDir, "short.wav")
	writeSilentWAV(t, clip, 2) // below default 10s gate

	p := New(nil, nil, nil, Options{Workers: 1, DoneDir: doneDir, MinTranscribeSeconds: 10, ProviderTimeout: time.Second}, zerolog.Nop())
	p.Start()
	require.True(t, p.Enqueue(Job{Stem: "short", AudioPath: clip, Source: model.SourceMicrophone}))
	p.Stop()

	data, err := os.ReadFile(filepath.Join(doneDir, "short.json"))
	require.NoError(t, err)
	var tr model.Transcript
	require.NoError(t, json.Unmarshal(data, &tr))
	assert.Equal(t, model.StatusSkippedTooShort, tr.PipelineStatus)
}

func TestPool_QueueFullReturnsFalse(t *testing.T) {
	p := New(nil, nil, nil, Options{Workers: 1, QueueSize: 1, DoneDir: t.TempDir(), ProviderTimeout: time.Second}, zerolog.Nop())
	// Don't Start(): nothing drains the channel, so the second enqueue should fail.
	assert.True(t, p.Enqueue(Job{Stem: "a"}))
	assert.False(t, p.Enqueue(Job{Stem: "b"}))
}
