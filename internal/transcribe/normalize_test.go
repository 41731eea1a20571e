package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_RemapsSpeakersDensely(t *testing.T) {
	raw := &rawTranscript{
		AudioDuration: 3600,
		LanguageCode:  "en",
		Utterances: []rawUtterance{
			{Speaker: "B", Text: "hello", Start: 0, End: 1000},
			{Speaker: "A", Text: "hi", Start: 1000, End: 2000},
			{Speaker: "B", Text: "again", Start: 2000, End: 3000},
		},
	}

	result := normalize(raw, 0.17)

	assert.Equal(t, "SPEAKER_00", result.Segments[0].Speaker) // B seen first
	assert.Equal(t, "SPEAKER_01", result.Segments[1].Speaker) // A seen second
	assert.Equal(t, "SPEAKER_00", result.Segments[2].Speaker) // B again
	assert.InDelta(t, 1.0, result.Segments[0].End, 0.001)
	assert.InDelta(t, 0.17, result.CostUSD, 0.0001)
}

func TestNormalize_PreservesWordTimings(t *testing.T) {
	raw := &rawTranscript{
		Utterances: []rawUtterance{
			{Speaker: "A", Text: "hi there", Start: 0, End: 2000, Words: []rawWord{
				{Text: "hi", Start: 0, End: 500},
				{Text: "there", Start: 500, End: 2000},
			}},
		},
	}

	result := normalize(raw, 0.17)
	require := assert.New(t)
	require.Len(result.Segments[0].Words, 2)
	require.InDelta(0.5, result.Segments[0].Words[0].End, 0.001)
}
