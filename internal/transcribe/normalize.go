package transcribe

import (
	"github.com/snarg/voxpipe/internal/model"
)

// normalize converts the service's utterance/word structure into the
// internal segment format: service speaker labels are remapped to dense
// SPEAKER_NN in first-seen order, millisecond timings scale to seconds,
// and cost is computed from audio duration.
func normalize(raw *rawTranscript, costPerHour float64) *Result {
	speakerIndex := make(map[string]int)
	nextIndex := 0
	denseLabel := func(speaker string) string {
		idx, ok := speakerIndex[speaker]
		if !ok {
			idx = nextIndex
			speakerIndex[speaker] = idx
			nextIndex++
		}
		return denseLabelFor(idx)
	}

	segments := make([]model.Segment, 0, len(raw.Utterances))
	for _, u := range raw.Utterances {
		label := denseLabel(u.Speaker)
		words := make([]model.Word, 0, len(u.Words))
		for _, w := range u.Words {
			words = append(words, model.Word{
				Text:  w.Text,
				Start: w.Start / 1000.0,
				End:   w.End / 1000.0,
			})
		}
		segments = append(segments, model.Segment{
			Start:   u.Start / 1000.0,
			End:     u.End / 1000.0,
			Text:    u.Text,
			Speaker: label,
			Words:   words,
		})
	}

	durationHours := raw.AudioDuration / 3600.0
	cost := durationHours * costPerHour

	return &Result{
		Segments: segments,
		Language: raw.LanguageCode,
		Duration: raw.AudioDuration,
		CostUSD:  cost,
		Model:    "best",
	}
}

func denseLabelFor(idx int) string {
	const digits = "0123456789"
	tens := idx / 10
	ones := idx % 10
	return "SPEAKER_" + string(digits[tens]) + string(digits[ones])
}
