package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/model"
)

// curatorUtterance is the flattened shape the curator workspace expects in
// addition to the raw segment list.
type curatorUtterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// curatorDoc is the published curator JSON shape (§6).
type curatorDoc struct {
	*model.Transcript
	Utterances []curatorUtterance `json:"utterances"`
	Source     string             `json:"source"`
}

func toCuratorDoc(t *model.Transcript) curatorDoc {
	status := t.PipelineStatus
	if status == "" {
		status = "legacy"
	}
	cp := *t
	cp.PipelineStatus = status

	utterances := make([]curatorUtterance, 0, len(t.Segments))
	for _, s := range t.Segments {
		speaker := s.SpeakerName
		if speaker == "" {
			speaker = s.Speaker
		}
		utterances = append(utterances, curatorUtterance{Speaker: speaker, Text: s.Text, Start: s.Start, End: s.End})
	}

	return curatorDoc{Transcript: &cp, Utterances: utterances, Source: "voice-passive"}
}

// publish writes t's curator representation under curatorRoot/YYYY/MM/DD/,
// resolving filename collisions with an appended counter, and returns the
// path written (relative to curatorRoot).
func publish(curatorRoot string, t *model.Transcript, diarized bool) (string, error) {
	day := t.ArrivedAt
	dir := filepath.Join(curatorRoot, fmt.Sprintf("%04d", day.Year()), fmt.Sprintf("%02d", day.Month()), fmt.Sprintf("%02d", day.Day()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir curator day dir: %w", err)
	}

	base := fmt.Sprintf("%02d-%02d-%02d", day.Hour(), day.Minute(), day.Second())
	if diarized {
		base += "-diarized"
	}

	name := base + ".json"
	for n := 1; ; n++ {
		full := filepath.Join(dir, name)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d.json", base, n)
	}

	full := filepath.Join(dir, name)
	if err := atomicfile.WriteJSON(full, toCuratorDoc(t), 0o644); err != nil {
		return "", fmt.Errorf("write curator file: %w", err)
	}

	rel, err := filepath.Rel(curatorRoot, full)
	if err != nil {
		return full, nil
	}
	return rel, nil
}
