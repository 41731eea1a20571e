package embedding

// ProbeDuration decodes a WAV file (header and sample data) to report its
// duration in seconds, used by the pipeline worker's duration gate.
func ProbeDuration(path string) (float64, error) {
	clip, err := decodeWAV(path)
	if err != nil {
		return 0, err
	}
	return clip.durationSeconds(), nil
}
