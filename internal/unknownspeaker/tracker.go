// Package unknownspeaker clusters embeddings that didn't match any
// enrolled voice profile, and promotes quality-gated clusters into
// candidates awaiting human review.
package unknownspeaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/model"
)

const (
	// recentSamplesForMatch caps how many of a cluster's newest embeddings
	// are averaged when testing a candidate embedding for membership.
	recentSamplesForMatch = 5

	selfConsistencyPromoteMax = 0.15
)

// Options tunes promotion and pruning gates.
type Options struct {
	MinSamples      int     // default 10
	MaxVariance     float64 // default 20.0
	PruneMinSamples int     // default 3
	PruneMaxAgeDays int     // default 30
}

func (o Options) withDefaults() Options {
	if o.MinSamples == 0 {
		o.MinSamples = 10
	}
	if o.MaxVariance == 0 {
		o.MaxVariance = 20.0
	}
	if o.PruneMinSamples == 0 {
		o.PruneMinSamples = 3
	}
	if o.PruneMaxAgeDays == 0 {
		o.PruneMaxAgeDays = 30
	}
	return o
}

// sample is one embedding observation persisted under a cluster directory.
type sample struct {
	Embedding         model.Embedding `json:"embedding"`
	TranscriptExcerpt string          `json:"transcriptExcerpt"`
	SourceClip        string          `json:"sourceClip"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Tracker manages the unknown-speaker cluster/candidate/rejected directory
// tree rooted at dir.
type Tracker struct {
	dir  string
	opts Options
	log  zerolog.Logger
}

// NewTracker builds a tracker rooted at dir, creating the embeddings,
// candidates, and rejected subdirectories if absent.
func NewTracker(dir string, opts Options, log zerolog.Logger) (*Tracker, error) {
	t := &Tracker{dir: dir, opts: opts.withDefaults(), log: log.With().Str("component", "unknown-speaker-tracker").Logger()}
	for _, sub := range []string{t.embeddingsDir(), t.candidatesDir(), t.rejectedDir()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("tracker dir %s: %w", sub, err)
		}
	}
	return t, nil
}

func (t *Tracker) embeddingsDir() string { return filepath.Join(t.dir, "embeddings") }
func (t *Tracker) candidatesDir() string { return filepath.Join(t.dir, "candidates") }
func (t *Tracker) rejectedDir() string   { return filepath.Join(t.dir, "rejected") }
func (t *Tracker) clusterDir(id string) string { return filepath.Join(t.embeddingsDir(), id) }

// FindCluster averages each existing cluster's most recent samples and
// returns the nearest cluster within radius, if any.
func (t *Tracker) FindCluster(embedding model.Embedding, radius float64) (string, bool, error) {
	entries, err := os.ReadDir(t.embeddingsDir())
	if err != nil {
		return "", false, fmt.Errorf("list clusters: %w", err)
	}

	bestID := ""
	bestDist := radius
	found := false

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		samples, err := t.loadSamples(e.Name())
		if err != nil || len(samples) == 0 {
			continue
		}
		recent := samples
		if len(recent) > recentSamplesForMatch {
			recent = recent[len(recent)-recentSamplesForMatch:]
		}
		vecs := make([]model.Embedding, len(recent))
		for i, s := range recent {
			vecs[i] = s.Embedding
		}
		centroid := model.Mean(vecs).Normalized()
		dist := model.CosineDistance(embedding, centroid)
		if dist < bestDist {
			bestDist = dist
			bestID = e.Name()
			found = true
		}
	}

	return bestID, found, nil
}

// AddSample appends an embedding observation to a cluster and then runs
// promotion gating.
func (t *Tracker) AddSample(clusterID string, embedding model.Embedding, transcriptExcerpt, sourceClip string, ts time.Time) error {
	dir := t.clusterDir(clusterID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cluster dir: %w", err)
	}

	s := sample{
		Embedding:         embedding.Normalized(),
		TranscriptExcerpt: transcriptExcerpt,
		SourceClip:        sourceClip,
		Timestamp:         ts,
	}
	name := fmt.Sprintf("%d.json", ts.UnixNano())
	if err := atomicfile.WriteJSON(filepath.Join(dir, name), s, 0o644); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	return t.maybePromote(clusterID)
}

func (t *Tracker) loadSamples(clusterID string) ([]sample, error) {
	dir := t.clusterDir(clusterID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	samples := make([]sample, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var s sample
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples, nil
}

// maybePromote computes variance and self-consistency for a cluster and
// writes a candidate file if quality gates pass and none exists yet.
func (t *Tracker) maybePromote(clusterID string) error {
	if _, err := os.Stat(t.candidatePath(clusterID)); err == nil {
		return nil // already promoted
	}

	samples, err := t.loadSamples(clusterID)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	if len(samples) < t.opts.MinSamples {
		return nil
	}

	vecs := make([]model.Embedding, len(samples))
	for i, s := range samples {
		vecs[i] = s.Embedding
	}
	variance := model.DimensionVariance(vecs)
	selfConsistency := model.MeanPairwiseDistance(vecs)

	if variance > t.opts.MaxVariance || selfConsistency > selfConsistencyPromoteMax {
		return nil
	}

	centroid := model.Mean(vecs).Normalized()
	excerpts := make([]model.SampleExcerpt, len(samples))
	for i, s := range samples {
		excerpts[i] = model.SampleExcerpt{
			TranscriptExcerpt: s.TranscriptExcerpt,
			SourceClip:        s.SourceClip,
			Timestamp:         s.Timestamp,
		}
	}

	candidate := &model.Candidate{
		ClusterID:       clusterID,
		CreatedAt:       time.Now().UTC(),
		NumSamples:      len(samples),
		AvgEmbedding:    centroid,
		Variance:        variance,
		SelfConsistency: selfConsistency,
		AutoThreshold:   model.AutoThreshold(selfConsistency, len(samples)),
		SampleMetadata:  excerpts,
		Status:          "pending_review",
	}

	t.log.Info().Str("cluster_id", clusterID).Int("samples", len(samples)).
		Float64("variance", variance).Float64("self_consistency", selfConsistency).
		Msg("promoting unknown-speaker cluster to candidate")

	return atomicfile.WriteJSON(t.candidatePath(clusterID), candidate, 0o644)
}

func (t *Tracker) candidatePath(clusterID string) string {
	return filepath.Join(t.candidatesDir(), clusterID+".json")
}

// PendingCandidates counts candidate files awaiting operator review, for the
// health endpoint's identification-stats summary.
func (t *Tracker) PendingCandidates() int {
	entries, err := os.ReadDir(t.candidatesDir())
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

// ClusterCount counts unknown-speaker clusters currently tracked, regardless
// of promotion status.
func (t *Tracker) ClusterCount() int {
	entries, err := os.ReadDir(t.embeddingsDir())
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}

// LoadCandidate reads a candidate's current state, if one exists.
func (t *Tracker) LoadCandidate(clusterID string) (*model.Candidate, error) {
	data, err := os.ReadFile(t.candidatePath(clusterID))
	if err != nil {
		return nil, err
	}
	var c model.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse candidate: %w", err)
	}
	return &c, nil
}

// Reject marks a candidate rejected and moves its file into the rejected
// subdirectory, leaving a trail without re-eligibility for promotion.
func (t *Tracker) Reject(clusterID string) error {
	c, err := t.LoadCandidate(clusterID)
	if err != nil {
		return fmt.Errorf("load candidate: %w", err)
	}
	c.Status = "rejected"
	if err := atomicfile.WriteJSON(filepath.Join(t.rejectedDir(), clusterID+".json"), c, 0o644); err != nil {
		return fmt.Errorf("write rejected: %w", err)
	}
	return os.Remove(t.candidatePath(clusterID))
}

// Prune deletes clusters whose newest sample is older than maxAgeDays and
// whose sample count is below minSamples, plus any now-empty directories.
func (t *Tracker) Prune() error {
	entries, err := os.ReadDir(t.embeddingsDir())
	if err != nil {
		return fmt.Errorf("list clusters: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -t.opts.PruneMaxAgeDays)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		samples, err := t.loadSamples(e.Name())
		if err != nil {
			continue
		}
		if len(samples) == 0 {
			os.RemoveAll(t.clusterDir(e.Name()))
			continue
		}
		newest := samples[len(samples)-1].Timestamp
		if len(samples) < t.opts.PruneMinSamples && newest.Before(cutoff) {
			t.log.Info().Str("cluster_id", e.Name()).Int("samples", len(samples)).Msg("pruning stale unknown-speaker cluster")
			if err := os.RemoveAll(t.clusterDir(e.Name())); err != nil {
				return fmt.Errorf("remove cluster %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}
