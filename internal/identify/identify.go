// Package identify maps diarized speaker labels in a transcript to
// enrolled voice profiles, falling back to the unknown-speaker tracker for
// anything that doesn't match.
package identify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/perr"
	"github.com/snarg/voxpipe/internal/profile"
	"github.com/snarg/voxpipe/internal/unknownspeaker"
)

// Options tunes identification behavior.
type Options struct {
	Enabled            bool
	MinSegmentDuration float64 // default 1.0s
}

// Identifier combines the embedding client, profile store, and
// unknown-speaker tracker to resolve diarized labels to names.
type Identifier struct {
	embed    *embedding.Client
	profiles *profile.Store
	tracker  *unknownspeaker.Tracker
	opts     Options
	log      zerolog.Logger
}

// New builds an Identifier.
func New(embed *embedding.Client, profiles *profile.Store, tracker *unknownspeaker.Tracker, opts Options, log zerolog.Logger) *Identifier {
	if opts.MinSegmentDuration == 0 {
		opts.MinSegmentDuration = 1.0
	}
	return &Identifier{
		embed:    embed,
		profiles: profiles,
		tracker:  tracker,
		opts:     opts,
		log:      log.With().Str("component", "identifier").Logger(),
	}
}

// Identify resolves every diarized label in t against enrolled profiles,
// mutating t in place and setting its terminal pipeline status. Idempotent:
// calling it again simply re-runs resolution.
func (id *Identifier) Identify(ctx context.Context, audioPath string, t *model.Transcript) error {
	if !id.opts.Enabled {
		t.PipelineStatus = model.StatusCompleteNoSpeakerID
		return nil
	}
	if !id.embed.Ready() {
		t.PipelineStatus = model.StatusSpeakerIDFailed
		return fmt.Errorf("identify: %w", perr.ErrNotReady)
	}

	profiles, err := id.profiles.Load(false)
	if err != nil {
		return fmt.Errorf("identify: load profiles: %w", err)
	}

	labels := labelRanges(t.Segments)

	identified := make(map[string]model.IdentifiedSpeaker)
	var unidentified []string

	for label, info := range labels {
		if info.totalDuration < id.opts.MinSegmentDuration {
			unidentified = append(unidentified, label)
			continue
		}

		vec, err := id.embed.ExtractMulti(ctx, audioPath, info.ranges, 3, 1.0)
		if err != nil {
			if errors.Is(err, perr.ErrNotReady) {
				t.PipelineStatus = model.StatusSpeakerIDFailed
				return fmt.Errorf("identify: %w", err)
			}
			id.log.Warn().Err(err).Str("label", label).Msg("embedding extraction failed")
			unidentified = append(unidentified, label)
			id.trackUnmatched(label, nil, info, t, audioPath)
			continue
		}

		name, dist, matched := resolveProfile(vec, profiles)
		if matched {
			identified[label] = model.IdentifiedSpeaker{Name: name, Distance: dist, Method: "embedding-match"}
			propagateSpeakerName(t.Segments, label, name)
			continue
		}

		id.log.Debug().Str("label", label).Str("closest", name).Float64("distance", dist).
			Msg("no profile match within threshold")
		unidentified = append(unidentified, label)
		id.trackUnmatched(label, vec, info, t, audioPath)
	}

	t.SpeakerID = &model.SpeakerIdentification{
		Identified:      identified,
		Unidentified:    unidentified,
		ProfilesChecked: len(profiles),
		Timestamp:       time.Now().UTC(),
	}
	t.PipelineStatus = model.StatusComplete
	return nil
}

// trackUnmatched feeds a failed-to-match embedding into the unknown-speaker
// tracker. §9 mandates find_cluster runs before any hash-derived ID is
// synthesized, unlike the source this system was distilled from.
func (id *Identifier) trackUnmatched(label string, vec model.Embedding, info labelInfo, t *model.Transcript, audioPath string) {
	if vec == nil || id.tracker == nil {
		return
	}

	clusterID, found, err := id.tracker.FindCluster(vec, 0.20)
	if err != nil {
		id.log.Warn().Err(err).Msg("find_cluster failed")
		return
	}
	if !found {
		clusterID = synthesizeClusterID(audioPath, label)
	}

	if err := id.tracker.AddSample(clusterID, vec, info.excerpt, audioPath, time.Now().UTC()); err != nil {
		id.log.Warn().Err(err).Str("cluster_id", clusterID).Msg("add_sample failed")
	}
}

// synthesizeClusterID derives a stable fallback cluster ID from a hash of
// the audio filename and the diarized label, used only when find_cluster
// found no existing cluster within radius.
func synthesizeClusterID(audioPath, label string) string {
	h := sha256.Sum256([]byte(audioPath + "|" + label))
	return "cluster-" + hex.EncodeToString(h[:])[:12]
}

func resolveProfile(vec model.Embedding, profiles map[string]*model.Profile) (name string, distance float64, matched bool) {
	bestName := ""
	bestDist := 2.0 // max possible cosine distance
	for n, p := range profiles {
		for _, e := range p.Embeddings {
			d := model.CosineDistance(vec, e)
			if d < bestDist {
				bestDist = d
				bestName = n
			}
		}
	}
	if bestName == "" {
		return "", 0, false
	}
	threshold := profiles[bestName].Threshold
	if bestDist < threshold {
		return bestName, bestDist, true
	}
	return bestName, bestDist, false
}

type labelInfo struct {
	totalDuration float64
	ranges        []embedding.TimeRange
	excerpt       string
}

func labelRanges(segments []model.Segment) map[string]labelInfo {
	out := make(map[string]labelInfo)
	for _, s := range segments {
		info := out[s.Speaker]
		info.totalDuration += s.End - s.Start
		info.ranges = append(info.ranges, embedding.TimeRange{Start: s.Start, End: s.End})
		if info.excerpt == "" {
			info.excerpt = s.Text
		} else {
			info.excerpt = strings.TrimSpace(info.excerpt + " " + s.Text)
		}
		out[s.Speaker] = info
	}
	return out
}

func propagateSpeakerName(segments []model.Segment, label, name string) {
	for i := range segments {
		if segments[i].Speaker == label {
			segments[i].SpeakerName = name
		}
	}
}

// IsNotReady reports whether err indicates the encoder's cooldown window
// hasn't elapsed, the condition the retry loop watches for.
func IsNotReady(err error) bool {
	return errors.Is(err, perr.ErrNotReady)
}
