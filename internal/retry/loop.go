// Package retry runs the background scan that re-enters partially-failed
// speaker identification and periodically prunes stale unknown-speaker
// clusters.
package retry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/identify"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/unknownspeaker"
)

// activeLister is satisfied by the transcription client.
type activeLister interface {
	ListActive() []string
}

// Options configures the retry loop's cadence and limits.
type Options struct {
	WarmUp      time.Duration // default 60s
	Period      time.Duration // default 600s
	MaxRetries  int           // default 10
	PruneEveryN int           // default 36 (~6h at a 10min period)
	DoneDir     string
}

func (o Options) withDefaults() Options {
	if o.WarmUp == 0 {
		o.WarmUp = 60 * time.Second
	}
	if o.Period == 0 {
		o.Period = 600 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 10
	}
	if o.PruneEveryN == 0 {
		o.PruneEveryN = 36
	}
	return o
}

// Loop is the background retry/prune task.
type Loop struct {
	embed      *embedding.Client
	identifier *identify.Identifier
	active     activeLister
	tracker    *unknownspeaker.Tracker
	opts       Options
	log        zerolog.Logger

	trigger chan bool
	cycles  int
}

// New builds a retry loop.
func New(embed *embedding.Client, identifier *identify.Identifier, active activeLister, tracker *unknownspeaker.Tracker, opts Options, log zerolog.Logger) *Loop {
	return &Loop{
		embed:      embed,
		identifier: identifier,
		active:     active,
		tracker:    tracker,
		opts:       opts.withDefaults(),
		log:        log.With().Str("component", "retry-loop").Logger(),
		trigger:    make(chan bool, 1),
	}
}

// Trigger requests one immediate cycle. forceAll widens the selection
// criteria to complete transcripts with non-empty unidentified speakers
// (cluster-promotion re-label scenario), matching a label/enrollment
// action's POST to /reidentify.
func (l *Loop) Trigger(forceAll bool) {
	select {
	case l.trigger <- forceAll:
	default:
	}
}

// Run blocks until ctx is cancelled, driving the periodic scan.
func (l *Loop) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(l.opts.WarmUp):
	}

	ticker := time.NewTicker(l.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runCycle(ctx, false)
		case forceAll := <-l.trigger:
			l.runCycle(ctx, forceAll)
		}
	}
}

func (l *Loop) runCycle(ctx context.Context, forceAll bool) {
	if !l.embed.Ready() {
		l.log.Debug().Msg("encoder still unavailable, skipping retry cycle")
		return
	}

	skip := make(map[string]bool)
	for _, stem := range l.active.ListActive() {
		skip[stem] = true
	}

	entries, err := os.ReadDir(l.opts.DoneDir)
	if err != nil {
		l.log.Warn().Err(err).Msg("list done dir")
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		if skip[stem] {
			continue
		}
		l.maybeRetry(ctx, stem, forceAll)
	}

	l.cycles++
	if l.cycles%l.opts.PruneEveryN == 0 {
		if err := l.tracker.Prune(); err != nil {
			l.log.Warn().Err(err).Msg("cluster prune failed")
		}
	}
}

func (l *Loop) maybeRetry(ctx context.Context, stem string, forceAll bool) {
	path := filepath.Join(l.opts.DoneDir, stem+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		l.log.Warn().Err(err).Str("stem", stem).Msg("unparseable transcript, skipping")
		return
	}

	needsRetry := t.PipelineStatus == model.StatusSpeakerIDFailed || t.PipelineStatus == model.StatusTranscribed
	if forceAll && t.PipelineStatus == model.StatusComplete && t.SpeakerID != nil && len(t.SpeakerID.Unidentified) > 0 {
		needsRetry = true
	}
	if !needsRetry {
		return
	}

	if t.SpeakerIDRetryCount >= l.opts.MaxRetries {
		t.PipelineStatus = model.StatusCompleteNoSpeakerID
		t.SpeakerIDError = "max_retries_exceeded"
		l.write(path, &t)
		return
	}

	audioPath := stem // resolved by the caller's audio layout; identifier only needs it for embedding extraction
	if err := l.identifier.Identify(ctx, audioPath, &t); err != nil {
		l.log.Debug().Err(err).Str("stem", stem).Msg("retry identification still failing")
	}
	t.SpeakerIDRetryCount++
	l.write(path, &t)

	marker := path + ".synced"
	if _, err := os.Stat(marker); err == nil {
		os.Remove(marker)
	}
}

func (l *Loop) write(path string, t *model.Transcript) {
	if err := atomicfile.WriteJSON(path, t, 0o644); err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("write retried transcript failed")
	}
}
