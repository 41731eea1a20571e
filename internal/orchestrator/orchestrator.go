// Package orchestrator owns the job manifest and drives every clip through
// its lifecycle: discovery, reconciliation against the transcript state
// machine, audio retention, and curator publication.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
)

// Enqueuer is satisfied by the pipeline worker pool.
type Enqueuer interface {
	Enqueue(job EnqueueJob) bool
}

// EnqueueJob mirrors worker.Job without importing the worker package,
// keeping the orchestrator decoupled from pool internals.
type EnqueueJob struct {
	Stem      string
	AudioPath string
	Source    model.Source
}

// Stitcher is invoked after any curator publication (§4.8 step 8).
type Stitcher interface {
	StitchDay(year, month, day int) error
}

// Options configures orchestrator directories and gates.
type Options struct {
	InboxDir            string
	DoneDir             string
	PlaybackDir         string
	JobsFile            string
	CuratorDir          string
	PendingSubdir       string // default "_pending"
	PollInterval        time.Duration
	MinPlaybackDuration float64
	OrphanAge           time.Duration
	UnidentifiedGrace   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PendingSubdir == "" {
		o.PendingSubdir = "_pending"
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MinPlaybackDuration == 0 {
		o.MinPlaybackDuration = 10
	}
	if o.OrphanAge == 0 {
		o.OrphanAge = 24 * time.Hour
	}
	if o.UnidentifiedGrace == 0 {
		o.UnidentifiedGrace = 2 * time.Hour
	}
	return o
}

// Orchestrator polls the filesystem contract and mutates the job manifest.
type Orchestrator struct {
	opts     Options
	manifest *manifestStore
	enqueue  Enqueuer
	stitcher Stitcher
	log      zerolog.Logger
}

// New builds an Orchestrator, rebuilding its manifest from filesystem
// state on startup per the crash-recovery contract (§4.8).
func New(opts Options, enqueue Enqueuer, stitcher Stitcher, log zerolog.Logger) (*Orchestrator, error) {
	opts = opts.withDefaults()
	m, err := newManifestStore(opts.JobsFile)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{opts: opts, manifest: m, enqueue: enqueue, stitcher: stitcher, log: log.With().Str("component", "orchestrator").Logger()}
	o.recover()
	return o, nil
}

// Snapshot exposes the current manifest for the health endpoint.
func (o *Orchestrator) Snapshot() map[string]*model.JobEntry { return o.manifest.Snapshot() }

// recover rebuilds manifest entries from done/, inbox/, and playback/ so a
// restart never loses track of a clip already in flight.
func (o *Orchestrator) recover() {
	entries, err := os.ReadDir(o.opts.DoneDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		if _, ok := o.manifest.get(stem); !ok {
			o.manifest.set(&model.JobEntry{Stem: stem, Status: model.JobProcessing, CreatedAt: time.Now().UTC()})
		}
	}

	o.walkInbox(func(stem, path string) {
		if _, ok := o.manifest.get(stem); !ok {
			o.manifest.set(&model.JobEntry{Stem: stem, Status: model.JobQueued, AudioFilename: filepath.Base(path), CreatedAt: time.Now().UTC()})
		}
	})

	if pb, err := os.ReadDir(o.opts.PlaybackDir); err == nil {
		for _, e := range pb {
			if e.IsDir() {
				continue
			}
			stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if job, ok := o.manifest.get(stem); ok && job.PlaybackFile == "" {
				job.PlaybackFile = e.Name()
				o.manifest.set(job)
			}
		}
	}
}

// Run blocks, polling at opts.PollInterval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunCycle()
		}
	}
}

// RunCycle executes one full pass: discover, reconcile, audio lifecycle,
// curator gate, orphan cleanup, persist.
func (o *Orchestrator) RunCycle() {
	publishedDays := map[string]bool{}

	o.discover()
	o.reconcile(publishedDays)
	o.orphanCleanup()

	if err := o.manifest.save(); err != nil {
		o.log.Warn().Err(err).Msg("save manifest failed")
	}

	for key := range publishedDays {
		var y, m, d int
		fmt.Sscanf(key, "%04d-%02d-%02d", &y, &m, &d)
		if o.stitcher != nil {
			if err := o.stitcher.StitchDay(y, m, d); err != nil {
				o.log.Warn().Err(err).Str("day", key).Msg("conversation stitch failed")
			}
		}
	}
}

// discover creates a queued job entry for every inbox WAV without one, and
// enqueues it onto the worker pool.
func (o *Orchestrator) discover() {
	o.walkInbox(func(stem, path string) {
		if _, ok := o.manifest.get(stem); ok {
			return
		}
		if o.enqueue != nil && !o.enqueue.Enqueue(EnqueueJob{Stem: stem, AudioPath: path, Source: model.SourceWatchFolder}) {
			return // queue full: no entry yet, so the next cycle offers it again
		}
		o.manifest.set(&model.JobEntry{
			Stem:          stem,
			Source:        model.SourceWatchFolder,
			AudioFilename: filepath.Base(path),
			CreatedAt:     time.Now().UTC(),
			Status:        model.JobQueued,
			Stages:        model.Stages{Ingested: time.Now().UTC()},
		})
	})
}

func (o *Orchestrator) walkInbox(fn func(stem, path string)) {
	entries, err := os.ReadDir(o.opts.InboxDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		fn(stem, filepath.Join(o.opts.InboxDir, e.Name()))
	}
}

// reconcile loads every transcript in done/, derives the job's new status,
// and drives audio lifecycle + curator publication.
func (o *Orchestrator) reconcile(publishedDays map[string]bool) {
	entries, err := os.ReadDir(o.opts.DoneDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		t, err := o.loadTranscript(stem)
		if err != nil {
			o.log.Warn().Err(err).Str("stem", stem).Msg("unreadable transcript")
			continue
		}

		job, ok := o.manifest.get(stem)
		if !ok {
			job = &model.JobEntry{Stem: stem, CreatedAt: t.ArrivedAt}
		}

		job.PipelineStatus = t.PipelineStatus
		job.SpeakerID = t.SpeakerID
		if job.Stages.Transcribed.IsZero() && t.PipelineStatus != "" {
			job.Stages.Transcribed = time.Now().UTC()
		}
		if job.Stages.SpeakerID.IsZero() && (t.PipelineStatus == model.StatusComplete || t.PipelineStatus == model.StatusCompleteNoSpeakerID) {
			job.Stages.SpeakerID = time.Now().UTC()
		}

		newStatus := deriveStatus(t)
		wasQueuedOrProcessing := job.Status == model.JobQueued || job.Status == model.JobProcessing || job.Status == ""
		job.Status = newStatus

		if wasQueuedOrProcessing && newStatus != model.JobQueued && newStatus != model.JobProcessing {
			o.moveAudio(job, t)
		}

		publishable := newStatus == model.JobComplete || newStatus == model.JobPendingCurator
		if publishable && !o.isSynced(stem) {
			o.publishToCurator(job, t, publishedDays)
		} else if o.isSynced(stem) && job.Status != model.JobCuratorSynced && publishable {
			job.Status = model.JobCuratorSynced
		}

		o.manifest.set(job)
	}
}

func deriveStatus(t *model.Transcript) model.JobStatus {
	switch t.PipelineStatus {
	case model.StatusSkippedTooShort:
		return model.JobSkipped
	case model.StatusTranscribed:
		return model.JobSpeakerIDPending
	case model.StatusSpeakerIDFailed:
		return model.JobSpeakerIDFailed
	case model.StatusComplete, model.StatusCompleteNoSpeakerID:
		if t.SpeakerID != nil && len(t.SpeakerID.Unidentified) > 0 {
			return model.JobPendingCurator
		}
		return model.JobComplete
	default:
		return model.JobProcessing
	}
}

func (o *Orchestrator) loadTranscript(stem string) (*model.Transcript, error) {
	data, err := os.ReadFile(filepath.Join(o.opts.DoneDir, stem+".json"))
	if err != nil {
		return nil, err
	}
	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (o *Orchestrator) isSynced(stem string) bool {
	_, err := os.Stat(filepath.Join(o.opts.DoneDir, stem+".json.synced"))
	return err == nil
}

// moveAudio runs once per clip the first time it leaves {queued,
// processing}: retained clips move to playback/, short ones are deleted.
func (o *Orchestrator) moveAudio(job *model.JobEntry, t *model.Transcript) {
	src := filepath.Join(o.opts.InboxDir, job.AudioFilename)
	if job.AudioFilename == "" {
		src = filepath.Join(o.opts.InboxDir, job.Stem+".wav")
	}
	if _, err := os.Stat(src); err != nil {
		return // already moved or never existed
	}

	if t.DurationSeconds >= o.opts.MinPlaybackDuration {
		dst := filepath.Join(o.opts.PlaybackDir, filepath.Base(src))
		if err := os.MkdirAll(o.opts.PlaybackDir, 0o755); err == nil {
			if err := os.Rename(src, dst); err == nil {
				job.PlaybackFile = filepath.Base(dst)
			} else {
				o.log.Warn().Err(err).Str("stem", job.Stem).Msg("move to playback failed")
			}
		}
	} else {
		if err := os.Remove(src); err != nil {
			o.log.Warn().Err(err).Str("stem", job.Stem).Msg("delete short clip failed")
		}
	}
}

func (o *Orchestrator) publishToCurator(job *model.JobEntry, t *model.Transcript, publishedDays map[string]bool) {
	if t.SpeakerID != nil && len(t.SpeakerID.Unidentified) > 0 {
		if time.Since(t.ArrivedAt) < o.opts.UnidentifiedGrace {
			return // still within grace window
		}
	}

	rel, err := publish(o.opts.CuratorDir, t, t.Diarized)
	if err != nil {
		o.log.Warn().Err(err).Str("stem", job.Stem).Msg("curator publish failed")
		return
	}

	markerPath := filepath.Join(o.opts.DoneDir, job.Stem+".json.synced")
	if err := touchMarker(markerPath); err != nil {
		o.log.Warn().Err(err).Str("stem", job.Stem).Msg("write synced marker failed")
		return
	}

	job.CuratorPath = rel
	job.Status = model.JobCuratorSynced
	job.Stages.CuratorSynced = time.Now().UTC()

	publishedDays[t.ArrivedAt.Format("2006-01-02")] = true
}

// orphanCleanup deletes any inbox WAV without a transcript past OrphanAge.
func (o *Orchestrator) orphanCleanup() {
	entries, err := os.ReadDir(o.opts.InboxDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, ok := o.hasTranscript(stem); ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= o.opts.OrphanAge {
			continue
		}

		path := filepath.Join(o.opts.InboxDir, e.Name())
		if err := os.Remove(path); err != nil {
			o.log.Warn().Err(err).Str("stem", stem).Msg("orphan cleanup delete failed")
			continue
		}

		job, ok := o.manifest.get(stem)
		if !ok {
			job = &model.JobEntry{Stem: stem, CreatedAt: time.Now().UTC()}
		}
		job.Status = model.JobFailed
		job.Error = fmt.Sprintf("Orphaned: no transcript after %gh", o.opts.OrphanAge.Hours())
		o.manifest.set(job)
	}
}

func (o *Orchestrator) hasTranscript(stem string) (struct{}, bool) {
	_, err := os.Stat(filepath.Join(o.opts.DoneDir, stem+".json"))
	return struct{}{}, err == nil
}

func touchMarker(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}
