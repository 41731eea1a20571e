// Package worker runs the per-clip pipeline stage machine: duration gate,
// transcribe, identify, persist, post-hook, accounting — inside a bounded
// worker pool so the orchestrator can enqueue newly arrived clips directly.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/identify"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/transcribe"
)

// Job is one clip handed to the pool for processing.
type Job struct {
	Stem      string
	AudioPath string
	Source    model.Source
}

// PostHook is invoked after a transcript is persisted, for command
// dispatch detection (§4.9). Implementations must not block long; the call
// runs under the clip's job context, whose deadline is ProviderTimeout
// plus 30s.
type PostHook interface {
	Dispatch(ctx context.Context, segments []model.Segment, audioPath string)
}

// Accounting aggregates cost/duration counters across every completed clip.
type Accounting struct {
	mu              sync.Mutex
	TotalCostUSD    float64
	TotalHours      float64
	Submitted       int64
	Completed       int64
	Failed          int64
	LastCompletedAt time.Time
}

func (a *Accounting) recordSuccess(cost, durationSeconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.TotalCostUSD += cost
	a.TotalHours += durationSeconds / 3600.0
	a.Completed++
	a.LastCompletedAt = time.Now().UTC()
}

func (a *Accounting) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Failed++
}

// Snapshot returns a copy of the counters, safe for concurrent reads from
// the health endpoint.
func (a *Accounting) Snapshot() Accounting {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Accounting{
		TotalCostUSD:    a.TotalCostUSD,
		TotalHours:      a.TotalHours,
		Submitted:       a.Submitted,
		Completed:       a.Completed,
		Failed:          a.Failed,
		LastCompletedAt: a.LastCompletedAt,
	}
}

// Options configures a Pool.
type Options struct {
	Workers              int
	QueueSize            int
	DoneDir              string
	MinTranscribeSeconds float64
	ProviderTimeout      time.Duration
}

// Pool is the bounded pipeline worker pool: a buffered job channel drained
// by N goroutines, each running the full per-clip stage machine.
type Pool struct {
	jobs       chan Job
	transcribe *transcribe.Client
	identifier *identify.Identifier
	hook       PostHook
	opts       Options
	log        zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	accounting Accounting
	enqueued   atomic.Int64
}

// New builds a pipeline worker pool.
func New(tr *transcribe.Client, id *identify.Identifier, hook PostHook, opts Options, log zerolog.Logger) *Pool {
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:       make(chan Job, opts.QueueSize),
		transcribe: tr,
		identifier: id,
		hook:       hook,
		opts:       opts,
		log:        log.With().Str("component", "pipeline-worker").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("pipeline worker pool started")
}

// Stop closes the queue, drains in-flight jobs to completion, and cancels
// the pool's context.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	snap := p.accounting.Snapshot()
	p.log.Info().Int64("completed", snap.Completed).Int64("failed", snap.Failed).Msg("pipeline worker pool stopped")
}

// Enqueue adds a job to the queue. Returns false if the queue is full —
// the orchestrator's discover step treats this as backpressure and retries
// next cycle.
func (p *Pool) Enqueue(j Job) bool {
	select {
	case p.jobs <- j:
		p.enqueued.Add(1)
		p.accounting.mu.Lock()
		p.accounting.Submitted++
		p.accounting.mu.Unlock()
		return true
	default:
		return false
	}
}

// QueueDepth reports the number of jobs currently buffered.
func (p *Pool) QueueDepth() int { return len(p.jobs) }

// Accounting exposes the live counters for the health endpoint.
func (p *Pool) Accounting() *Accounting { return &p.accounting }

func (p *Pool) run(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.ProviderTimeout+30*time.Second)
		if err := p.process(ctx, log, job); err != nil {
			p.accounting.recordFailure()
			log.Warn().Err(err).Str("stem", job.Stem).Msg("pipeline stage failed")
		}
		cancel()
	}
}

func (p *Pool) process(ctx context.Context, log zerolog.Logger, job Job) error {
	t := &model.Transcript{
		Stem:             job.Stem,
		OriginalFilename: filepath.Base(job.AudioPath),
		ArrivedAt:        time.Now().UTC(),
	}

	// Stage 1: duration gate.
	duration, err := embedding.ProbeDuration(job.AudioPath)
	if err != nil {
		t.PipelineStatus = model.StatusSkippedTooShort
		t.Error = err.Error()
		return p.persist(t)
	}
	t.DurationSeconds = duration

	if duration < p.opts.MinTranscribeSeconds {
		t.PipelineStatus = model.StatusSkippedTooShort
		return p.persist(t)
	}

	// Stage 2: transcribe.
	audioData, err := os.ReadFile(job.AudioPath)
	if err != nil {
		return err
	}
	result, err := p.transcribe.Run(ctx, job.Stem, audioData)
	if err != nil {
		t.Error = err.Error()
		p.persist(t)
		return err
	}
	t.Segments = result.Segments
	t.Language = result.Language
	t.Diarized = true
	t.Model = result.Model
	t.CostUSD = result.CostUSD
	t.PipelineStatus = model.StatusTranscribed

	// Stage 3: identify.
	if p.identifier != nil {
		if err := p.identifier.Identify(ctx, job.AudioPath, t); err != nil {
			log.Warn().Err(err).Str("stem", job.Stem).Msg("identification failed, will retry")
		}
	} else {
		t.PipelineStatus = model.StatusCompleteNoSpeakerID
	}

	// Stage 4: persist.
	if err := p.persist(t); err != nil {
		return err
	}

	// Stage 5: post-hook.
	if p.hook != nil && len(t.Segments) > 0 {
		p.hook.Dispatch(ctx, t.Segments, job.AudioPath)
	}

	// Stage 6: accounting.
	p.accounting.recordSuccess(t.CostUSD, t.DurationSeconds)

	return nil
}

func (p *Pool) persist(t *model.Transcript) error {
	path := filepath.Join(p.opts.DoneDir, t.Stem+".json")
	return atomicfile.WriteJSON(path, t, 0o644)
}
