// Command voxpipe runs the continuous voice-ingestion pipeline: it watches
// an inbox directory for arriving clips, drives each through transcription
// and speaker identification, publishes finished transcripts to a curator
// workspace, and serves an operator-facing health/correction HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/api"
	"github.com/snarg/voxpipe/internal/config"
	"github.com/snarg/voxpipe/internal/dispatch"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/identify"
	"github.com/snarg/voxpipe/internal/metrics"
	"github.com/snarg/voxpipe/internal/orchestrator"
	"github.com/snarg/voxpipe/internal/profile"
	"github.com/snarg/voxpipe/internal/retry"
	"github.com/snarg/voxpipe/internal/stitch"
	"github.com/snarg/voxpipe/internal/storage"
	"github.com/snarg/voxpipe/internal/transcribe"
	"github.com/snarg/voxpipe/internal/unknownspeaker"
	"github.com/snarg/voxpipe/internal/worker"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.InboxDir, "inbox-dir", "", "Audio inbox directory (overrides INBOX_DIR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("voxpipe starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.InboxDir, cfg.DoneDir, cfg.PlaybackDir, cfg.CuratorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create pipeline directory")
		}
	}

	// Speaker embedding pipeline: profile store, unknown-speaker tracker,
	// embedding client (sidecar HTTP encoder in production, deterministic
	// stub otherwise).
	profiles, err := profile.NewStore(cfg.ProfilesDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open profile store")
	}

	tracker, err := unknownspeaker.NewTracker(cfg.UnknownDir, unknownspeaker.Options{
		MinSamples:      cfg.ClusterMinSamples,
		MaxVariance:     cfg.UnknownSpeakerMaxVariance,
		PruneMinSamples: cfg.UnknownSpeakerMinSamples,
		PruneMaxAgeDays: cfg.UnknownSpeakerMaxAgeDays,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open unknown-speaker tracker")
	}

	var encoder embedding.Encoder
	if cfg.SpeakerEncoderURL != "" {
		encoder = embedding.NewHTTPEncoder(cfg.SpeakerEncoderURL, cfg.SpeakerEncoderTimeout)
	} else {
		log.Warn().Msg("SPEAKER_ENCODER_URL not set — using deterministic stub encoder, not suitable for production")
		encoder = embedding.NewStubEncoder(192)
	}
	embed := embedding.NewClient(encoder, cfg.SpeakerEncoderRetrySec, log)

	identifier := identify.New(embed, profiles, tracker, identify.Options{
		Enabled:            cfg.SpeakerIDEnabled,
		MinSegmentDuration: cfg.MinSegmentDuration,
	}, log)

	// Cloud transcription client.
	transcribeClient := transcribe.New(transcribe.Options{
		APIKey:       cfg.TranscribeAPIKey,
		BaseURL:      cfg.TranscribeBaseURL,
		MaxSpeakers:  cfg.TranscribeMaxSpkrs,
		CostPerHour:  cfg.CostPerHour,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBase:    cfg.RetryBaseDelay,
	}, log)

	// Playback audio storage (local disk default, optional S3).
	store, bgServices, err := storage.New(cfg.S3(), cfg.PlaybackDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize playback storage")
	}
	for _, svc := range bgServices {
		svc.Start()
		defer svc.Stop()
	}
	log.Info().Str("type", store.Type()).Msg("playback storage initialized")

	// Voice-command dispatcher (optional — only active with a trigger registry).
	var dispatcher *dispatch.Dispatcher
	if registry, err := dispatch.LoadRegistry(cfg.GatewayTriggersFile); err != nil {
		log.Warn().Err(err).Str("file", cfg.GatewayTriggersFile).Msg("no voice-command trigger registry loaded, dispatch disabled")
	} else {
		var allowList []string
		if cfg.VoiceCommandAllowedSpeakers != "" {
			for _, s := range strings.Split(cfg.VoiceCommandAllowedSpeakers, ",") {
				if s = strings.TrimSpace(s); s != "" {
					allowList = append(allowList, s)
				}
			}
		}
		dispatcher = dispatch.New(registry, dispatch.Options{
			GatewayURL:          cfg.GatewayURL,
			BearerToken:         cfg.GatewayToken,
			RequireVerification: cfg.VerifySpeaker,
			AllowList:           allowList,
		}, log)
	}

	// Pipeline worker pool.
	var hook worker.PostHook
	if dispatcher != nil {
		hook = dispatcher
	}
	pool := worker.New(transcribeClient, identifier, hook, worker.Options{
		Workers:              cfg.WorkerCount,
		QueueSize:            cfg.WorkerQueueSize,
		DoneDir:              cfg.DoneDir,
		MinTranscribeSeconds: cfg.MinTranscribeSeconds,
		ProviderTimeout:      cfg.PollTimeout,
	}, log)
	pool.Start()
	defer pool.Stop()

	// Conversation stitcher, invoked by the orchestrator after every
	// curator publication.
	stitcher := stitch.New(cfg.CuratorDir, stitch.Options{
		GapSeconds:        cfg.ConversationGapSeconds,
		SpeakerGapSeconds: cfg.ConversationSpeakerGapSeconds,
	}, log)

	orch, err := orchestrator.New(orchestrator.Options{
		InboxDir:            cfg.InboxDir,
		DoneDir:             cfg.DoneDir,
		PlaybackDir:         cfg.PlaybackDir,
		JobsFile:            cfg.JobsFile,
		CuratorDir:          cfg.CuratorDir,
		PollInterval:        cfg.OrchestratorPoll,
		MinPlaybackDuration: cfg.MinPlaybackDuration,
		OrphanAge:           time.Duration(cfg.OrphanAgeHours * float64(time.Hour)),
		UnidentifiedGrace:   time.Duration(cfg.UnidentifiedGraceHrs * float64(time.Hour)),
	}, poolEnqueuer{pool}, stitcher, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start orchestrator")
	}
	go orch.Run(ctx)

	// Background retry loop: re-enters partially-failed identification and
	// prunes stale unknown-speaker clusters.
	retryLoop := retry.New(embed, identifier, transcribeClient, tracker, retry.Options{
		Period:      cfg.SpeakerIDRetryInterval,
		MaxRetries:  cfg.SpeakerIDMaxRetries,
		PruneEveryN: cfg.ClusterPruneEveryNCycles,
		DoneDir:     cfg.DoneDir,
	}, log)
	go retryLoop.Run(ctx)

	// Metrics collector, read live at Prometheus scrape time.
	collector := metrics.NewCollector(pipelineStatsAdapter{pool: pool, transcribe: transcribeClient, inboxDir: cfg.InboxDir})

	healthHandler := api.NewHealthHandler(
		cfg.InboxDir,
		accountingAdapter{pool},
		orch,
		tracker,
		dispatchStatsAdapter{dispatcher},
		version,
		startTime,
	)
	speakerHandler := api.NewSpeakerHandler(cfg.DoneDir, cfg.PlaybackDir, cfg.InboxDir, profiles, embed, retryLoop, cfg.MinSegmentDuration, log)

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Health:    healthHandler,
		Speaker:   speakerHandler,
		Collector: collector,
		Version:   fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime: startTime,
		Log:       httpLog,
	})

	if !cfg.AuthEnabled {
		log.Warn().Msg("AUTH_ENABLED=false — API authentication is disabled, all endpoints are open")
	} else if cfg.AuthTokenGen {
		log.Info().Str("token", cfg.AuthToken).Msg("AUTH_TOKEN auto-generated (set AUTH_TOKEN in .env for a persistent token)")
	}
	if cfg.AuthEnabled && cfg.WriteToken == "" {
		log.Warn().Msg("WRITE_TOKEN not set — write endpoints accept the read token")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("voxpipe ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("voxpipe stopped")
}

// poolEnqueuer adapts *worker.Pool to orchestrator.Enqueuer: the two
// packages define structurally-identical but distinctly-named job types so
// neither has to import the other.
type poolEnqueuer struct {
	pool *worker.Pool
}

func (e poolEnqueuer) Enqueue(job orchestrator.EnqueueJob) bool {
	return e.pool.Enqueue(worker.Job{
		Stem:      job.Stem,
		AudioPath: job.AudioPath,
		Source:    job.Source,
	})
}

// accountingAdapter adapts *worker.Pool to api.AccountingSource.
type accountingAdapter struct {
	pool *worker.Pool
}

func (a accountingAdapter) Snapshot() api.PipelineAccounting {
	s := a.pool.Accounting().Snapshot()
	return api.PipelineAccounting{
		TotalCostUSD:    s.TotalCostUSD,
		TotalHours:      s.TotalHours,
		Submitted:       s.Submitted,
		Completed:       s.Completed,
		Failed:          s.Failed,
		LastCompletedAt: s.LastCompletedAt,
	}
}

// dispatchStatsAdapter adapts *dispatch.Dispatcher to api.DispatchStatsSource.
// dispatcher may be nil when no trigger registry was loaded; Snapshot then
// returns the zero value, matching HealthHandler's nil-source convention.
type dispatchStatsAdapter struct {
	d *dispatch.Dispatcher
}

func (a dispatchStatsAdapter) Snapshot() api.DispatchStats {
	if a.d == nil {
		return api.DispatchStats{}
	}
	s := a.d.Snapshot()
	return api.DispatchStats{Dispatched: s.Dispatched, Blocked: s.Blocked, Failed: s.Failed}
}

// pipelineStatsAdapter adapts the worker pool, transcription client, and
// inbox directory to metrics.PipelineStats.
type pipelineStatsAdapter struct {
	pool       *worker.Pool
	transcribe *transcribe.Client
	inboxDir   string
}

func (p pipelineStatsAdapter) QueueDepth() int { return p.pool.QueueDepth() }

func (p pipelineStatsAdapter) ActiveTranscriptionJobs() int {
	return len(p.transcribe.ListActive())
}

func (p pipelineStatsAdapter) InboxDepth() int {
	entries, err := os.ReadDir(p.inboxDir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}
