// Package config loads voxpipe's runtime configuration from environment
// variables, an optional .env file, and CLI overrides.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable named in the filesystem and environment
// contract: duration gates, retry cadences, grace windows, and the
// directory layout the orchestrator, worker, and retry loop all share.
type Config struct {
	// Filesystem layout (§6 filesystem contract).
	InboxDir     string `env:"INBOX_DIR" envDefault:"./audio/inbox"`
	DoneDir      string `env:"DONE_DIR" envDefault:"./audio/done"`
	PlaybackDir  string `env:"PLAYBACK_DIR" envDefault:"./audio/playback"`
	JobsFile     string `env:"JOBS_FILE" envDefault:"./audio/jobs.json"`
	ProfilesDir  string `env:"VOICE_PROFILES_DIR" envDefault:"./voice-profiles"`
	UnknownDir   string `env:"UNKNOWN_SPEAKERS_DIR" envDefault:"./unknown-speakers"`
	CuratorDir   string `env:"CURATOR_VOICE_DIR" envDefault:"./curator/voice"`

	// Duration gates and retention (§6 environment configuration).
	MinTranscribeSeconds  float64       `env:"MIN_TRANSCRIBE_SECONDS" envDefault:"10"`
	MinPlaybackDuration   float64       `env:"MIN_PLAYBACK_DURATION" envDefault:"10"`
	AudioRetentionDays    int           `env:"AUDIO_RETENTION_DAYS" envDefault:"30"`
	OrphanAgeHours        float64       `env:"ORPHAN_AGE_HOURS" envDefault:"24"`
	OrchestratorPoll      time.Duration `env:"ORCHESTRATOR_POLL_INTERVAL" envDefault:"5s"`
	UnidentifiedGraceHrs  float64       `env:"UNIDENTIFIED_GRACE_HOURS" envDefault:"2"`
	SpeakerIDMaxWaitHours float64       `env:"SPEAKER_ID_MAX_WAIT_HOURS" envDefault:"168"`

	// Transcription service (AssemblyAI-shaped wire contract, §6).
	TranscribeAPIKey   string        `env:"TRANSCRIBE_API_KEY"`
	TranscribeBaseURL  string        `env:"TRANSCRIBE_BASE_URL" envDefault:"https://api.assemblyai.com/v2"`
	TranscribeMaxSpkrs int           `env:"ASSEMBLYAI_MAX_SPEAKERS" envDefault:"6"`
	CostPerHour        float64       `env:"TRANSCRIBE_COST_PER_HOUR" envDefault:"0.17"`
	PollInterval       time.Duration `env:"TRANSCRIBE_POLL_INTERVAL" envDefault:"5s"`
	PollTimeout        time.Duration `env:"TRANSCRIBE_POLL_TIMEOUT" envDefault:"1800s"`
	MaxRetries         int           `env:"TRANSCRIBE_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay     time.Duration `env:"TRANSCRIBE_RETRY_BASE_DELAY" envDefault:"5s"`

	// Worker pool (§4.6, §5).
	WorkerCount     int `env:"PIPELINE_WORKERS" envDefault:"4"`
	WorkerQueueSize int `env:"PIPELINE_QUEUE_SIZE" envDefault:"500"`

	// Speaker identification (§4.1-§4.4).
	SpeakerIDEnabled          bool          `env:"SPEAKER_ID_ENABLED" envDefault:"true"`
	VerifySpeaker             bool          `env:"VERIFY_SPEAKER" envDefault:"true"`
	MinSegmentDuration        float64       `env:"MIN_SEGMENT_DURATION" envDefault:"1.0"`
	SpeakerEncoderRetrySec    time.Duration `env:"SPEAKER_ENCODER_RETRY_SECONDS" envDefault:"300s"`
	SpeakerIDRetryInterval    time.Duration `env:"SPEAKER_ID_RETRY_INTERVAL" envDefault:"600s"`
	SpeakerIDMaxRetries       int           `env:"SPEAKER_ID_MAX_RETRIES" envDefault:"10"`
	ClusterPruneEveryNCycles  int           `env:"UNKNOWN_SPEAKER_PRUNE_CYCLES" envDefault:"36"`
	UnknownSpeakerMaxVariance float64       `env:"UNKNOWN_SPEAKER_MAX_VARIANCE" envDefault:"20.0"`
	UnknownSpeakerMinSamples  int           `env:"UNKNOWN_SPEAKER_MIN_SAMPLES" envDefault:"3"`
	UnknownSpeakerMaxAgeDays  int           `env:"UNKNOWN_SPEAKER_MAX_AGE_DAYS" envDefault:"30"`
	ClusterMinSamples         int           `env:"UNKNOWN_SPEAKER_PROMOTE_MIN_SAMPLES" envDefault:"10"`

	// Command dispatcher (§4.9).
	GatewayURL                  string `env:"GATEWAY_URL" envDefault:"http://localhost:18789"`
	GatewayHooksPath            string `env:"GATEWAY_HOOKS_PATH" envDefault:"/hooks/agent"`
	GatewayToken                string `env:"GATEWAY_TOKEN"`
	GatewayTriggersFile         string `env:"GATEWAY_TRIGGERS_FILE" envDefault:"./gateway-triggers.json"`
	VoiceCommandAllowedSpeakers string `env:"VOICE_COMMAND_ALLOWED_SPEAKERS"`
	QuietHours                  string `env:"QUIET_HOURS"`

	// Speaker-encoder sidecar (§4.1). Empty uses a deterministic stub
	// encoder, intended for local development only.
	SpeakerEncoderURL     string        `env:"SPEAKER_ENCODER_URL"`
	SpeakerEncoderTimeout time.Duration `env:"SPEAKER_ENCODER_TIMEOUT" envDefault:"30s"`

	// Conversation stitcher (§4.10).
	ConversationGapSeconds        int `env:"CONVERSATION_GAP_SECONDS" envDefault:"120"`
	ConversationSpeakerGapSeconds int `env:"CONVERSATION_SPEAKER_GAP_SECONDS" envDefault:"300"`

	// HTTP server (§6, §10).
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthEnabled    bool          `env:"AUTH_ENABLED" envDefault:"true"`
	AuthToken      string        `env:"AUTH_TOKEN"`
	AuthTokenGen   bool          // true when auto-generated (not from env)
	WriteToken     string        `env:"WRITE_TOKEN"` // required for POST/PATCH/PUT/DELETE when set
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins    string        `env:"CORS_ORIGINS"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool          `env:"METRICS_ENABLED" envDefault:"true"`

	// Optional S3 playback-vault mirroring (§11 domain stack).
	S3Bucket         string        `env:"S3_BUCKET"`
	S3Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint       string        `env:"S3_ENDPOINT"`
	S3AccessKey      string        `env:"S3_ACCESS_KEY"`
	S3SecretKey      string        `env:"S3_SECRET_KEY"`
	S3Prefix         string        `env:"S3_PREFIX"`
	S3LocalCache     bool          `env:"S3_LOCAL_CACHE" envDefault:"true"`
	S3CacheRetention time.Duration `env:"S3_CACHE_RETENTION" envDefault:"720h"`
	S3CacheMaxGB     float64       `env:"S3_CACHE_MAX_GB" envDefault:"0"`
	S3PresignExpiry  time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
}

// S3Enabled reports whether the optional S3-backed playback archive is configured.
func (c *Config) S3Enabled() bool { return c.S3Bucket != "" }

// S3Config is a nested view over the flat S3 env fields, shaped the way
// internal/storage expects to receive it.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Prefix         string
	LocalCache     bool
	CacheRetention time.Duration
	CacheMaxGB     float64
	PresignExpiry  time.Duration
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// S3 builds the nested S3Config view consumed by internal/storage.
func (c *Config) S3() S3Config {
	return S3Config{
		Bucket:         c.S3Bucket,
		Region:         c.S3Region,
		Endpoint:       c.S3Endpoint,
		AccessKey:      c.S3AccessKey,
		SecretKey:      c.S3SecretKey,
		Prefix:         c.S3Prefix,
		LocalCache:     c.S3LocalCache,
		CacheRetention: c.S3CacheRetention,
		CacheMaxGB:     c.S3CacheMaxGB,
		PresignExpiry:  c.S3PresignExpiry,
	}
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	InboxDir string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}

	if !cfg.AuthEnabled {
		cfg.AuthToken = ""
	} else if cfg.AuthToken == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err == nil {
			cfg.AuthToken = base64.URLEncoding.EncodeToString(b)
			cfg.AuthTokenGen = true
		}
	}

	return cfg, nil
}
