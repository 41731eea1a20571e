package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.InboxDir != "./audio/inbox" {
			t.Errorf("InboxDir = %q, want ./audio/inbox", cfg.InboxDir)
		}
		if cfg.MinTranscribeSeconds != 10 {
			t.Errorf("MinTranscribeSeconds = %v, want 10", cfg.MinTranscribeSeconds)
		}
		if cfg.MaxRetries != 3 {
			t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
		}
		if cfg.ClusterMinSamples != 10 {
			t.Errorf("ClusterMinSamples = %d, want 10", cfg.ClusterMinSamples)
		}
		if cfg.S3Enabled() {
			t.Error("S3Enabled() = true, want false with no bucket configured")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"HTTP_ADDR": ":9090"})
		defer cleanup()

		cfg, err := Load(Overrides{
			EnvFile:  "nonexistent.env",
			HTTPAddr: ":7070",
			InboxDir: "/tmp/inbox",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":7070" {
			t.Errorf("HTTPAddr = %q, want :7070", cfg.HTTPAddr)
		}
		if cfg.InboxDir != "/tmp/inbox" {
			t.Errorf("InboxDir = %q, want /tmp/inbox", cfg.InboxDir)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"MIN_TRANSCRIBE_SECONDS": "5.5"})
		defer cleanup()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MinTranscribeSeconds != 5.5 {
			t.Errorf("MinTranscribeSeconds = %v, want 5.5", cfg.MinTranscribeSeconds)
		}
	})

	t.Run("auth_token_auto_generated", func(t *testing.T) {
		os.Unsetenv("AUTH_TOKEN")
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.AuthToken == "" {
			t.Error("AuthToken should be auto-generated when unset")
		}
		if !cfg.AuthTokenGen {
			t.Error("AuthTokenGen should be true for an auto-generated token")
		}
	})

	t.Run("auth_disabled_clears_token", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"AUTH_ENABLED": "false", "AUTH_TOKEN": "secret"})
		defer cleanup()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.AuthToken != "" {
			t.Errorf("AuthToken = %q, want empty when auth disabled", cfg.AuthToken)
		}
	})

	t.Run("s3_enabled_when_bucket_set", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"S3_BUCKET": "voxpipe-playback"})
		defer cleanup()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.S3Enabled() {
			t.Error("S3Enabled() = false, want true with S3_BUCKET set")
		}
	})
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
