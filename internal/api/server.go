package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/config"
	"github.com/snarg/voxpipe/internal/metrics"
)

// Server hosts the operator-facing HTTP surface: liveness/detailed health,
// manual speaker labeling, and forced re-identification.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions wires the HTTP surface to the pipeline's live components.
// Config and Health are required. Speaker and Collector may be nil, in
// which case their routes are not registered.
type ServerOptions struct {
	Config    *config.Config
	Health    *HealthHandler
	Speaker   *SpeakerHandler
	Collector *metrics.Collector
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

var registerCollectorOnce sync.Once

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	var corsOrigins []string
	if opts.Config.CORSOrigins != "" {
		for _, o := range strings.Split(opts.Config.CORSOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	// Unauthenticated liveness probe.
	r.Get("/api/v1/health", opts.Health.ServeHTTP)

	if opts.Config.MetricsEnabled && opts.Collector != nil {
		registerCollectorOnce.Do(func() { prometheus.MustRegister(opts.Collector) })
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	if opts.Config.AuthToken != "" {
		tokenJSON := fmt.Sprintf(`{"token":"%s"}`, strings.ReplaceAll(opts.Config.AuthToken, `"`, `\"`))
		r.Get("/api/v1/auth-init", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-store")
			w.Write([]byte(tokenJSON))
		})
	}

	// Authenticated operator routes.
	r.Group(func(r chi.Router) {
		r.Use(MaxBodySize(10 << 20))
		if opts.Config.MetricsEnabled {
			r.Use(metrics.InstrumentHandler)
		}
		r.Use(BearerAuth(opts.Config.AuthToken, opts.Config.WriteToken))
		r.Use(WriteAuth(opts.Config.WriteToken))
		r.Use(ResponseTimeout(opts.Config.WriteTimeout))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health/detailed", opts.Health.ServeDetailed)
			if opts.Speaker != nil {
				r.Post("/label-speaker", opts.Speaker.LabelSpeaker)
				r.Post("/reidentify", opts.Speaker.Reidentify)
			}
		})
	})

	srv := &http.Server{
		Addr:        opts.Config.HTTPAddr,
		Handler:     r,
		ReadTimeout: opts.Config.ReadTimeout,
		IdleTimeout: opts.Config.IdleTimeout,
		// Kept at 0: no streaming endpoints today, but health/detailed can be
		// slow under a large job manifest and shouldn't be cut off.
		WriteTimeout: 0,
	}

	return &Server{
		http: srv,
		log:  opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
