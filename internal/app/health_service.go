package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/metrics"
)

// HealthService provides HTTP health check, metrics and schedule endpoints.
type HealthService struct {
	cfg       *config.Config
	scheduler *SchedulerService
	metrics   *metrics.Recorder
	server    *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, sched *SchedulerService, m *metrics.Recorder) *HealthService {
	return &HealthService{
		cfg:       cfg,
		scheduler: sched,
		metrics:   m,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

type scheduledTrigger struct {
	ID         string    `json:"id"`
	Generation string    `json:"generation"`
	At         time.Time `json:"at"`
	Rule       string    `json:"rule"`
	Address    string    `json:"address"`
	State      string    `json:"state"`
	Level      int       `json:"level"`
}

func (s *HealthService) handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready once the first refresh armed a schedule
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		last := s.scheduler.Loop.Last()
		if last == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ready",
			"date":       last.Date.Format("2006-01-02"),
			"generation": last.Generation,
		})
	})

	// Armed triggers
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, r *http.Request) {
		armed := s.scheduler.Scheduler.Armed()
		out := make([]scheduledTrigger, 0, len(armed))
		for _, t := range armed {
			out = append(out, scheduledTrigger{
				ID:         t.ID,
				Generation: t.Generation,
				At:         t.At,
				Rule:       t.Rule,
				Address:    t.Command.Address.String(),
				State:      t.Command.State.String(),
				Level:      int(t.Command.Level),
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
