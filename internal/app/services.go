package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/db"
	"github.com/dokzlo13/insteond/internal/dispatch"
	"github.com/dokzlo13/insteond/internal/geo"
	"github.com/dokzlo13/insteond/internal/ledger"
	"github.com/dokzlo13/insteond/internal/metrics"
	"github.com/dokzlo13/insteond/internal/rules"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger // nil when disabled
	Metrics *metrics.Recorder
	GeoCalc *geo.Calculator

	// Device table, validated once at start-up
	Rules []rules.Rule

	// High-level services
	Link      *LinkService
	Scheduler *SchedulerService
	Health    *HealthService
}

// NewServices creates all services with proper dependency injection.
// An invalid device table is reported here and nothing is started.
func NewServices(cfg *config.Config) (*Services, error) {
	rs, err := rules.Load(cfg.Devices)
	if err != nil {
		return nil, err
	}

	tz, err := cfg.Geo.Location()
	if err != nil {
		return nil, err
	}

	s := &Services{cfg: cfg, Rules: rs}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
	}

	s.Metrics = metrics.New(cfg.Metrics)

	// Initialize geo calculator
	if cfg.Geo.HasCoordinates() {
		s.GeoCalc = geo.NewCalculatorWithLocation(cfg.Geo.Name, cfg.Geo.Lat, cfg.Geo.Lon)
	} else {
		log.Warn().Msg("No lat/lon configured, will use Nominatim geocoding (cached in SQLite)")
		s.GeoCalc = geo.NewCalculatorWithCache(cfg.Geo.Name, cfg.Geo.HTTPTimeout.Duration(), geo.NewCache(database.DB))
	}

	s.Link = NewLinkService(cfg)

	dispatcher := dispatch.New(s.Link, s.Ledger, s.Metrics)
	s.Scheduler = NewSchedulerService(cfg, tz, rs, s.GeoCalc, dispatcher, s.Ledger, s.Metrics)

	s.Health = NewHealthService(cfg, s.Scheduler, s.Metrics)

	log.Info().
		Int("rules", len(rs)).
		Str("timezone", tz.String()).
		Bool("ledger", s.Ledger != nil).
		Msg("Services initialized")

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Open the link before the first refresh issues catch-up commands
	if err := s.Link.Start(ctx); err != nil {
		return err
	}

	s.Scheduler.Start(ctx)
	s.Health.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()

	if s.Scheduler != nil {
		s.Scheduler.Stop(ctx)
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Link != nil {
		if err := s.Link.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close link")
		}
	}
	if s.Metrics != nil {
		s.Metrics.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
