// Package app assembles insteond from its configuration: the PLM link, the
// device table, the daily refresh loop and the health endpoint.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/config"
)

// App owns the daemon's services from the first refresh to the final link close.
type App struct {
	cfg      *config.Config
	services *Services

	runCtx  context.Context
	stopRun context.CancelFunc
}

// New validates the device table and builds every service without touching
// the serial port. Configuration errors surface here, before anything runs.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start opens the PLM and launches the refresh loop, which arms today's
// triggers and sends catch-up commands before the first midnight.
func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.stopRun = context.WithCancel(ctx)

	if err := a.services.Start(a.runCtx); err != nil {
		a.stopRun()
		return err
	}

	log.Info().
		Int("devices", len(a.services.Rules)).
		Str("port", a.cfg.Link.Port).
		Bool("dry_run", a.cfg.Link.DryRun).
		Msg("insteond started")
	return nil
}

// Stop cancels pending triggers, drains in-flight sends within the shutdown
// timeout and closes the link.
func (a *App) Stop() error {
	log.Info().Dur("timeout", a.cfg.GetShutdownTimeout()).Msg("Shutting down...")

	if a.stopRun != nil {
		a.stopRun()
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// Wait returns once the context given to Start is done.
func (a *App) Wait() {
	if a.runCtx == nil {
		return
	}
	<-a.runCtx.Done()
}

// SignalContext is cancelled on the first SIGINT or SIGTERM. A second signal
// exits the process without waiting for the shutdown to finish.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()

		sig = <-sigs
		log.Error().Str("signal", sig.String()).Msg("Second signal, exiting immediately")
		os.Exit(1)
	}()

	return ctx
}
