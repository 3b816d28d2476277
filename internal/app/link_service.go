package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/insteon"
	"github.com/dokzlo13/insteond/internal/link"
)

var errLinkNotOpen = errors.New("link not open")

// LinkService owns the serial connection to the modem.
type LinkService struct {
	cfg *config.Config

	mu     sync.RWMutex
	writer *link.Writer
}

// NewLinkService creates a LinkService; the port is opened by Start.
func NewLinkService(cfg *config.Config) *LinkService {
	return &LinkService{cfg: cfg}
}

// Start opens the port.
func (s *LinkService) Start(ctx context.Context) error {
	port, err := link.Open(s.cfg.Link)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.writer = link.NewWriter(port, s.cfg.Link.Settle.Duration())
	s.mu.Unlock()

	log.Info().
		Str("port", s.cfg.Link.Port).
		Dur("settle", s.cfg.Link.Settle.Duration()).
		Bool("dry_run", s.cfg.Link.DryRun).
		Msg("Link ready")
	return nil
}

// Write sends one frame through the link writer.
func (s *LinkService) Write(ctx context.Context, frame insteon.Frame) error {
	s.mu.RLock()
	w := s.writer
	s.mu.RUnlock()

	if w == nil {
		return &link.TransportError{Frame: frame, Err: errLinkNotOpen}
	}
	return w.Write(ctx, frame)
}

// Close closes the port.
func (s *LinkService) Close() error {
	s.mu.Lock()
	w := s.writer
	s.writer = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}
