package link

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/dokzlo13/insteond/internal/config"
)

// Port is the raw byte sink behind a Writer.
type Port interface {
	io.Writer
	Close() error
}

// drainer is implemented by ports that can block until queued bytes are on the wire.
type drainer interface {
	Drain() error
}

// Open opens the PowerLinc Modem port at 8N1 with both buffers cleared. In dry
// run mode frames are logged instead.
func Open(cfg config.LinkConfig) (Port, error) {
	if cfg.DryRun {
		log.Warn().Str("port", cfg.Port).Msg("Link in dry-run mode, frames will only be logged")
		return &logPort{name: cfg.Port}, nil
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset output buffer: %w", err)
	}

	log.Info().
		Str("port", cfg.Port).
		Int("baud", cfg.BaudRate).
		Msg("Serial link opened")

	return port, nil
}

// logPort stands in for the modem when no hardware is attached.
type logPort struct {
	name string
}

func (p *logPort) Write(b []byte) (int, error) {
	log.Info().Str("port", p.name).Str("frame", fmt.Sprintf("% X", b)).Msg("Dry-run frame")
	return len(b), nil
}

func (p *logPort) Close() error { return nil }
