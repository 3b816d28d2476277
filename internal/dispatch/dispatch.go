// Package dispatch turns commands into frames and hands them to the link.
package dispatch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/insteon"
	"github.com/dokzlo13/insteond/internal/ledger"
	"github.com/dokzlo13/insteond/internal/metrics"
	"github.com/dokzlo13/insteond/internal/scheduler"
)

// FrameWriter writes one frame to the device link.
type FrameWriter interface {
	Write(ctx context.Context, frame insteon.Frame) error
}

// Dispatcher sends commands for the scheduler. Results are logged, counted and
// appended to the ledger; a failed send is returned but never retried.
type Dispatcher struct {
	writer  FrameWriter
	ledger  *ledger.Ledger   // nil when the ledger is disabled
	metrics *metrics.Recorder // nil-safe
}

// New creates a dispatcher writing through w.
func New(w FrameWriter, l *ledger.Ledger, m *metrics.Recorder) *Dispatcher {
	return &Dispatcher{writer: w, ledger: l, metrics: m}
}

var _ scheduler.Sender = (*Dispatcher)(nil)

// Send encodes cmd and writes it to the link.
func (d *Dispatcher) Send(ctx context.Context, cmd insteon.Command) error {
	frame := cmd.Frame()
	origin, _ := scheduler.OriginFrom(ctx)
	state := cmd.State.String()

	payload := map[string]any{
		"state": state,
		"level": int(cmd.Level),
		"frame": frame.String(),
	}

	if err := d.writer.Write(ctx, frame); err != nil {
		log.Error().Err(err).
			Str("address", cmd.Address.String()).
			Str("state", state).
			Str("source", origin.Source).
			Msg("Failed to send command")
		d.metrics.CommandFailed(state)
		payload["error"] = err.Error()
		d.record(ctx, ledger.EventCommandFailed, origin, cmd, payload)
		return err
	}

	log.Info().
		Str("address", cmd.Address.String()).
		Str("state", state).
		Str("source", origin.Source).
		Str("frame", frame.String()).
		Msg("Command sent")
	d.metrics.CommandSent(state)
	d.record(ctx, ledger.EventCommandSent, origin, cmd, payload)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, event ledger.EventType, origin scheduler.Origin, cmd insteon.Command, payload map[string]any) {
	if d.ledger == nil {
		return
	}
	// The send already happened; the ledger write must not depend on a
	// cancelled caller.
	ctx = context.WithoutCancel(ctx)
	if err := d.ledger.AppendWithSource(ctx, event, origin.Source, origin.Generation, cmd.Address.String(), payload); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("Failed to record command in ledger")
	}
}
