// Package link owns the serial connection to the modem. Every frame goes
// through one Writer, which sends frames one at a time and keeps at least the
// settle delay between consecutive frames.
package link

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/insteond/internal/insteon"
)

// DefaultSettle is the spacing devices need between two commands.
const DefaultSettle = time.Second

// TransportError is a frame that did not make it onto the wire.
type TransportError struct {
	Frame insteon.Frame
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link write [%s]: %v", e.Frame, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Writer is the single write path to a Port.
type Writer struct {
	mu      sync.Mutex
	port    Port
	limiter *rate.Limiter
}

// NewWriter wraps port. settle <= 0 uses DefaultSettle.
func NewWriter(port Port, settle time.Duration) *Writer {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Writer{
		port:    port,
		limiter: rate.NewLimiter(rate.Every(settle), 1),
	}
}

// Write sends one frame. Concurrent callers queue on the writer; none of them
// interleave bytes on the wire. ctx bounds the wait for the settle delay.
func (w *Writer) Write(ctx context.Context, frame insteon.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.limiter.Wait(ctx); err != nil {
		return &TransportError{Frame: frame, Err: err}
	}

	n, err := w.port.Write(frame.Bytes())
	if err == nil && n != insteon.FrameSize {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &TransportError{Frame: frame, Err: err}
	}

	if d, ok := w.port.(drainer); ok {
		if err := d.Drain(); err != nil {
			return &TransportError{Frame: frame, Err: fmt.Errorf("drain: %w", err)}
		}
	}

	log.Debug().Str("frame", frame.String()).Msg("Frame written")
	return nil
}

// Close closes the port after any in-flight write.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port.Close()
}
