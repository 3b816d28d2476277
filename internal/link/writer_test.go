package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/insteon"
)

type recordingPort struct {
	mu      sync.Mutex
	inside  atomic.Int32
	overlap atomic.Bool
	frames  [][]byte
	times   []time.Time
	err     error
	short   bool
	closed  bool
}

func (p *recordingPort) Write(b []byte) (int, error) {
	if p.inside.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.inside.Add(-1)

	time.Sleep(2 * time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.frames = append(p.frames, append([]byte(nil), b...))
	p.times = append(p.times, time.Now())
	if p.short {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (p *recordingPort) Close() error {
	p.closed = true
	return nil
}

func testFrame(i byte) insteon.Frame {
	return insteon.Encode(insteon.Address{0x08, 0x2F, i}, insteon.On, insteon.LevelFull)
}

func TestWriter_SerializesAndSpaces(t *testing.T) {
	port := &recordingPort{}
	settle := 40 * time.Millisecond
	w := NewWriter(port, settle)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i byte) {
			defer wg.Done()
			assert.NoError(t, w.Write(context.Background(), testFrame(i)))
		}(byte(i))
	}
	wg.Wait()

	assert.False(t, port.overlap.Load(), "writes must never overlap")
	require.Len(t, port.frames, 4)
	for _, f := range port.frames {
		assert.Len(t, f, insteon.FrameSize)
	}
	for i := 1; i < len(port.times); i++ {
		gap := port.times[i].Sub(port.times[i-1])
		assert.GreaterOrEqual(t, gap, settle/2, "gap %d", i)
	}
}

func TestWriter_PortError(t *testing.T) {
	boom := errors.New("broken pipe")
	w := NewWriter(&recordingPort{err: boom}, time.Millisecond)

	err := w.Write(context.Background(), testFrame(1))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, testFrame(1), te.Frame)
}

func TestWriter_ShortWrite(t *testing.T) {
	w := NewWriter(&recordingPort{short: true}, time.Millisecond)
	err := w.Write(context.Background(), testFrame(1))
	assert.Error(t, err)
}

func TestWriter_ContextCancelledWhileSettling(t *testing.T) {
	w := NewWriter(&recordingPort{}, time.Hour)
	require.NoError(t, w.Write(context.Background(), testFrame(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := w.Write(ctx, testFrame(2))
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestWriter_Close(t *testing.T) {
	port := &recordingPort{}
	w := NewWriter(port, time.Millisecond)
	require.NoError(t, w.Close())
	assert.True(t, port.closed)
}

func TestOpen_DryRun(t *testing.T) {
	port, err := Open(config.LinkConfig{Port: "/dev/null", DryRun: true})
	require.NoError(t, err)
	n, err := port.Write(testFrame(1).Bytes())
	require.NoError(t, err)
	assert.Equal(t, insteon.FrameSize, n)
	assert.NoError(t, port.Close())
}
