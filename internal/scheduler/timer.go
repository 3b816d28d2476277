package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/workpool"
)

var (
	// ErrTimerClosed is returned when arming on a stopped timer.
	ErrTimerClosed = errors.New("timer closed")

	// ErrUnknownHandle is returned when cancelling a handle that already fired,
	// was already cancelled, or never had anything to fire.
	ErrUnknownHandle = errors.New("unknown timer handle")
)

// Handle identifies one scheduled callback.
type Handle uint64

// Timer is the one-shot timer primitive the scheduler arms triggers on.
type Timer interface {
	// ScheduleOnce runs fn once at the given instant.
	ScheduleOnce(at time.Time, fn func()) (Handle, error)

	// Cancel prevents a scheduled callback from running.
	Cancel(h Handle) error
}

// AfterFuncTimer implements Timer with time.AfterFunc. Callbacks do not run on
// the runtime timer goroutine but are handed to a worker pool.
type AfterFuncTimer struct {
	mu     sync.Mutex
	pool   *workpool.Pool
	now    func() time.Time
	next   Handle
	timers map[Handle]*time.Timer
	closed bool
}

// NewAfterFuncTimer creates a timer that runs callbacks on pool.
func NewAfterFuncTimer(pool *workpool.Pool) *AfterFuncTimer {
	return &AfterFuncTimer{
		pool:   pool,
		now:    time.Now,
		timers: make(map[Handle]*time.Timer),
	}
}

// ScheduleOnce arms fn for at. An instant that is not in the future is
// accepted but never fires, like a daily time that has already passed today.
func (t *AfterFuncTimer) ScheduleOnce(at time.Time, fn func()) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTimerClosed
	}

	t.next++
	h := t.next

	d := at.Sub(t.now())
	if d <= 0 {
		log.Debug().Time("at", at).Msg("Trigger time already passed, not firing today")
		return h, nil
	}

	t.timers[h] = time.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.timers[h]
		delete(t.timers, h)
		t.mu.Unlock()

		if !live {
			return
		}
		t.pool.Submit(workpool.Task{Name: "trigger", Run: fn})
	})

	return h, nil
}

// Cancel stops h. Returns ErrUnknownHandle if it is no longer pending.
func (t *AfterFuncTimer) Cancel(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[h]
	if !ok {
		return ErrUnknownHandle
	}
	timer.Stop()
	delete(t.timers, h)
	return nil
}

// Pending returns the number of callbacks still waiting to fire.
func (t *AfterFuncTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Close cancels everything and rejects further arming.
func (t *AfterFuncTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for h, timer := range t.timers {
		timer.Stop()
		delete(t.timers, h)
	}
	t.closed = true
}
