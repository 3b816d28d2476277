// Package scheduler owns the triggers armed for the current day.
//
// The whole trigger set is replaced at once: every armed trigger of the
// previous generation is cancelled before the first trigger of the new one is
// armed, and a trigger that was already running its callback when it was
// superseded is dropped before it reaches the link.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/insteon"
	"github.com/dokzlo13/insteond/internal/rules"
)

// Sender delivers a command to the device link.
type Sender interface {
	Send(ctx context.Context, cmd insteon.Command) error
}

// Recorder receives scheduler statistics. Optional.
type Recorder interface {
	TriggersArmed(n int)
	ArmFailed()
}

// Send sources.
const (
	SourceTrigger = "trigger"
	SourceCatchUp = "catchup"
)

// Origin identifies what caused a send. The scheduler attaches it to the
// context handed to Sender.
type Origin struct {
	Source     string
	Generation string
}

type originKey struct{}

func withOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin attached to ctx, if any.
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

// ArmedTrigger is a pending command registered with the timer.
type ArmedTrigger struct {
	ID         string
	Generation string
	At         time.Time
	Rule       string
	Command    insteon.Command

	handle Handle
}

// Batch summarizes one ReplaceAll call.
type Batch struct {
	Generation string
	Armed      int
	Failed     int
}

// Options configures a Scheduler.
type Options struct {
	// StaggerStep is multiplied by a window's rule index and added to both of
	// its triggers, so devices never share a send instant.
	StaggerStep time.Duration
	Location    *time.Location
	Now         func() time.Time
	Recorder    Recorder
}

// Scheduler arms and fires the day's triggers.
type Scheduler struct {
	mu         sync.Mutex
	timer      Timer
	sender     Sender
	stagger    time.Duration
	tz         *time.Location
	now        func() time.Time
	recorder   Recorder
	generation string
	armed      map[string]*ArmedTrigger
}

// New creates a scheduler that arms on timer and sends through sender.
func New(timer Timer, sender Sender, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		timer:    timer,
		sender:   sender,
		stagger:  opts.StaggerStep,
		tz:       opts.Location,
		now:      opts.Now,
		recorder: opts.Recorder,
		armed:    make(map[string]*ArmedTrigger),
	}
}

// ReplaceAll cancels every armed trigger, then arms an on and an off trigger
// for each window. A trigger the timer rejects is logged and skipped; the rest
// of the batch is still armed.
func (s *Scheduler) ReplaceAll(ctx context.Context, windows []rules.Window) Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := s.cancelAllLocked()

	s.generation = uuid.NewString()
	batch := Batch{Generation: s.generation}

	for _, w := range windows {
		offset := time.Duration(w.Index) * s.stagger

		for _, edge := range []struct {
			at    time.Time
			state insteon.State
		}{
			{w.On.Add(offset), insteon.On},
			{w.Off.Add(offset), insteon.Off},
		} {
			if err := s.armLocked(ctx, w, edge.at, edge.state); err != nil {
				batch.Failed++
				log.Error().Err(err).
					Str("rule", w.Rule).
					Str("address", w.Address.String()).
					Str("state", edge.state.String()).
					Time("at", edge.at).
					Msg("Failed to arm trigger")
				if s.recorder != nil {
					s.recorder.ArmFailed()
				}
				continue
			}
			batch.Armed++
		}
	}

	if s.recorder != nil {
		s.recorder.TriggersArmed(len(s.armed))
	}

	log.Info().
		Str("generation", batch.Generation).
		Int("cancelled", cancelled).
		Int("armed", batch.Armed).
		Int("failed", batch.Failed).
		Msg("Trigger set replaced")

	return batch
}

func (s *Scheduler) armLocked(ctx context.Context, w rules.Window, at time.Time, state insteon.State) error {
	t := &ArmedTrigger{
		ID:         uuid.NewString(),
		Generation: s.generation,
		At:         at,
		Rule:       w.Rule,
		Command:    w.Command(state),
	}

	h, err := s.timer.ScheduleOnce(at, func() { s.fire(ctx, t) })
	if err != nil {
		return err
	}
	t.handle = h
	s.armed[t.ID] = t

	log.Debug().
		Str("trigger", t.ID).
		Str("rule", t.Rule).
		Str("address", t.Command.Address.String()).
		Str("state", state.String()).
		Time("at", at).
		Msg("Trigger armed")
	return nil
}

// cancelAllLocked empties the armed set. Triggers that already fired are
// expected to be unknown to the timer.
func (s *Scheduler) cancelAllLocked() int {
	n := len(s.armed)
	for id, t := range s.armed {
		if err := s.timer.Cancel(t.handle); err != nil && !errors.Is(err, ErrUnknownHandle) {
			log.Warn().Err(err).Str("trigger", id).Msg("Failed to cancel trigger")
		}
		delete(s.armed, id)
	}
	return n
}

// fire runs on the worker pool when a trigger's time arrives.
func (s *Scheduler) fire(ctx context.Context, t *ArmedTrigger) {
	s.mu.Lock()
	current, ok := s.armed[t.ID]
	if !ok || current != t {
		s.mu.Unlock()
		log.Debug().Str("trigger", t.ID).Str("generation", t.Generation).Msg("Superseded trigger dropped")
		return
	}
	delete(s.armed, t.ID)
	remaining := len(s.armed)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.TriggersArmed(remaining)
	}

	log.Info().
		Str("rule", t.Rule).
		Str("address", t.Command.Address.String()).
		Str("state", t.Command.State.String()).
		Time("scheduled", t.At).
		Msg("Trigger fired")

	// The sender logs and records transport failures; a failed send is not
	// replayed.
	_ = s.sender.Send(withOrigin(ctx, Origin{Source: SourceTrigger, Generation: t.Generation}), t.Command)
}

// FireNow sends cmd immediately, bypassing the timer.
func (s *Scheduler) FireNow(ctx context.Context, cmd insteon.Command) error {
	log.Info().
		Str("address", cmd.Address.String()).
		Str("state", cmd.State.String()).
		Msg("Catch-up command")
	return s.sender.Send(withOrigin(ctx, Origin{Source: SourceCatchUp, Generation: s.Generation()}), cmd)
}

// Armed returns a snapshot of the pending triggers ordered by fire time.
func (s *Scheduler) Armed() []ArmedTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ArmedTrigger, 0, len(s.armed))
	for _, t := range s.armed {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Generation returns the id of the live trigger set.
func (s *Scheduler) Generation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Timezone returns the scheduler's timezone
func (s *Scheduler) Timezone() *time.Location {
	return s.tz
}

// Close cancels all armed triggers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
	if s.recorder != nil {
		s.recorder.TriggersArmed(0)
	}
}
