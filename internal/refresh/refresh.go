// Package refresh drives the daily cycle: at start-up and at every local
// midnight it resolves the device table, replaces the armed trigger set and
// forces every device into the state its window implies right now.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/insteond/internal/geo"
	"github.com/dokzlo13/insteond/internal/ledger"
	"github.com/dokzlo13/insteond/internal/metrics"
	"github.com/dokzlo13/insteond/internal/rules"
	"github.com/dokzlo13/insteond/internal/scheduler"
)

// SolarProvider returns sunrise and sunset for the calendar day of date.
type SolarProvider interface {
	GetTimes(ctx context.Context, date time.Time) (*geo.AstroTimes, error)
}

// SolarLookupError aborts one refresh. The previous trigger set stays armed.
type SolarLookupError struct {
	Date time.Time
	Err  error
}

func (e *SolarLookupError) Error() string {
	return fmt.Sprintf("solar lookup for %s: %v", e.Date.Format("2006-01-02"), e.Err)
}

func (e *SolarLookupError) Unwrap() error { return e.Err }

// Result summarizes one refresh.
type Result struct {
	Date       time.Time
	Generation string
	Windows    []rules.Window
	Skipped    int // rules whose day filter excludes the date
	RuleErrors int // rules that could not be resolved for the date
	Armed      int
	ArmFailed  int
	CatchUp    int
	CatchUpErr int
}

// Retry defaults for a failed refresh.
const (
	DefaultRetryDelay    = 30 * time.Second
	DefaultRetryAttempts = 5
)

// Options configures a Loop.
type Options struct {
	Location      *time.Location
	RetryDelay    time.Duration // first wait after a failed refresh, doubled per attempt
	RetryAttempts int
	Now           func() time.Time
	Ledger        *ledger.Ledger    // optional
	Metrics       *metrics.Recorder // optional
	PrintSchedule bool
}

// Loop owns the refresh sequence. Refreshes never overlap.
type Loop struct {
	mu      sync.Mutex
	rules   []rules.Rule
	solar   SolarProvider
	sched   *scheduler.Scheduler
	tz      *time.Location
	now     func() time.Time
	ledger  *ledger.Ledger
	metrics *metrics.Recorder
	print   bool
	last    *Result

	retryDelay    time.Duration
	retryAttempts int
}

// New creates a refresh loop over a validated rule table.
func New(rs []rules.Rule, solar SolarProvider, sched *scheduler.Scheduler, opts Options) *Loop {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	return &Loop{
		rules:   rs,
		solar:   solar,
		sched:   sched,
		tz:      opts.Location,
		now:     opts.Now,
		ledger:  opts.Ledger,
		metrics: opts.Metrics,
		print:   opts.PrintSchedule,

		retryDelay:    opts.RetryDelay,
		retryAttempts: opts.RetryAttempts,
	}
}

// Refresh resolves every rule for today, replaces the trigger set in one step
// and issues the catch-up commands. Only a failed solar lookup is returned as
// an error; per-rule and per-send failures are logged and counted.
func (l *Loop) Refresh(ctx context.Context) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	started := time.Now()
	local := l.now().In(l.tz)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.tz)
	res := &Result{Date: today}

	sun, err := l.sunTimes(ctx, today)
	if err != nil {
		l.fail(ctx, today, err)
		return nil, err
	}

	// Geocoding can take a while; catch-up is computed against the time the
	// commands actually go out.
	now := l.now().In(l.tz)

	for _, rule := range l.rules {
		w, ok, err := rules.Resolve(rule, today, sun)
		if err != nil {
			res.RuleErrors++
			log.Error().Err(err).
				Str("rule", rule.Name).
				Str("date", today.Format("2006-01-02")).
				Msg("Rule skipped for today")
			continue
		}
		if !ok {
			res.Skipped++
			log.Debug().Str("rule", rule.Name).Str("days", rule.Days.String()).Msg("Rule not active today")
			continue
		}
		res.Windows = append(res.Windows, w)
	}

	res.Windows = rules.Coalesce(res.Windows)

	batch := l.sched.ReplaceAll(ctx, res.Windows)
	res.Generation = batch.Generation
	res.Armed = batch.Armed
	res.ArmFailed = batch.Failed

	for _, cmd := range rules.CatchUp(res.Windows, now) {
		res.CatchUp++
		if err := l.sched.FireNow(ctx, cmd); err != nil {
			res.CatchUpErr++
		}
	}

	l.metrics.RefreshCompleted(time.Since(started))
	l.record(ctx, ledger.EventRefreshCompleted, res.Generation, map[string]any{
		"date":        today.Format("2006-01-02"),
		"windows":     len(res.Windows),
		"skipped":     res.Skipped,
		"rule_errors": res.RuleErrors,
		"armed":       res.Armed,
		"arm_failed":  res.ArmFailed,
		"catchup":     res.CatchUp,
		"catchup_err": res.CatchUpErr,
	})

	log.Info().
		Str("date", today.Format("2006-01-02")).
		Str("generation", res.Generation).
		Int("windows", len(res.Windows)).
		Int("skipped", res.Skipped).
		Int("rule_errors", res.RuleErrors).
		Int("armed", res.Armed).
		Int("catchup", res.CatchUp).
		Msg("Daily refresh completed")

	if l.print {
		log.Info().Msg("Current schedule:\n" + l.sched.FormatSchedule())
	}

	l.last = res
	return res, nil
}

// sunTimes skips the lookup when no rule refers to a solar event.
func (l *Loop) sunTimes(ctx context.Context, today time.Time) (rules.SunTimes, error) {
	if !l.needsSolar() {
		return rules.SunTimes{}, nil
	}

	times, err := l.solar.GetTimes(ctx, today)
	if err != nil {
		return rules.SunTimes{}, &SolarLookupError{Date: today, Err: err}
	}

	log.Info().
		Str("date", today.Format("2006-01-02")).
		Time("sunrise", times.Sunrise).
		Time("sunset", times.Sunset).
		Msg("Solar times resolved")

	return rules.SunTimes{Sunrise: times.Sunrise, Sunset: times.Sunset}, nil
}

func (l *Loop) needsSolar() bool {
	for _, r := range l.rules {
		if r.On.IsSolar() || r.Off.IsSolar() {
			return true
		}
	}
	return false
}

func (l *Loop) fail(ctx context.Context, today time.Time, err error) {
	log.Error().Err(err).
		Str("date", today.Format("2006-01-02")).
		Str("generation", l.sched.Generation()).
		Msg("Daily refresh failed, keeping previous triggers")
	l.metrics.RefreshFailed()
	l.record(ctx, ledger.EventRefreshFailed, l.sched.Generation(), map[string]any{
		"date":  today.Format("2006-01-02"),
		"error": err.Error(),
	})
}

func (l *Loop) record(ctx context.Context, event ledger.EventType, generation string, payload map[string]any) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.AppendWithSource(ctx, event, "refresh", generation, "", payload); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("Failed to record refresh in ledger")
	}
}

// Last returns the result of the most recent successful refresh, or nil.
func (l *Loop) Last() *Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Run refreshes immediately and then at every local midnight until ctx is
// cancelled. A failed refresh is retried with backoff, never past the next
// midnight.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.refreshWithRetry(ctx)
		if ctx.Err() != nil {
			return nil
		}

		next := NextMidnight(l.now(), l.tz)
		log.Info().Time("next_refresh", next).Msg("Waiting for next refresh")

		if err := l.sleepUntil(ctx, next); err != nil {
			return nil
		}
	}
}

func (l *Loop) refreshWithRetry(ctx context.Context) {
	delay := l.retryDelay
	for attempt := 1; ; attempt++ {
		_, err := l.Refresh(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		if attempt > l.retryAttempts {
			log.Error().Int("attempts", attempt).Msg("Refresh retries exhausted, waiting for next midnight")
			return
		}

		now := l.now()
		if now.Add(delay).After(NextMidnight(now, l.tz)) {
			return
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Refresh failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
	}
}

// sleepUntil waits until the wall clock reaches at. Timers run on the
// monotonic clock, so an early wake-up (suspend, clock step) waits again.
func (l *Loop) sleepUntil(ctx context.Context, at time.Time) error {
	for {
		d := at.Sub(l.now())
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// NextMidnight returns the first midnight in tz strictly after now.
func NextMidnight(now time.Time, tz *time.Location) time.Time {
	local := now.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, tz)
}
