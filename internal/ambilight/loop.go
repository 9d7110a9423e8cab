package ambilight

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scheerer/ambilamp/internal/lights"
	"github.com/scheerer/ambilamp/internal/logging"
	"github.com/scheerer/ambilamp/internal/screen"
	"github.com/scheerer/ambilamp/internal/settings"
)

var logger = logging.New("ambilight")

const (
	DefaultMaxErrors  = 5
	DefaultCooldown   = 10 * time.Second
	DefaultCrashPause = 5 * time.Second
)

type Sampler interface {
	Sample(monitor int) screen.Frame
}

// Reporter receives the outcome of every tick.
type Reporter interface {
	Report(Status)
}

type Options struct {
	// MaxErrors consecutive transient failures trigger a Cooldown pause.
	MaxErrors  int
	Cooldown   time.Duration
	CrashPause time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxErrors <= 0 {
		o.MaxErrors = DefaultMaxErrors
	}
	if o.Cooldown < 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.CrashPause < 0 {
		o.CrashPause = DefaultCrashPause
	}
	return o
}

// Loop samples the screen and drives the lamp until its context is done.
// A Loop must not be run by more than one goroutine at a time; Controller
// enforces that.
type Loop struct {
	sampler  Sampler
	client   lights.Client
	store    *settings.Store
	opts     Options
	reporter Reporter

	sleep   func(ctx context.Context, d time.Duration) bool
	overrun rate.Sometimes
}

func NewLoop(sampler Sampler, client lights.Client, store *settings.Store, opts Options) *Loop {
	return &Loop{
		sampler: sampler,
		client:  client,
		store:   store,
		opts:    opts.withDefaults(),
		sleep:   sleepContext,
		overrun: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Run blocks until ctx is done. Cancellation is observed at the top of every
// tick and during pauses; a send already in flight runs to completion.
func (l *Loop) Run(ctx context.Context) {
	logger.Info("Ambilight loop started")
	defer logger.Info("Ambilight loop stopped")

	consecutiveErrors := 0
	for ctx.Err() == nil {
		startTime := time.Now()

		status, err := l.safeTick(ctx)
		if status.Panicked {
			status.ConsecutiveErrors = consecutiveErrors
			l.report(status)
			if !l.sleep(ctx, l.opts.CrashPause) {
				return
			}
			continue
		}

		switch {
		case err == nil:
			consecutiveErrors = 0
		case lights.IsFatal(err):
			logger.With(zap.Error(err), zap.Object("command", status.Command)).Error("Lamp rejected command")
		default:
			consecutiveErrors++
			logger.With(zap.Error(err), zap.Int("consecutiveErrors", consecutiveErrors)).Error("Failed to reach lamp")
		}
		status.ConsecutiveErrors = consecutiveErrors

		if consecutiveErrors >= l.opts.MaxErrors {
			logger.With(zap.Int("consecutiveErrors", consecutiveErrors), zap.Stringer("cooldown", l.opts.Cooldown)).
				Error("Too many consecutive errors, cooling down")
			status.CoolingDown = true
			l.report(status)
			slept := l.sleep(ctx, l.opts.Cooldown)
			consecutiveErrors = 0
			if !slept {
				return
			}
		} else {
			l.report(status)
		}

		interval := l.store.Snapshot().UpdateInterval
		if took := time.Since(startTime); took > interval {
			l.overrun.Do(func() {
				logger.With(zap.Stringer("tickDuration", took), zap.Stringer("updateInterval", interval)).
					Warn("Tick took longer than UPDATE_INTERVAL. The lamp updates less often than configured.")
			})
		}
		if !l.sleep(ctx, interval) {
			return
		}
	}
}

// safeTick runs one tick and turns a panic into a reported failure so the
// loop keeps going.
func (l *Loop) safeTick(ctx context.Context) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.With(zap.Any("panic", r), zap.Stack("stack")).Error("Unexpected failure in ambilight loop")
			status = Status{Time: time.Now(), Error: fmt.Sprint(r), Panicked: true}
			err = nil
		}
	}()
	return l.tick(ctx)
}

func (l *Loop) tick(ctx context.Context) (Status, error) {
	s := l.store.Snapshot()
	frame := l.sampler.Sample(s.MonitorIndex)

	value, known := l.store.LastBrightness()
	cmd := lights.Build(frame, s, lights.LastBrightness{Value: value, Known: known})

	status := Status{Time: time.Now(), Frame: frame, Command: cmd}

	// Stop must not cut a send short; the client bounds it with its own timeout.
	err := l.client.Send(context.WithoutCancel(ctx), cmd)
	if err != nil {
		status.Error = err.Error()
		return status, err
	}

	l.store.SetLastBrightness(cmd.AppliedBrightness())
	if cmd.IsPowerOff() {
		logger.With(zap.Int("brightness", frame.Brightness)).Debug("Lamp switched off (too dark)")
	} else {
		logger.With(zap.Object("command", cmd)).Debug("Lamp updated")
	}
	return status, nil
}

func (l *Loop) report(status Status) {
	if l.reporter != nil {
		l.reporter.Report(status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
