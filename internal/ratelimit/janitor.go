package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often expired windows are purged
const DefaultSweepInterval = 60 * time.Second

// Janitor runs Limiter.Sweep on a fixed period
// ARCHITECTURAL DISCOVERY: The limiter itself owns no goroutines; the composition
// root decides whether and how often to sweep
type Janitor struct {
	limiter  *Limiter
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor creates a stopped janitor; interval <= 0 selects DefaultSweepInterval
func NewJanitor(limiter *Limiter, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{
		limiter:  limiter,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep. Sub-second intervals are rounded up to one second
// by the scheduler.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return ErrJanitorRunning
	}

	cl := cronLogger{l: j.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	c.Schedule(cron.Every(j.interval), cron.FuncJob(func() { j.RunOnce() }))
	c.Start()
	j.cron = c

	j.logger.Info().Dur("interval", j.interval).Msg("rate limit janitor started")
	return nil
}

// Stop unschedules the sweep and waits for an in-flight run or ctx, whichever comes first
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return ErrJanitorStopped
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	j.logger.Info().Msg("rate limit janitor stopped")
	return nil
}

// RunOnce sweeps immediately and returns the number of removed entries
func (j *Janitor) RunOnce() int {
	removed := j.limiter.Sweep()
	if removed > 0 {
		j.logger.Debug().
			Int("removed", removed).
			Int("remaining", j.limiter.Len()).
			Msg("rate limit sweep")
	}
	return removed
}

// cronLogger routes scheduler diagnostics into zerolog
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Trace().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
