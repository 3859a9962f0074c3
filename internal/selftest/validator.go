package selftest

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultCanaryTimeout = 5 * time.Second
	defaultGracePeriod   = 2 * time.Second

	// exitCodeUnhealthy is the process exit code in strict mode.
	exitCodeUnhealthy = 1
)

// Logger defines the logging interface used by the Validator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Validator.
type Options struct {
	// Strict makes RunAtStartup exit the process when any dependency fails.
	Strict bool

	// GracePeriod is the delay before a strict-mode exit, so logs flush.
	GracePeriod time.Duration

	// CanaryTimeout bounds the broker round trip.
	CanaryTimeout time.Duration
}

// Validator runs the dependency self-test and keeps the latest report for
// the health endpoint. Runs never overlap.
type Validator struct {
	db     SQLStore
	ts     Timeseries
	broker Broker
	opts   Options

	runMu  sync.Mutex
	mu     sync.RWMutex
	latest *Report

	logger Logger
	exit   func(code int)
}

// New creates a Validator. Pass a nil interface for a dependency that is
// not configured; it is reported as failed.
func New(db SQLStore, ts Timeseries, broker Broker, opts Options) *Validator {
	if opts.CanaryTimeout <= 0 {
		opts.CanaryTimeout = defaultCanaryTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	return &Validator{
		db:     db,
		ts:     ts,
		broker: broker,
		opts:   opts,
		logger: noopLogger{},
		exit:   os.Exit,
	}
}

// SetLogger sets the logger.
func (v *Validator) SetLogger(logger Logger) {
	v.logger = logger
}

// Run validates every dependency in parallel and stores the report. It
// returns ErrAlreadyRunning if another run is in progress.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	if !v.runMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer v.runMu.Unlock()

	report := &Report{StartedAt: time.Now().UTC()}
	results := make([]DependencyResult, 3) //nolint:mnd // database, timeseries, broker

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results[0] = checkDatabase(gctx, v.db)
		return nil
	})
	g.Go(func() error {
		results[1] = checkTimeseries(gctx, v.ts)
		return nil
	})
	g.Go(func() error {
		results[2] = checkBroker(gctx, v.broker, v.opts.CanaryTimeout)
		return nil
	})
	_ = g.Wait() //nolint:errcheck // probes record failures in their results

	report.Dependencies = results
	report.CompletedAt = time.Now().UTC()
	report.Healthy = report.Err() == nil

	v.mu.Lock()
	v.latest = report
	v.mu.Unlock()

	v.logReport(report)
	return report, nil
}

// Latest returns the most recent report, or nil before the first run.
func (v *Validator) Latest() *Report {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.latest
}

// RunAtStartup runs the self-test once. In strict mode a failed dependency
// exits the process after the grace period.
func (v *Validator) RunAtStartup(ctx context.Context) *Report {
	report, err := v.Run(ctx)
	if err != nil {
		v.logger.Warn("self-test not run", "error", err)
		return v.Latest()
	}

	if report.Healthy || !v.opts.Strict {
		return report
	}

	v.logger.Error("self-test failed in strict mode, exiting",
		"error", report.Err(),
		"grace_period", v.opts.GracePeriod,
	)

	timer := time.NewTimer(v.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	v.exit(exitCodeUnhealthy)
	return report
}

func (v *Validator) logReport(report *Report) {
	for _, dep := range report.Dependencies {
		args := []any{"dependency", dep.Name, "healthy", dep.Healthy, "duration", dep.Duration}
		for _, c := range dep.Checks {
			args = append(args, c.Name, c.Passed)
		}
		if dep.Healthy {
			v.logger.Info("self-test dependency checked", args...)
			continue
		}
		for _, c := range dep.Checks {
			if c.Error != "" {
				args = append(args, c.Name+"_error", c.Error)
			}
		}
		v.logger.Warn("self-test dependency failed", args...)
	}

	if report.Healthy {
		v.logger.Info("self-test passed, all dependencies reachable")
	} else {
		v.logger.Warn("self-test found unreachable dependencies", "error", report.Err())
	}
}
