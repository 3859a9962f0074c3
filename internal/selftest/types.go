package selftest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dependency names as they appear in the report.
const (
	DependencyDatabase   = "database"
	DependencyTimeseries = "timeseries"
	DependencyBroker     = "broker"
)

// Sub-check names.
const (
	CheckConnect     = "connect"
	CheckConfigured  = "configured"
	CheckCreateTable = "create_table"
	CheckWrite       = "write"
	CheckRead        = "read"
	CheckDropTable   = "drop_table"
	CheckPing        = "ping"
	CheckSubscribe   = "subscribe"
	CheckPublish     = "publish"
	CheckReceive     = "receive"
	CheckUnsubscribe = "unsubscribe"
)

var (
	// ErrDependencyUnreachable is returned by Report.Err when any dependency
	// failed validation.
	ErrDependencyUnreachable = errors.New("selftest: dependency unreachable")

	// ErrAlreadyRunning is returned when a run is requested while one is in progress.
	ErrAlreadyRunning = errors.New("selftest: already running")
)

// Check is the outcome of one sub-check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// DependencyResult aggregates the sub-checks of one dependency. Healthy is
// true only when every sub-check passed.
type DependencyResult struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Checks   []Check       `json:"checks"`
	Duration time.Duration `json:"durationNs"`
}

// Report is the outcome of one self-test run.
type Report struct {
	StartedAt    time.Time          `json:"startedAt"`
	CompletedAt  time.Time          `json:"completedAt"`
	Healthy      bool               `json:"healthy"`
	Dependencies []DependencyResult `json:"dependencies"`
}

// Dependency returns the named result, or false if it is not in the report.
func (r *Report) Dependency(name string) (DependencyResult, bool) {
	for _, d := range r.Dependencies {
		if d.Name == name {
			return d, true
		}
	}
	return DependencyResult{}, false
}

// Err returns ErrDependencyUnreachable naming the failed dependencies, or nil.
func (r *Report) Err() error {
	var failed []string
	for _, d := range r.Dependencies {
		if !d.Healthy {
			failed = append(failed, d.Name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDependencyUnreachable, strings.Join(failed, ", "))
}

// result builds a DependencyResult step by step.
type result struct {
	dep     DependencyResult
	started time.Time
}

func newResult(name string) *result {
	return &result{dep: DependencyResult{Name: name}, started: time.Now()}
}

// record appends a sub-check and reports whether it passed.
func (r *result) record(name string, err error) bool {
	c := Check{Name: name, Passed: err == nil}
	if err != nil {
		c.Error = err.Error()
	}
	r.dep.Checks = append(r.dep.Checks, c)
	return err == nil
}

// skip marks the remaining sub-checks failed after an earlier step failed.
func (r *result) skip(names ...string) {
	for _, n := range names {
		r.dep.Checks = append(r.dep.Checks, Check{Name: n, Error: "skipped"})
	}
}

func (r *result) finish() DependencyResult {
	r.dep.Healthy = len(r.dep.Checks) > 0
	for _, c := range r.dep.Checks {
		if !c.Passed {
			r.dep.Healthy = false
		}
	}
	r.dep.Duration = time.Since(r.started)
	return r.dep
}
