// Package report collects the counters of a migration run and renders the
// final report, both as text for the console and as JSON for the report sinks.
package report

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// SkipReason explains why an item was left untouched.
type SkipReason string

const (
	SkipResourceLink SkipReason = "resource-link"
	SkipUntargeted   SkipReason = "untargeted"
	SkipCrossAccount SkipReason = "cross-account"
	SkipIAMPrincipal SkipReason = "iam-principal"
)

// Outcome summarises a run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial" // completed, some per-item calls failed
	OutcomeFailed    Outcome = "failed"
)

// Failure is one failed service call, kept for manual remediation.
type Failure struct {
	Operation string `json:"operation"`
	Resource  string `json:"resource"`
	Principal string `json:"principal,omitempty"`
	Error     string `json:"error"`
}

// Metrics collects the counters of one run.
type Metrics struct {
	mu sync.Mutex

	databasesGranted      int64
	tablesGranted         int64
	defaultsUpdated       int64
	locationsDeregistered int64
	revoked               int64

	skipped  map[SkipReason]int64
	failures []Failure
	phases   []string

	startTime time.Time
}

// NewMetrics creates a new Metrics instance with the start time set to now
func NewMetrics() *Metrics {
	return &Metrics{
		skipped:   make(map[SkipReason]int64),
		startTime: time.Now(),
	}
}

// RecordDatabaseGranted increments the granted databases counter
func (m *Metrics) RecordDatabaseGranted() {
	atomic.AddInt64(&m.databasesGranted, 1)
}

// RecordTableGranted increments the granted tables counter
func (m *Metrics) RecordTableGranted() {
	atomic.AddInt64(&m.tablesGranted, 1)
}

// RecordDefaultsUpdated increments the rewritten database defaults counter
func (m *Metrics) RecordDefaultsUpdated() {
	atomic.AddInt64(&m.defaultsUpdated, 1)
}

// RecordDeregistered increments the deregistered locations counter
func (m *Metrics) RecordDeregistered() {
	atomic.AddInt64(&m.locationsDeregistered, 1)
}

// RecordRevoked increments the revoked grants counter
func (m *Metrics) RecordRevoked() {
	atomic.AddInt64(&m.revoked, 1)
}

// RecordSkip counts an item left untouched
func (m *Metrics) RecordSkip(reason SkipReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[reason]++
}

// RecordFailure keeps a failed call
func (m *Metrics) RecordFailure(op, resource, principal string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, Failure{
		Operation: op,
		Resource:  resource,
		Principal: principal,
		Error:     err.Error(),
	})
}

// RecordPhase marks a phase as completed
func (m *Metrics) RecordPhase(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
}

// RunInfo describes the run a report belongs to.
type RunInfo struct {
	RunID             string   `json:"runId"`
	AccountID         string   `json:"accountId"`
	TargetDatabases   []string `json:"targetDatabases,omitempty"`
	SkipErrors        bool     `json:"skipErrors"`
	ApplyGlobalConfig bool     `json:"applyGlobalConfig"`
}

// Report is the final report of a run.
type Report struct {
	RunInfo

	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Duration        time.Duration `json:"duration"`
	Outcome         Outcome       `json:"outcome"`
	Error           string        `json:"error,omitempty"`
	CompletedPhases []string      `json:"completedPhases"`

	DatabasesGranted      int64                `json:"databasesGranted"`
	TablesGranted         int64                `json:"tablesGranted"`
	DefaultsUpdated       int64                `json:"defaultsUpdated"`
	LocationsDeregistered int64                `json:"locationsDeregistered"`
	Revoked               int64                `json:"revoked"`
	Skipped               map[SkipReason]int64 `json:"skipped"`
	Failures              []Failure            `json:"failures"`
}

// GenerateReport snapshots the counters. runErr is the error that ended the
// run, if any.
func (m *Metrics) GenerateReport(info RunInfo, runErr error) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	endTime := time.Now()
	r := Report{
		RunInfo:               info,
		StartTime:             m.startTime,
		EndTime:               endTime,
		Duration:              endTime.Sub(m.startTime),
		CompletedPhases:       append([]string(nil), m.phases...),
		DatabasesGranted:      atomic.LoadInt64(&m.databasesGranted),
		TablesGranted:         atomic.LoadInt64(&m.tablesGranted),
		DefaultsUpdated:       atomic.LoadInt64(&m.defaultsUpdated),
		LocationsDeregistered: atomic.LoadInt64(&m.locationsDeregistered),
		Revoked:               atomic.LoadInt64(&m.revoked),
		Skipped:               make(map[SkipReason]int64, len(m.skipped)),
		Failures:              append([]Failure(nil), m.failures...),
	}
	for k, v := range m.skipped {
		r.Skipped[k] = v
	}

	switch {
	case runErr != nil:
		r.Outcome = OutcomeFailed
		r.Error = runErr.Error()
	case len(r.Failures) > 0:
		r.Outcome = OutcomePartial
	default:
		r.Outcome = OutcomeSucceeded
	}
	return r
}

// MarshalJSON formats the duration as a string
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String returns a human-readable summary for the console.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Migration %s in %s (run %s)\n", r.Outcome, r.Duration.Round(time.Millisecond), r.RunID)
	fmt.Fprintf(&b, "Locations deregistered: %d\n", r.LocationsDeregistered)
	fmt.Fprintf(&b, "Databases granted: %d\n", r.DatabasesGranted)
	fmt.Fprintf(&b, "Database defaults updated: %d\n", r.DefaultsUpdated)
	fmt.Fprintf(&b, "Tables granted: %d\n", r.TablesGranted)
	fmt.Fprintf(&b, "Grants revoked: %d", r.Revoked)

	reasons := make([]string, 0, len(r.Skipped))
	for k := range r.Skipped {
		reasons = append(reasons, string(k))
	}
	sort.Strings(reasons)
	for _, k := range reasons {
		fmt.Fprintf(&b, "\nSkipped (%s): %d", k, r.Skipped[SkipReason(k)])
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "\nFailures: %d", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "\n  %s %s: %s", f.Operation, f.Resource, f.Error)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", r.Error)
	}
	return b.String()
}
