// Package store persists the run log: one entry per processed unit of work
// (a district/origin table, a category within it, or an aggregated layer).
package store

import (
	"context"
	"time"
)

// Stage names the pipeline stage an entry belongs to.
type Stage string

// Pipeline stages.
const (
	StageAccess    Stage = "access"
	StageAggregate Stage = "aggregate"
)

// Status is the lifecycle state of an entry.
type Status string

// Entry states.
const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// RunEntry is one row of the run log. Category is empty for whole-table
// entries; District and Origin are empty for aggregation entries.
type RunEntry struct {
	ID         string     `json:"id" yaml:"id"`
	Stage      Stage      `json:"stage" yaml:"stage"`
	District   string     `json:"district,omitempty" yaml:"district,omitempty"`
	Origin     string     `json:"origin,omitempty" yaml:"origin,omitempty"`
	Category   string     `json:"category,omitempty" yaml:"category,omitempty"`
	Status     Status     `json:"status" yaml:"status"`
	Rows       int64      `json:"rows" yaml:"rows"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// RunFilter specifies criteria for listing entries.
type RunFilter struct {
	Stage    Stage  `json:"stage,omitempty"`
	Status   Status `json:"status,omitempty"`
	District string `json:"district,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Recorder writes run log entries.
type Recorder interface {
	// Start inserts a running entry and returns its id. A zero StartedAt is
	// set to the current time.
	Start(ctx context.Context, e RunEntry) (string, error)
	Complete(ctx context.Context, id string, rows int64) error
	Fail(ctx context.Context, id string, msg string) error
}

// RunStore is a queryable run log.
type RunStore interface {
	Recorder
	List(ctx context.Context, filter RunFilter) ([]RunEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Discard is a Recorder that keeps nothing.
type Discard struct{}

// Start implements Recorder.
func (Discard) Start(context.Context, RunEntry) (string, error) { return "", nil }

// Complete implements Recorder.
func (Discard) Complete(context.Context, string, int64) error { return nil }

// Fail implements Recorder.
func (Discard) Fail(context.Context, string, string) error { return nil }

const defaultListLimit = 100
