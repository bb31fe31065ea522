// Package store records fetch runs.
package store

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a fetch run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSample marks a run that fell back to the synthetic dataset.
	RunStatusSample RunStatus = "sample"
)

// FetchRun is one invocation of the fetch command.
type FetchRun struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Where      string     `json:"where"`
	PageSize   int        `json:"page_size"`
	Pages      int        `json:"pages"`
	Features   int        `json:"features"`
	Skipped    int        `json:"skipped"`
	OutputFile string     `json:"output_file"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunResult is what a finished run produced.
type RunResult struct {
	Status     RunStatus
	Source     string
	Pages      int
	Features   int
	Skipped    int
	OutputFile string
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for the fetch run log.
type Store interface {
	CreateRun(ctx context.Context, source, where string, pageSize int) (*FetchRun, error)
	FinishRun(ctx context.Context, runID string, res RunResult) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*FetchRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]FetchRun, error)

	Migrate(ctx context.Context) error
	Close() error
}
