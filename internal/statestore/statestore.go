package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/daimoniac/depgate/internal/types"
)

// ErrRunNotFound is returned by GetLastRun when no run has been recorded for
// the given project. This is a normal condition on the first gate run.
// Callers should use errors.Is() to check for this specific error.
var ErrRunNotFound = errors.New("run not found")

// StateStore defines the interface for persisting and querying gate runs
type StateStore interface {
	// RecordRun saves a gate run with its actionable and excepted findings
	RecordRun(ctx context.Context, record *RunRecord) error

	// GetLastRun retrieves the most recent run for a project with findings
	GetLastRun(ctx context.Context, project string) (*RunRecord, error)

	// ListRuns returns run records, newest first, without findings
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// CleanupExcessRuns keeps only the most recent runs for a project
	CleanupExcessRuns(ctx context.Context, project string, maxRunsToKeep int) error

	// Ping verifies the database is reachable
	Ping(ctx context.Context) error

	Close() error
}

// RunRecord represents one gate run
type RunRecord struct {
	ID             int64
	Project        string
	ExceptionsFile string
	ReportPath     string
	RunAt          time.Time
	DurationMs     int64

	CriticalCount int
	HighCount     int
	OtherCount    int
	ExceptedCount int

	ExpiredRules        int
	ReviewRequiredRules int

	Passed       bool
	Reason       string
	ErrorMessage string

	Actionable []types.FindingRecord
	Excepted   []types.ExceptedFindingRecord
}

// RunFilter defines criteria for listing runs
type RunFilter struct {
	Project string
	Passed  *bool
	Limit   int
	Offset  int
}
