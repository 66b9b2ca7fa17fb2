package store

import (
	"context"
	"time"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Store is the persistence contract for sessions, their version history
// and the per-session event log. All implementations must be safe for
// concurrent use and must uphold the data-model invariants themselves,
// not delegate them to callers:
//
//   - version numbers per chart start at 1 and increase strictly;
//     version rows are never mutated or deleted within a session's life
//   - CurrentVersion indexes a valid version after every mutation
//     (it is 0 while a chart has no versions yet)
//   - AddChartVersion moves CurrentVersion only when advance is set
//   - every mutation bumps the session revision and UpdatedAt
type Store interface {
	// CreateSession allocates an empty session under a caller-supplied id.
	// It must be cheap and local: ids are handed out before any model work.
	CreateSession(ctx context.Context, id, prompt string) error

	// LoadSession returns the full session, or SESSION_NOT_FOUND.
	LoadSession(ctx context.Context, id string) (*schema.Session, error)

	// AppendResult adds one planning round to a session. Charts may arrive
	// as placeholders without versions while their status is pending or
	// generating. Fails with SESSION_NOT_FOUND for unknown ids.
	AppendResult(ctx context.Context, sessionID string, result *schema.Result) error

	// AddChartVersion appends a version to the addressed chart and returns
	// the assigned version number. CurrentVersion moves to the new entry
	// only when advance is true; the default leaves the reader where they
	// were. Fails with CHART_NOT_FOUND when the path is invalid.
	AddChartVersion(ctx context.Context, sessionID, resultID, chartID string, v NewVersion, advance bool) (int, error)

	// AppendFixAttempt records one repair attempt's context snapshot.
	AppendFixAttempt(ctx context.Context, sessionID, resultID, chartID string, attempt schema.FixAttempt) error

	// SetCurrentVersion moves the read pointer. Fails with
	// VERSION_OUT_OF_RANGE unless 0 <= versionIndex < len(versions).
	SetCurrentVersion(ctx context.Context, sessionID, resultID, chartID string, versionIndex int) error

	// UpdateChartStatus records a pipeline state transition.
	UpdateChartStatus(ctx context.Context, sessionID, resultID, chartID string, status schema.ChartStatus) error

	// SyncSession merges a partial update. The caller presents the revision
	// it read; CONFLICT is returned when the stored revision has moved.
	SyncSession(ctx context.Context, sessionID string, revision int64, update schema.SessionUpdate) error

	// CompleteSession marks the session completed. Idempotent: the first
	// call returns true, later calls return false without touching state,
	// so completion side effects fire exactly once.
	CompleteSession(ctx context.Context, sessionID string) (bool, error)

	// ListRecentSessions returns summaries, most recently updated first.
	ListRecentSessions(ctx context.Context, limit int) ([]schema.SessionSummary, error)

	// DeleteSession discards a whole session and everything under it.
	DeleteSession(ctx context.Context, sessionID string) error

	// PruneStaleSessions deletes sessions still processing after the
	// cutoff and returns how many were removed.
	PruneStaleSessions(ctx context.Context, olderThan time.Duration) (int, error)

	// Event log (append-only, contiguous per-session sequence).
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)

	// Maintenance.
	Migrate(ctx context.Context) error

	// Lifecycle.
	Close() error
}

// NewVersion is the payload for AddChartVersion. The version number is
// assigned by the store, never by the caller.
type NewVersion struct {
	Chart     string
	Rationale string
	Source    schema.VersionSource
	Error     string
	Status    schema.ChartStatus
}
