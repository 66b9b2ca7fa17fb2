package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/chartforge/chartforge/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded
// SQLite fork). The session's results tree is persisted as one JSON
// document per row; every mutation is a read-modify-write transaction
// guarded by the stored revision, so concurrent writers surface as
// CONFLICT instead of silently interleaving.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum reclaims space after retention pruning.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, id, prompt string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, prompt, status, revision, results, created_at, updated_at)
		 VALUES (?, ?, ?, 1, '[]', ?, ?)`,
		id, prompt, string(schema.SessionStatusProcessing), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "session %s already exists", id)
		}
		return wrapStoreErr("create session", err)
	}
	return nil
}

func (s *LibSQLStore) LoadSession(ctx context.Context, id string) (*schema.Session, error) {
	sess, err := s.loadSessionRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *LibSQLStore) loadSessionRow(ctx context.Context, q querier, id string) (*schema.Session, error) {
	sess := &schema.Session{ID: id}
	var status, resultsJSON string
	err := q.QueryRowContext(ctx,
		`SELECT status, revision, results, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&status, &sess.Revision, &resultsJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, wrapStoreErr("load session", err)
	}
	sess.Status = schema.SessionStatus(status)
	if err := json.Unmarshal([]byte(resultsJSON), &sess.Results); err != nil {
		return nil, wrapStoreErr("unmarshal results", err)
	}
	return sess, nil
}

// mutateSession runs fn against the current session document inside a
// transaction and writes it back with revision+1. The UPDATE is guarded
// by the revision read at the top of the transaction.
func (s *LibSQLStore) mutateSession(ctx context.Context, id string, fn func(*schema.Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin tx", err)
	}
	defer tx.Rollback()

	sess, err := s.loadSessionRow(ctx, tx, id)
	if err != nil {
		return err
	}
	readRevision := sess.Revision

	if err := fn(sess); err != nil {
		return err
	}

	resultsJSON, err := json.Marshal(sess.Results)
	if err != nil {
		return wrapStoreErr("marshal results", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, revision = revision + 1, results = ?, updated_at = ?
		 WHERE id = ? AND revision = ?`,
		string(sess.Status), string(resultsJSON), time.Now().UTC(), id, readRevision,
	)
	if err != nil {
		return wrapStoreErr("write session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("write session", err)
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "session %s changed concurrently", id)
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit session", err)
	}
	return nil
}

func (s *LibSQLStore) AppendResult(ctx context.Context, sessionID string, result *schema.Result) error {
	return s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		if err := validateNewResult(result); err != nil {
			return err
		}
		sess.Results = append(sess.Results, *result)
		return nil
	})
}

func (s *LibSQLStore) AddChartVersion(ctx context.Context, sessionID, resultID, chartID string, v NewVersion, advance bool) (int, error) {
	var version int
	err := s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		var err error
		version, err = applyAddVersion(sess, resultID, chartID, v, advance)
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *LibSQLStore) AppendFixAttempt(ctx context.Context, sessionID, resultID, chartID string, attempt schema.FixAttempt) error {
	return s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		return applyFixAttempt(sess, resultID, chartID, attempt)
	})
}

func (s *LibSQLStore) SetCurrentVersion(ctx context.Context, sessionID, resultID, chartID string, versionIndex int) error {
	return s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		return applySetCurrentVersion(sess, resultID, chartID, versionIndex)
	})
}

func (s *LibSQLStore) UpdateChartStatus(ctx context.Context, sessionID, resultID, chartID string, status schema.ChartStatus) error {
	return s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		return applyChartStatus(sess, resultID, chartID, status)
	})
}

func (s *LibSQLStore) SyncSession(ctx context.Context, sessionID string, revision int64, update schema.SessionUpdate) error {
	return s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		if sess.Revision != revision {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"session %s is at revision %d, update was built against %d", sessionID, sess.Revision, revision)
		}
		if update.Results != nil {
			sess.Results = *update.Results
		}
		if update.Status != nil {
			sess.Status = *update.Status
		}
		return nil
	})
}

func (s *LibSQLStore) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	completed := false
	err := s.mutateSession(ctx, sessionID, func(sess *schema.Session) error {
		if sess.Status == schema.SessionStatusCompleted {
			return nil
		}
		sess.Status = schema.SessionStatusCompleted
		completed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return completed, nil
}

func (s *LibSQLStore) ListRecentSessions(ctx context.Context, limit int) ([]schema.SessionSummary, error) {
	query := `SELECT id, prompt, status, results, created_at, updated_at FROM sessions ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapStoreErr("list sessions", err)
	}
	defer rows.Close()

	summaries := make([]schema.SessionSummary, 0)
	for rows.Next() {
		var sum schema.SessionSummary
		var status, resultsJSON string
		if err := rows.Scan(&sum.ID, &sum.Prompt, &status, &resultsJSON, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, wrapStoreErr("scan session", err)
		}
		sum.Status = schema.SessionStatus(status)
		var results []schema.Result
		if err := json.Unmarshal([]byte(resultsJSON), &results); err != nil {
			return nil, wrapStoreErr("unmarshal results", err)
		}
		if len(results) > 0 {
			sum.Prompt = results[0].Prompt
		}
		sum.ChartCount = countCharts(&schema.Session{Results: results})
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *LibSQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return wrapStoreErr("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("delete session", err)
	}
	if n == 0 {
		return storeNotFound("session", sessionID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return wrapStoreErr("delete events", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) PruneStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStoreErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE session_id IN
		 (SELECT id FROM sessions WHERE status = ? AND updated_at < ?)`,
		string(schema.SessionStatusProcessing), cutoff,
	); err != nil {
		return 0, wrapStoreErr("prune events", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = ? AND updated_at < ?`,
		string(schema.SessionStatusProcessing), cutoff,
	)
	if err != nil {
		return 0, wrapStoreErr("prune sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr("prune sessions", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapStoreErr("commit prune", err)
	}
	return int(n), nil
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin tx", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE session_id = ?`, event.SessionID,
	).Scan(&seq)
	if err != nil {
		return wrapStoreErr("next sequence", err)
	}
	event.Sequence = seq

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, chart_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID, nullStr(event.ChartID), event.Type, nullRaw(event.Payload), ts, seq,
	)
	if err != nil {
		return wrapStoreErr("insert event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit event", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, chart_id, event_type, payload, timestamp, sequence
		 FROM events WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`,
		sessionID, since,
	)
	if err != nil {
		return nil, wrapStoreErr("query events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var chartID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &chartID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, wrapStoreErr("scan event", err)
		}
		e.ChartID = chartID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func wrapStoreErr(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s", op).WithCause(err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
