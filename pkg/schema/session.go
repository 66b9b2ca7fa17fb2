package schema

import "time"

// ChartVersion is one immutable snapshot of a chart's markup plus its
// provenance. Versions are append-only: never mutated, never deleted.
// Version numbering starts at 1 and increases strictly.
type ChartVersion struct {
	Version   int           `json:"version"`
	Chart     string        `json:"chart"`
	Rationale string        `json:"rationale"`
	Source    VersionSource `json:"source"`
	Error     string        `json:"error,omitempty"`
	Status    ChartStatus   `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Chart tracks one planned visualization: its plan, its full version
// history, the repair attempts made against it, and a read pointer into
// the version list. CurrentVersion is an index into Versions and is valid
// after every mutation; switching it never deletes other versions.
type Chart struct {
	ID             string         `json:"id"`
	Plan           Plan           `json:"plan"`
	Versions       []ChartVersion `json:"versions"`
	FixAttempts    []FixAttempt   `json:"fix_attempts,omitempty"`
	CurrentVersion int            `json:"current_version"`
	Status         ChartStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Current returns the version the read pointer addresses.
func (c *Chart) Current() *ChartVersion {
	if c.CurrentVersion < 0 || c.CurrentVersion >= len(c.Versions) {
		return nil
	}
	return &c.Versions[c.CurrentVersion]
}

// Result is one planning round: a single user prompt and the charts its
// plan produced. UpdatedAt advances whenever a child chart gains a
// version or its pointer moves.
type Result struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Charts    []Chart   `json:"charts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether every chart in the result has settled.
// A result with zero charts is terminal (an empty plan completes
// immediately).
func (r *Result) Terminal() bool {
	for i := range r.Charts {
		if !r.Charts[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Session is the top-level persisted unit. Its id is allocated
// synchronously at prompt-submission time, before any model call, so
// navigation can proceed immediately and later failures stay visible.
// Revision supports optimistic-concurrency updates: it increases on
// every write, and SyncSession callers must present the revision they
// read.
type Session struct {
	ID        string        `json:"id"`
	Revision  int64         `json:"revision"`
	Results   []Result      `json:"results"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SessionSummary is the shape kept in the recent-sessions index.
type SessionSummary struct {
	ID         string        `json:"id"`
	Prompt     string        `json:"prompt"`
	Status     SessionStatus `json:"status"`
	ChartCount int           `json:"chart_count"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SessionUpdate is a partial update merged by SyncSession. Nil fields are
// left untouched.
type SessionUpdate struct {
	Results *[]Result      `json:"results,omitempty"`
	Status  *SessionStatus `json:"status,omitempty"`
}
