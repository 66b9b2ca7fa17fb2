package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/chartforge/chartforge/pkg/schema"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// serves as the reference semantics for LibSQLStore. Sessions are deep
// copied at the boundary so callers can never alias internal state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*schema.Session
	events   map[string][]*Event

	// prompts keeps the submission prompt for summaries; once planning
	// lands the prompt belongs to the Result and this entry is shadowed.
	prompts map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*schema.Session),
		events:   make(map[string][]*Event),
		prompts:  make(map[string]string),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) CreateSession(ctx context.Context, id, prompt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "session %s already exists", id)
	}
	now := time.Now().UTC()
	s.sessions[id] = &schema.Session{
		ID:        id,
		Revision:  1,
		Status:    schema.SessionStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.prompts[id] = prompt
	return nil
}

func (s *MemoryStore) LoadSession(ctx context.Context, id string) (*schema.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, storeNotFound("session", id)
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) AppendResult(ctx context.Context, sessionID string, result *schema.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return storeNotFound("session", sessionID)
	}
	if err := validateNewResult(result); err != nil {
		return err
	}

	sess.Results = append(sess.Results, *cloneResult(result))
	s.touch(sess)
	return nil
}

func (s *MemoryStore) AddChartVersion(ctx context.Context, sessionID, resultID, chartID string, v NewVersion, advance bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, storeNotFound("session", sessionID)
	}
	version, err := applyAddVersion(sess, resultID, chartID, v, advance)
	if err != nil {
		return 0, err
	}
	s.touch(sess)
	return version, nil
}

func (s *MemoryStore) AppendFixAttempt(ctx context.Context, sessionID, resultID, chartID string, attempt schema.FixAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return storeNotFound("session", sessionID)
	}
	if err := applyFixAttempt(sess, resultID, chartID, attempt); err != nil {
		return err
	}
	s.touch(sess)
	return nil
}

func (s *MemoryStore) SetCurrentVersion(ctx context.Context, sessionID, resultID, chartID string, versionIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return storeNotFound("session", sessionID)
	}
	if err := applySetCurrentVersion(sess, resultID, chartID, versionIndex); err != nil {
		return err
	}
	s.touch(sess)
	return nil
}

func (s *MemoryStore) UpdateChartStatus(ctx context.Context, sessionID, resultID, chartID string, status schema.ChartStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return storeNotFound("session", sessionID)
	}
	if err := applyChartStatus(sess, resultID, chartID, status); err != nil {
		return err
	}
	s.touch(sess)
	return nil
}

func (s *MemoryStore) SyncSession(ctx context.Context, sessionID string, revision int64, update schema.SessionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return storeNotFound("session", sessionID)
	}
	if sess.Revision != revision {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"session %s is at revision %d, update was built against %d", sessionID, sess.Revision, revision)
	}
	if update.Results != nil {
		results := make([]schema.Result, 0, len(*update.Results))
		for i := range *update.Results {
			results = append(results, *cloneResult(&(*update.Results)[i]))
		}
		sess.Results = results
	}
	if update.Status != nil {
		sess.Status = *update.Status
	}
	s.touch(sess)
	return nil
}

func (s *MemoryStore) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, storeNotFound("session", sessionID)
	}
	if sess.Status == schema.SessionStatusCompleted {
		return false, nil
	}
	sess.Status = schema.SessionStatusCompleted
	s.touch(sess)
	return true, nil
}

func (s *MemoryStore) ListRecentSessions(ctx context.Context, limit int) ([]schema.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]schema.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		summaries = append(summaries, schema.SessionSummary{
			ID:         sess.ID,
			Prompt:     s.sessionPrompt(sess),
			Status:     sess.Status,
			ChartCount: countCharts(sess),
			CreatedAt:  sess.CreatedAt,
			UpdatedAt:  sess.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return storeNotFound("session", sessionID)
	}
	delete(s.sessions, sessionID)
	delete(s.events, sessionID)
	delete(s.prompts, sessionID)
	return nil
}

func (s *MemoryStore) PruneStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	pruned := 0
	for id, sess := range s.sessions {
		if sess.Status == schema.SessionStatusProcessing && sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.events, id)
			delete(s.prompts, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[event.SessionID]
	event.Sequence = int64(len(events)) + 1
	event.ID = event.Sequence
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events[event.SessionID] = append(events, event)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, e := range s.events[sessionID] {
		if e.Sequence > since {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

// --- helpers ---

func (s *MemoryStore) touch(sess *schema.Session) {
	sess.Revision++
	sess.UpdatedAt = time.Now().UTC()
}

func (s *MemoryStore) sessionPrompt(sess *schema.Session) string {
	if len(sess.Results) > 0 {
		return sess.Results[0].Prompt
	}
	return s.prompts[sess.ID]
}

// cloneSession deep-copies via JSON round trip; session shapes are plain
// data and the copy cost is irrelevant next to a model call.
func cloneSession(sess *schema.Session) *schema.Session {
	data, _ := json.Marshal(sess)
	var out schema.Session
	_ = json.Unmarshal(data, &out)
	return &out
}

func cloneResult(r *schema.Result) *schema.Result {
	data, _ := json.Marshal(r)
	var out schema.Result
	_ = json.Unmarshal(data, &out)
	return &out
}
