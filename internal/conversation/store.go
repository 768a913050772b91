// Package conversation keeps the per-session dialogue log.
//
// Each completed pipeline turn appends two entries (user and assistant). The
// log is capped per session; the oldest entries fall off so the memory of a
// long-lived connection stays bounded. Everything is process-local — history
// does not survive a restart, and that is deliberate.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxvista/voxvista/pkg/types"
)

// DefaultLimit is the per-session entry cap.
const DefaultLimit = 50

// Entry is a single dialogue line.
type Entry struct {
	// Role is types.RoleUser or types.RoleAssistant.
	Role string

	// Content is the spoken or generated text.
	Content string

	// Timestamp is when the entry was appended.
	Timestamp time.Time

	// HadScreen reports whether a screen capture was attached to the turn.
	HadScreen bool

	// ToolUsed reports whether the tool-calling workflow produced the answer.
	ToolUsed bool

	// QualityScore is the workflow's quality assessment, zero when unused.
	QualityScore float64
}

// Store is the process-wide conversation memory, keyed by session id.
// Safe for concurrent use.
type Store struct {
	limit int

	mu       sync.Mutex
	sessions map[string][]Entry
}

// NewStore creates a Store. limit ≤ 0 uses DefaultLimit.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:    limit,
		sessions: make(map[string][]Entry),
	}
}

// Append adds one entry to a session's log, dropping the oldest entries when
// the cap is exceeded.
func (s *Store) Append(sessionID string, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.sessions[sessionID], e)
	if len(entries) > s.limit {
		entries = entries[len(entries)-s.limit:]
	}
	s.sessions[sessionID] = entries
}

// Recent returns up to n of the newest entries in chronological order.
// n ≤ 0 returns everything.
func (s *Store) Recent(sessionID string, n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sessions[sessionID]
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Clear removes a session's log entirely. Called on disconnect.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// ActiveSessions returns the ids of all sessions holding at least one entry.
func (s *Store) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// Len returns the number of entries stored for a session.
func (s *Store) Len(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[sessionID])
}

// FormatContext renders the newest n entries as a "Role: content" transcript
// block for LLM prompts. Empty when the session has no history.
func (s *Store) FormatContext(sessionID string, n int) string {
	entries := s.Recent(sessionID, n)
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		role := "User"
		if e.Role == types.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s", role, e.Content)
	}
	return b.String()
}
