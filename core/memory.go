/*
Package core provides session memory management for the codechat service.

This file implements a thread-safe, in-memory storage system for managing
conversation sessions. A session holds the append-only message history of one
conversation plus metadata about the files uploaded into it, and provides
conversation continuity across multiple turns.

Key components:
- Message: an immutable conversation turn record, optionally carrying the
  result of a code execution
- ChatSession: one conversation's history and uploaded-file metadata with
  thread-safe operations and a per-session turn lock
- MemoryStore: centralized session registry with automatic idle-session
  eviction

The memory system is designed for high-concurrency scenarios: sessions are
independent of each other, and within one session whole turns are serialized
so history never interleaves.
*/
package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message roles. The conversation only distinguishes the human participant
// from the assistant; execution output rides on assistant messages.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// ExecResult is the normalized outcome of a code execution attached to an
// assistant message. Exactly one shape is meaningful: a successful run fills
// Stdout (and possibly Stderr and Visualization), a failed run fills Error.
type ExecResult struct {
	Stdout        string `json:"stdout,omitempty"`        // Captured standard output
	Stderr        string `json:"stderr,omitempty"`        // Captured standard error
	Error         string `json:"error,omitempty"`         // Description of an execution failure, including timeouts
	Visualization string `json:"visualization,omitempty"` // Reference to a visual artifact produced by the run
}

// Message is one immutable conversation turn record. Messages are only ever
// appended to a session's history; corrections show up as new messages.
type Message struct {
	Role      string      `json:"role"`           // RoleHuman or RoleAssistant
	Content   string      `json:"content"`        // The message text, possibly containing fenced code blocks
	Exec      *ExecResult `json:"exec,omitempty"` // Execution outcome when this message triggered code execution
	Timestamp time.Time   `json:"timestamp"`      // When the message was created
}

// FileRef describes a file uploaded into a session. The bytes live wherever
// the storage collaborator put them; the session only tracks the metadata.
type FileRef struct {
	Name string `json:"name"` // Filename as supplied by the client
	Size int64  `json:"size"` // Size in bytes
	Path string `json:"path"` // Storage location of the bytes
}

// ChatSession represents a complete conversation session with memory persistence.
// Sessions maintain message history and uploaded-file metadata, and provide
// thread-safe access to both. The turn lock serializes whole turns so two
// concurrent requests for the same session cannot interleave their messages.
type ChatSession struct {
	ID       string             `json:"id"`       // Unique session identifier for client reference
	Messages []Message          `json:"messages"` // Ordered, append-only conversation history
	Files    map[string]FileRef `json:"files"`    // Uploaded files keyed by name, last upload wins
	Created  time.Time          `json:"created"`  // Session creation timestamp
	Updated  time.Time          `json:"updated"`  // Last activity timestamp for eviction decisions
	mutex    sync.RWMutex       // Guards Messages, Files and Updated
	turnMu   sync.Mutex         // Serializes whole turns within this session
}

// MemoryStore manages multiple chat sessions with automatic lifecycle management.
// It is the only component that creates or removes sessions; everything else
// receives a *ChatSession reference from it. Idle sessions are evicted in the
// background to bound memory growth.
type MemoryStore struct {
	sessions        map[string]*ChatSession // Map of session ID to session objects
	mutex           sync.RWMutex            // Guards the session map
	maxAge          time.Duration           // Maximum idle age before a session is evicted
	cleanupInterval time.Duration           // How frequently to run eviction
	logger          *logrus.Logger          // Structured logger for operational monitoring
}

// NewMemoryStore creates and initializes a new memory store with automatic cleanup.
// The store begins evicting expired sessions immediately upon creation.
//
// Parameters:
//   - maxAge: Duration after which inactive sessions become eligible for eviction
//   - cleanupInterval: How often to run the eviction process
//   - logger: Logger instance for operational monitoring
//
// Returns:
//   - *MemoryStore: Configured memory store ready for use
func NewMemoryStore(maxAge time.Duration, cleanupInterval time.Duration, logger *logrus.Logger) *MemoryStore {
	store := &MemoryStore{
		sessions:        make(map[string]*ChatSession),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		logger:          logger,
	}

	go store.cleanupExpiredSessions()

	return store
}

// generateSessionID creates a cryptographically secure unique session identifier.
// Uses crypto/rand when available, falls back to a timestamp-based ID if random
// generation fails to ensure reliable operation.
func generateSessionID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("session_%d", time.Now().UnixNano())
	}
	return "session_" + hex.EncodeToString(bytes)
}

// GetOrCreateSession retrieves an existing session or creates a new one.
// Session ids are opaque, client-supplied tokens; an empty id mints a fresh
// server-side one. This method never fails: the caller always receives a
// valid session.
//
// Parameters:
//   - sessionID: Existing session ID, or empty string to create a new session
//
// Returns:
//   - *ChatSession: Valid session object (existing or newly created)
func (m *MemoryStore) GetOrCreateSession(sessionID string) *ChatSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if sessionID == "" {
		sessionID = generateSessionID()
	}

	session, exists := m.sessions[sessionID]
	if !exists {
		session = &ChatSession{
			ID:       sessionID,
			Messages: make([]Message, 0),
			Files:    make(map[string]FileRef),
			Created:  time.Now(),
			Updated:  time.Now(),
		}
		m.sessions[sessionID] = session
		m.logger.WithField("sessionID", sessionID).Info("Created new chat session")
	} else {
		session.touch()
	}

	return session
}

// GetSession retrieves an existing session without creating a new one.
//
// Parameters:
//   - sessionID: The session identifier to retrieve
//
// Returns:
//   - *ChatSession: The session object if found
//   - bool: Whether the session exists
func (m *MemoryStore) GetSession(sessionID string) (*ChatSession, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	session, exists := m.sessions[sessionID]
	if exists {
		session.touch()
	}
	return session, exists
}

// ResetSession clears the history and uploaded-file metadata of a session.
// Resetting is idempotent, and resetting an id that was never seen is a no-op
// success: the session simply starts out empty on its next use.
//
// Parameters:
//   - sessionID: The session identifier to reset
func (m *MemoryStore) ResetSession(sessionID string) {
	session := m.GetOrCreateSession(sessionID)
	cleared := session.Clear()

	m.logger.WithFields(logrus.Fields{
		"sessionID":       sessionID,
		"clearedMessages": cleared,
	}).Info("Session reset")
}

// RegisterUpload records uploaded-file metadata on a session, creating the
// session if necessary. An upload with a name already registered replaces the
// previous entry. The store never touches the file bytes; moving and
// validating them is the storage collaborator's job.
//
// Parameters:
//   - sessionID: The session the upload belongs to
//   - ref: Metadata of the stored file
func (m *MemoryStore) RegisterUpload(sessionID string, ref FileRef) {
	session := m.GetOrCreateSession(sessionID)
	session.RegisterFile(ref)

	m.logger.WithFields(logrus.Fields{
		"sessionID": sessionID,
		"fileName":  ref.Name,
		"fileSize":  ref.Size,
	}).Info("Registered uploaded file")
}

// DeleteSession removes a session from the store by ID.
//
// Parameters:
//   - sessionID: The session identifier to delete
//
// Returns:
//   - bool: Whether the session existed and was deleted
func (m *MemoryStore) DeleteSession(sessionID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
		m.logger.WithField("sessionID", sessionID).Info("Session deleted")
	}
	return exists
}

// GetAllSessions returns a snapshot of all current sessions.
// Primarily used for administrative monitoring; the returned slice is a copy
// to prevent external modification of the registry.
func (m *MemoryStore) GetAllSessions() []*ChatSession {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	sessions := make([]*ChatSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// GetSessionStats returns operational statistics about stored sessions.
func (m *MemoryStore) GetSessionStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	totalMessages := 0
	for _, session := range m.sessions {
		totalMessages += session.MessageCount()
	}

	return map[string]interface{}{
		"totalSessions": len(m.sessions),
		"totalMessages": totalMessages,
	}
}

// cleanupExpiredSessions runs as a background goroutine removing idle sessions.
// Sessions inactive for longer than the configured maximum age are evicted to
// bound memory growth of the process-wide registry.
func (m *MemoryStore) cleanupExpiredSessions() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mutex.Lock()
		now := time.Now()
		expired := make([]string, 0)

		for id, session := range m.sessions {
			if now.Sub(session.lastUpdated()) > m.maxAge {
				expired = append(expired, id)
			}
		}

		for _, id := range expired {
			delete(m.sessions, id)
		}

		if len(expired) > 0 {
			m.logger.WithFields(logrus.Fields{
				"expiredSessions":   len(expired),
				"remainingSessions": len(m.sessions),
				"cleanupInterval":   m.cleanupInterval,
			}).Info("Cleaned up expired chat sessions")
		}

		m.mutex.Unlock()
	}
}

// BeginTurn acquires the session's turn lock. A second turn arriving for the
// same session blocks here until the in-flight turn completes, preserving the
// append-only, non-interleaved ordering of history. Turns on other sessions
// are unaffected.
func (s *ChatSession) BeginTurn() {
	s.turnMu.Lock()
}

// EndTurn releases the session's turn lock.
func (s *ChatSession) EndTurn() {
	s.turnMu.Unlock()
}

// AppendMessage appends a message to the session's history.
// The message is stamped with the current time if it carries none. This is
// the only mutation history supports; existing messages are never changed.
//
// Parameters:
//   - msg: The message to append
func (s *ChatSession) AppendMessage(msg Message) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
}

// RecentMessages returns a copy of the most recent messages up to limit.
// Essential for keeping the model context bounded without losing the tail of
// the conversation.
//
// Parameters:
//   - limit: Maximum number of recent messages to return
//
// Returns:
//   - []Message: Recent messages in chronological order
func (s *ChatSession) RecentMessages(limit int) []Message {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	start := 0
	if limit > 0 && len(s.Messages) > limit {
		start = len(s.Messages) - limit
	}
	out := make([]Message, len(s.Messages)-start)
	copy(out, s.Messages[start:])
	return out
}

// MessageCount returns the current history length.
func (s *ChatSession) MessageCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.Messages)
}

// TruncateTo discards messages appended after length n. Used by the
// orchestrator to roll history back to the start of a failed turn.
func (s *ChatSession) TruncateTo(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if n >= 0 && n < len(s.Messages) {
		s.Messages = s.Messages[:n]
	}
}

// Clear removes all messages and uploaded-file metadata from the session,
// keeping the session identity. Returns the number of cleared messages.
func (s *ChatSession) Clear() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	messageCount := len(s.Messages)
	s.Messages = make([]Message, 0)
	s.Files = make(map[string]FileRef)
	s.Updated = time.Now()
	return messageCount
}

// RegisterFile records uploaded-file metadata, replacing any previous file of
// the same name.
func (s *ChatSession) RegisterFile(ref FileRef) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Files[ref.Name] = ref
	s.Updated = time.Now()
}

// FileList returns the session's uploaded-file metadata sorted by name so
// prompt construction stays deterministic.
func (s *ChatSession) FileList() []FileRef {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files := make([]FileRef, 0, len(s.Files))
	for _, ref := range s.Files {
		files = append(files, ref)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

// Snapshot returns a consistent copy of the session for read-only consumers
// such as the session inspection endpoint.
func (s *ChatSession) Snapshot() (messages []Message, files []FileRef, created, updated time.Time) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	messages = make([]Message, len(s.Messages))
	copy(messages, s.Messages)
	files = make([]FileRef, 0, len(s.Files))
	for _, ref := range s.Files {
		files = append(files, ref)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return messages, files, s.Created, s.Updated
}

func (s *ChatSession) touch() {
	s.mutex.Lock()
	s.Updated = time.Now()
	s.mutex.Unlock()
}

func (s *ChatSession) lastUpdated() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Updated
}
