/*
Package core provides turn cancellation management for the codechat service.

This file implements the CancelManager, which tracks the in-flight turn of
each session so clients can stop a long-running model call or code execution
gracefully. Since turns within a session are strictly sequential, at most one
turn per session is registered at a time, and the registry is keyed by
session id. The orchestrator registers a turn only after acquiring the
session turn lock, so a request queued behind an in-flight turn never
overwrites or unregisters the running turn's entry.

The system integrates with Go's context cancellation patterns: cancelling a
turn cancels the context the model and sandbox calls run under, so both
unwind promptly.
*/
package core

import (
	"context"
	"sync"
)

// CancelManager tracks in-flight turns and provides cancellation capabilities.
// It maintains a thread-safe registry of the active turn per session with its
// associated cancellation function.
type CancelManager struct {
	turns map[string]context.CancelFunc // Map of session ID to the in-flight turn's cancel function
	mutex sync.RWMutex                  // Guards the turn registry
}

// NewCancelManager creates and initializes a new cancel manager instance.
func NewCancelManager() *CancelManager {
	return &CancelManager{
		turns: make(map[string]context.CancelFunc),
	}
}

// AddTurn registers the session's in-flight turn with its cancellation
// function. Called when a turn starts; the cancel function must stop the
// turn's model and sandbox calls.
//
// Parameters:
//   - sessionID: Session the turn belongs to
//   - cancel: Context cancellation function for the turn
func (cm *CancelManager) AddTurn(sessionID string, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.turns[sessionID] = cancel
}

// RemoveTurn removes a completed or cancelled turn from tracking.
// Called when a turn finishes, whether it succeeded, failed, or was stopped.
//
// Parameters:
//   - sessionID: Session whose turn should be removed
func (cm *CancelManager) RemoveTurn(sessionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.turns, sessionID)
}

// CancelTurn attempts to cancel the session's in-flight turn.
//
// Parameters:
//   - sessionID: Session whose turn should be cancelled
//
// Returns:
//   - bool: true if an in-flight turn was found and cancelled, false otherwise
func (cm *CancelManager) CancelTurn(sessionID string) bool {
	cm.mutex.RLock()
	cancel, exists := cm.turns[sessionID]
	cm.mutex.RUnlock()

	if exists {
		cancel()
		cm.RemoveTurn(sessionID)
		return true
	}
	return false
}

// ActiveTurns returns the session ids with a turn currently in flight.
// Used for monitoring and the status endpoint.
func (cm *CancelManager) ActiveTurns() []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	sessions := make([]string, 0, len(cm.turns))
	for id := range cm.turns {
		sessions = append(sessions, id)
	}
	return sessions
}
