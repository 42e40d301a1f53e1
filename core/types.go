/*
Package core contains the request/response types for the codechat HTTP API.

These types are the contract between client and server. Conversation turns go
through ChatRequest/ChatResponse; the remaining types cover session clearing,
file registration, and turn cancellation.

Message views use "human"/"ai" type tags and attach execution output under
"enhanced_output", which is the shape the display layer consumes.
*/
package core

// ChatRequest represents an incoming turn request from a client.
type ChatRequest struct {
	Message   string `json:"message"`             // The user's prompt for this turn
	SessionID string `json:"sessionId,omitempty"` // Optional session ID for conversation continuity
}

// ChatResponse is the completed turn: the session id (minted server-side when
// the request carried none) and the messages this turn appended.
type ChatResponse struct {
	SessionID string        `json:"sessionId"` // Session ID for maintaining conversation context
	Messages  []MessageView `json:"messages"`  // The turn's newly appended messages
}

// MessageView is the client-facing shape of one conversation message.
type MessageView struct {
	Type           string      `json:"type"`                      // "human" or "ai"
	Content        string      `json:"content"`                   // Message text
	EnhancedOutput *ExecResult `json:"enhanced_output,omitempty"` // Execution output when the message carries one
}

// ClearResponse confirms a session reset.
type ClearResponse struct {
	Success bool `json:"success"`
}

// UploadedFileView reports one stored upload back to the client.
type UploadedFileView struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// UploadResponse reports the files actually stored by a registration request.
// Registration is best-effort: Files lists what succeeded, and Success is
// false only when nothing could be stored.
type UploadResponse struct {
	Success bool               `json:"success"`
	Files   []UploadedFileView `json:"files"`
}

// StopRequest asks the server to cancel the session's in-flight turn.
type StopRequest struct {
	SessionID string `json:"sessionId"` // Session whose turn should be cancelled
}

// StopResponse reports the outcome of a stop request.
type StopResponse struct {
	Success bool   `json:"success"` // Whether the request was processed
	Message string `json:"message"` // Human-readable result description
	Stopped bool   `json:"stopped"` // Whether a turn was actually cancelled
}

// messageView converts a stored message to its client-facing shape.
func messageView(msg Message) MessageView {
	viewType := "human"
	if msg.Role == RoleAssistant {
		viewType = "ai"
	}
	return MessageView{
		Type:           viewType,
		Content:        msg.Content,
		EnhancedOutput: msg.Exec,
	}
}

// messageViews converts a message slice to client-facing views.
func messageViews(msgs []Message) []MessageView {
	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, messageView(msg))
	}
	return views
}
