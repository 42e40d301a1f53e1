/*
Package sandbox provides isolated code execution backends for the codechat service.

This file defines the contract between the conversation core and the execution
backend. A Runner accepts a code payload together with any files the session
has uploaded, executes it in isolation, and reports the outcome in a normalized
Execution record.

Two implementations are provided:
- LocalRunner: runs the code with a local Python interpreter in a throwaway
  working directory (see local.go)
- HTTPRunner: forwards the code to a remote sandbox service (see http.go)

Errors returned by Run are transport-level failures (the backend could not be
reached or could not start the execution). Failures of the submitted code
itself are not Go errors; they are reported in Execution.Error so the caller
can show them to the user.
*/
package sandbox

import "context"

// FileRef identifies an uploaded file that should be visible to the executed
// code. Name is the filename the code may reference; Path is where the bytes
// live on the serving host.
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Request describes one code execution.
type Request struct {
	Code  string    `json:"code"`            // Source code to execute
	Files []FileRef `json:"files,omitempty"` // Session uploads made available in the working directory
}

// Artifact is a file produced by an execution, typically a rendered plot.
type Artifact struct {
	ID   string `json:"id"`   // Unique artifact identifier
	Name string `json:"name"` // Original filename as written by the code
	Path string `json:"path"` // Location of the artifact on the serving host
}

// Execution is the normalized outcome of one sandbox run.
// Exactly one of the two shapes is populated: a successful run carries Stdout
// (and possibly Stderr and Artifacts), a failed run carries Error describing
// what the code did wrong.
type Execution struct {
	Stdout    string     `json:"stdout,omitempty"`
	Stderr    string     `json:"stderr,omitempty"`
	ExitCode  int        `json:"exitCode"`
	Error     string     `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Runner executes code in an isolated environment.
type Runner interface {
	// Run executes the request and returns the normalized outcome. A non-nil
	// error means the backend itself failed (unreachable, failed to start);
	// code failures are reported inside the Execution.
	Run(ctx context.Context, req Request) (*Execution, error)

	// Close releases resources held by the runner.
	Close() error
}
