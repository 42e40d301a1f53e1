/*
Package core provides execution dispatch for the codechat service.

This file bridges a detected tool invocation to the sandbox collaborator and
normalizes whatever comes back into an ExecResult. The dispatcher owns the
execution time budget and the error classification:

  - failures of the submitted code (exceptions, non-zero exits, sandbox-side
    timeouts) become ExecResult.Error — they are data the user must see, and
    the turn completes normally
  - failures to reach the sandbox at all are returned as Go errors, which the
    orchestrator treats as turn-level failures

Sandbox execution is assumed to have side effects, so the dispatcher performs
no retries by default. An optional, explicitly bounded single retry can be
enabled for transport-level failures only; code errors reported by the sandbox
are never retried.
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"codechat/sandbox"
)

// Dispatcher submits extracted code payloads to the sandbox collaborator and
// normalizes the outcome.
type Dispatcher struct {
	runner         sandbox.Runner // The sandbox collaborator
	timeout        time.Duration  // Maximum duration for one execution
	retryTransport bool           // Retry once on transport failures; never on code errors
	logger         *logrus.Logger // Structured logger for dispatch monitoring
}

// NewDispatcher creates a dispatcher over the given sandbox runner.
//
// Parameters:
//   - runner: Sandbox collaborator used for execution
//   - timeout: Maximum duration allowed per execution
//   - retryTransport: Whether to retry a transport-level failure once
//   - logger: Logger instance for dispatch monitoring
//
// Returns:
//   - *Dispatcher: Configured dispatcher ready for use
func NewDispatcher(runner sandbox.Runner, timeout time.Duration, retryTransport bool, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		runner:         runner,
		timeout:        timeout,
		retryTransport: retryTransport,
		logger:         logger,
	}
}

// Dispatch executes the invocation's code in the sandbox with the session's
// uploaded files staged, enforcing the configured time budget.
//
// The returned ExecResult always carries exactly one outcome: the success
// payload (stdout, optional stderr, optional visualization reference) or an
// error description. A non-nil Go error means the sandbox itself was
// unreachable and nothing useful was produced.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, files []FileRef) (*ExecResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req := sandbox.Request{
		Code:  inv.Code,
		Files: make([]sandbox.FileRef, 0, len(files)),
	}
	for _, f := range files {
		req.Files = append(req.Files, sandbox.FileRef{Name: f.Name, Path: f.Path})
	}

	startTime := time.Now()
	execution, err := d.runner.Run(runCtx, req)

	if err != nil && d.retryTransport && runCtx.Err() == nil {
		// At most one retry, and only when the failure was transport-level:
		// a live context rules out the timeout case, and sandbox-reported
		// code errors never surface as Go errors in the first place.
		d.logger.WithError(err).Warn("Sandbox dispatch failed, retrying once")
		execution, err = d.runner.Run(runCtx, req)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded {
			d.logger.WithField("timeout", d.timeout).Warn("Code execution timed out")
			return &ExecResult{
				Error: fmt.Sprintf("code execution timed out after %s", d.timeout),
			}, nil
		}
		return nil, fmt.Errorf("sandbox dispatch failed: %w", err)
	}

	result := &ExecResult{
		Stdout: execution.Stdout,
		Stderr: execution.Stderr,
		Error:  execution.Error,
	}
	if len(execution.Artifacts) > 0 {
		result.Visualization = execution.Artifacts[0].Path
	}

	d.logger.WithFields(logrus.Fields{
		"executionTime": time.Since(startTime),
		"stdoutLength":  len(result.Stdout),
		"stderrLength":  len(result.Stderr),
		"failed":        result.Error != "",
		"artifactCount": len(execution.Artifacts),
	}).Info("Code dispatch completed")

	return result, nil
}
