/*
Package sandbox provides isolated code execution backends for the codechat service.

This file implements the HTTPRunner, which submits code to a remote sandbox
service over HTTP. The remote service is expected to accept a JSON Request at
its execute endpoint and answer with a JSON Execution.

Connection and protocol failures are returned as Go errors so the dispatcher
can treat them as transport-level outages (and optionally retry once).
Failures of the submitted code arrive inside the decoded Execution and pass
through untouched.
*/
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPRunner executes code by delegating to a remote sandbox service.
type HTTPRunner struct {
	endpoint string       // Execute endpoint of the remote sandbox service
	client   *http.Client // HTTP client; timeouts come from the caller's context
}

// NewHTTPRunner creates a runner that submits code to the given endpoint.
// A nil client falls back to http.DefaultClient.
func NewHTTPRunner(endpoint string, client *http.Client) *HTTPRunner {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRunner{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

// Run submits the request to the remote sandbox and decodes its response.
func (r *HTTPRunner) Run(ctx context.Context, req Request) (*Execution, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sandbox service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var execution Execution
	if err := json.NewDecoder(resp.Body).Decode(&execution); err != nil {
		return nil, fmt.Errorf("failed to decode sandbox response: %w", err)
	}
	return &execution, nil
}

// Close releases idle connections held by the underlying client.
func (r *HTTPRunner) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

var _ Runner = (*HTTPRunner)(nil)
