package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRunnerDecodesExecution(t *testing.T) {
	var received Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(Execution{Stdout: "4\n"})
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL, srv.Client())
	execution, err := runner.Run(context.Background(), Request{Code: "print(2+2)"})
	require.NoError(t, err)

	assert.Equal(t, "print(2+2)", received.Code)
	assert.Equal(t, "4\n", execution.Stdout)
}

func TestHTTPRunnerCodeErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Execution{
			Stderr:   "ZeroDivisionError: division by zero",
			ExitCode: 1,
			Error:    "code exited with status 1",
		})
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL, srv.Client())
	execution, err := runner.Run(context.Background(), Request{Code: "1/0"})
	require.NoError(t, err, "a remote code failure is data, not a transport error")
	assert.Contains(t, execution.Stderr, "ZeroDivisionError")
	assert.Equal(t, "code exited with status 1", execution.Error)
}

func TestHTTPRunnerNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sandbox pool exhausted", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL, srv.Client())
	_, err := runner.Run(context.Background(), Request{Code: "print(1)"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPRunnerUnreachableEndpoint(t *testing.T) {
	runner := NewHTTPRunner("http://127.0.0.1:1", nil)
	_, err := runner.Run(context.Background(), Request{Code: "print(1)"})
	require.Error(t, err)
}
