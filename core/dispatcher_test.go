package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codechat/sandbox"
)

// fakeRunner is a scriptable sandbox backend for tests.
type fakeRunner struct {
	execution *sandbox.Execution
	err       error
	errOnce   bool // Fail only the first call, succeed afterwards
	delay     time.Duration
	calls     int
	lastCode  string
	lastFiles []sandbox.FileRef
}

func (f *fakeRunner) Run(ctx context.Context, req sandbox.Request) (*sandbox.Execution, error) {
	f.calls++
	f.lastCode = req.Code
	f.lastFiles = req.Files

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return nil, err
	}
	if f.execution != nil {
		return f.execution, nil
	}
	return &sandbox.Execution{}, nil
}

func (f *fakeRunner) Close() error { return nil }

func TestDispatchNormalizesSuccess(t *testing.T) {
	runner := &fakeRunner{execution: &sandbox.Execution{
		Stdout: "4\n",
		Stderr: "warning\n",
		Artifacts: []sandbox.Artifact{
			{ID: "a1", Name: "plot.png", Path: "/tmp/run/plot.png"},
		},
	}}
	d := NewDispatcher(runner, time.Second, false, newTestLogger())

	result, err := d.Dispatch(context.Background(), Invocation{Code: "print(2+2)"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "4\n", result.Stdout)
	assert.Equal(t, "warning\n", result.Stderr)
	assert.Empty(t, result.Error)
	assert.Equal(t, "/tmp/run/plot.png", result.Visualization)
}

func TestDispatchCodeFailureIsDataNotError(t *testing.T) {
	runner := &fakeRunner{execution: &sandbox.Execution{
		Stderr:   "Traceback (most recent call last): ...",
		ExitCode: 1,
		Error:    "code exited with status 1",
	}}
	d := NewDispatcher(runner, time.Second, false, newTestLogger())

	result, err := d.Dispatch(context.Background(), Invocation{Code: "boom("}, nil)
	require.NoError(t, err)
	assert.Equal(t, "code exited with status 1", result.Error)
	assert.Equal(t, 1, runner.calls)
}

func TestDispatchTimeoutBecomesExecutionFailure(t *testing.T) {
	runner := &fakeRunner{delay: 200 * time.Millisecond}
	d := NewDispatcher(runner, 10*time.Millisecond, false, newTestLogger())

	result, err := d.Dispatch(context.Background(), Invocation{Code: "while True: pass"}, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Error, "timed out")
}

func TestDispatchTransportFailureIsError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection refused")}
	d := NewDispatcher(runner, time.Second, false, newTestLogger())

	_, err := d.Dispatch(context.Background(), Invocation{Code: "print(1)"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, runner.calls, "no retry unless explicitly enabled")
}

func TestDispatchRetriesTransportFailureOnce(t *testing.T) {
	runner := &fakeRunner{
		err:       errors.New("connection refused"),
		errOnce:   true,
		execution: &sandbox.Execution{Stdout: "ok\n"},
	}
	d := NewDispatcher(runner, time.Second, true, newTestLogger())

	result, err := d.Dispatch(context.Background(), Invocation{Code: "print(1)"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", result.Stdout)
	assert.Equal(t, 2, runner.calls)
}

func TestDispatchRetryIsBoundedAtOne(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection refused")}
	d := NewDispatcher(runner, time.Second, true, newTestLogger())

	_, err := d.Dispatch(context.Background(), Invocation{Code: "print(1)"}, nil)
	require.Error(t, err)
	assert.Equal(t, 2, runner.calls)
}

func TestDispatchNeverRetriesCodeErrors(t *testing.T) {
	runner := &fakeRunner{execution: &sandbox.Execution{Error: "code exited with status 1"}}
	d := NewDispatcher(runner, time.Second, true, newTestLogger())

	result, err := d.Dispatch(context.Background(), Invocation{Code: "boom("}, nil)
	require.NoError(t, err)
	assert.Equal(t, "code exited with status 1", result.Error)
	assert.Equal(t, 1, runner.calls)
}

func TestDispatchStagesSessionFiles(t *testing.T) {
	runner := &fakeRunner{execution: &sandbox.Execution{Stdout: "ok\n"}}
	d := NewDispatcher(runner, time.Second, false, newTestLogger())

	files := []FileRef{{Name: "data.csv", Size: 3, Path: "/tmp/data.csv"}}
	_, err := d.Dispatch(context.Background(), Invocation{Code: "open('data.csv')"}, files)
	require.NoError(t, err)
	assert.Equal(t, "open('data.csv')", runner.lastCode)
	require.Len(t, runner.lastFiles, 1)
	assert.Equal(t, "data.csv", runner.lastFiles[0].Name)
	assert.Equal(t, "/tmp/data.csv", runner.lastFiles[0].Path)
}
