package sandbox

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T) *LocalRunner {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	runner, err := NewLocalRunner("python3", t.TempDir(), logger)
	require.NoError(t, err)
	return runner
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestRunRejectsEmptyCode(t *testing.T) {
	runner := newTestRunner(t)

	_, err := runner.Run(context.Background(), Request{Code: "   \n"})
	require.Error(t, err)
}

func TestRunCapturesStdout(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t)

	execution, err := runner.Run(context.Background(), Request{Code: "print(2+2)"})
	require.NoError(t, err)
	assert.Equal(t, "4\n", execution.Stdout)
	assert.Empty(t, execution.Stderr)
	assert.Empty(t, execution.Error)
	assert.Zero(t, execution.ExitCode)
}

func TestRunReportsCodeFailureAsData(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t)

	execution, err := runner.Run(context.Background(), Request{Code: "raise ValueError('boom')"})
	require.NoError(t, err, "a code failure completes the run")
	assert.Contains(t, execution.Stderr, "ValueError")
	assert.Contains(t, execution.Error, "exited with status")
	assert.NotZero(t, execution.ExitCode)
}

func TestRunTimeoutReturnsContextError(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, Request{Code: "import time\ntime.sleep(30)"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunStagesUploadedFiles(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t)

	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644))

	execution, err := runner.Run(context.Background(), Request{
		Code:  "print(open('data.csv').read(), end='')",
		Files: []FileRef{{Name: "data.csv", Path: src}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", execution.Stdout)
}

func TestRunHarvestsImageArtifacts(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t)

	execution, err := runner.Run(context.Background(), Request{
		Code: "open('plot.png', 'wb').write(b'\\x89PNG')\nopen('notes.txt', 'w').write('skip')",
	})
	require.NoError(t, err)
	require.Len(t, execution.Artifacts, 1)

	artifact := execution.Artifacts[0]
	assert.Equal(t, "plot.png", artifact.Name)
	assert.NotEmpty(t, artifact.ID)

	// The run directory is retained so the artifact stays readable.
	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)
}

func TestRunMissingStagedFileFails(t *testing.T) {
	runner := newTestRunner(t)

	_, err := runner.Run(context.Background(), Request{
		Code:  "print('never runs')",
		Files: []FileRef{{Name: "ghost.csv", Path: "/nonexistent/ghost.csv"}},
	})
	require.Error(t, err)
}

func TestCloseRemovesOwnedRoot(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	runner, err := NewLocalRunner("python3", "", logger)
	require.NoError(t, err)

	root := runner.workRoot
	_, statErr := os.Stat(root)
	require.NoError(t, statErr)

	require.NoError(t, runner.Close())
	_, statErr = os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}
