/*
Package sandbox provides isolated code execution backends for the codechat service.

This file implements the LocalRunner, which executes Python code with a local
interpreter inside a per-run working directory. Uploaded session files are
copied into the working directory before the run so the code can reference
them by name, and any image files the code writes (plots, renders) are
harvested as artifacts after the run.

The runner relies on the caller's context for time limits: when the deadline
expires the interpreter process is killed and Run returns the context error,
which the dispatcher translates into a timeout result for the user.
*/
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// entryFile is the name the submitted code is written to inside the working
// directory before being handed to the interpreter.
const entryFile = "main.py"

// artifactExtensions lists the file extensions harvested as visual artifacts
// after a run. Anything else the code writes stays in the working directory.
var artifactExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
}

// LocalRunner executes Python code with a local interpreter process.
// Each run gets its own working directory under the runner's root; directories
// that produced artifacts are retained so the artifacts stay addressable,
// the rest are removed when the run completes.
type LocalRunner struct {
	pythonBin string         // Interpreter binary, e.g. "python3"
	workRoot  string         // Parent directory for per-run working directories
	ownsRoot  bool           // Whether Close should remove workRoot
	logger    *logrus.Logger // Structured logger for execution monitoring
}

// NewLocalRunner creates a runner that executes code with the given Python
// binary. workRoot is the parent directory for per-run working directories;
// when empty a temporary directory is created and removed on Close.
func NewLocalRunner(pythonBin, workRoot string, logger *logrus.Logger) (*LocalRunner, error) {
	if pythonBin == "" {
		pythonBin = "python3"
	}

	ownsRoot := false
	if workRoot == "" {
		dir, err := os.MkdirTemp("", "codechat-sandbox-")
		if err != nil {
			return nil, fmt.Errorf("failed to create sandbox work directory: %w", err)
		}
		workRoot = dir
		ownsRoot = true
	} else if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox work directory: %w", err)
	}

	return &LocalRunner{
		pythonBin: pythonBin,
		workRoot:  workRoot,
		ownsRoot:  ownsRoot,
		logger:    logger,
	}, nil
}

// Run executes the request's code in a fresh working directory.
// Uploaded files are copied in first, then the code is written to main.py and
// run with the configured interpreter. Stdout and stderr are captured
// separately. A non-zero exit is reported in Execution.Error, not as a Go
// error; only failures to set up or start the run are returned as errors.
func (r *LocalRunner) Run(ctx context.Context, req Request) (*Execution, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, errors.New("empty code payload")
	}

	workDir, err := os.MkdirTemp(r.workRoot, "run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	// Make the session uploads visible to the code by name.
	for _, file := range req.Files {
		if err := copyFile(file.Path, filepath.Join(workDir, filepath.Base(file.Name))); err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("failed to stage uploaded file %q: %w", file.Name, err)
		}
	}

	if err := os.WriteFile(filepath.Join(workDir, entryFile), []byte(req.Code), 0o644); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to write code file: %w", err)
	}

	// Snapshot the directory so artifacts can be identified after the run.
	before, err := listFiles(workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to snapshot run directory: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.pythonBin, entryFile)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	runErr := cmd.Run()
	executionTime := time.Since(startTime)

	// A killed interpreter after deadline expiry is a timeout, not a code
	// failure. Surface the context error so the dispatcher can classify it.
	if ctx.Err() != nil {
		os.RemoveAll(workDir)
		return nil, ctx.Err()
	}

	execution := &Execution{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			execution.ExitCode = exitErr.ExitCode()
			execution.Error = fmt.Sprintf("code exited with status %d", exitErr.ExitCode())
		} else {
			// The interpreter could not be started at all.
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("failed to run interpreter %q: %w", r.pythonBin, runErr)
		}
	}

	artifacts, err := r.harvestArtifacts(workDir, before)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to harvest execution artifacts")
	}
	execution.Artifacts = artifacts

	// Only keep the directory when it holds artifacts the caller may fetch.
	if len(artifacts) == 0 {
		os.RemoveAll(workDir)
	}

	r.logger.WithFields(logrus.Fields{
		"executionTime": executionTime,
		"exitCode":      execution.ExitCode,
		"stdoutLength":  len(execution.Stdout),
		"stderrLength":  len(execution.Stderr),
		"artifactCount": len(artifacts),
	}).Info("Local code execution completed")

	return execution, nil
}

// harvestArtifacts returns the image files created during the run, i.e. files
// present now that were not in the pre-run snapshot.
func (r *LocalRunner) harvestArtifacts(workDir string, before map[string]bool) ([]Artifact, error) {
	after, err := listFiles(workDir)
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for name := range after {
		if before[name] || !artifactExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		artifacts = append(artifacts, Artifact{
			ID:   uuid.NewString(),
			Name: name,
			Path: filepath.Join(workDir, name),
		})
	}
	return artifacts, nil
}

// Close removes the runner's work directory when the runner created it.
func (r *LocalRunner) Close() error {
	if r.ownsRoot {
		return os.RemoveAll(r.workRoot)
	}
	return nil
}

func listFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files[entry.Name()] = true
		}
	}
	return files, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

var _ Runner = (*LocalRunner)(nil)
