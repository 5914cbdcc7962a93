// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// =============================================================================
// PROCESS RUNNER
// =============================================================================

// RunResult is the captured outcome of one process.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs an external command in dir and captures its output.
// Implementations must honour ctx cancellation.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (RunResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds every command (default: 120s)
	Timeout time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (RunResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// Never block on a credential prompt.
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("%s timed out after %v: %w", name, timeout, ctx.Err())
		}
		return res, fmt.Errorf("%s failed: %w", name, err)
	}
	return res, nil
}

// =============================================================================
// GIT
// =============================================================================

// ErrInvalidRepoURL is returned for repository URLs git should not be
// handed.
var ErrInvalidRepoURL = errors.New("invalid repository URL")

// Git issues the clone and pull commands for repository sources.
type Git struct {
	Runner Runner
}

// Clone clones url into dest. An empty branch clones the default branch.
func (g Git) Clone(ctx context.Context, url, dest, branch string) error {
	if err := validateRepoURL(url); err != nil {
		return err
	}

	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	// "--" stops a crafted URL from being read as an option.
	args = append(args, "--", url, dest)

	res, err := g.Runner.Run(ctx, "", "git", args...)
	if err != nil {
		return gitError("clone", res, err)
	}
	return nil
}

// Pull fast-forwards the clone in dir.
func (g Git) Pull(ctx context.Context, dir string) error {
	res, err := g.Runner.Run(ctx, dir, "git", "pull", "--ff-only")
	if err != nil {
		return gitError("pull", res, err)
	}
	return nil
}

func gitError(op string, res RunResult, err error) error {
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return fmt.Errorf("git %s: %s: %w", op, msg, err)
	}
	return fmt.Errorf("git %s: %w", op, err)
}

// validateRepoURL accepts https, http, ssh and scp-like git@ URLs.
func validateRepoURL(url string) error {
	url = strings.TrimSpace(url)
	if url == "" || strings.HasPrefix(url, "-") || strings.ContainsAny(url, " \t\n") {
		return ErrInvalidRepoURL
	}
	for _, prefix := range []string{"https://", "http://", "ssh://", "git@"} {
		if strings.HasPrefix(url, prefix) {
			return nil
		}
	}
	return ErrInvalidRepoURL
}
