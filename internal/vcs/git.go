// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs wraps the git command line for the sandbox builder's two
// needs: establishing a baseline commit in a freshly copied workspace,
// and computing the diff-allowlist gate's changed-file set against that
// baseline. Kept small and interface-bound (Client) so the verification
// battery's scope-containment check and the sandbox builder's gate share
// one implementation and one test double.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Client is the subset of git operations the sandbox builder and
// invariant checker need. A production DefaultClient and a scripted
// StubClient both satisfy it, following the ToolRunner injection pattern
// used throughout the verification battery.
type Client interface {
	Init(ctx context.Context) error
	ConfigureIdentity(ctx context.Context, name, email string) error
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) error
	DiffNames(ctx context.Context, ref string) ([]string, error)
	UntrackedFiles(ctx context.Context) ([]string, error)
}

// DefaultClient implements Client using the git command line.
//
// Thread Safety: safe for concurrent use; each call spawns its own
// subprocess.
type DefaultClient struct {
	repoPath string
	timeout  time.Duration
}

// NewDefaultClient creates a git client rooted at repoPath.
func NewDefaultClient(repoPath string, timeout time.Duration) (*DefaultClient, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("vcs: repoPath must be absolute: %s", repoPath)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DefaultClient{repoPath: repoPath, timeout: timeout}, nil
}

func (g *DefaultClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("vcs: git %s: timeout after %v", args[0], g.timeout)
		}
		return "", fmt.Errorf("vcs: git %s: %w: %s", args[0], err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Init runs `git init` with no remotes, matching the sandbox's
// freshly-baselined workspace requirement.
func (g *DefaultClient) Init(ctx context.Context) error {
	_, err := g.run(ctx, "init")
	return err
}

// ConfigureIdentity sets a local (repo-scoped) commit identity so the
// baseline commit doesn't depend on the host's global git config.
func (g *DefaultClient) ConfigureIdentity(ctx context.Context, name, email string) error {
	if _, err := g.run(ctx, "config", "user.email", email); err != nil {
		return err
	}
	_, err := g.run(ctx, "config", "user.name", name)
	return err
}

// AddAll stages every file in the workspace.
func (g *DefaultClient) AddAll(ctx context.Context) error {
	_, err := g.run(ctx, "add", "-A")
	return err
}

// Commit creates a commit from the staged tree.
func (g *DefaultClient) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// DiffNames returns tracked files changed relative to ref (typically the
// sandbox's baseline commit or HEAD).
func (g *DefaultClient) DiffNames(ctx context.Context, ref string) ([]string, error) {
	out, err := g.run(ctx, "diff", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// UntrackedFiles returns files present in the workspace but never added.
func (g *DefaultClient) UntrackedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// StubClient is a scripted Client for deterministic tests, mirroring the
// ToolRunner stub pattern used by the verification battery.
type StubClient struct {
	DiffFiles      []string
	Untracked      []string
	InitErr        error
	CommitErr      error
	DiffErr        error
	UntrackedErr   error
}

func (s *StubClient) Init(ctx context.Context) error                       { return s.InitErr }
func (s *StubClient) ConfigureIdentity(ctx context.Context, n, e string) error { return nil }
func (s *StubClient) AddAll(ctx context.Context) error                     { return nil }
func (s *StubClient) Commit(ctx context.Context, msg string) error         { return s.CommitErr }
func (s *StubClient) DiffNames(ctx context.Context, ref string) ([]string, error) {
	return s.DiffFiles, s.DiffErr
}
func (s *StubClient) UntrackedFiles(ctx context.Context) ([]string, error) {
	return s.Untracked, s.UntrackedErr
}
