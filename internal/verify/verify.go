// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify implements the five-gate verification battery
// (SPEC_FULL.md §4.5): lint, type check, unit tests, the policy scanner,
// and the invariant checker. Grounded on the teacher's ToolRunner
// injection pattern (sandbox.BuildWorker) and on
// original_source/src/kavi/forge/build.py's gate sequencing — all five
// gates are independent and run concurrently via errgroup, each
// recording its own pass/fail rather than short-circuiting the others.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kshetrajna12/kavi/internal/invariant"
	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/policy"
	"github.com/kshetrajna12/kavi/internal/vcs"
)

// ToolRunner is the subprocess boundary for the lint/typecheck/test
// gates — injected so the battery is testable without a real Python
// toolchain, mirroring sandbox.BuildWorker's production/stub split.
type ToolRunner interface {
	RunLint(ctx context.Context, workdir string) (ok bool, output string, err error)
	RunTypeCheck(ctx context.Context, workdir string) (ok bool, output string, err error)
	RunTest(ctx context.Context, workdir string) (ok bool, output string, err error)
}

// SubprocessToolRunner shells out to the project's configured lint,
// type-check, and test commands.
type SubprocessToolRunner struct {
	LintCmd      []string
	TypeCheckCmd []string
	TestCmd      []string
	Timeout      time.Duration
}

// DefaultSubprocessToolRunner matches the original governed repo's
// ruff/mypy/pytest toolchain.
func DefaultSubprocessToolRunner() *SubprocessToolRunner {
	return &SubprocessToolRunner{
		LintCmd:      []string{"ruff", "check", "."},
		TypeCheckCmd: []string{"mypy", "."},
		TestCmd:      []string{"pytest", "-q"},
		Timeout:      2 * time.Minute,
	}
}

func (r *SubprocessToolRunner) run(ctx context.Context, workdir string, args []string) (bool, string, error) {
	if len(args) == 0 {
		return true, "", nil
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workdir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return false, out.String(), fmt.Errorf("verify: %s: timeout after %v", args[0], timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, out.String(), nil
		}
		return false, out.String(), fmt.Errorf("verify: %s: %w", args[0], err)
	}
	return true, out.String(), nil
}

func (r *SubprocessToolRunner) RunLint(ctx context.Context, workdir string) (bool, string, error) {
	return r.run(ctx, workdir, r.LintCmd)
}

func (r *SubprocessToolRunner) RunTypeCheck(ctx context.Context, workdir string) (bool, string, error) {
	return r.run(ctx, workdir, r.TypeCheckCmd)
}

func (r *SubprocessToolRunner) RunTest(ctx context.Context, workdir string) (bool, string, error) {
	return r.run(ctx, workdir, r.TestCmd)
}

// StubToolRunner is a scripted ToolRunner for deterministic tests.
type StubToolRunner struct {
	LintOK, TypeCheckOK, TestOK       bool
	LintOutput, TypeCheckOutput, TestOutput string
	LintErr, TypeCheckErr, TestErr    error
}

func (s *StubToolRunner) RunLint(ctx context.Context, workdir string) (bool, string, error) {
	return s.LintOK, s.LintOutput, s.LintErr
}
func (s *StubToolRunner) RunTypeCheck(ctx context.Context, workdir string) (bool, string, error) {
	return s.TypeCheckOK, s.TypeCheckOutput, s.TypeCheckErr
}
func (s *StubToolRunner) RunTest(ctx context.Context, workdir string) (bool, string, error) {
	return s.TestOK, s.TestOutput, s.TestErr
}

// Request carries everything the battery needs to evaluate one build.
type Request struct {
	Workdir            string
	SkillFile          string
	ProposalName       string
	ExpectedSideEffect ledger.SideEffectClass
	BaselineRef        string
	OptionalAllowlist  []string
	Policy             *policy.Policy
	VCS                vcs.Client
}

// Report is the battery's combined result, shaped to feed directly into
// ledger.Verification and the classifier.
type Report struct {
	LintOK        bool
	TypeCheckOK   bool
	TestOK        bool
	PolicyOK      bool
	InvariantOK   bool
	LintOutput      string
	TypeCheckOutput string
	TestOutput      string
	PolicyResult    policy.Result
	InvariantResult invariant.Result
}

// AllOK reports whether every gate passed.
func (r Report) AllOK() bool {
	return r.LintOK && r.TypeCheckOK && r.TestOK && r.PolicyOK && r.InvariantOK
}

// Battery runs the five gates concurrently. Each gate's own error is
// captured on the Report rather than propagated — a tool crash fails
// that gate without preventing the others from reporting.
type Battery struct {
	Tools ToolRunner
}

// NewBattery constructs a Battery with the given ToolRunner.
func NewBattery(tools ToolRunner) *Battery {
	return &Battery{Tools: tools}
}

// Run executes every gate and returns the combined Report. Uses a plain
// errgroup.Group (no derived context) purely for goroutine lifecycle
// management; gate failures cancel nothing, since all five must run
// regardless of each other's outcome.
func (b *Battery) Run(ctx context.Context, req Request) Report {
	var report Report
	var g errgroup.Group

	g.Go(func() error {
		ok, out, err := b.Tools.RunLint(ctx, req.Workdir)
		report.LintOK, report.LintOutput = ok && err == nil, out
		return nil
	})
	g.Go(func() error {
		ok, out, err := b.Tools.RunTypeCheck(ctx, req.Workdir)
		report.TypeCheckOK, report.TypeCheckOutput = ok && err == nil, out
		return nil
	})
	g.Go(func() error {
		ok, out, err := b.Tools.RunTest(ctx, req.Workdir)
		report.TestOK, report.TestOutput = ok && err == nil, out
		return nil
	})
	g.Go(func() error {
		p := req.Policy
		if p == nil {
			p = policy.DefaultPolicy()
		}
		result, err := policy.ScanDirectory(ctx, req.Workdir, p)
		if err != nil {
			report.PolicyOK = false
			return nil
		}
		report.PolicyResult = result
		report.PolicyOK = result.OK()
		return nil
	})
	g.Go(func() error {
		result := invariant.CheckInvariants(ctx, req.SkillFile, invariant.Options{
			ExpectedSideEffect: req.ExpectedSideEffect,
			ProposalName:       req.ProposalName,
			ProjectRoot:        req.Workdir,
			BaselineRef:        req.BaselineRef,
			OptionalAllowlist:  req.OptionalAllowlist,
			VCS:                req.VCS,
		})
		report.InvariantResult = result
		report.InvariantOK = result.OK
		return nil
	})

	_ = g.Wait()
	return report
}
