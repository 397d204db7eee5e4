// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge is the orchestrating facade tying every Forge Core
// subsystem together into the governed operations SPEC_FULL.md names:
// Propose, Reject, Build, Verify, Retry, and Promote. Running a trusted
// skill is not part of this facade; that is internal/runtime's
// Loader.Run. Grounded on original_source/src/kavi/cli.py
// and forge/build.py's orchestration sequencing — this package is the
// Go analogue of that CLI's command handlers, minus the CLI framing
// itself (that lives in cmd/forge).
package forge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kshetrajna12/kavi/internal/artifact"
	"github.com/kshetrajna12/kavi/internal/classifier"
	"github.com/kshetrajna12/kavi/internal/forgeerr"
	"github.com/kshetrajna12/kavi/internal/invariant"
	"github.com/kshetrajna12/kavi/internal/ledger"
	"github.com/kshetrajna12/kavi/internal/metrics"
	"github.com/kshetrajna12/kavi/internal/packet"
	"github.com/kshetrajna12/kavi/internal/pathconv"
	"github.com/kshetrajna12/kavi/internal/policy"
	"github.com/kshetrajna12/kavi/internal/registry"
	"github.com/kshetrajna12/kavi/internal/retry"
	"github.com/kshetrajna12/kavi/internal/sandbox"
	"github.com/kshetrajna12/kavi/internal/vcs"
	"github.com/kshetrajna12/kavi/internal/verify"
)

// Forge wires the canonical ledger, artifact store, sandbox builder,
// verification battery, retry engine, and registry into one facade.
type Forge struct {
	Ledger       *ledger.Store
	Artifacts    *artifact.Writer
	SandboxRoot  string // canonical tree the sandbox builds against and copies back into
	ScratchRoot  string // throwaway sandbox workspaces live under here
	Builder      *sandbox.Builder
	Battery      *verify.Battery
	RetryEngine  *retry.Engine
	Policy       *policy.Policy
	RegistryPath string
}

// New constructs a Forge with production-shaped defaults. Callers
// needing stubbed collaborators (tests, dry runs) should construct the
// struct literal directly instead.
func New(ledgerStore *ledger.Store, artifacts *artifact.Writer, sandboxRoot, scratchRoot string, builder *sandbox.Builder, battery *verify.Battery, retryEngine *retry.Engine, registryPath string) *Forge {
	return &Forge{
		Ledger:       ledgerStore,
		Artifacts:    artifacts,
		SandboxRoot:  sandboxRoot,
		ScratchRoot:  scratchRoot,
		Builder:      builder,
		Battery:      battery,
		RetryEngine:  retryEngine,
		Policy:       policy.DefaultPolicy(),
		RegistryPath: registryPath,
	}
}

// Propose records a new skill proposal in its initial PROPOSED status.
func (f *Forge) Propose(ctx context.Context, name, description, ioSchemaJSON string, sideEffect ledger.SideEffectClass, requiredSecretsJSON string) (*ledger.SkillProposal, error) {
	if !ledger.ValidSideEffectClass(sideEffect) {
		return nil, &forgeerr.InvalidInput{Field: "side_effect_class", Reason: fmt.Sprintf("unknown value %q", sideEffect)}
	}
	p := ledger.NewSkillProposal(name, description, ioSchemaJSON, sideEffect, requiredSecretsJSON)
	if err := f.Ledger.CreateProposal(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Build opens a new build attempt: renders (or, on retry, reuses) the
// build packet, prepares a sandbox workspace, invokes the build worker,
// runs the diff-allowlist gate, and — on success — copies the result
// back into the canonical tree. The build's outcome is recorded in the
// ledger regardless of success or failure.
func (f *Forge) Build(ctx context.Context, proposalID string, packetOverride string) (*ledger.Build, error) {
	proposal, err := f.Ledger.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	build, err := f.Ledger.OpenBuild(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	metrics.BuildsOpened.WithLabelValues(attemptBucket(build.AttemptNumber)).Inc()

	packetContent := packetOverride
	if packetContent == "" {
		packetContent = packet.Render(packet.Spec{
			Name:            proposal.Name,
			Description:     proposal.Description,
			IOSchemaJSON:    proposal.IOSchemaJSON,
			SideEffectClass: proposal.SideEffectClass,
			OptionalAllowlist: f.optionalAllowlist(),
		})
	}
	if _, err := f.Artifacts.Write(ctx, []byte(packetContent), ledger.ArtifactBuildPacket, build.ID); err != nil {
		return nil, err
	}

	workspace, err := f.Builder.Prepare(ctx, f.SandboxRoot, f.ScratchRoot, build.ID)
	if err != nil {
		f.failBuild(ctx, build, fmt.Sprintf("Prepare failed: %v", err))
		return f.Ledger.GetBuild(ctx, build.ID)
	}

	result, err := f.Builder.Invoke(ctx, []byte(packetContent), workspace)
	buildLog := formatBuildLog(result, err)
	if _, werr := f.Artifacts.Write(ctx, []byte(buildLog), ledger.ArtifactBuildLog, build.ID); werr != nil {
		return nil, werr
	}

	if err != nil {
		f.failBuild(ctx, build, fmt.Sprintf("Build worker failed: %v", err))
		return f.Ledger.GetBuild(ctx, build.ID)
	}
	if result.TimedOut {
		f.failBuild(ctx, build, "Timeout: build worker exceeded wall-clock budget")
		return f.Ledger.GetBuild(ctx, build.ID)
	}

	required := []string{pathconv.SkillFile(proposal.Name), pathconv.TestFile(proposal.Name)}
	gateResult, err := f.Builder.Gate(ctx, workspace, required)
	if err != nil {
		f.failBuild(ctx, build, fmt.Sprintf("Diff gate failed: %v", err))
		return f.Ledger.GetBuild(ctx, build.ID)
	}
	if !gateResult.OK {
		f.failBuild(ctx, build, fmt.Sprintf("Diff gate failed: violations=%v required_missing=%v", gateResult.Violations, gateResult.RequiredMissing))
		return f.Ledger.GetBuild(ctx, build.ID)
	}

	if _, err := f.Builder.CopyBack(workspace, f.SandboxRoot, gateResult.Allowed); err != nil {
		f.failBuild(ctx, build, fmt.Sprintf("Copy-back failed: %v", err))
		return f.Ledger.GetBuild(ctx, build.ID)
	}

	if err := f.Ledger.RecordBuildResult(ctx, build.ID, ledger.BuildSucceeded, "Build succeeded"); err != nil {
		return nil, err
	}
	if err := f.Ledger.UpdateProposalStatus(ctx, proposalID, ledger.ProposalBuilt); err != nil {
		return nil, err
	}
	_ = f.Builder.Cleanup(f.ScratchRoot, build.ID, true)
	metrics.BuildsFinished.WithLabelValues(string(ledger.BuildSucceeded)).Inc()
	metrics.BuildDuration.Observe(time.Since(build.StartedAt).Seconds())
	return f.Ledger.GetBuild(ctx, build.ID)
}

// attemptBucket collapses a build's attempt number into the low-cardinality
// label BuildsOpened carries: "1" for a first attempt, "2+" thereafter.
func attemptBucket(attempt int) string {
	if attempt <= 1 {
		return "1"
	}
	return "2+"
}

func (f *Forge) failBuild(ctx context.Context, build *ledger.Build, summary string) {
	_ = f.Ledger.RecordBuildResult(ctx, build.ID, ledger.BuildFailed, summary)
	_ = f.Builder.Cleanup(f.ScratchRoot, build.ID, false)
	metrics.BuildsFinished.WithLabelValues(string(ledger.BuildFailed)).Inc()
	metrics.BuildDuration.Observe(time.Since(build.StartedAt).Seconds())
}

func (f *Forge) optionalAllowlist() []string {
	return sandbox.DefaultConfig().OptionalAllowlist
}

func formatBuildLog(result *sandbox.WorkerResult, err error) string {
	if err != nil {
		return fmt.Sprintf("# Build Log\n\nError: %v\n", err)
	}
	return fmt.Sprintf("# Build Log\n\nExit code: %d\n\n## Stdout\n```\n%s\n```\n\n## Stderr\n```\n%s\n```\n",
		result.ExitCode, result.Stdout, result.Stderr)
}

// Verify runs the five-gate battery against a completed build's
// canonical output and records the result.
func (f *Forge) Verify(ctx context.Context, buildID string) (*ledger.Verification, error) {
	build, err := f.Ledger.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	proposal, err := f.Ledger.GetProposal(ctx, build.ProposalID)
	if err != nil {
		return nil, err
	}

	skillFile := filepath.Join(f.SandboxRoot, pathconv.SkillFile(proposal.Name))

	var vcsClient vcs.Client
	if client, err := vcs.NewDefaultClient(f.SandboxRoot, 10*time.Second); err == nil {
		vcsClient = client
	}

	report := f.Battery.Run(ctx, verify.Request{
		Workdir:            f.SandboxRoot,
		SkillFile:          skillFile,
		ProposalName:       proposal.Name,
		ExpectedSideEffect: proposal.SideEffectClass,
		BaselineRef:        "HEAD",
		OptionalAllowlist:  f.optionalAllowlist(),
		Policy:             f.Policy,
		VCS:                vcsClient,
	})

	status := ledger.VerificationFailed
	if report.AllOK() {
		status = ledger.VerificationPassed
	}

	reportContent := policy.FormatReport(report.PolicyResult) + "\n" + invariantSummary(report.InvariantResult)
	artifactRow, err := f.Artifacts.Write(ctx, []byte(reportContent), ledger.ArtifactVerificationReport, build.ID)
	if err != nil {
		return nil, err
	}

	v := &ledger.Verification{
		ProposalID:  build.ProposalID,
		BuildID:     build.ID,
		Status:      status,
		LintOK:      report.LintOK,
		TypeCheckOK: report.TypeCheckOK,
		TestOK:      report.TestOK,
		PolicyOK:    report.PolicyOK,
		InvariantOK: report.InvariantOK,
		ReportPath:  artifactRow.ID,
	}
	if err := f.Ledger.RecordVerification(ctx, v); err != nil {
		return nil, err
	}
	recordGateMetric("lint", report.LintOK)
	recordGateMetric("type_check", report.TypeCheckOK)
	recordGateMetric("test", report.TestOK)
	recordGateMetric("policy", report.PolicyOK)
	recordGateMetric("invariant", report.InvariantOK)

	if status == ledger.VerificationPassed {
		if err := f.Ledger.UpdateProposalStatus(ctx, build.ProposalID, ledger.ProposalVerified); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func recordGateMetric(gate string, ok bool) {
	result := "fail"
	if ok {
		result = "pass"
	}
	metrics.VerificationGateResults.WithLabelValues(gate, result).Inc()
}

func invariantSummary(r invariant.Result) string {
	status := "PASSED"
	if !r.OK {
		status = "FAILED"
	}
	return fmt.Sprintf("# Invariant Check: %s\n\nViolations: %d\n", status, len(r.Violations))
}

// Retry classifies a failed build's outcome, runs the two-layer research
// process, and returns the enriched packet plus any escalation triggers
// a human must clear before the next Build call.
func (f *Forge) Retry(ctx context.Context, buildID string) (*retry.Result, error) {
	build, err := f.Ledger.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	verification, _ := f.Ledger.GetLatestVerification(ctx, build.ProposalID)

	buildLog, err := f.findBuildLog(ctx, build)
	if err != nil {
		return nil, err
	}
	analysis := classifier.Classify(build, buildLog, verification)

	originalPacket, err := f.findBuildPacket(ctx, build)
	if err != nil {
		return nil, err
	}

	priorBuilds, err := f.Ledger.GetBuildsForProposal(ctx, build.ProposalID)
	if err != nil {
		return nil, err
	}
	failedCount := 0
	for _, b := range priorBuilds {
		if b.Status == ledger.BuildFailed {
			failedCount++
		}
	}

	result := f.RetryEngine.Retry(ctx, retry.Request{
		OriginalPacket:    originalPacket,
		Analysis:          analysis,
		PriorFailedBuilds: failedCount,
	})
	for _, trigger := range result.Triggers {
		metrics.EscalationTriggers.WithLabelValues(string(trigger)).Inc()
	}

	if _, err := f.Artifacts.Write(ctx, []byte(result.EnrichedPacket), ledger.ArtifactResearchNote, build.ProposalID); err != nil {
		return nil, err
	}
	return &result, nil
}

func (f *Forge) findBuildLog(ctx context.Context, build *ledger.Build) (string, error) {
	artifacts, err := f.Ledger.GetArtifactsForRelated(ctx, build.ID)
	if err != nil {
		return "", err
	}
	for i := len(artifacts) - 1; i >= 0; i-- {
		if artifacts[i].Kind == ledger.ArtifactBuildLog {
			blob, err := f.Artifacts.Blobs.Get(ctx, artifacts[i].SHA256)
			if err != nil {
				return "", err
			}
			return string(blob), nil
		}
	}
	return "", nil
}

func (f *Forge) findBuildPacket(ctx context.Context, build *ledger.Build) (string, error) {
	artifacts, err := f.Ledger.GetArtifactsForRelated(ctx, build.ID)
	if err != nil {
		return "", err
	}
	for i := len(artifacts) - 1; i >= 0; i-- {
		if artifacts[i].Kind == ledger.ArtifactBuildPacket {
			blob, err := f.Artifacts.Blobs.Get(ctx, artifacts[i].SHA256)
			if err != nil {
				return "", err
			}
			return string(blob), nil
		}
	}
	return "", nil
}

// Promote transitions a VERIFIED proposal to TRUSTED: hashes the skill's
// generated source, records a Promotion row, and upserts the skill
// registry so the runtime loader can resolve it.
func (f *Forge) Promote(ctx context.Context, proposalID, approvedBy, factoryKey string, requiredSecrets []string) (*ledger.Promotion, error) {
	proposal, err := f.Ledger.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	skillPath := filepath.Join(f.SandboxRoot, pathconv.SkillFile(proposal.Name))
	source, err := os.ReadFile(skillPath)
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "Promote.ReadSkillFile", Err: err}
	}
	hash := registry.HashSource(source)

	promotion, err := f.Ledger.RecordPromotion(ctx, proposalID, approvedBy, hash)
	if err != nil {
		return nil, err
	}

	entries, err := registry.Load(f.RegistryPath)
	if err != nil {
		return nil, err
	}
	entries = registry.Upsert(entries, registry.Entry{
		Name:            proposal.Name,
		FactoryKey:      factoryKey,
		SideEffectClass: proposal.SideEffectClass,
		Hash:            hash,
		RequiredSecrets: requiredSecrets,
	})
	if err := registry.Save(f.RegistryPath, entries); err != nil {
		return nil, err
	}

	if err := f.Ledger.UpdateProposalStatus(ctx, proposalID, ledger.ProposalTrusted); err != nil {
		return nil, err
	}
	metrics.Promotions.WithLabelValues("trusted").Inc()
	return promotion, nil
}

// Reject declines a still-PROPOSED proposal, moving it to the terminal
// REJECTED status so it is excluded from any future Build call.
func (f *Forge) Reject(ctx context.Context, proposalID string) error {
	return f.Ledger.RejectProposal(ctx, proposalID)
}
