// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger is the Forge Core's canonical durable state: skill
// proposals, build attempts, verification records, promotions, and
// artifact metadata, with application-level enforcement of the status
// state machine (BadgerDB has no CHECK-constraint layer to lean on).
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SideEffectClass enumerates the declared side-effect surface of a skill.
// Resolved from the original ledger's five-value enum — the distilled
// spec's glossary mentions SECRET_READ, which the original never defines;
// required_secrets (a separate field) is the mechanism that actually
// governs secret access, so it is kept orthogonal to this enum.
type SideEffectClass string

const (
	SideEffectReadOnly  SideEffectClass = "READ_ONLY"
	SideEffectFileWrite SideEffectClass = "FILE_WRITE"
	SideEffectNetwork   SideEffectClass = "NETWORK"
	SideEffectMoney     SideEffectClass = "MONEY"
	SideEffectMessaging SideEffectClass = "MESSAGING"
)

// ValidSideEffectClass reports whether s is one of the enumerated values.
func ValidSideEffectClass(s SideEffectClass) bool {
	switch s {
	case SideEffectReadOnly, SideEffectFileWrite, SideEffectNetwork, SideEffectMoney, SideEffectMessaging:
		return true
	default:
		return false
	}
}

// ProposalStatus is the skill proposal's lifecycle state.
type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "PROPOSED"
	ProposalRejected ProposalStatus = "REJECTED"
	ProposalBuilt    ProposalStatus = "BUILT"
	ProposalVerified ProposalStatus = "VERIFIED"
	ProposalTrusted  ProposalStatus = "TRUSTED"
)

// BuildStatus is a build attempt's outcome.
type BuildStatus string

const (
	BuildStarted   BuildStatus = "STARTED"
	BuildFailed    BuildStatus = "FAILED"
	BuildSucceeded BuildStatus = "SUCCEEDED"
)

// VerificationStatus is the aggregate outcome of the five-gate battery.
type VerificationStatus string

const (
	VerificationFailed VerificationStatus = "FAILED"
	VerificationPassed VerificationStatus = "PASSED"
)

// ArtifactKind enumerates the immutable artifact types the ledger tracks.
type ArtifactKind string

const (
	ArtifactSkillSpec           ArtifactKind = "SKILL_SPEC"
	ArtifactPatchSummary        ArtifactKind = "PATCH_SUMMARY"
	ArtifactVerificationReport  ArtifactKind = "VERIFICATION_REPORT"
	ArtifactNote                ArtifactKind = "NOTE"
	ArtifactBuildPacket         ArtifactKind = "BUILD_PACKET"
	ArtifactBuildLog            ArtifactKind = "BUILD_LOG"
	ArtifactResearchNote        ArtifactKind = "RESEARCH_NOTE"
)

// newID returns a short opaque identifier. uuid.v4, trimmed to 12 hex
// characters to match the original ledger's id shape while keeping
// collision odds negligible for this system's scale.
func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func now() time.Time { return time.Now().UTC() }

// SkillProposal is a declared capability awaiting build.
type SkillProposal struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	IOSchemaJSON         string          `json:"io_schema_json"`
	SideEffectClass      SideEffectClass `json:"side_effect_class"`
	RequiredSecretsJSON  string          `json:"required_secrets_json"`
	Status               ProposalStatus  `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
}

// NewSkillProposal constructs a proposal in its initial PROPOSED status.
func NewSkillProposal(name, description, ioSchemaJSON string, sideEffect SideEffectClass, requiredSecretsJSON string) *SkillProposal {
	return &SkillProposal{
		ID:                  newID(),
		Name:                name,
		Description:         description,
		IOSchemaJSON:        ioSchemaJSON,
		SideEffectClass:     sideEffect,
		RequiredSecretsJSON: requiredSecretsJSON,
		Status:              ProposalProposed,
		CreatedAt:           now(),
	}
}

// Build is one attempt at generating a proposal's skill source.
type Build struct {
	ID             string      `json:"id"`
	ProposalID     string      `json:"proposal_id"`
	BranchName     string      `json:"branch_name"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	Status         BuildStatus `json:"status"`
	Summary        string      `json:"summary"`
	AttemptNumber  int         `json:"attempt_number"`
	ParentBuildID  string      `json:"parent_build_id,omitempty"`
}

// Verification is the five-gate battery's result for one build.
type Verification struct {
	ID            string             `json:"id"`
	ProposalID    string             `json:"proposal_id"`
	BuildID       string             `json:"build_id"`
	Status        VerificationStatus `json:"status"`
	LintOK        bool               `json:"lint_ok"`
	TypeCheckOK   bool               `json:"type_check_ok"`
	TestOK        bool               `json:"test_ok"`
	PolicyOK      bool               `json:"policy_ok"`
	InvariantOK   bool               `json:"invariant_ok"`
	ReportPath    string             `json:"report_path"`
	CreatedAt     time.Time          `json:"created_at"`
}

// AllOK reports whether every gate passed.
func (v *Verification) AllOK() bool {
	return v.LintOK && v.TypeCheckOK && v.TestOK && v.PolicyOK && v.InvariantOK
}

// Promotion records the VERIFIED -> TRUSTED transition.
type Promotion struct {
	ID          string    `json:"id"`
	ProposalID  string    `json:"proposal_id"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	ApprovedBy  string    `json:"approved_by"`
	SourceHash  string    `json:"source_hash"`
	Revoked     bool      `json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is an immutable, content-addressed record. Bytes live in the
// artifact store; this is the ledger's metadata row pointing at them.
type Artifact struct {
	ID        string       `json:"id"`
	Kind      ArtifactKind `json:"kind"`
	SHA256    string       `json:"sha256"`
	Size      int64        `json:"size"`
	RelatedID string       `json:"related_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
