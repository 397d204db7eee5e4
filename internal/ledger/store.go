// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/kshetrajna12/kavi/internal/forgeerr"
	"github.com/kshetrajna12/kavi/internal/storage"
)

const schemaVersion uint32 = 1

// buildByProposalID is the build_by_proposal keyspace's compound row id:
// the proposal id and an 8-digit, zero-padded attempt number, ordered so
// a prefix scan on "<proposalID>:" visits attempts in ascending order.
func buildByProposalID(proposalID string, attempt int) string {
	return fmt.Sprintf("%s:%08d", proposalID, attempt)
}

// Store is the canonical, durable ledger. It owns proposal/build/
// verification/promotion/artifact-metadata state exclusively; nothing
// else in the Forge Core writes these keyspaces directly.
//
// Per the concurrency model, the ledger serialises on a per-proposal
// basis: OpenBuild and RecordBuildResult for a given proposal id take an
// in-process mutex for the duration of the operation, so a second
// concurrent OpenBuild against a proposal with an in-flight build
// observes a committed status and fails fast rather than racing Badger.
type Store struct {
	db *storage.DB

	proposals        *storage.Keyspace
	builds           *storage.Keyspace
	buildsByProposal *storage.Keyspace
	verifications    *storage.Keyspace
	promotions       *storage.Keyspace
	artifacts        *storage.Keyspace

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func newStore(db *storage.DB) *Store {
	return &Store{
		db:               db,
		proposals:        db.Keyspace("proposal"),
		builds:           db.Keyspace("build"),
		buildsByProposal: db.Keyspace("build_by_proposal"),
		verifications:    db.Keyspace("verification"),
		promotions:       db.Keyspace("promotion"),
		artifacts:        db.Keyspace("artifact"),
		locks:            make(map[string]*sync.Mutex),
	}
}

// Open opens (creating if absent) a ledger at the given on-disk path and
// runs any pending migrations.
func Open(path string) (*Store, error) {
	cfg := storage.DefaultConfig()
	cfg.Path = path
	db, err := storage.OpenDB(cfg)
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "ledger.Open", Err: err}
	}
	s := newStore(db)
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway ledger for tests.
func OpenInMemory() (*Store, error) {
	db, err := storage.OpenDB(storage.InMemoryConfig())
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "ledger.OpenInMemory", Err: err}
	}
	s := newStore(db)
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) proposalLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// migrate advances schema_version from whatever is stored to schemaVersion.
// Each step is idempotent; Badger has no table to recreate for a widened
// enum, so a widening step re-reads and rewrites every affected row under
// one transaction instead.
func (s *Store) migrate() error {
	return s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		var current uint32
		item, err := txn.Get([]byte("schema_version"))
		switch {
		case err == badger.ErrKeyNotFound:
			current = 0
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				if len(val) != 4 {
					return fmt.Errorf("ledger: malformed schema_version value")
				}
				current = uint32(val[0])<<24 | uint32(val[1])<<16 | uint32(val[2])<<8 | uint32(val[3])
				return nil
			}); err != nil {
				return err
			}
		}
		for v := current; v < schemaVersion; v++ {
			// No migration steps defined yet beyond the initial version;
			// future widenings (e.g. a new ArtifactKind) add a case here
			// that scans "artifact:" keys, re-validates, and rewrites.
		}
		buf := []byte{
			byte(schemaVersion >> 24), byte(schemaVersion >> 16),
			byte(schemaVersion >> 8), byte(schemaVersion),
		}
		return txn.Set([]byte("schema_version"), buf)
	})
}

// --- Proposals ---

// CreateProposal inserts a new proposal under its own p.ID.
func (s *Store) CreateProposal(ctx context.Context, p *SkillProposal) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return s.proposals.SetJSON(txn, p.ID, p)
	})
}

// GetProposal fetches a proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (*SkillProposal, error) {
	var p SkillProposal
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = s.proposals.GetJSON(txn, id, &p)
		return err
	})
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "GetProposal", Err: err}
	}
	if !found {
		return nil, &forgeerr.UnknownEntity{Kind: "proposal", ID: id}
	}
	return &p, nil
}

// UpdateProposalStatus writes a new status for a proposal, validating the
// state machine described in SPEC_FULL.md §3: status is monotonic except
// that BUILT may reset to PROPOSED on retry.
func (s *Store) UpdateProposalStatus(ctx context.Context, id string, next ProposalStatus) error {
	lock := s.proposalLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var p SkillProposal
		found, err := s.proposals.GetJSON(txn, id, &p)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "proposal", ID: id}
		}
		if !validProposalTransition(p.Status, next) {
			return &forgeerr.InvalidTransition{Entity: "proposal", From: string(p.Status), To: string(next)}
		}
		p.Status = next
		return s.proposals.SetJSON(txn, id, &p)
	})
}

// RejectProposal marks a still-PROPOSED proposal REJECTED, a terminal
// status with no further transitions out. Used when a reviewer declines
// a proposal before any build is opened against it.
func (s *Store) RejectProposal(ctx context.Context, id string) error {
	return s.UpdateProposalStatus(ctx, id, ProposalRejected)
}

func validProposalTransition(from, to ProposalStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case ProposalProposed:
		return to == ProposalBuilt || to == ProposalRejected
	case ProposalBuilt:
		return to == ProposalProposed || to == ProposalVerified
	case ProposalVerified:
		return to == ProposalTrusted
	default:
		return false
	}
}

// ListProposals returns every proposal, optionally filtered by status.
func (s *Store) ListProposals(ctx context.Context, status *ProposalStatus) ([]*SkillProposal, error) {
	var out []*SkillProposal
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return s.proposals.IteratePrefix(txn, "", func(val []byte) error {
			var p SkillProposal
			if err := json.Unmarshal(val, &p); err != nil {
				return err
			}
			if status == nil || p.Status == *status {
				cp := p
				out = append(out, &cp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "ListProposals", Err: err}
	}
	return out, nil
}

// --- Builds ---

var buildableStatuses = map[ProposalStatus]bool{
	ProposalProposed: true,
	ProposalBuilt:    true,
}

// OpenBuild starts a new build attempt for a proposal. Fails with
// InvalidTransition unless the proposal's status is PROPOSED or BUILT, and
// unless the most recent build for the proposal (if any) has already
// finished — only one build may be in flight per proposal at a time.
func (s *Store) OpenBuild(ctx context.Context, proposalID string) (*Build, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	var b *Build
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var p SkillProposal
		found, err := s.proposals.GetJSON(txn, proposalID, &p)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "proposal", ID: proposalID}
		}
		if !buildableStatuses[p.Status] {
			return &forgeerr.InvalidTransition{Entity: "proposal", From: string(p.Status), To: "build-opened"}
		}

		prior, err := s.buildsForProposalTxn(txn, proposalID)
		if err != nil {
			return err
		}
		for _, pb := range prior {
			if pb.Status == BuildStarted {
				return &forgeerr.InvalidTransition{Entity: "build", From: "in-flight", To: "opened"}
			}
		}

		attempt := len(prior) + 1
		var parentID string
		if len(prior) > 0 {
			parentID = prior[len(prior)-1].ID
		}
		b = &Build{
			ID:            newID(),
			ProposalID:    proposalID,
			BranchName:    fmt.Sprintf("skill/%s-%s", p.Name, proposalID[:min(8, len(proposalID))]),
			StartedAt:     now(),
			Status:        BuildStarted,
			AttemptNumber: attempt,
			ParentBuildID: parentID,
		}
		if err := s.builds.SetJSON(txn, b.ID, b); err != nil {
			return err
		}
		if err := s.buildsByProposal.SetJSON(txn, buildByProposalID(proposalID, attempt), b.ID); err != nil {
			return err
		}
		if p.Status == ProposalBuilt {
			p.Status = ProposalProposed
			return s.proposals.SetJSON(txn, proposalID, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *Store) buildsForProposalTxn(txn *badger.Txn, proposalID string) ([]*Build, error) {
	var ids []string
	err := s.buildsByProposal.IteratePrefix(txn, proposalID+":", func(val []byte) error {
		var id string
		if err := json.Unmarshal(val, &id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Build, 0, len(ids))
	for _, id := range ids {
		var b Build
		found, err := s.builds.GetJSON(txn, id, &b)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, &b)
		}
	}
	return out, nil
}

// GetBuildsForProposal returns every build attempt for a proposal, ordered
// by attempt number.
func (s *Store) GetBuildsForProposal(ctx context.Context, proposalID string) ([]*Build, error) {
	var out []*Build
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = s.buildsForProposalTxn(txn, proposalID)
		return err
	})
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "GetBuildsForProposal", Err: err}
	}
	return out, nil
}

// GetBuild fetches a build attempt by id.
func (s *Store) GetBuild(ctx context.Context, id string) (*Build, error) {
	var b Build
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = s.builds.GetJSON(txn, id, &b)
		return err
	})
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "GetBuild", Err: err}
	}
	if !found {
		return nil, &forgeerr.UnknownEntity{Kind: "build", ID: id}
	}
	return &b, nil
}

// RecordBuildResult finalises a build attempt. On success, the owning
// proposal advances to BUILT. On failure, the proposal is left as-is so
// a retry can reopen a build from PROPOSED.
func (s *Store) RecordBuildResult(ctx context.Context, buildID string, status BuildStatus, summary string) error {
	var b Build
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		found, err := s.builds.GetJSON(txn, buildID, &b)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "build", ID: buildID}
		}
		return nil
	})
	if err != nil {
		return err
	}

	lock := s.proposalLock(b.ProposalID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var cur Build
		found, err := s.builds.GetJSON(txn, buildID, &cur)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "build", ID: buildID}
		}
		t := now()
		cur.Status = status
		cur.Summary = summary
		cur.FinishedAt = &t
		if err := s.builds.SetJSON(txn, buildID, &cur); err != nil {
			return err
		}
		if status != BuildSucceeded {
			return nil
		}
		var p SkillProposal
		found, err = s.proposals.GetJSON(txn, cur.ProposalID, &p)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "proposal", ID: cur.ProposalID}
		}
		if !validProposalTransition(p.Status, ProposalBuilt) {
			return &forgeerr.InvalidTransition{Entity: "proposal", From: string(p.Status), To: string(ProposalBuilt)}
		}
		p.Status = ProposalBuilt
		return s.proposals.SetJSON(txn, cur.ProposalID, &p)
	})
}

// --- Verifications ---

// RecordVerification writes a verification record for a build (exactly
// once per build — a second call for the same build is accepted as a
// fresh record since verification may legitimately be re-run, but it is
// the caller's responsibility not to conflate re-runs with the original).
// On an all-ok result, the owning proposal advances to VERIFIED.
func (s *Store) RecordVerification(ctx context.Context, v *Verification) error {
	build, err := s.GetBuild(ctx, v.BuildID)
	if err != nil {
		return err
	}

	lock := s.proposalLock(build.ProposalID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := s.verifications.SetJSON(txn, v.ID, v); err != nil {
			return err
		}
		if v.Status != VerificationPassed {
			return nil
		}
		var p SkillProposal
		found, err := s.proposals.GetJSON(txn, build.ProposalID, &p)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "proposal", ID: build.ProposalID}
		}
		if !validProposalTransition(p.Status, ProposalVerified) {
			return &forgeerr.InvalidTransition{Entity: "proposal", From: string(p.Status), To: string(ProposalVerified)}
		}
		p.Status = ProposalVerified
		return s.proposals.SetJSON(txn, build.ProposalID, &p)
	})
}

// GetLatestVerification returns the most recently recorded verification
// for a proposal, or nil if none exists.
func (s *Store) GetLatestVerification(ctx context.Context, proposalID string) (*Verification, error) {
	var latest *Verification
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return s.verifications.IteratePrefix(txn, "", func(val []byte) error {
			var v Verification
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			if v.ProposalID != proposalID {
				return nil
			}
			if latest == nil || v.CreatedAt.After(latest.CreatedAt) {
				cp := v
				latest = &cp
			}
			return nil
		})
	})
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "GetLatestVerification", Err: err}
	}
	return latest, nil
}

// --- Promotions ---

// RecordPromotion requires the proposal be VERIFIED (its verification
// records are not re-read here), advances it to TRUSTED, and appends a
// promotion record.
func (s *Store) RecordPromotion(ctx context.Context, proposalID, approvedBy, sourceHash string) (*Promotion, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	var promo *Promotion
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var p SkillProposal
		found, err := s.proposals.GetJSON(txn, proposalID, &p)
		if err != nil {
			return err
		}
		if !found {
			return &forgeerr.UnknownEntity{Kind: "proposal", ID: proposalID}
		}
		if p.Status != ProposalVerified {
			return &forgeerr.InvalidTransition{Entity: "proposal", From: string(p.Status), To: string(ProposalTrusted)}
		}
		promo = &Promotion{
			ID:         newID(),
			ProposalID: proposalID,
			FromStatus: string(ProposalVerified),
			ToStatus:   string(ProposalTrusted),
			ApprovedBy: approvedBy,
			SourceHash: sourceHash,
			CreatedAt:  now(),
		}
		if err := s.promotions.SetJSON(txn, promo.ID, promo); err != nil {
			return err
		}
		p.Status = ProposalTrusted
		return s.proposals.SetJSON(txn, proposalID, &p)
	})
	if err != nil {
		return nil, err
	}
	return promo, nil
}

// --- Artifacts ---

// RecordArtifact stores an artifact's ledger metadata row. The byte
// content itself is owned by the artifact store, not the ledger.
func (s *Store) RecordArtifact(ctx context.Context, a *Artifact) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return s.artifacts.SetJSON(txn, a.ID, a)
	})
}

// GetArtifactsForRelated returns every artifact row pointing at relatedID,
// ordered by creation time.
func (s *Store) GetArtifactsForRelated(ctx context.Context, relatedID string) ([]*Artifact, error) {
	var out []*Artifact
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return s.artifacts.IteratePrefix(txn, "", func(val []byte) error {
			var a Artifact
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			if a.RelatedID == relatedID {
				cp := a
				out = append(out, &cp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &forgeerr.StoreUnavailable{Op: "GetArtifactsForRelated", Err: err}
	}
	// Stable chronological order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].CreatedAt.After(out[j].CreatedAt); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}
