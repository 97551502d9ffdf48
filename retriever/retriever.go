// Copyright 2025 VeilGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retriever implements the governed retrieval pipeline: label
// pre-filtering by clearance, per-fragment policy evaluation with
// bounded fan-out, evidence-threshold enforcement, and per-candidate
// audit emission. Per-fragment policy failures never abort the
// pipeline; they surface as DENY decisions for the affected fragments.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"veilgate/platform/ledger"
	"veilgate/platform/policy"
	"veilgate/platform/shared/logger"
	"veilgate/platform/shared/types"
	"veilgate/platform/store"
)

// ErrInvalidInput marks request validation failures (bad embedding,
// out-of-range parameters). The gateway maps it to 400.
var ErrInvalidInput = errors.New("invalid input")

// maxFanOut caps per-request policy evaluation concurrency.
const maxFanOut = 16

// Embedder turns query text into a fixed-dimension vector. The model
// itself is external; the pipeline only depends on this capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Request is one retrieval invocation.
type Request struct {
	Query       string
	TopK        int
	MinEvidence int
	Action      string // "read" for search, "export" for export paths
}

// FragmentDecision pairs a candidate with its policy verdict.
type FragmentDecision struct {
	FragmentID string          `json:"fragment_id"`
	Decision   policy.Decision `json:"decision"`
	Reason     string          `json:"reason,omitempty"`
	RuleID     string          `json:"rule_id,omitempty"`
}

// Counts summarizes decisions across all candidates.
type Counts struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
	StepUp  int `json:"step_up"`
}

// Result is the authorized fragment set with provenance.
type Result struct {
	Fragments            []types.FragmentCandidate // allowed, ordered, truncated to TopK
	Decisions            []FragmentDecision        // every candidate, in candidate order
	Counts               Counts
	StepUpRequired       bool
	InsufficientEvidence bool
}

// Retriever wires the store, policy adapter, embedder, and ledger into
// the retrieval algorithm.
type Retriever struct {
	store        store.Store
	pdp          policy.PDP
	embedder     Embedder
	ledger       *ledger.Ledger
	logger       *logger.Logger
	embeddingDim int
}

// New creates a retriever. embeddingDim is the expected query vector
// dimension; vectors of any other size are rejected as invalid input.
func New(st store.Store, pdp policy.PDP, emb Embedder, led *ledger.Ledger, log *logger.Logger, embeddingDim int) *Retriever {
	return &Retriever{
		store:        st,
		pdp:          pdp,
		embedder:     emb,
		ledger:       led,
		logger:       log,
		embeddingDim: embeddingDim,
	}
}

// Retrieve runs the pipeline for one subject and query. Every candidate
// surfaced by the pre-filter gets exactly one PDP_DECISION audit record
// before the result is returned.
func (r *Retriever) Retrieve(ctx context.Context, subject *types.Subject, req Request) (*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if req.TopK < 1 || req.TopK > 50 {
		return nil, fmt.Errorf("%w: top_k must be in 1..50", ErrInvalidInput)
	}
	if req.MinEvidence < 0 {
		return nil, fmt.Errorf("%w: min_evidence must be >= 0", ErrInvalidInput)
	}
	action := req.Action
	if action == "" {
		action = "read"
	}

	// Unknown clearance admits no labels; the result is empty rather
	// than an error, and the evidence threshold reports it.
	allowedLabels := types.AllowedLabels(subject.Attrs.Clearance)

	queryVec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(queryVec) != r.embeddingDim {
		return nil, fmt.Errorf("%w: embedding dimension %d, expected %d",
			ErrInvalidInput, len(queryVec), r.embeddingDim)
	}

	candidates, err := r.store.PreFilterFragments(ctx, subject.TenantID, allowedLabels, queryVec, 2*req.TopK)
	if errors.Is(err, store.ErrUnavailable) && ctx.Err() == nil {
		// One retry on transient store failure, then surface as retriable.
		candidates, err = r.store.PreFilterFragments(ctx, subject.TenantID, allowedLabels, queryVec, 2*req.TopK)
	}
	if err != nil {
		return nil, fmt.Errorf("pre-filter failed: %w", err)
	}
	candidates = dedupe(candidates)

	holds := r.legalHolds(ctx, subject.TenantID, candidates)
	verdicts := r.evaluateAll(ctx, subject, candidates, action, holds)

	result := &Result{}
	for i, c := range candidates {
		v := verdicts[i]
		result.Decisions = append(result.Decisions, FragmentDecision{
			FragmentID: c.FragmentID,
			Decision:   v.Decision,
			Reason:     v.Reason,
			RuleID:     v.RuleID,
		})

		// Exactly one PDP_DECISION per candidate, emitted in candidate
		// order so the subject's chain is deterministic.
		if _, err := r.ledger.Emit(ctx, ledger.Entry{
			Actor:      subject.ID,
			Action:     ledger.ActionPDPDecision,
			ObjectID:   c.FragmentID,
			ObjectType: "fragment",
			Decision:   string(v.Decision),
			Reason:     v.Reason,
			Metadata: map[string]interface{}{
				"label":      string(c.Label),
				"similarity": c.Similarity,
				"rule_id":    v.RuleID,
				"action":     action,
			},
		}); err != nil {
			return nil, fmt.Errorf("audit emission failed: %w", err)
		}

		switch v.Decision {
		case policy.DecisionAllow:
			result.Counts.Allowed++
			result.Fragments = append(result.Fragments, c)
		case policy.DecisionStepUp:
			result.Counts.StepUp++
			result.StepUpRequired = true
		default:
			result.Counts.Denied++
		}
	}

	if len(result.Fragments) < req.MinEvidence {
		result.InsufficientEvidence = true
	}
	if len(result.Fragments) > req.TopK {
		result.Fragments = result.Fragments[:req.TopK]
	}
	return result, nil
}

// legalHolds resolves retention rules for the (label, source) pairs
// among the candidates. A fragment under legal hold carries that fact
// to the policy engine as a resource attribute. Lookup failures other
// than absence degrade to "no hold" with a warning; retention is an
// enrichment, not a gate.
func (r *Retriever) legalHolds(ctx context.Context, tenant string, candidates []types.FragmentCandidate) map[string]bool {
	holds := make(map[string]bool)
	for _, c := range candidates {
		key := string(c.Label) + "|" + c.Source
		if _, seen := holds[key]; seen {
			continue
		}
		rule, err := r.store.RetentionRule(ctx, c.Label, c.Source)
		switch {
		case err == nil:
			holds[key] = rule.LegalHold
		case errors.Is(err, store.ErrNotFound):
			holds[key] = false
		default:
			r.logger.Warn(tenant, "", "Retention rule lookup failed", map[string]interface{}{
				"label":  string(c.Label),
				"source": c.Source,
				"error":  err.Error(),
			})
			holds[key] = false
		}
	}
	return holds
}

// evaluateAll fans policy evaluations out across min(N, maxFanOut)
// workers. Results land in a slice indexed by candidate position, so
// completion order never affects output order.
func (r *Retriever) evaluateAll(ctx context.Context, subject *types.Subject, candidates []types.FragmentCandidate, action string, holds map[string]bool) []policy.Result {
	verdicts := make([]policy.Result, len(candidates))
	if len(candidates) == 0 {
		return verdicts
	}

	workers := len(candidates)
	if workers > maxFanOut {
		workers = maxFanOut
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c types.FragmentCandidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				verdicts[i] = policy.Deny(policy.ReasonCancelled)
				return
			}
			extra := subject.Attrs.Extra
			if holds[string(c.Label)+"|"+c.Source] {
				extra = make(map[string]string, len(subject.Attrs.Extra)+1)
				for k, v := range subject.Attrs.Extra {
					extra[k] = v
				}
				extra["legal_hold"] = "true"
			}
			v := r.pdp.Evaluate(ctx, policy.Input{
				SubjectID:    subject.ID,
				Groups:       subject.Groups,
				Clearance:    subject.Attrs.Clearance,
				AllowExport:  subject.Attrs.AllowExport,
				MFASatisfied: subject.Attrs.MFASatisfied,
				TenantID:     subject.TenantID,
				Action:       action,
				FragmentID:   c.FragmentID,
				DocumentID:   c.DocumentID,
				Label:        c.Label,
				Source:       c.Source,
				OwnerID:      c.OwnerID,
				Extra:        extra,
			})
			// An evaluation cut short by our own context expiring is a
			// cancellation, not an engine outage.
			if ctx.Err() != nil && v.Decision == policy.DecisionDeny && v.Reason == policy.ReasonUnavailable {
				v = policy.Deny(policy.ReasonCancelled)
			}
			verdicts[i] = v
		}(i, c)
	}
	wg.Wait()

	return verdicts
}

// dedupe drops repeated fragment IDs, keeping the first occurrence.
func dedupe(candidates []types.FragmentCandidate) []types.FragmentCandidate {
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if seen[c.FragmentID] {
			continue
		}
		seen[c.FragmentID] = true
		out = append(out, c)
	}
	return out
}
