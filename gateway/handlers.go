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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"veilgate/platform/ledger"
	"veilgate/platform/policy"
	"veilgate/platform/retriever"
	"veilgate/platform/shared/types"
	"veilgate/platform/store"
)

// ============================================================
// Request / Response shapes
// ============================================================

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type searchRequest struct {
	Query       string `json:"query"`
	TopK        *int   `json:"top_k,omitempty"`
	MinEvidence *int   `json:"min_evidence,omitempty"`
}

type fragmentView struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

type searchResponse struct {
	Response             string                       `json:"response"`
	Fragments            []fragmentView               `json:"fragments"`
	Decisions            []retriever.FragmentDecision `json:"decisions"`
	RedactionApplied     bool                         `json:"redaction_applied"`
	InsufficientEvidence bool                         `json:"insufficient_evidence"`
	StepUpRequired       bool                         `json:"step_up_required"`
	Counts               retriever.Counts             `json:"counts"`
}

type stepUpRequest struct {
	UserID       string `json:"user_id"`
	SecondFactor string `json:"second_factor"`
}

type exportRequest struct {
	Query  string `json:"query"`
	Format string `json:"format"`
}

type exportResponse struct {
	Decision string           `json:"decision"`
	Artifact string           `json:"artifact,omitempty"`
	Counts   retriever.Counts `json:"counts"`
}

type auditResponse struct {
	Events     []ledger.Record `json:"events"`
	ChainValid bool            `json:"chain_valid"`
}

// redactedFragment is an allowed fragment after masking.
type redactedFragment struct {
	ID         string
	Text       string
	Label      types.Label
	Similarity float64
}

// ============================================================
// POST /auth/token
// ============================================================

func (g *Gateway) tokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	subject, err := g.store.LoadSubject(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown subject")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "subject store unavailable")
		return
	}

	token, expiresIn, err := issueToken(subject, g.signingKey)
	if err != nil {
		g.logger.Error(subject.TenantID, "", "Token signing failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresIn: expiresIn})
}

// ============================================================
// POST /search
// ============================================================

func (g *Gateway) searchHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := g.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	topK := g.cfg.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	minEvidence := g.cfg.DefaultMinEvidence
	if req.MinEvidence != nil {
		minEvidence = *req.MinEvidence
	}

	subject, status, err := g.loadSubjectForClaims(r, claims)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	// The audit trail must never carry raw query PII.
	piiHits := 0
	for _, n := range g.redactor.Detect(req.Query) {
		piiHits += n
	}
	if _, err := g.ledger.Emit(ctx, ledger.Entry{
		Actor:      subject.ID,
		Action:     ledger.ActionQueryIssued,
		ObjectType: "query",
		Decision:   "ALLOW",
		Metadata: map[string]interface{}{
			"query":          g.redactor.Redact(req.Query, types.LabelRegulated).Text,
			"top_k":          topK,
			"query_pii_hits": piiHits,
		},
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	result, err := g.retriever.Retrieve(ctx, subject, retriever.Request{
		Query:       req.Query,
		TopK:        topK,
		MinEvidence: minEvidence,
		Action:      "read",
	})
	if err != nil {
		g.writeRetrieveError(w, subject, err)
		return
	}

	for _, d := range result.Decisions {
		promPolicyDecisions.WithLabelValues(string(d.Decision)).Inc()
	}

	// All candidates collapsed to policy-unavailable: the engine is
	// down, not the subject unauthorized. Retriable for the client.
	if allPolicyUnavailable(result.Decisions) {
		writeError(w, http.StatusServiceUnavailable, "policy engine unavailable")
		return
	}

	if result.StepUpRequired {
		if _, err := g.ledger.Emit(ctx, ledger.Entry{
			Actor:      subject.ID,
			Action:     ledger.ActionStepUpRequired,
			ObjectType: "query",
			Decision:   string(policy.DecisionStepUp),
			Reason:     "second factor required for at least one fragment",
		}); err != nil {
			writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
			return
		}
	}

	redacted, redactionApplied, err := g.redactAll(ctx, subject, result.Fragments)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	if _, err := g.ledger.Emit(ctx, ledger.Entry{
		Actor:      subject.ID,
		Action:     ledger.ActionResultReturned,
		ObjectType: "query",
		Decision:   "ALLOW",
		Metadata: map[string]interface{}{
			"allowed_count": result.Counts.Allowed,
			"denied_count":  result.Counts.Denied,
			"step_up_count": result.Counts.StepUp,
		},
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	// Candidates existed, none allowed, nothing pending step-up:
	// that is a policy refusal, not missing evidence.
	if len(result.Decisions) > 0 && result.Counts.Allowed == 0 && !result.StepUpRequired {
		writeError(w, http.StatusForbidden, "access denied for all matching fragments")
		return
	}

	response := synthesize(req.Query, redacted)
	if result.InsufficientEvidence {
		promInsufficientEvidence.Inc()
		response = watermarkResponse
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Response:             response,
		Fragments:            fragmentViews(redacted),
		Decisions:            result.Decisions,
		RedactionApplied:     redactionApplied,
		InsufficientEvidence: result.InsufficientEvidence,
		StepUpRequired:       result.StepUpRequired,
		Counts:               result.Counts,
	})
}

// redactAll masks every allowed fragment and emits REDACTION_APPLIED
// for each one that changed.
func (g *Gateway) redactAll(ctx context.Context, subject *types.Subject, fragments []types.FragmentCandidate) ([]redactedFragment, bool, error) {
	redacted := make([]redactedFragment, 0, len(fragments))
	applied := false

	for _, f := range fragments {
		res := g.redactor.Redact(f.Text, f.Label)
		if res.Changed {
			applied = true
			promRedactionsApplied.Inc()
			if _, err := g.ledger.Emit(ctx, ledger.Entry{
				Actor:      subject.ID,
				Action:     ledger.ActionRedactionApplied,
				ObjectID:   f.FragmentID,
				ObjectType: "fragment",
				Decision:   "ALLOW",
				Metadata: map[string]interface{}{
					"patterns_matched": res.PatternsMatched,
					"label":            string(f.Label),
				},
			}); err != nil {
				return nil, false, err
			}
		}
		redacted = append(redacted, redactedFragment{
			ID:         f.FragmentID,
			Text:       res.Text,
			Label:      f.Label,
			Similarity: f.Similarity,
		})
	}
	return redacted, applied, nil
}

// loadSubjectForClaims loads the subject named by the token and folds
// in live step-up state.
func (g *Gateway) loadSubjectForClaims(r *http.Request, claims *tokenClaims) (*types.Subject, int, error) {
	subject, err := g.store.LoadSubject(r.Context(), claims.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, http.StatusUnauthorized, fmt.Errorf("unknown subject")
		}
		return nil, http.StatusServiceUnavailable, fmt.Errorf("subject store unavailable")
	}
	subject.Attrs.MFASatisfied = g.sessions.Satisfied(r.Context(), subject.ID)
	return subject, 0, nil
}

func (g *Gateway) writeRetrieveError(w http.ResponseWriter, subject *types.Subject, err error) {
	switch {
	case errors.Is(err, retriever.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		correlationID := uuid.New().String()
		g.logger.Error(subject.TenantID, correlationID, "Retrieval failed", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error, correlation_id="+correlationID)
	}
}

func allPolicyUnavailable(decisions []retriever.FragmentDecision) bool {
	if len(decisions) == 0 {
		return false
	}
	for _, d := range decisions {
		if d.Decision != policy.DecisionDeny || d.Reason != policy.ReasonUnavailable {
			return false
		}
	}
	return true
}

func fragmentViews(fragments []redactedFragment) []fragmentView {
	views := make([]fragmentView, 0, len(fragments))
	for _, f := range fragments {
		views = append(views, fragmentView{
			ID:         f.ID,
			Text:       f.Text,
			Label:      string(f.Label),
			Similarity: f.Similarity,
		})
	}
	return views
}

// ============================================================
// POST /auth/step-up
// ============================================================

func (g *Gateway) stepUpHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := g.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req stepUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" || req.UserID != claims.SubjectID {
		writeError(w, http.StatusBadRequest, "user_id must match the authenticated subject")
		return
	}
	if len(req.SecondFactor) < 6 {
		writeError(w, http.StatusBadRequest, "second factor rejected")
		return
	}

	if err := g.sessions.Assert(r.Context(), claims.SubjectID, g.cfg.StepUpTTL); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	if _, err := g.ledger.Emit(r.Context(), ledger.Entry{
		Actor:      claims.SubjectID,
		Action:     ledger.ActionStepUpOK,
		ObjectType: "session",
		Decision:   "ALLOW",
		Metadata: map[string]interface{}{
			"ttl_seconds": int(g.cfg.StepUpTTL.Seconds()),
		},
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"expires_in": int(g.cfg.StepUpTTL.Seconds()),
	})
}

// ============================================================
// GET /audit/{subject_id}
// ============================================================

// isAuditor reports whether the claims grant cross-subject audit reads.
func isAuditor(claims *tokenClaims) bool {
	for _, group := range claims.Groups {
		if group == "auditor" {
			return true
		}
	}
	return false
}

func (g *Gateway) auditHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := g.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	subjectID := mux.Vars(r)["subject_id"]
	if subjectID != claims.SubjectID && !isAuditor(claims) {
		writeError(w, http.StatusForbidden, "audit access restricted to self or auditors")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := g.ledger.ReadByActor(r.Context(), subjectID, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}
	verification, err := g.ledger.Verify(r.Context(), subjectID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	if events == nil {
		events = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, auditResponse{
		Events:     events,
		ChainValid: verification.Valid,
	})
}
