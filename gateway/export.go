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
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"veilgate/platform/ledger"
	"veilgate/platform/policy"
	"veilgate/platform/retriever"
	"veilgate/platform/store"
)

// exportHandler runs the search pipeline under action "export" and
// materializes the authorized, redacted fragments as an artifact.
// The allow_export attribute gates the whole path: without it the
// retriever is never invoked.
func (g *Gateway) exportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := g.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Format == "" {
		req.Format = "json"
	}
	if req.Format != "json" && req.Format != "csv" {
		writeError(w, http.StatusBadRequest, "format must be json or csv")
		return
	}

	subject, err := g.store.LoadSubject(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown subject")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "subject store unavailable")
		return
	}
	subject.Attrs.MFASatisfied = g.sessions.Satisfied(ctx, subject.ID)

	if _, err := g.ledger.Emit(ctx, ledger.Entry{
		Actor:      subject.ID,
		Action:     ledger.ActionExportAttempted,
		ObjectType: "query",
		Decision:   "ALLOW",
		Metadata: map[string]interface{}{
			"format": req.Format,
		},
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	if !subject.Attrs.AllowExport {
		if _, err := g.ledger.Emit(ctx, ledger.Entry{
			Actor:      subject.ID,
			Action:     ledger.ActionExportDenied,
			ObjectType: "query",
			Decision:   string(policy.DecisionDeny),
			Reason:     "subject lacks export permission",
		}); err != nil {
			writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
			return
		}
		writeJSON(w, http.StatusForbidden, exportResponse{Decision: string(policy.DecisionDeny)})
		return
	}

	result, err := g.retriever.Retrieve(ctx, subject, retriever.Request{
		Query:       req.Query,
		TopK:        g.cfg.DefaultTopK,
		MinEvidence: g.cfg.DefaultMinEvidence,
		Action:      "export",
	})
	if err != nil {
		g.writeRetrieveError(w, subject, err)
		return
	}

	if len(result.Fragments) == 0 {
		if _, err := g.ledger.Emit(ctx, ledger.Entry{
			Actor:      subject.ID,
			Action:     ledger.ActionExportDenied,
			ObjectType: "query",
			Decision:   string(policy.DecisionDeny),
			Reason:     "no exportable fragments",
		}); err != nil {
			writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
			return
		}
		writeJSON(w, http.StatusForbidden, exportResponse{
			Decision: string(policy.DecisionDeny),
			Counts:   result.Counts,
		})
		return
	}

	redacted, _, err := g.redactAll(ctx, subject, result.Fragments)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	data, contentType, err := buildArtifact(req.Format, redacted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build artifact")
		return
	}

	name := fmt.Sprintf("export-%s.%s", uuid.New().String(), req.Format)
	location, err := g.artifacts.Put(ctx, name, contentType, data)
	if err != nil {
		g.logger.Error(subject.TenantID, "", "Artifact upload failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "artifact store unavailable")
		return
	}

	if _, err := g.ledger.Emit(ctx, ledger.Entry{
		Actor:      subject.ID,
		Action:     ledger.ActionExportGranted,
		ObjectType: "query",
		Decision:   string(policy.DecisionAllow),
		Metadata: map[string]interface{}{
			"artifact":       location,
			"fragment_count": len(redacted),
			"format":         req.Format,
		},
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger unavailable")
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		Decision: string(policy.DecisionAllow),
		Artifact: location,
		Counts:   result.Counts,
	})
}

// buildArtifact serializes redacted fragments as CSV or JSON.
func buildArtifact(format string, fragments []redactedFragment) ([]byte, string, error) {
	switch format {
	case "csv":
		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		if err := cw.Write([]string{"id", "label", "similarity", "text"}); err != nil {
			return nil, "", err
		}
		for _, f := range fragments {
			if err := cw.Write([]string{
				f.ID,
				string(f.Label),
				strconv.FormatFloat(f.Similarity, 'f', 6, 64),
				f.Text,
			}); err != nil {
				return nil, "", err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil

	case "json":
		data, err := json.MarshalIndent(fragmentViews(fragments), "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil

	default:
		return nil, "", fmt.Errorf("unsupported format %q", format)
	}
}
