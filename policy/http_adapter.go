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

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"veilgate/platform/shared/logger"
)

// pdpRequest is the engine's wire format for an evaluation request.
type pdpRequest struct {
	Subject  pdpSubject  `json:"subject"`
	Resource pdpResource `json:"resource"`
	Action   string      `json:"action"`
}

type pdpSubject struct {
	ID     string            `json:"id"`
	Groups []string          `json:"groups"`
	Attrs  map[string]string `json:"attrs"`
}

type pdpResource struct {
	FragmentID string `json:"fragment_id"`
	DocumentID string `json:"document_id"`
	Label      string `json:"label"`
	Source     string `json:"source"`
	Owner      string `json:"owner"`
	Tenant     string `json:"tenant"`
}

// pdpResponse is the engine's wire format. Mapping priority when fields
// conflict: step_up_required beats allow, allow beats everything else.
type pdpResponse struct {
	Allow          bool   `json:"allow"`
	StepUpRequired bool   `json:"step_up_required"`
	Reason         string `json:"reason"`
	RuleID         string `json:"rule_id"`
}

// HTTPAdapter talks to a remote policy engine over JSON/HTTP.
type HTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
	maxRetries int
}

// NewHTTPAdapter creates a PDP adapter for the engine at baseURL.
// timeout bounds each evaluation attempt, not the sum of retries.
func NewHTTPAdapter(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAdapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:     log,
		maxRetries: 1,
	}
}

// Evaluate maps the engine's verdict to a Decision. Failures of any
// kind (network, timeout, non-2xx, malformed body) deny with
// ReasonUnavailable; one jittered retry is attempted for transient
// failures before giving up. A failure caused by the caller's own
// context expiring denies with ReasonCancelled instead.
func (a *HTTPAdapter) Evaluate(ctx context.Context, in Input) Result {
	var lastErr error

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			// Transient failure: back off briefly with jitter so a
			// recovering engine is not hammered in lockstep.
			select {
			case <-time.After(time.Duration(50+rand.Intn(100)) * time.Millisecond):
			case <-ctx.Done():
				return Deny(ReasonCancelled)
			}
		}

		result, retriable, err := a.evaluateOnce(ctx, in)
		if err == nil {
			return result
		}
		if ctx.Err() != nil {
			return Deny(ReasonCancelled)
		}
		lastErr = err
		if !retriable {
			break
		}
	}

	a.logger.Warn(in.TenantID, "", "Policy engine unavailable, denying", map[string]interface{}{
		"subject_id":  in.SubjectID,
		"fragment_id": in.FragmentID,
		"action":      in.Action,
		"error":       lastErr.Error(),
	})
	return Deny(ReasonUnavailable)
}

func (a *HTTPAdapter) evaluateOnce(ctx context.Context, in Input) (Result, bool, error) {
	reqBody, err := json.Marshal(buildRequest(in))
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to marshal policy input: %w", err)
	}

	url := fmt.Sprintf("%s/v1/evaluate", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to create policy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// Connection and timeout errors are worth one retry.
		return Result{}, true, fmt.Errorf("policy request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, true, fmt.Errorf("failed to read policy response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return Result{}, true, fmt.Errorf("policy engine returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, false, fmt.Errorf("policy engine returned status %d", resp.StatusCode)
	}

	var verdict pdpResponse
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return Result{}, false, fmt.Errorf("failed to parse policy response: %w", err)
	}

	return mapVerdict(verdict, in), false, nil
}

// buildRequest flattens Input into the engine's subject/resource/action
// shape. MFA state and clearance travel as subject attrs so the engine
// can reference them in rules.
func buildRequest(in Input) pdpRequest {
	attrs := map[string]string{
		"clearance":     string(in.Clearance),
		"allow_export":  fmt.Sprintf("%t", in.AllowExport),
		"mfa_satisfied": fmt.Sprintf("%t", in.MFASatisfied),
	}
	for k, v := range in.Extra {
		attrs[k] = v
	}

	return pdpRequest{
		Subject: pdpSubject{ID: in.SubjectID, Groups: in.Groups, Attrs: attrs},
		Resource: pdpResource{
			FragmentID: in.FragmentID,
			DocumentID: in.DocumentID,
			Label:      string(in.Label),
			Source:     in.Source,
			Owner:      in.OwnerID,
			Tenant:     in.TenantID,
		},
		Action: in.Action,
	}
}

// mapVerdict applies the decision mapping in priority order. A step-up
// demand from an engine is absorbed when the subject's session already
// satisfies MFA; the verdict then falls through to the allow bit.
func mapVerdict(v pdpResponse, in Input) Result {
	if v.StepUpRequired && !in.MFASatisfied {
		return Result{Decision: DecisionStepUp, Reason: v.Reason, RuleID: v.RuleID}
	}
	if v.Allow {
		return Result{Decision: DecisionAllow, Reason: v.Reason, RuleID: v.RuleID}
	}
	reason := v.Reason
	if reason == "" {
		reason = "denied by policy"
	}
	return Result{Decision: DecisionDeny, Reason: reason, RuleID: v.RuleID}
}
