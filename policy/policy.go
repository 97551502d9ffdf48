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

// Package policy adapts an external policy decision point (PDP) into a
// three-valued decision the gateway can enforce. The adapter is
// fail-closed: any transport, timeout, or protocol failure yields DENY
// with reason "policy-unavailable". There is no code path from an
// adapter failure to ALLOW.
package policy

import (
	"context"

	"veilgate/platform/shared/types"
)

// Decision is the gateway-enforceable outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionDeny   Decision = "DENY"
	DecisionStepUp Decision = "STEP_UP_REQUIRED"
)

// ReasonUnavailable is the deny reason used whenever the PDP cannot be
// reached or returns an unusable response.
const ReasonUnavailable = "policy-unavailable"

// ReasonCancelled is the deny reason used when the caller's context is
// cancelled or its deadline expires before a verdict is obtained. It is
// distinct from ReasonUnavailable so a client disconnect is never
// mistaken for an engine outage.
const ReasonCancelled = "cancelled"

// Input carries everything the PDP needs to evaluate one fragment
// access: who is asking, what they are asking for, and under which
// action ("read" or "export").
type Input struct {
	SubjectID    string             `json:"subject_id"`
	Groups       []string           `json:"groups"`
	Clearance    types.Clearance    `json:"clearance"`
	AllowExport  bool               `json:"allow_export"`
	MFASatisfied bool               `json:"mfa_satisfied"`
	TenantID     string             `json:"tenant_id"`
	Action       string             `json:"action"`
	FragmentID   string             `json:"fragment_id"`
	DocumentID   string             `json:"document_id"`
	Label        types.Label        `json:"label"`
	Source       string             `json:"source"`
	OwnerID      string             `json:"owner_id"`
	Extra        map[string]string  `json:"extra,omitempty"`
}

// Result is the mapped PDP verdict.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	RuleID   string   `json:"rule_id,omitempty"`
}

// Allowed reports whether the result permits release.
func (r Result) Allowed() bool { return r.Decision == DecisionAllow }

// PDP evaluates a single access. Implementations must never return an
// error: unavailability is expressed as a DENY result so callers cannot
// accidentally fail open.
type PDP interface {
	Evaluate(ctx context.Context, in Input) Result
}

// Deny builds a deny result with the given reason.
func Deny(reason string) Result {
	return Result{Decision: DecisionDeny, Reason: reason}
}
