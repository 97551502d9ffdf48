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

// Package types defines the domain entities shared across the VeilGate
// platform: subjects, documents, fragments, and sensitivity labels.
package types

import (
	"fmt"
	"time"
)

// Label is a document sensitivity classification.
// Labels form a total order: Public < Internal < Confidential < Regulated.
type Label string

const (
	LabelPublic       Label = "Public"
	LabelInternal     Label = "Internal"
	LabelConfidential Label = "Confidential"
	LabelRegulated    Label = "Regulated"
)

// labelRank maps each label to its position in the total order.
var labelRank = map[Label]int{
	LabelPublic:       0,
	LabelInternal:     1,
	LabelConfidential: 2,
	LabelRegulated:    3,
}

// Rank returns the label's position in the total order, or -1 for an
// unknown label.
func (l Label) Rank() int {
	if r, ok := labelRank[l]; ok {
		return r
	}
	return -1
}

// Valid reports whether l is one of the four known labels.
func (l Label) Valid() bool {
	return l.Rank() >= 0
}

// ParseLabel converts a string into a Label, rejecting unknown values.
func ParseLabel(s string) (Label, error) {
	l := Label(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown sensitivity label %q", s)
	}
	return l, nil
}

// Clearance is a subject attribute selecting the maximal admissible label.
// Clearance values are the lowercase forms of the label names.
type Clearance string

const (
	ClearancePublic       Clearance = "public"
	ClearanceInternal     Clearance = "internal"
	ClearanceConfidential Clearance = "confidential"
	ClearanceRegulated    Clearance = "regulated"
)

// MaxLabel returns the highest label a clearance admits.
func (c Clearance) MaxLabel() (Label, error) {
	switch c {
	case ClearancePublic:
		return LabelPublic, nil
	case ClearanceInternal:
		return LabelInternal, nil
	case ClearanceConfidential:
		return LabelConfidential, nil
	case ClearanceRegulated:
		return LabelRegulated, nil
	}
	return "", fmt.Errorf("unknown clearance %q", string(c))
}

// AllowedLabels returns the prefix of the label order admitted by the
// clearance: public -> {Public}, internal -> {Public, Internal}, and so on.
// Unknown clearances admit nothing (deny by default).
func AllowedLabels(c Clearance) []Label {
	max, err := c.MaxLabel()
	if err != nil {
		return nil
	}
	all := []Label{LabelPublic, LabelInternal, LabelConfidential, LabelRegulated}
	return all[:max.Rank()+1]
}

// Attributes is the typed attribute record carried by every subject.
// Known fields are typed; Extra passes through engine-specific attributes
// as an opaque string bag.
type Attributes struct {
	Clearance    Clearance         `json:"clearance"`
	AllowExport  bool              `json:"allow_export"`
	MFASatisfied bool              `json:"mfa_satisfied"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Subject is an authenticated principal.
type Subject struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Groups    []string   `json:"groups"`
	Assurance int        `json:"assurance"` // identity assurance level, 1..3
	Attrs     Attributes `json:"attrs"`
	TenantID  string     `json:"tenant_id"`
}

// Document is a source document registered by the corpus ingester.
// Owner and tenant are immutable after creation.
type Document struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Mime     string `json:"mime"`
	OwnerID  string `json:"owner_id"`
	TenantID string `json:"tenant_id"`
}

// Classification records a label assignment for a document. A document
// may be classified multiple times; the current label is the most recent.
type Classification struct {
	DocumentID string    `json:"document_id"`
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"` // 0.0 to 1.0
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fragment is the smallest retrieval unit: a contiguous piece of a
// document with an embedding and a denormalized label. Labels never
// downgrade after creation; re-indexing produces new fragments.
type Fragment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"-"`
	Label      Label     `json:"label"`
}

// FragmentCandidate is a fragment surfaced by the pre-filter, carrying
// the provenance fields the policy engine needs plus its similarity to
// the query vector (1 - cosine distance, in [0,1]).
type FragmentCandidate struct {
	FragmentID string  `json:"fragment_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Label      Label   `json:"label"`
	Source     string  `json:"source"`
	OwnerID    string  `json:"owner_id"`
	TenantID   string  `json:"tenant_id"`
	Similarity float64 `json:"similarity"`
}

// Permission is a (subject, object, relation) tuple surfaced to the
// policy engine. The core stores and forwards it; it does not evaluate it.
type Permission struct {
	SubjectID string            `json:"subject_id"`
	ObjectID  string            `json:"object_id"`
	Relation  string            `json:"relation"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// RetentionRule maps (label, source) to a time-to-live and legal-hold
// flag. The reaper that enforces TTLs lives outside this core.
type RetentionRule struct {
	Label      Label  `json:"label"`
	Source     string `json:"source"`
	DaysToLive int    `json:"days_to_live"`
	LegalHold  bool   `json:"legal_hold"`
}
