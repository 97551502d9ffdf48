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

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"veilgate/platform/shared/types"
)

func seedCorpus(t *testing.T, m *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	docs := []types.Document{
		{ID: "doc-pub", Source: "wiki", Path: "/pub", Title: "Public doc", Mime: "text/plain", OwnerID: "alice", TenantID: "dash"},
		{ID: "doc-int", Source: "wiki", Path: "/int", Title: "Internal doc", Mime: "text/plain", OwnerID: "alice", TenantID: "dash"},
		{ID: "doc-conf", Source: "hr", Path: "/conf", Title: "Confidential doc", Mime: "text/plain", OwnerID: "sam", TenantID: "dash"},
		{ID: "doc-other", Source: "wiki", Path: "/other", Title: "Other tenant", Mime: "text/plain", OwnerID: "eve", TenantID: "acme"},
	}
	for i := range docs {
		if err := m.InsertDocument(ctx, &docs[i]); err != nil {
			t.Fatalf("insert document: %v", err)
		}
	}

	frags := []types.Fragment{
		{ID: "f-pub", DocumentID: "doc-pub", Ordinal: 0, Text: "public text", Embedding: []float64{1, 0, 0}, Label: types.LabelPublic},
		{ID: "f-int", DocumentID: "doc-int", Ordinal: 0, Text: "internal text", Embedding: []float64{0.9, 0.1, 0}, Label: types.LabelInternal},
		{ID: "f-conf", DocumentID: "doc-conf", Ordinal: 0, Text: "confidential text", Embedding: []float64{0.8, 0.2, 0}, Label: types.LabelConfidential},
		{ID: "f-other", DocumentID: "doc-other", Ordinal: 0, Text: "other tenant text", Embedding: []float64{1, 0, 0}, Label: types.LabelPublic},
		{ID: "f-noemb", DocumentID: "doc-pub", Ordinal: 1, Text: "no embedding", Label: types.LabelPublic},
	}
	for i := range frags {
		if err := m.InsertFragment(ctx, &frags[i]); err != nil {
			t.Fatalf("insert fragment: %v", err)
		}
	}
}

func TestMemoryStoreLoadSubject(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	sub := &types.Subject{
		ID:       "alice",
		Email:    "alice@dash.example",
		Groups:   []string{"eng"},
		Attrs:    types.Attributes{Clearance: types.ClearanceInternal},
		TenantID: "dash",
	}
	if err := m.UpsertSubject(ctx, sub); err != nil {
		t.Fatalf("upsert subject: %v", err)
	}

	got, err := m.LoadSubject(ctx, "alice")
	if err != nil {
		t.Fatalf("load subject: %v", err)
	}
	if got.Email != "alice@dash.example" || got.TenantID != "dash" {
		t.Errorf("unexpected subject: %+v", got)
	}

	if _, err := m.LoadSubject(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStorePreFilterTenantIsolation(t *testing.T) {
	m := NewMemoryStore()
	seedCorpus(t, m)

	all := []types.Label{types.LabelPublic, types.LabelInternal, types.LabelConfidential, types.LabelRegulated}
	candidates, err := m.PreFilterFragments(context.Background(), "dash", all, []float64{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("pre-filter: %v", err)
	}

	for _, c := range candidates {
		if c.TenantID != "dash" {
			t.Errorf("tenant isolation violated: fragment %s belongs to %s", c.FragmentID, c.TenantID)
		}
		if c.FragmentID == "f-other" {
			t.Error("cross-tenant fragment returned")
		}
		if c.FragmentID == "f-noemb" {
			t.Error("fragment without embedding returned")
		}
	}
}

func TestMemoryStorePreFilterLabelFilter(t *testing.T) {
	m := NewMemoryStore()
	seedCorpus(t, m)

	candidates, err := m.PreFilterFragments(context.Background(), "dash",
		[]types.Label{types.LabelPublic, types.LabelInternal}, []float64{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("pre-filter: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.Label == types.LabelConfidential || c.Label == types.LabelRegulated {
			t.Errorf("label filter violated: %s has label %s", c.FragmentID, c.Label)
		}
	}
}

func TestMemoryStorePreFilterOrdering(t *testing.T) {
	m := NewMemoryStore()
	seedCorpus(t, m)

	all := []types.Label{types.LabelPublic, types.LabelInternal, types.LabelConfidential}
	candidates, err := m.PreFilterFragments(context.Background(), "dash", all, []float64{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("pre-filter: %v", err)
	}

	for i := 1; i < len(candidates); i++ {
		prev, cur := candidates[i-1], candidates[i]
		if prev.Similarity < cur.Similarity {
			t.Errorf("ordering violated: %s (%f) before %s (%f)",
				prev.FragmentID, prev.Similarity, cur.FragmentID, cur.Similarity)
		}
		if prev.Similarity == cur.Similarity && prev.FragmentID > cur.FragmentID {
			t.Errorf("tie-break violated: %s before %s", prev.FragmentID, cur.FragmentID)
		}
	}

	// f-pub is an exact match and must rank first.
	if len(candidates) == 0 || candidates[0].FragmentID != "f-pub" {
		t.Errorf("expected f-pub first, got %v", candidates)
	}
}

func TestMemoryStoreCurrentLabel(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.InsertDocument(ctx, &types.Document{ID: "d1", TenantID: "dash"}); err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	_ = m.AddClassification(ctx, &types.Classification{DocumentID: "d1", Label: types.LabelPublic, Confidence: 0.6, CreatedAt: base})
	_ = m.AddClassification(ctx, &types.Classification{DocumentID: "d1", Label: types.LabelConfidential, Confidence: 0.9, CreatedAt: base.Add(time.Hour)})

	label, err := m.CurrentLabel(ctx, "d1")
	if err != nil {
		t.Fatalf("current label: %v", err)
	}
	if label != types.LabelConfidential {
		t.Errorf("expected most recent label Confidential, got %s", label)
	}
}

func TestMemoryStoreRetentionRule(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	rule := types.RetentionRule{Label: types.LabelRegulated, Source: "hr", DaysToLive: 2555, LegalHold: true}
	if err := m.SetRetentionRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	got, err := m.RetentionRule(ctx, types.LabelRegulated, "hr")
	if err != nil {
		t.Fatalf("retention rule: %v", err)
	}
	if !got.LegalHold || got.DaysToLive != 2555 {
		t.Errorf("unexpected rule: %+v", got)
	}

	if _, err := m.RetentionRule(ctx, types.LabelPublic, "wiki"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
