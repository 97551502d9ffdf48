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
	"sync"
	"time"

	"veilgate/platform/shared/types"
)

// MemoryStore keeps the corpus in process memory. It backs unit tests
// and local runs without postgres, mirroring PostgresStore semantics.
type MemoryStore struct {
	mu              sync.RWMutex
	subjects        map[string]*types.Subject
	documents       map[string]*types.Document
	classifications map[string][]types.Classification // document ID -> chronological
	fragments       map[string]*types.Fragment
	retention       map[string]types.RetentionRule // label|source -> rule
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:        make(map[string]*types.Subject),
		documents:       make(map[string]*types.Document),
		classifications: make(map[string][]types.Classification),
		fragments:       make(map[string]*types.Fragment),
		retention:       make(map[string]types.RetentionRule),
	}
}

// LoadSubject reads one subject.
func (m *MemoryStore) LoadSubject(ctx context.Context, id string) (*types.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subjects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// UpsertSubject creates or replaces a subject.
func (m *MemoryStore) UpsertSubject(ctx context.Context, s *types.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.subjects[s.ID] = &cp
	return nil
}

// InsertDocument registers a document.
func (m *MemoryStore) InsertDocument(ctx context.Context, d *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.documents[d.ID] = &cp
	return nil
}

// AddClassification appends a classification for a document.
func (m *MemoryStore) AddClassification(ctx context.Context, c *types.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.classifications[c.DocumentID] = append(m.classifications[c.DocumentID], cp)
	return nil
}

// CurrentLabel returns the most recent classification label for a
// document, or ErrNotFound when the document was never classified.
func (m *MemoryStore) CurrentLabel(ctx context.Context, documentID string) (types.Label, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.classifications[documentID]
	if len(history) == 0 {
		return "", ErrNotFound
	}
	latest := history[0]
	for _, c := range history[1:] {
		if c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest.Label, nil
}

// InsertFragment stores a fragment with a copy of its embedding.
func (m *MemoryStore) InsertFragment(ctx context.Context, f *types.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *f
	cp.Embedding = append([]float64(nil), f.Embedding...)
	m.fragments[f.ID] = &cp
	return nil
}

// PreFilterFragments implements the label-aware vector pre-filter.
func (m *MemoryStore) PreFilterFragments(ctx context.Context, tenant string, allowedLabels []types.Label, queryVec []float64, limit int) ([]types.FragmentCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed := make(map[types.Label]bool, len(allowedLabels))
	for _, l := range allowedLabels {
		allowed[l] = true
	}

	var candidates []types.FragmentCandidate
	for _, f := range m.fragments {
		if len(f.Embedding) == 0 || !allowed[f.Label] {
			continue
		}
		doc, ok := m.documents[f.DocumentID]
		if !ok || doc.TenantID != tenant {
			continue
		}
		sim, err := CosineSimilarity(queryVec, f.Embedding)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, types.FragmentCandidate{
			FragmentID: f.ID,
			DocumentID: f.DocumentID,
			Text:       f.Text,
			Label:      f.Label,
			Source:     doc.Source,
			OwnerID:    doc.OwnerID,
			TenantID:   doc.TenantID,
			Similarity: sim,
		})
	}

	return rankCandidates(candidates, limit), nil
}

// SetRetentionRule configures a retention rule (seeding path).
func (m *MemoryStore) SetRetentionRule(ctx context.Context, r types.RetentionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retention[string(r.Label)+"|"+r.Source] = r
	return nil
}

// RetentionRule looks up the rule for (label, source).
func (m *MemoryStore) RetentionRule(ctx context.Context, label types.Label, source string) (*types.RetentionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.retention[string(label)+"|"+source]
	if !ok {
		return nil, ErrNotFound
	}
	cp := r
	return &cp, nil
}
