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

// Package store persists the governed corpus: subjects, documents,
// classifications, fragments with embeddings, permissions, and
// retention rules. Two implementations are provided: PostgresStore for
// production and MemoryStore for tests and local runs.
package store

import (
	"context"
	"errors"

	"veilgate/platform/shared/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps transient transport failures. Callers may retry;
// the gateway surfaces it as 503.
var ErrUnavailable = errors.New("store unavailable")

// Store answers the two retrieval shapes the core needs plus the
// write paths the ingester contract requires.
type Store interface {
	// LoadSubject reads one subject row. Returns ErrNotFound if absent.
	LoadSubject(ctx context.Context, id string) (*types.Subject, error)

	// PreFilterFragments returns fragments in the tenant whose label is
	// in allowedLabels and whose embedding is non-null, ordered by
	// descending similarity to queryVec (1 - cosine distance), ties
	// broken by ascending fragment ID. At most limit candidates.
	PreFilterFragments(ctx context.Context, tenant string, allowedLabels []types.Label, queryVec []float64, limit int) ([]types.FragmentCandidate, error)

	// UpsertSubject creates or replaces a subject (identity provider path).
	UpsertSubject(ctx context.Context, s *types.Subject) error

	// InsertDocument registers a document produced by the ingester.
	InsertDocument(ctx context.Context, d *types.Document) error

	// AddClassification appends a classification for a document. The
	// most recent classification is the document's current label.
	AddClassification(ctx context.Context, c *types.Classification) error

	// InsertFragment stores a fragment with its embedding and label.
	InsertFragment(ctx context.Context, f *types.Fragment) error

	// RetentionRule returns the retention rule for (label, source),
	// or ErrNotFound when none is configured.
	RetentionRule(ctx context.Context, label types.Label, source string) (*types.RetentionRule, error)
}
