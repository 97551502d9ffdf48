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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"veilgate/platform/shared/types"
)

// PostgresStore persists the corpus in PostgreSQL. Embeddings are stored
// as float8[] and ranked in process; reads within one request see a
// consistent snapshot through a single connection pool.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and runs schema migrations.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := createCorpusTables(db); err != nil {
		return nil, fmt.Errorf("failed to create corpus tables: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle (used by tests).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying pool so the ledger can share it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// LoadSubject reads one subject row.
func (s *PostgresStore) LoadSubject(ctx context.Context, id string) (*types.Subject, error) {
	query := `
		SELECT id, email, groups, assurance, clearance, allow_export, extra_attrs, tenant_id
		FROM subjects
		WHERE id = $1
	`

	var sub types.Subject
	var groups pq.StringArray
	var clearance string
	var extraJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID, &sub.Email, &groups, &sub.Assurance,
		&clearance, &sub.Attrs.AllowExport, &extraJSON, &sub.TenantID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load subject: %v", ErrUnavailable, err)
	}

	sub.Groups = []string(groups)
	sub.Attrs.Clearance = types.Clearance(clearance)
	if len(extraJSON) > 0 {
		_ = json.Unmarshal(extraJSON, &sub.Attrs.Extra)
	}
	return &sub, nil
}

// UpsertSubject creates or replaces a subject row.
func (s *PostgresStore) UpsertSubject(ctx context.Context, sub *types.Subject) error {
	extraJSON, err := json.Marshal(sub.Attrs.Extra)
	if err != nil {
		extraJSON = []byte("{}")
	}

	query := `
		INSERT INTO subjects (id, email, groups, assurance, clearance, allow_export, extra_attrs, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			groups = EXCLUDED.groups,
			assurance = EXCLUDED.assurance,
			clearance = EXCLUDED.clearance,
			allow_export = EXCLUDED.allow_export,
			extra_attrs = EXCLUDED.extra_attrs
	`

	_, err = s.db.ExecContext(ctx, query,
		sub.ID, sub.Email, pq.Array(sub.Groups), sub.Assurance,
		string(sub.Attrs.Clearance), sub.Attrs.AllowExport, extraJSON, sub.TenantID,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert subject: %v", ErrUnavailable, err)
	}
	return nil
}

// InsertDocument registers a document. Owner and tenant are write-once;
// path, title, and mime may be updated.
func (s *PostgresStore) InsertDocument(ctx context.Context, d *types.Document) error {
	query := `
		INSERT INTO documents (id, source, path, title, mime, owner_id, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			title = EXCLUDED.title,
			mime = EXCLUDED.mime
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Source, d.Path, d.Title, d.Mime, d.OwnerID, d.TenantID)
	if err != nil {
		return fmt.Errorf("%w: insert document: %v", ErrUnavailable, err)
	}
	return nil
}

// AddClassification appends a classification row for a document.
func (s *PostgresStore) AddClassification(ctx context.Context, c *types.Classification) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO classifications (document_id, label, confidence, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.DocumentID, string(c.Label), c.Confidence, c.Reason, createdAt)
	if err != nil {
		return fmt.Errorf("%w: add classification: %v", ErrUnavailable, err)
	}
	return nil
}

// InsertFragment stores a fragment with its embedding and label.
func (s *PostgresStore) InsertFragment(ctx context.Context, f *types.Fragment) error {
	query := `
		INSERT INTO fragments (id, document_id, ordinal, text, embedding, label)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.DocumentID, f.Ordinal, f.Text, pq.Array(f.Embedding), string(f.Label))
	if err != nil {
		return fmt.Errorf("%w: insert fragment: %v", ErrUnavailable, err)
	}
	return nil
}

// PreFilterFragments loads the tenant's label-eligible fragments and
// ranks them by similarity in process. The SQL filter keeps the tenant
// boundary in the database; the policy engine re-checks it per fragment.
func (s *PostgresStore) PreFilterFragments(ctx context.Context, tenant string, allowedLabels []types.Label, queryVec []float64, limit int) ([]types.FragmentCandidate, error) {
	if len(allowedLabels) == 0 {
		return nil, nil
	}

	labels := make([]string, len(allowedLabels))
	for i, l := range allowedLabels {
		labels[i] = string(l)
	}

	query := `
		SELECT f.id, f.document_id, f.text, f.label, f.embedding,
		       d.source, d.owner_id, d.tenant_id
		FROM fragments f
		JOIN documents d ON d.id = f.document_id
		WHERE d.tenant_id = $1
		  AND f.label = ANY($2)
		  AND f.embedding IS NOT NULL
		ORDER BY f.id
	`

	rows, err := s.db.QueryContext(ctx, query, tenant, pq.Array(labels))
	if err != nil {
		return nil, fmt.Errorf("%w: pre-filter query: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []types.FragmentCandidate
	for rows.Next() {
		var c types.FragmentCandidate
		var label string
		var embedding pq.Float64Array

		err := rows.Scan(&c.FragmentID, &c.DocumentID, &c.Text, &label,
			&embedding, &c.Source, &c.OwnerID, &c.TenantID)
		if err != nil {
			return nil, fmt.Errorf("%w: pre-filter scan: %v", ErrUnavailable, err)
		}

		c.Label = types.Label(label)
		sim, err := CosineSimilarity(queryVec, []float64(embedding))
		if err != nil {
			// Dimension drift between the query vector and a stored
			// embedding is an ingestion defect; skip the fragment.
			continue
		}
		c.Similarity = sim
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pre-filter rows: %v", ErrUnavailable, err)
	}

	return rankCandidates(candidates, limit), nil
}

// RetentionRule looks up the rule for (label, source).
func (s *PostgresStore) RetentionRule(ctx context.Context, label types.Label, source string) (*types.RetentionRule, error) {
	query := `
		SELECT label, source, days_to_live, legal_hold
		FROM retention_rules
		WHERE label = $1 AND source = $2
	`

	var r types.RetentionRule
	var labelStr string
	err := s.db.QueryRowContext(ctx, query, string(label), source).Scan(
		&labelStr, &r.Source, &r.DaysToLive, &r.LegalHold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: retention rule: %v", ErrUnavailable, err)
	}
	r.Label = types.Label(labelStr)
	return &r, nil
}

// createCorpusTables creates the corpus tables if they don't exist
func createCorpusTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS subjects (
		id VARCHAR(255) PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		groups TEXT[] NOT NULL DEFAULT '{}',
		assurance INTEGER NOT NULL DEFAULT 1,
		clearance VARCHAR(32) NOT NULL,
		allow_export BOOLEAN NOT NULL DEFAULT FALSE,
		extra_attrs JSONB,
		tenant_id VARCHAR(255) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(255) PRIMARY KEY,
		source VARCHAR(255) NOT NULL,
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		mime VARCHAR(255) NOT NULL,
		owner_id VARCHAR(255) NOT NULL,
		tenant_id VARCHAR(255) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classifications (
		id SERIAL PRIMARY KEY,
		document_id VARCHAR(255) NOT NULL REFERENCES documents(id),
		label VARCHAR(32) NOT NULL CHECK (label IN ('Public', 'Internal', 'Confidential', 'Regulated')),
		confidence DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
		reason TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS fragments (
		id VARCHAR(255) PRIMARY KEY,
		document_id VARCHAR(255) NOT NULL REFERENCES documents(id),
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding FLOAT8[],
		label VARCHAR(32) NOT NULL CHECK (label IN ('Public', 'Internal', 'Confidential', 'Regulated'))
	);

	CREATE TABLE IF NOT EXISTS permissions (
		id SERIAL PRIMARY KEY,
		subject_id VARCHAR(255) NOT NULL,
		object_id VARCHAR(255) NOT NULL,
		relation VARCHAR(64) NOT NULL,
		attrs JSONB
	);

	CREATE TABLE IF NOT EXISTS retention_rules (
		label VARCHAR(32) NOT NULL,
		source VARCHAR(255) NOT NULL,
		days_to_live INTEGER NOT NULL,
		legal_hold BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (label, source)
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_document_id ON fragments(document_id);
	CREATE INDEX IF NOT EXISTS idx_fragments_label ON fragments(label);
	CREATE INDEX IF NOT EXISTS idx_documents_tenant_id ON documents(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_classifications_document_id ON classifications(document_id, created_at DESC);
	`

	_, err := db.Exec(query)
	return err
}
