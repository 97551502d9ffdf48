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

// Package ledger provides the append-only, tamper-evident audit ledger.
// Every authorization-relevant event is recorded in a per-actor hash
// chain: each record commits to the SHA-256 digest of the actor's most
// recent prior record. Records are never updated or deleted; the
// database schema enforces this with a trigger guard.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Action identifies the authorization-relevant event being recorded.
type Action string

const (
	ActionQueryIssued      Action = "QUERY_ISSUED"
	ActionPDPDecision      Action = "PDP_DECISION"
	ActionStepUpRequired   Action = "STEP_UP_REQUIRED"
	ActionStepUpOK         Action = "STEP_UP_OK"
	ActionRedactionApplied Action = "REDACTION_APPLIED"
	ActionResultReturned   Action = "RESULT_RETURNED"
	ActionExportAttempted  Action = "EXPORT_ATTEMPTED"
	ActionExportGranted    Action = "EXPORT_GRANTED"
	ActionExportDenied     Action = "EXPORT_DENIED"
)

// Record is one entry in an actor's audit chain.
type Record struct {
	EventID    string                 `json:"event_id"`
	Ts         time.Time              `json:"ts"`
	Actor      string                 `json:"actor"`
	Action     Action                 `json:"action"`
	ObjectID   string                 `json:"object_id,omitempty"`
	ObjectType string                 `json:"object_type"`
	Decision   string                 `json:"decision"`
	Reason     string                 `json:"reason,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Hash       string                 `json:"hash"`
	PrevHash   string                 `json:"prev_hash,omitempty"` // empty for the chain head
}

// Entry holds the caller-supplied fields of an audit event. Identity,
// timestamp, and chain fields are assigned by Emit.
type Entry struct {
	Actor      string
	Action     Action
	ObjectID   string
	ObjectType string
	Decision   string
	Reason     string
	Metadata   map[string]interface{}
}

// VerifyResult reports chain integrity for one actor partition.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	Records      int      `json:"records"`
	BrokenLinks  []string `json:"broken_links,omitempty"`  // event IDs whose prev_hash mismatches
	FailedHashes []string `json:"failed_hashes,omitempty"` // event IDs whose stored hash does not recompute
}

// Ledger appends hash-chained audit records. It operates in two modes:
//   - Database mode: persists to PostgreSQL (production)
//   - Memory mode: keeps records in memory (testing, local runs)
//
// Per-actor emission is totally ordered: concurrent Emit calls for the
// same actor serialize on a per-actor mutex so prev_hash always names
// the most recent committed record. Across actors there is no ordering.
type Ledger struct {
	db        *sql.DB
	useMemory bool

	mu     sync.RWMutex // guards memory
	memory map[string][]Record

	actorMu    sync.Mutex // guards actorLocks
	actorLocks map[string]*sync.Mutex

	// Metrics
	emitted    uint64
	emitErrors uint64
}

// New creates a ledger backed by db. A nil db selects memory mode.
func New(db *sql.DB) (*Ledger, error) {
	l := &Ledger{
		db:         db,
		useMemory:  db == nil,
		memory:     make(map[string][]Record),
		actorLocks: make(map[string]*sync.Mutex),
	}

	if db != nil {
		if err := createAuditTables(db); err != nil {
			return nil, fmt.Errorf("failed to create audit tables: %w", err)
		}
	}

	return l, nil
}

// lockActor returns the mutex serializing emission for one actor.
func (l *Ledger) lockActor(actor string) *sync.Mutex {
	l.actorMu.Lock()
	defer l.actorMu.Unlock()

	m, ok := l.actorLocks[actor]
	if !ok {
		m = &sync.Mutex{}
		l.actorLocks[actor] = m
	}
	return m
}

// Emit appends one record to the actor's chain and returns its event ID
// and hash. The read of the previous hash and the insert happen inside
// a single transaction; partial writes are impossible.
func (l *Ledger) Emit(ctx context.Context, e Entry) (*Record, error) {
	if e.Actor == "" {
		return nil, errors.New("audit entry requires an actor")
	}
	if e.Action == "" {
		return nil, errors.New("audit entry requires an action")
	}

	mu := l.lockActor(e.Actor)
	mu.Lock()
	defer mu.Unlock()

	// Postgres keeps microseconds; truncate the timestamp so stored and
	// recomputed hashes agree.
	rec := Record{
		EventID:    uuid.New().String(),
		Ts:         time.Now().UTC().Truncate(time.Microsecond),
		Actor:      e.Actor,
		Action:     e.Action,
		ObjectID:   e.ObjectID,
		ObjectType: e.ObjectType,
		Decision:   e.Decision,
		Reason:     e.Reason,
		Metadata:   e.Metadata,
	}

	var err error
	if l.useMemory {
		err = l.emitToMemory(&rec)
	} else {
		err = l.emitToDB(ctx, &rec)
	}
	if err != nil {
		atomic.AddUint64(&l.emitErrors, 1)
		return nil, err
	}

	atomic.AddUint64(&l.emitted, 1)
	return &rec, nil
}

func (l *Ledger) emitToMemory(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain := l.memory[rec.Actor]
	if len(chain) > 0 {
		rec.PrevHash = chain[len(chain)-1].Hash
	}
	rec.Hash = computeHash(rec)
	l.memory[rec.Actor] = append(chain, *rec)
	return nil
}

func (l *Ledger) emitToDB(ctx context.Context, rec *Record) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevHash sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM audit_log WHERE actor = $1 ORDER BY seq DESC LIMIT 1`,
		rec.Actor,
	).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read chain head: %w", err)
	}
	if prevHash.Valid {
		rec.PrevHash = prevHash.String
	}

	rec.Hash = computeHash(rec)

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (
			event_id, ts, actor, action, object_id, object_type,
			decision, reason, metadata, hash, prev_hash
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10, NULLIF($11, ''))
	`,
		rec.EventID, rec.Ts, rec.Actor, string(rec.Action), rec.ObjectID, rec.ObjectType,
		rec.Decision, rec.Reason, metadata, rec.Hash, rec.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return tx.Commit()
}

// ReadByActor returns the actor's records newest-first, at most limit.
func (l *Ledger) ReadByActor(ctx context.Context, actor string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	if l.useMemory {
		l.mu.RLock()
		defer l.mu.RUnlock()

		chain := l.memory[actor]
		out := make([]Record, 0, limit)
		for i := len(chain) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, chain[i])
		}
		return out, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, ts, actor, action, COALESCE(object_id, ''), object_type,
		       decision, COALESCE(reason, ''), metadata, hash, COALESCE(prev_hash, '')
		FROM audit_log
		WHERE actor = $1
		ORDER BY seq DESC
		LIMIT $2
	`, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// readChronological returns the actor's full chain oldest-first.
func (l *Ledger) readChronological(ctx context.Context, actor string) ([]Record, error) {
	if l.useMemory {
		l.mu.RLock()
		defer l.mu.RUnlock()

		return append([]Record(nil), l.memory[actor]...), nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, ts, actor, action, COALESCE(object_id, ''), object_type,
		       decision, COALESCE(reason, ''), metadata, hash, COALESCE(prev_hash, '')
		FROM audit_log
		WHERE actor = $1
		ORDER BY seq ASC
	`, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var action string
		var metadata []byte

		err := rows.Scan(&rec.EventID, &rec.Ts, &rec.Actor, &action, &rec.ObjectID,
			&rec.ObjectType, &rec.Decision, &rec.Reason, &metadata, &rec.Hash, &rec.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		rec.Action = Action(action)
		rec.Ts = rec.Ts.UTC()
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Verify walks the actor's chain in chronological order, recomputing
// every hash and checking every prev_hash link.
func (l *Ledger) Verify(ctx context.Context, actor string) (*VerifyResult, error) {
	chain, err := l.readChronological(ctx, actor)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, Records: len(chain)}
	prevHash := ""
	for _, rec := range chain {
		if computeHash(&rec) != rec.Hash {
			result.Valid = false
			result.FailedHashes = append(result.FailedHashes, rec.EventID)
		}
		if rec.PrevHash != prevHash {
			result.Valid = false
			result.BrokenLinks = append(result.BrokenLinks, rec.EventID)
		}
		prevHash = rec.Hash
	}
	return result, nil
}

// Stats returns ledger counters.
func (l *Ledger) Stats() map[string]interface{} {
	l.mu.RLock()
	memoryActors := len(l.memory)
	l.mu.RUnlock()

	return map[string]interface{}{
		"emitted":       atomic.LoadUint64(&l.emitted),
		"emit_errors":   atomic.LoadUint64(&l.emitErrors),
		"memory_mode":   l.useMemory,
		"memory_actors": memoryActors,
	}
}

// computeHash generates the SHA-256 digest of a record's canonical form.
// Length-prefixed encoding prevents collision attacks across field
// boundaries; metadata is canonicalized as compact JSON with sorted keys.
func computeHash(rec *Record) string {
	fields := []string{
		rec.EventID,
		rec.Ts.UTC().Format(time.RFC3339Nano),
		rec.Actor,
		string(rec.Action),
		rec.ObjectID,
		rec.ObjectType,
		rec.Decision,
		rec.Reason,
		rec.PrevHash,
		canonicalMetadata(rec.Metadata),
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%d:%s", len(f), f)
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// canonicalMetadata renders metadata as compact JSON with sorted keys
// (encoding/json sorts map keys) and no insignificant whitespace.
func canonicalMetadata(m map[string]interface{}) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// createAuditTables creates the audit table and its append-only guard.
// UPDATE and DELETE are rejected at the database level.
func createAuditTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		event_id VARCHAR(255) NOT NULL UNIQUE,
		ts TIMESTAMPTZ NOT NULL,
		actor VARCHAR(255) NOT NULL,
		action VARCHAR(64) NOT NULL,
		object_id VARCHAR(255),
		object_type VARCHAR(64) NOT NULL,
		decision VARCHAR(32) NOT NULL,
		reason TEXT,
		metadata JSONB,
		hash CHAR(64) NOT NULL,
		prev_hash CHAR(64)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_actor_seq ON audit_log(actor, seq DESC);

	CREATE OR REPLACE FUNCTION audit_log_guard() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_log is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS audit_log_immutable ON audit_log;
	CREATE TRIGGER audit_log_immutable
		BEFORE UPDATE OR DELETE ON audit_log
		FOR EACH ROW EXECUTE FUNCTION audit_log_guard();
	`

	_, err := db.Exec(query)
	return err
}
