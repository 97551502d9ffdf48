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

// Package session tracks step-up (second factor) assertions. A subject
// is "satisfied" iff an Assert occurred within the TTL window; a repeat
// Assert extends the window from now. Lookups never fail open: if the
// backing store cannot answer, the subject is treated as unsatisfied.
package session

import (
	"context"
	"sync"
	"time"
)

// Store records and checks step-up assertions.
type Store interface {
	// Assert marks the subject's second factor as satisfied for ttl.
	Assert(ctx context.Context, subjectID string, ttl time.Duration) error
	// Satisfied reports whether the subject asserted within the TTL.
	Satisfied(ctx context.Context, subjectID string) bool
	// Close releases backing resources.
	Close() error
}

// MemoryStore keeps assertions in process memory with a periodic
// janitor sweeping expired entries. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // subject -> expiry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryStore creates a memory store. sweepInterval controls how
// often expired entries are reclaimed; zero selects one minute.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	go s.janitor(sweepInterval)
	return s
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for subject, expiry := range s.entries {
				if now.After(expiry) {
					delete(s.entries, subject)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) Assert(_ context.Context, subjectID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[subjectID] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Satisfied(_ context.Context, subjectID string) bool {
	s.mu.RLock()
	expiry, ok := s.entries[subjectID]
	s.mu.RUnlock()
	return ok && time.Now().Before(expiry)
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
