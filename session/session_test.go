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

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"veilgate/platform/shared/logger"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if s.Satisfied(ctx, "bob") {
		t.Error("unasserted subject reported satisfied")
	}

	if err := s.Assert(ctx, "bob", time.Minute); err != nil {
		t.Fatalf("assert: %v", err)
	}
	if !s.Satisfied(ctx, "bob") {
		t.Error("asserted subject reported unsatisfied")
	}
	if s.Satisfied(ctx, "alice") {
		t.Error("assertion leaked across subjects")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(5 * time.Millisecond)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_ = s.Assert(ctx, "bob", 20*time.Millisecond)
	if !s.Satisfied(ctx, "bob") {
		t.Fatal("expected satisfied before expiry")
	}

	time.Sleep(40 * time.Millisecond)
	if s.Satisfied(ctx, "bob") {
		t.Error("expected unsatisfied after expiry")
	}
}

func TestMemoryStoreIdempotentExtend(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_ = s.Assert(ctx, "bob", 30*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	// Re-assert resets the window from now.
	_ = s.Assert(ctx, "bob", 30*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if !s.Satisfied(ctx, "bob") {
		t.Error("re-assert must extend the window")
	}
}

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), logger.New("session-test"))
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestRedisStoreLifecycle(t *testing.T) {
	_, s := newRedisStore(t)
	ctx := context.Background()

	if s.Satisfied(ctx, "bob") {
		t.Error("unasserted subject reported satisfied")
	}
	if err := s.Assert(ctx, "bob", time.Minute); err != nil {
		t.Fatalf("assert: %v", err)
	}
	if !s.Satisfied(ctx, "bob") {
		t.Error("asserted subject reported unsatisfied")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	mr, s := newRedisStore(t)
	ctx := context.Background()

	_ = s.Assert(ctx, "bob", 5*time.Second)
	mr.FastForward(6 * time.Second)

	if s.Satisfied(ctx, "bob") {
		t.Error("expected unsatisfied after TTL elapsed")
	}
}

func TestRedisStoreFailsClosed(t *testing.T) {
	mr, s := newRedisStore(t)
	ctx := context.Background()

	_ = s.Assert(ctx, "bob", time.Minute)
	mr.Close()

	if s.Satisfied(ctx, "bob") {
		t.Error("backend failure must read as unsatisfied")
	}
}
