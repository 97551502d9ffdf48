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
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"veilgate/platform/shared/logger"
)

// RedisStore shares step-up state across gateway instances. Keys carry
// the TTL; Redis expiry implements the state machine's timeout edge.
type RedisStore struct {
	client *redis.Client
	logger *logger.Logger
}

// NewRedisStore connects to Redis at redisURL (redis://host:port[/db])
// and verifies the connection before returning.
func NewRedisStore(redisURL string, log *logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, logger: log}, nil
}

func stepUpKey(subjectID string) string {
	return fmt.Sprintf("stepup:%s", subjectID)
}

// Assert writes the satisfied marker with the TTL. SET on an existing
// key resets the expiry, giving the idempotent-extend semantics.
func (s *RedisStore) Assert(ctx context.Context, subjectID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, stepUpKey(subjectID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to record step-up assertion: %w", err)
	}
	return nil
}

// Satisfied checks for a live marker. A Redis failure counts as
// unsatisfied; step-up state must never fail open.
func (s *RedisStore) Satisfied(ctx context.Context, subjectID string) bool {
	n, err := s.client.Exists(ctx, stepUpKey(subjectID)).Result()
	if err != nil {
		s.logger.Warn("", "", "Step-up lookup failed, treating as unsatisfied", map[string]interface{}{
			"subject_id": subjectID,
			"error":      err.Error(),
		})
		return false
	}
	return n > 0
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
