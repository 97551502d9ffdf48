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

// Package artifact persists export artifacts (CSV/JSON bundles produced
// by the export endpoint) and returns an addressable location for each.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes one named artifact and returns its location.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// LocalStore writes artifacts under a directory. Used for local runs
// and tests.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes the artifact and returns a file:// location. Names are
// sanitized to a flat namespace; path traversal is not expressible.
func (s *LocalStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	safe := sanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	path := filepath.Join(s.dir, safe)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return "file://" + path, nil
}

// sanitizeName keeps alphanumerics, dash, underscore, and dot, and
// rejects names that reduce to nothing or to relative path tokens.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	safe := b.String()
	if safe == "" || strings.Trim(safe, ".") == "" {
		return ""
	}
	return safe
}
