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

package artifact

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	location, err := s.Put(context.Background(), "export-abc123.csv", "text/csv", []byte("id,text\n"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(location, "file://") {
		t.Errorf("expected file:// location, got %q", location)
	}

	data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(data) != "id,text\n" {
		t.Errorf("artifact content wrong: %q", data)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	location, err := s.Put(context.Background(), "../../etc/passwd", "text/plain", []byte("x"))
	if err != nil {
		// Fully rejected is acceptable.
		return
	}
	if !strings.HasPrefix(location, "file://"+dir) {
		t.Errorf("artifact escaped the store directory: %q", location)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"export-1.csv", "export-1.csv"},
		{"../../x", "..x"},
		{"a/b/c", "abc"},
		{"..", ""},
		{"///", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
