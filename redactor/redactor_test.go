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

package redactor

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"veilgate/platform/shared/types"
)

func TestRedactByLabel(t *testing.T) {
	r := New(DefaultCatalog())

	tests := []struct {
		name        string
		text        string
		label       types.Label
		wantText    string
		wantMatched []string
	}{
		{
			name:        "internal masks pii",
			text:        "Contact john@acme.com, SSN 123-45-6789",
			label:       types.LabelInternal,
			wantText:    "Contact ***@***.***, SSN XXX-XX-XXXX",
			wantMatched: []string{"email", "ssn"},
		},
		{
			name:        "public untouched",
			text:        "Contact john@acme.com, SSN 123-45-6789",
			label:       types.LabelPublic,
			wantText:    "Contact john@acme.com, SSN 123-45-6789",
			wantMatched: nil,
		},
		{
			name:        "internal leaves phi",
			text:        "DOB 04/12/1985, see handbook",
			label:       types.LabelInternal,
			wantText:    "DOB 04/12/1985, see handbook",
			wantMatched: nil,
		},
		{
			name:        "confidential masks phi",
			text:        "DOB 04/12/1985, MRN 48291734",
			label:       types.LabelConfidential,
			wantText:    "DOB XX/XX/XXXX, MRN-XXXXXXXX",
			wantMatched: []string{"dob", "mrn"},
		},
		{
			name:        "regulated masks everything",
			text:        "Card 4111 1111 1111 1111, DOB 04/12/1985",
			label:       types.LabelRegulated,
			wantText:    "Card XXXXXXXXXXXXXXX1111, DOB XX/XX/XXXX",
			wantMatched: []string{"dob", "pan"},
		},
		{
			name:        "phone masked",
			text:        "Call (415) 555-0134 today",
			label:       types.LabelInternal,
			wantText:    "Call (XXX) XXX-XXXX today",
			wantMatched: []string{"phone"},
		},
		{
			name:        "ip masked",
			text:        "host 10.0.42.7 unreachable",
			label:       types.LabelInternal,
			wantText:    "host XXX.XXX.XXX.XXX unreachable",
			wantMatched: []string{"ip_address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Redact(tt.text, tt.label)
			if got.Text != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text, tt.wantText)
			}
			if !reflect.DeepEqual(got.PatternsMatched, tt.wantMatched) {
				t.Errorf("matched = %v, want %v", got.PatternsMatched, tt.wantMatched)
			}
			wantChanged := tt.text != tt.wantText
			if got.Changed != wantChanged {
				t.Errorf("changed = %v, want %v", got.Changed, wantChanged)
			}
		})
	}
}

func TestRedactIsIdempotent(t *testing.T) {
	r := New(DefaultCatalog())

	texts := []string{
		"Contact john@acme.com, SSN 123-45-6789",
		"Card 4111 1111 1111 1111 expires soon",
		"DOB 04/12/1985, MRN 48291734, call (415) 555-0134",
		"plain text with no sensitive content",
	}
	labels := []types.Label{
		types.LabelPublic, types.LabelInternal,
		types.LabelConfidential, types.LabelRegulated,
	}

	for _, text := range texts {
		for _, label := range labels {
			once := r.Redact(text, label)
			twice := r.Redact(once.Text, label)
			if twice.Text != once.Text {
				t.Errorf("not idempotent for label %s: %q -> %q", label, once.Text, twice.Text)
			}
			if twice.Changed {
				t.Errorf("second pass reported changes for %q under %s", text, label)
			}
		}
	}
}

func TestRedactUnknownLabelIsRestrictive(t *testing.T) {
	r := New(DefaultCatalog())
	got := r.Redact("DOB 04/12/1985", types.Label("Mystery"))
	if got.Text != "DOB XX/XX/XXXX" {
		t.Errorf("unknown label must redact maximally, got %q", got.Text)
	}
}

func TestDetectCountsWithoutRewriting(t *testing.T) {
	r := New(DefaultCatalog())
	text := "a@b.com and c@d.org, SSN 123-45-6789"

	detections := r.Detect(text)
	if detections["email"] != 2 {
		t.Errorf("expected 2 email detections, got %d", detections["email"])
	}
	if detections["ssn"] != 1 {
		t.Errorf("expected 1 ssn detection, got %d", detections["ssn"])
	}
}

func TestKeepLastMasking(t *testing.T) {
	tests := []struct {
		in   string
		k    int
		want string
	}{
		{"4111111111111111", 4, "XXXXXXXXXXXX1111"},
		{"abc", 4, "abc"}, // shorter than k: untouched
		{"abcd", 4, "abcd"},
	}
	for _, tt := range tests {
		if got := maskKeepLast(tt.in, tt.k, 'X'); got != tt.want {
			t.Errorf("maskKeepLast(%q, %d) = %q, want %q", tt.in, tt.k, got, tt.want)
		}
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")

	valid := `patterns:
  - id: badge
    regex: '\bBADGE-\d{5}\b'
    category: PII
    mask: "BADGE-XXXXX"
  - id: account
    regex: '\bACCT\d{10}\b'
    category: PII
    keep_last: 2
`
	if err := os.WriteFile(path, []byte(valid), 0o644); err != nil {
		t.Fatal(err)
	}

	patterns, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}

	r := New(patterns)
	got := r.Redact("BADGE-12345 ACCT1234567890", types.LabelInternal)
	if got.Text != "BADGE-XXXXX XXXXXXXXXXXX90" {
		t.Errorf("custom catalog redaction wrong: %q", got.Text)
	}
}

func TestLoadFailsClosed(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		yaml string
	}{
		{"invalid regex", "patterns:\n  - id: bad\n    regex: '['\n    category: PII\n    mask: X\n"},
		{"unknown category", "patterns:\n  - id: bad\n    regex: 'x'\n    category: SECRET\n    mask: X\n"},
		{"no mask strategy", "patterns:\n  - id: bad\n    regex: 'x'\n    category: PII\n"},
		{"both mask strategies", "patterns:\n  - id: bad\n    regex: 'x'\n    category: PII\n    mask: X\n    keep_last: 2\n"},
		{"duplicate id", "patterns:\n  - id: dup\n    regex: 'x'\n    category: PII\n    mask: X\n  - id: dup\n    regex: 'y'\n    category: PII\n    mask: X\n"},
		{"empty catalog", "patterns: []\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected load to fail closed")
			}
		})
	}
}
