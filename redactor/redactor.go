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

// Package redactor masks sensitive sub-strings in fragment text. The
// pattern catalog is ordered and finite; which patterns apply is a pure
// function of the fragment's classification label. Redaction performs
// no I/O and is idempotent: redacting already-redacted text is a no-op.
package redactor

import (
	"sort"
	"strings"

	"veilgate/platform/shared/types"
)

// Category groups patterns by the kind of data they match.
type Category string

const (
	CategoryPII Category = "PII"
	CategoryPHI Category = "PHI"
)

// Result reports one redaction pass.
type Result struct {
	Text            string   `json:"text"`
	PatternsMatched []string `json:"patterns_matched"` // sorted pattern IDs
	Changed         bool     `json:"changed"`
}

// Redactor applies a compiled pattern catalog.
type Redactor struct {
	patterns []Pattern
}

// New creates a redactor over the given catalog. Patterns must already
// be compiled; use Load or DefaultCatalog.
func New(patterns []Pattern) *Redactor {
	return &Redactor{patterns: patterns}
}

// patternsFor selects the active patterns for a label:
// Public none, Internal PII, Confidential PII+PHI, Regulated all.
func (r *Redactor) patternsFor(label types.Label) []Pattern {
	switch label {
	case types.LabelPublic:
		return nil
	case types.LabelInternal:
		out := make([]Pattern, 0, len(r.patterns))
		for _, p := range r.patterns {
			if p.Category == CategoryPII {
				out = append(out, p)
			}
		}
		return out
	case types.LabelConfidential:
		out := make([]Pattern, 0, len(r.patterns))
		for _, p := range r.patterns {
			if p.Category == CategoryPII || p.Category == CategoryPHI {
				out = append(out, p)
			}
		}
		return out
	case types.LabelRegulated:
		return r.patterns
	default:
		// Unknown label: treat as the most restrictive.
		return r.patterns
	}
}

// Redact masks all active patterns in text. Patterns apply in catalog
// order; each application rewrites every match of that pattern.
func (r *Redactor) Redact(text string, label types.Label) Result {
	redacted := text
	var matched []string

	for _, p := range r.patternsFor(label) {
		if !p.re.MatchString(redacted) {
			continue
		}
		matched = append(matched, p.ID)
		redacted = p.apply(redacted)
	}

	sort.Strings(matched)
	return Result{
		Text:            redacted,
		PatternsMatched: matched,
		Changed:         redacted != text,
	}
}

// Detect counts matches per pattern across the full catalog without
// rewriting anything. Used for classification hints and payload
// sanitization checks.
func (r *Redactor) Detect(text string) map[string]int {
	detections := make(map[string]int)
	for _, p := range r.patterns {
		if n := len(p.re.FindAllStringIndex(text, -1)); n > 0 {
			detections[p.ID] = n
		}
	}
	return detections
}

// apply rewrites every match of the pattern according to its mask
// strategy.
func (p Pattern) apply(text string) string {
	if p.KeepLast > 0 {
		return p.re.ReplaceAllStringFunc(text, func(match string) string {
			return maskKeepLast(match, p.KeepLast, p.maskRune())
		})
	}
	return p.re.ReplaceAllString(text, p.Mask)
}

func (p Pattern) maskRune() rune {
	if p.MaskChar != "" {
		return []rune(p.MaskChar)[0]
	}
	return 'X'
}

// maskKeepLast replaces all but the final k characters of s with the
// mask rune.
func maskKeepLast(s string, k int, mask rune) string {
	runes := []rune(s)
	if k >= len(runes) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(runes)-k; i++ {
		b.WriteRune(mask)
	}
	b.WriteString(string(runes[len(runes)-k:]))
	return b.String()
}
