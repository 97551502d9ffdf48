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
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern is one catalog entry. Exactly one mask strategy applies:
// a fixed replacement string (Mask), or keep-last-k masking (KeepLast
// with optional MaskChar, default 'X').
type Pattern struct {
	ID       string   `yaml:"id"`
	Regex    string   `yaml:"regex"`
	Category Category `yaml:"category"`
	Mask     string   `yaml:"mask,omitempty"`
	KeepLast int      `yaml:"keep_last,omitempty"`
	MaskChar string   `yaml:"mask_char,omitempty"`

	re *regexp.Regexp
}

type catalogFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Load reads and compiles a pattern catalog from a YAML file. Any
// malformed entry fails the whole load; the caller must refuse to
// start rather than run with a partial catalog.
func Load(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pattern catalog: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("pattern catalog %s contains no patterns", path)
	}

	seen := make(map[string]bool)
	for i := range file.Patterns {
		p := &file.Patterns[i]
		if err := compilePattern(p); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		seen[p.ID] = true
	}

	return file.Patterns, nil
}

func compilePattern(p *Pattern) error {
	if p.ID == "" {
		return fmt.Errorf("pattern with empty id")
	}
	if p.Category != CategoryPII && p.Category != CategoryPHI {
		return fmt.Errorf("pattern %q has unknown category %q", p.ID, p.Category)
	}
	if p.Mask == "" && p.KeepLast <= 0 {
		return fmt.Errorf("pattern %q has no mask strategy", p.ID)
	}
	if p.Mask != "" && p.KeepLast > 0 {
		return fmt.Errorf("pattern %q mixes fixed mask and keep-last strategies", p.ID)
	}

	re, err := regexp.Compile(p.Regex)
	if err != nil {
		return fmt.Errorf("pattern %q has invalid regex: %w", p.ID, err)
	}
	p.re = re
	return nil
}

// DefaultCatalog returns the built-in pattern catalog, used when no
// catalog file is configured. The regexes are compile-time constants;
// a failure here is a programming error.
func DefaultCatalog() []Pattern {
	patterns := []Pattern{
		{
			ID:       "ssn",
			Regex:    `\b[0-8]\d{2}-\d{2}-\d{4}\b`,
			Category: CategoryPII,
			Mask:     "XXX-XX-XXXX",
		},
		{
			ID:       "email",
			Regex:    `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			Category: CategoryPII,
			Mask:     "***@***.***",
		},
		{
			ID:       "pan",
			Regex:    `\b\d(?:[ -]?\d){12,18}\b`,
			Category: CategoryPII,
			KeepLast: 4,
		},
		{
			ID:       "phone",
			Regex:    `\(\d{3}\)[ ]?\d{3}[-.]\d{4}\b|\b\d{3}[-.]\d{3}[-.]\d{4}\b`,
			Category: CategoryPII,
			Mask:     "(XXX) XXX-XXXX",
		},
		{
			ID:       "ip_address",
			Regex:    `\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`,
			Category: CategoryPII,
			Mask:     "XXX.XXX.XXX.XXX",
		},
		{
			ID:       "dob",
			Regex:    `\b(?:0[1-9]|1[0-2])[/-](?:0[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`,
			Category: CategoryPHI,
			Mask:     "XX/XX/XXXX",
		},
		{
			ID:       "mrn",
			Regex:    `(?i)\bMRN[-: ]?\d{6,10}\b`,
			Category: CategoryPHI,
			Mask:     "MRN-XXXXXXXX",
		},
	}

	for i := range patterns {
		patterns[i].re = regexp.MustCompile(patterns[i].Regex)
	}
	return patterns
}
