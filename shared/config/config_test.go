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

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with empty environment should succeed: %v", err)
	}

	if cfg.DefaultTopK != 10 {
		t.Errorf("expected default top_k 10, got %d", cfg.DefaultTopK)
	}
	if cfg.DefaultMinEvidence != 2 {
		t.Errorf("expected default min_evidence 2, got %d", cfg.DefaultMinEvidence)
	}
	if cfg.EmbeddingDim != 768 {
		t.Errorf("expected default embedding dim 768, got %d", cfg.EmbeddingDim)
	}
	if cfg.PolicyTimeout != 5*time.Second {
		t.Errorf("expected 5s policy timeout, got %v", cfg.PolicyTimeout)
	}
	if cfg.RequestDeadline != 15*time.Second {
		t.Errorf("expected 15s request deadline, got %v", cfg.RequestDeadline)
	}
	if cfg.StepUpTTL != 300*time.Second {
		t.Errorf("expected 300s step-up TTL, got %v", cfg.StepUpTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEFAULT_TOP_K", "25")
	t.Setenv("POLICY_TIMEOUT_MS", "2500")
	t.Setenv("STEP_UP_TTL_S", "60")
	t.Setenv("TENANT", "dash")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultTopK != 25 {
		t.Errorf("expected top_k 25, got %d", cfg.DefaultTopK)
	}
	if cfg.PolicyTimeout != 2500*time.Millisecond {
		t.Errorf("expected 2.5s policy timeout, got %v", cfg.PolicyTimeout)
	}
	if cfg.StepUpTTL != time.Minute {
		t.Errorf("expected 60s step-up TTL, got %v", cfg.StepUpTTL)
	}
	if cfg.Tenant != "dash" {
		t.Errorf("expected tenant dash, got %s", cfg.Tenant)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric top_k", "DEFAULT_TOP_K", "ten"},
		{"top_k above range", "DEFAULT_TOP_K", "51"},
		{"top_k below range", "DEFAULT_TOP_K", "0"},
		{"negative min_evidence", "DEFAULT_MIN_EVIDENCE", "-1"},
		{"zero embedding dim", "EMBEDDING_DIM", "0"},
		{"non-numeric timeout", "POLICY_TIMEOUT_MS", "5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
