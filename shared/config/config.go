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

// Package config provides the typed environment configuration for the
// VeilGate gateway (12-Factor App methodology).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every recognized option for the governed retrieval core.
type Config struct {
	// Persistence and collaborators
	StoreURL        string // STORE_URL: postgres connection string; empty runs the in-memory store
	PolicyEngineURL string // POLICY_ENGINE_URL: PDP evaluation endpoint
	RedisURL        string // REDIS_URL: optional step-up session backend

	// Identity
	TokenSigningKey string // TOKEN_SIGNING_KEY: HS256 key for bearer tokens
	Tenant          string // TENANT: tenant this deployment serves

	// Retrieval defaults
	DefaultTopK        int // DEFAULT_TOP_K (1..50)
	DefaultMinEvidence int // DEFAULT_MIN_EVIDENCE
	EmbeddingDim       int // EMBEDDING_DIM

	// Timeouts
	PolicyTimeout   time.Duration // POLICY_TIMEOUT_MS
	RequestDeadline time.Duration // REQUEST_DEADLINE_MS
	StepUpTTL       time.Duration // STEP_UP_TTL_S

	// Redaction
	PatternsPath string // PATTERNS_PATH: optional YAML pattern catalog

	// Export artifacts
	ArtifactDir      string // ARTIFACT_DIR: local artifact directory
	ArtifactS3Bucket string // ARTIFACT_S3_BUCKET: optional S3 backend
	ArtifactS3Region string // ARTIFACT_S3_REGION

	// Server
	Port            string // PORT
	MaxInFlight     int    // MAX_IN_FLIGHT: back-pressure gate
}

// Load reads configuration from the environment, applying defaults.
// It fails only on values that cannot be parsed; missing collaborator
// URLs are tolerated so tests and local runs can use in-memory modes.
func Load() (*Config, error) {
	cfg := &Config{
		StoreURL:         os.Getenv("STORE_URL"),
		PolicyEngineURL:  os.Getenv("POLICY_ENGINE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		TokenSigningKey:  getEnv("TOKEN_SIGNING_KEY", "dev-signing-key"),
		Tenant:           getEnv("TENANT", "default"),
		PatternsPath:     os.Getenv("PATTERNS_PATH"),
		ArtifactDir:      getEnv("ARTIFACT_DIR", os.TempDir()),
		ArtifactS3Bucket: os.Getenv("ARTIFACT_S3_BUCKET"),
		ArtifactS3Region: getEnv("ARTIFACT_S3_REGION", "us-east-1"),
		Port:             getEnv("PORT", "8080"),
	}

	var err error
	if cfg.DefaultTopK, err = getEnvInt("DEFAULT_TOP_K", 10); err != nil {
		return nil, err
	}
	if cfg.DefaultTopK < 1 || cfg.DefaultTopK > 50 {
		return nil, fmt.Errorf("DEFAULT_TOP_K must be in 1..50, got %d", cfg.DefaultTopK)
	}
	if cfg.DefaultMinEvidence, err = getEnvInt("DEFAULT_MIN_EVIDENCE", 2); err != nil {
		return nil, err
	}
	if cfg.DefaultMinEvidence < 0 {
		return nil, fmt.Errorf("DEFAULT_MIN_EVIDENCE must be >= 0, got %d", cfg.DefaultMinEvidence)
	}
	if cfg.EmbeddingDim, err = getEnvInt("EMBEDDING_DIM", 768); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be positive, got %d", cfg.EmbeddingDim)
	}
	if cfg.MaxInFlight, err = getEnvInt("MAX_IN_FLIGHT", 256); err != nil {
		return nil, err
	}

	policyMS, err := getEnvInt("POLICY_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	deadlineMS, err := getEnvInt("REQUEST_DEADLINE_MS", 15000)
	if err != nil {
		return nil, err
	}
	stepUpS, err := getEnvInt("STEP_UP_TTL_S", 300)
	if err != nil {
		return nil, err
	}

	cfg.PolicyTimeout = time.Duration(policyMS) * time.Millisecond
	cfg.RequestDeadline = time.Duration(deadlineMS) * time.Millisecond
	cfg.StepUpTTL = time.Duration(stepUpS) * time.Second

	return cfg, nil
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable parsed as int or a default
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return n, nil
}
