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

package gateway

import (
	"context"
	"log"

	"veilgate/platform/artifact"
	"veilgate/platform/ledger"
	"veilgate/platform/policy"
	"veilgate/platform/redactor"
	"veilgate/platform/retriever"
	"veilgate/platform/session"
	"veilgate/platform/shared/config"
	"veilgate/platform/shared/logger"
	"veilgate/platform/store"
)

// Run is the service entry point: it loads configuration, wires every
// component (falling back to in-memory modes where no backend is
// configured), and serves until the listener fails. Malformed
// configuration and an unloadable pattern catalog are fatal; the
// service refuses to start rather than run with weaker guarantees.
func Run() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New("gateway")

	// Persistence: Postgres when configured, memory otherwise.
	var st store.Store
	var led *ledger.Ledger
	if cfg.StoreURL != "" {
		pg, err := store.NewPostgresStore(cfg.StoreURL)
		if err != nil {
			log.Fatalf("Store initialization failed: %v", err)
		}
		st = pg
		if led, err = ledger.New(pg.DB()); err != nil {
			log.Fatalf("Ledger initialization failed: %v", err)
		}
		appLogger.Info("", "", "Connected to PostgreSQL store", nil)
	} else {
		st = store.NewMemoryStore()
		if led, err = ledger.New(nil); err != nil {
			log.Fatalf("Ledger initialization failed: %v", err)
		}
		appLogger.Warn("", "", "STORE_URL not set, using in-memory store", nil)
	}

	// Redaction catalog: explicit file or compiled defaults. A broken
	// catalog is fatal (fail closed).
	patterns := redactor.DefaultCatalog()
	if cfg.PatternsPath != "" {
		if patterns, err = redactor.Load(cfg.PatternsPath); err != nil {
			log.Fatalf("Pattern catalog error: %v", err)
		}
	}
	red := redactor.New(patterns)

	// Step-up sessions: Redis when configured for multi-instance
	// deployments, otherwise process-local.
	var sess session.Store
	if cfg.RedisURL != "" {
		if sess, err = session.NewRedisStore(cfg.RedisURL, appLogger); err != nil {
			log.Fatalf("Session store initialization failed: %v", err)
		}
		appLogger.Info("", "", "Connected to Redis session store", nil)
	} else {
		sess = session.NewMemoryStore(0)
	}

	// Export artifacts: S3 when a bucket is configured, local otherwise.
	var art artifact.Store
	if cfg.ArtifactS3Bucket != "" {
		art, err = artifact.NewS3Store(context.Background(), artifact.S3Options{
			Bucket: cfg.ArtifactS3Bucket,
			Region: cfg.ArtifactS3Region,
		})
		if err != nil {
			log.Fatalf("Artifact store initialization failed: %v", err)
		}
	} else {
		if art, err = artifact.NewLocalStore(cfg.ArtifactDir); err != nil {
			log.Fatalf("Artifact store initialization failed: %v", err)
		}
	}

	pdp := policy.NewHTTPAdapter(cfg.PolicyEngineURL, cfg.PolicyTimeout, appLogger)
	embedder := NewHashEmbedder(cfg.EmbeddingDim)
	ret := retriever.New(st, pdp, embedder, led, appLogger, cfg.EmbeddingDim)

	g := New(cfg, appLogger, st, led, ret, red, sess, art)
	if err := g.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
