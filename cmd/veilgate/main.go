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

// Package main is the entry point for the VeilGate gateway service.
//
// VeilGate is a governed retrieval gateway: it answers natural-language
// queries with document fragments the caller is authorized to see,
// masks sensitive sub-strings per classification, and records every
// access decision in a tamper-evident, hash-chained audit ledger.
//
// Usage:
//
//	./veilgate
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	STORE_URL - PostgreSQL connection string (empty: in-memory store)
//	POLICY_ENGINE_URL - policy decision point endpoint
//	TOKEN_SIGNING_KEY - HS256 key for bearer tokens
//	REDIS_URL - optional shared step-up session backend
package main

import (
	"veilgate/platform/gateway"
)

func main() {
	gateway.Run()
}
