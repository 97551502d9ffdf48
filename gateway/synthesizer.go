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
	"fmt"
	"strings"
)

// watermarkResponse is returned whenever the evidence threshold is not
// met. The caller sees an answer-shaped response that carries no
// fragment content.
const watermarkResponse = "Insufficient governed evidence to answer this query."

// synthesize composes the response text from redacted fragments.
// Deterministic extract-and-concatenate: fragments appear in their
// authorized order with bracketed provenance markers. A model-backed
// synthesizer can replace this without touching the pipeline.
func synthesize(query string, fragments []redactedFragment) string {
	if len(fragments) == 0 {
		return watermarkResponse
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Answer based on %d governed source(s):\n", len(fragments))
	for i, f := range fragments {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, f.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
