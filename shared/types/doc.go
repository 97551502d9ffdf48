// Copyright 2025 VeilGate
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package types provides the shared domain entities used across VeilGate
components.

# Overview

This package is the single source of truth for the entities the governed
retrieval pipeline moves around: subjects (authenticated principals),
documents and their classifications, fragments (the smallest retrieval
unit), and the four-level sensitivity label order.

# Labels and Clearances

Labels form a total order:

	Public < Internal < Confidential < Regulated

A subject's clearance selects the prefix of that order it may see:

	labels := types.AllowedLabels(subject.Attrs.Clearance)

Unknown clearances admit no labels — callers inherit deny-by-default
without any extra checks.

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
