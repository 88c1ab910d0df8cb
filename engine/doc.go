// Copyright 2025 Vantage
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
Package engine provides the Vantage Engine service - the authority-aware
guardrail and intelligence-product generation engine.

# Overview

The Engine sits between mission analysts and the generative backend. It
handles:

  - Deterministic guardrail classification of requests against the
    mission's operating authority
  - Policy-gated report template selection
  - Knowledge-graph gap analysis with deterministic findings and
    collection priorities
  - Concurrent report synthesis with per-section degradation

# Pipeline

Every request flows through the guardrail before anything generative
happens:

	Request → Guardrail Classifier → Gap Analysis / Synthesis → Audit

A block verdict terminates the request with structured remediation
guidance; it is an outcome, not an error.

# Guardrail Classifier

Classification is rule-based and fully deterministic. Rules are evaluated
in declaration order against normalized text, the longest matched trigger
span wins, and malformed input fails open into general analysis with a
degradation flag. Authority lookups fail closed: an unknown authority id
is a policy configuration error, never a default-allow.

# Gap Analysis

The GapAnalyzer fuses the KG snapshot and dataset profiles into findings
across five kinds: missing lane coverage, uncovered time windows,
unsupported entities, cross-source conflicts, and low-quality datasets.
Identical inputs yield identical findings in identical order. With the
full mode, conflict findings receive advisory generative annotations that
never alter the findings themselves.

# Report Synthesis

The Synthesizer renders template sections concurrently under a fixed cap.
A section whose generative call fails or times out falls back to its
template text and is listed in the product's degraded sections; the
product as a whole still ships. Cancellation aborts the product entirely.

# HTTP Surface

	POST /api/v1/guardrails/classify        - Classify a request
	GET  /api/v1/missions/{id}/templates    - List eligible templates
	POST /api/v1/missions/{id}/gap-analysis - Run a gap analysis
	POST /api/v1/missions/{id}/reports      - Generate a product
	POST /api/v1/policies/reload            - Atomically reload policy config

# Usage

	// Start the Engine service
	engine.Run()

	// The Engine reads configuration from environment variables:
	// PORT           - HTTP server port (default: 8084)
	// POLICY_CONFIG  - policy YAML path (default: configs/policy.yaml)
	// KG_API_URL     - mission/KG service base URL
	// DATABASE_URL   - PostgreSQL connection string (optional)
	// REDIS_ADDR     - Redis results cache address (optional)
	// BEDROCK_REGION - AWS Bedrock region (optional)

# Thread Safety

All exported types in this package are safe for concurrent use. Policy
registries are immutable after load and swapped atomically on reload, so
in-flight requests always see one consistent revision.

# Metrics

The Engine exposes Prometheus metrics at /prometheus:

  - vantage_engine_verdicts_total - Guardrail verdicts by decision
  - vantage_engine_request_duration_milliseconds - Request latency
  - vantage_engine_gap_analyses_total - Gap analysis runs by outcome
  - vantage_engine_reports_total - Report generations by outcome
*/
package engine
