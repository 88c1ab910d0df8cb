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

// Package main is the entry point for the Vantage Engine service.
//
// The Engine is an authority-aware guardrail and report generation service that:
// - Classifies analyst requests against the mission's operating authority
// - Selects policy-gated report templates
// - Runs deterministic gap analysis over the mission knowledge graph
// - Synthesizes intelligence products with per-section degradation
//
// Usage:
//
//	./engine
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8084)
//	POLICY_CONFIG - path to the policy YAML (default: configs/policy.yaml)
//	KG_API_URL - mission/KG service base URL
//	DATABASE_URL - PostgreSQL connection string (optional)
//	REDIS_ADDR - Redis results cache address (optional)
//	BEDROCK_REGION - AWS Bedrock region (optional)
package main

import (
	"vantage/platform/engine"
)

func main() {
	engine.Run()
}
