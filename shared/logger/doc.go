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
Package logger provides structured JSON logging with mission-scoped
correlation for Vantage components.

# Overview

The logger outputs single-line JSON to stdout, making logs consumable by
CloudWatch, ELK, or any other log aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (engine, gateway, etc.)
  - Instance ID and container name (for distributed tracing)
  - Mission ID (correlates with the audit trail)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("engine")

Log messages with mission and request context:

	log.Info("mission-123", "req-456", "Classifying request", map[string]interface{}{
	    "authority": "Title10",
	})

Log errors with status codes:

	log.ErrorWithCode("mission-123", "req-456", "Gap analysis failed", 500, err, nil)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
