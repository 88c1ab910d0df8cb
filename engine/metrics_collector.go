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

package engine

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector aggregates engine metrics for the JSON /metrics view.
type MetricsCollector struct {
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics represents collected metrics
type Metrics struct {
	OperationMetrics  map[string]*OperationMetrics `json:"operation_metrics"`
	GuardrailMetrics  *GuardrailMetrics            `json:"guardrail_metrics"`
	SynthesisMetrics  *SynthesisMetrics            `json:"synthesis_metrics"`
	SystemMetrics     *SystemMetrics               `json:"system_metrics"`
	CollectionStarted time.Time                    `json:"collection_started"`
}

// OperationMetrics tracks metrics per engine operation (classify,
// templates, gap-analysis, report).
type OperationMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	BlockedCount    int64         `json:"blocked_count"`
	ErrorCount      int64         `json:"error_count"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	P95ResponseTime time.Duration `json:"p95_response_time_ms"`
	responseTimes   []time.Duration
}

// GuardrailMetrics tracks classification outcomes.
type GuardrailMetrics struct {
	TotalVerdicts    int64            `json:"total_verdicts"`
	BlockedVerdicts  int64            `json:"blocked_verdicts"`
	DegradedVerdicts int64            `json:"degraded_verdicts"`
	RuleHitRate      map[string]int64 `json:"rule_hit_rate"`
}

// SynthesisMetrics tracks section rendering.
type SynthesisMetrics struct {
	SectionsRendered int64 `json:"sections_rendered"`
	SectionsDegraded int64 `json:"sections_degraded"`
	ReportsGenerated int64 `json:"reports_generated"`
	ReportsBlocked   int64 `json:"reports_blocked"`
}

// SystemMetrics tracks system-level metrics
type SystemMetrics struct {
	UptimeSeconds     int64     `json:"uptime_seconds"`
	TotalRequests     int64     `json:"total_requests"`
	PolicyReloads     int64     `json:"policy_reloads"`
	PolicyRevision    string    `json:"policy_revision"`
	LastHealthCheck   time.Time `json:"last_health_check"`
	HealthCheckPassed bool      `json:"health_check_passed"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: &Metrics{
			OperationMetrics: make(map[string]*OperationMetrics),
			GuardrailMetrics: &GuardrailMetrics{
				RuleHitRate: make(map[string]int64),
			},
			SynthesisMetrics:  &SynthesisMetrics{},
			SystemMetrics:     &SystemMetrics{},
			CollectionStarted: time.Now(),
		},
	}
}

// RecordOperation records one completed engine operation.
func (c *MetricsCollector) RecordOperation(operation string, outcome string, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	om, exists := c.metrics.OperationMetrics[operation]
	if !exists {
		om = &OperationMetrics{responseTimes: make([]time.Duration, 0, 1000)}
		c.metrics.OperationMetrics[operation] = om
	}

	om.TotalRequests++
	c.metrics.SystemMetrics.TotalRequests++
	switch outcome {
	case "success":
		om.SuccessCount++
	case "blocked":
		om.BlockedCount++
	default:
		om.ErrorCount++
	}

	om.responseTimes = append(om.responseTimes, responseTime)
	// Keep only last 1000 response times for percentile calculation
	if len(om.responseTimes) > 1000 {
		om.responseTimes = om.responseTimes[len(om.responseTimes)-1000:]
	}
	om.AvgResponseTime = average(om.responseTimes)
	om.P95ResponseTime = percentile(om.responseTimes, 95)
}

// RecordVerdict records a guardrail classification outcome.
func (c *MetricsCollector) RecordVerdict(v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gm := c.metrics.GuardrailMetrics
	gm.TotalVerdicts++
	if v.Blocked() {
		gm.BlockedVerdicts++
		if v.RuleID != "" {
			gm.RuleHitRate[v.RuleID]++
		}
	}
	for _, flag := range v.Flags {
		if flag == "classifier_degraded" {
			gm.DegradedVerdicts++
		}
	}
}

// RecordReport records a report generation outcome.
func (c *MetricsCollector) RecordReport(report *Report, blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm := c.metrics.SynthesisMetrics
	if blocked {
		sm.ReportsBlocked++
		return
	}
	sm.ReportsGenerated++
	if report != nil {
		sm.SectionsRendered += int64(len(report.Sections))
		sm.SectionsDegraded += int64(len(report.DegradedSections))
	}
}

// RecordReload records a successful policy reload.
func (c *MetricsCollector) RecordReload(revision string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.SystemMetrics.PolicyReloads++
	c.metrics.SystemMetrics.PolicyRevision = revision
}

// SetHealthStatus updates the health check status.
func (c *MetricsCollector) SetHealthStatus(passed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.SystemMetrics.LastHealthCheck = time.Now()
	c.metrics.SystemMetrics.HealthCheckPassed = passed
}

// Snapshot returns a copy of all metrics for serialization.
func (c *MetricsCollector) Snapshot() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Metrics{
		OperationMetrics:  make(map[string]*OperationMetrics, len(c.metrics.OperationMetrics)),
		CollectionStarted: c.metrics.CollectionStarted,
	}
	for name, om := range c.metrics.OperationMetrics {
		copied := *om
		copied.responseTimes = nil
		snap.OperationMetrics[name] = &copied
	}

	gm := *c.metrics.GuardrailMetrics
	gm.RuleHitRate = make(map[string]int64, len(c.metrics.GuardrailMetrics.RuleHitRate))
	for k, v := range c.metrics.GuardrailMetrics.RuleHitRate {
		gm.RuleHitRate[k] = v
	}
	snap.GuardrailMetrics = &gm

	sm := *c.metrics.SynthesisMetrics
	snap.SynthesisMetrics = &sm

	sys := *c.metrics.SystemMetrics
	sys.UptimeSeconds = int64(time.Since(c.metrics.CollectionStarted).Seconds())
	snap.SystemMetrics = &sys

	return snap
}

func average(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	var total time.Duration
	for _, t := range times {
		total += t
	}
	return total / time.Duration(len(times))
}

func percentile(times []time.Duration, p int) time.Duration {
	if len(times) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
