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
	"time"

	"vantage/platform/kgclient"
	"vantage/platform/policy"
)

// Decision is the outcome of a guardrail classification.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
)

// Verdict is the tagged result of classifying a request. Callers branch on
// Decision; Block carries the category and remediation, Allow may carry
// degradation flags.
type Verdict struct {
	Decision       Decision              `json:"decision"`
	ActionCategory policy.ActionCategory `json:"action_category,omitempty"`
	RuleID         string                `json:"rule_id,omitempty"`
	MatchedSpan    string                `json:"matched_span,omitempty"`
	Remediation    string                `json:"remediation,omitempty"`
	Flags          []string              `json:"flags,omitempty"`
	EvaluatedAt    time.Time             `json:"evaluated_at"`
}

// Allowed reports whether the request may proceed.
func (v Verdict) Allowed() bool {
	return v.Decision == DecisionAllow
}

// Blocked reports whether the request was denied by policy.
func (v Verdict) Blocked() bool {
	return v.Decision == DecisionBlock
}

// GapKind classifies a gap finding.
type GapKind string

const (
	GapMissingINT           GapKind = "missing_int"
	GapMissingTimeWindow    GapKind = "missing_time_window"
	GapMissingEntitySupport GapKind = "missing_entity_support"
	GapConflict             GapKind = "conflict"
	GapQuality              GapKind = "quality"
)

// gapKindOrder fixes the tie-break order between kinds of equal severity.
var gapKindOrder = map[GapKind]int{
	GapMissingINT:           0,
	GapMissingTimeWindow:    1,
	GapMissingEntitySupport: 2,
	GapConflict:             3,
	GapQuality:              4,
}

// Severity ranks a gap finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Weight returns the numeric weight used in priority scoring.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// GapFinding is a structured record of missing or conflicting
// mission-relevant information.
type GapFinding struct {
	Kind              GapKind  `json:"kind"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	Reference         string   `json:"reference,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
}

// PriorityEntry ranks one entity or event by open-gap pressure.
type PriorityEntry struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"` // always "entity"; no detection rule names an event
	Score     float64 `json:"score"`
	OpenGaps  int     `json:"open_gaps"`
	Rationale string  `json:"rationale"`
}

// ConflictAnnotation is an advisory generative explanation for one
// conflict finding. Annotations never alter the deterministic findings.
type ConflictAnnotation struct {
	Reference   string `json:"reference"`
	Explanation string `json:"explanation"`
}

// AnalysisMode selects the gap-analysis path: KG-derived rules only, or
// rules plus the advisory generative annotation pass.
type AnalysisMode string

const (
	ModeKG   AnalysisMode = "kg"
	ModeFull AnalysisMode = "full"
)

// GapAnalysisResult is the output of one gap-analysis run.
type GapAnalysisResult struct {
	MissionID          string               `json:"mission_id"`
	Mode               AnalysisMode         `json:"mode"`
	Findings           []GapFinding         `json:"findings"`
	Priorities         []PriorityEntry      `json:"priorities"`
	Partial            bool                 `json:"partial"`
	UnavailableSources []string             `json:"unavailable_sources,omitempty"`
	Annotations        []ConflictAnnotation `json:"annotations,omitempty"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// MissionContext is the ephemeral policy context assembled for one
// request. It is rebuilt per request and never cached across requests;
// a stale context would leak superseded policy decisions.
type MissionContext struct {
	Mission   *kgclient.Mission
	Authority *policy.Authority
	Snapshot  *kgclient.Snapshot
	Profiles  []kgclient.DatasetProfile
	Gaps      *GapAnalysisResult
}

// ReportSection is one rendered section of an intelligence product.
type ReportSection struct {
	Name         string `json:"name"`
	Content      string `json:"content"`
	Degraded     bool   `json:"degraded"`
	RenderTimeMs int64  `json:"render_time_ms"`
}

// GuardrailPosture summarizes the policy constraints a product was
// generated under.
type GuardrailPosture struct {
	AuthorityID       string                  `json:"authority_id"`
	AuthorityName     string                  `json:"authority_name"`
	Disclaimer        string                  `json:"disclaimer"`
	BlockedCategories []policy.ActionCategory `json:"blocked_categories"`
	AuthorityHistory  []string                `json:"authority_history,omitempty"`
}

// Report is an assembled intelligence product.
type Report struct {
	MissionID        string           `json:"mission_id"`
	TemplateID       string           `json:"template_id"`
	Sections         []ReportSection  `json:"sections"`
	GuardrailPosture GuardrailPosture `json:"guardrail_posture"`
	GapSnapshotRef   string           `json:"gap_snapshot_ref"`
	DegradedSections []string         `json:"degraded_sections"`
	Advisory         string           `json:"advisory,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}
