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

package policy

// INTLane is an intelligence discipline. Lanes gate which data and which
// report templates apply to a mission.
type INTLane string

const (
	LaneSIGINT     INTLane = "SIGINT"
	LaneGEOINT     INTLane = "GEOINT"
	LaneHUMINT     INTLane = "HUMINT"
	LaneOSINT      INTLane = "OSINT"
	LaneSOCMINT    INTLane = "SOCMINT"
	LaneLEOCRIMINT INTLane = "LEO_CRIMINT"
	LaneFININT     INTLane = "FININT"
)

// KnownLanes lists every lane the registry accepts in configuration.
var KnownLanes = []INTLane{
	LaneSIGINT, LaneGEOINT, LaneHUMINT, LaneOSINT,
	LaneSOCMINT, LaneLEOCRIMINT, LaneFININT,
}

// ActionCategory classifies what an analyst request is asking the system
// to help with. Guardrail rules map trigger patterns to a category; the
// mission authority decides whether that category is permitted.
type ActionCategory string

const (
	ActionDomesticArrest     ActionCategory = "domestic_arrest"
	ActionMilitaryDeployment ActionCategory = "military_deployment"
	ActionCovertCollection   ActionCategory = "covert_collection"
	ActionFinancialSeizure   ActionCategory = "financial_seizure"
	ActionGeneralAnalysis    ActionCategory = "general_analysis"
)

// Authority is a legal/organizational mandate governing permitted actions
// for a mission. Immutable once loaded; a mission referencing an authority
// id not present in the registry fails closed.
type Authority struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	Jurisdiction string           `yaml:"jurisdiction" json:"jurisdiction"`
	Disclaimer   string           `yaml:"disclaimer" json:"disclaimer"`
	AllowedLanes []INTLane        `yaml:"allowed_lanes" json:"allowed_lanes"`
	PrimaryLanes []INTLane        `yaml:"primary_lanes" json:"primary_lanes"`
	Allowed      []ActionCategory `yaml:"allowed_actions" json:"allowed_actions"`
	Blocked      []ActionCategory `yaml:"blocked_actions" json:"blocked_actions"`

	allowedSet map[ActionCategory]struct{}
	blockedSet map[ActionCategory]struct{}
	laneSet    map[INTLane]struct{}
	primarySet map[INTLane]struct{}
}

// index builds the internal lookup sets. Called once at load time.
func (a *Authority) index() {
	a.allowedSet = make(map[ActionCategory]struct{}, len(a.Allowed))
	for _, c := range a.Allowed {
		a.allowedSet[c] = struct{}{}
	}
	a.blockedSet = make(map[ActionCategory]struct{}, len(a.Blocked))
	for _, c := range a.Blocked {
		a.blockedSet[c] = struct{}{}
	}
	a.laneSet = make(map[INTLane]struct{}, len(a.AllowedLanes))
	for _, l := range a.AllowedLanes {
		a.laneSet[l] = struct{}{}
	}
	a.primarySet = make(map[INTLane]struct{}, len(a.PrimaryLanes))
	for _, l := range a.PrimaryLanes {
		a.primarySet[l] = struct{}{}
	}
}

// PermitsAction reports whether the authority allows requests in the given
// action category. A category explicitly blocked always loses, even if it
// also appears in the allowed list.
func (a *Authority) PermitsAction(c ActionCategory) bool {
	if _, blocked := a.blockedSet[c]; blocked {
		return false
	}
	_, ok := a.allowedSet[c]
	return ok
}

// PermitsLane reports whether the authority allows collection in the lane.
func (a *Authority) PermitsLane(l INTLane) bool {
	_, ok := a.laneSet[l]
	return ok
}

// IsPrimaryLane reports whether the lane is foundational to this authority.
// Missing primary-lane coverage is a high-severity gap.
func (a *Authority) IsPrimaryLane(l INTLane) bool {
	_, ok := a.primarySet[l]
	return ok
}

// TriggerPattern is one trigger of a guardrail rule. All phrases must
// co-occur in the normalized request text for the trigger to match
// (single-phrase triggers are the common case, multi-phrase triggers
// express compound conditions such as "deploy" + "military").
type TriggerPattern struct {
	Phrases []string `yaml:"phrases" json:"phrases"`
}

// GuardrailRule maps trigger patterns to an action category. A rule fires
// only when its category is not permitted under the mission's authority.
// Rules are evaluated in declaration order; the order is part of the
// audit-reproducibility contract and must never be resorted.
type GuardrailRule struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Category    ActionCategory   `yaml:"category" json:"category"`
	Triggers    []TriggerPattern `yaml:"triggers" json:"triggers"`
	Remediation string           `yaml:"remediation" json:"remediation"`
}

// SectionSpec describes one section of a report template.
type SectionSpec struct {
	Name             string   `yaml:"name" json:"name"`
	PromptFragment   string   `yaml:"prompt_fragment" json:"prompt_fragment"`
	DataRequirements []string `yaml:"data_requirements" json:"data_requirements,omitempty"`
	FallbackText     string   `yaml:"fallback_text" json:"fallback_text"`
}

// Template is a named, policy-gated specification of an intelligence
// product. Selectable iff the mission authority is in AllowedAuthorities
// and RequiredLanes is a subset of the mission's lanes present.
type Template struct {
	ID                 string        `yaml:"id" json:"id"`
	Name               string        `yaml:"name" json:"name"`
	Description        string        `yaml:"description" json:"description,omitempty"`
	Priority           int           `yaml:"priority" json:"priority"`
	RequiredLanes      []INTLane     `yaml:"required_lanes" json:"required_lanes"`
	AllowedAuthorities []string      `yaml:"allowed_authorities" json:"allowed_authorities"`
	Sections           []SectionSpec `yaml:"sections" json:"sections"`
}

// AllowsAuthority reports whether the template may be used under the
// given authority id.
func (t *Template) AllowsAuthority(authorityID string) bool {
	for _, id := range t.AllowedAuthorities {
		if id == authorityID {
			return true
		}
	}
	return false
}

// RequiresSubsetOf reports whether every required lane is present.
func (t *Template) RequiresSubsetOf(lanes []INTLane) bool {
	present := make(map[INTLane]struct{}, len(lanes))
	for _, l := range lanes {
		present[l] = struct{}{}
	}
	for _, req := range t.RequiredLanes {
		if _, ok := present[req]; !ok {
			return false
		}
	}
	return true
}

// Thresholds holds the tunable limits for gap analysis.
type Thresholds struct {
	// QualityMin is the minimum acceptable completeness/consistency score
	// for a dataset profile before a quality gap is raised.
	QualityMin float64 `yaml:"quality_min" json:"quality_min"`

	// NumericTolerance is the relative tolerance for numeric conflict
	// detection; values differing beyond it flag a conflict.
	NumericTolerance float64 `yaml:"numeric_tolerance" json:"numeric_tolerance"`

	// TimeBucketHours is the fixed bucket width used to partition the
	// mission observation window.
	TimeBucketHours int `yaml:"time_bucket_hours" json:"time_bucket_hours"`
}
