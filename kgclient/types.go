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

package kgclient

import (
	"time"

	"vantage/platform/policy"
)

// Entity is a mission-scoped knowledge-graph node.
type Entity struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Priority   bool              `json:"priority"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Relation is a directed edge between two entities. Relations carry the
// source that asserted them; an entity with no inbound source edge has no
// corroboration.
type Relation struct {
	SourceEntityID string `json:"source_entity_id"`
	TargetEntityID string `json:"target_entity_id"`
	Kind           string `json:"kind"`
	AssertedBy     string `json:"asserted_by,omitempty"`
}

// Event is a timestamped occurrence linked to zero or more entities.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	EntityIDs   []string  `json:"entity_ids,omitempty"`
	Description string    `json:"description"`
}

// Assertion is a sourced claim about one attribute of one entity within a
// validity window. Conflict detection compares assertions for the same
// (entity, attribute) pair across sources.
type Assertion struct {
	EntityID     string    `json:"entity_id"`
	Attribute    string    `json:"attribute"`
	Value        string    `json:"value"`
	NumericValue *float64  `json:"numeric_value,omitempty"`
	Source       string    `json:"source"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
}

// Snapshot is a point-in-time extract of a mission's knowledge graph.
type Snapshot struct {
	MissionID   string      `json:"mission_id"`
	Entities    []Entity    `json:"entities"`
	Relations   []Relation  `json:"relations"`
	Events      []Event     `json:"events"`
	Assertions  []Assertion `json:"assertions,omitempty"`
	RetrievedAt time.Time   `json:"retrieved_at"`
}

// ColumnProfile is the semantic profile of one dataset column.
type ColumnProfile struct {
	Name         string  `json:"name"`
	SemanticType string  `json:"semantic_type"`
	Completeness float64 `json:"completeness"`
}

// DatasetProfile is the profiling result for one mission dataset.
type DatasetProfile struct {
	Table        string          `json:"table"`
	Columns      []ColumnProfile `json:"columns"`
	Completeness float64         `json:"completeness"`
	Consistency  float64         `json:"consistency"`
	Lane         policy.INTLane  `json:"lane,omitempty"`
}

// DocumentExcerpt is a mission document fragment included in analysis.
type DocumentExcerpt struct {
	Title              string   `json:"title"`
	Excerpt            string   `json:"excerpt"`
	ReferencedEntities []string `json:"referenced_entities,omitempty"`
}

// AuthorityChange records a prior authority transition for a mission.
// Products generated under a superseded authority need re-validation.
type AuthorityChange struct {
	FromAuthority string    `json:"from_authority"`
	ToAuthority   string    `json:"to_authority"`
	ChangedAt     time.Time `json:"changed_at"`
	Reason        string    `json:"reason,omitempty"`
}

// ObservationWindow is the mission's declared observation period.
type ObservationWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Mission is the mission metadata consumed by the engine. Mission CRUD
// and persistence live in an external service; this is its read contract.
type Mission struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	AuthorityID      string            `json:"authority_id"`
	LanesPresent     []policy.INTLane  `json:"lanes_present"`
	Window           ObservationWindow `json:"observation_window"`
	Documents        []DocumentExcerpt `json:"documents,omitempty"`
	PriorityEntities []string          `json:"priority_entities,omitempty"`
	AuthorityHistory []AuthorityChange `json:"authority_history,omitempty"`
}
