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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/platform/policy"
)

const classifierConfig = `
kind: PolicyConfig
metadata:
  revision: "test"
spec:
  authorities:
    - id: title10
      name: Title 10 Military Operations
      allowed_lanes: [SIGINT, GEOINT]
      primary_lanes: [SIGINT]
      allowed_actions: [military_deployment, general_analysis]
      blocked_actions: [domestic_arrest]
    - id: leo
      name: Domestic Law Enforcement
      allowed_lanes: [LEO_CRIMINT, OSINT]
      primary_lanes: [LEO_CRIMINT]
      allowed_actions: [domestic_arrest, general_analysis]
      blocked_actions: [military_deployment]
  rules:
    - id: rule-arrest
      name: Arrest planning
      category: domestic_arrest
      triggers:
        - phrases: ["arrest"]
        - phrases: ["detain", "suspect"]
    - id: rule-deploy
      name: Deployment planning
      category: military_deployment
      triggers:
        - phrases: ["deploy", "forces"]
        - phrases: ["strike package"]
      remediation: >-
        Requests involving {category} are outside the {authority}
        authority. Refer this request to {correct_authority}.
`

func classifierRegistry(t *testing.T) *policy.Registry {
	t.Helper()
	reg, err := policy.Parse([]byte(classifierConfig))
	require.NoError(t, err)
	return reg
}

func authorityByID(t *testing.T, reg *policy.Registry, id string) *policy.Authority {
	t.Helper()
	a, err := reg.Authority(id)
	require.NoError(t, err)
	return a
}

func TestClassifyBlocksUnpermittedCategory(t *testing.T) {
	reg := classifierRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	v := Classify(reg, title10, "Please help plan the arrest of the subject at the border crossing.")

	require.True(t, v.Blocked())
	assert.Equal(t, "rule-arrest", v.RuleID)
	assert.Equal(t, policy.ActionDomesticArrest, v.ActionCategory)
	assert.Contains(t, v.Remediation, "domestic_arrest")
	assert.Contains(t, v.Remediation, "Title 10 Military Operations")
	assert.Contains(t, v.Remediation, "Domestic Law Enforcement",
		"remediation must name an authority that does permit the category")
}

func TestClassifyAllowsPermittedCategory(t *testing.T) {
	reg := classifierRegistry(t)
	leo := authorityByID(t, reg, "leo")

	// The arrest rule exists, but this authority permits the category.
	v := Classify(reg, leo, "Plan the arrest of the suspect.")
	assert.True(t, v.Allowed())
	assert.Empty(t, v.Flags)
}

func TestClassifyCompoundTriggerMatchesInflectedText(t *testing.T) {
	reg := classifierRegistry(t)
	leo := authorityByID(t, reg, "leo")

	// "deploying" contains "deploy"; both compound phrases co-occur.
	v := Classify(reg, leo, "Recommend deploying ground forces near the harbor.")

	require.True(t, v.Blocked())
	assert.Equal(t, "rule-deploy", v.RuleID)
	assert.Equal(t, policy.ActionMilitaryDeployment, v.ActionCategory)
}

func TestClassifyCompoundTriggerRequiresAllPhrases(t *testing.T) {
	reg := classifierRegistry(t)
	leo := authorityByID(t, reg, "leo")

	v := Classify(reg, leo, "The deployment schedule for the new software release.")
	assert.True(t, v.Allowed(), "a lone phrase of a compound trigger must not fire")
}

func TestClassifyLongestSpanWins(t *testing.T) {
	config := `
kind: PolicyConfig
spec:
  authorities:
    - id: none
      name: No Mandate
      allowed_actions: []
  rules:
    - id: rule-short
      category: covert_collection
      triggers:
        - phrases: ["seize"]
    - id: rule-long
      category: financial_seizure
      triggers:
        - phrases: ["seize", "assets"]
`
	reg, err := policy.Parse([]byte(config))
	require.NoError(t, err)
	none := authorityByID(t, reg, "none")

	v := Classify(reg, none, "Can we seize the assets held offshore?")
	require.True(t, v.Blocked())
	assert.Equal(t, "rule-long", v.RuleID, "the more specific match must win")
}

func TestClassifyTieKeepsFirstDeclaredRule(t *testing.T) {
	config := `
kind: PolicyConfig
spec:
  authorities:
    - id: none
      name: No Mandate
      allowed_actions: []
  rules:
    - id: rule-first
      category: covert_collection
      triggers:
        - phrases: ["tasking"]
    - id: rule-second
      category: financial_seizure
      triggers:
        - phrases: ["tasking"]
`
	reg, err := policy.Parse([]byte(config))
	require.NoError(t, err)
	none := authorityByID(t, reg, "none")

	v1 := Classify(reg, none, "Draft the tasking order.")
	v2 := Classify(reg, none, "Draft the tasking order.")
	require.True(t, v1.Blocked())
	assert.Equal(t, "rule-first", v1.RuleID)
	assert.Equal(t, v1.RuleID, v2.RuleID, "tie resolution must be stable across runs")
}

func TestClassifyMalformedInputFailsOpen(t *testing.T) {
	reg := classifierRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "invalid utf8", text: "arrest \xff\xfe plan"},
		{name: "oversized", text: strings.Repeat("a", maxClassifiableBytes+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(reg, title10, tt.text)
			assert.True(t, v.Allowed(), "malformed input must never block")
			assert.Contains(t, v.Flags, "classifier_degraded")
			assert.Empty(t, v.RuleID)
		})
	}
}

func TestClassifyNoMatchAllowsCleanly(t *testing.T) {
	reg := classifierRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	v := Classify(reg, title10, "Summarize recent SIGINT activity in the region.")
	assert.True(t, v.Allowed())
	assert.Empty(t, v.Flags)
	assert.Empty(t, v.Remediation)
}

func TestClassifyNormalizesPunctuationAndCase(t *testing.T) {
	reg := classifierRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	v := Classify(reg, title10, "ARREST!!! the courier, immediately.")
	require.True(t, v.Blocked())
	assert.Equal(t, "rule-arrest", v.RuleID)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello,  World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"MiXeD-CaSe_text", "mixed case text"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalize(tt.in))
	}
}
