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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/platform/policy"
)

const selectorConfig = `
kind: PolicyConfig
spec:
  authorities:
    - id: title10
      name: Title 10
      allowed_lanes: [SIGINT, GEOINT, OSINT]
      allowed_actions: [general_analysis]
    - id: leo
      name: Law Enforcement
      allowed_lanes: [LEO_CRIMINT, OSINT]
      allowed_actions: [general_analysis]
  templates:
    - id: tpl-zulu
      name: Zulu Brief
      priority: 10
      required_lanes: [SIGINT]
      allowed_authorities: [title10]
      sections:
        - name: S
          prompt_fragment: P
          fallback_text: F
    - id: tpl-alpha
      name: Alpha Brief
      priority: 10
      required_lanes: [SIGINT]
      allowed_authorities: [title10]
      sections:
        - name: S
          prompt_fragment: P
          fallback_text: F
    - id: tpl-osint
      name: Open Source Brief
      priority: 50
      required_lanes: [OSINT]
      allowed_authorities: [title10, leo]
      sections:
        - name: S
          prompt_fragment: P
          fallback_text: F
    - id: tpl-geo
      name: Imagery Brief
      priority: 5
      required_lanes: [GEOINT]
      allowed_authorities: [title10]
      sections:
        - name: S
          prompt_fragment: P
          fallback_text: F
`

func selectorRegistry(t *testing.T) *policy.Registry {
	t.Helper()
	reg, err := policy.Parse([]byte(selectorConfig))
	require.NoError(t, err)
	return reg
}

func TestSelectTemplatesFiltersAndOrders(t *testing.T) {
	reg := selectorRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	got := SelectTemplates(reg, title10, []policy.INTLane{policy.LaneSIGINT, policy.LaneGEOINT, policy.LaneOSINT})

	ids := make([]string, len(got))
	for i, tpl := range got {
		ids[i] = tpl.ID
	}
	// Priority ascending, then name for equal priority.
	assert.Equal(t, []string{"tpl-geo", "tpl-alpha", "tpl-zulu", "tpl-osint"}, ids)
}

func TestSelectTemplatesExcludesMissingLanes(t *testing.T) {
	reg := selectorRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	got := SelectTemplates(reg, title10, []policy.INTLane{policy.LaneOSINT})
	require.Len(t, got, 1)
	assert.Equal(t, "tpl-osint", got[0].ID)
}

func TestSelectTemplatesExcludesOtherAuthorities(t *testing.T) {
	reg := selectorRegistry(t)
	leo := authorityByID(t, reg, "leo")

	got := SelectTemplates(reg, leo, []policy.INTLane{policy.LaneSIGINT, policy.LaneOSINT})
	require.Len(t, got, 1)
	assert.Equal(t, "tpl-osint", got[0].ID, "templates gated to other authorities must not appear")
}

func TestSelectTemplatesEmptyWhenNothingEligible(t *testing.T) {
	reg := selectorRegistry(t)
	leo := authorityByID(t, reg, "leo")

	got := SelectTemplates(reg, leo, []policy.INTLane{policy.LaneLEOCRIMINT})
	assert.Empty(t, got)
}

func TestSelectTemplatesStableAcrossCalls(t *testing.T) {
	reg := selectorRegistry(t)
	title10 := authorityByID(t, reg, "title10")
	lanes := []policy.INTLane{policy.LaneSIGINT, policy.LaneGEOINT, policy.LaneOSINT}

	first := SelectTemplates(reg, title10, lanes)
	for i := 0; i < 10; i++ {
		again := SelectTemplates(reg, title10, lanes)
		require.Equal(t, first, again)
	}
}

func TestTemplateEligible(t *testing.T) {
	reg := selectorRegistry(t)
	title10 := authorityByID(t, reg, "title10")

	tpl, err := reg.Template("tpl-zulu")
	require.NoError(t, err)

	assert.True(t, TemplateEligible(tpl, title10, []policy.INTLane{policy.LaneSIGINT}))
	assert.False(t, TemplateEligible(tpl, title10, []policy.INTLane{policy.LaneOSINT}))
}
