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

	"vantage/platform/policy"
)

// SelectTemplates returns the templates a mission may use: the authority
// must be listed in the template's allowed authorities and every required
// lane must be present.
//
// The result order is stable for identical inputs (priority, then name)
// so UI renders never reorder spuriously.
func SelectTemplates(reg *policy.Registry, authority *policy.Authority, lanesPresent []policy.INTLane) []policy.Template {
	var eligible []policy.Template

	for _, t := range reg.Templates() {
		if !t.AllowsAuthority(authority.ID) {
			continue
		}
		if !t.RequiresSubsetOf(lanesPresent) {
			continue
		}
		eligible = append(eligible, t)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].Name < eligible[j].Name
	})

	return eligible
}

// TemplateEligible reports whether one template passes the selection
// predicate for the mission.
func TemplateEligible(t *policy.Template, authority *policy.Authority, lanesPresent []policy.INTLane) bool {
	return t.AllowsAuthority(authority.ID) && t.RequiresSubsetOf(lanesPresent)
}
