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
	"context"
	"errors"
	"fmt"

	"vantage/platform/kgclient"
	"vantage/platform/policy"
)

// BlockedError carries a Block verdict out of report synthesis. It is an
// expected, user-facing outcome with remediation, not a system failure;
// handlers translate it into a structured response.
type BlockedError struct {
	Verdict Verdict
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request blocked by guardrail rule %s (%s)", e.Verdict.RuleID, e.Verdict.ActionCategory)
}

// IsPolicyConfig reports whether err is a policy configuration defect.
// Configuration defects fail closed.
func IsPolicyConfig(err error) bool {
	var ce *policy.ConfigError
	return errors.As(err, &ce)
}

// IsUpstreamUnavailable reports whether err is an upstream outage or a
// timeout. Both degrade read paths identically instead of failing them.
func IsUpstreamUnavailable(err error) bool {
	var ue *kgclient.UpstreamError
	if errors.As(err, &ue) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
