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
	"time"
	"unicode"
	"unicode/utf8"

	"vantage/platform/policy"
)

// maxClassifiableBytes bounds the request text the classifier will scan.
// Longer input is treated as malformed and fails open with a degraded flag.
const maxClassifiableBytes = 64 * 1024

// Classify screens request text against the registry's guardrail rules
// under the mission's authority.
//
// The scan is deterministic and documented for audit reproducibility:
// rules are evaluated in declaration order; a rule matches when all
// phrases of any one of its triggers occur in the normalized text; among
// rules whose category the authority does not permit, the most specific
// match wins, where specificity is the combined length of the matched
// trigger phrases; ties keep the first-declared rule.
//
// The classifier is total. Malformed input (empty, invalid UTF-8, or
// oversized) is treated as non-matching and allowed with a
// classifier_degraded flag; blocking must always be justified by a rule.
// This must resolve before any generative call is made.
func Classify(reg *policy.Registry, authority *policy.Authority, text string) Verdict {
	now := time.Now().UTC()

	if text == "" || !utf8.ValidString(text) || len(text) > maxClassifiableBytes {
		return Verdict{
			Decision:    DecisionAllow,
			Flags:       []string{"classifier_degraded"},
			EvaluatedAt: now,
		}
	}

	norm := normalize(text)

	var (
		best     *policy.GuardrailRule
		bestSpan int
		matched  []string
	)

	for i := range reg.Rules() {
		rule := &reg.Rules()[i]
		if authority.PermitsAction(rule.Category) {
			// Only categories blocked under this authority can fire.
			continue
		}
		phrases, span := matchRule(norm, rule)
		if span == 0 {
			continue
		}
		// Strictly greater keeps the first-declared rule on ties.
		if span > bestSpan {
			best = rule
			bestSpan = span
			matched = phrases
		}
	}

	if best == nil {
		return Verdict{Decision: DecisionAllow, EvaluatedAt: now}
	}

	return Verdict{
		Decision:       DecisionBlock,
		ActionCategory: best.Category,
		RuleID:         best.ID,
		MatchedSpan:    strings.Join(matched, "+"),
		Remediation:    remediationFor(reg, authority, best),
		EvaluatedAt:    now,
	}
}

// matchRule returns the matched phrases and their combined length for the
// best-matching trigger of one rule, or 0 when no trigger matches.
func matchRule(norm string, rule *policy.GuardrailRule) ([]string, int) {
	var (
		bestPhrases []string
		bestSpan    int
	)

	for _, trig := range rule.Triggers {
		span := 0
		phrases := make([]string, 0, len(trig.Phrases))
		all := true
		for _, phrase := range trig.Phrases {
			p := normalize(phrase)
			if p == "" || !strings.Contains(norm, p) {
				all = false
				break
			}
			span += len(p)
			phrases = append(phrases, p)
		}
		if all && span > bestSpan {
			bestSpan = span
			bestPhrases = phrases
		}
	}

	return bestPhrases, bestSpan
}

// remediationFor renders the rule's remediation template, naming the
// mission's authority and the correct-lane authority for the category.
func remediationFor(reg *policy.Registry, authority *policy.Authority, rule *policy.GuardrailRule) string {
	correct := "an authority with the appropriate mandate"
	if a := reg.AuthorityForAction(rule.Category); a != nil {
		correct = a.Name + " (" + a.ID + ")"
	}

	tmpl := rule.Remediation
	if tmpl == "" {
		tmpl = "Requests involving {category} are outside the {authority} authority. Refer this request to {correct_authority}."
	}

	r := strings.NewReplacer(
		"{category}", string(rule.Category),
		"{authority}", authority.Name,
		"{correct_authority}", correct,
	)
	return r.Replace(tmpl)
}

// normalize case-folds, replaces punctuation with spaces, and collapses
// whitespace so phrase matching is insensitive to formatting.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}
