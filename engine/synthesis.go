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
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"vantage/platform/audit"
	"vantage/platform/gateway"
	"vantage/platform/policy"
)

// Synthesizer renders intelligence products from templates. Sections are
// rendered concurrently under a fixed cap; a section whose generative
// call fails or times out degrades to its fallback text instead of
// failing the product.
type Synthesizer struct {
	provider gateway.Provider
	audit    audit.Sink

	// sectionTimeout bounds each generative section call.
	sectionTimeout time.Duration

	// maxConcurrent caps in-flight section renders.
	maxConcurrent int
}

// NewSynthesizer creates a synthesizer over the given provider. sink may
// be nil; document-screening verdicts then go unrecorded.
func NewSynthesizer(provider gateway.Provider, sink audit.Sink) *Synthesizer {
	return &Synthesizer{
		provider:       provider,
		audit:          sink,
		sectionTimeout: 30 * time.Second,
		maxConcurrent:  4,
	}
}

// internalMarkers are pipeline artifacts that must never reach a
// finished product. Any line containing one is dropped during
// sanitization.
var internalMarkers = []string{
	"agent run advisory",
	"evidence.incidents[",
	"event id",
	"provided json",
	"provided context",
}

// Generate renders one report. The guardrail resolves before any
// generative call: every mission document excerpt that will be injected
// into a section prompt is classified first, and a block verdict aborts
// the product with a BlockedError before the provider is touched.
//
// Cancellation of ctx returns the context error and no partial product.
func (s *Synthesizer) Generate(ctx context.Context, reg *policy.Registry, mc *MissionContext, tpl *policy.Template) (*Report, error) {
	if mc.Authority == nil {
		return nil, &policy.ConfigError{Reason: "mission has no resolved authority"}
	}
	if !TemplateEligible(tpl, mc.Authority, mc.Mission.LanesPresent) {
		return nil, fmt.Errorf("template %s is not eligible under authority %s with lanes %v",
			tpl.ID, mc.Authority.ID, mc.Mission.LanesPresent)
	}

	for _, doc := range mc.Mission.Documents {
		verdict := Classify(reg, mc.Authority, doc.Excerpt)
		s.recordScreenVerdict(mc.Mission.ID, doc.Title, verdict)
		if verdict.Blocked() {
			log.Printf("[Synthesis] blocked product for mission %s: document %q matched rule %s",
				mc.Mission.ID, doc.Title, verdict.RuleID)
			return nil, &BlockedError{Verdict: verdict}
		}
	}

	posture := buildPosture(mc)
	preamble := s.buildPreamble(mc, posture)

	sections := make([]ReportSection, len(tpl.Sections))
	sem := make(chan struct{}, s.maxConcurrent)

	var wg sync.WaitGroup
	for i, spec := range tpl.Sections {
		wg.Add(1)
		go func(idx int, spec policy.SectionSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			sections[idx] = s.renderSection(ctx, mc, preamble, spec)
		}(i, spec)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		MissionID:        mc.Mission.ID,
		TemplateID:       tpl.ID,
		Sections:         sections,
		GuardrailPosture: posture,
		GeneratedAt:      time.Now().UTC(),
	}
	if mc.Gaps != nil {
		report.GapSnapshotRef = fmt.Sprintf("%s/%s", mc.Mission.ID, mc.Gaps.GeneratedAt.Format(time.RFC3339))
	}
	for _, sec := range sections {
		if sec.Degraded {
			report.DegradedSections = append(report.DegradedSections, sec.Name)
		}
	}

	report.Advisory = s.selfVerify(ctx, report)

	return report, nil
}

// recordScreenVerdict writes one document-screening verdict to the audit
// trail. Allow verdicts are recorded like blocks; screening is part of
// the guardrail surface, not an internal shortcut.
func (s *Synthesizer) recordScreenVerdict(missionID, docTitle string, v Verdict) {
	if s.audit == nil {
		return
	}
	s.audit.Record(audit.Event{
		Kind:           audit.KindVerdict,
		MissionID:      missionID,
		Outcome:        string(v.Decision),
		RuleID:         v.RuleID,
		ActionCategory: string(v.ActionCategory),
		Flags:          v.Flags,
		Detail: map[string]any{
			"stage":    "document_screen",
			"document": docTitle,
		},
		CreatedAt: time.Now().UTC(),
	})
}

// renderSection renders one section under its own timeout. Provider
// failure or timeout yields the template's fallback text, marked
// degraded, never an error.
func (s *Synthesizer) renderSection(ctx context.Context, mc *MissionContext, preamble string, spec policy.SectionSpec) ReportSection {
	started := time.Now()
	section := ReportSection{Name: spec.Name}

	callCtx, cancel := context.WithTimeout(ctx, s.sectionTimeout)
	defer cancel()

	resp, err := s.provider.Complete(callCtx, gateway.CompletionRequest{
		Prompt:      preamble + "\n\n" + s.buildSectionPrompt(mc, spec),
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		log.Printf("[Synthesis] section %q degraded for mission %s: %v", spec.Name, mc.Mission.ID, err)
		section.Content = spec.FallbackText
		section.Degraded = true
		section.RenderTimeMs = time.Since(started).Milliseconds()
		return section
	}

	section.Content = sanitizeMarkdown(resp.Content)
	section.RenderTimeMs = time.Since(started).Milliseconds()
	return section
}

// buildPosture summarizes the policy constraints the product is
// generated under, including how the mission's authority changed over
// time.
func buildPosture(mc *MissionContext) GuardrailPosture {
	posture := GuardrailPosture{
		AuthorityID:       mc.Authority.ID,
		AuthorityName:     mc.Authority.Name,
		Disclaimer:        mc.Authority.Disclaimer,
		BlockedCategories: append([]policy.ActionCategory(nil), mc.Authority.Blocked...),
	}
	sort.Slice(posture.BlockedCategories, func(i, j int) bool {
		return posture.BlockedCategories[i] < posture.BlockedCategories[j]
	})
	for _, change := range mc.Mission.AuthorityHistory {
		posture.AuthorityHistory = append(posture.AuthorityHistory,
			fmt.Sprintf("%s: authority changed from %s to %s",
				change.ChangedAt.Format("2006-01-02"), change.FromAuthority, change.ToAuthority))
	}
	return posture
}

// buildPreamble is the shared head of every section prompt: mission
// framing, the authority posture, and the open-gap picture.
func (s *Synthesizer) buildPreamble(mc *MissionContext, posture GuardrailPosture) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are drafting one section of an intelligence product for mission %q.\n", mc.Mission.Name)
	fmt.Fprintf(&b, "Operating authority: %s (%s).\n", posture.AuthorityName, posture.AuthorityID)
	if posture.Disclaimer != "" {
		fmt.Fprintf(&b, "Mandatory disclaimer context: %s\n", posture.Disclaimer)
	}
	if len(posture.BlockedCategories) > 0 {
		cats := make([]string, len(posture.BlockedCategories))
		for i, c := range posture.BlockedCategories {
			cats[i] = string(c)
		}
		fmt.Fprintf(&b, "Never recommend actions in these categories: %s.\n", strings.Join(cats, ", "))
	}
	for _, line := range posture.AuthorityHistory {
		fmt.Fprintf(&b, "Authority history: %s\n", line)
	}
	if mc.Gaps != nil && len(mc.Gaps.Findings) > 0 {
		b.WriteString("Known intelligence gaps:\n")
		for i, f := range mc.Gaps.Findings {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Description)
		}
	}
	b.WriteString("Write in finished analytic prose. Do not mention pipeline internals, record identifiers, or the context you were given.")
	return b.String()
}

// buildSectionPrompt appends the section's own fragment and the mission
// data it declared a requirement on.
func (s *Synthesizer) buildSectionPrompt(mc *MissionContext, spec policy.SectionSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\n%s\n", spec.Name, spec.PromptFragment)

	wants := make(map[string]struct{}, len(spec.DataRequirements))
	for _, req := range spec.DataRequirements {
		wants[req] = struct{}{}
	}

	if _, ok := wants["documents"]; ok {
		for _, doc := range mc.Mission.Documents {
			fmt.Fprintf(&b, "\nSource material (%s):\n%s\n", doc.Title, doc.Excerpt)
		}
	}
	if _, ok := wants["entities"]; ok && mc.Snapshot != nil {
		b.WriteString("\nTracked entities:\n")
		for _, e := range mc.Snapshot.Entities {
			fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
		}
	}
	if _, ok := wants["events"]; ok && mc.Snapshot != nil {
		b.WriteString("\nEvent timeline:\n")
		for _, ev := range mc.Snapshot.Events {
			fmt.Fprintf(&b, "- %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Description)
		}
	}
	if _, ok := wants["profiles"]; ok && len(mc.Profiles) > 0 {
		b.WriteString("\nDataset quality profiles:\n")
		for _, p := range mc.Profiles {
			fmt.Fprintf(&b, "- %s: completeness %.2f, consistency %.2f\n", p.Table, p.Completeness, p.Consistency)
		}
	}
	if _, ok := wants["priorities"]; ok && mc.Gaps != nil {
		b.WriteString("\nCollection priorities:\n")
		for _, p := range mc.Gaps.Priorities {
			fmt.Fprintf(&b, "- %s (%s): %s\n", p.Name, p.Kind, p.Rationale)
		}
	}
	return b.String()
}

// sanitizeMarkdown drops lines carrying pipeline-internal markers and
// collapses the blank runs left behind. Matching is case-insensitive.
func sanitizeMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(line)
		internal := false
		for _, marker := range internalMarkers {
			if strings.Contains(lower, marker) {
				internal = true
				break
			}
		}
		if !internal {
			kept = append(kept, line)
		}
	}

	out := strings.Join(kept, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

// selfVerify runs one best-effort review pass over the assembled product
// and returns an advisory note. Failure returns an empty advisory; the
// product itself is never altered or blocked here.
func (s *Synthesizer) selfVerify(ctx context.Context, report *Report) string {
	var b strings.Builder
	b.WriteString("Review the following intelligence product sections for unsupported claims or " +
		"policy-inconsistent recommendations. Reply with a short advisory note, or \"No concerns.\"\n")
	for _, sec := range report.Sections {
		if sec.Degraded {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", sec.Name, sec.Content)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.sectionTimeout)
	defer cancel()

	resp, err := s.provider.Complete(callCtx, gateway.CompletionRequest{
		Prompt:      b.String(),
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		log.Printf("[Synthesis] self-verify pass skipped for mission %s: %v", report.MissionID, err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
