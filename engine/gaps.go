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
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"vantage/platform/gateway"
	"vantage/platform/kgclient"
	"vantage/platform/policy"
)

// SnapshotSource provides point-in-time KG extracts.
type SnapshotSource interface {
	GetMissionSnapshot(ctx context.Context, missionID string) (*kgclient.Snapshot, error)
}

// ProfileSource provides dataset semantic profiles.
type ProfileSource interface {
	GetDatasetProfiles(ctx context.Context, missionID string) ([]kgclient.DatasetProfile, error)
}

// MissionSource provides mission metadata.
type MissionSource interface {
	GetMission(ctx context.Context, missionID string) (*kgclient.Mission, error)
}

// GapAnalyzer fuses the KG snapshot, dataset profiles, and lane coverage
// expectations into structured gap findings. Findings are deterministic:
// identical inputs always produce identical findings, counts, and order.
type GapAnalyzer struct {
	snapshots SnapshotSource
	profiles  ProfileSource
	provider  gateway.Provider

	// fetchTimeout bounds each upstream fetch; on timeout the analyzer
	// degrades to whatever source succeeded.
	fetchTimeout time.Duration

	// annotationConcurrency caps concurrent advisory gateway calls.
	annotationConcurrency int
}

// NewGapAnalyzer creates an analyzer. provider may be nil; the advisory
// annotation pass is then skipped.
func NewGapAnalyzer(snapshots SnapshotSource, profiles ProfileSource, provider gateway.Provider) *GapAnalyzer {
	return &GapAnalyzer{
		snapshots:             snapshots,
		profiles:              profiles,
		provider:              provider,
		fetchTimeout:          10 * time.Second,
		annotationConcurrency: 4,
	}
}

// Run computes gap findings for a mission. expectedLanes overrides the
// generic coverage model (the authority's allowed lanes) with
// template-declared expectations when non-nil.
//
// A single source outage never fails the run: findings are computed from
// whichever source succeeded, Partial is set, and the unavailable sources
// are listed.
func (g *GapAnalyzer) Run(ctx context.Context, reg *policy.Registry, mission *kgclient.Mission, authority *policy.Authority, mode AnalysisMode, expectedLanes []policy.INTLane) *GapAnalysisResult {
	result := &GapAnalysisResult{
		MissionID:   mission.ID,
		Mode:        mode,
		GeneratedAt: time.Now().UTC(),
	}

	snapshot, profiles, unavailable := g.fetchSources(ctx, mission.ID)
	if len(unavailable) > 0 {
		result.Partial = true
		result.UnavailableSources = unavailable
	}

	thresholds := reg.Thresholds()

	result.Findings = append(result.Findings, g.missingINTFindings(mission, authority, expectedLanes)...)

	if snapshot != nil {
		result.Findings = append(result.Findings, g.timeWindowFindings(mission, snapshot, thresholds)...)
		result.Findings = append(result.Findings, g.entitySupportFindings(mission, snapshot)...)
		result.Findings = append(result.Findings, g.conflictFindings(snapshot, thresholds)...)
	}

	if profiles != nil {
		result.Findings = append(result.Findings, g.qualityFindings(profiles, thresholds)...)
	}

	sortFindings(result.Findings)
	result.Priorities = rankPriorities(result.Findings)

	if mode == ModeFull && g.provider != nil {
		result.Annotations = g.annotateConflicts(ctx, result.Findings)
	}

	return result
}

// fetchSources retrieves the KG snapshot and dataset profiles
// concurrently, each under its own timeout. Failed sources come back in
// the sorted unavailable list; callers degrade per source rather than
// fail.
func (g *GapAnalyzer) fetchSources(ctx context.Context, missionID string) (*kgclient.Snapshot, []kgclient.DatasetProfile, []string) {
	var (
		wg       sync.WaitGroup
		snapshot *kgclient.Snapshot
		profiles []kgclient.DatasetProfile
		snapErr  error
		profErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
		defer cancel()
		snapshot, snapErr = g.snapshots.GetMissionSnapshot(fetchCtx, missionID)
	}()
	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
		defer cancel()
		profiles, profErr = g.profiles.GetDatasetProfiles(fetchCtx, missionID)
	}()
	wg.Wait()

	var unavailable []string
	if snapErr != nil {
		log.Printf("[GapAnalysis] KG snapshot unavailable for mission %s: %v", missionID, snapErr)
		unavailable = append(unavailable, kgclient.SourceKG)
		snapshot = nil
	}
	if profErr != nil {
		log.Printf("[GapAnalysis] dataset profiles unavailable for mission %s: %v", missionID, profErr)
		unavailable = append(unavailable, kgclient.SourceProfiles)
		profiles = nil
	}
	sort.Strings(unavailable)

	return snapshot, profiles, unavailable
}

// missingINTFindings reports expected lanes with no coverage. A lane
// foundational to the authority is a high-severity gap, otherwise medium.
func (g *GapAnalyzer) missingINTFindings(mission *kgclient.Mission, authority *policy.Authority, expectedLanes []policy.INTLane) []GapFinding {
	expected := expectedLanes
	if expected == nil {
		expected = authority.AllowedLanes
	}

	present := make(map[policy.INTLane]struct{}, len(mission.LanesPresent))
	for _, l := range mission.LanesPresent {
		present[l] = struct{}{}
	}

	var findings []GapFinding
	for _, lane := range expected {
		if _, ok := present[lane]; ok {
			continue
		}
		severity := SeverityMedium
		if authority.IsPrimaryLane(lane) {
			severity = SeverityHigh
		}
		findings = append(findings, GapFinding{
			Kind:              GapMissingINT,
			Severity:          severity,
			Description:       fmt.Sprintf("No %s coverage for this mission", lane),
			Reference:         "lane:" + string(lane),
			RecommendedAction: fmt.Sprintf("Task or ingest a %s source", lane),
		})
	}
	return findings
}

// timeWindowFindings partitions the observation window into fixed-width
// buckets and reports contiguous runs of buckets with zero supporting
// events. Severity is monotonic in the run's share of the window, with a
// recency bump for runs touching the most recent bucket.
func (g *GapAnalyzer) timeWindowFindings(mission *kgclient.Mission, snapshot *kgclient.Snapshot, thresholds policy.Thresholds) []GapFinding {
	window := mission.Window
	if !window.End.After(window.Start) {
		return nil
	}

	width := time.Duration(thresholds.TimeBucketHours) * time.Hour
	total := int(math.Ceil(window.End.Sub(window.Start).Hours() / float64(thresholds.TimeBucketHours)))
	if total <= 0 {
		return nil
	}

	counts := make([]int, total)
	for _, ev := range snapshot.Events {
		if ev.Timestamp.Before(window.Start) || !ev.Timestamp.Before(window.End) {
			continue
		}
		idx := int(ev.Timestamp.Sub(window.Start) / width)
		if idx >= total {
			idx = total - 1
		}
		counts[idx]++
	}

	var findings []GapFinding
	for start := 0; start < total; {
		if counts[start] > 0 {
			start++
			continue
		}
		end := start
		for end+1 < total && counts[end+1] == 0 {
			end++
		}
		runLen := end - start + 1

		severity := SeverityLow
		if runLen >= 2 || end == total-1 {
			severity = SeverityMedium
		}
		if runLen*2 >= total {
			severity = SeverityHigh
		}

		gapStart := window.Start.Add(time.Duration(start) * width)
		gapEnd := window.Start.Add(time.Duration(end+1) * width)
		if gapEnd.After(window.End) {
			gapEnd = window.End
		}

		findings = append(findings, GapFinding{
			Kind:     GapMissingTimeWindow,
			Severity: severity,
			Description: fmt.Sprintf("No supporting events in %d of %d observation buckets (%s to %s)",
				runLen, total, gapStart.Format(time.RFC3339), gapEnd.Format(time.RFC3339)),
			Reference:         fmt.Sprintf("window:%s/%s", gapStart.Format(time.RFC3339), gapEnd.Format(time.RFC3339)),
			RecommendedAction: "Collect or backfill event data for the uncovered interval",
		})

		start = end + 1
	}
	return findings
}

// entitySupportFindings reports entities referenced by mission documents
// or the priority list that have no corroborating presence in the KG:
// either absent entirely or present with no source edge and no assertion.
func (g *GapAnalyzer) entitySupportFindings(mission *kgclient.Mission, snapshot *kgclient.Snapshot) []GapFinding {
	byName := make(map[string]*kgclient.Entity, len(snapshot.Entities))
	byID := make(map[string]*kgclient.Entity, len(snapshot.Entities))
	for i := range snapshot.Entities {
		e := &snapshot.Entities[i]
		byName[strings.ToLower(e.Name)] = e
		byID[e.ID] = e
	}

	corroborated := make(map[string]struct{})
	for _, rel := range snapshot.Relations {
		corroborated[rel.SourceEntityID] = struct{}{}
		corroborated[rel.TargetEntityID] = struct{}{}
	}
	for _, as := range snapshot.Assertions {
		corroborated[as.EntityID] = struct{}{}
	}

	priority := make(map[string]struct{}, len(mission.PriorityEntities))
	referenced := make(map[string]struct{})
	for _, name := range mission.PriorityEntities {
		priority[strings.ToLower(name)] = struct{}{}
		referenced[name] = struct{}{}
	}
	for _, doc := range mission.Documents {
		for _, name := range doc.ReferencedEntities {
			referenced[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(referenced))
	for name := range referenced {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []GapFinding
	for _, name := range names {
		entity := byName[strings.ToLower(name)]
		if entity == nil {
			entity = byID[name]
		}

		supported := false
		if entity != nil {
			_, supported = corroborated[entity.ID]
		}
		if supported {
			continue
		}

		severity := SeverityMedium
		if _, isPriority := priority[strings.ToLower(name)]; isPriority || (entity != nil && entity.Priority) {
			severity = SeverityHigh
		}

		desc := fmt.Sprintf("Entity %q is referenced but absent from the knowledge graph", name)
		if entity != nil {
			desc = fmt.Sprintf("Entity %q has no corroborating source edge in the knowledge graph", name)
		}

		findings = append(findings, GapFinding{
			Kind:              GapMissingEntitySupport,
			Severity:          severity,
			Description:       desc,
			Reference:         "entity:" + name,
			RecommendedAction: fmt.Sprintf("Corroborate %q from an additional source", name),
		})
	}
	return findings
}

// conflictFindings reports (entity, attribute) pairs where sources assert
// incompatible values within overlapping validity windows. Numeric values
// flag beyond the configured relative tolerance; categorical values flag
// on any difference.
func (g *GapAnalyzer) conflictFindings(snapshot *kgclient.Snapshot, thresholds policy.Thresholds) []GapFinding {
	entityName := make(map[string]string, len(snapshot.Entities))
	entityPriority := make(map[string]bool, len(snapshot.Entities))
	for _, e := range snapshot.Entities {
		entityName[e.ID] = e.Name
		entityPriority[e.ID] = e.Priority
	}

	type groupKey struct{ entityID, attribute string }
	groups := make(map[groupKey][]kgclient.Assertion)
	for _, as := range snapshot.Assertions {
		k := groupKey{as.EntityID, as.Attribute}
		groups[k] = append(groups[k], as)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entityID != keys[j].entityID {
			return keys[i].entityID < keys[j].entityID
		}
		return keys[i].attribute < keys[j].attribute
	})

	var findings []GapFinding
	for _, k := range keys {
		assertions := groups[k]
		if len(assertions) < 2 {
			continue
		}

		sources := make(map[string]struct{})
		conflicting := false
		for i := 0; i < len(assertions) && !conflicting; i++ {
			for j := i + 1; j < len(assertions); j++ {
				a, b := assertions[i], assertions[j]
				if a.Source == b.Source {
					continue
				}
				if !windowsOverlap(a, b) {
					continue
				}
				if assertionsConflict(a, b, thresholds.NumericTolerance) {
					conflicting = true
					break
				}
			}
		}
		if !conflicting {
			continue
		}

		for _, as := range assertions {
			sources[as.Source] = struct{}{}
		}
		sourceList := make([]string, 0, len(sources))
		for s := range sources {
			sourceList = append(sourceList, s)
		}
		sort.Strings(sourceList)

		name := entityName[k.entityID]
		if name == "" {
			name = k.entityID
		}

		severity := SeverityMedium
		if entityPriority[k.entityID] || len(sourceList) >= 3 {
			severity = SeverityHigh
		}

		findings = append(findings, GapFinding{
			Kind:     GapConflict,
			Severity: severity,
			Description: fmt.Sprintf("Sources %s assert incompatible values for %s.%s in overlapping time windows",
				strings.Join(sourceList, ", "), name, k.attribute),
			Reference:         "entity:" + name,
			RecommendedAction: fmt.Sprintf("Adjudicate the conflicting %s values for %q", k.attribute, name),
		})
	}
	return findings
}

// windowsOverlap reports whether two assertion validity windows overlap.
// A zero ValidTo means the assertion is still considered valid.
func windowsOverlap(a, b kgclient.Assertion) bool {
	aEnd, bEnd := a.ValidTo, b.ValidTo
	if aEnd.IsZero() {
		aEnd = time.Unix(1<<62, 0)
	}
	if bEnd.IsZero() {
		bEnd = time.Unix(1<<62, 0)
	}
	return a.ValidFrom.Before(bEnd) && b.ValidFrom.Before(aEnd)
}

// assertionsConflict applies the numeric-tolerance or categorical rule.
func assertionsConflict(a, b kgclient.Assertion, tolerance float64) bool {
	if a.NumericValue != nil && b.NumericValue != nil {
		av, bv := *a.NumericValue, *b.NumericValue
		scale := math.Max(math.Max(math.Abs(av), math.Abs(bv)), 1)
		return math.Abs(av-bv) > tolerance*scale
	}
	return a.Value != b.Value
}

// qualityFindings reports dataset profiles scoring below the configured
// completeness/consistency threshold.
func (g *GapAnalyzer) qualityFindings(profiles []kgclient.DatasetProfile, thresholds policy.Thresholds) []GapFinding {
	var findings []GapFinding
	for _, p := range profiles {
		score := math.Min(p.Completeness, p.Consistency)
		if score >= thresholds.QualityMin {
			continue
		}
		severity := SeverityMedium
		if score < thresholds.QualityMin/2 {
			severity = SeverityHigh
		}
		findings = append(findings, GapFinding{
			Kind:     GapQuality,
			Severity: severity,
			Description: fmt.Sprintf("Dataset %q scores %.2f on completeness/consistency, below the %.2f threshold",
				p.Table, score, thresholds.QualityMin),
			Reference:         "dataset:" + p.Table,
			RecommendedAction: fmt.Sprintf("Re-profile or clean dataset %q", p.Table),
		})
	}
	return findings
}

// sortFindings orders findings by severity desc, then kind, then
// description. The full order is deterministic for audit reproducibility.
func sortFindings(findings []GapFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity.Weight() > findings[j].Severity.Weight()
		}
		if findings[i].Kind != findings[j].Kind {
			return gapKindOrder[findings[i].Kind] < gapKindOrder[findings[j].Kind]
		}
		return findings[i].Description < findings[j].Description
	})
}

// rankPriorities scores entities by the number of open gaps referencing
// them weighted by severity, and returns the top five. Lane, window, and
// dataset references describe coverage shortfalls, not collectible
// targets, so only entity references rank.
func rankPriorities(findings []GapFinding) []PriorityEntry {
	type tally struct {
		count  int
		weight int
		max    Severity
	}
	scores := make(map[string]*tally)

	for _, f := range findings {
		if !strings.HasPrefix(f.Reference, "entity:") {
			continue
		}
		name := strings.TrimPrefix(f.Reference, "entity:")
		t, ok := scores[name]
		if !ok {
			t = &tally{}
			scores[name] = t
		}
		t.count++
		t.weight += f.Severity.Weight()
		if f.Severity.Weight() > t.max.Weight() || t.max == "" {
			t.max = f.Severity
		}
	}

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]PriorityEntry, 0, len(names))
	for _, name := range names {
		t := scores[name]
		entries = append(entries, PriorityEntry{
			Name:     name,
			Kind:     "entity",
			Score:    float64(t.count * t.weight),
			OpenGaps: t.count,
			Rationale: fmt.Sprintf("%d open gap(s) up to %s severity reference this entity",
				t.count, t.max),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})

	if len(entries) > 5 {
		entries = entries[:5]
	}
	return entries
}

// annotateConflicts asks the generative backend for candidate
// explanations of conflict findings. The pass is advisory-only: failures
// are dropped and the deterministic findings are never altered.
func (g *GapAnalyzer) annotateConflicts(ctx context.Context, findings []GapFinding) []ConflictAnnotation {
	var conflicts []GapFinding
	for _, f := range findings {
		if f.Kind == GapConflict {
			conflicts = append(conflicts, f)
		}
	}
	if len(conflicts) == 0 {
		return nil
	}

	sem := make(chan struct{}, g.annotationConcurrency)
	annotations := make([]*ConflictAnnotation, len(conflicts))

	var wg sync.WaitGroup
	for i, conflict := range conflicts {
		wg.Add(1)
		go func(idx int, f GapFinding) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
			defer cancel()

			resp, err := g.provider.Complete(callCtx, gateway.CompletionRequest{
				Prompt: "Suggest, in two sentences, plausible explanations for this intelligence data conflict. " +
					"Do not judge which source is correct.\n\nConflict: " + f.Description,
				MaxTokens:   256,
				Temperature: 0.2,
			})
			if err != nil {
				log.Printf("[GapAnalysis] advisory annotation failed: %v", err)
				return
			}
			annotations[idx] = &ConflictAnnotation{
				Reference:   f.Reference,
				Explanation: strings.TrimSpace(resp.Content),
			}
		}(i, conflict)
	}
	wg.Wait()

	var out []ConflictAnnotation
	for _, a := range annotations {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}
