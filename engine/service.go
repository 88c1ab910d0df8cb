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
	"time"

	"vantage/platform/audit"
	"vantage/platform/cache"
	"vantage/platform/kgclient"
	"vantage/platform/policy"
	"vantage/platform/shared/logger"
)

const (
	cacheKindGaps    = "gap-analysis"
	cacheKindReports = "report"
)

// Service coordinates the guardrail, selector, gap analyzer, and
// synthesizer behind one facade. Every operation resolves the current
// policy registry once at entry and uses that snapshot throughout, so a
// concurrent reload never mixes revisions inside one request.
type Service struct {
	policies  *policy.Handle
	missions  MissionSource
	analyzer  *GapAnalyzer
	synth     *Synthesizer
	results   *cache.Store
	auditSink audit.Sink
	log       *logger.Logger
}

// NewService wires the engine facade. results and auditSink may be nil
// (caching and audit then become no-ops, useful in tests).
func NewService(policies *policy.Handle, missions MissionSource, analyzer *GapAnalyzer, synth *Synthesizer, results *cache.Store, auditSink audit.Sink) *Service {
	return &Service{
		policies:  policies,
		missions:  missions,
		analyzer:  analyzer,
		synth:     synth,
		results:   results,
		auditSink: auditSink,
		log:       logger.New("Engine"),
	}
}

// ClassifyRequest resolves the mission's authority and classifies the
// request text. An unknown authority fails closed with a ConfigError.
// Every verdict, allow or block, is recorded to the audit trail.
func (s *Service) ClassifyRequest(ctx context.Context, missionID, authorityID, text string) (Verdict, error) {
	reg := s.policies.Current()

	authority, err := reg.Authority(authorityID)
	if err != nil {
		return Verdict{}, err
	}

	verdict := Classify(reg, authority, text)
	if verdict.Blocked() {
		s.log.Warn(missionID, "", "request blocked by guardrail", map[string]interface{}{
			"rule_id":   verdict.RuleID,
			"category":  string(verdict.ActionCategory),
			"authority": authorityID,
		})
	}
	s.record(audit.Event{
		Kind:           audit.KindVerdict,
		MissionID:      missionID,
		Outcome:        string(verdict.Decision),
		RuleID:         verdict.RuleID,
		ActionCategory: string(verdict.ActionCategory),
		Flags:          verdict.Flags,
		Detail: map[string]any{
			"authority":    authorityID,
			"matched_span": verdict.MatchedSpan,
		},
	})
	return verdict, nil
}

// ListTemplates returns the templates selectable for the mission, in
// stable priority order.
func (s *Service) ListTemplates(ctx context.Context, missionID string) ([]policy.Template, error) {
	reg := s.policies.Current()

	mission, err := s.missions.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	authority, err := reg.Authority(mission.AuthorityID)
	if err != nil {
		return nil, err
	}
	return SelectTemplates(reg, authority, mission.LanesPresent), nil
}

// RunGapAnalysis runs (or serves from cache) a gap analysis for the
// mission. forceRegen bypasses the cache; the fresh result is written
// back either way. Identical inputs yield identical findings, so cached
// and recomputed results agree.
func (s *Service) RunGapAnalysis(ctx context.Context, missionID string, mode AnalysisMode, forceRegen bool) (*GapAnalysisResult, error) {
	return s.runGapAnalysis(ctx, missionID, mode, forceRegen, nil, cacheKindGaps+":"+string(mode))
}

// runGapAnalysis is the shared gap-analysis path. expectedLanes narrows
// the coverage model to template-declared expectations; results computed
// under narrowed expectations carry their own cacheKind so they never
// alias the mission-wide entry.
func (s *Service) runGapAnalysis(ctx context.Context, missionID string, mode AnalysisMode, forceRegen bool, expectedLanes []policy.INTLane, cacheKind string) (*GapAnalysisResult, error) {
	reg := s.policies.Current()

	mission, err := s.missions.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	authority, err := reg.Authority(mission.AuthorityID)
	if err != nil {
		return nil, err
	}

	if !forceRegen && s.results != nil {
		var cached GapAnalysisResult
		if s.results.Get(ctx, missionID, cacheKind, &cached) {
			s.log.Debug(missionID, "", "gap analysis cache hit", map[string]interface{}{"mode": string(mode)})
			return &cached, nil
		}
	}

	started := time.Now()
	result := s.analyzer.Run(ctx, reg, mission, authority, mode, expectedLanes)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Partial results are never cached: a later run with all sources
	// healthy must not be masked by a degraded snapshot.
	if s.results != nil && !result.Partial {
		s.results.Put(ctx, missionID, cacheKind, result)
	}

	s.log.InfoWithDuration(missionID, "", "gap analysis complete",
		float64(time.Since(started).Milliseconds()), map[string]interface{}{
			"mode":     string(result.Mode),
			"findings": len(result.Findings),
			"partial":  result.Partial,
		})

	s.record(audit.Event{
		Kind:      audit.KindGapAnalysis,
		MissionID: missionID,
		Outcome:   outcomeFromPartial(result.Partial),
		Flags:     result.UnavailableSources,
		Detail: map[string]any{
			"authority": mission.AuthorityID,
			"mode":      string(result.Mode),
			"findings":  len(result.Findings),
		},
	})
	return result, nil
}

// GenerateReport assembles an intelligence product. The mission context
// is rebuilt from scratch for each call; only final results are cached,
// never the context, so superseded policy decisions cannot leak into a
// later product.
//
// A guardrail block surfaces as a *BlockedError carrying the verdict.
func (s *Service) GenerateReport(ctx context.Context, missionID, templateID string, forceRegen bool) (*Report, error) {
	reg := s.policies.Current()

	mission, err := s.missions.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	authority, err := reg.Authority(mission.AuthorityID)
	if err != nil {
		return nil, err
	}
	tpl, err := reg.Template(templateID)
	if err != nil {
		return nil, err
	}

	cacheKind := cacheKindReports + ":" + templateID
	if !forceRegen && s.results != nil {
		var cached Report
		if s.results.Get(ctx, missionID, cacheKind, &cached) {
			s.log.Debug(missionID, "", "report cache hit", map[string]interface{}{"template": templateID})
			return &cached, nil
		}
	}

	// The report's coverage expectations are the template's declared
	// lanes, not the authority's full allowance.
	gaps, err := s.runGapAnalysis(ctx, missionID, ModeKG, forceRegen, tpl.RequiredLanes,
		cacheKindGaps+":"+string(ModeKG)+":"+templateID)
	if err != nil {
		s.log.Warn(missionID, "", "gap analysis unavailable for report", map[string]interface{}{
			"template": templateID,
			"error":    err.Error(),
		})
		gaps = nil
	}

	snapshot, datasetProfiles, unavailable := s.analyzer.fetchSources(ctx, missionID)
	if len(unavailable) > 0 {
		s.log.Warn(missionID, "", "report context degraded by source outage", map[string]interface{}{
			"template": templateID,
			"sources":  unavailable,
		})
	}

	mc := &MissionContext{
		Mission:   mission,
		Authority: authority,
		Snapshot:  snapshot,
		Profiles:  datasetProfiles,
		Gaps:      gaps,
	}

	report, err := s.synth.Generate(ctx, reg, mc, tpl)
	if err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			s.record(audit.Event{
				Kind:           audit.KindReport,
				MissionID:      missionID,
				Outcome:        string(DecisionBlock),
				RuleID:         blocked.Verdict.RuleID,
				ActionCategory: string(blocked.Verdict.ActionCategory),
				Detail: map[string]any{
					"authority": mission.AuthorityID,
					"template":  templateID,
				},
			})
		}
		return nil, err
	}

	if s.results != nil && len(report.DegradedSections) == 0 {
		s.results.Put(ctx, missionID, cacheKind, report)
	}

	s.log.Info(missionID, "", "report generated", map[string]interface{}{
		"template": templateID,
		"sections": len(report.Sections),
		"degraded": len(report.DegradedSections),
	})

	s.record(audit.Event{
		Kind:      audit.KindReport,
		MissionID: missionID,
		Outcome:   string(DecisionAllow),
		Flags:     report.DegradedSections,
		Detail: map[string]any{
			"authority": mission.AuthorityID,
			"template":  templateID,
			"sections":  len(report.Sections),
		},
	})
	return report, nil
}

// ReloadPolicies atomically swaps in a new registry from path. On any
// validation failure the previous registry stays active.
func (s *Service) ReloadPolicies(path string) error {
	if err := s.policies.Reload(path); err != nil {
		return err
	}
	reg := s.policies.Current()
	s.record(audit.Event{
		Kind:    audit.KindReload,
		Outcome: reg.Revision(),
		Detail: map[string]any{
			"authorities": len(reg.AuthorityIDs()),
			"rules":       len(reg.Rules()),
			"templates":   len(reg.Templates()),
		},
	})
	return nil
}

// Registry exposes the current policy snapshot.
func (s *Service) Registry() *policy.Registry {
	return s.policies.Current()
}

// SourceHealth reports per-upstream health when the mission source is
// the real HTTP client.
func (s *Service) SourceHealth() map[string]kgclient.SourceHealth {
	if c, ok := s.missions.(*kgclient.Client); ok {
		return c.Health()
	}
	return nil
}

func (s *Service) record(event audit.Event) {
	if s.auditSink == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.auditSink.Record(event)
}

func outcomeFromPartial(partial bool) string {
	if partial {
		return "partial"
	}
	return "complete"
}
