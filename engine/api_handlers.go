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
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"vantage/platform/policy"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1MB

// APIHandler handles the engine's HTTP surface.
type APIHandler struct {
	service   *Service
	collector *MetricsCollector

	// policyPath is the config file re-read on POST /policies/reload.
	policyPath string
}

// NewAPIHandler creates an API handler over the service facade.
func NewAPIHandler(service *Service, collector *MetricsCollector, policyPath string) *APIHandler {
	return &APIHandler{service: service, collector: collector, policyPath: policyPath}
}

// APIError is the error envelope returned on failures.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClassifyRequestBody is the POST /guardrails/classify payload.
type ClassifyRequestBody struct {
	MissionID   string `json:"mission_id"`
	AuthorityID string `json:"authority_id"`
	Text        string `json:"text"`
}

// ClassifyResponse wraps a verdict with its request id.
type ClassifyResponse struct {
	RequestID string  `json:"request_id"`
	Verdict   Verdict `json:"verdict"`
}

// GapAnalysisRequestBody is the POST gap-analysis payload.
type GapAnalysisRequestBody struct {
	Mode       string `json:"mode,omitempty"`
	ForceRegen bool   `json:"force_regen,omitempty"`
}

// ReportRequestBody is the POST reports payload.
type ReportRequestBody struct {
	TemplateID string `json:"template_id"`
	ForceRegen bool   `json:"force_regen,omitempty"`
}

// HandleClassify handles POST /api/v1/guardrails/classify.
func (h *APIHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var body ClassifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if body.AuthorityID == "" {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "authority_id is required")
		return
	}

	verdict, err := h.service.ClassifyRequest(r.Context(), body.MissionID, body.AuthorityID, body.Text)
	if err != nil {
		h.writeServiceError(w, err)
		h.collector.RecordOperation("classify", "error", time.Since(started))
		return
	}

	h.collector.RecordVerdict(verdict)
	promVerdictsTotal.WithLabelValues(string(verdict.Decision)).Inc()
	outcome := "success"
	if verdict.Blocked() {
		outcome = "blocked"
	}
	h.collector.RecordOperation("classify", outcome, time.Since(started))

	h.writeJSON(w, http.StatusOK, ClassifyResponse{
		RequestID: uuid.New().String(),
		Verdict:   verdict,
	})
}

// HandleListTemplates handles GET /api/v1/missions/{id}/templates.
func (h *APIHandler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	missionID := mux.Vars(r)["id"]

	templates, err := h.service.ListTemplates(r.Context(), missionID)
	if err != nil {
		h.writeServiceError(w, err)
		h.collector.RecordOperation("templates", "error", time.Since(started))
		return
	}

	h.collector.RecordOperation("templates", "success", time.Since(started))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"mission_id": missionID,
		"templates":  templates,
	})
}

// HandleGapAnalysis handles POST /api/v1/missions/{id}/gap-analysis.
func (h *APIHandler) HandleGapAnalysis(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	missionID := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var body GapAnalysisRequestBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
			return
		}
	}

	mode := ModeKG
	switch body.Mode {
	case "", string(ModeKG):
	case string(ModeFull):
		mode = ModeFull
	default:
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "mode must be \"kg\" or \"full\"")
		return
	}

	result, err := h.service.RunGapAnalysis(r.Context(), missionID, mode, body.ForceRegen)
	if err != nil {
		h.writeServiceError(w, err)
		h.collector.RecordOperation("gap-analysis", "error", time.Since(started))
		return
	}

	h.collector.RecordOperation("gap-analysis", "success", time.Since(started))
	h.writeJSON(w, http.StatusOK, result)
}

// HandleGenerateReport handles POST /api/v1/missions/{id}/reports.
func (h *APIHandler) HandleGenerateReport(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	missionID := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var body ReportRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if body.TemplateID == "" {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "template_id is required")
		return
	}

	report, err := h.service.GenerateReport(r.Context(), missionID, body.TemplateID, body.ForceRegen)
	if err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			h.collector.RecordReport(nil, true)
			h.collector.RecordOperation("report", "blocked", time.Since(started))
			// A block is a structured outcome, not a server failure.
			h.writeJSON(w, http.StatusForbidden, map[string]any{
				"blocked": true,
				"verdict": blocked.Verdict,
			})
			return
		}
		h.writeServiceError(w, err)
		h.collector.RecordOperation("report", "error", time.Since(started))
		return
	}

	h.collector.RecordReport(report, false)
	h.collector.RecordOperation("report", "success", time.Since(started))
	h.writeJSON(w, http.StatusOK, report)
}

// HandleReloadPolicies handles POST /api/v1/policies/reload.
func (h *APIHandler) HandleReloadPolicies(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadPolicies(h.policyPath); err != nil {
		log.Printf("[API] policy reload rejected: %v", err)
		h.writeError(w, http.StatusUnprocessableEntity, "POLICY_CONFIG_ERROR", err.Error())
		return
	}
	reg := h.service.Registry()
	h.collector.RecordReload(reg.Revision())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"revision": reg.Revision(),
	})
}

// HandleHealth handles GET /health.
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.collector.SetHealthStatus(true)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"revision": h.service.Registry().Revision(),
		"sources":  h.service.SourceHealth(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleMetrics handles GET /metrics (JSON view).
func (h *APIHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

// writeServiceError maps service errors onto HTTP statuses: policy
// configuration problems fail closed as 422, upstream outages surface as
// 502, everything else is a 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	var cfgErr *policy.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		h.writeError(w, http.StatusUnprocessableEntity, "POLICY_CONFIG_ERROR", cfgErr.Error())
	case IsUpstreamUnavailable(err):
		h.writeError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", err.Error())
	default:
		log.Printf("[API] internal error: %v", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// writeJSON writes a JSON response
func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *APIHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, APIError{
		Error: APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
