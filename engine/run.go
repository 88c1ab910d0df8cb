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
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"vantage/platform/audit"
	"vantage/platform/cache"
	"vantage/platform/gateway"
	"vantage/platform/kgclient"
	"vantage/platform/policy"
)

// Prometheus metrics
var (
	promVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vantage_engine_verdicts_total",
			Help: "Total number of guardrail verdicts issued",
		},
		[]string{"decision"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vantage_engine_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"operation"},
	)
	promGapAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vantage_engine_gap_analyses_total",
			Help: "Total number of gap analysis runs",
		},
		[]string{"outcome"},
	)
	promReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vantage_engine_reports_total",
			Help: "Total number of report generations",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(promVerdictsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promGapAnalyses)
	prometheus.MustRegister(promReportsTotal)
}

// Run is the exported entry point for the engine service.
//
// It loads the policy configuration (failing closed on any validation
// error), wires the upstream clients, and serves the HTTP API. The
// function blocks until the server shuts down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8084)
//   - POLICY_CONFIG: path to the policy YAML (default: configs/policy.yaml)
//   - KG_API_URL: mission/KG service base URL (default: http://localhost:8085)
//   - DATABASE_URL: PostgreSQL connection string for the audit trail (optional)
//   - REDIS_ADDR: Redis address for the results cache (optional)
//   - REDIS_PASSWORD, REDIS_DB, CACHE_TTL_MINUTES: cache tuning (optional)
//   - BEDROCK_REGION, BEDROCK_MODEL: generative backend (optional; a mock
//     backend serving fallback-quality text is used when unset)
func Run() {
	log.Println("Starting Vantage Engine...")

	policyPath := getEnv("POLICY_CONFIG", "configs/policy.yaml")
	registry, err := policy.Load(policyPath)
	if err != nil {
		// No valid policy means no safe operation.
		log.Fatalf("[Engine] refusing to start without a valid policy configuration: %v", err)
	}
	policies := policy.NewHandle(registry)
	log.Printf("[Engine] policy revision %s loaded: %d authorities, %d rules, %d templates",
		registry.Revision(), len(registry.AuthorityIDs()), len(registry.Rules()), len(registry.Templates()))

	missions := kgclient.New(getEnv("KG_API_URL", "http://localhost:8085"), 15*time.Second)

	auditSink := initAuditSink()
	results := initResultsCache()
	provider := initProvider()

	analyzer := NewGapAnalyzer(missions, missions, provider)
	synth := NewSynthesizer(provider, auditSink)
	service := NewService(policies, missions, analyzer, synth, results, auditSink)
	collector := NewMetricsCollector()
	collector.RecordReload(registry.Revision())

	api := NewAPIHandler(service, collector, policyPath)

	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", api.HandleHealth).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", api.HandleMetrics).Methods("GET")  // JSON metrics
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET") // Prometheus native format

	// Guardrail classification
	r.HandleFunc("/api/v1/guardrails/classify", instrument("classify", api.HandleClassify)).Methods("POST")

	// Mission-scoped operations
	r.HandleFunc("/api/v1/missions/{id}/templates", instrument("templates", api.HandleListTemplates)).Methods("GET")
	r.HandleFunc("/api/v1/missions/{id}/gap-analysis", instrument("gap-analysis", api.HandleGapAnalysis)).Methods("POST")
	r.HandleFunc("/api/v1/missions/{id}/reports", instrument("report", api.HandleGenerateReport)).Methods("POST")

	// Policy administration
	r.HandleFunc("/api/v1/policies/reload", api.HandleReloadPolicies).Methods("POST")

	port := getEnv("PORT", "8084")
	handler := c.Handler(r)
	log.Printf("Vantage Engine listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

// instrument wraps a handler with the Prometheus duration histogram and
// a capturing writer so outcome counters see the final status.
func instrument(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		promRequestDuration.WithLabelValues(operation).Observe(float64(time.Since(started).Milliseconds()))

		outcome := "success"
		switch {
		case rec.status == http.StatusForbidden:
			outcome = "blocked"
		case rec.status >= 400:
			outcome = "error"
		}
		// Verdict decisions cannot be inferred from the HTTP status
		// (a block verdict is a 200); HandleClassify counts them from
		// the verdict itself.
		switch operation {
		case "gap-analysis":
			promGapAnalyses.WithLabelValues(outcome).Inc()
		case "report":
			promReportsTotal.WithLabelValues(outcome).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func initAuditSink() audit.Sink {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Println("[Engine] DATABASE_URL not set, audit trail kept in memory")
		return audit.NewAsyncSink(audit.Config{})
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Printf("[Engine] audit database unavailable, falling back to memory: %v", err)
		return audit.NewAsyncSink(audit.Config{})
	}
	if err := db.Ping(); err != nil {
		log.Printf("[Engine] audit database ping failed, falling back to memory: %v", err)
		return audit.NewAsyncSink(audit.Config{})
	}
	log.Println("[Engine] audit trail persisting to PostgreSQL")
	return audit.NewAsyncSink(audit.Config{DB: db})
}

func initResultsCache() *cache.Store {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Println("[Engine] REDIS_ADDR not set, results cache disabled")
		return nil
	}

	ttl := 15 * time.Minute
	if mins, err := strconv.Atoi(os.Getenv("CACHE_TTL_MINUTES")); err == nil && mins > 0 {
		ttl = time.Duration(mins) * time.Minute
	}
	db := 0
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		db = n
	}

	store, err := cache.New(context.Background(), cache.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      ttl,
	})
	if err != nil {
		log.Printf("[Engine] results cache unavailable, continuing without: %v", err)
		return nil
	}
	log.Printf("[Engine] results cache connected (ttl=%s)", ttl)
	return store
}

func initProvider() gateway.Provider {
	region := os.Getenv("BEDROCK_REGION")
	if region == "" {
		log.Println("[Engine] BEDROCK_REGION not set, using mock generative backend")
		return gateway.NewMockProvider()
	}

	provider, err := gateway.NewBedrockProvider(region, os.Getenv("BEDROCK_MODEL"))
	if err != nil {
		log.Printf("[Engine] Bedrock unavailable, using mock generative backend: %v", err)
		return gateway.NewMockProvider()
	}
	log.Printf("[Engine] Bedrock backend enabled (region: %s)", region)
	return provider
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
