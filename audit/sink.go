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

// Package audit records guardrail verdicts, gap-analysis runs, and report
// generations for audit reproducibility. Recording is fire-and-forget:
// the caller never blocks on, or fails because of, the audit path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventKind is the type of engine activity being recorded.
type EventKind string

const (
	KindVerdict     EventKind = "guardrail_verdict"
	KindGapAnalysis EventKind = "gap_analysis"
	KindReport      EventKind = "report_generation"
	KindReload      EventKind = "policy_reload"
)

// FlagClassifierDegraded marks a verdict produced after the classifier
// failed open on malformed input.
const FlagClassifierDegraded = "classifier_degraded"

// Event is a single audit record.
type Event struct {
	ID             string         `json:"id"`
	MissionID      string         `json:"mission_id"`
	RequestID      string         `json:"request_id,omitempty"`
	Kind           EventKind      `json:"kind"`
	Outcome        string         `json:"outcome"`
	RuleID         string         `json:"rule_id,omitempty"`
	ActionCategory string         `json:"action_category,omitempty"`
	Flags          []string       `json:"flags,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Sink accepts audit events. Record must never block the caller for long
// and must never return an error to it.
type Sink interface {
	Record(event Event)
}

// AsyncSink persists events to PostgreSQL through a background queue.
// Without a database it keeps events in memory, which is also the test
// mode. All methods are safe for concurrent use.
type AsyncSink struct {
	db        *sql.DB
	useMemory bool

	mu     sync.RWMutex
	memory map[string][]Event

	queue  chan Event
	wg     sync.WaitGroup
	closed atomic.Bool

	recorded uint64
	dropped  uint64
	errors   uint64
}

// Config holds AsyncSink configuration.
type Config struct {
	// DB is the PostgreSQL connection. Nil selects memory mode.
	DB *sql.DB

	// QueueSize is the async buffer size. Default 1000.
	QueueSize int

	// Workers is the number of writer goroutines. Default 2.
	Workers int
}

// NewAsyncSink creates a sink. With a DB it starts background writers.
func NewAsyncSink(cfg Config) *AsyncSink {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}

	s := &AsyncSink{
		db:        cfg.DB,
		useMemory: cfg.DB == nil,
		memory:    make(map[string][]Event),
	}

	if !s.useMemory {
		s.queue = make(chan Event, cfg.QueueSize)
		for i := 0; i < cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
		log.Printf("[Audit] Started with %d async workers, queue size: %d", cfg.Workers, cfg.QueueSize)
	} else {
		log.Println("[Audit] Running in memory mode (no database)")
	}

	return s
}

// Record accepts an event. If the queue is full the event is dropped and
// counted; auditing never applies backpressure to the request path.
func (s *AsyncSink) Record(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	atomic.AddUint64(&s.recorded, 1)

	if s.useMemory {
		s.mu.Lock()
		s.memory[event.MissionID] = append(s.memory[event.MissionID], event)
		s.mu.Unlock()
		return
	}

	if s.closed.Load() {
		atomic.AddUint64(&s.dropped, 1)
		return
	}

	select {
	case s.queue <- event:
	default:
		atomic.AddUint64(&s.dropped, 1)
		log.Println("[Audit] Queue full, dropping event")
	}
}

// Events returns the recorded events for a mission in memory mode.
func (s *AsyncSink) Events(missionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.memory[missionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Stats returns sink counters.
func (s *AsyncSink) Stats() map[string]any {
	pending := 0
	if s.queue != nil {
		pending = len(s.queue)
	}
	return map[string]any{
		"recorded":    atomic.LoadUint64(&s.recorded),
		"dropped":     atomic.LoadUint64(&s.dropped),
		"errors":      atomic.LoadUint64(&s.errors),
		"pending":     pending,
		"memory_mode": s.useMemory,
	}
}

func (s *AsyncSink) worker(id int) {
	defer s.wg.Done()

	for event := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.insert(ctx, event); err != nil {
			atomic.AddUint64(&s.errors, 1)
			log.Printf("[Audit] Worker %d: failed to record: %v", id, err)
		}
		cancel()
	}
}

func (s *AsyncSink) insert(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	flags, err := json.Marshal(event.Flags)
	if err != nil {
		flags = []byte("[]")
	}

	query := `
		INSERT INTO audit_events (
			id, mission_id, request_id, kind, outcome,
			rule_id, action_category, flags, detail, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.MissionID, event.RequestID,
		string(event.Kind), event.Outcome,
		event.RuleID, event.ActionCategory,
		flags, detail, event.CreatedAt,
	)
	return err
}

// Shutdown drains the queue, waiting up to the context deadline.
func (s *AsyncSink) Shutdown(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}

	s.closed.Store(true)
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Audit] Shutdown complete. Recorded: %d, Dropped: %d",
			atomic.LoadUint64(&s.recorded), atomic.LoadUint64(&s.dropped))
		return nil
	case <-ctx.Done():
		log.Printf("[Audit] Shutdown timeout. Recorded: %d, Dropped: %d",
			atomic.LoadUint64(&s.recorded), atomic.LoadUint64(&s.dropped))
		return ctx.Err()
	}
}
