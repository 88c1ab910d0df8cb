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

// Package kgclient is the HTTP client for the mission, knowledge-graph,
// and dataset-profile services. The engine never owns that storage; it
// consumes point-in-time reads and tracks per-source health so partial
// gap results can name which source was down.
package kgclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Source names used in health tracking and partial-result reporting.
const (
	SourceMission  = "mission"
	SourceKG       = "kg"
	SourceProfiles = "profiles"
)

// UpstreamError wraps a failure reaching one upstream source. Timeouts and
// connection failures are handled identically by callers: degrade, do not
// fail the request.
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// SourceHealth is the last observed state of one upstream source.
type SourceHealth struct {
	Source      string    `json:"source"`
	Healthy     bool      `json:"healthy"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// Client talks to the mission metadata, KG snapshot, and dataset profile
// endpoints. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger

	mu     sync.RWMutex
	health map[string]*SourceHealth
}

// New creates a client for the given service base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  log.New(os.Stdout, "[KGClient] ", log.LstdFlags),
		health:  make(map[string]*SourceHealth),
	}
}

// GetMission fetches mission metadata.
func (c *Client) GetMission(ctx context.Context, missionID string) (*Mission, error) {
	var m Mission
	if err := c.getJSON(ctx, SourceMission, fmt.Sprintf("/api/v1/missions/%s", missionID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMissionSnapshot fetches the point-in-time KG extract for a mission.
func (c *Client) GetMissionSnapshot(ctx context.Context, missionID string) (*Snapshot, error) {
	var s Snapshot
	if err := c.getJSON(ctx, SourceKG, fmt.Sprintf("/api/v1/missions/%s/kg-snapshot", missionID), &s); err != nil {
		return nil, err
	}
	if s.RetrievedAt.IsZero() {
		s.RetrievedAt = time.Now().UTC()
	}
	return &s, nil
}

// GetDatasetProfiles fetches the semantic profiles for mission datasets.
func (c *Client) GetDatasetProfiles(ctx context.Context, missionID string) ([]DatasetProfile, error) {
	var out struct {
		Profiles []DatasetProfile `json:"profiles"`
	}
	if err := c.getJSON(ctx, SourceProfiles, fmt.Sprintf("/api/v1/missions/%s/dataset-profiles", missionID), &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// Health returns the last observed health for every source this client
// has called, keyed by source name.
func (c *Client) Health() map[string]SourceHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]SourceHealth, len(c.health))
	for k, v := range c.health {
		out[k] = *v
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, source, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return c.fail(source, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fail(source, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path))
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return c.fail(source, fmt.Errorf("decode response: %w", err))
	}

	c.ok(source)
	return nil
}

func (c *Client) ok(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.ensureHealth(source)
	now := time.Now().UTC()
	h.Healthy = true
	h.LastSuccess = now
	h.LastChecked = now
	h.LastError = ""
}

func (c *Client) fail(source string, err error) error {
	c.mu.Lock()
	h := c.ensureHealth(source)
	h.Healthy = false
	h.LastError = err.Error()
	h.LastChecked = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Printf("source %s failed: %v", source, err)
	return &UpstreamError{Source: source, Err: err}
}

// ensureHealth must be called with c.mu held.
func (c *Client) ensureHealth(source string) *SourceHealth {
	h, ok := c.health[source]
	if !ok {
		h = &SourceHealth{Source: source}
		c.health[source] = h
	}
	return h
}
