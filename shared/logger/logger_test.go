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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, f func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prev)
		log.SetFlags(prevFlags)
	}()
	f()
	return buf.String()
}

func decodeEntry(t *testing.T, line string) LogEntry {
	t.Helper()
	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line)), &entry))
	return entry
}

func TestNewReadsInstanceFromEnv(t *testing.T) {
	t.Setenv("INSTANCE_ID", "i-123")
	l := New("engine")
	assert.Equal(t, "engine", l.Component)
	assert.Equal(t, "i-123", l.InstanceID)

	t.Setenv("INSTANCE_ID", "")
	l = New("engine")
	assert.Equal(t, "unknown", l.InstanceID)
}

func TestLogEmitsStructuredJSON(t *testing.T) {
	l := &Logger{Component: "engine", InstanceID: "i-1", Container: "c-1"}

	out := captureOutput(t, func() {
		l.Info("m-1", "req-9", "classification complete", map[string]interface{}{
			"rule_id": "rule-arrest",
		})
	})

	entry := decodeEntry(t, out)
	assert.Equal(t, INFO, entry.Level)
	assert.Equal(t, "engine", entry.Component)
	assert.Equal(t, "m-1", entry.MissionID)
	assert.Equal(t, "req-9", entry.RequestID)
	assert.Equal(t, "classification complete", entry.Message)
	assert.Equal(t, "rule-arrest", entry.Fields["rule_id"])

	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestLogLevels(t *testing.T) {
	l := &Logger{Component: "engine"}

	tests := []struct {
		level LogLevel
		log   func()
	}{
		{DEBUG, func() { l.Debug("m-1", "", "d", nil) }},
		{INFO, func() { l.Info("m-1", "", "i", nil) }},
		{WARN, func() { l.Warn("m-1", "", "w", nil) }},
		{ERROR, func() { l.Error("m-1", "", "e", nil) }},
	}

	for _, tt := range tests {
		out := captureOutput(t, tt.log)
		entry := decodeEntry(t, out)
		assert.Equal(t, tt.level, entry.Level)
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := &Logger{Component: "engine"}

	out := captureOutput(t, func() {
		l.InfoWithDuration("m-1", "req-1", "gap analysis complete", 128.5, nil)
	})

	entry := decodeEntry(t, out)
	assert.Equal(t, 128.5, entry.Fields["duration_ms"])
}

func TestErrorWithCode(t *testing.T) {
	l := &Logger{Component: "engine"}

	out := captureOutput(t, func() {
		l.ErrorWithCode("m-1", "req-1", "upstream failed", 502, assert.AnError, map[string]interface{}{
			"source": "kg",
		})
	})

	entry := decodeEntry(t, out)
	assert.Equal(t, ERROR, entry.Level)
	assert.Equal(t, float64(502), entry.Fields["status_code"])
	assert.Equal(t, assert.AnError.Error(), entry.Fields["error"])
	assert.Equal(t, "kg", entry.Fields["source"])
}

func TestEmptyRequestIDOmitted(t *testing.T) {
	l := &Logger{Component: "engine"}

	out := captureOutput(t, func() {
		l.Info("m-1", "", "no request scope", nil)
	})

	assert.NotContains(t, out, "request_id")
}
