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

package kgclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/missions/m-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "m-1",
			"name": "Harbor Watch",
			"authority_id": "title10",
			"lanes_present": ["SIGINT", "OSINT"],
			"observation_window": {"start": "2025-06-01T00:00:00Z", "end": "2025-06-08T00:00:00Z"},
			"priority_entities": ["Kestrel"]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	m, err := c.GetMission(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, "title10", m.AuthorityID)
	assert.Len(t, m.LanesPresent, 2)
	assert.Equal(t, []string{"Kestrel"}, m.PriorityEntities)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), m.Window.Start)
}

func TestGetMissionSnapshotSetsRetrievedAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/missions/m-1/kg-snapshot", r.URL.Path)
		w.Write([]byte(`{
			"entities": [{"id": "e-1", "name": "Osprey", "type": "vessel"}],
			"events": [{"id": "ev-1", "timestamp": "2025-06-02T10:00:00Z", "description": "departed port"}]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	s, err := c.GetMissionSnapshot(context.Background(), "m-1")
	require.NoError(t, err)

	require.Len(t, s.Entities, 1)
	assert.Equal(t, "Osprey", s.Entities[0].Name)
	require.Len(t, s.Events, 1)
	assert.False(t, s.RetrievedAt.IsZero())
}

func TestGetDatasetProfilesUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/missions/m-1/dataset-profiles", r.URL.Path)
		w.Write([]byte(`{"profiles": [
			{"table": "ais_tracks", "completeness": 0.9, "consistency": 0.85, "lane": "SIGINT"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	profiles, err := c.GetDatasetProfiles(context.Background(), "m-1")
	require.NoError(t, err)

	require.Len(t, profiles, 1)
	assert.Equal(t, "ais_tracks", profiles[0].Table)
	assert.Equal(t, 0.9, profiles[0].Completeness)
}

func TestNon200IsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.GetMissionSnapshot(context.Background(), "m-1")
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, SourceKG, upstream.Source)
}

func TestMalformedBodyIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.GetMission(context.Background(), "m-1")
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, SourceMission, upstream.Source)
}

func TestHealthTracksPerSource(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	_, err := c.GetMissionSnapshot(context.Background(), "m-1")
	require.Error(t, err)

	health := c.Health()
	require.Contains(t, health, SourceKG)
	assert.False(t, health[SourceKG].Healthy)
	assert.NotEmpty(t, health[SourceKG].LastError)

	fail = false
	_, err = c.GetMissionSnapshot(context.Background(), "m-1")
	require.NoError(t, err)

	health = c.Health()
	assert.True(t, health[SourceKG].Healthy)
	assert.Empty(t, health[SourceKG].LastError)
	assert.False(t, health[SourceKG].LastSuccess.IsZero())

	// Sources never called carry no entry.
	assert.NotContains(t, health, SourceProfiles)
}

func TestContextCancellationSurfacesAsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetMission(ctx, "m-1")
	require.Error(t, err)
	var upstream *UpstreamError
	assert.ErrorAs(t, err, &upstream)
}
