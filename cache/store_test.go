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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResult struct {
	MissionID string `json:"mission_id"`
	Findings  int    `json:"findings"`
}

func testStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Options{Addr: mr.Addr(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := testStore(t, time.Minute)
	ctx := context.Background()

	store.Put(ctx, "m-1", "gap-analysis:kg", testResult{MissionID: "m-1", Findings: 3})

	var got testResult
	require.True(t, store.Get(ctx, "m-1", "gap-analysis:kg", &got))
	assert.Equal(t, "m-1", got.MissionID)
	assert.Equal(t, 3, got.Findings)
}

func TestGetMissReturnsFalse(t *testing.T) {
	store, _ := testStore(t, time.Minute)

	var got testResult
	assert.False(t, store.Get(context.Background(), "m-1", "report:tpl-x", &got))
}

func TestKeysAreScopedByMissionAndKind(t *testing.T) {
	store, _ := testStore(t, time.Minute)
	ctx := context.Background()

	store.Put(ctx, "m-1", "gap-analysis:kg", testResult{Findings: 1})
	store.Put(ctx, "m-1", "gap-analysis:full", testResult{Findings: 2})
	store.Put(ctx, "m-2", "gap-analysis:kg", testResult{Findings: 3})

	var got testResult
	require.True(t, store.Get(ctx, "m-1", "gap-analysis:full", &got))
	assert.Equal(t, 2, got.Findings)
	require.True(t, store.Get(ctx, "m-2", "gap-analysis:kg", &got))
	assert.Equal(t, 3, got.Findings)
}

func TestEntriesExpireByTTL(t *testing.T) {
	store, mr := testStore(t, time.Minute)
	ctx := context.Background()

	store.Put(ctx, "m-1", "gap-analysis:kg", testResult{Findings: 1})
	mr.FastForward(2 * time.Minute)

	var got testResult
	assert.False(t, store.Get(ctx, "m-1", "gap-analysis:kg", &got))
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	store, mr := testStore(t, time.Minute)

	require.NoError(t, mr.Set(Key("m-1", "gap-analysis:kg"), "not json"))

	var got testResult
	assert.False(t, store.Get(context.Background(), "m-1", "gap-analysis:kg", &got))
}

func TestNilStoreIsNoOp(t *testing.T) {
	var store *Store

	store.Put(context.Background(), "m-1", "k", testResult{})
	var got testResult
	assert.False(t, store.Get(context.Background(), "m-1", "k", &got))
	assert.NoError(t, store.Close())
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "results:m-1:report:tpl-x", Key("m-1", "report:tpl-x"))
}
