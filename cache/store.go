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

// Package cache is the write-through store for computed gap results and
// rendered reports. The engine computes and hands results over; eviction
// is governed entirely by the configured TTL, never managed here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store caches engine results in Redis keyed by
// (missionID, templateID|analysisKind). A nil Store is a no-op.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int

	// TTL applied to every write. Default 15 minutes.
	TTL time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.TTL == 0 {
		opts.TTL = 15 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     50,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	s := &Store{
		client: client,
		ttl:    opts.TTL,
		logger: log.New(os.Stdout, "[ResultCache] ", log.LstdFlags),
	}
	s.logger.Printf("Connected to Redis %s (db=%d, ttl=%s)", opts.Addr, opts.DB, opts.TTL)
	return s, nil
}

// Key builds the cache key for a mission result. kind is a template id for
// reports or an analysis kind for gap runs.
func Key(missionID, kind string) string {
	return fmt.Sprintf("results:%s:%s", missionID, kind)
}

// Get loads a cached result into out. Returns false when absent. Cache
// errors are logged and treated as a miss so an unavailable cache never
// fails the request path.
func (s *Store) Get(ctx context.Context, missionID, kind string, out any) bool {
	if s == nil {
		return false
	}

	data, err := s.client.Get(ctx, Key(missionID, kind)).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.logger.Printf("get %s: %v", Key(missionID, kind), err)
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Printf("decode %s: %v", Key(missionID, kind), err)
		return false
	}
	return true
}

// Put writes a computed result through to Redis. Failures are logged and
// swallowed; the computed result is still returned to the caller.
func (s *Store) Put(ctx context.Context, missionID, kind string, value any) {
	if s == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Printf("encode %s: %v", Key(missionID, kind), err)
		return
	}

	if err := s.client.Set(ctx, Key(missionID, kind), data, s.ttl).Err(); err != nil {
		s.logger.Printf("put %s: %v", Key(missionID, kind), err)
	}
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
