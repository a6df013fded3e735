// Package telemetry publishes OdooCluster lifecycle events to a bounded Redis
// list that dashboards and the CLI can tail.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vaheed/odoonova/internal/logging"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	// DefaultKey is the Redis list holding recent events, newest last.
	DefaultKey = "odoonova:events"
	// DefaultMaxLen bounds the list.
	DefaultMaxLen = 1000
)

// Event types.
const (
	TypePhaseChanged     = "PhaseChanged"
	TypeValidationFailed = "ValidationFailed"
	TypeTeardownComplete = "TeardownComplete"
	TypeTeardownTimeout  = "TeardownTimeout"
)

// Event is one lifecycle transition of a cluster.
type Event struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"ts"`
	Cluster  string         `json:"cluster"`
	Type     string         `json:"type"`
	Phase    v1alpha1.Phase `json:"phase,omitempty"`
	Previous v1alpha1.Phase `json:"previous,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Publisher accepts lifecycle events. Publishing never fails a reconcile.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Stream is a Publisher backed by a Redis list. A nil client makes it a noop.
type Stream struct {
	rdb    *redis.Client
	key    string
	maxLen int64
}

// NewStream connects to addr. An empty addr yields a noop stream so clusters
// without Redis need no configuration.
func NewStream(addr string) *Stream {
	if addr == "" {
		return &Stream{key: DefaultKey, maxLen: DefaultMaxLen}
	}
	return NewStreamWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

// NewStreamWithClient wraps an existing client.
func NewStreamWithClient(rdb *redis.Client) *Stream {
	return &Stream{rdb: rdb, key: DefaultKey, maxLen: DefaultMaxLen}
}

// Enabled reports whether events leave the process.
func (s *Stream) Enabled() bool { return s != nil && s.rdb != nil }

func (s *Stream) Publish(ctx context.Context, ev Event) {
	if !s.Enabled() {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.key, raw)
		p.LTrim(ctx, s.key, -s.maxLen, -1)
		return nil
	})
	if err != nil {
		logging.FromContext(ctx).Warn("telemetry_publish_failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Recent returns up to n of the newest events, oldest first, optionally
// filtered to one cluster.
func (s *Stream) Recent(ctx context.Context, cluster string, n int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	raws, err := s.rdb.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var out []Event
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		if cluster != "" && ev.Cluster != cluster {
			continue
		}
		out = append(out, ev)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Close releases the Redis connection.
func (s *Stream) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.rdb.Close()
}
