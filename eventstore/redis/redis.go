// Package redis provides a Redis Streams-backed eventstore.Store for
// deployments that need session event logs to survive process restarts or to
// be shared across instances.
//
// Layout per session: a counter key holding the sequence high-water mark and
// a stream whose entry IDs are "<seq>-0", so Redis enforces the same total
// order the counter assigns.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/mcpstream/streamcore/eventstore"
)

// Config for the Redis store. Defaults load via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: EVENTSTORE_KEY_PREFIX
	KeyPrefix string `env:"EVENTSTORE_KEY_PREFIX,default=mcp:events:"`
	// MaxEventsPerSession bounds each session's stream via XTRIM.
	// <= 0 means unbounded. ENV: EVENTSTORE_MAX_EVENTS
	MaxEventsPerSession int `env:"EVENTSTORE_MAX_EVENTS,default=1024"`
	// DropMarkerTTL controls how long a dropped session stays visible to
	// blocked subscribers. ENV: EVENTSTORE_DROP_TTL
	DropMarkerTTL time.Duration `env:"EVENTSTORE_DROP_TTL,default=1h"`
}

// Store implements eventstore.Store on Redis Streams.
type Store struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int
	dropTTL   time.Duration
}

// appendScript atomically assigns the next sequence and appends the stream
// entry under that sequence. Trimming happens in the same script so the
// counter and the stream never disagree about assignment order.
var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
redis.call('XADD', KEYS[2], seq .. '-0', 'k', ARGV[1], 'r', ARGV[2], 'p', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('XTRIM', KEYS[2], 'MAXLEN', ARGV[4])
end
redis.call('DEL', KEYS[3])
return seq
`)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:events:"
	}
	dropTTL := cfg.DropMarkerTTL
	if dropTTL <= 0 {
		dropTTL = time.Hour
	}
	return &Store{client: client, keyPrefix: prefix, maxLen: cfg.MaxEventsPerSession, dropTTL: dropTTL}, nil
}

// NewFromEnv builds a Store from environment variables via envdecode.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode eventstore config: %w", err)
	}
	return New(cfg)
}

// Close closes the underlying Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) seqKey(sessionID string) string    { return s.keyPrefix + "seq:" + sessionID }
func (s *Store) streamKey(sessionID string) string { return s.keyPrefix + "log:" + sessionID }
func (s *Store) dropKey(sessionID string) string   { return s.keyPrefix + "drop:" + sessionID }

func (s *Store) Append(ctx context.Context, sessionID string, ev eventstore.Event) (uint64, error) {
	keys := []string{s.seqKey(sessionID), s.streamKey(sessionID), s.dropKey(sessionID)}
	res, err := appendScript.Run(ctx, s.client, keys,
		string(ev.Kind), ev.RequestID, string(ev.Payload), s.maxLen).Int64()
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return uint64(res), nil
}

func (s *Store) ReplayFrom(ctx context.Context, sessionID string, afterSeq uint64, fn eventstore.EventFunc) error {
	entries, err := s.client.XRange(ctx, s.streamKey(sessionID), streamID(afterSeq+1), "+").Result()
	if err != nil {
		return fmt.Errorf("replay range: %w", err)
	}
	if err := s.checkFloor(ctx, sessionID, afterSeq, entries); err != nil {
		return err
	}
	for _, entry := range entries {
		ev, err := decodeEntry(entry)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, sessionID string, afterSeq uint64, fn eventstore.EventFunc) error {
	cursor := afterSeq
	deliver := func(entries []redis.XMessage) error {
		for _, entry := range entries {
			ev, err := decodeEntry(entry)
			if err != nil {
				return err
			}
			// A jump past cursor+1 means XTRIM evicted events we owed
			// this subscriber.
			if ev.Seq > cursor+1 {
				return &eventstore.TrimmedError{EarliestRetained: ev.Seq}
			}
			if err := fn(ctx, ev); err != nil {
				return err
			}
			cursor = ev.Seq
		}
		return nil
	}

	// Backlog first, with the same gap detection as ReplayFrom.
	entries, err := s.client.XRange(ctx, s.streamKey(sessionID), streamID(cursor+1), "+").Result()
	if err != nil {
		return fmt.Errorf("subscribe backlog: %w", err)
	}
	if err := s.checkFloor(ctx, sessionID, cursor, entries); err != nil {
		return err
	}
	if err := deliver(entries); err != nil {
		return err
	}

	// Live tail. XREAD blocks in short intervals so drop markers and context
	// cancellation are observed promptly.
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		dropped, err := s.client.Exists(ctx, s.dropKey(sessionID)).Result()
		if err != nil {
			return fmt.Errorf("check drop marker: %w", err)
		}
		if dropped == 1 {
			return nil
		}
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.streamKey(sessionID), streamID(cursor)},
			Count:   64,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("subscribe read: %w", err)
		}
		if len(res) == 0 {
			continue
		}
		if err := deliver(res[0].Messages); err != nil {
			return err
		}
	}
}

func (s *Store) Head(ctx context.Context, sessionID string) (uint64, error) {
	v, err := s.client.Get(ctx, s.seqKey(sessionID)).Uint64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read head: %w", err)
	}
	return v, nil
}

func (s *Store) Drop(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	if err := s.client.Set(c, s.dropKey(sessionID), "1", s.dropTTL).Err(); err != nil {
		return fmt.Errorf("set drop marker: %w", err)
	}
	if err := s.client.Del(c, s.streamKey(sessionID), s.seqKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session keys: %w", err)
	}
	return nil
}

// checkFloor detects resumption below the retained history. An empty range
// snapshot is ambiguous on its own: the counter can be ahead of the snapshot
// when an append landed between the XRANGE and the counter read, and that
// event is retained, not trimmed. Only the stream's actual first entry
// decides.
func (s *Store) checkFloor(ctx context.Context, sessionID string, afterSeq uint64, entries []redis.XMessage) error {
	if len(entries) > 0 {
		first, err := parseSeq(entries[0].ID)
		if err != nil {
			return err
		}
		if first > afterSeq+1 {
			return &eventstore.TrimmedError{EarliestRetained: first}
		}
		return nil
	}
	head, err := s.Head(ctx, sessionID)
	if err != nil {
		return err
	}
	if head <= afterSeq {
		return nil
	}
	first, ok, err := s.firstRetained(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		// Stream and counter went away between the reads (session drop).
		return nil
	}
	if first > afterSeq+1 {
		return &eventstore.TrimmedError{EarliestRetained: first}
	}
	// The snapshot merely raced an append. The caller owes nothing from
	// before afterSeq+1; its live tail picks up the raced entries.
	return nil
}

// firstRetained reads the oldest entry still in the session's stream.
func (s *Store) firstRetained(ctx context.Context, sessionID string) (uint64, bool, error) {
	entries, err := s.client.XRangeN(ctx, s.streamKey(sessionID), "-", "+", 1).Result()
	if err != nil {
		return 0, false, fmt.Errorf("read stream floor: %w", err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	first, err := parseSeq(entries[0].ID)
	if err != nil {
		return 0, false, err
	}
	return first, true, nil
}

func streamID(seq uint64) string {
	if seq == 0 {
		return "0"
	}
	return strconv.FormatUint(seq, 10) + "-0"
}

func parseSeq(streamID string) (uint64, error) {
	base, _, _ := strings.Cut(streamID, "-")
	seq, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed stream id %q: %w", streamID, err)
	}
	return seq, nil
}

func decodeEntry(entry redis.XMessage) (eventstore.Event, error) {
	seq, err := parseSeq(entry.ID)
	if err != nil {
		return eventstore.Event{}, err
	}
	ev := eventstore.Event{Seq: seq}
	if v, ok := entry.Values["k"].(string); ok {
		ev.Kind = eventstore.Kind(v)
	}
	if v, ok := entry.Values["r"].(string); ok {
		ev.RequestID = v
	}
	switch v := entry.Values["p"].(type) {
	case string:
		ev.Payload = []byte(v)
	case []byte:
		ev.Payload = v
	}
	return ev, nil
}

var _ eventstore.Store = (*Store)(nil)
