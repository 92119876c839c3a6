// Package redisarchive implements a SessionLogArchive backed by Redis,
// storing each session's usage snapshots as a hash keyed by fingerprint
// so repeated snapshots of the same usage overwrite rather than
// duplicate (mirroring the teacher's mapping-TTL style Redis usage in
// registry/result_stream.go).
package redisarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"

	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/ledger/archive"
)

// DefaultTTL bounds how long a session's archived usages live in Redis.
const DefaultTTL = 24 * time.Hour

// Archive implements archive.SessionLogArchive on top of a Redis hash
// per session, named "agentcore:ledger:<sessionID>".
type Archive struct {
	rdb *redis.Client
	ttl time.Duration
}

// Options configures an Archive.
type Options struct {
	// TTL bounds how long an archived session's hash lives. Zero uses
	// DefaultTTL.
	TTL time.Duration
}

// New constructs an Archive. rdb is required.
func New(rdb *redis.Client, opts Options) (*Archive, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redisarchive: redis client is required")
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Archive{rdb: rdb, ttl: ttl}, nil
}

var _ archive.SessionLogArchive = (*Archive)(nil)

// Snapshot implements archive.SessionLogArchive.
func (a *Archive) Snapshot(ctx context.Context, sessionID string, usages []ledger.Usage) error {
	if len(usages) == 0 {
		return nil
	}
	key := hashKey(sessionID)
	fields := make(map[string]any, len(usages))
	for _, u := range usages {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("redisarchive: marshal usage: %w", err)
		}
		fields[archive.Fingerprint(u)] = snappy.Encode(nil, data)
	}
	if err := a.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redisarchive: hset: %w", err)
	}
	if err := a.rdb.Expire(ctx, key, a.ttl).Err(); err != nil {
		return fmt.Errorf("redisarchive: expire: %w", err)
	}
	return nil
}

// Load retrieves every usage archived under sessionID, decompressing and
// unmarshaling each field. Used by diagnostic tooling, not the hot path.
func (a *Archive) Load(ctx context.Context, sessionID string) ([]ledger.Usage, error) {
	raw, err := a.rdb.HGetAll(ctx, hashKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisarchive: hgetall: %w", err)
	}
	usages := make([]ledger.Usage, 0, len(raw))
	for _, compressed := range raw {
		data, err := snappy.Decode(nil, []byte(compressed))
		if err != nil {
			return nil, fmt.Errorf("redisarchive: decompress: %w", err)
		}
		var u ledger.Usage
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("redisarchive: unmarshal usage: %w", err)
		}
		usages = append(usages, u)
	}
	return usages, nil
}

func hashKey(sessionID string) string {
	return fmt.Sprintf("agentcore:ledger:%s", sessionID)
}
