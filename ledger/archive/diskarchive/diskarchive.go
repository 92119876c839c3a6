// Package diskarchive implements a SessionLogArchive backed by an
// embedded LevelDB database, for hosts that run agentcorectl without a
// Redis deployment. It mirrors the key-prefix and snappy-compression
// scheme haricheung-agentic-shell's internal/roles/memory package uses
// for its LevelDB-backed store.
package diskarchive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/warpsurf/agentcore/ledger"
	"github.com/warpsurf/agentcore/ledger/archive"
)

// Key scheme, "|" separated so session ids containing ":" stay safe:
//
//	u|<sessionID>|<fingerprint>  →  snappy(json(Usage))
const prefixUsage = "u|"

// Archive implements archive.SessionLogArchive on top of a LevelDB
// database opened at a directory path.
type Archive struct {
	db *leveldb.DB
}

// Open opens (or creates) a LevelDB database at dbPath and returns an
// Archive. dbPath should be a directory; LevelDB creates it if absent.
func Open(dbPath string) (*Archive, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("diskarchive: open %s: %w", dbPath, err)
	}
	return &Archive{db: db}, nil
}

var _ archive.SessionLogArchive = (*Archive)(nil)

// Close releases the underlying LevelDB handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Snapshot implements archive.SessionLogArchive.
func (a *Archive) Snapshot(ctx context.Context, sessionID string, usages []ledger.Usage) error {
	if len(usages) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, u := range usages {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("diskarchive: marshal usage: %w", err)
		}
		key := usageKey(sessionID, archive.Fingerprint(u))
		batch.Put([]byte(key), snappy.Encode(nil, data))
	}
	if err := a.db.Write(batch, nil); err != nil {
		return fmt.Errorf("diskarchive: write batch: %w", err)
	}
	return nil
}

// Load retrieves every usage archived under sessionID.
func (a *Archive) Load(ctx context.Context, sessionID string) ([]ledger.Usage, error) {
	prefix := sessionPrefix(sessionID)
	iter := a.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var usages []ledger.Usage
	for iter.Next() {
		data, err := snappy.Decode(nil, iter.Value())
		if err != nil {
			return nil, fmt.Errorf("diskarchive: decompress: %w", err)
		}
		var u ledger.Usage
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("diskarchive: unmarshal usage: %w", err)
		}
		usages = append(usages, u)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("diskarchive: iterate: %w", err)
	}
	return usages, nil
}

func sessionPrefix(sessionID string) string {
	return prefixUsage + sessionID + "|"
}

func usageKey(sessionID, fingerprint string) string {
	return sessionPrefix(sessionID) + fingerprint
}
