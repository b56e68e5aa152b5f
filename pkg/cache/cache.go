// Package cache stores built track graphs keyed by source-data identity so
// the engine does not rebuild the national network on every start.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spoorzoeker/pkg/datastructure"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Entry is the persisted cache record. Checksum covers Blob; an entry is
// valid iff its SourceID matches the requested identity, the checksum
// verifies and it is not stale.
type Entry struct {
	SourceID string
	Checksum []byte
	BuiltAt  int64 // unix nanoseconds
	Blob     []byte
}

// CorruptionError marks a stored entry that failed integrity checks on
// load. The entry is discarded and a rebuild forced.
type CorruptionError struct {
	SourceID string
	Reason   string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache entry for %s corrupt: %s", e.SourceID, e.Reason)
}

type BuildFunc func(ctx context.Context) (*datastructure.Graph, error)

// GraphCache is a badger-backed graph store. Concurrent misses for the
// same source identity are serialized: one build proceeds, the others
// wait for its result.
type GraphCache struct {
	db       *badger.DB
	disabled bool
	maxAge   time.Duration // 0 = entries never go stale
	logger   *slog.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func New(db *badger.DB, disabled bool, maxAge time.Duration, logger *slog.Logger) *GraphCache {
	return &GraphCache{
		db:       db,
		disabled: disabled,
		maxAge:   maxAge,
		logger:   logger,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func entryKey(sourceID string) []byte {
	return []byte("graph/" + sourceID)
}

func (c *GraphCache) lockFor(sourceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.keyLocks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[sourceID] = lock
	}
	return lock
}

// GetOrBuild returns the cached graph for sourceID, building and storing
// it on a miss. force skips the lookup and overwrites the stored entry.
// In disabled mode the store is never touched and every call rebuilds.
func (c *GraphCache) GetOrBuild(ctx context.Context, sourceID string, force bool, build BuildFunc) (*datastructure.Graph, error) {
	if c.disabled {
		return build(ctx)
	}

	lock := c.lockFor(sourceID)
	lock.Lock()
	defer lock.Unlock()

	if !force {
		graph, err := c.load(sourceID)
		if err == nil && graph != nil {
			c.logger.Info("graph cache hit", "source_id", sourceID)
			return graph, nil
		}
		var corrupt *CorruptionError
		if errors.As(err, &corrupt) {
			c.logger.Warn("discarding corrupt cache entry", "source_id", sourceID, "reason", corrupt.Reason)
			if delErr := c.delete(sourceID); delErr != nil {
				return nil, errors.Wrap(delErr, "delete corrupt cache entry")
			}
		} else if err != nil {
			return nil, err
		}
	}

	c.logger.Info("graph cache miss, building", "source_id", sourceID, "force", force)
	graph, err := build(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.save(sourceID, graph); err != nil {
		return nil, errors.Wrap(err, "save graph cache entry")
	}
	return graph, nil
}

// load returns (nil, nil) on a plain miss, a *CorruptionError when the
// stored entry fails its integrity checks, and the graph otherwise.
func (c *GraphCache) load(sourceID string) (*datastructure.Graph, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(sourceID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read cache entry")
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, &CorruptionError{SourceID: sourceID, Reason: "undecodable entry"}
	}
	if entry.SourceID != sourceID {
		return nil, &CorruptionError{SourceID: sourceID, Reason: "source identity mismatch"}
	}
	sum := sha256.Sum256(entry.Blob)
	if !bytes.Equal(sum[:], entry.Checksum) {
		return nil, &CorruptionError{SourceID: sourceID, Reason: "checksum mismatch"}
	}
	if c.maxAge > 0 && time.Since(time.Unix(0, entry.BuiltAt)) > c.maxAge {
		// stale is a miss, not corruption
		return nil, nil
	}

	graph, err := decodeGraph(entry.Blob)
	if err != nil {
		return nil, &CorruptionError{SourceID: sourceID, Reason: "undecodable graph blob"}
	}
	return graph, nil
}

func (c *GraphCache) save(sourceID string, graph *datastructure.Graph) error {
	blob, err := encodeGraph(graph)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(blob)
	entry := Entry{
		SourceID: sourceID,
		Checksum: sum[:],
		BuiltAt:  time.Now().UnixNano(),
		Blob:     blob,
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(sourceID), raw)
	})
}

func (c *GraphCache) delete(sourceID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(sourceID))
	})
}

func (c *GraphCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
