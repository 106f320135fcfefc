// Package memory holds in-process stores. The snapshot cache is the
// authoritative copy of what the client currently sees, so it lives in
// memory next to the reward pipeline rather than behind a network hop.
package memory

import (
	"sync"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// SnapshotCache is a concurrency-safe map of subject snapshots.
// It implements command.SnapshotCache.
type SnapshotCache struct {
	mu    sync.RWMutex
	snaps map[shared.SubjectID]*progression.Snapshot
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		snaps: make(map[shared.SubjectID]*progression.Snapshot),
	}
}

// Get returns the cached snapshot for a subject, if present.
func (c *SnapshotCache) Get(subjectID shared.SubjectID) (*progression.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snaps[subjectID]
	return snap, ok
}

// Put stores the snapshot for a subject, replacing any previous one.
func (c *SnapshotCache) Put(subjectID shared.SubjectID, snap *progression.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snaps[subjectID] = snap
}

// Delete removes a subject's snapshot. The next read will be seeded
// from the ledger again.
func (c *SnapshotCache) Delete(subjectID shared.SubjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.snaps, subjectID)
}

// Len returns the number of cached snapshots.
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.snaps)
}
