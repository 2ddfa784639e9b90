package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/switchyardai/switchyard/internal/log"
)

// rpmEntry is one credential's counter in the current minute bucket.
type rpmEntry struct {
	bucket int64
	count  int
}

// rpmMemory is the in-process counter table used when Redis is not
// configured, and as the conservative fallback when it errors. The table is
// bounded; stale buckets are pruned on access and by the periodic sweep.
type rpmMemory struct {
	mu     sync.Mutex
	counts map[string]rpmEntry

	maxEntries int

	lastSweepBucket int64
	lastSweepAt     time.Time
}

// forcedSweepInterval bounds how long stale entries may linger when no
// requests arrive to trigger the per-minute sweep.
const forcedSweepInterval = 5 * time.Minute

func newRPMMemory(maxEntries int) *rpmMemory {
	return &rpmMemory{
		counts:     make(map[string]rpmEntry),
		maxEntries: maxEntries,
	}
}

// count returns the credential's counter for the bucket, discarding a stale
// entry from an earlier bucket.
func (m *rpmMemory) count(credentialID string, bucket int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.countLocked(credentialID, bucket)
}

func (m *rpmMemory) countLocked(credentialID string, bucket int64) int {
	entry, ok := m.counts[credentialID]
	if !ok {
		return 0
	}

	if entry.bucket != bucket {
		delete(m.counts, credentialID)
		return 0
	}

	return entry.count
}

// acquire admits and counts one request when the counter is below threshold.
func (m *rpmMemory) acquire(ctx context.Context, credentialID string, bucket int64, now time.Time, threshold int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(ctx, bucket, now, false)

	count := m.countLocked(credentialID, bucket)
	if count >= threshold {
		return false
	}

	m.setLocked(ctx, credentialID, bucket, now, count+1)

	return true
}

func (m *rpmMemory) setLocked(ctx context.Context, credentialID string, bucket int64, now time.Time, count int) {
	_, known := m.counts[credentialID]

	if !known && len(m.counts) >= m.maxEntries {
		m.sweepLocked(ctx, bucket, now, true)

		// Still full after dropping stale buckets; evict the oldest fifth.
		if len(m.counts) >= m.maxEntries {
			m.evictOldestLocked(ctx)
		}
	}

	m.counts[credentialID] = rpmEntry{bucket: bucket, count: count}
}

// sweepLocked drops entries from earlier buckets. A regular sweep runs once
// per bucket switch; a forced sweep also runs when none happened for
// forcedSweepInterval.
func (m *rpmMemory) sweepLocked(ctx context.Context, bucket int64, now time.Time, force bool) {
	due := bucket != m.lastSweepBucket ||
		force ||
		now.Sub(m.lastSweepAt) > forcedSweepInterval

	if !due {
		return
	}

	m.lastSweepBucket = bucket
	m.lastSweepAt = now

	var dropped int

	for credentialID, entry := range m.counts {
		if entry.bucket < bucket {
			delete(m.counts, credentialID)

			dropped++
		}
	}

	if dropped > 0 && log.DebugEnabled(ctx) {
		log.Debug(ctx, "swept stale rpm counters", log.Int("dropped", dropped))
	}
}

func (m *rpmMemory) evictOldestLocked(ctx context.Context) {
	evict := max(1, m.maxEntries/5)

	type aged struct {
		credentialID string
		bucket       int64
	}

	entries := make([]aged, 0, len(m.counts))
	for credentialID, entry := range m.counts {
		entries = append(entries, aged{credentialID: credentialID, bucket: entry.bucket})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].bucket < entries[j].bucket
	})

	if evict > len(entries) {
		evict = len(entries)
	}

	for _, entry := range entries[:evict] {
		delete(m.counts, entry.credentialID)
	}

	log.Warn(ctx, "rpm counter table full, evicted oldest entries",
		log.Int("evicted", evict),
		log.Int("max_entries", m.maxEntries),
	)
}

func (m *rpmMemory) reset(credentialID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counts, credentialID)
}

func (m *rpmMemory) resetAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.counts)
	m.counts = make(map[string]rpmEntry)

	return count
}

func (m *rpmMemory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.counts)
}
