package ingest

import (
	"slices"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

const dedupeMaxEntries = 10000

// DedupeCache remembers message fingerprints for a while so redelivered
// jobs are not analyzed twice.
type DedupeCache struct {
	mu      sync.Mutex
	expires map[uint64]time.Time
	sweepAt time.Time
	max     int
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{expires: make(map[uint64]time.Time), max: dedupeMaxEntries}
}

// Fingerprint hashes a message value for the cache.
func Fingerprint(value []byte) uint64 {
	return xxh3.Hash(value)
}

// Seen reports whether key was recorded within ttl and records it at now
// otherwise. A non-positive ttl disables deduplication.
func (d *DedupeCache) Seen(key uint64, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.expires[key]; ok && !now.After(exp) {
		return true
	}
	d.expires[key] = now.Add(ttl)
	if len(d.expires) > d.max || now.After(d.sweepAt) {
		d.sweep(now)
		d.sweepAt = now.Add(ttl)
	}
	if len(d.expires) > d.max {
		d.evict(len(d.expires) - d.max)
	}
	return false
}

// evict drops the n entries closest to expiry.
func (d *DedupeCache) evict(n int) {
	type entry struct {
		key uint64
		exp time.Time
	}
	entries := make([]entry, 0, len(d.expires))
	for k, exp := range d.expires {
		entries = append(entries, entry{k, exp})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := a.exp.Compare(b.exp); c != 0 {
			return c
		}
		if a.key < b.key {
			return -1
		}
		if a.key > b.key {
			return 1
		}
		return 0
	})
	for _, e := range entries[:n] {
		delete(d.expires, e.key)
	}
}

func (d *DedupeCache) sweep(now time.Time) {
	for k, exp := range d.expires {
		if now.After(exp) {
			delete(d.expires, k)
		}
	}
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.expires)
}
