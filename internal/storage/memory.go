package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/bus"
	"github.com/dreamware/strata/internal/message"
)

// DefaultReapInterval is how often the reaper wakes when the caller does not
// choose an interval.
const DefaultReapInterval = 500 * time.Millisecond

// recordOverhead is the fixed per-record cost component charged on top of
// the key, value, and group bytes. It approximates the map entry, the record
// struct, and the eviction-index node.
const recordOverhead = 96

// memRecord is one live entry in the memory tier.
type memRecord struct {
	value      string
	group      string
	insertedAt time.Time     // Monotonic insertion instant, orders eviction
	expiresAt  time.Time     // Absolute expiry; zero means never
	elem       *list.Element // Handle into the eviction index
	cost       int           // Bytes charged at insertion, refunded at removal
}

// evictNode is the eviction index payload: enough to find the record again.
type evictNode struct {
	insertedAt time.Time
	key        string
}

// MemoryTier is the volatile store: a key/value map with per-entry TTL and a
// FIFO byte-budget eviction policy enforced by a background reaper.
// All methods are safe for concurrent use; a single mutex gives the tier a
// total order over mutations and scans.
type MemoryTier struct {
	mu       sync.Mutex
	records  map[string]*memRecord
	evict    *list.List // evictNode values, ascending insertion time
	usage    int        // Sum of record costs, see memRecord.cost
	maxBytes int

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	log *zap.Logger
}

// MemoryStats is a point-in-time snapshot of the tier's bookkeeping.
type MemoryStats struct {
	Records  int // Live records
	Usage    int // Charged bytes
	MaxBytes int // Eviction budget
}

// NewMemoryTier creates the tier with a byte budget of maxSizeMB megabytes
// and starts its reaper. A non-positive reapInterval selects
// DefaultReapInterval. Call Stop to halt the reaper.
func NewMemoryTier(maxSizeMB int, reapInterval time.Duration, log *zap.Logger) *MemoryTier {
	if reapInterval <= 0 {
		reapInterval = DefaultReapInterval
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &MemoryTier{
		records:  make(map[string]*memRecord),
		evict:    list.New(),
		maxBytes: maxSizeMB * 1024 * 1024,
		interval: reapInterval,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.Named("memtier"),
	}

	t.wg.Add(1)
	go t.reaper()

	t.log.Info("memory tier started",
		zap.Int("maxBytes", t.maxBytes),
		zap.Duration("reapInterval", reapInterval))
	return t
}

// RegisterHandlers subscribes the tier's six operations on the bus under the
// MemoryTier recipient.
func (t *MemoryTier) RegisterHandlers(b *bus.Bus) error {
	if err := bus.Register(b, bus.MemoryTier, func(req message.SetRequest) (message.SetResponse, error) {
		t.Put(req.Key, req.Value, req.Group, req.TTL)
		return message.SetResponse{ID: req.ID, OK: true}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.MemoryTier, func(req message.GetKeyRequest) (message.GetKeyResponse, error) {
		return message.GetKeyResponse{ID: req.ID, Value: t.Get(req.Key)}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.MemoryTier, func(req message.GetGroupRequest) (message.GetGroupResponse, error) {
		return message.GetGroupResponse{ID: req.ID, Pairs: t.GetGroup(req.Group)}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.MemoryTier, func(req message.DeleteKeyRequest) (message.DeleteKeyResponse, error) {
		return message.DeleteKeyResponse{ID: req.ID, Count: t.DeleteKey(req.Key)}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.MemoryTier, func(req message.DeleteGroupRequest) (message.DeleteGroupResponse, error) {
		return message.DeleteGroupResponse{ID: req.ID, Count: t.DeleteGroup(req.Group)}, nil
	}); err != nil {
		return err
	}
	return bus.Register(b, bus.MemoryTier, func(req message.ListRequest) (message.ListResponse, error) {
		return message.ListResponse{ID: req.ID, Entries: t.List()}, nil
	})
}

// Put stores key with the given value and group label. An existing record
// under the same key is fully removed first, so usage and the eviction index
// always describe exactly one record per key. ttlSeconds <= 0 means the
// record never expires.
func (t *MemoryTier) Put(key, value, group string, ttlSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.records[key]; ok {
		t.removeLocked(key, old)
	}

	now := time.Now()
	rec := &memRecord{
		value:      value,
		group:      group,
		insertedAt: now,
		cost:       len(key) + len(value) + len(group) + recordOverhead,
	}
	if ttlSeconds > 0 {
		rec.expiresAt = now.Add(time.Duration(ttlSeconds) * time.Second)
	}

	// Insertions happen under the lock with a monotonic clock, so appending
	// keeps the index sorted by insertion time.
	rec.elem = t.evict.PushBack(evictNode{insertedAt: now, key: key})
	t.records[key] = rec
	t.usage += rec.cost
}

// Get returns the stored value, or the empty string when the key is absent.
// Expiry is not checked here: a record past its TTL remains readable until
// the next reaper sweep removes it.
func (t *MemoryTier) Get(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		return ""
	}
	return rec.value
}

// GetGroup returns every live (key, value) pair labeled with group. The
// result order is unspecified and the slice is never nil.
func (t *MemoryTier) GetGroup(group string) []message.Pair {
	t.mu.Lock()
	defer t.mu.Unlock()

	pairs := make([]message.Pair, 0)
	for key, rec := range t.records {
		if rec.group == group {
			pairs = append(pairs, message.Pair{Key: key, Value: rec.value})
		}
	}
	return pairs
}

// DeleteKey removes the record under key, returning 1 if one existed and 0
// otherwise.
func (t *MemoryTier) DeleteKey(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		return 0
	}
	t.removeLocked(key, rec)
	return 1
}

// DeleteGroup removes every record labeled with group and returns how many
// were removed.
func (t *MemoryTier) DeleteGroup(group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for key, rec := range t.records {
		if rec.group == group {
			t.removeLocked(key, rec)
			count++
		}
	}
	return count
}

// List returns every live record. The result order is unspecified and the
// slice is never nil.
func (t *MemoryTier) List() []message.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]message.Entry, 0, len(t.records))
	for key, rec := range t.records {
		entries = append(entries, message.Entry{Key: key, Value: rec.value, Group: rec.group})
	}
	return entries
}

// Stats returns a snapshot of the tier's bookkeeping counters.
func (t *MemoryTier) Stats() MemoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return MemoryStats{
		Records:  len(t.records),
		Usage:    t.usage,
		MaxBytes: t.maxBytes,
	}
}

// Stop halts the reaper and waits for it to exit. The tier remains readable
// afterwards, but nothing expires or gets evicted anymore.
func (t *MemoryTier) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Info("memory tier stopped")
}

// removeLocked deletes a record, refunds its stored cost, and drops its
// eviction-index node. Callers must hold t.mu.
func (t *MemoryTier) removeLocked(key string, rec *memRecord) {
	t.usage -= rec.cost
	t.evict.Remove(rec.elem)
	delete(t.records, key)
}

// reaper is the background worker enforcing TTL and the byte budget.
func (t *MemoryTier) reaper() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep(time.Now())
		case <-t.ctx.Done():
			return
		}
	}
}

// sweep performs one reaper pass under the tier lock: expired records go
// first, then FIFO eviction until usage fits the budget.
func (t *MemoryTier) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := 0
	for key, rec := range t.records {
		if !rec.expiresAt.IsZero() && !rec.expiresAt.After(now) {
			t.removeLocked(key, rec)
			expired++
		}
	}

	evicted := 0
	for t.usage > t.maxBytes && t.evict.Len() > 0 {
		front := t.evict.Front()
		node := front.Value.(evictNode)
		rec, ok := t.records[node.key]
		if !ok || rec.elem != front {
			// Dangling index node; should not happen, drop it alone.
			t.evict.Remove(front)
			continue
		}
		t.removeLocked(node.key, rec)
		evicted++
	}

	if expired > 0 || evicted > 0 {
		t.log.Debug("reaper sweep",
			zap.Int("expired", expired),
			zap.Int("evicted", evicted),
			zap.Int("usage", t.usage),
			zap.Int("records", len(t.records)))
	}
}
