package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rmehta/stratadb/core/hash"
	"github.com/rmehta/stratadb/core/replacer"
)

// BufferPoolManager is the fixed pool of in-memory frames holding copies
// of stored pages. A single coarse pool latch guards the free list, the
// resident-page directory, the replacer, and every frame's metadata;
// page content latches are orthogonal and owned by the caller (typically
// the B+Tree).
type BufferPoolManager struct {
	mu sync.Mutex

	store    PageStore
	frames   []*Frame
	freeList []FrameID
	resident *hash.Table[PageID, FrameID] // page id -> frame id
	replacer *replacer.LRUKReplacer

	poolSize int
	log      *zap.Logger
	instance uuid.UUID

	metrics       *poolMetrics
	poolFullLimit *rate.Limiter
}

type poolMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	pinned    prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer, instance string) *poolMetrics {
	labels := prometheus.Labels{"instance": instance}
	m := &poolMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stratadb_buffer_pool_hits_total",
			Help:        "Number of FetchPage calls that found the page already resident.",
			ConstLabels: labels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stratadb_buffer_pool_misses_total",
			Help:        "Number of FetchPage calls that required a disk read.",
			ConstLabels: labels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stratadb_buffer_pool_evictions_total",
			Help:        "Number of frames reclaimed via the LRU-K replacer.",
			ConstLabels: labels,
		}),
		pinned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "stratadb_buffer_pool_pinned_frames",
			Help:        "Current number of pinned frames.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.pinned)
	}
	return m
}

// Config configures a BufferPoolManager.
type Config struct {
	PoolSize int
	K        int // LRU-K's k
	PageSize int
	Logger   *zap.Logger
	Registry prometheus.Registerer // optional; nil disables metrics registration
}

// NewBufferPoolManager wires a replacer and a resident-page directory
// (itself an extendible hash table) on top of store.
func NewBufferPoolManager(store PageStore, cfg Config) *BufferPoolManager {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 16
	}
	if cfg.K <= 0 {
		cfg.K = 2
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	instance := uuid.New()
	bpm := &BufferPoolManager{
		store:         store,
		frames:        make([]*Frame, cfg.PoolSize),
		freeList:      make([]FrameID, cfg.PoolSize),
		resident:      hash.New[PageID, FrameID](4, hash.HashUint64[PageID]),
		replacer:      replacer.New(cfg.PoolSize, cfg.K, log),
		poolSize:      cfg.PoolSize,
		log:           log.With(zap.String("component", "buffer_pool"), zap.String("instance", instance.String())),
		instance:      instance,
		metrics:       newPoolMetrics(cfg.Registry, instance.String()),
		poolFullLimit: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		bpm.frames[i] = NewFrame(cfg.PageSize)
		bpm.freeList[i] = FrameID(i)
	}
	return bpm
}

// acquireFrame implements the shared frame-acquisition protocol: pop
// the free list, or evict; flush the victim if dirty; evict its
// resident-map entry. Caller holds bpm.mu.
func (bpm *BufferPoolManager) acquireFrame() (FrameID, bool) {
	var fid FrameID
	if n := len(bpm.freeList); n > 0 {
		fid = bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
	} else {
		victim, ok := bpm.replacer.Evict()
		if !ok {
			if bpm.poolFullLimit.Allow() {
				bpm.log.Warn("buffer pool exhausted: no evictable frame available")
			}
			return 0, false
		}
		fid = FrameID(victim)
		bpm.metrics.evictions.Inc()
	}

	bpm.replacer.RecordAccess(replacer.FrameID(fid))
	bpm.replacer.SetEvictable(replacer.FrameID(fid), false)

	f := bpm.frames[fid]
	if f.IsDirty() && f.PageID() != InvalidPageID {
		_ = bpm.store.WritePage(f.PageID(), f.Data())
		f.SetDirty(false)
	}
	if f.PageID() != InvalidPageID {
		bpm.resident.Remove(f.PageID())
	}
	return fid, true
}

// NewPage allocates a fresh page id and binds it to a frame, pinned.
func (bpm *BufferPoolManager) NewPage() (PageID, *Frame, bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	fid, ok := bpm.acquireFrame()
	if !ok {
		return InvalidPageID, nil, false
	}
	id, err := bpm.store.AllocatePage()
	if err != nil {
		bpm.freeList = append(bpm.freeList, fid)
		bpm.log.Error("allocate page failed", zap.Error(err))
		return InvalidPageID, nil, false
	}

	f := bpm.frames[fid]
	f.Reset()
	f.id = id
	f.pinCount = 1
	bpm.resident.Insert(id, fid)
	bpm.metrics.pinned.Inc()
	return id, f, true
}

// FetchPage returns the frame caching id, pinning it (+1), reading from
// the store on a miss.
func (bpm *BufferPoolManager) FetchPage(id PageID) (*Frame, bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if fid, ok := bpm.resident.Find(id); ok {
		f := bpm.frames[fid]
		f.Pin()
		bpm.replacer.RecordAccess(replacer.FrameID(fid))
		bpm.replacer.SetEvictable(replacer.FrameID(fid), false)
		bpm.metrics.hits.Inc()
		bpm.metrics.pinned.Inc()
		return f, true
	}

	bpm.metrics.misses.Inc()
	fid, ok := bpm.acquireFrame()
	if !ok {
		return nil, false
	}
	f := bpm.frames[fid]
	f.Reset()
	if err := bpm.store.ReadPage(id, f.data); err != nil {
		bpm.freeList = append(bpm.freeList, fid)
		bpm.log.Error("fetch page failed", zap.Uint64("page_id", uint64(id)), zap.Error(err))
		return nil, false
	}
	f.id = id
	f.pinCount = 1
	bpm.resident.Insert(id, fid)
	bpm.metrics.pinned.Inc()
	return f, true
}

// UnpinPage decrements id's pin count and sticky-ORs dirty into the
// frame's flag. Returns false if id is not resident or already at pin
// count 0.
func (bpm *BufferPoolManager) UnpinPage(id PageID, dirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	fid, ok := bpm.resident.Find(id)
	if !ok {
		return false
	}
	f := bpm.frames[fid]
	if f.pinCount == 0 {
		return false
	}
	f.Unpin()
	if dirty {
		f.dirty = true
	}
	bpm.metrics.pinned.Dec()
	if f.pinCount == 0 {
		bpm.replacer.SetEvictable(replacer.FrameID(fid), true)
	}
	return true
}

// FlushPage writes id's frame to the store if resident, clearing dirty.
func (bpm *BufferPoolManager) FlushPage(id PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	fid, ok := bpm.resident.Find(id)
	if !ok {
		return false
	}
	f := bpm.frames[fid]
	if err := bpm.store.WritePage(f.PageID(), f.Data()); err != nil {
		bpm.log.Error("flush page failed", zap.Uint64("page_id", uint64(id)), zap.Error(err))
		return false
	}
	f.SetDirty(false)
	return true
}

// FlushAll flushes every resident page with a valid id.
func (bpm *BufferPoolManager) FlushAll() {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	for _, f := range bpm.frames {
		if f.PageID() != InvalidPageID && f.IsDirty() {
			if err := bpm.store.WritePage(f.PageID(), f.Data()); err != nil {
				bpm.log.Error("flush all: page failed", zap.Uint64("page_id", uint64(f.PageID())), zap.Error(err))
				continue
			}
			f.SetDirty(false)
		}
	}
}

// DeletePage removes id's frame and frees the page id in the store.
// Fails if the page is pinned. An id that is not resident returns true
// without touching the store.
func (bpm *BufferPoolManager) DeletePage(id PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	fid, ok := bpm.resident.Find(id)
	if !ok {
		return true
	}
	f := bpm.frames[fid]
	if f.PinCount() > 0 {
		return false
	}
	bpm.resident.Remove(id)
	bpm.replacer.Remove(replacer.FrameID(fid))
	f.Reset()
	bpm.freeList = append(bpm.freeList, fid)
	_ = bpm.store.DeallocatePage(id)
	return true
}

// PoolSize returns the configured number of frames.
func (bpm *BufferPoolManager) PoolSize() int { return bpm.poolSize }
