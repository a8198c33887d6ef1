// Package replacer implements the buffer pool's LRU-K eviction policy:
// track per-frame access history and choose, among evictable frames, the
// one with the largest backward k-distance, splitting frames into a
// young (access count below k, FIFO) and mature (smallest k-th access
// timestamp) set.
package replacer

import (
	"container/list"
	"sync"

	"go.uber.org/zap"
)

// FrameID names a buffer pool frame slot.
type FrameID int

type frameState struct {
	id          FrameID
	k           int
	history     []uint64 // ring buffer of the last k access timestamps
	next        int      // next ring slot to overwrite
	accessCount uint64
	evictable   bool
	youngElem   *list.Element // non-nil while in the young FIFO list
}

func newFrameState(id FrameID, k int) *frameState {
	return &frameState{id: id, k: k, history: make([]uint64, k)}
}

func (fs *frameState) addRecord(ts uint64) {
	if fs.accessCount < uint64(fs.k) {
		fs.history[fs.accessCount] = ts
		fs.accessCount++
		return
	}
	fs.history[fs.next] = ts
	fs.next = (fs.next + 1) % fs.k
}

// kthTimestamp returns the k-th most recent access timestamp: the oldest
// entry still held in the ring buffer.
func (fs *frameState) kthTimestamp() uint64 {
	if fs.accessCount < uint64(fs.k) {
		return fs.history[0]
	}
	return fs.history[fs.next]
}

func (fs *frameState) reset() {
	fs.accessCount = 0
	fs.next = 0
	fs.evictable = false
	fs.youngElem = nil
}

// LRUKReplacer chooses an eviction victim among evictable frames, favoring
// young frames (access count < k, FIFO order) over mature frames (access
// count >= k, smallest k-th timestamp wins).
type LRUKReplacer struct {
	mu   sync.Mutex
	k    int
	size int

	frames map[FrameID]*frameState
	young  *list.List // FIFO of *frameState, front = least recently added
	mature map[FrameID]*frameState

	clock uint64
	log   *zap.Logger
}

// New creates a replacer tracking numFrames frame slots under an LRU-K
// policy with the given k.
func New(numFrames int, k int, log *zap.Logger) *LRUKReplacer {
	if log == nil {
		log = zap.NewNop()
	}
	r := &LRUKReplacer{
		k:      k,
		frames: make(map[FrameID]*frameState, numFrames),
		young:  list.New(),
		mature: make(map[FrameID]*frameState),
		log:    log.With(zap.String("component", "lruk_replacer")),
	}
	for i := 0; i < numFrames; i++ {
		r.frames[FrameID(i)] = newFrameState(FrameID(i), k)
	}
	return r
}

func (r *LRUKReplacer) state(id FrameID) *frameState {
	fs, ok := r.frames[id]
	if !ok {
		fs = newFrameState(id, r.k)
		r.frames[id] = fs
	}
	return fs
}

// RecordAccess appends the current logical timestamp to frame's history,
// rotating it between the young and mature collections as its access
// count crosses k. It is a no-op on list position (but still records the
// timestamp) when the frame is not evictable.
func (r *LRUKReplacer) RecordAccess(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := r.state(id)
	wasYoung := fs.accessCount < uint64(r.k)
	fs.addRecord(r.clock)
	r.clock++

	if !fs.evictable {
		return
	}

	nowYoung := fs.accessCount < uint64(r.k)
	if wasYoung && !nowYoung {
		// crossed from young into mature
		if fs.youngElem != nil {
			r.young.Remove(fs.youngElem)
			fs.youngElem = nil
		}
		r.mature[id] = fs
	}
	// young frames stay where they are (FIFO order is by first insertion,
	// not by most recent access); mature frames are looked up by k-th
	// timestamp at eviction time, so no reordering is needed here.
}

// SetEvictable toggles id's evictability, adjusting size and list
// membership. Marking a frame with zero recorded accesses evictable is a
// no-op, since it has nothing to evict meaningfully.
func (r *LRUKReplacer) SetEvictable(id FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := r.state(id)
	if fs.evictable == evictable {
		return
	}

	if !evictable {
		fs.evictable = false
		r.size--
		if fs.accessCount < uint64(r.k) {
			if fs.youngElem != nil {
				r.young.Remove(fs.youngElem)
				fs.youngElem = nil
			}
		} else {
			delete(r.mature, id)
		}
		return
	}

	if fs.accessCount == 0 {
		return
	}
	fs.evictable = true
	r.size++
	if fs.accessCount < uint64(r.k) {
		fs.youngElem = r.young.PushBack(fs)
	} else {
		r.mature[id] = fs
	}
}

// Evict returns the chosen victim and clears its tracker state, or
// (0, false) if no frame is evictable.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return 0, false
	}

	if e := r.young.Front(); e != nil {
		fs := e.Value.(*frameState)
		r.young.Remove(e)
		r.evictLocked(fs)
		return fs.id, true
	}

	var victim *frameState
	for _, fs := range r.mature {
		if victim == nil || fs.kthTimestamp() < victim.kthTimestamp() {
			victim = fs
		}
	}
	delete(r.mature, victim.id)
	r.evictLocked(victim)
	return victim.id, true
}

func (r *LRUKReplacer) evictLocked(fs *frameState) {
	fs.reset()
	r.size--
	r.log.Debug("evicted frame", zap.Int("frame_id", int(fs.id)))
}

// Remove forcibly clears id's tracker state. Only valid on evictable
// frames; a no-op otherwise.
func (r *LRUKReplacer) Remove(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.frames[id]
	if !ok || !fs.evictable {
		return
	}
	if fs.accessCount < uint64(r.k) {
		if fs.youngElem != nil {
			r.young.Remove(fs.youngElem)
		}
	} else {
		delete(r.mature, id)
	}
	fs.reset()
	r.size--
}

// Size reports the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
