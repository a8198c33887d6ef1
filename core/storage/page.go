// Package storage holds the disk-facing primitives of the database core:
// page identity, the in-memory frame that caches a page, the file-backed
// page store, and the buffer pool that mediates between them.
package storage

import "sync"

// PageID is a stable, nonnegative page identifier assigned by the page
// store's AllocatePage. HeaderPageID (0) is reserved for the index's root
// registry.
type PageID uint64

// InvalidPageID marks a frame that currently caches no page. It is
// distinct from page 0, which is a valid, reserved page id.
const InvalidPageID PageID = ^PageID(0)

// HeaderPageID is the well-known page holding the index-name -> root-page
// table. The very first page ever allocated in a fresh store gets this id.
const HeaderPageID PageID = 0

// DefaultPageSize is the fixed page size used throughout the core.
const DefaultPageSize = 4096

// FrameID names a slot in the buffer pool, in [0, poolSize).
type FrameID int

// Frame is an in-memory slot caching exactly one page's bytes plus the
// bookkeeping the buffer pool and B+Tree need: pin count, dirty flag, and
// a reader/writer latch guarding the page's content independent of the
// pool's own coarse latch.
type Frame struct {
	id       PageID
	data     []byte
	pinCount int32
	dirty    bool
	latch    sync.RWMutex
}

// NewFrame allocates a frame of the given page size, initially invalid,
// unpinned and clean.
func NewFrame(pageSize int) *Frame {
	return &Frame{
		id:   InvalidPageID,
		data: make([]byte, pageSize),
	}
}

// Reset clears a frame back to its initial state before it is reused for
// a different page id. Callers must hold the buffer pool's latch.
func (f *Frame) Reset() {
	f.id = InvalidPageID
	f.pinCount = 0
	f.dirty = false
	for i := range f.data {
		f.data[i] = 0
	}
}

func (f *Frame) PageID() PageID   { return f.id }
func (f *Frame) Data() []byte     { return f.data }
func (f *Frame) IsDirty() bool    { return f.dirty }
func (f *Frame) PinCount() int32  { return f.pinCount }
func (f *Frame) SetDirty(d bool)  { f.dirty = d }
func (f *Frame) Pin()             { f.pinCount++ }

// Unpin decrements the pin count, never below zero.
func (f *Frame) Unpin() {
	if f.pinCount > 0 {
		f.pinCount--
	}
}

// RLatch/RUnlatch/WLatch/WUnlatch guard the frame's page content. They are
// orthogonal to the buffer pool's own latch: a caller holds a content
// latch only while inspecting or mutating page bytes, and must release
// it before unpinning.
func (f *Frame) RLatch()   { f.latch.RLock() }
func (f *Frame) RUnlatch() { f.latch.RUnlock() }
func (f *Frame) WLatch()   { f.latch.Lock() }
func (f *Frame) WUnlatch() { f.latch.Unlock() }
