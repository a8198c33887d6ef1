package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// PageStore is the external page container contract: a byte-addressable,
// array-like file of fixed-size pages.
type PageStore interface {
	ReadPage(id PageID, buf []byte) error
	WritePage(id PageID, buf []byte) error
	AllocatePage() (PageID, error)
	DeallocatePage(id PageID) error
	Sync() error
	Close() error
}

// DiskManager is a file-backed PageStore. Allocation is a simple bump
// allocator over the file length plus a free list of deallocated ids.
type DiskManager struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	numPages uint64
	freeList []PageID
	log      *zap.Logger
}

// NewDiskManager opens (or creates) filePath as a page store of pageSize
// pages. Passing pageSize <= 0 selects DefaultPageSize.
func NewDiskManager(filePath string, pageSize int, log *zap.Logger) (*DiskManager, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("storage: opening page file %s: %w", filePath, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat page file %s: %w", filePath, err)
	}
	dm := &DiskManager{
		file:     f,
		pageSize: pageSize,
		numPages: uint64(fi.Size()) / uint64(pageSize),
		log:      log.With(zap.String("component", "disk_manager")),
	}
	return dm, nil
}

func (dm *DiskManager) ReadPage(id PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if len(buf) != dm.pageSize {
		return fmt.Errorf("storage: read buffer size %d != page size %d", len(buf), dm.pageSize)
	}
	if uint64(id) >= dm.numPages {
		return fmt.Errorf("storage: reading unallocated page %d", id)
	}
	offset := int64(id) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("storage: reading page %d: %w", id, err)
	}
	if n != dm.pageSize {
		// A page that was allocated but never written reads as zeros.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (dm *DiskManager) WritePage(id PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if len(buf) != dm.pageSize {
		return fmt.Errorf("storage: write buffer size %d != page size %d", len(buf), dm.pageSize)
	}
	offset := int64(id) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("storage: writing page %d: %w", id, err)
	}
	return nil
}

// AllocatePage returns a page id ready for use: a previously deallocated
// id if the free list is nonempty, otherwise the next sequential id. The
// very first allocation of a fresh store yields HeaderPageID (0).
func (dm *DiskManager) AllocatePage() (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if n := len(dm.freeList); n > 0 {
		id := dm.freeList[n-1]
		dm.freeList = dm.freeList[:n-1]
		return id, nil
	}
	id := PageID(dm.numPages)
	offset := int64(id) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(make([]byte, dm.pageSize), offset); err != nil {
		return InvalidPageID, fmt.Errorf("storage: extending file for page %d: %w", id, err)
	}
	dm.numPages++
	dm.log.Debug("allocated page", zap.Uint64("page_id", uint64(id)))
	return id, nil
}

// DeallocatePage returns id to the free list for reuse by a later
// AllocatePage call.
func (dm *DiskManager) DeallocatePage(id PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.freeList = append(dm.freeList, id)
	return nil
}

func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.file.Sync()
}

func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		dm.log.Warn("sync on close failed", zap.Error(err))
	}
	return dm.file.Close()
}
