package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/rmehta/stratadb/core/storage"
)

// LoadHeaderPage reads the index-name -> root-page-id table from
// storage.HeaderPageID, creating it (and allocating page 0 for it) on a
// fresh store.
func LoadHeaderPage(bpm *storage.BufferPoolManager) (*headerPage, error) {
	frame, ok := bpm.FetchPage(storage.HeaderPageID)
	if !ok {
		id, f, ok := bpm.NewPage()
		if !ok {
			return nil, fmt.Errorf("btree: buffer pool exhausted allocating header page")
		}
		if id != storage.HeaderPageID {
			return nil, fmt.Errorf("btree: expected first page allocation to be header page 0, got %d", id)
		}
		h := newHeaderPage()
		if err := h.serialize(f.Data()); err != nil {
			bpm.UnpinPage(id, false)
			return nil, err
		}
		bpm.UnpinPage(id, true)
		return h, nil
	}
	defer bpm.UnpinPage(storage.HeaderPageID, false)
	h, err := deserializeHeaderPage(frame.Data())
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Flush persists h's current contents back to storage.HeaderPageID.
func (h *headerPage) Flush(bpm *storage.BufferPoolManager) error {
	frame, ok := bpm.FetchPage(storage.HeaderPageID)
	if !ok {
		return fmt.Errorf("btree: buffer pool exhausted flushing header page")
	}
	defer bpm.UnpinPage(storage.HeaderPageID, true)
	return h.serialize(frame.Data())
}

// headerPage is the reserved page at storage.HeaderPageID recording the
// current root page id for every named index in the store.
type headerPage struct {
	mu    sync.Mutex
	roots map[string]storage.PageID
}

func newHeaderPage() *headerPage {
	return &headerPage{roots: make(map[string]storage.PageID)}
}

func (h *headerPage) get(name string) (storage.PageID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.roots[name]
	return id, ok
}

func (h *headerPage) set(name string, id storage.PageID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots[name] = id
}

func (h *headerPage) serialize(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(h.roots))); err != nil {
		return err
	}
	for name, id := range h.roots {
		if err := writeLenPrefixed(buf, []byte(name)); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.LittleEndian, uint64(id)); err != nil {
			return err
		}
	}
	out := buf.Bytes()
	if len(out)+checksumSize > len(data) {
		return fmt.Errorf("btree: header page overflow: %d entries too large for page", len(h.roots))
	}
	copy(data, out)
	for i := len(out); i < len(data)-checksumSize; i++ {
		data[i] = 0
	}
	checksum := crc32.ChecksumIEEE(data[:len(data)-checksumSize])
	binary.LittleEndian.PutUint32(data[len(data)-checksumSize:], checksum)
	return nil
}

func deserializeHeaderPage(data []byte) (*headerPage, error) {
	if len(data) < checksumSize {
		return nil, fmt.Errorf("btree: header page too small")
	}
	body := data[:len(data)-checksumSize]
	stored := binary.LittleEndian.Uint32(data[len(data)-checksumSize:])
	if crc32.ChecksumIEEE(body) != stored {
		return nil, ErrChecksumMismatch
	}
	r := bytes.NewReader(body)
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	h := newHeaderPage()
	for i := uint16(0); i < count; i++ {
		nameBytes, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		var id uint64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("btree: truncated header page entry")
			}
			return nil, err
		}
		h.roots[string(nameBytes)] = storage.PageID(id)
	}
	return h, nil
}
