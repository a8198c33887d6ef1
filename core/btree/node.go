package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/rmehta/stratadb/core/storage"
)

// ErrChecksumMismatch signals that a page's trailing CRC32 does not match
// its content, indicating on-disk corruption.
var ErrChecksumMismatch = errors.New("btree: page checksum mismatch")

const checksumSize = 4

// kind distinguishes the two node variants sharing one header layout.
type kind uint8

const (
	kindLeaf     kind = 0
	kindInternal kind = 1
)

// node is the in-memory representation of one B+Tree page: a leaf holding
// (key, value) pairs plus a next-leaf link, or an internal node holding
// children and separator keys. Both variants share the header { kind,
// size, max_size, page_id, parent_page_id }, serialized with a
// length-prefixed key/value encoding.
type node[K any, V any] struct {
	kind         kind
	pageID       storage.PageID
	parentPageID storage.PageID
	maxSize      int

	// leaf
	keys       []K
	values     []V
	nextLeafID storage.PageID

	// internal: size == len(children) == len(childKeys); childKeys[0] is
	// stored but semantically ignored.
	childKeys []K
	children  []storage.PageID
}

func (n *node[K, V]) isLeaf() bool { return n.kind == kindLeaf }

// size is the node's entry count: leaf entries, or internal children.
func (n *node[K, V]) size() int {
	if n.isLeaf() {
		return len(n.keys)
	}
	return len(n.children)
}

func (n *node[K, V]) minSize() int {
	return (n.maxSize + 1) / 2
}

// isFull reports whether inserting one more entry would overflow size
// past maxSize.
func (n *node[K, V]) isFull() bool { return n.size() >= n.maxSize }

// insertSafe reports whether an insert into this node is guaranteed not
// to require a split.
func (n *node[K, V]) insertSafe() bool { return n.size() < n.maxSize }

// deleteSafe reports whether a removal from this node cannot cause
// underflow.
func (n *node[K, V]) deleteSafe() bool { return n.size() > n.minSize() }

func newLeaf[K any, V any](pageID storage.PageID, maxSize int) *node[K, V] {
	return &node[K, V]{kind: kindLeaf, pageID: pageID, maxSize: maxSize, nextLeafID: storage.InvalidPageID}
}

func newInternal[K any, V any](pageID storage.PageID, maxSize int) *node[K, V] {
	return &node[K, V]{kind: kindInternal, pageID: pageID, maxSize: maxSize}
}

// serialize writes n's content into frame data, zero-padding the unused
// middle and appending a CRC32 trailer over everything preceding it.
func (n *node[K, V]) serialize(data []byte, kc KeyCodec[K], vc ValueCodec[V]) error {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, n.kind); err != nil {
		return fmt.Errorf("btree: writing kind: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(n.size())); err != nil {
		return fmt.Errorf("btree: writing size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(n.maxSize)); err != nil {
		return fmt.Errorf("btree: writing max_size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint64(n.pageID)); err != nil {
		return fmt.Errorf("btree: writing page_id: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint64(n.parentPageID)); err != nil {
		return fmt.Errorf("btree: writing parent_page_id: %w", err)
	}

	if n.isLeaf() {
		if err := binary.Write(buf, binary.LittleEndian, uint64(n.nextLeafID)); err != nil {
			return fmt.Errorf("btree: writing next_leaf: %w", err)
		}
		for i, k := range n.keys {
			if err := writeBytes(buf, kc, k); err != nil {
				return err
			}
			vb, err := vc.Encode(n.values[i])
			if err != nil {
				return fmt.Errorf("btree: encoding value: %w", err)
			}
			if err := writeLenPrefixed(buf, vb); err != nil {
				return err
			}
		}
	} else {
		for _, k := range n.childKeys {
			if err := writeBytes(buf, kc, k); err != nil {
				return err
			}
		}
		for _, c := range n.children {
			if err := binary.Write(buf, binary.LittleEndian, uint64(c)); err != nil {
				return fmt.Errorf("btree: writing child page id: %w", err)
			}
		}
	}

	out := buf.Bytes()
	if len(out)+checksumSize > len(data) {
		return fmt.Errorf("btree: serialized node (%d bytes) exceeds page size (%d)", len(out)+checksumSize, len(data))
	}
	copy(data, out)
	for i := len(out); i < len(data)-checksumSize; i++ {
		data[i] = 0
	}
	checksum := crc32.ChecksumIEEE(data[:len(data)-checksumSize])
	binary.LittleEndian.PutUint32(data[len(data)-checksumSize:], checksum)
	return nil
}

func writeBytes[K any](buf *bytes.Buffer, kc KeyCodec[K], k K) error {
	kb, err := kc.Encode(k)
	if err != nil {
		return fmt.Errorf("btree: encoding key: %w", err)
	}
	return writeLenPrefixed(buf, kb)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// deserializeNode reconstructs a node from frame data, verifying the
// CRC32 trailer first.
func deserializeNode[K any, V any](data []byte, kc KeyCodec[K], vc ValueCodec[V]) (*node[K, V], error) {
	if len(data) < checksumSize {
		return nil, fmt.Errorf("btree: page too small (%d bytes)", len(data))
	}
	body := data[:len(data)-checksumSize]
	stored := binary.LittleEndian.Uint32(data[len(data)-checksumSize:])
	if crc32.ChecksumIEEE(body) != stored {
		return nil, ErrChecksumMismatch
	}

	r := bytes.NewReader(body)
	n := &node[K, V]{}

	var k uint8
	if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
		return nil, fmt.Errorf("btree: reading kind: %w", err)
	}
	n.kind = kind(k)

	var size, maxSize uint16
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("btree: reading size: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &maxSize); err != nil {
		return nil, fmt.Errorf("btree: reading max_size: %w", err)
	}
	n.maxSize = int(maxSize)

	var pageID, parentID uint64
	if err := binary.Read(r, binary.LittleEndian, &pageID); err != nil {
		return nil, fmt.Errorf("btree: reading page_id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &parentID); err != nil {
		return nil, fmt.Errorf("btree: reading parent_page_id: %w", err)
	}
	n.pageID = storage.PageID(pageID)
	n.parentPageID = storage.PageID(parentID)

	if n.isLeaf() {
		var nextLeaf uint64
		if err := binary.Read(r, binary.LittleEndian, &nextLeaf); err != nil {
			return nil, fmt.Errorf("btree: reading next_leaf: %w", err)
		}
		n.nextLeafID = storage.PageID(nextLeaf)
		n.keys = make([]K, size)
		n.values = make([]V, size)
		for i := uint16(0); i < size; i++ {
			kb, err := readLenPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("btree: reading key %d: %w", i, err)
			}
			key, err := kc.Decode(kb)
			if err != nil {
				return nil, fmt.Errorf("btree: decoding key %d: %w", i, err)
			}
			n.keys[i] = key
			vb, err := readLenPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("btree: reading value %d: %w", i, err)
			}
			val, err := vc.Decode(vb)
			if err != nil {
				return nil, fmt.Errorf("btree: decoding value %d: %w", i, err)
			}
			n.values[i] = val
		}
	} else {
		n.childKeys = make([]K, size)
		n.children = make([]storage.PageID, size)
		for i := uint16(0); i < size; i++ {
			kb, err := readLenPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("btree: reading separator %d: %w", i, err)
			}
			key, err := kc.Decode(kb)
			if err != nil {
				return nil, fmt.Errorf("btree: decoding separator %d: %w", i, err)
			}
			n.childKeys[i] = key
		}
		for i := uint16(0); i < size; i++ {
			var c uint64
			if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
				return nil, fmt.Errorf("btree: reading child %d: %w", i, err)
			}
			n.children[i] = storage.PageID(c)
		}
	}
	return n, nil
}
