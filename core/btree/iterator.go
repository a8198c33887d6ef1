package btree

import "github.com/rmehta/stratadb/core/storage"

// Iterator is a single-pass forward cursor over a B+Tree's leaf chain,
// holding one pinned (but unlatched) leaf page and an index into it. The
// end position is represented by a nil leaf reference, the single
// canonical end value. A non-nil leaf always corresponds to a live pin
// on that page; callers that abandon an iterator before reaching the
// end must call Close to release it.
type Iterator[K any, V any] struct {
	tree *BPlusTree[K, V]
	leaf *node[K, V]
	idx  int
}

// Valid reports whether the iterator currently references an entry.
func (it *Iterator[K, V]) Valid() bool {
	return it != nil && it.leaf != nil && it.idx < len(it.leaf.keys)
}

// Key and Value return the entry at the iterator's current position.
// Call only when Valid reports true.
func (it *Iterator[K, V]) Key() K   { return it.leaf.keys[it.idx] }
func (it *Iterator[K, V]) Value() V { return it.leaf.values[it.idx] }

// Next advances the iterator. At end-of-leaf it drops the pin on the
// current leaf and fetches the next leaf in the chain, pinning it in
// turn.
func (it *Iterator[K, V]) Next() {
	if it.leaf == nil {
		return
	}
	it.idx++
	if it.idx < len(it.leaf.keys) {
		return
	}

	nextID := it.leaf.nextLeafID
	oldPageID := it.leaf.pageID
	if nextID == storage.InvalidPageID {
		it.tree.bpm.UnpinPage(oldPageID, false)
		it.leaf = nil
		return
	}

	p, err := it.tree.fetch(nextID, false)
	it.tree.bpm.UnpinPage(oldPageID, false)
	if err != nil {
		it.leaf = nil
		return
	}
	p.frame.RUnlatch()
	it.leaf = p.node
	it.idx = 0
}

// Clone returns an independent copy of it, taking a separate pin on the
// same leaf page so the two iterators can advance without interfering
// with each other.
func (it *Iterator[K, V]) Clone() *Iterator[K, V] {
	if it == nil || it.leaf == nil {
		return &Iterator[K, V]{tree: it.tree}
	}
	p, err := it.tree.fetch(it.leaf.pageID, false)
	if err != nil {
		return &Iterator[K, V]{tree: it.tree}
	}
	p.frame.RUnlatch()
	return &Iterator[K, V]{tree: it.tree, leaf: p.node, idx: it.idx}
}

// Close releases the pin the iterator holds on its current leaf, if
// any. Safe to call on an already-exhausted or zero-value iterator.
func (it *Iterator[K, V]) Close() {
	if it == nil || it.leaf == nil {
		return
	}
	it.tree.bpm.UnpinPage(it.leaf.pageID, false)
	it.leaf = nil
}

// Begin returns an iterator positioned at the first entry of the
// leftmost leaf.
func (t *BPlusTree[K, V]) Begin() *Iterator[K, V] {
	p, ok, err := t.fetchRoot(false)
	if err != nil || !ok {
		return &Iterator[K, V]{tree: t}
	}
	for !p.node.isLeaf() {
		childID := p.node.children[0]
		child, ferr := t.fetch(childID, false)
		t.release(p, false)
		if ferr != nil {
			return &Iterator[K, V]{tree: t}
		}
		p = child
	}
	leaf := p.node
	p.frame.RUnlatch()
	return &Iterator[K, V]{tree: t, leaf: leaf, idx: 0}
}

// BeginFrom returns an iterator positioned at the first key >= key.
func (t *BPlusTree[K, V]) BeginFrom(key K) *Iterator[K, V] {
	p, ok, err := t.fetchRoot(false)
	if err != nil || !ok {
		return &Iterator[K, V]{tree: t}
	}
	for !p.node.isLeaf() {
		idx := t.findChildIndex(p.node, key)
		childID := p.node.children[idx]
		child, ferr := t.fetch(childID, false)
		t.release(p, false)
		if ferr != nil {
			return &Iterator[K, V]{tree: t}
		}
		p = child
	}
	leaf := p.node
	p.frame.RUnlatch()

	idx := binarySearchFloor(leaf.keys, key, t.cmp)
	it := &Iterator[K, V]{tree: t, leaf: leaf, idx: idx}
	if idx >= len(leaf.keys) {
		// Every key in this leaf is below key: continue in the next leaf.
		it.idx = len(leaf.keys) - 1
		it.Next()
	}
	return it
}

// binarySearchFloor returns the index of the first key >= target.
func binarySearchFloor[K any](keys []K, target K, cmp Comparator[K]) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(keys[mid], target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// End returns the canonical end iterator.
func (t *BPlusTree[K, V]) End() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t}
}
