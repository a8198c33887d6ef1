package btree

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rmehta/stratadb/core/storage"
)

// ErrBufferPoolExhausted is returned when the buffer pool cannot supply a
// frame for a page the tree needs to fetch or allocate. This is a fatal
// precondition for write paths, surfaced to the caller rather than
// panicking: the pool must be sized for at least the maximum
// latch-coupling set (tree height plus one sibling).
var ErrBufferPoolExhausted = errors.New("btree: buffer pool exhausted")

// Config configures a BPlusTree's node capacities.
type Config struct {
	LeafMaxSize     int
	InternalMaxSize int
}

// BPlusTree is a latch-crabbing concurrent B+Tree index over a buffer
// pool, grounded on BusTub's storage/index/b_plus_tree.cpp descent
// protocol, using slices.BinarySearchFunc/slices.Insert for in-node key
// manipulation.
type BPlusTree[K any, V any] struct {
	name   string
	bpm    *storage.BufferPoolManager
	header *headerPage
	cmp    Comparator[K]
	kc     KeyCodec[K]
	vc     ValueCodec[V]

	leafMaxSize     int
	internalMaxSize int

	// rootLatch serializes the empty-tree-to-nonempty transition; ordinary
	// descents don't take it.
	rootLatch sync.Mutex

	log    *zap.Logger
	tracer trace.Tracer
}

// WithTracer attaches an OpenTelemetry tracer so Insert/Remove/GetValue
// each emit one span.
func (t *BPlusTree[K, V]) WithTracer(tracer trace.Tracer) *BPlusTree[K, V] {
	t.tracer = tracer
	return t
}

func (t *BPlusTree[K, V]) startSpan(op string) (context.Context, trace.Span) {
	tracer := t.tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return tracer.Start(context.Background(), "btree."+op, trace.WithAttributes())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// New constructs a named B+Tree over bpm, recording its root in header.
// The tree is empty until the first Insert.
func New[K any, V any](name string, bpm *storage.BufferPoolManager, header *headerPage, cmp Comparator[K], kc KeyCodec[K], vc ValueCodec[V], cfg Config, log *zap.Logger) *BPlusTree[K, V] {
	if cfg.LeafMaxSize <= 0 {
		cfg.LeafMaxSize = 4
	}
	if cfg.InternalMaxSize <= 0 {
		cfg.InternalMaxSize = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BPlusTree[K, V]{
		name:            name,
		bpm:             bpm,
		header:          header,
		cmp:             cmp,
		kc:              kc,
		vc:              vc,
		leafMaxSize:     cfg.LeafMaxSize,
		internalMaxSize: cfg.InternalMaxSize,
		log:             log.With(zap.String("component", "btree"), zap.String("index", name)),
	}
}

// pinned couples a fetched frame with its deserialized node and the latch
// mode it was fetched under, so callers can release symmetrically.
type pinned[K any, V any] struct {
	frame *storage.Frame
	node  *node[K, V]
	write bool
}

func (t *BPlusTree[K, V]) fetch(id storage.PageID, write bool) (*pinned[K, V], error) {
	frame, ok := t.bpm.FetchPage(id)
	if !ok {
		return nil, ErrBufferPoolExhausted
	}
	if write {
		frame.WLatch()
	} else {
		frame.RLatch()
	}
	n, err := deserializeNode[K, V](frame.Data(), t.kc, t.vc)
	if err != nil {
		if write {
			frame.WUnlatch()
		} else {
			frame.RUnlatch()
		}
		t.bpm.UnpinPage(id, false)
		return nil, err
	}
	return &pinned[K, V]{frame: frame, node: n, write: write}, nil
}

// release unlatches and unpins p, writing its node back first if dirty.
func (t *BPlusTree[K, V]) release(p *pinned[K, V], dirty bool) {
	if dirty {
		_ = p.node.serialize(p.frame.Data(), t.kc, t.vc)
	}
	if p.write {
		p.frame.WUnlatch()
	} else {
		p.frame.RUnlatch()
	}
	t.bpm.UnpinPage(p.frame.PageID(), dirty)
}

func (t *BPlusTree[K, V]) allocate(n *node[K, V]) (*pinned[K, V], error) {
	id, frame, ok := t.bpm.NewPage()
	if !ok {
		return nil, ErrBufferPoolExhausted
	}
	frame.WLatch()
	n.pageID = id
	return &pinned[K, V]{frame: frame, node: n, write: true}, nil
}

// IsEmpty reports whether the index currently has no root.
func (t *BPlusTree[K, V]) IsEmpty() bool {
	_, ok := t.header.get(t.name)
	return !ok
}

// fetchRoot fetches the current root page under the given latch mode,
// re-validating against the header in case a concurrent writer changed
// the root between reading its id and latching the page.
func (t *BPlusTree[K, V]) fetchRoot(write bool) (*pinned[K, V], bool, error) {
	for {
		rootID, ok := t.header.get(t.name)
		if !ok {
			return nil, false, nil
		}
		p, err := t.fetch(rootID, write)
		if err != nil {
			return nil, false, err
		}
		cur, ok := t.header.get(t.name)
		if !ok || cur != rootID {
			t.release(p, false)
			continue
		}
		return p, true, nil
	}
}

// findChildIndex returns the index into n.children whose subtree may
// contain key, per the separator invariant: children[i] holds keys in
// [childKeys[i], childKeys[i+1]) for i >= 1, and children[0] holds keys
// below childKeys[1]. childKeys[0] is stored but ignored.
func (t *BPlusTree[K, V]) findChildIndex(n *node[K, V], key K) int {
	if len(n.childKeys) <= 1 {
		return 0
	}
	idx, found := slices.BinarySearchFunc(n.childKeys[1:], key, t.cmp)
	real := idx + 1
	if found {
		return real
	}
	return real - 1
}

// GetValue returns the value associated with key, using an R-latch
// crabbing descent that releases the parent as soon as the child is
// latched.
func (t *BPlusTree[K, V]) GetValue(key K) (V, bool) {
	_, span := t.startSpan("get_value")
	defer func() { endSpan(span, nil) }()

	var zero V
	p, ok, err := t.fetchRoot(false)
	if err != nil || !ok {
		return zero, false
	}
	for !p.node.isLeaf() {
		idx := t.findChildIndex(p.node, key)
		childID := p.node.children[idx]
		child, err := t.fetch(childID, false)
		t.release(p, false)
		if err != nil {
			return zero, false
		}
		p = child
	}
	defer t.release(p, false)
	idx, found := slices.BinarySearchFunc(p.node.keys, key, t.cmp)
	if !found {
		return zero, false
	}
	return p.node.values[idx], true
}

// Insert adds (key, value), returning false without mutating the tree if
// key is already present.
func (t *BPlusTree[K, V]) Insert(key K, value V) (ok bool, err error) {
	_, span := t.startSpan("insert")
	defer func() { endSpan(span, err) }()

	if t.IsEmpty() {
		ok, err = t.insertIntoEmpty(key, value)
		return ok, err
	}

	if res, done, derr := t.insertOptimistic(key, value); done {
		return res, derr
	}
	ok, err = t.insertPessimistic(key, value)
	return ok, err
}

func (t *BPlusTree[K, V]) insertIntoEmpty(key K, value V) (bool, error) {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()
	if _, ok := t.header.get(t.name); ok {
		return t.Insert(key, value)
	}
	leaf := newLeaf[K, V](storage.InvalidPageID, t.leafMaxSize)
	p, err := t.allocate(leaf)
	if err != nil {
		return false, err
	}
	p.node.keys = []K{key}
	p.node.values = []V{value}
	t.header.set(t.name, p.node.pageID)
	t.release(p, true)
	return true, nil
}

// insertOptimistic performs a write-latch-crabbing descent, releasing
// each ancestor as soon as its child is latched. If the leaf would
// overflow, it backs out (done=false) so the caller can retry
// pessimistically.
func (t *BPlusTree[K, V]) insertOptimistic(key K, value V) (ok bool, done bool, err error) {
	p, found, err := t.fetchRoot(true)
	if err != nil || !found {
		return false, true, err
	}
	for !p.node.isLeaf() {
		idx := t.findChildIndex(p.node, key)
		childID := p.node.children[idx]
		child, ferr := t.fetch(childID, true)
		t.release(p, false)
		if ferr != nil {
			return false, true, ferr
		}
		p = child
	}
	if p.node.isFull() {
		_, alreadyPresent := slices.BinarySearchFunc(p.node.keys, key, t.cmp)
		t.release(p, false)
		if alreadyPresent {
			return false, true, nil
		}
		return false, false, nil
	}
	idx, foundKey := slices.BinarySearchFunc(p.node.keys, key, t.cmp)
	if foundKey {
		t.release(p, false)
		return false, true, nil
	}
	p.node.keys = slices.Insert(p.node.keys, idx, key)
	p.node.values = slices.Insert(p.node.values, idx, value)
	t.release(p, true)
	return true, true, nil
}

// insertPessimistic re-descends W-latching every node on the path,
// releasing ancestors once the current node is insert-safe, then applies
// the insert and propagates any split up the held safe suffix.
func (t *BPlusTree[K, V]) insertPessimistic(key K, value V) (bool, error) {
	p, found, err := t.fetchRoot(true)
	if err != nil || !found {
		return false, err
	}
	path := []*pinned[K, V]{p}
	for !p.node.isLeaf() {
		if p.node.insertSafe() {
			t.releaseAncestors(path[:len(path)-1])
			path = path[len(path)-1:]
		}
		idx := t.findChildIndex(p.node, key)
		childID := p.node.children[idx]
		child, ferr := t.fetch(childID, true)
		if ferr != nil {
			t.releaseAncestors(path)
			return false, ferr
		}
		path = append(path, child)
		p = child
	}

	leaf := p.node
	idx, foundKey := slices.BinarySearchFunc(leaf.keys, key, t.cmp)
	if foundKey {
		t.releaseAncestors(path)
		return false, nil
	}
	leaf.keys = slices.Insert(leaf.keys, idx, key)
	leaf.values = slices.Insert(leaf.values, idx, value)

	if !leaf.isFull() {
		t.releaseAncestorsDirty(path)
		return true, nil
	}
	if err := t.splitLeafAndPropagate(path); err != nil {
		return false, err
	}
	return true, nil
}

func (t *BPlusTree[K, V]) releaseAncestors(path []*pinned[K, V]) {
	for _, anc := range path {
		t.release(anc, false)
	}
}

func (t *BPlusTree[K, V]) releaseAncestorsDirty(path []*pinned[K, V]) {
	leaf := path[len(path)-1]
	t.release(leaf, true)
	for i := len(path) - 2; i >= 0; i-- {
		t.release(path[i], false)
	}
}

// splitLeafAndPropagate splits the overflowing leaf at the end of path,
// linking the new right sibling into the next_leaf chain and pushing the
// right sibling's first key up to the parent, recursing into internal
// splits as needed.
func (t *BPlusTree[K, V]) splitLeafAndPropagate(path []*pinned[K, V]) error {
	leaf := path[len(path)-1]
	mid := leaf.node.minSize()

	right := newLeaf[K, V](storage.InvalidPageID, t.leafMaxSize)
	right.keys = append([]K(nil), leaf.node.keys[mid:]...)
	right.values = append([]V(nil), leaf.node.values[mid:]...)
	leaf.node.keys = leaf.node.keys[:mid]
	leaf.node.values = leaf.node.values[:mid]

	rightP, err := t.allocate(right)
	if err != nil {
		t.release(leaf, true)
		t.releaseAncestors(path[:len(path)-1])
		return err
	}
	right.nextLeafID = leaf.node.nextLeafID
	leaf.node.nextLeafID = right.pageID
	right.parentPageID = leaf.node.parentPageID

	separator := right.keys[0]
	leftChild := leaf.node.pageID
	t.release(leaf, true)
	t.release(rightP, true)

	return t.propagateSplit(path[:len(path)-1], leftChild, right.pageID, separator)
}

// propagateSplit inserts (separator -> rightChild) into the parent at the
// end of ancestors. If the parent overflows it splits in turn; if
// ancestors is empty a new root is allocated.
func (t *BPlusTree[K, V]) propagateSplit(ancestors []*pinned[K, V], leftChild, rightChild storage.PageID, separator K) error {
	if len(ancestors) == 0 {
		return t.newRoot(leftChild, rightChild, separator)
	}

	parent := ancestors[len(ancestors)-1]
	idx := t.findChildIndex(parent.node, separator) + 1
	parent.node.childKeys = slices.Insert(parent.node.childKeys, idx, separator)
	parent.node.children = slices.Insert(parent.node.children, idx, rightChild)

	rightFrame, ok := t.bpm.FetchPage(rightChild)
	if ok {
		rightFrame.WLatch()
		if rn, err := deserializeNode[K, V](rightFrame.Data(), t.kc, t.vc); err == nil {
			rn.parentPageID = parent.node.pageID
			_ = rn.serialize(rightFrame.Data(), t.kc, t.vc)
		}
		rightFrame.WUnlatch()
		t.bpm.UnpinPage(rightChild, true)
	}

	if !parent.node.isFull() {
		t.releaseAncestorsDirty(ancestors)
		return nil
	}
	return t.splitInternalAndPropagate(ancestors)
}

func (t *BPlusTree[K, V]) splitInternalAndPropagate(ancestors []*pinned[K, V]) error {
	parent := ancestors[len(ancestors)-1]
	mid := parent.node.minSize()

	right := newInternal[K, V](storage.InvalidPageID, t.internalMaxSize)
	right.childKeys = append([]K(nil), parent.node.childKeys[mid:]...)
	right.children = append([]storage.PageID(nil), parent.node.children[mid:]...)
	parent.node.childKeys = parent.node.childKeys[:mid]
	parent.node.children = parent.node.children[:mid]

	separator := right.childKeys[0]

	rightP, err := t.allocate(right)
	if err != nil {
		t.release(parent, true)
		t.releaseAncestors(ancestors[:len(ancestors)-1])
		return err
	}

	for _, c := range right.children {
		t.reparent(c, right.pageID)
	}

	leftChild := parent.node.pageID
	t.release(parent, true)
	t.release(rightP, true)

	return t.propagateSplit(ancestors[:len(ancestors)-1], leftChild, right.pageID, separator)
}

// reparent updates a child page's parent_page_id under its own W-latch,
// if not already held by the caller.
func (t *BPlusTree[K, V]) reparent(child, newParent storage.PageID) {
	frame, ok := t.bpm.FetchPage(child)
	if !ok {
		return
	}
	frame.WLatch()
	if n, err := deserializeNode[K, V](frame.Data(), t.kc, t.vc); err == nil {
		n.parentPageID = newParent
		_ = n.serialize(frame.Data(), t.kc, t.vc)
	}
	frame.WUnlatch()
	t.bpm.UnpinPage(child, true)
}

// newRoot allocates a fresh internal root over leftChild/rightChild when
// a split reaches the top of the tree, registering it in the header page.
func (t *BPlusTree[K, V]) newRoot(leftChild, rightChild storage.PageID, separator K) error {
	var zero K
	root := newInternal[K, V](storage.InvalidPageID, t.internalMaxSize)
	root.childKeys = []K{zero, separator}
	root.children = []storage.PageID{leftChild, rightChild}

	p, err := t.allocate(root)
	if err != nil {
		return err
	}
	t.reparent(leftChild, p.node.pageID)
	t.reparent(rightChild, p.node.pageID)
	t.header.set(t.name, p.node.pageID)
	t.release(p, true)
	return nil
}

// Remove deletes key if present; a missing key is a no-op.
func (t *BPlusTree[K, V]) Remove(key K) (err error) {
	_, span := t.startSpan("remove")
	defer func() { endSpan(span, err) }()

	if t.IsEmpty() {
		return nil
	}
	if done, derr := t.removeOptimistic(key); done {
		err = derr
		return err
	}
	err = t.removePessimistic(key)
	return err
}

// removeOptimistic mirrors insertOptimistic: a W-crabbing descent that
// applies the delete directly if the leaf stays at or above min_size, or
// is itself the root.
func (t *BPlusTree[K, V]) removeOptimistic(key K) (done bool, err error) {
	p, found, err := t.fetchRoot(true)
	if err != nil || !found {
		return true, err
	}
	isRoot := true
	for !p.node.isLeaf() {
		idx := t.findChildIndex(p.node, key)
		childID := p.node.children[idx]
		child, ferr := t.fetch(childID, true)
		t.release(p, false)
		if ferr != nil {
			return true, ferr
		}
		p = child
		isRoot = false
	}

	idx, foundKey := slices.BinarySearchFunc(p.node.keys, key, t.cmp)
	if !foundKey {
		t.release(p, false)
		return true, nil
	}
	afterSize := p.node.size() - 1
	if isRoot || afterSize >= p.node.minSize() {
		p.node.keys = slices.Delete(p.node.keys, idx, idx+1)
		p.node.values = slices.Delete(p.node.values, idx, idx+1)
		t.release(p, true)
		return true, nil
	}
	t.release(p, false)
	return false, nil
}

// removePessimistic re-descends W-latching the whole path, releasing
// ancestors once the current node is delete-safe, then applies the
// delete and resolves any underflow by borrowing or merging.
func (t *BPlusTree[K, V]) removePessimistic(key K) error {
	p, found, err := t.fetchRoot(true)
	if err != nil || !found {
		return err
	}
	path := []*pinned[K, V]{p}
	for !p.node.isLeaf() {
		if len(path) > 1 && p.node.deleteSafe() {
			t.releaseAncestors(path[:len(path)-1])
			path = path[len(path)-1:]
		}
		idx := t.findChildIndex(p.node, key)
		childID := p.node.children[idx]
		child, ferr := t.fetch(childID, true)
		if ferr != nil {
			t.releaseAncestors(path)
			return ferr
		}
		path = append(path, child)
		p = child
	}

	leaf := p.node
	idx, foundKey := slices.BinarySearchFunc(leaf.keys, key, t.cmp)
	if !foundKey {
		t.releaseAncestors(path)
		return nil
	}
	leaf.keys = slices.Delete(leaf.keys, idx, idx+1)
	leaf.values = slices.Delete(leaf.values, idx, idx+1)

	if len(path) == 1 || leaf.size() >= leaf.minSize() {
		t.releaseAncestorsDirty(path)
		return nil
	}
	return t.resolveUnderflow(path)
}

// resolveUnderflow handles the node at the end of path (known to be
// underflowing) by borrowing from a sibling, or merging with one and
// recursing into the parent if the merge itself underflows it.
func (t *BPlusTree[K, V]) resolveUnderflow(path []*pinned[K, V]) error {
	node := path[len(path)-1]
	parent := path[len(path)-2]

	childIdx := slices.Index(parent.node.children, node.frame.PageID())

	var leftSib, rightSib *pinned[K, V]
	var err error
	if childIdx > 0 {
		leftSib, err = t.fetch(parent.node.children[childIdx-1], true)
		if err != nil {
			t.releaseAncestors(path)
			return err
		}
	}
	if childIdx < len(parent.node.children)-1 {
		rightSib, err = t.fetch(parent.node.children[childIdx+1], true)
		if err != nil {
			if leftSib != nil {
				t.release(leftSib, false)
			}
			t.releaseAncestors(path)
			return err
		}
	}

	switch {
	case leftSib != nil && leftSib.node.size() > leftSib.node.minSize():
		t.borrowFromLeft(node, leftSib, parent, childIdx)
		if rightSib != nil {
			t.release(rightSib, false)
		}
		t.release(leftSib, true)
		t.releaseAncestorsDirty(path)
		return nil

	case rightSib != nil && rightSib.node.size() > rightSib.node.minSize():
		t.borrowFromRight(node, rightSib, parent, childIdx)
		if leftSib != nil {
			t.release(leftSib, false)
		}
		t.release(rightSib, true)
		t.releaseAncestorsDirty(path)
		return nil

	case leftSib != nil:
		if rightSib != nil {
			t.release(rightSib, false)
		}
		t.mergeInto(leftSib, node, parent, childIdx-1)
		t.release(leftSib, true)
		return t.afterMerge(path[:len(path)-1], childIdx-1)

	default:
		t.mergeInto(node, rightSib, parent, childIdx)
		t.release(node, true)
		return t.afterMerge(path[:len(path)-1], childIdx)
	}
}

// borrowFromLeft rotates the left sibling's last entry into node,
// updating the parent separator. Left is preferred over right when both
// siblings can lend an entry.
func (t *BPlusTree[K, V]) borrowFromLeft(node, left, parent *pinned[K, V], childIdx int) {
	if node.node.isLeaf() {
		n := len(left.node.keys)
		k, v := left.node.keys[n-1], left.node.values[n-1]
		left.node.keys = left.node.keys[:n-1]
		left.node.values = left.node.values[:n-1]
		node.node.keys = slices.Insert(node.node.keys, 0, k)
		node.node.values = slices.Insert(node.node.values, 0, v)
		parent.node.childKeys[childIdx] = k
		return
	}
	n := len(left.node.children)
	borrowedChild := left.node.children[n-1]
	borrowedKey := left.node.childKeys[n-1]
	left.node.children = left.node.children[:n-1]
	left.node.childKeys = left.node.childKeys[:n-1]

	oldSeparator := parent.node.childKeys[childIdx]
	node.node.children = slices.Insert(node.node.children, 0, borrowedChild)
	node.node.childKeys = slices.Insert(node.node.childKeys, 1, oldSeparator)
	parent.node.childKeys[childIdx] = borrowedKey
	t.reparent(borrowedChild, node.node.pageID)
}

// borrowFromRight rotates the right sibling's first entry into node.
func (t *BPlusTree[K, V]) borrowFromRight(node, right, parent *pinned[K, V], childIdx int) {
	if node.node.isLeaf() {
		k, v := right.node.keys[0], right.node.values[0]
		right.node.keys = right.node.keys[1:]
		right.node.values = right.node.values[1:]
		node.node.keys = append(node.node.keys, k)
		node.node.values = append(node.node.values, v)
		parent.node.childKeys[childIdx+1] = right.node.keys[0]
		return
	}
	borrowedChild := right.node.children[0]
	borrowedKey := right.node.childKeys[1]
	right.node.children = right.node.children[1:]
	right.node.childKeys = append(right.node.childKeys[:1], right.node.childKeys[2:]...)

	oldSeparator := parent.node.childKeys[childIdx+1]
	node.node.children = append(node.node.children, borrowedChild)
	node.node.childKeys = append(node.node.childKeys, oldSeparator)
	parent.node.childKeys[childIdx+1] = borrowedKey
	t.reparent(borrowedChild, node.node.pageID)
}

// mergeInto absorbs right's entries into left, unlinking right from the
// leaf chain (if applicable) and removing right's separator/child
// pointer from parent. right is then unlatched, unpinned and its page
// deleted from the buffer pool here.
func (t *BPlusTree[K, V]) mergeInto(left, right, parent *pinned[K, V], leftIdx int) {
	if left.node.isLeaf() {
		left.node.keys = append(left.node.keys, right.node.keys...)
		left.node.values = append(left.node.values, right.node.values...)
		left.node.nextLeafID = right.node.nextLeafID
	} else {
		separator := parent.node.childKeys[leftIdx+1]
		left.node.childKeys = append(left.node.childKeys, append([]K{separator}, right.node.childKeys[1:]...)...)
		left.node.children = append(left.node.children, right.node.children...)
		for _, c := range right.node.children {
			t.reparent(c, left.node.pageID)
		}
	}
	parent.node.childKeys = slices.Delete(parent.node.childKeys, leftIdx+1, leftIdx+2)
	parent.node.children = slices.Delete(parent.node.children, leftIdx+1, leftIdx+2)

	rightID := right.frame.PageID()
	right.frame.WUnlatch()
	t.bpm.UnpinPage(rightID, false)
	_ = t.bpm.DeletePage(rightID)
}

// afterMerge checks whether the merge left the parent (now at the end of
// path) underflowing, recursing into resolveUnderflow or collapsing the
// root as needed.
func (t *BPlusTree[K, V]) afterMerge(path []*pinned[K, V], _ int) error {
	parent := path[len(path)-1]

	if len(path) == 1 {
		if len(parent.node.children) == 1 {
			onlyChild := parent.node.children[0]
			oldRootID := parent.node.pageID
			t.header.set(t.name, onlyChild)
			t.reparent(onlyChild, storage.InvalidPageID)
			t.release(parent, false)
			_ = t.bpm.DeletePage(oldRootID)
			return nil
		}
		t.release(parent, true)
		return nil
	}

	if parent.node.size() >= parent.node.minSize() {
		t.releaseAncestorsDirty(path)
		return nil
	}
	return t.resolveUnderflow(path)
}
