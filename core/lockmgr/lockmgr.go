// Package lockmgr implements hierarchical two-phase locking over tables
// and rows, with FIFO queueing, lock upgrades, and background deadlock
// detection. Table-lock granting and isolation-level legality checks are
// grounded on BusTub's concurrency/lock_manager.cpp
// CheckLockModeLegal/CheckLockUpgradeLegal/AssignTableLock; row locking
// and deadlock detection are original, since that source stubs both out
// (LockRow/UnlockRow return true unconditionally, HasCycle always
// false).
package lockmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmehta/stratadb/core/txn"
)

// LockManager grants and tracks table and row locks across transactions.
type LockManager struct {
	mapLatch    sync.Mutex
	tableQueues map[string]*queue
	rowQueues   map[txn.RowKey]*queue

	txnLatch sync.Mutex
	txns     map[txn.ID]*txn.Transaction

	log            *zap.Logger
	detectInterval time.Duration
	stopCh         chan struct{}
	stopped        sync.WaitGroup
}

// Config configures a LockManager's background deadlock detector.
type Config struct {
	DetectInterval time.Duration
	Logger         *zap.Logger
}

// New constructs a LockManager. Call StartDeadlockDetector to run the
// periodic wait-for-graph scan.
func New(cfg Config) *LockManager {
	if cfg.DetectInterval <= 0 {
		cfg.DetectInterval = 50 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &LockManager{
		tableQueues:    make(map[string]*queue),
		rowQueues:      make(map[txn.RowKey]*queue),
		txns:           make(map[txn.ID]*txn.Transaction),
		log:            log.With(zap.String("component", "lock_manager")),
		detectInterval: cfg.DetectInterval,
	}
}

// Register makes t visible to the deadlock detector and to table-lock
// precondition checks. Callers must register a transaction before
// issuing lock requests on its behalf.
func (lm *LockManager) Register(t *txn.Transaction) {
	lm.txnLatch.Lock()
	defer lm.txnLatch.Unlock()
	lm.txns[t.ID()] = t
}

// Forget removes a completed transaction from the registry.
func (lm *LockManager) Forget(id txn.ID) {
	lm.txnLatch.Lock()
	defer lm.txnLatch.Unlock()
	delete(lm.txns, id)
}

func (lm *LockManager) tableQueue(table string) *queue {
	lm.mapLatch.Lock()
	defer lm.mapLatch.Unlock()
	q, ok := lm.tableQueues[table]
	if !ok {
		q = newQueue()
		lm.tableQueues[table] = q
	}
	return q
}

func (lm *LockManager) rowQueue(key txn.RowKey) *queue {
	lm.mapLatch.Lock()
	defer lm.mapLatch.Unlock()
	q, ok := lm.rowQueues[key]
	if !ok {
		q = newQueue()
		lm.rowQueues[key] = q
	}
	return q
}

// checkModeLegal enforces the isolation-level acquisition rules before
// a request is even enqueued.
func checkModeLegal(t *txn.Transaction, mode txn.LockMode, isRow bool) *txn.AbortError {
	state := t.State()
	level := t.IsolationLevel()

	if state == txn.Shrinking {
		switch level {
		case txn.RepeatableRead:
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortLockOnShrinking}
		case txn.ReadCommitted:
			if mode != txn.IntentionShared && mode != txn.Shared {
				return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortLockOnShrinking}
			}
		case txn.ReadUncommitted:
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortLockOnShrinking}
		}
	}

	if level == txn.ReadUncommitted {
		if mode == txn.Shared || mode == txn.IntentionShared || mode == txn.SharedIntentionExclusive {
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortLockSharedOnReadUncommitted}
		}
	}

	if isRow && (mode == txn.IntentionShared || mode == txn.IntentionExclusive || mode == txn.SharedIntentionExclusive) {
		return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortAttemptedIntentionLockOnRow}
	}
	return nil
}

// LockTable acquires mode on table for t, blocking (respecting ctx)
// until granted, or returning a *txn.AbortError if the request is
// illegal or the caller is chosen as a deadlock victim.
func (lm *LockManager) LockTable(ctx context.Context, t *txn.Transaction, mode txn.LockMode, table string) error {
	if err := checkModeLegal(t, mode, false); err != nil {
		t.SetState(txn.Aborted)
		return err
	}

	q := lm.tableQueue(table)
	q.mu.Lock()

	if held, ok := t.TableLockMode(table); ok {
		switch upgradeLegal(held, mode) {
		case 0:
			q.mu.Unlock()
			return nil
		case -1:
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortIncompatibleUpgrade}
		}
		if q.hasUpgrading {
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortUpgradeConflict}
		}
		q.remove(t.ID())
		q.hasUpgrading = true
		q.upgrading = t.ID()
		q.requests = append([]*request{{txnID: t.ID(), mode: mode}}, q.requests...)
	} else {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
	}

	for {
		lm.tryGrantLocked(q)
		r := q.find(t.ID())
		if r != nil && r.granted {
			if q.hasUpgrading && q.upgrading == t.ID() {
				q.hasUpgrading = false
			}
			q.mu.Unlock()
			t.SetTableLock(table, mode)
			return nil
		}
		if waitErr := lm.wait(ctx, q, t); waitErr != nil {
			q.remove(t.ID())
			if q.hasUpgrading && q.upgrading == t.ID() {
				q.hasUpgrading = false
			}
			q.cond.Broadcast()
			q.mu.Unlock()
			return waitErr
		}
	}
}

// wait blocks on q.cond until woken, returning the transaction's own
// abort error if it has meanwhile been marked ABORTED by the deadlock
// detector, or ctx.Err() if the context was canceled.
func (lm *LockManager) wait(ctx context.Context, q *queue, t *txn.Transaction) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	q.cond.Wait()
	close(done)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if t.State() == txn.Aborted {
		return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortDeadlock}
	}
	return nil
}

func (lm *LockManager) tryGrantLocked(q *queue) {
	lm.txnLatch.Lock()
	active := make(map[txn.ID]bool, len(lm.txns))
	for id, tx := range lm.txns {
		active[id] = tx.State() != txn.Aborted
	}
	lm.txnLatch.Unlock()
	q.tryGrant(active)
}

// UnlockTable releases t's table lock. Fails with
// TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS if t still holds row locks on
// table.
func (lm *LockManager) UnlockTable(t *txn.Transaction, table string) error {
	if t.RowsHeldUnderTable(table) {
		t.SetState(txn.Aborted)
		return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortTableUnlockedBeforeUnlockingRows}
	}

	mode, ok := t.TableLockMode(table)
	if !ok {
		t.SetState(txn.Aborted)
		return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortAttemptedUnlockButNoLockHeld}
	}

	q := lm.tableQueue(table)
	q.mu.Lock()
	q.remove(t.ID())
	q.cond.Broadcast()
	q.mu.Unlock()
	t.ClearTableLock(table)

	transitionOnUnlock(t, mode)
	return nil
}

// transitionOnUnlock moves t into SHRINKING when the isolation level's
// rules call for it on this particular unlock.
func transitionOnUnlock(t *txn.Transaction, mode txn.LockMode) {
	if t.State() != txn.Growing {
		return
	}
	switch t.IsolationLevel() {
	case txn.RepeatableRead:
		t.SetState(txn.Shrinking)
	case txn.ReadCommitted:
		if mode == txn.Exclusive || mode == txn.IntentionExclusive || mode == txn.SharedIntentionExclusive {
			t.SetState(txn.Shrinking)
		}
	case txn.ReadUncommitted:
		t.SetState(txn.Shrinking)
	}
}

// LockRow acquires mode on (table, rid) for t. Row S requires the
// transaction already hold IS/IX/S/SIX/X on table; row X requires
// IX/X/SIX.
func (lm *LockManager) LockRow(ctx context.Context, t *txn.Transaction, mode txn.LockMode, table string, rid uint64) error {
	if err := checkModeLegal(t, mode, true); err != nil {
		t.SetState(txn.Aborted)
		return err
	}

	tableMode, hasTable := t.TableLockMode(table)
	if !hasTable || !tableLockSatisfies(tableMode, mode) {
		t.SetState(txn.Aborted)
		return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortTableLockNotPresent}
	}

	key := txn.RowKey{Table: table, RID: rid}
	q := lm.rowQueue(key)
	q.mu.Lock()

	if held, ok := t.RowLockMode(key); ok {
		switch upgradeLegal(held, mode) {
		case 0:
			q.mu.Unlock()
			return nil
		case -1:
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortIncompatibleUpgrade}
		}
		if q.hasUpgrading {
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortUpgradeConflict}
		}
		q.remove(t.ID())
		q.hasUpgrading = true
		q.upgrading = t.ID()
		q.requests = append([]*request{{txnID: t.ID(), mode: mode}}, q.requests...)
	} else {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
	}

	for {
		lm.tryGrantLocked(q)
		r := q.find(t.ID())
		if r != nil && r.granted {
			if q.hasUpgrading && q.upgrading == t.ID() {
				q.hasUpgrading = false
			}
			q.mu.Unlock()
			t.SetRowLock(key, mode)
			return nil
		}
		if waitErr := lm.wait(ctx, q, t); waitErr != nil {
			q.remove(t.ID())
			if q.hasUpgrading && q.upgrading == t.ID() {
				q.hasUpgrading = false
			}
			q.cond.Broadcast()
			q.mu.Unlock()
			return waitErr
		}
	}
}

func tableLockSatisfies(held, requestedRow txn.LockMode) bool {
	if requestedRow == txn.Shared {
		switch held {
		case txn.IntentionShared, txn.IntentionExclusive, txn.Shared, txn.SharedIntentionExclusive, txn.Exclusive:
			return true
		}
		return false
	}
	switch held {
	case txn.IntentionExclusive, txn.Exclusive, txn.SharedIntentionExclusive:
		return true
	}
	return false
}

// UnlockRow releases t's lock on (table, rid).
func (lm *LockManager) UnlockRow(t *txn.Transaction, table string, rid uint64) error {
	key := txn.RowKey{Table: table, RID: rid}
	mode, ok := t.RowLockMode(key)
	if !ok {
		t.SetState(txn.Aborted)
		return &txn.AbortError{TxnID: t.ID(), Reason: txn.AbortAttemptedUnlockButNoLockHeld}
	}

	q := lm.rowQueue(key)
	q.mu.Lock()
	q.remove(t.ID())
	q.cond.Broadcast()
	q.mu.Unlock()
	t.ClearRowLock(key)
	transitionOnUnlock(t, mode)
	return nil
}

// StartDeadlockDetector launches the periodic wait-for-graph scan in a
// background goroutine. Call Stop to terminate it.
func (lm *LockManager) StartDeadlockDetector() {
	lm.stopCh = make(chan struct{})
	lm.stopped.Add(1)
	go func() {
		defer lm.stopped.Done()
		ticker := time.NewTicker(lm.detectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-lm.stopCh:
				return
			case <-ticker.C:
				lm.runCycleDetection()
			}
		}
	}()
}

// Stop halts the background deadlock detector, if running.
func (lm *LockManager) Stop() {
	if lm.stopCh == nil {
		return
	}
	close(lm.stopCh)
	lm.stopped.Wait()
}

// runCycleDetection snapshots every resource's wait-for edges, runs a
// deterministic DFS over the resulting graph, and aborts the youngest
// transaction in the first cycle found, repeating until the graph is
// acyclic. The snapshot acquires every queue latch to build the graph
// and releases them all before running DFS.
func (lm *LockManager) runCycleDetection() {
	for {
		graph := lm.buildWaitForGraph()
		victim, found := detectCycle(graph)
		if !found {
			return
		}
		lm.txnLatch.Lock()
		t, ok := lm.txns[victim]
		lm.txnLatch.Unlock()
		if !ok {
			continue
		}
		t.SetState(txn.Aborted)
		lm.log.Warn("deadlock detected, aborting victim", zap.Uint64("txn_id", uint64(victim)))
		lm.broadcastAll()
	}
}

func (lm *LockManager) broadcastAll() {
	lm.mapLatch.Lock()
	queues := make([]*queue, 0, len(lm.tableQueues)+len(lm.rowQueues))
	for _, q := range lm.tableQueues {
		queues = append(queues, q)
	}
	for _, q := range lm.rowQueues {
		queues = append(queues, q)
	}
	lm.mapLatch.Unlock()
	for _, q := range queues {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// buildWaitForGraph takes a snapshot of every resource's queue (holding
// each queue's latch only long enough to copy it out) and derives edges
// waiter -> holder for every blocked request.
func (lm *LockManager) buildWaitForGraph() map[txn.ID][]txn.ID {
	lm.mapLatch.Lock()
	queues := make([]*queue, 0, len(lm.tableQueues)+len(lm.rowQueues))
	for _, q := range lm.tableQueues {
		queues = append(queues, q)
	}
	for _, q := range lm.rowQueues {
		queues = append(queues, q)
	}
	lm.mapLatch.Unlock()

	graph := make(map[txn.ID][]txn.ID)
	for _, q := range queues {
		q.mu.Lock()
		var granted []txn.ID
		var waiting []txn.ID
		for _, r := range q.requests {
			if r.granted {
				granted = append(granted, r.txnID)
			} else {
				waiting = append(waiting, r.txnID)
			}
		}
		q.mu.Unlock()
		for _, w := range waiting {
			graph[w] = append(graph[w], granted...)
		}
	}
	return graph
}

// detectCycle runs DFS over graph in deterministic sorted order,
// returning the youngest transaction id (largest ID) on the first
// cycle's path.
func detectCycle(graph map[txn.ID][]txn.ID) (txn.ID, bool) {
	nodes := make([]txn.ID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[txn.ID]int)
	var path []txn.ID

	var dfs func(n txn.ID) (txn.ID, bool)
	dfs = func(n txn.ID) (txn.ID, bool) {
		color[n] = gray
		path = append(path, n)

		neighbors := append([]txn.ID(nil), graph[n]...)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, m := range neighbors {
			switch color[m] {
			case gray:
				start := 0
				for i, p := range path {
					if p == m {
						start = i
						break
					}
				}
				youngest := path[start]
				for _, p := range path[start:] {
					if p > youngest {
						youngest = p
					}
				}
				return youngest, true
			case white:
				if v, ok := dfs(m); ok {
					return v, true
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return 0, false
	}

	for _, n := range nodes {
		if color[n] == white {
			if v, ok := dfs(n); ok {
				return v, true
			}
		}
	}
	return 0, false
}
