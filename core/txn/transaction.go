// Package txn holds the transaction handle the lock manager coordinates
// against: isolation level, phase, and the lock sets a transaction has
// been granted.
package txn

import (
	"sync"

	"github.com/google/uuid"
)

// IsolationLevel selects which lock-acquisition rules apply.
type IsolationLevel int

const (
	RepeatableRead IsolationLevel = iota
	ReadCommitted
	ReadUncommitted
)

func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE_READ"
	case ReadCommitted:
		return "READ_COMMITTED"
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	default:
		return "UNKNOWN"
	}
}

// State is a transaction's two-phase-locking phase.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// LockMode is a table or row lock mode.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
	IntentionShared
	IntentionExclusive
	SharedIntentionExclusive
)

func (m LockMode) String() string {
	switch m {
	case Shared:
		return "S"
	case Exclusive:
		return "X"
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case SharedIntentionExclusive:
		return "SIX"
	default:
		return "?"
	}
}

// ID uniquely names a transaction, monotonically increasing in creation
// order (used by the deadlock detector's youngest-victim rule).
type ID uint64

// AbortReason names why a transaction was forced to abort.
type AbortReason int

const (
	AbortLockOnShrinking AbortReason = iota
	AbortLockSharedOnReadUncommitted
	AbortIncompatibleUpgrade
	AbortTableLockNotPresent
	AbortAttemptedIntentionLockOnRow
	AbortTableUnlockedBeforeUnlockingRows
	AbortUpgradeConflict
	AbortAttemptedUnlockButNoLockHeld
	AbortDeadlock
)

func (r AbortReason) String() string {
	switch r {
	case AbortLockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case AbortLockSharedOnReadUncommitted:
		return "LOCK_SHARED_ON_READ_UNCOMMITTED"
	case AbortIncompatibleUpgrade:
		return "INCOMPATIBLE_UPGRADE"
	case AbortTableLockNotPresent:
		return "TABLE_LOCK_NOT_PRESENT"
	case AbortAttemptedIntentionLockOnRow:
		return "ATTEMPTED_INTENTION_LOCK_ON_ROW"
	case AbortTableUnlockedBeforeUnlockingRows:
		return "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"
	case AbortUpgradeConflict:
		return "UPGRADE_CONFLICT"
	case AbortAttemptedUnlockButNoLockHeld:
		return "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	case AbortDeadlock:
		return "DEADLOCK"
	default:
		return "UNKNOWN"
	}
}

// AbortError is raised when a transaction must be forced into the
// ABORTED state, carrying the exact reason for diagnostics and for the
// lock manager's own bookkeeping.
type AbortError struct {
	TxnID  ID
	Reason AbortReason
}

func (e *AbortError) Error() string {
	return "transaction " + itoa(uint64(e.TxnID)) + " aborted: " + e.Reason.String()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Transaction tracks one logical unit of work's lock sets and phase.
// Instance identity is a uuid to keep it distinguishable from the
// sequential ID used for deadlock victim ordering.
type Transaction struct {
	mu sync.Mutex

	id        ID
	instance  uuid.UUID
	isolation IsolationLevel
	state     State

	tableLocks map[string]LockMode
	rowLocks   map[RowKey]LockMode
}

// RowKey identifies a locked row within a table.
type RowKey struct {
	Table string
	RID   uint64
}

// New constructs a transaction with the given id and isolation level, in
// the GROWING phase.
func New(id ID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:         id,
		instance:   uuid.New(),
		isolation:  isolation,
		state:      Growing,
		tableLocks: make(map[string]LockMode),
		rowLocks:   make(map[RowKey]LockMode),
	}
}

func (t *Transaction) ID() ID                         { return t.id }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Transaction) TableLockMode(table string) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.tableLocks[table]
	return m, ok
}

func (t *Transaction) SetTableLock(table string, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableLocks[table] = mode
}

func (t *Transaction) ClearTableLock(table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableLocks, table)
}

func (t *Transaction) RowLockMode(key RowKey) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.rowLocks[key]
	return m, ok
}

func (t *Transaction) SetRowLock(key RowKey, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rowLocks[key] = mode
}

func (t *Transaction) ClearRowLock(key RowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rowLocks, key)
}

// RowsHeldUnderTable reports whether the transaction still holds any row
// lock scoped to table, used by UnlockTable's precondition (grounded on
// BusTub's lock_manager.cpp UnlockTable).
func (t *Transaction) RowsHeldUnderTable(table string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.rowLocks {
		if k.Table == table {
			return true
		}
	}
	return false
}
