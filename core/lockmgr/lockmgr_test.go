package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmehta/stratadb/core/txn"
)

func TestCompatibilityMatrix(t *testing.T) {
	require.True(t, compatible(txn.IntentionShared, txn.IntentionShared))
	require.True(t, compatible(txn.IntentionShared, txn.Shared))
	require.False(t, compatible(txn.IntentionShared, txn.Exclusive))
	require.True(t, compatible(txn.IntentionExclusive, txn.IntentionExclusive))
	require.False(t, compatible(txn.IntentionExclusive, txn.Shared))
	require.False(t, compatible(txn.Shared, txn.Exclusive))
	require.False(t, compatible(txn.Exclusive, txn.IntentionShared))
}

func TestUpgradeLegal(t *testing.T) {
	require.Equal(t, 0, upgradeLegal(txn.Shared, txn.Shared))
	require.Equal(t, 1, upgradeLegal(txn.IntentionShared, txn.SharedIntentionExclusive))
	require.Equal(t, 1, upgradeLegal(txn.Shared, txn.Exclusive))
	require.Equal(t, -1, upgradeLegal(txn.Shared, txn.IntentionExclusive))
	require.Equal(t, -1, upgradeLegal(txn.Exclusive, txn.Shared))
}

func newTestManager(t *testing.T) *LockManager {
	t.Helper()
	lm := New(Config{DetectInterval: 10 * time.Millisecond, Logger: zap.NewNop()})
	t.Cleanup(lm.Stop)
	return lm
}

func TestLockTable_SharedLocksAreCompatible(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	t2 := txn.New(2, txn.RepeatableRead)
	lm.Register(t1)
	lm.Register(t2)

	require.NoError(t, lm.LockTable(context.Background(), t1, txn.Shared, "accounts"))
	require.NoError(t, lm.LockTable(context.Background(), t2, txn.Shared, "accounts"))
}

func TestLockTable_UpgradeAtHeadOfQueue(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)

	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionShared, "accounts"))
	require.NoError(t, lm.LockTable(context.Background(), t1, txn.SharedIntentionExclusive, "accounts"))

	mode, ok := t1.TableLockMode("accounts")
	require.True(t, ok)
	require.Equal(t, txn.SharedIntentionExclusive, mode)
}

func TestLockTable_IncompatibleUpgradeAborts(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)

	require.NoError(t, lm.LockTable(context.Background(), t1, txn.Shared, "accounts"))
	err := lm.LockTable(context.Background(), t1, txn.IntentionExclusive, "accounts")
	require.Error(t, err)

	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortIncompatibleUpgrade, abortErr.Reason)
	require.Equal(t, txn.Aborted, t1.State())
}

func TestLockTable_OnShrinkingUnderRepeatableReadAborts(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)
	t1.SetState(txn.Shrinking)

	err := lm.LockTable(context.Background(), t1, txn.Shared, "accounts")
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortLockOnShrinking, abortErr.Reason)
}

func TestLockTable_ReadUncommittedRejectsSharedModes(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.ReadUncommitted)
	lm.Register(t1)

	err := lm.LockTable(context.Background(), t1, txn.Shared, "accounts")
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortLockSharedOnReadUncommitted, abortErr.Reason)
}

func TestLockRow_RequiresTableLockFirst(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)

	err := lm.LockRow(context.Background(), t1, txn.Shared, "accounts", 1)
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortTableLockNotPresent, abortErr.Reason)
}

func TestLockRow_RejectsIntentionModes(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)
	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionExclusive, "accounts"))

	err := lm.LockRow(context.Background(), t1, txn.IntentionExclusive, "accounts", 1)
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortAttemptedIntentionLockOnRow, abortErr.Reason)
}

func TestLockRow_SucceedsAfterTableLock(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)
	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionExclusive, "accounts"))
	require.NoError(t, lm.LockRow(context.Background(), t1, txn.Exclusive, "accounts", 1))

	mode, ok := t1.RowLockMode(txn.RowKey{Table: "accounts", RID: 1})
	require.True(t, ok)
	require.Equal(t, txn.Exclusive, mode)
}

func TestUnlockTable_FailsWhileRowsHeld(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)
	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionExclusive, "accounts"))
	require.NoError(t, lm.LockRow(context.Background(), t1, txn.Exclusive, "accounts", 1))

	err := lm.UnlockTable(t1, "accounts")
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortTableUnlockedBeforeUnlockingRows, abortErr.Reason)
}

func TestUnlockTable_WithoutLockHeldAborts(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)

	err := lm.UnlockTable(t1, "accounts")
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortAttemptedUnlockButNoLockHeld, abortErr.Reason)
	require.Equal(t, txn.Aborted, t1.State())
}

func TestUnlockRow_WithoutLockHeldAborts(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)
	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionExclusive, "accounts"))

	err := lm.UnlockRow(t1, "accounts", 1)
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortAttemptedUnlockButNoLockHeld, abortErr.Reason)
}

// TestLockTable_UpgradeConflictAbortsSecondUpgrader simulates another
// transaction's upgrade already being in flight on the same queue by
// setting the queue's upgrader bookkeeping directly, then checks that a
// second transaction's own legal upgrade attempt on that queue is
// rejected as a conflict distinct from an illegal lattice transition.
func TestLockTable_UpgradeConflictAbortsSecondUpgrader(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	t2 := txn.New(2, txn.RepeatableRead)
	lm.Register(t1)
	lm.Register(t2)

	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionShared, "accounts"))
	require.NoError(t, lm.LockTable(context.Background(), t2, txn.IntentionShared, "accounts"))

	q := lm.tableQueue("accounts")
	q.mu.Lock()
	q.hasUpgrading = true
	q.upgrading = t1.ID()
	q.mu.Unlock()

	err := lm.LockTable(context.Background(), t2, txn.SharedIntentionExclusive, "accounts")
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortUpgradeConflict, abortErr.Reason)
}

// TestLockRow_UpgradeConflictAbortsSecondUpgrader is the row-lock
// mirror of the table-lock case above.
func TestLockRow_UpgradeConflictAbortsSecondUpgrader(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	t2 := txn.New(2, txn.RepeatableRead)
	lm.Register(t1)
	lm.Register(t2)

	require.NoError(t, lm.LockTable(context.Background(), t1, txn.IntentionExclusive, "accounts"))
	require.NoError(t, lm.LockTable(context.Background(), t2, txn.IntentionExclusive, "accounts"))
	require.NoError(t, lm.LockRow(context.Background(), t1, txn.Shared, "accounts", 1))
	require.NoError(t, lm.LockRow(context.Background(), t2, txn.Shared, "accounts", 1))

	key := txn.RowKey{Table: "accounts", RID: 1}
	q := lm.rowQueue(key)
	q.mu.Lock()
	q.hasUpgrading = true
	q.upgrading = t1.ID()
	q.mu.Unlock()

	err := lm.LockRow(context.Background(), t2, txn.Exclusive, "accounts", 1)
	require.Error(t, err)
	abortErr, ok := err.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortUpgradeConflict, abortErr.Reason)
}

func TestUnlockTable_TransitionsToShrinkingUnderRepeatableRead(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	lm.Register(t1)
	require.NoError(t, lm.LockTable(context.Background(), t1, txn.Shared, "accounts"))
	require.NoError(t, lm.UnlockTable(t1, "accounts"))
	require.Equal(t, txn.Shrinking, t1.State())
}

// TestDeadlockDetection_AbortsYoungest reproduces a minimal two-waiter
// cycle: t1 holds X on "accounts" and waits for X on "orders", t2 holds
// X on "orders" and waits for X on "accounts". The younger transaction
// (t2) must be the one aborted.
func TestDeadlockDetection_AbortsYoungest(t *testing.T) {
	lm := newTestManager(t)
	t1 := txn.New(1, txn.RepeatableRead)
	t2 := txn.New(2, txn.RepeatableRead)
	lm.Register(t1)
	lm.Register(t2)

	require.NoError(t, lm.LockTable(context.Background(), t1, txn.Exclusive, "accounts"))
	require.NoError(t, lm.LockTable(context.Background(), t2, txn.Exclusive, "orders"))

	errCh1 := make(chan error, 1)
	errCh2 := make(chan error, 1)
	go func() { errCh1 <- lm.LockTable(context.Background(), t1, txn.Exclusive, "orders") }()
	go func() { errCh2 <- lm.LockTable(context.Background(), t2, txn.Exclusive, "accounts") }()

	lm.StartDeadlockDetector()

	var err1, err2 error
	for i := 0; i < 2; i++ {
		select {
		case err1 = <-errCh1:
		case err2 = <-errCh2:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deadlock detector to break the cycle")
		}
	}

	// The youngest transaction in the cycle (t2) is the victim; t1
	// proceeds and is granted its lock.
	require.NoError(t, err1)
	require.Error(t, err2)
	abortErr, ok := err2.(*txn.AbortError)
	require.True(t, ok)
	require.Equal(t, txn.AbortDeadlock, abortErr.Reason)
	require.Equal(t, txn.ID(2), abortErr.TxnID)
}
