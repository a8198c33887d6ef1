package lockmgr

import "github.com/rmehta/stratadb/core/txn"

// compatible reports whether requested may be granted alongside held,
// per the table-lock compatibility matrix.
var compatibilityMatrix = map[txn.LockMode]map[txn.LockMode]bool{
	txn.IntentionShared: {
		txn.IntentionShared: true, txn.IntentionExclusive: true,
		txn.Shared: true, txn.SharedIntentionExclusive: true, txn.Exclusive: false,
	},
	txn.IntentionExclusive: {
		txn.IntentionShared: true, txn.IntentionExclusive: true,
		txn.Shared: false, txn.SharedIntentionExclusive: false, txn.Exclusive: false,
	},
	txn.Shared: {
		txn.IntentionShared: true, txn.IntentionExclusive: false,
		txn.Shared: true, txn.SharedIntentionExclusive: false, txn.Exclusive: false,
	},
	txn.SharedIntentionExclusive: {
		txn.IntentionShared: true, txn.IntentionExclusive: false,
		txn.Shared: false, txn.SharedIntentionExclusive: false, txn.Exclusive: false,
	},
	txn.Exclusive: {
		txn.IntentionShared: false, txn.IntentionExclusive: false,
		txn.Shared: false, txn.SharedIntentionExclusive: false, txn.Exclusive: false,
	},
}

func compatible(held, requested txn.LockMode) bool {
	return compatibilityMatrix[held][requested]
}

// upgradeLattice lists, for each currently held mode, the modes it may
// legally be upgraded to.
var upgradeLattice = map[txn.LockMode]map[txn.LockMode]bool{
	txn.IntentionShared: {
		txn.Shared: true, txn.Exclusive: true, txn.IntentionExclusive: true, txn.SharedIntentionExclusive: true,
	},
	txn.Shared:                   {txn.Exclusive: true, txn.SharedIntentionExclusive: true},
	txn.IntentionExclusive:       {txn.Exclusive: true, txn.SharedIntentionExclusive: true},
	txn.SharedIntentionExclusive: {txn.Exclusive: true},
	txn.Exclusive:                {},
}

// upgradeLegal reports whether requesting `to` while already holding
// `from` is permitted, or is simply a no-op re-grant of the same mode.
// (0: already held / no-op, 1: legal upgrade, -1: illegal)
func upgradeLegal(from, to txn.LockMode) int {
	if from == to {
		return 0
	}
	if upgradeLattice[from][to] {
		return 1
	}
	return -1
}
