package lockmgr

import (
	"sync"

	"github.com/rmehta/stratadb/core/txn"
)

// request is one entry in a resource's FIFO lock queue.
type request struct {
	txnID   txn.ID
	mode    txn.LockMode
	granted bool
}

// queue is the FIFO lock-request queue for one resource (a table name or
// a row key), grounded on BusTub's LockRequestQueue.
type queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	requests     []*request
	upgrading    txn.ID
	hasUpgrading bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// tryGrant collects the modes of every already-granted request, wherever
// it sits in the queue, then scans the queue in FIFO order, granting every
// waiting request compatible with that cumulative set and stopping at the
// first incompatible one.
func (q *queue) tryGrant(activeTxns map[txn.ID]bool) {
	var grantedModes []txn.LockMode
	for _, r := range q.requests {
		if !activeTxns[r.txnID] {
			// Aborted transactions in the granted set are treated as absent.
			r.granted = false
			continue
		}
		if r.granted {
			grantedModes = append(grantedModes, r.mode)
		}
	}
	for _, r := range q.requests {
		if r.granted || !activeTxns[r.txnID] {
			continue
		}
		ok := true
		for _, g := range grantedModes {
			if !compatible(g, r.mode) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		r.granted = true
		grantedModes = append(grantedModes, r.mode)
	}
}

func (q *queue) find(id txn.ID) *request {
	for _, r := range q.requests {
		if r.txnID == id {
			return r
		}
	}
	return nil
}

func (q *queue) remove(id txn.ID) {
	for i, r := range q.requests {
		if r.txnID == id {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}
