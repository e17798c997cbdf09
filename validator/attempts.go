package validator

import (
	"sync"

	"github.com/sorchaledger/sorcha/thor"
)

// attemptKey identifies one transaction's retry count within its
// register's commit-retry tracker.
type attemptKey struct {
	registerID thor.RegisterID
	txID       thor.Bytes32
}

// attemptTracker counts commit retries per transaction, so requeue can
// tell when a transaction has exhausted max_retries and must move to the
// poison queue (spec §4.7).
type attemptTracker struct {
	mu     sync.Mutex
	counts map[attemptKey]int
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{counts: make(map[attemptKey]int)}
}

// increment records one more failed commit attempt and returns the new
// total.
func (a *attemptTracker) increment(registerID thor.RegisterID, txID thor.Bytes32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := attemptKey{registerID, txID}
	a.counts[k]++
	return a.counts[k]
}

// clear drops the retry count once a transaction is either committed or
// moved to the poison queue.
func (a *attemptTracker) clear(registerID thor.RegisterID, txID thor.Bytes32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, attemptKey{registerID, txID})
}
