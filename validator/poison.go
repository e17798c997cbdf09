package validator

import (
	"sync"
	"time"

	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// PoisonedTransaction is a verified transaction moved to the poison queue
// after exhausting max_retries at commit (spec §4.7, §7: "moved to a
// poison queue with full context for operator inspection").
type PoisonedTransaction struct {
	Transaction register.VerifiedTransaction
	Attempts    int
	LastError   string
	PoisonedAt  time.Time
}

// poisonQueue is a bounded ring buffer of poisoned transactions
// (SPEC_FULL.md Section D: "modelled as a bounded ring buffer +
// accessor, the way the teacher's txpool exposes pending/queued
// introspection").
type poisonQueue struct {
	mu       sync.Mutex
	capacity int
	items    []PoisonedTransaction
}

func newPoisonQueue(capacity int) *poisonQueue {
	return &poisonQueue{capacity: capacity}
}

func (q *poisonQueue) add(p PoisonedTransaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	if len(q.items) > q.capacity {
		q.items = q.items[len(q.items)-q.capacity:]
	}
}

func (q *poisonQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of every currently poisoned transaction, for
// operator inspection.
func (q *poisonQueue) Snapshot() []PoisonedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PoisonedTransaction, len(q.items))
	copy(out, q.items)
	return out
}

// retryAttempt is a verified transaction awaiting its next commit retry
// (spec §4.7: "requeued with incremented attempt count").
type retryAttempt struct {
	tx       register.VerifiedTransaction
	attempts int
	lastErr  string
}

// PoisonSnapshot exposes the poison queue for operator inspection
// (SPEC_FULL.md Section D item 3).
func (p *Pipeline) PoisonSnapshot() []PoisonedTransaction {
	return p.poison.Snapshot()
}

// PoisonDepth reports the current poison queue length, for metrics.
func (p *Pipeline) PoisonDepth(_ thor.RegisterID) int {
	return p.poison.len()
}
