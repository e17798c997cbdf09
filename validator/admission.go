package validator

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// ErrDuplicateTx rejects a resubmission of a tx_id already in the
// unverified pool (spec §4.7 step 1: "Deduplicate by tx_id").
var ErrDuplicateTx = errors.New("validator: duplicate tx_id in unverified pool")

// ErrPoolFull rejects admission once a register's unverified pool exceeds
// its soft cap (spec §4.7 step 1, §6 unverified_pool_soft_cap).
var ErrPoolFull = errors.New("validator: unverified pool soft cap exceeded")

// unverifiedPool is the per-register admission set (spec §4.7 step 1).
type unverifiedPool struct {
	mu      sync.Mutex
	softCap int
	byReg   map[thor.RegisterID]map[thor.Bytes32]*register.Transaction
}

func newUnverifiedPool(softCap int) *unverifiedPool {
	return &unverifiedPool{softCap: softCap, byReg: make(map[thor.RegisterID]map[thor.Bytes32]*register.Transaction)}
}

// admit adds tx to the unverified pool for its register, rejecting
// duplicates and pool-at-capacity submissions.
func (p *unverifiedPool) admit(tx *register.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.byReg[tx.RegisterID]
	if !ok {
		set = make(map[thor.Bytes32]*register.Transaction)
		p.byReg[tx.RegisterID] = set
	}
	if _, dup := set[tx.TxID]; dup {
		return ErrDuplicateTx
	}
	if len(set) >= p.softCap {
		return ErrPoolFull
	}
	set[tx.TxID] = tx
	return nil
}

// remove drops tx_id from the unverified pool, called once a submission
// reaches a terminal or Verified outcome.
func (p *unverifiedPool) remove(registerID thor.RegisterID, txID thor.Bytes32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.byReg[registerID]; ok {
		delete(set, txID)
	}
}

// depth reports the current unverified pool size for a register, for
// metrics.
func (p *unverifiedPool) depth(registerID thor.RegisterID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byReg[registerID])
}
