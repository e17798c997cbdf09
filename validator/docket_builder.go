package validator

import (
	"context"
	"time"

	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// buildCandidate drains the verified queue for registerID into a
// candidate docket (spec §4.7 docket builder). It returns nil, nil when
// the tick should produce no docket in steady state (empty queue, height
// already past 0). The genesis special case — "the very first tick after
// register creation builds an empty genesis docket (version 0)
// unconditionally" — is enforced here directly: at height 0 the verified
// queue is never drained, even if transactions were verified before the
// first tick fired, so docket 0 is always empty regardless of timing.
func (p *Pipeline) buildCandidate(registerID thor.RegisterID, maxSize int) (*register.Docket, []register.VerifiedTransaction, error) {
	reg, err := p.store.Get(registerID)
	if err != nil {
		return nil, nil, err
	}

	var txs []register.VerifiedTransaction
	if reg.Height == 0 {
		// Genesis docket is unconditionally empty; anything already
		// verified stays queued for the next tick, once height is 1.
	} else {
		txs = p.drainVerified(registerID, maxSize)
		if len(txs) == 0 {
			return nil, nil, nil
		}
	}

	var prevDocketID thor.Bytes32
	if reg.Height > 0 {
		prev, err := p.store.GetDocketByVersion(registerID, reg.Height-1)
		if err != nil {
			return nil, nil, err
		}
		prevDocketID = prev.DocketID
	}

	txIDs := make([]thor.Bytes32, len(txs))
	for i, vt := range txs {
		txIDs[i] = vt.TxID
	}

	d := &register.Docket{
		RegisterID:       registerID,
		DocketVersion:    reg.Height,
		TxIDs:            txIDs,
		PreviousDocketID: prevDocketID,
		MerkleRoot:       thor.MerkleRoot(txIDs),
		BuiltAt:          time.Now().UTC(),
	}
	d.DocketID = d.ComputeDocketID()
	return d, txs, nil
}

// RunDocketBuilder ticks every DocketBuildInterval for registerID,
// building and driving a candidate docket through consensus and commit
// until ctx is cancelled (spec §4.7: "a ticker (default every 10s ...)
// drains the verified queue into a candidate docket").
func (p *Pipeline) RunDocketBuilder(ctx context.Context, registerID thor.RegisterID, engine *ConsensusEngine) {
	ticker := time.NewTicker(p.opts.DocketBuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tickDocketBuilder(ctx, registerID, engine)
		}
	}
}

func (p *Pipeline) tickDocketBuilder(ctx context.Context, registerID thor.RegisterID, engine *ConsensusEngine) {
	d, txs, err := p.buildCandidate(registerID, p.opts.MaxDocketSize)
	if err != nil {
		logger.Warn("validator: docket build failed", "register_id", registerID.String(), "err", err)
		return
	}
	if d == nil {
		return
	}

	start := time.Now()
	approvals, err := engine.CollectApprovals(ctx, registerID, d)
	if err != nil {
		logger.Warn("validator: consensus round failed, requeuing", "register_id", registerID.String(), "docket_version", d.DocketVersion, "err", err)
		p.requeue(registerID, txs, err)
		return
	}
	if p.metrics != nil {
		p.metrics.QuorumRoundDuration.Observe(time.Since(start).Seconds())
		p.metrics.DocketBuildDuration.Observe(time.Since(d.BuiltAt).Seconds())
	}
	d.ApprovalSet = approvals

	p.commit(registerID, d, txs)
}
