package validator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// ErrNoApprovalQuorum is returned when a consensus round's collected
// approvals never reach threshold before its deadline.
var ErrNoApprovalQuorum = errors.New("validator: consensus round did not reach quorum")

// ApprovalRequester asks one peer to sign a candidate docket's header and
// returns its Approval.
type ApprovalRequester func(ctx context.Context, peerID string, docket *register.Docket) (register.Approval, error)

// ConsensusEngine is the Consensus Engine (spec §4.7): strict-majority
// vote among a register's FullyReplicated peers, with an auto-approve
// escape hatch for empty validator sets.
type ConsensusEngine struct {
	peersFor      func(registerID thor.RegisterID) []string
	request       ApprovalRequester
	roundTimeout  time.Duration
	autoApprove   bool
	onAutoApprove func()
}

// NewConsensusEngine creates a ConsensusEngine. peersFor resolves the
// FullyReplicated roster for a register (typically
// peerstore.Store.FullReplicaPeers, mapped to peer ids); request performs
// the actual per-peer approval round trip (typically over the Connection
// Pool via KindApprovalRequest/KindApprovalResponse). onAutoApprove may be
// nil; it is invoked each time an empty roster is auto-approved, wired by
// callers to metrics.Registry.AutoApprovedDockets.Inc.
func NewConsensusEngine(peersFor func(thor.RegisterID) []string, request ApprovalRequester, roundTimeout time.Duration, autoApprove bool, onAutoApprove func()) *ConsensusEngine {
	return &ConsensusEngine{
		peersFor:      peersFor,
		request:       request,
		roundTimeout:  roundTimeout,
		autoApprove:   autoApprove,
		onAutoApprove: onAutoApprove,
	}
}

// CollectApprovals runs one consensus round for docket, returning the
// approval set once strict majority of the FullyReplicated roster is
// reached (spec §4.7, §8 property 6).
func (e *ConsensusEngine) CollectApprovals(ctx context.Context, registerID thor.RegisterID, docket *register.Docket) ([]register.Approval, error) {
	peers := e.peersFor(registerID)

	if len(peers) == 0 {
		if e.autoApprove {
			logger.Warn("consensus.auto_approve", "register_id", registerID.String(), "docket_version", docket.DocketVersion)
			if e.onAutoApprove != nil {
				e.onAutoApprove()
			}
			return nil, nil
		}
		return nil, errors.Wrap(ErrNoApprovalQuorum, "no FullyReplicated validators for register")
	}

	threshold := len(peers)/2 + 1

	roundCtx, cancel := context.WithTimeout(ctx, e.roundTimeout)
	defer cancel()

	type result struct {
		approval register.Approval
		err      error
	}
	results := make(chan result, len(peers))
	for _, peerID := range peers {
		go func(peerID string) {
			a, err := e.request(roundCtx, peerID, docket)
			results <- result{approval: a, err: err}
		}(peerID)
	}

	var mu sync.Mutex
	var approvals []register.Approval
	received := 0
	for received < len(peers) {
		select {
		case r := <-results:
			received++
			if r.err == nil {
				mu.Lock()
				approvals = append(approvals, r.approval)
				mu.Unlock()
				if len(approvals) >= threshold {
					return approvals, nil
				}
			}
		case <-roundCtx.Done():
			return nil, errors.Wrapf(ErrNoApprovalQuorum, "timed out with %d/%d approvals, need %d", len(approvals), len(peers), threshold)
		}
	}
	return nil, errors.Wrapf(ErrNoApprovalQuorum, "got %d/%d approvals, need %d", len(approvals), len(peers), threshold)
}
