package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

func alwaysApprove(peerID string, docket *register.Docket) (register.Approval, error) {
	return register.Approval{ValidatorWallet: thor.Address{byte(len(peerID))}}, nil
}

func TestCollectApprovalsReachesStrictMajority(t *testing.T) {
	peers := []string{"p1", "p2", "p3"}
	engine := NewConsensusEngine(
		func(thor.RegisterID) []string { return peers },
		func(ctx context.Context, peerID string, docket *register.Docket) (register.Approval, error) {
			return alwaysApprove(peerID, docket)
		},
		time.Second, false, nil,
	)

	approvals, err := engine.CollectApprovals(context.Background(), thor.RegisterID{1}, &register.Docket{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(approvals), 2) // floor(3/2)+1 == 2
}

func TestCollectApprovalsFailsBelowThreshold(t *testing.T) {
	peers := []string{"p1", "p2", "p3"}
	engine := NewConsensusEngine(
		func(thor.RegisterID) []string { return peers },
		func(ctx context.Context, peerID string, docket *register.Docket) (register.Approval, error) {
			if peerID == "p1" {
				return alwaysApprove(peerID, docket)
			}
			return register.Approval{}, context.DeadlineExceeded
		},
		50*time.Millisecond, false, nil,
	)

	_, err := engine.CollectApprovals(context.Background(), thor.RegisterID{1}, &register.Docket{})
	require.ErrorIs(t, err, ErrNoApprovalQuorum)
}

func TestCollectApprovalsAutoApprovesEmptyRosterWhenEnabled(t *testing.T) {
	called := false
	engine := NewConsensusEngine(
		func(thor.RegisterID) []string { return nil },
		func(ctx context.Context, peerID string, docket *register.Docket) (register.Approval, error) {
			t.Fatal("request should never be called for an empty roster")
			return register.Approval{}, nil
		},
		time.Second, true, func() { called = true },
	)

	approvals, err := engine.CollectApprovals(context.Background(), thor.RegisterID{1}, &register.Docket{})
	require.NoError(t, err)
	require.Nil(t, approvals)
	require.True(t, called)
}

func TestCollectApprovalsRejectsEmptyRosterWhenDisabled(t *testing.T) {
	engine := NewConsensusEngine(
		func(thor.RegisterID) []string { return nil },
		func(ctx context.Context, peerID string, docket *register.Docket) (register.Approval, error) {
			t.Fatal("request should never be called for an empty roster")
			return register.Approval{}, nil
		},
		time.Second, false, nil,
	)

	_, err := engine.CollectApprovals(context.Background(), thor.RegisterID{1}, &register.Docket{})
	require.ErrorIs(t, err, ErrNoApprovalQuorum)
}
