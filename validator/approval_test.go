package validator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// wiredPair connects two Pools back to back over an in-memory net.Pipe,
// mirroring package discovery's own test helper of the same name.
func wiredPair(t *testing.T) (a, b *p2p.Pool) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	dialA := func(ctx context.Context, addr string) (net.Conn, error) { return clientConn, nil }
	dialB := func(ctx context.Context, addr string) (net.Conn, error) { return serverConn, nil }
	opts := func(d p2p.Dialer) p2p.Options {
		return p2p.Options{
			HeartbeatInterval:        time.Hour,
			MaxMissedHeartbeats:      1000,
			ConnectionTimeout:        time.Second,
			CircuitBreakerThreshold:  1000,
			CircuitBreakerResetAfter: time.Minute,
			Dial:                     d,
		}
	}
	return p2p.NewPool(opts(dialA)), p2p.NewPool(opts(dialB))
}

func TestApprovalTransportRoundTrip(t *testing.T) {
	poolA, poolB := wiredPair(t)

	validatorWallet := thor.Address{7}
	sign := func(ctx context.Context, message []byte) ([]byte, error) {
		return append([]byte("sig:"), message...), nil
	}
	NewApprovalTransport(poolB, validatorWallet, sign, nil)
	requester := NewApprovalTransport(poolA, thor.Address{1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolA.Connect(ctx, p2p.PeerAddr{PeerID: "b", Addr: "ignored"})
	poolB.Connect(ctx, p2p.PeerAddr{PeerID: "a", Addr: "ignored"})
	require.Eventually(t, func() bool {
		return poolA.Status("b") == p2p.StatusConnected && poolB.Status("a") == p2p.StatusConnected
	}, time.Second, 10*time.Millisecond)

	docket := &register.Docket{RegisterID: thor.RegisterID{1}, DocketVersion: 0, MerkleRoot: thor.MerkleRoot(nil)}
	reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
	defer reqCancel()

	approval, err := requester.Request(reqCtx, "b", docket)
	require.NoError(t, err)
	require.Equal(t, validatorWallet, approval.ValidatorWallet)
	require.Equal(t, append([]byte("sig:"), docket.HeaderBytes()...), approval.Signature)
}

func TestApprovalTransportDeclinesWhenLocalCheckFails(t *testing.T) {
	poolA, poolB := wiredPair(t)

	NewApprovalTransport(poolB, thor.Address{7}, func(ctx context.Context, message []byte) ([]byte, error) {
		return []byte("sig"), nil
	}, func(d *register.Docket) bool { return false })
	requester := NewApprovalTransport(poolA, thor.Address{1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poolA.Connect(ctx, p2p.PeerAddr{PeerID: "b", Addr: "ignored"})
	poolB.Connect(ctx, p2p.PeerAddr{PeerID: "a", Addr: "ignored"})
	require.Eventually(t, func() bool {
		return poolA.Status("b") == p2p.StatusConnected && poolB.Status("a") == p2p.StatusConnected
	}, time.Second, 10*time.Millisecond)

	reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
	defer reqCancel()
	_, err := requester.Request(reqCtx, "b", &register.Docket{})
	require.Error(t, err)
}
