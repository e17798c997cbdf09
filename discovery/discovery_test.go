package discovery_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sorchaledger/sorcha/discovery"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/peerstore"
	"github.com/stretchr/testify/require"
)

// wiredPair connects two Pools back to back over an in-memory net.Pipe so
// envelopes sent by one arrive on the other, mirroring p2p's own
// pipe-backed tests (package p2p, pool_test.go).
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
	a = p2p.NewPool(opts(dialA))
	b = p2p.NewPool(opts(dialB))
	return a, b
}

func TestBootstrapSeedsRegistersPeer(t *testing.T) {
	pool, _ := wiredPair(t)
	store := peerstore.NewStore(10, time.Hour, nil)
	d := discovery.New(store, pool, discovery.JSONCodec{}, []p2p.PeerAddr{{PeerID: "seed-1", Addr: "ignored"}}, "self", time.Minute)

	d.BootstrapSeeds(context.Background())

	p := store.Get("seed-1")
	require.NotNil(t, p)
	require.True(t, p.IsSeed)
}

func TestPeerExchangeMergesRemoteDigest(t *testing.T) {
	poolA, poolB := wiredPair(t)
	storeA := peerstore.NewStore(10, time.Hour, nil)
	storeB := peerstore.NewStore(10, time.Hour, nil)

	discovery.New(storeA, poolA, discovery.JSONCodec{}, nil, "node-a", time.Minute)
	discovery.New(storeB, poolB, discovery.JSONCodec{}, nil, "node-b", time.Minute)

	storeB.AddOrUpdate(peerstore.Peer{PeerID: "node-c", Address: "10.0.0.3:9000", LastSeen: time.Now().UTC()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolA.Connect(ctx, p2p.PeerAddr{PeerID: "node-b", Addr: "ignored"})
	poolB.Connect(ctx, p2p.PeerAddr{PeerID: "node-a", Addr: "ignored"})

	require.Eventually(t, func() bool {
		return poolA.Status("node-b") == p2p.StatusConnected && poolB.Status("node-a") == p2p.StatusConnected
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, poolA.Send(ctx, "node-b", &p2p.Envelope{Kind: p2p.KindPeerExchangeRequest, Payload: mustEncodeEmptyDigest(t)}))

	require.Eventually(t, func() bool {
		return storeA.Get("node-c") != nil
	}, time.Second, 10*time.Millisecond)
}

func mustEncodeEmptyDigest(t *testing.T) []byte {
	t.Helper()
	b, err := discovery.JSONCodec{}.EncodeDigest(discovery.PeerDigest{})
	require.NoError(t, err)
	return b
}
